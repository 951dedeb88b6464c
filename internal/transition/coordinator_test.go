package transition

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/annel0/rift-server/internal/layout"
	"github.com/annel0/rift-server/internal/minimap"
	"github.com/annel0/rift-server/internal/vec"
	"github.com/annel0/rift-server/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mathrand "math/rand"
)

// fakeScreen записывает экранные команды координатора
type fakeScreen struct {
	mu       sync.Mutex
	starts   int
	loadings int
	ends     int
}

func (f *fakeScreen) TransitionStart(playerID, transitionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
}

func (f *fakeScreen) LoadingComplete(playerID, transitionID, containerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadings++
}

func (f *fakeScreen) TransitionEnd(playerID, transitionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ends++
}

func (f *fakeScreen) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.loadings, f.ends
}

// syncBuilder строит миникарту синхронно, прямо в вызове
type syncBuilder struct{}

func (syncBuilder) BuildAsync(desc *layout.Descriptor, callback func(*minimap.MiniMap)) error {
	callback(&minimap.MiniMap{RegionNum: desc.RegionNum, RoomCount: len(desc.Rooms)})
	return nil
}

// fakeSaver считает запросы на сохранение
type fakeSaver struct {
	mu    sync.Mutex
	saves int
}

func (f *fakeSaver) SaveAsync(playerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
}

func (f *fakeSaver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

// failGateway шлюз с управляемым сбоем материализации
type failGateway struct {
	*layout.ProcGateway
	failInstantiate bool
}

func (f *failGateway) Instantiate(desc *layout.Descriptor) (*layout.Instance, error) {
	if f.failInstantiate {
		return nil, fmt.Errorf("искусственный сбой материализации")
	}
	return f.ProcGateway.Instantiate(desc)
}

// coordFixture собранный стенд координатора с фейковыми сотрудниками
type coordFixture struct {
	coord   *Coordinator
	graph   *world.RegionGraph
	gateway *failGateway
	screen  *fakeScreen
	tracker *Tracker
	saver   *fakeSaver
	origin  *world.Region
}

func newCoordFixture(t *testing.T, fadeInTimeout time.Duration) *coordFixture {
	t.Helper()

	graph := world.NewRegionGraph(world.ScopeShared, 42)
	origin := graph.CreateOriginRegion()
	gen := world.NewMapTypeGenerator(world.DefaultGenerationConfig(), mathrand.New(mathrand.NewSource(42)))
	gateway := &failGateway{ProcGateway: layout.NewProcGateway()}
	screen := &fakeScreen{}
	tracker := NewTracker()
	saver := &fakeSaver{}

	coord, err := NewCoordinator(Deps{
		GraphFor: func(string) *world.RegionGraph { return graph },
		MapTypes: gen,
		Gateway:  gateway,
		Minimap:  syncBuilder{},
		Screen:   screen,
		Tracker:  tracker,
		Saver:    saver,
	}, Config{FadeInTimeout: fadeInTimeout})
	require.NoError(t, err, "Координатор должен собираться")

	return &coordFixture{
		coord:   coord,
		graph:   graph,
		gateway: gateway,
		screen:  screen,
		tracker: tracker,
		saver:   saver,
		origin:  origin,
	}
}

// attach регистрирует игрока в стартовом регионе с материализованной геометрией
func (f *coordFixture) attach(t *testing.T, playerID string) *layout.Instance {
	t.Helper()

	desc, err := f.gateway.Generate(f.origin.Seed, f.origin.RegionNum, f.origin.PadCount)
	require.NoError(t, err, "Геометрия стартового региона должна генерироваться")
	instance, err := f.gateway.Instantiate(desc)
	require.NoError(t, err, "Стартовый регион должен материализоваться")

	session := world.NewPlayerSession(playerID)
	session.CurrentRegionID = f.origin.ID
	f.coord.AttachPlayer(playerID, session, instance, nil)
	f.tracker.Teleport(playerID, instance.Spawn)
	return instance
}

// TestCoordinatorFirstJump проверяет полный проход перехода по
// несвязанному паду: новый регион создаётся, пады связываются,
// игрок переезжает и размораживается.
func TestCoordinatorFirstJump(t *testing.T) {
	f := newCoordFixture(t, time.Second)
	f.attach(t, "p1")

	err := f.coord.RequestJump("p1", world.PadRef{RegionID: f.origin.ID, PadID: 0})
	require.NoError(t, err, "Запрос прыжка по свободному паду должен приниматься")
	assert.Equal(t, PhaseFadingOut, f.coord.Phase("p1"), "После запроса машина ждёт fade-out")
	assert.True(t, f.tracker.IsFrozen("p1"), "Игрок заморожен на время перехода")

	f.coord.OnFadeOutComplete("p1")
	assert.Equal(t, PhaseFadingIn, f.coord.Phase("p1"), "Синхронная миникарта сразу ведёт в fade-in")

	f.coord.OnTransitionComplete("p1")
	assert.Equal(t, PhaseIdle, f.coord.Phase("p1"), "После подтверждения машина в покое")
	assert.False(t, f.tracker.IsFrozen("p1"), "Игрок разморожен после завершения")

	require.Equal(t, 2, f.graph.RegionCount(), "Должен появиться ровно один новый регион")
	assert.Equal(t, 1, f.graph.LinkCount(), "Должна появиться ровно одна связь")

	origin, _ := f.graph.GetRegion(f.origin.ID)
	target, linked := origin.PadLinks[0]
	require.True(t, linked, "Пад источника должен быть связан")
	assert.Equal(t, "region_2", target.RegionID, "Связь ведёт в новый регион")
	assert.Equal(t, 0, target.PadID, "Пад прибытия нового региона всегда 0")

	session, ok := f.coord.ExportSession("p1")
	require.True(t, ok, "Сессия игрока должна существовать")
	assert.Equal(t, "region_2", session.CurrentRegionID, "Сессия переехала в новый регион")
	assert.True(t, session.HasVisited(2, session.CurrentRoomID), "Комната прибытия отмечена посещённой")

	starts, loadings, ends := f.screen.counts()
	assert.Equal(t, 1, starts, "Одна команда fade-out")
	assert.Equal(t, 1, loadings, "Одна команда loadingComplete")
	assert.Equal(t, 1, ends, "Одна команда fade-in")

	assert.GreaterOrEqual(t, f.saver.count(), 1, "Снимок уходит после изменения графа")
	assert.Equal(t, "region_2", f.graph.ActiveRegionID(), "Новый регион стал активным")
	assert.Equal(t, 1, f.gateway.ActiveCount(), "Прежняя геометрия снесена, новая жива")
}

// TestCoordinatorJumpBackOverLinkedPad проверяет, что связанный пад
// ведёт в существующий регион без создания нового.
func TestCoordinatorJumpBackOverLinkedPad(t *testing.T) {
	f := newCoordFixture(t, time.Second)
	f.attach(t, "p1")

	require.NoError(t, f.coord.RequestJump("p1", world.PadRef{RegionID: f.origin.ID, PadID: 0}))
	f.coord.OnFadeOutComplete("p1")
	f.coord.OnTransitionComplete("p1")
	require.Equal(t, 2, f.graph.RegionCount())

	// Пад 0 нового региона связан обратно со стартовым
	err := f.coord.RequestJump("p1", world.PadRef{RegionID: "region_2", PadID: 0})
	require.NoError(t, err, "Прыжок по связанному паду должен приниматься")
	f.coord.OnFadeOutComplete("p1")
	f.coord.OnTransitionComplete("p1")

	assert.Equal(t, 2, f.graph.RegionCount(), "Обратный прыжок не создаёт регионов")
	assert.Equal(t, 1, f.graph.LinkCount(), "Обратный прыжок не создаёт связей")

	session, _ := f.coord.ExportSession("p1")
	assert.Equal(t, f.origin.ID, session.CurrentRegionID, "Игрок вернулся в стартовый регион")
	assert.Equal(t, f.origin.ID, f.graph.ActiveRegionID(), "Стартовый регион снова активен")
}

// TestCoordinatorDuplicateRequestRejected проверяет, что второй запрос
// при живом переходе отклоняется, а не ставится в очередь.
func TestCoordinatorDuplicateRequestRejected(t *testing.T) {
	f := newCoordFixture(t, time.Second)
	f.attach(t, "p1")

	require.NoError(t, f.coord.RequestJump("p1", world.PadRef{RegionID: f.origin.ID, PadID: 0}))

	err := f.coord.RequestJump("p1", world.PadRef{RegionID: f.origin.ID, PadID: 1})
	assert.ErrorIs(t, err, ErrTransitionPending, "Повторный запрос в полёте отклоняется")

	starts, _, _ := f.screen.counts()
	assert.Equal(t, 1, starts, "Повторный запрос не шлёт вторую команду fade-out")
}

// TestCoordinatorPadClaimRace проверяет заявку на пад: второй игрок на
// том же несвязанном паде получает отказ, а не второй регион.
func TestCoordinatorPadClaimRace(t *testing.T) {
	f := newCoordFixture(t, time.Second)
	f.attach(t, "p1")
	f.attach(t, "p2")

	pad := world.PadRef{RegionID: f.origin.ID, PadID: 0}
	require.NoError(t, f.coord.RequestJump("p1", pad))

	err := f.coord.RequestJump("p2", pad)
	require.Error(t, err, "Второй игрок на занятом паде получает отказ")
	assert.ErrorIs(t, err, world.ErrPadClaimed, "Причина отказа — заявка первого игрока")
	assert.False(t, f.tracker.IsFrozen("p2"), "Отклонённый игрок не замораживается")

	// Первый игрок доводит переход до конца
	f.coord.OnFadeOutComplete("p1")
	f.coord.OnTransitionComplete("p1")
	assert.Equal(t, 2, f.graph.RegionCount(), "Создан ровно один регион на двоих")

	// Теперь пад связан: второй игрок поедет в тот же регион
	require.NoError(t, f.coord.RequestJump("p2", pad))
	f.coord.OnFadeOutComplete("p2")
	f.coord.OnTransitionComplete("p2")
	assert.Equal(t, 2, f.graph.RegionCount(), "Второй игрок переиспользует регион")

	session, _ := f.coord.ExportSession("p2")
	assert.Equal(t, "region_2", session.CurrentRegionID)
}

// TestCoordinatorWrongRegionPad проверяет отказ по паду чужого региона
func TestCoordinatorWrongRegionPad(t *testing.T) {
	f := newCoordFixture(t, time.Second)
	f.attach(t, "p1")

	err := f.coord.RequestJump("p1", world.PadRef{RegionID: "region_99", PadID: 0})
	assert.ErrorIs(t, err, ErrWrongRegion, "Пад вне текущего региона отклоняется")
	assert.Equal(t, PhaseIdle, f.coord.Phase("p1"), "Машина остаётся в покое")
}

// TestCoordinatorIgnoresStraySignals проверяет, что сигналы без
// подходящего перехода в полёте игнорируются без паники.
func TestCoordinatorIgnoresStraySignals(t *testing.T) {
	f := newCoordFixture(t, time.Second)
	f.attach(t, "p1")

	// Сигналы до запроса
	f.coord.OnFadeOutComplete("p1")
	f.coord.OnTransitionComplete("p1")
	assert.Equal(t, PhaseIdle, f.coord.Phase("p1"), "Паразитные сигналы не двигают машину")

	// Сигнал не той фазы
	require.NoError(t, f.coord.RequestJump("p1", world.PadRef{RegionID: f.origin.ID, PadID: 0}))
	f.coord.OnTransitionComplete("p1")
	assert.Equal(t, PhaseFadingOut, f.coord.Phase("p1"), "Сигнал чужой фазы игнорируется")

	// Сигналы от незнакомца
	f.coord.OnFadeOutComplete("ghost")
	f.coord.OnTransitionComplete("ghost")

	// Машина доходит до конца штатно
	f.coord.OnFadeOutComplete("p1")
	f.coord.OnTransitionComplete("p1")
	assert.Equal(t, PhaseIdle, f.coord.Phase("p1"))

	// Дубликат завершения после завершения
	f.coord.OnTransitionComplete("p1")
	assert.Equal(t, PhaseIdle, f.coord.Phase("p1"))
}

// TestCoordinatorExitToTitle проверяет выход в меню: геометрия
// сносится, узел графа остаётся, прогресс сохраняется.
func TestCoordinatorExitToTitle(t *testing.T) {
	f := newCoordFixture(t, time.Second)
	f.attach(t, "p1")
	require.Equal(t, 1, f.gateway.ActiveCount())

	require.NoError(t, f.coord.RequestExitToTitle("p1"))
	assert.Equal(t, PhaseFadingOut, f.coord.Phase("p1"))

	f.coord.OnFadeOutComplete("p1")
	assert.Equal(t, PhaseIdle, f.coord.Phase("p1"), "Выход завершается на fade-out")
	assert.Equal(t, 0, f.gateway.ActiveCount(), "Геометрия снесена")
	assert.Equal(t, 1, f.graph.RegionCount(), "Узел графа переживает выход")
	assert.False(t, f.tracker.IsFrozen("p1"), "Игрок разморожен")
	assert.GreaterOrEqual(t, f.saver.count(), 1, "Прогресс сохранён при выходе")

	_, _, ends := f.screen.counts()
	assert.Equal(t, 1, ends, "Экран получил завершение перехода")
}

// TestCoordinatorDisconnectMidTransition проверяет, что обрыв соединения
// в полёте снимает заявку на пад и чистит состояние игрока.
func TestCoordinatorDisconnectMidTransition(t *testing.T) {
	f := newCoordFixture(t, time.Second)
	f.attach(t, "p1")
	f.attach(t, "p2")

	pad := world.PadRef{RegionID: f.origin.ID, PadID: 0}
	require.NoError(t, f.coord.RequestJump("p1", pad))

	owner, claimed := f.graph.ClaimedBy(pad.RegionID, pad.PadID)
	require.True(t, claimed, "Заявка должна стоять")
	require.Equal(t, "p1", owner)

	f.coord.OnDisconnect("p1")

	_, claimed = f.graph.ClaimedBy(pad.RegionID, pad.PadID)
	assert.False(t, claimed, "Заявка снята после обрыва")
	assert.Equal(t, PhaseIdle, f.coord.Phase("p1"), "Состояние игрока убрано")

	// Пад снова свободен для второго игрока
	err := f.coord.RequestJump("p2", pad)
	assert.NoError(t, err, "Освобождённый пад доступен другому игроку")
}

// TestCoordinatorAbortOnMaterializeFailure проверяет прерывание перехода:
// игрок размораживается на месте и может повторить попытку.
func TestCoordinatorAbortOnMaterializeFailure(t *testing.T) {
	f := newCoordFixture(t, time.Second)
	f.attach(t, "p1")

	f.gateway.failInstantiate = true
	pad := world.PadRef{RegionID: f.origin.ID, PadID: 0}
	require.NoError(t, f.coord.RequestJump("p1", pad))
	f.coord.OnFadeOutComplete("p1")

	assert.Equal(t, PhaseIdle, f.coord.Phase("p1"), "Сбой загрузки возвращает машину в покой")
	assert.False(t, f.tracker.IsFrozen("p1"), "Игрок не остаётся замороженным")

	session, _ := f.coord.ExportSession("p1")
	assert.Equal(t, f.origin.ID, session.CurrentRegionID, "Игрок остался в исходном регионе")

	// Топология уже закоммичена, повтор едет по связанному паду
	f.gateway.failInstantiate = false
	require.NoError(t, f.coord.RequestJump("p1", pad))
	f.coord.OnFadeOutComplete("p1")
	f.coord.OnTransitionComplete("p1")

	session, _ = f.coord.ExportSession("p1")
	assert.Equal(t, "region_2", session.CurrentRegionID, "Повторная попытка довела игрока до цели")
	assert.Equal(t, 2, f.graph.RegionCount(), "Повтор не создал дубликат региона")
}

// TestCoordinatorFadeInTimeout проверяет страховку от потерянного
// подтверждения fade-in: переход завершается принудительно.
func TestCoordinatorFadeInTimeout(t *testing.T) {
	f := newCoordFixture(t, 50*time.Millisecond)
	f.attach(t, "p1")

	require.NoError(t, f.coord.RequestJump("p1", world.PadRef{RegionID: f.origin.ID, PadID: 0}))
	f.coord.OnFadeOutComplete("p1")
	require.Equal(t, PhaseFadingIn, f.coord.Phase("p1"))

	// Подтверждение не приходит, таймер добивает переход сам
	require.Eventually(t, func() bool {
		return f.coord.Phase("p1") == PhaseIdle
	}, time.Second, 10*time.Millisecond, "Таймаут fade-in должен завершить переход")

	assert.False(t, f.tracker.IsFrozen("p1"), "Игрок разморожен после таймаута")
	session, _ := f.coord.ExportSession("p1")
	assert.Equal(t, "region_2", session.CurrentRegionID, "Переход завершён несмотря на молчание клиента")
}

// TestCoordinatorMinimapStored проверяет, что миникарта построена и
// доступна после перехода.
func TestCoordinatorMinimapStored(t *testing.T) {
	f := newCoordFixture(t, time.Second)
	f.attach(t, "p1")

	require.NoError(t, f.coord.RequestJump("p1", world.PadRef{RegionID: f.origin.ID, PadID: 0}))
	f.coord.OnFadeOutComplete("p1")
	f.coord.OnTransitionComplete("p1")

	mm, ok := f.coord.MiniMap("p1")
	require.True(t, ok, "Миникарта должна сохраниться у игрока")
	assert.Equal(t, 2, mm.RegionNum, "Миникарта построена для нового региона")
	assert.Greater(t, mm.RoomCount, 0, "Миникарта знает комнаты региона")
}

// TestCoordinatorFrozenMovementIgnored проверяет, что во время перехода
// ввод движения не двигает игрока.
func TestCoordinatorFrozenMovementIgnored(t *testing.T) {
	f := newCoordFixture(t, time.Second)
	instance := f.attach(t, "p1")

	require.NoError(t, f.coord.RequestJump("p1", world.PadRef{RegionID: f.origin.ID, PadID: 0}))

	moved := f.tracker.UpdatePosition("p1", instance.Spawn.Add(vec.Vec2Float{X: 1, Y: 1}))
	assert.False(t, moved, "Движение замороженного игрока отбрасывается")

	pos, _ := f.tracker.Position("p1")
	assert.Equal(t, instance.Spawn, pos, "Позиция не изменилась")
}

// TestCoordinatorUnknownPlayer проверяет ошибки для незарегистрированного игрока
func TestCoordinatorUnknownPlayer(t *testing.T) {
	f := newCoordFixture(t, time.Second)

	err := f.coord.RequestJump("ghost", world.PadRef{RegionID: f.origin.ID, PadID: 0})
	assert.ErrorIs(t, err, ErrPlayerNotFound)

	err = f.coord.RequestExitToTitle("ghost")
	assert.ErrorIs(t, err, ErrPlayerNotFound)
}

// TestCoordinatorConcurrentPlayers проверяет параллельные переходы
// нескольких игроков по разным падам общего графа.
func TestCoordinatorConcurrentPlayers(t *testing.T) {
	f := newCoordFixture(t, time.Second)
	f.attach(t, "p1")
	f.attach(t, "p2")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	pads := []world.PadRef{
		{RegionID: f.origin.ID, PadID: 0},
		{RegionID: f.origin.ID, PadID: 1},
	}
	for i, playerID := range []string{"p1", "p2"} {
		wg.Add(1)
		go func(idx int, pid string) {
			defer wg.Done()
			if err := f.coord.RequestJump(pid, pads[idx]); err != nil {
				errs[idx] = err
				return
			}
			f.coord.OnFadeOutComplete(pid)
			f.coord.OnTransitionComplete(pid)
		}(i, playerID)
	}
	wg.Wait()

	require.NoError(t, errs[0], "Первый игрок проходит по своему паду")
	require.NoError(t, errs[1], "Второй игрок проходит по своему паду")

	assert.Equal(t, 3, f.graph.RegionCount(), "Каждый пад породил свой регион")
	assert.Equal(t, 2, f.graph.LinkCount(), "Обе связи записаны")

	total := 0
	for _, id := range []string{"region_1", "region_2", "region_3"} {
		region, ok := f.graph.GetRegion(id)
		require.True(t, ok, "Регион %s должен существовать", id)
		total += region.PadCount
	}
	assert.Equal(t, total-4, f.graph.TotalUnlinkedPads(), "Счётчик несвязанных падов сходится")
}

// BenchmarkCoordinatorFullTransition полный цикл перехода
func BenchmarkCoordinatorFullTransition(b *testing.B) {
	graph := world.NewRegionGraph(world.ScopeShared, 42)
	origin := graph.CreateOriginRegion()
	gen := world.NewMapTypeGenerator(world.DefaultGenerationConfig(), mathrand.New(mathrand.NewSource(42)))
	gateway := layout.NewProcGateway()
	tracker := NewTracker()

	coord, _ := NewCoordinator(Deps{
		GraphFor: func(string) *world.RegionGraph { return graph },
		MapTypes: gen,
		Gateway:  gateway,
		Minimap:  syncBuilder{},
		Screen:   &fakeScreen{},
		Tracker:  tracker,
	}, Config{FadeInTimeout: time.Second})

	session := world.NewPlayerSession("bench")
	session.CurrentRegionID = origin.ID
	coord.AttachPlayer("bench", session, nil, nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		// Пад 0 после первой итерации уже связан: цикл туда-обратно
		current, _ := coord.ExportSession("bench")
		if err := coord.RequestJump("bench", world.PadRef{RegionID: current.CurrentRegionID, PadID: 0}); err != nil {
			b.Fatalf("запрос прыжка: %v", err)
		}
		coord.OnFadeOutComplete("bench")
		coord.OnTransitionComplete("bench")
	}
}
