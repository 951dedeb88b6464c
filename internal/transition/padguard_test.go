package transition

import (
	"sync"
	"testing"
	"time"

	"github.com/annel0/rift-server/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// emitRecorder считает срабатывания пада
type emitRecorder struct {
	mu    sync.Mutex
	count int
	last  world.PadRef
}

func (r *emitRecorder) emit(playerID string, pad world.PadRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
	r.last = pad
}

func (r *emitRecorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// padProbe управляемый ответ на проверку физического присутствия
type padProbe struct {
	mu    sync.Mutex
	onPad bool
}

func (p *padProbe) check(playerID string, pad world.PadRef) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onPad
}

func (p *padProbe) set(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onPad = v
}

func newGuardFixture(t *testing.T, debounce time.Duration) (*PadGuard, *emitRecorder, *padProbe) {
	t.Helper()
	rec := &emitRecorder{}
	probe := &padProbe{}
	guard := NewPadGuard(debounce, probe.check, rec.emit)
	t.Cleanup(guard.Stop)
	return guard, rec, probe
}

// TestPadGuardEmitsOnceOnEnter проверяет защиту от двойного срабатывания:
// повторный вход на пад в режиме SpawnIn не даёт второго запроса.
func TestPadGuardEmitsOnceOnEnter(t *testing.T) {
	guard, rec, _ := newGuardFixture(t, 30*time.Millisecond)
	pad := world.PadRef{RegionID: "region_1", PadID: 0}

	guard.HandleEnter("p1", pad)
	assert.Equal(t, 1, rec.total(), "Первый вход даёт одно срабатывание")
	assert.Equal(t, SpawnIn, guard.Mode("p1", pad), "После срабатывания режим SpawnIn")

	guard.HandleEnter("p1", pad)
	guard.HandleEnter("p1", pad)
	assert.Equal(t, 1, rec.total(), "Повторные входы поглощаются режимом SpawnIn")
}

// TestPadGuardDebounceRearm проверяет перевзвод: после схода с пада и
// дебаунса пад снова срабатывает.
func TestPadGuardDebounceRearm(t *testing.T) {
	guard, rec, probe := newGuardFixture(t, 25*time.Millisecond)
	probe.set(false)
	pad := world.PadRef{RegionID: "region_1", PadID: 1}

	guard.HandleEnter("p1", pad)
	require.Equal(t, 1, rec.total())

	guard.HandleExit("p1", pad)
	require.Eventually(t, func() bool {
		return guard.Mode("p1", pad) == SpawnOut
	}, time.Second, 5*time.Millisecond, "Дебаунс должен перевести пад в SpawnOut")

	guard.HandleEnter("p1", pad)
	assert.Equal(t, 2, rec.total(), "Перевзведённый пад срабатывает снова")
}

// TestPadGuardReEntryCancelsFlip проверяет, что возврат на пад до
// истечения дебаунса отменяет перевзвод.
func TestPadGuardReEntryCancelsFlip(t *testing.T) {
	guard, rec, probe := newGuardFixture(t, 40*time.Millisecond)
	probe.set(false)
	pad := world.PadRef{RegionID: "region_1", PadID: 0}

	guard.HandleEnter("p1", pad)
	guard.HandleExit("p1", pad)
	guard.HandleEnter("p1", pad) // Возврат до истечения таймера

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, SpawnIn, guard.Mode("p1", pad), "Возврат на пад отменяет перевзвод")
	assert.Equal(t, 1, rec.total(), "Возврат не считается новым срабатыванием")
}

// TestPadGuardRescheduleWhileStillOnPad проверяет сверку с физическим
// присутствием: запоздавшее событие выхода не перевзводит пад, пока
// игрок фактически стоит на нём.
func TestPadGuardRescheduleWhileStillOnPad(t *testing.T) {
	guard, _, probe := newGuardFixture(t, 20*time.Millisecond)
	pad := world.PadRef{RegionID: "region_1", PadID: 0}

	guard.HandleEnter("p1", pad)
	probe.set(true) // Игрок физически остался на паде
	guard.HandleExit("p1", pad)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, SpawnIn, guard.Mode("p1", pad), "Пад не перевзводится под стоящим игроком")

	probe.set(false) // Игрок действительно сошёл
	require.Eventually(t, func() bool {
		return guard.Mode("p1", pad) == SpawnOut
	}, time.Second, 5*time.Millisecond, "После фактического схода пад перевзводится")
}

// TestPadGuardArrivalMode проверяет постановку SpawnIn при прибытии:
// пад назначения не срабатывает под приземлившимся игроком.
func TestPadGuardArrivalMode(t *testing.T) {
	guard, rec, probe := newGuardFixture(t, 25*time.Millisecond)
	probe.set(false)
	pad := world.PadRef{RegionID: "region_2", PadID: 0}

	guard.SetMode("p1", pad, SpawnIn)

	guard.HandleEnter("p1", pad)
	assert.Equal(t, 0, rec.total(), "Пад прибытия не срабатывает под игроком")

	guard.HandleExit("p1", pad)
	require.Eventually(t, func() bool {
		return guard.Mode("p1", pad) == SpawnOut
	}, time.Second, 5*time.Millisecond)

	guard.HandleEnter("p1", pad)
	assert.Equal(t, 1, rec.total(), "После схода и дебаунса пад снова рабочий")
}

// TestPadGuardClearPlayer проверяет очистку состояния игрока
func TestPadGuardClearPlayer(t *testing.T) {
	guard, rec, probe := newGuardFixture(t, 30*time.Millisecond)
	probe.set(false)
	pad := world.PadRef{RegionID: "region_1", PadID: 0}

	guard.HandleEnter("p1", pad)
	guard.HandleExit("p1", pad)
	guard.ClearPlayer("p1")

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, SpawnOut, guard.Mode("p1", pad), "Очистка сбрасывает режим")

	guard.HandleEnter("p1", pad)
	assert.Equal(t, 2, rec.total(), "После очистки пад ведёт себя как новый")
}

// TestPadGuardIndependentKeys проверяет независимость состояний по
// парам (пад, игрок).
func TestPadGuardIndependentKeys(t *testing.T) {
	guard, rec, _ := newGuardFixture(t, 30*time.Millisecond)
	padA := world.PadRef{RegionID: "region_1", PadID: 0}
	padB := world.PadRef{RegionID: "region_1", PadID: 1}

	guard.HandleEnter("p1", padA)
	guard.HandleEnter("p2", padA)
	guard.HandleEnter("p1", padB)

	assert.Equal(t, 3, rec.total(), "Каждая пара (пад, игрок) срабатывает независимо")
	assert.Equal(t, SpawnIn, guard.Mode("p1", padA))
	assert.Equal(t, SpawnIn, guard.Mode("p2", padA))
	assert.Equal(t, SpawnIn, guard.Mode("p1", padB))
	assert.Equal(t, SpawnOut, guard.Mode("p2", padB), "Нетронутая пара остаётся в SpawnOut")
}
