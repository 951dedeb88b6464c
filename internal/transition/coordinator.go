package transition

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/annel0/rift-server/internal/layout"
	"github.com/annel0/rift-server/internal/logging"
	"github.com/annel0/rift-server/internal/minimap"
	"github.com/annel0/rift-server/internal/world"
	"github.com/google/uuid"
)

// Phase фаза перехода игрока
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseRequested
	PhaseFadingOut
	PhaseLoading
	PhaseBuildingMinimap
	PhaseFadingIn
)

// String возвращает строковое представление фазы
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRequested:
		return "requested"
	case PhaseFadingOut:
		return "fading_out"
	case PhaseLoading:
		return "loading"
	case PhaseBuildingMinimap:
		return "building_minimap"
	case PhaseFadingIn:
		return "fading_in"
	default:
		return "unknown"
	}
}

var (
	ErrPlayerNotFound    = errors.New("игрок не зарегистрирован")
	ErrTransitionPending = errors.New("переход уже выполняется")
	ErrWrongRegion       = errors.New("пад находится не в текущем регионе игрока")
)

// Config настройки координатора
type Config struct {
	FadeInTimeout time.Duration // Максимум ожидания подтверждения fade-in
}

// Deps внешние сотрудники координатора
type Deps struct {
	GraphFor func(playerID string) *world.RegionGraph
	MapTypes *world.MapTypeGenerator
	Gateway  layout.Gateway
	Minimap  MapBuilder
	Screen   Screen
	Tracker  *Tracker
	Guard    *PadGuard // Может быть nil: тогда режим прибытия не ставится
	Saver    Saver     // Может быть nil: сохранения отключены

	// PinnedLayout возвращает закреплённую геометрию региона без зерна
	// (наследие старого формата сохранений). Может быть nil.
	PinnedLayout func(playerID, regionID string) (*layout.Descriptor, bool)
}

// playerState состояние машины переходов одного игрока.
// Монопольно принадлежит координатору.
type playerState struct {
	session   *world.PlayerSession
	phase     Phase
	container string
	instance  *layout.Instance
	fadeTimer *time.Timer
	minimap   *minimap.MiniMap
}

// Coordinator оркестрирует переходы всех игроков против общего графа.
// Машина каждого игрока продвигается строго по фазам
// Idle -> Requested -> FadingOut -> Loading -> BuildingMinimap -> FadingIn -> Idle
// и только по внешним сигналам; фазы не перескакиваются. Сигнал без
// подходящего перехода в полёте логируется и игнорируется.
type Coordinator struct {
	mu            sync.Mutex
	players       map[string]*playerState
	graphFor      func(playerID string) *world.RegionGraph
	mapTypes      *world.MapTypeGenerator
	gateway       layout.Gateway
	builder       MapBuilder
	screen        Screen
	tracker       *Tracker
	guard         *PadGuard
	saver         Saver
	pinnedLayout  func(playerID, regionID string) (*layout.Descriptor, bool)
	fadeInTimeout time.Duration
}

// NewCoordinator создаёт координатор и проверяет обязательные зависимости
func NewCoordinator(deps Deps, cfg Config) (*Coordinator, error) {
	if deps.GraphFor == nil {
		return nil, fmt.Errorf("не задан источник графа")
	}
	if deps.MapTypes == nil {
		return nil, fmt.Errorf("не задан классификатор регионов")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("не задан шлюз геометрии")
	}
	if deps.Minimap == nil {
		return nil, fmt.Errorf("не задан построитель миникарт")
	}
	if deps.Screen == nil {
		return nil, fmt.Errorf("не задан клиент экранных переходов")
	}
	if deps.Tracker == nil {
		return nil, fmt.Errorf("не задан трекер игроков")
	}
	if cfg.FadeInTimeout <= 0 {
		cfg.FadeInTimeout = 10 * time.Second
	}

	return &Coordinator{
		players:       make(map[string]*playerState),
		graphFor:      deps.GraphFor,
		mapTypes:      deps.MapTypes,
		gateway:       deps.Gateway,
		builder:       deps.Minimap,
		screen:        deps.Screen,
		tracker:       deps.Tracker,
		guard:         deps.Guard,
		saver:         deps.Saver,
		pinnedLayout:  deps.PinnedLayout,
		fadeInTimeout: cfg.FadeInTimeout,
	}, nil
}

// AttachPlayer регистрирует игрока с его сессией и материализованным
// регионом. Вызывается при старте сессии, после загрузки сохранения.
// Миникарта стартового региона может прийти позже, тогда mm == nil.
func (c *Coordinator) AttachPlayer(playerID string, session *world.PlayerSession, instance *layout.Instance, mm *minimap.MiniMap) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := &playerState{
		session: session,
		phase:   PhaseIdle,
		minimap: mm,
	}
	if instance != nil {
		state.container = instance.ContainerID
		state.instance = instance
	}
	c.players[playerID] = state
}

// CurrentRegion возвращает регион, в котором игрок находится сейчас
func (c *Coordinator) CurrentRegion(playerID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.players[playerID]
	if !ok {
		return "", false
	}
	return state.session.CurrentRegionID, true
}

// Phase возвращает текущую фазу машины игрока
func (c *Coordinator) Phase(playerID string) Phase {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.players[playerID]
	if !ok {
		return PhaseIdle
	}
	return state.phase
}

// Instance возвращает материализованный регион игрока
func (c *Coordinator) Instance(playerID string) (*layout.Instance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.players[playerID]
	if !ok || state.instance == nil {
		return nil, false
	}
	return state.instance, true
}

// MiniMap возвращает последнюю построенную миникарту игрока
func (c *Coordinator) MiniMap(playerID string) (*minimap.MiniMap, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.players[playerID]
	if !ok || state.minimap == nil {
		return nil, false
	}
	return state.minimap, true
}

// ExportSession возвращает глубокую копию сессии игрока для сохранения
func (c *Coordinator) ExportSession(playerID string) (*world.PlayerSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.players[playerID]
	if !ok {
		return nil, false
	}

	copySession := &world.PlayerSession{
		PlayerID:        state.session.PlayerID,
		CurrentRegionID: state.session.CurrentRegionID,
		CurrentRoomID:   state.session.CurrentRoomID,
		VisitedRooms:    make(map[int]map[int]bool, len(state.session.VisitedRooms)),
	}
	for regionNum, rooms := range state.session.VisitedRooms {
		copyRooms := make(map[int]bool, len(rooms))
		for roomID, visited := range rooms {
			copyRooms[roomID] = visited
		}
		copySession.VisitedRooms[regionNum] = copyRooms
	}
	return copySession, true
}

// RequestJump обрабатывает запрос прыжка с пада. Заявка на пад ставится
// атомарно до любых асинхронных фаз: второй игрок на том же паде
// получает отказ, а не второй регион. Повторный запрос при живом
// переходе отклоняется, а не ставится в очередь.
func (c *Coordinator) RequestJump(playerID string, pad world.PadRef) error {
	c.mu.Lock()

	state, ok := c.players[playerID]
	if !ok {
		c.mu.Unlock()
		return ErrPlayerNotFound
	}
	if state.session.Pending != nil {
		c.mu.Unlock()
		logging.Debug("Запрос прыжка %s отклонён: переход уже идёт", playerID)
		return ErrTransitionPending
	}
	if pad.RegionID != state.session.CurrentRegionID {
		c.mu.Unlock()
		logging.Warn("Запрос прыжка %s отклонён: пад %s вне текущего региона %s", playerID, pad.RegionID, state.session.CurrentRegionID)
		return ErrWrongRegion
	}

	graph := c.graphFor(playerID)
	res, err := graph.ResolveOrClaim(pad.RegionID, pad.PadID, playerID)
	if err != nil {
		c.mu.Unlock()
		logging.Debug("Запрос прыжка %s отклонён: %v", playerID, err)
		return fmt.Errorf("пад %s:%d: %w", pad.RegionID, pad.PadID, err)
	}

	pending := &world.PendingTransition{
		ID:             uuid.NewString(),
		SourceRegionID: pad.RegionID,
		SourcePadID:    pad.PadID,
		IsNewRegion:    !res.Linked,
		StartedAt:      time.Now(),
	}
	if res.Linked {
		pending.TargetRegionID = res.Target.RegionID
		pending.TargetPadID = res.Target.PadID
	}

	state.session.Pending = pending
	state.phase = PhaseRequested
	c.mu.Unlock()

	c.tracker.Freeze(playerID)

	logging.Info("🚀 Переход %s: игрок %s, пад %s:%d, новый регион=%v", pending.ID, playerID, pad.RegionID, pad.PadID, pending.IsNewRegion)
	publishEvent(playerID, EventTransitionRequested, 6, TransitionRequestedEvent{
		TransitionID: pending.ID,
		SourceRegion: pad.RegionID,
		SourcePad:    pad.PadID,
		IsNewRegion:  pending.IsNewRegion,
	})

	// Машина встаёт в FadingOut до отправки команды: подтверждение
	// клиента не может обогнать смену фазы
	c.setPhase(playerID, pending.ID, PhaseFadingOut)
	c.screen.TransitionStart(playerID, pending.ID)
	return nil
}

// RequestExitToTitle начинает выход в главное меню: цель не разрешается,
// на fade-out активный регион сносится вместо загрузки нового.
func (c *Coordinator) RequestExitToTitle(playerID string) error {
	c.mu.Lock()

	state, ok := c.players[playerID]
	if !ok {
		c.mu.Unlock()
		return ErrPlayerNotFound
	}
	if state.session.Pending != nil {
		c.mu.Unlock()
		return ErrTransitionPending
	}

	pending := &world.PendingTransition{
		ID:            uuid.NewString(),
		IsExitToTitle: true,
		StartedAt:     time.Now(),
	}
	state.session.Pending = pending
	state.phase = PhaseRequested
	c.mu.Unlock()

	c.tracker.Freeze(playerID)
	logging.Info("🚪 Выход в меню %s: игрок %s", pending.ID, playerID)

	c.setPhase(playerID, pending.ID, PhaseFadingOut)
	c.screen.TransitionStart(playerID, pending.ID)
	return nil
}

// OnFadeOutComplete сигнал от экрана: затемнение завершено.
// Здесь выполняется вся работа фазы Loading: создание или загрузка
// целевого региона, материализация, телепорт и отложенный снос
// прежней геометрии.
func (c *Coordinator) OnFadeOutComplete(playerID string) {
	c.mu.Lock()

	state, ok := c.players[playerID]
	if !ok || state.session.Pending == nil || state.phase != PhaseFadingOut {
		c.mu.Unlock()
		logging.Debug("Сигнал fadeOutComplete от %s без подходящего перехода, игнорируем", playerID)
		return
	}

	pending := state.session.Pending
	state.phase = PhaseLoading

	if pending.IsExitToTitle {
		container := state.container
		state.container = ""
		state.instance = nil
		state.minimap = nil
		state.session.Pending = nil
		state.phase = PhaseIdle
		c.mu.Unlock()

		if container != "" {
			c.gateway.Destroy(container)
		}
		if c.saver != nil {
			c.saver.SaveAsync(playerID)
		}
		c.tracker.Unfreeze(playerID)
		c.screen.TransitionEnd(playerID, pending.ID)

		logging.Info("🚪 Игрок %s вышел в меню", playerID)
		publishEvent(playerID, EventTransitionCompleted, 6, TransitionCompletedEvent{
			TransitionID:  pending.ID,
			IsExitToTitle: true,
			DurationMs:    time.Since(pending.StartedAt).Milliseconds(),
		})
		return
	}

	c.mu.Unlock()
	c.runLoading(playerID, pending)
}

// runLoading выполняет фазу Loading вне мьютекса координатора:
// тяжёлая работа не блокирует машины других игроков.
func (c *Coordinator) runLoading(playerID string, pending *world.PendingTransition) {
	graph := c.graphFor(playerID)

	var (
		desc           *layout.Descriptor
		targetRegionID string
		targetPadID    int
		err            error
	)

	if pending.IsNewRegion {
		source, ok := graph.GetRegion(pending.SourceRegionID)
		if !ok {
			c.abort(playerID, pending.ID, "исходный регион не найден")
			return
		}

		// Классификация выполняется под мьютексом графа с фактическим
		// номером нового региона
		region := graph.CreateRegionClassified(func(regionNum int) (world.MapType, int) {
			return c.mapTypes.DetermineMapType(false, source.MapType, regionNum)
		})

		desc, err = c.gateway.Generate(region.Seed, region.RegionNum, region.PadCount)
		if err != nil {
			c.abort(playerID, pending.ID, fmt.Sprintf("генерация геометрии: %v", err))
			return
		}

		// Пад 0 нового региона — пад прибытия
		if err := graph.LinkPads(pending.SourceRegionID, pending.SourcePadID, region.ID, 0); err != nil {
			c.abort(playerID, pending.ID, fmt.Sprintf("связывание падов: %v", err))
			return
		}
		targetRegionID = region.ID
		targetPadID = 0
	} else {
		target, ok := graph.GetRegion(pending.TargetRegionID)
		if !ok {
			c.abort(playerID, pending.ID, "целевой регион не найден")
			return
		}

		if c.pinnedLayout != nil {
			// Регион без зерна живёт на закреплённой геометрии
			if pinned, ok := c.pinnedLayout(playerID, pending.TargetRegionID); ok {
				desc = pinned
			}
		}
		if desc == nil {
			// Геометрия не хранится: восстанавливаем детерминированно из зерна
			desc, err = c.gateway.Generate(target.Seed, target.RegionNum, target.PadCount)
			if err != nil {
				c.abort(playerID, pending.ID, fmt.Sprintf("регенерация геометрии: %v", err))
				return
			}
		}
		targetRegionID = pending.TargetRegionID
		targetPadID = pending.TargetPadID
	}

	instance, err := c.gateway.Instantiate(desc)
	if err != nil {
		c.abort(playerID, pending.ID, fmt.Sprintf("материализация: %v", err))
		return
	}

	zone, ok := instance.PadZoneByID(targetPadID)
	if !ok {
		c.gateway.Destroy(instance.ContainerID)
		c.abort(playerID, pending.ID, "пад назначения отсутствует в геометрии")
		return
	}

	// Прибытие: телепорт на пад назначения и защита от немедленного
	// обратного срабатывания
	c.tracker.Teleport(playerID, zone.Center)
	if c.guard != nil {
		c.guard.SetMode(playerID, world.PadRef{RegionID: targetRegionID, PadID: targetPadID}, SpawnIn)
	}

	var prevContainer string
	c.mu.Lock()
	state, stillHere := c.players[playerID]
	if !stillHere || state.session.Pending == nil || state.session.Pending.ID != pending.ID {
		c.mu.Unlock()
		// Игрок отключился или переход отменён во время загрузки
		c.gateway.Destroy(instance.ContainerID)
		logging.Warn("Переход %s игрока %s отменён во время загрузки", pending.ID, playerID)
		return
	}
	prevContainer = state.container
	state.container = instance.ContainerID
	state.instance = instance
	pending.TargetRegionID = targetRegionID
	pending.TargetPadID = targetPadID
	state.session.CurrentRegionID = targetRegionID
	state.session.CurrentRoomID = zone.RoomID
	state.phase = PhaseBuildingMinimap
	c.mu.Unlock()

	if err := graph.SetActiveRegion(targetRegionID); err != nil {
		logging.Warn("Активация региона %s: %v", targetRegionID, err)
	}

	// Отложенный снос прежней геометрии: узел графа остаётся
	if prevContainer != "" {
		c.gateway.Destroy(prevContainer)
	}

	// Persist-on-write: снимок уходит после каждого изменения графа
	if c.saver != nil {
		c.saver.SaveAsync(playerID)
	}

	c.screen.LoadingComplete(playerID, pending.ID, instance.ContainerID)
	publishEvent(playerID, EventTransitionPhase, 4, TransitionPhaseEvent{TransitionID: pending.ID, Phase: PhaseBuildingMinimap.String()})

	transitionID := pending.ID
	if err := c.builder.BuildAsync(desc, func(mm *minimap.MiniMap) {
		c.onMinimapReady(playerID, transitionID, mm)
	}); err != nil {
		// Очередь построителя заполнена: продолжаем без миникарты,
		// переход важнее HUD
		logging.Warn("Миникарта региона %s не построена: %v", targetRegionID, err)
		c.onMinimapReady(playerID, transitionID, nil)
	}
}

// onMinimapReady сигнал построителя: миникарта готова, можно начинать
// fade-in. Ожидание подтверждения ограничено таймаутом.
func (c *Coordinator) onMinimapReady(playerID, transitionID string, mm *minimap.MiniMap) {
	c.mu.Lock()

	state, ok := c.players[playerID]
	if !ok || state.session.Pending == nil || state.session.Pending.ID != transitionID || state.phase != PhaseBuildingMinimap {
		c.mu.Unlock()
		logging.Debug("Сигнал minimapReady для %s без подходящего перехода, игнорируем", playerID)
		return
	}

	state.minimap = mm
	state.phase = PhaseFadingIn
	state.fadeTimer = time.AfterFunc(c.fadeInTimeout, func() {
		c.fadeInTimedOut(playerID, transitionID)
	})
	c.mu.Unlock()

	publishEvent(playerID, EventTransitionPhase, 4, TransitionPhaseEvent{TransitionID: transitionID, Phase: PhaseFadingIn.String()})
	c.screen.TransitionEnd(playerID, transitionID)
}

// fadeInTimedOut страховка от вечного ожидания подтверждения:
// по таймауту переход завершается принудительно.
func (c *Coordinator) fadeInTimedOut(playerID, transitionID string) {
	c.mu.Lock()
	state, ok := c.players[playerID]
	timedOut := ok && state.session.Pending != nil && state.session.Pending.ID == transitionID && state.phase == PhaseFadingIn
	c.mu.Unlock()

	if !timedOut {
		return
	}
	logging.Warn("Подтверждение fade-in от %s не получено за %s, завершаем переход принудительно", playerID, c.fadeInTimeout)
	c.OnTransitionComplete(playerID)
}

// OnTransitionComplete сигнал от экрана: fade-in завершён. Игрок
// размораживается, переход закрывается, комната прибытия отмечается
// посещённой.
func (c *Coordinator) OnTransitionComplete(playerID string) {
	c.mu.Lock()

	state, ok := c.players[playerID]
	if !ok || state.session.Pending == nil || state.phase != PhaseFadingIn {
		c.mu.Unlock()
		logging.Debug("Сигнал transitionComplete от %s без подходящего перехода, игнорируем", playerID)
		return
	}

	if state.fadeTimer != nil {
		state.fadeTimer.Stop()
		state.fadeTimer = nil
	}

	pending := state.session.Pending
	regionNum := 0
	if state.instance != nil {
		regionNum = state.instance.Descriptor.RegionNum
	}
	roomID := state.session.CurrentRoomID
	state.session.MarkVisited(regionNum, roomID)
	visited := state.session.VisitedInRegion(regionNum)

	state.session.Pending = nil
	state.phase = PhaseIdle
	c.mu.Unlock()

	c.tracker.Unfreeze(playerID)

	logging.Info("✅ Переход %s завершён: игрок %s в регионе %s", pending.ID, playerID, pending.TargetRegionID)
	publishEvent(playerID, EventTransitionCompleted, 6, TransitionCompletedEvent{
		TransitionID: pending.ID,
		TargetRegion: pending.TargetRegionID,
		DurationMs:   time.Since(pending.StartedAt).Milliseconds(),
	})
	publishEvent(playerID, EventAreaInfo, 3, AreaInfoEvent{
		RegionNum:    regionNum,
		RoomNum:      roomID,
		VisitedRooms: visited,
	})
}

// OnDisconnect чистит состояние перехода при обрыве соединения:
// заявка на пад снимается, таймеры гасятся, геометрия сносится.
// Без этого незавершённый переход утёк бы вместе с заморозкой.
func (c *Coordinator) OnDisconnect(playerID string) {
	c.mu.Lock()

	state, ok := c.players[playerID]
	if !ok {
		c.mu.Unlock()
		return
	}

	if pending := state.session.Pending; pending != nil && !pending.IsExitToTitle {
		graph := c.graphFor(playerID)
		graph.ReleaseClaim(pending.SourceRegionID, pending.SourcePadID, playerID)
		logging.Info("Игрок %s отключился с переходом %s в полёте, заявка снята", playerID, pending.ID)
	}
	if state.fadeTimer != nil {
		state.fadeTimer.Stop()
		state.fadeTimer = nil
	}
	container := state.container
	delete(c.players, playerID)
	c.mu.Unlock()

	if container != "" {
		c.gateway.Destroy(container)
	}
	if c.guard != nil {
		c.guard.ClearPlayer(playerID)
	}
	c.tracker.Remove(playerID)
}

// abort прерывает переход: заявка снимается, игрок размораживается на
// месте, pendingTransition очищается. Игрок никогда не остаётся
// замороженным навсегда.
func (c *Coordinator) abort(playerID, transitionID, reason string) {
	c.mu.Lock()

	state, ok := c.players[playerID]
	if !ok || state.session.Pending == nil || state.session.Pending.ID != transitionID {
		c.mu.Unlock()
		return
	}

	pending := state.session.Pending
	graph := c.graphFor(playerID)
	graph.ReleaseClaim(pending.SourceRegionID, pending.SourcePadID, playerID)

	if state.fadeTimer != nil {
		state.fadeTimer.Stop()
		state.fadeTimer = nil
	}
	state.session.Pending = nil
	state.phase = PhaseIdle
	c.mu.Unlock()

	c.tracker.Unfreeze(playerID)

	logging.Warn("⚠️ Переход %s игрока %s прерван: %s", transitionID, playerID, reason)
	publishEvent(playerID, EventTransitionFailed, 7, TransitionFailedEvent{
		TransitionID: transitionID,
		Reason:       reason,
	})
}

// setPhase внутреннее продвижение фазы с публикацией события
func (c *Coordinator) setPhase(playerID, transitionID string, phase Phase) {
	c.mu.Lock()
	state, ok := c.players[playerID]
	if !ok || state.session.Pending == nil || state.session.Pending.ID != transitionID {
		c.mu.Unlock()
		return
	}
	state.phase = phase
	c.mu.Unlock()

	publishEvent(playerID, EventTransitionPhase, 4, TransitionPhaseEvent{TransitionID: transitionID, Phase: phase.String()})
}
