package game

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/annel0/rift-server/internal/layout"
	"github.com/annel0/rift-server/internal/logging"
	"github.com/annel0/rift-server/internal/minimap"
	"github.com/annel0/rift-server/internal/storage"
	"github.com/annel0/rift-server/internal/transition"
	"github.com/annel0/rift-server/internal/vec"
	"github.com/annel0/rift-server/internal/world"
)

// Options собирает настройки движка из конфигурации
type Options struct {
	Scope          world.GraphScope
	WorldSeed      int64
	Generation     world.GenerationConfig
	PadDebounce    time.Duration
	FadeInTimeout  time.Duration
	AutosavePeriod time.Duration
	MinimapWorkers int
	Metrics        *EngineMetrics // Может быть nil: метрики отключены
}

// JoinResult стартовое состояние сессии для сетевого слоя
type JoinResult struct {
	PlayerID  string
	RegionID  string
	RegionNum int
	RoomID    int
	Container string
	Position  vec.Vec2Float
	Restored  bool
	MiniMap   *minimap.MiniMap // nil, если построение не успело к входу
}

// EngineStats срез состояния движка для административного API
type EngineStats struct {
	Scope           string `json:"scope"`
	WorldSeed       int64  `json:"world_seed"`
	PlayersOnline   int    `json:"players_online"`
	Regions         int    `json:"regions"`
	Links           int    `json:"links"`
	UnlinkedPads    int    `json:"unlinked_pads"`
	ActiveInstances int    `json:"active_instances"`
}

// RiftService собирает движок регионов в одну точку входа для сетевого
// слоя: граф(ы), шлюз геометрии, трекер, стражу падов, координатор
// переходов и сохранения. Все входящие сигналы клиента проходят через
// методы сервиса.
type RiftService struct {
	opts    Options
	gateway *layout.ProcGateway
	builder *minimap.Builder
	tracker *transition.Tracker
	guard   *transition.PadGuard
	coord   *transition.Coordinator
	saves   *storage.SaveManager

	mu       sync.RWMutex
	shared   *world.RegionGraph                       // Заполнен только в общем мире
	personal map[string]*world.RegionGraph            // Личные графы по игрокам
	pinned   map[string]map[string]*layout.Descriptor // Владелец графа -> регион -> наследная геометрия
	standing map[string]int                           // Игрок -> пад под ногами (-1 вне падов)

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

const joinMinimapWait = 2 * time.Second

// NewRiftService создаёт движок поверх готового хранилища и клиента
// экранных переходов. Общий мир загружается из снимка сразу.
func NewRiftService(store storage.KVStore, screen transition.Screen, opts Options) (*RiftService, error) {
	if store == nil {
		return nil, fmt.Errorf("не задано хранилище")
	}
	if screen == nil {
		return nil, fmt.Errorf("не задан клиент экранных переходов")
	}
	if opts.WorldSeed == 0 {
		opts.WorldSeed = time.Now().UnixNano()
	}
	if opts.PadDebounce <= 0 {
		opts.PadDebounce = 1500 * time.Millisecond
	}
	if opts.AutosavePeriod <= 0 {
		opts.AutosavePeriod = 60 * time.Second
	}
	if opts.MinimapWorkers <= 0 {
		opts.MinimapWorkers = 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &RiftService{
		opts:     opts,
		gateway:  layout.NewProcGateway(),
		tracker:  transition.NewTracker(),
		personal: make(map[string]*world.RegionGraph),
		pinned:   make(map[string]map[string]*layout.Descriptor),
		standing: make(map[string]int),
		ctx:      ctx,
		cancel:   cancel,
	}
	if opts.Scope == world.ScopeShared {
		s.shared = world.NewRegionGraph(world.ScopeShared, opts.WorldSeed)
	}

	s.builder = minimap.NewBuilder(opts.MinimapWorkers)
	s.guard = transition.NewPadGuard(opts.PadDebounce, s.playerOnPad, s.padTriggered)

	saves, err := storage.NewSaveManager(storage.SaveDeps{
		Store:      store,
		Scope:      opts.Scope,
		WorldSeed:  opts.WorldSeed,
		GraphFor:   s.graphFor,
		SessionFor: s.sessionFor,
		LayoutsFor: s.layoutsFor,
	})
	if err != nil {
		cancel()
		s.guard.Stop()
		s.builder.Stop()
		return nil, fmt.Errorf("менеджер сохранений: %w", err)
	}
	s.saves = saves

	coord, err := transition.NewCoordinator(transition.Deps{
		GraphFor:     s.graphFor,
		MapTypes:     world.NewMapTypeGenerator(opts.Generation, rand.New(rand.NewSource(opts.WorldSeed))),
		Gateway:      s.gateway,
		Minimap:      s.builder,
		Screen:       screen,
		Tracker:      s.tracker,
		Guard:        s.guard,
		Saver:        saves,
		PinnedLayout: s.pinnedFor,
	}, transition.Config{FadeInTimeout: opts.FadeInTimeout})
	if err != nil {
		cancel()
		s.guard.Stop()
		s.builder.Stop()
		saves.Stop()
		return nil, fmt.Errorf("координатор переходов: %w", err)
	}
	s.coord = coord

	if opts.Scope == world.ScopeShared {
		s.loadSharedWorld()
	}
	return s, nil
}

// loadSharedWorld восстанавливает общий граф из снимка или создаёт
// новый мир со стартовым регионом
func (s *RiftService) loadSharedWorld() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if snap, ok := s.saves.LoadWorld(ctx); ok {
		s.shared.RestoreState(snap.GraphState())
		s.setPinned(s.ownerKey(""), snap.LegacyLayouts())
		logging.Info("💾 Общий мир восстановлен: регионов=%d, связей=%d", s.shared.RegionCount(), s.shared.LinkCount())
		return
	}
	origin := s.shared.CreateOriginRegion()
	logging.Info("🌍 Создан новый общий мир, стартовый регион %s", origin.ID)
}

// Start запускает фоновые циклы автосохранения и обновления метрик
func (s *RiftService) Start() {
	s.wg.Add(1)
	go s.backgroundLoop()
	logging.Info("✅ Движок регионов запущен (scope=%s, seed=%d, autosave=%s)", s.opts.Scope, s.opts.WorldSeed, s.opts.AutosavePeriod)
}

func (s *RiftService) backgroundLoop() {
	defer s.wg.Done()

	autosave := time.NewTicker(s.opts.AutosavePeriod)
	defer autosave.Stop()
	gauges := time.NewTicker(5 * time.Second)
	defer gauges.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-autosave.C:
			players := s.OnlinePlayers()
			for _, id := range players {
				s.saves.SaveAsync(id)
			}
			if len(players) > 0 {
				logging.Debug("💾 Автосохранение: %d игроков поставлено в очередь", len(players))
			}
		case <-gauges.C:
			if s.opts.Metrics != nil {
				stats := s.Stats()
				s.opts.Metrics.Update(stats.PlayersOnline, stats.Regions, stats.UnlinkedPads, stats.ActiveInstances)
			}
		}
	}
}

// Stop останавливает движок: фоновые циклы, финальное сохранение всех
// подключённых игроков, затем подчинённые компоненты
func (s *RiftService) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, id := range s.OnlinePlayers() {
			if err := s.saves.SaveNow(ctx, id); err != nil {
				logging.Error("Финальное сохранение %s: %v", id, err)
			}
		}

		s.guard.Stop()
		s.builder.Stop()
		s.saves.Stop()
		logging.Info("✅ Движок регионов остановлен")
	})
}

// StartSession загружает сохранение игрока (или создаёт свежий мир),
// материализует текущий регион и регистрирует игрока у координатора.
// Возвращает стартовое состояние для отправки клиенту.
func (s *RiftService) StartSession(ctx context.Context, playerID string) (*JoinResult, error) {
	if playerID == "" {
		return nil, fmt.Errorf("пустой идентификатор игрока")
	}
	s.mu.Lock()
	if _, online := s.standing[playerID]; online {
		s.mu.Unlock()
		return nil, fmt.Errorf("игрок %s уже в игре", playerID)
	}
	s.mu.Unlock()

	graph := s.graphFor(playerID)
	session := world.NewPlayerSession(playerID)
	restored := false

	snap, found := s.saves.LoadPlayer(ctx, playerID)
	if found {
		if s.opts.Scope == world.ScopePerPlayer {
			graph.RestoreState(snap.GraphState())
			s.setPinned(s.ownerKey(playerID), snap.LegacyLayouts())
		}
		if loaded := snap.RestoreSession(playerID); loaded != nil {
			session = loaded
			restored = true
		}
	}

	region := s.resolveEntryRegion(graph, session)
	instance, err := s.materializeRegion(playerID, region)
	if err != nil {
		return nil, fmt.Errorf("материализация региона %s: %w", region.ID, err)
	}

	session.CurrentRegionID = region.ID
	session.Pending = nil
	s.tracker.Teleport(playerID, instance.Spawn)
	if roomID, ok := instance.RoomAt(instance.Spawn); ok {
		session.CurrentRoomID = roomID
		session.MarkVisited(region.RegionNum, roomID)
	}

	mm := s.buildJoinMinimap(instance.Descriptor)
	s.coord.AttachPlayer(playerID, session, instance, mm)

	// Если точка входа стоит на паде, прибытие не должно самозапуститься
	standing := -1
	for _, zone := range instance.Pads {
		if s.tracker.OnPad(playerID, zone) {
			standing = zone.PadID
			s.guard.SetMode(playerID, world.PadRef{RegionID: region.ID, PadID: zone.PadID}, transition.SpawnIn)
			break
		}
	}

	s.mu.Lock()
	s.standing[playerID] = standing
	s.mu.Unlock()

	if s.opts.Metrics != nil {
		s.opts.Metrics.SessionStarted()
	}
	logging.Info("🎮 Игрок %s вошёл в регион %s (комната=%d, restored=%v)", playerID, region.ID, session.CurrentRoomID, restored)

	return &JoinResult{
		PlayerID:  playerID,
		RegionID:  region.ID,
		RegionNum: region.RegionNum,
		RoomID:    session.CurrentRoomID,
		Container: instance.ContainerID,
		Position:  instance.Spawn,
		Restored:  restored,
		MiniMap:   mm,
	}, nil
}

// resolveEntryRegion выбирает регион входа: сохранённый регион сессии,
// активный регион графа, иначе свежий стартовый
func (s *RiftService) resolveEntryRegion(graph *world.RegionGraph, session *world.PlayerSession) *world.Region {
	if session.CurrentRegionID != "" {
		if region, ok := graph.GetRegion(session.CurrentRegionID); ok {
			return region
		}
		logging.Warn("Сессия %s указывает на несуществующий регион %s, откат к активному", session.PlayerID, session.CurrentRegionID)
	}
	if active := graph.ActiveRegionID(); active != "" {
		if region, ok := graph.GetRegion(active); ok {
			return region
		}
	}
	return graph.CreateOriginRegion()
}

// materializeRegion строит инстанс региона: закреплённая наследная
// геометрия имеет приоритет, иначе регенерация из зерна
func (s *RiftService) materializeRegion(playerID string, region *world.Region) (*layout.Instance, error) {
	var desc *layout.Descriptor
	if pinned, ok := s.pinnedFor(playerID, region.ID); ok {
		desc = pinned
	}
	if desc == nil {
		generated, err := s.gateway.Generate(region.Seed, region.RegionNum, region.PadCount)
		if err != nil {
			return nil, err
		}
		desc = generated
	}
	return s.gateway.Instantiate(desc)
}

// buildJoinMinimap строит миникарту стартового региона с ограниченным
// ожиданием. Не успела — клиент получит её после первого перехода.
func (s *RiftService) buildJoinMinimap(desc *layout.Descriptor) *minimap.MiniMap {
	ready := make(chan *minimap.MiniMap, 1)
	if err := s.builder.BuildAsync(desc, func(mm *minimap.MiniMap) { ready <- mm }); err != nil {
		logging.Warn("Миникарта региона %d не поставлена в очередь: %v", desc.RegionNum, err)
		return nil
	}
	select {
	case mm := <-ready:
		return mm
	case <-time.After(joinMinimapWait):
		logging.Warn("Миникарта региона %d не успела к входу", desc.RegionNum)
		return nil
	}
}

// HandleMovement принимает позицию игрока, обновляет трекер и кормит
// стражу падов событиями входа/выхода. Движение в переходе игнорируется.
func (s *RiftService) HandleMovement(playerID string, pos vec.Vec2Float) {
	if !s.tracker.UpdatePosition(playerID, pos) {
		return
	}
	instance, ok := s.coord.Instance(playerID)
	if !ok {
		return
	}
	regionID, ok := s.coord.CurrentRegion(playerID)
	if !ok {
		return
	}

	current := -1
	for _, zone := range instance.Pads {
		if s.tracker.OnPad(playerID, zone) {
			current = zone.PadID
			break
		}
	}

	s.mu.Lock()
	prev, online := s.standing[playerID]
	if !online {
		s.mu.Unlock()
		return
	}
	if current == prev {
		s.mu.Unlock()
		return
	}
	s.standing[playerID] = current
	s.mu.Unlock()

	if prev >= 0 {
		s.guard.HandleExit(playerID, world.PadRef{RegionID: regionID, PadID: prev})
	}
	if current >= 0 {
		s.guard.HandleEnter(playerID, world.PadRef{RegionID: regionID, PadID: current})
	}
}

// playerOnPad проверка для стражи: игрок физически стоит на паде
func (s *RiftService) playerOnPad(playerID string, pad world.PadRef) bool {
	regionID, ok := s.coord.CurrentRegion(playerID)
	if !ok || regionID != pad.RegionID {
		return false
	}
	instance, ok := s.coord.Instance(playerID)
	if !ok {
		return false
	}
	zone, ok := instance.PadZoneByID(pad.PadID)
	if !ok {
		return false
	}
	return s.tracker.OnPad(playerID, zone)
}

// padTriggered срабатывание пада: страж решил, что это новое прибытие
func (s *RiftService) padTriggered(playerID string, pad world.PadRef) {
	if err := s.coord.RequestJump(playerID, pad); err != nil {
		if s.opts.Metrics != nil {
			s.opts.Metrics.JumpRejected()
		}
		logging.Debug("Прыжок %s с пада %s:%d отклонён: %v", playerID, pad.RegionID, pad.PadID, err)
		return
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.JumpRequested()
	}
}

// ExitToTitle запускает переход выхода в меню
func (s *RiftService) ExitToTitle(playerID string) error {
	return s.coord.RequestExitToTitle(playerID)
}

// FadeOutComplete входящий сигнал клиента: затемнение завершено
func (s *RiftService) FadeOutComplete(playerID string) {
	s.coord.OnFadeOutComplete(playerID)
}

// TransitionComplete входящий сигнал клиента: проявление завершено
func (s *RiftService) TransitionComplete(playerID string) {
	s.coord.OnTransitionComplete(playerID)
	s.syncStanding(playerID)
}

// syncStanding пересчитывает пад под ногами после телепорта. Без
// пересчёта прежний пад исходного региона остался бы числиться под
// игроком, и страж не получил бы выход с пада прибытия. События входа
// не эмитятся: пад прибытия координатор уже перевёл в SpawnIn.
func (s *RiftService) syncStanding(playerID string) {
	instance, ok := s.coord.Instance(playerID)
	if !ok {
		return
	}

	current := -1
	for _, zone := range instance.Pads {
		if s.tracker.OnPad(playerID, zone) {
			current = zone.PadID
			break
		}
	}

	s.mu.Lock()
	if _, online := s.standing[playerID]; online {
		s.standing[playerID] = current
	}
	s.mu.Unlock()
}

// Phase текущая фаза машины переходов игрока
func (s *RiftService) Phase(playerID string) transition.Phase {
	return s.coord.Phase(playerID)
}

// CurrentRegion регион, в котором игрок находится сейчас
func (s *RiftService) CurrentRegion(playerID string) (string, bool) {
	return s.coord.CurrentRegion(playerID)
}

// Instance материализованный регион игрока: геометрия для клиента
func (s *RiftService) Instance(playerID string) (*layout.Instance, bool) {
	return s.coord.Instance(playerID)
}

// MiniMap миникарта текущего региона игрока
func (s *RiftService) MiniMap(playerID string) (*minimap.MiniMap, bool) {
	return s.coord.MiniMap(playerID)
}

// Position последняя известная позиция игрока
func (s *RiftService) Position(playerID string) (vec.Vec2Float, bool) {
	return s.tracker.Position(playerID)
}

// AreaSnapshot местоположение игрока для HUD клиента
type AreaSnapshot struct {
	RegionNum int
	RoomID    int
	Visited   []int
}

// AreaInfo собирает сведения о текущем регионе и посещённых комнатах
func (s *RiftService) AreaInfo(playerID string) (*AreaSnapshot, bool) {
	session, ok := s.sessionFor(playerID)
	if !ok {
		return nil, false
	}
	region, found := s.graphFor(playerID).GetRegion(session.CurrentRegionID)
	if !found {
		return nil, false
	}
	return &AreaSnapshot{
		RegionNum: region.RegionNum,
		RoomID:    session.CurrentRoomID,
		Visited:   session.VisitedInRegion(region.RegionNum),
	}, true
}

// Disconnect сохраняет игрока и освобождает его состояние. Сохранение
// идёт до сноса: координатор ещё держит сессию и граф цел.
func (s *RiftService) Disconnect(playerID string) {
	s.mu.Lock()
	if _, online := s.standing[playerID]; !online {
		s.mu.Unlock()
		return
	}
	delete(s.standing, playerID)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := s.saves.SaveNow(ctx, playerID); err != nil {
		logging.Error("Сохранение при выходе %s: %v", playerID, err)
	}
	cancel()

	s.coord.OnDisconnect(playerID)

	s.mu.Lock()
	delete(s.personal, playerID)
	if s.opts.Scope == world.ScopePerPlayer {
		delete(s.pinned, playerID)
	}
	s.mu.Unlock()
	logging.Info("🚪 Игрок %s отключён", playerID)
}

// ClearPlayerSave удаляет сохранение игрока и сбрасывает его состояние
// в памяти. Подключённый игрок тут же начинает заново со свежего мира.
func (s *RiftService) ClearPlayerSave(ctx context.Context, playerID string) error {
	if err := s.saves.ClearPlayer(ctx, playerID); err != nil {
		return err
	}

	s.mu.Lock()
	_, online := s.standing[playerID]
	delete(s.standing, playerID)
	if s.opts.Scope == world.ScopePerPlayer {
		delete(s.personal, playerID)
		delete(s.pinned, playerID)
	}
	s.mu.Unlock()

	if !online {
		return nil
	}
	s.coord.OnDisconnect(playerID)
	_, err := s.StartSession(ctx, playerID)
	return err
}

// ClearWorldSave удаляет снимок общего мира и пересоздаёт граф.
// Разрешено только без подключённых игроков.
func (s *RiftService) ClearWorldSave(ctx context.Context) error {
	if s.opts.Scope != world.ScopeShared {
		return fmt.Errorf("очистка мира доступна только в общем мире")
	}
	if online := len(s.OnlinePlayers()); online > 0 {
		return fmt.Errorf("очистка общего мира при %d подключённых игроках не поддерживается", online)
	}
	if err := s.saves.ClearWorld(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.pinned, s.ownerKey(""))
	s.mu.Unlock()

	s.shared.Reset()
	origin := s.shared.CreateOriginRegion()
	logging.Info("🧹 Общий мир очищен, новый стартовый регион %s", origin.ID)
	return nil
}

// OnlinePlayers возвращает идентификаторы подключённых игроков
func (s *RiftService) OnlinePlayers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	players := make([]string, 0, len(s.standing))
	for id := range s.standing {
		players = append(players, id)
	}
	return players
}

// Stats срез состояния движка
func (s *RiftService) Stats() EngineStats {
	stats := EngineStats{
		Scope:           s.opts.Scope.String(),
		WorldSeed:       s.opts.WorldSeed,
		ActiveInstances: s.gateway.ActiveCount(),
	}

	s.mu.RLock()
	stats.PlayersOnline = len(s.standing)
	graphs := make([]*world.RegionGraph, 0, len(s.personal)+1)
	if s.shared != nil {
		graphs = append(graphs, s.shared)
	}
	for _, g := range s.personal {
		graphs = append(graphs, g)
	}
	s.mu.RUnlock()

	for _, g := range graphs {
		stats.Regions += g.RegionCount()
		stats.Links += g.LinkCount()
		stats.UnlinkedPads += g.TotalUnlinkedPads()
	}
	return stats
}

// RegionSummary запись региона в обзоре графа
type RegionSummary struct {
	ID           string `json:"id"`
	RegionNum    int    `json:"region_num"`
	MapType      string `json:"map_type"`
	PadCount     int    `json:"pad_count"`
	LinkedPads   int    `json:"linked_pads"`
	UnlinkedPads int    `json:"unlinked_pads"`
	Active       bool   `json:"active"`
}

// GraphOverview возвращает регионы графа по порядку открытия. В общем
// мире playerID игнорируется, в личном обзор есть только у игрока с
// созданным графом.
func (s *RiftService) GraphOverview(playerID string) ([]RegionSummary, bool) {
	var graph *world.RegionGraph
	if s.opts.Scope == world.ScopeShared {
		graph = s.shared
	} else {
		s.mu.RLock()
		graph = s.personal[playerID]
		s.mu.RUnlock()
		if graph == nil {
			return nil, false
		}
	}

	state := graph.ExportState()
	summaries := make([]RegionSummary, 0, len(state.Regions))
	for _, region := range state.Regions {
		summaries = append(summaries, RegionSummary{
			ID:           region.ID,
			RegionNum:    region.RegionNum,
			MapType:      region.MapType.String(),
			PadCount:     region.PadCount,
			LinkedPads:   len(region.PadLinks),
			UnlinkedPads: region.UnlinkedPads(),
			Active:       region.ID == state.ActiveRegionID,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].RegionNum < summaries[j].RegionNum
	})
	return summaries, true
}

// graphFor возвращает граф игрока. В общем мире все делят один граф,
// в личном граф создаётся лениво с детерминированным зерном.
func (s *RiftService) graphFor(playerID string) *world.RegionGraph {
	if s.opts.Scope == world.ScopeShared {
		return s.shared
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	graph, ok := s.personal[playerID]
	if !ok {
		graph = world.NewRegionGraph(world.ScopePerPlayer, s.personalSeed(playerID))
		s.personal[playerID] = graph
	}
	return graph
}

// personalSeed выводит зерно личного мира из мирового зерна и имени
func (s *RiftService) personalSeed(playerID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(playerID))
	return s.opts.WorldSeed ^ int64(h.Sum64())
}

// sessionFor отдаёт сохранениям копию сессии подключённого игрока
func (s *RiftService) sessionFor(playerID string) (*world.PlayerSession, bool) {
	return s.coord.ExportSession(playerID)
}

// ownerKey ключ владельца закреплённых геометрий: в общем мире одна
// запись на весь граф
func (s *RiftService) ownerKey(playerID string) string {
	if s.opts.Scope == world.ScopeShared {
		return "world"
	}
	return playerID
}

func (s *RiftService) setPinned(owner string, layouts map[string]*layout.Descriptor) {
	if len(layouts) == 0 {
		return
	}
	s.mu.Lock()
	s.pinned[owner] = layouts
	s.mu.Unlock()
	logging.Info("⚠️ Загружено %d наследных регионов без зерна (владелец %s)", len(layouts), owner)
}

// pinnedFor возвращает закреплённую геометрию региона без зерна
func (s *RiftService) pinnedFor(playerID, regionID string) (*layout.Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	desc, ok := s.pinned[s.ownerKey(playerID)][regionID]
	return desc, ok
}

// layoutsFor отдаёт сохранениям карту наследных геометрий владельца
func (s *RiftService) layoutsFor(playerID string) map[string]*layout.Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.pinned[s.ownerKey(playerID)]
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]*layout.Descriptor, len(src))
	for id, desc := range src {
		out[id] = desc
	}
	return out
}
