package world

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/annel0/rift-server/internal/logging"
)

// Ошибки операций над графом. Несогласованности графа не фатальны:
// вызывающий код логирует их и продолжает работу.
var (
	ErrRegionNotFound = errors.New("регион не найден")
	ErrPadNotFound    = errors.New("пад не найден")
	ErrPadLinked      = errors.New("пад уже связан")
	ErrPadClaimed     = errors.New("пад уже зарезервирован другим игроком")
)

// GraphScope определяет владение графом: общий мир или личный граф игрока
type GraphScope uint8

const (
	ScopeShared    GraphScope = iota // Один граф на инстанс мира
	ScopePerPlayer                   // Отдельный граф на игрока (solo-прогресс)
)

// String возвращает строковое представление области графа
func (s GraphScope) String() string {
	if s == ScopePerPlayer {
		return "per_player"
	}
	return "shared"
}

// ParseScope восстанавливает GraphScope из строки конфигурации
func ParseScope(s string) GraphScope {
	if s == "per_player" {
		return ScopePerPlayer
	}
	return ScopeShared
}

// ResolveResult результат разрешения пада при запросе прыжка
type ResolveResult struct {
	Linked bool   // Пад уже связан — переход в существующий регион
	Target PadRef // Заполнен, когда Linked == true
}

// GraphState снимок графа для кодека сохранений.
// Регионы — глубокие копии; claims в снимок не входят.
type GraphState struct {
	Regions        map[string]*Region
	RegionCount    int
	ActiveRegionID string
	UnlinkedPads   int
}

// RegionGraph авторитетный граф регионов: узлы, двусторонние связи падов
// и глобальный счётчик несвязанных падов. Несколько координаторов переходов
// работают с одним графом конкурентно, поэтому все операции берут мьютекс.
type RegionGraph struct {
	mu             sync.RWMutex
	scope          GraphScope
	worldSeed      int64
	rng            *rand.Rand
	regions        map[string]*Region
	regionCount    int
	linkCount      int
	activeRegionID string
	unlinkedPads   int
	claims         map[PadRef]string // пад -> id игрока; транзитные заявки, не сохраняются
}

// NewRegionGraph создаёт пустой граф. worldSeed задаёт поток зёрен
// для геометрии новых регионов.
func NewRegionGraph(scope GraphScope, worldSeed int64) *RegionGraph {
	return &RegionGraph{
		scope:     scope,
		worldSeed: worldSeed,
		rng:       rand.New(rand.NewSource(worldSeed)),
		regions:   make(map[string]*Region),
		claims:    make(map[PadRef]string),
	}
}

// Scope возвращает область владения графом
func (g *RegionGraph) Scope() GraphScope {
	return g.scope
}

// WorldSeed возвращает зерно мира
func (g *RegionGraph) WorldSeed() int64 {
	return g.worldSeed
}

// CreateOriginRegion создаёт стартовый регион: всегда коридор с двумя падами.
// Регион сразу становится активным.
func (g *RegionGraph) CreateOriginRegion() *Region {
	g.mu.Lock()
	region := g.newRegionLocked(MapTypeCorridor, 2)
	region.IsActive = true
	g.activeRegionID = region.ID
	g.mu.Unlock()

	logging.Info("🌍 Создан стартовый регион %s (seed=%d)", region.ID, region.Seed)
	publishRegionCreated(region, true)
	return region.Clone()
}

// CreateRegion добавляет регион без связей; id монотонно растёт.
func (g *RegionGraph) CreateRegion(mapType MapType, padCount int) *Region {
	g.mu.Lock()
	region := g.newRegionLocked(mapType, padCount)
	g.mu.Unlock()

	logging.Info("🌍 Создан регион %s (тип=%s, пады=%d)", region.ID, mapType, padCount)
	publishRegionCreated(region, false)
	return region.Clone()
}

// CreateRegionClassified добавляет регион, тип которого выбирает classify
// по фактическому номеру. Классификация выполняется под мьютексом графа:
// конкурентное создание не разведёт номер региона и его классификацию.
func (g *RegionGraph) CreateRegionClassified(classify func(regionNum int) (MapType, int)) *Region {
	g.mu.Lock()
	mapType, padCount := classify(g.regionCount + 1)
	region := g.newRegionLocked(mapType, padCount)
	g.mu.Unlock()

	logging.Info("🌍 Создан регион %s (тип=%s, пады=%d)", region.ID, mapType, padCount)
	publishRegionCreated(region, false)
	return region.Clone()
}

// newRegionLocked выделяет следующий id и регистрирует регион.
// Вызывается только под g.mu.
func (g *RegionGraph) newRegionLocked(mapType MapType, padCount int) *Region {
	g.regionCount++
	region := &Region{
		ID:        fmt.Sprintf("region_%d", g.regionCount),
		Seed:      g.rng.Int63(),
		RegionNum: g.regionCount,
		MapType:   mapType,
		PadCount:  padCount,
		PadLinks:  make(map[int]PadRef),
	}
	g.regions[region.ID] = region
	g.unlinkedPads += padCount
	return region
}

// LinkPads записывает симметричную связь между падами двух регионов и
// уменьшает счётчик несвязанных падов на 2. Отсутствующий регион или
// занятый пад — предупреждение и no-op: счётчик не трогаем,
// односторонние связи не появляются.
func (g *RegionGraph) LinkPads(regionA string, padA int, regionB string, padB int) error {
	g.mu.Lock()

	a, okA := g.regions[regionA]
	b, okB := g.regions[regionB]
	if !okA || !okB {
		g.mu.Unlock()
		logging.Warn("Связывание падов пропущено: регион не найден (%s, %s)", regionA, regionB)
		return ErrRegionNotFound
	}
	if padA < 0 || padA >= a.PadCount || padB < 0 || padB >= b.PadCount {
		g.mu.Unlock()
		logging.Warn("Связывание падов пропущено: пад вне диапазона (%s:%d, %s:%d)", regionA, padA, regionB, padB)
		return ErrPadNotFound
	}
	if _, linked := a.PadLinks[padA]; linked {
		g.mu.Unlock()
		logging.Warn("Связывание падов пропущено: пад %s:%d уже связан", regionA, padA)
		return ErrPadLinked
	}
	if _, linked := b.PadLinks[padB]; linked {
		g.mu.Unlock()
		logging.Warn("Связывание падов пропущено: пад %s:%d уже связан", regionB, padB)
		return ErrPadLinked
	}

	// Обе стороны пишутся под одним захватом мьютекса:
	// односторонняя связь не наблюдаема извне
	a.PadLinks[padA] = PadRef{RegionID: regionB, PadID: padB}
	b.PadLinks[padB] = PadRef{RegionID: regionA, PadID: padA}
	g.linkCount++
	g.unlinkedPads -= 2

	// Заявки на связанные пады больше не нужны
	delete(g.claims, PadRef{RegionID: regionA, PadID: padA})
	delete(g.claims, PadRef{RegionID: regionB, PadID: padB})
	g.mu.Unlock()

	logging.Debug("🔗 Пады связаны: %s:%d <-> %s:%d", regionA, padA, regionB, padB)
	publishPadsLinked(regionA, padA, regionB, padB)
	return nil
}

// GetRegion возвращает копию региона по id
func (g *RegionGraph) GetRegion(id string) (*Region, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	region, ok := g.regions[id]
	if !ok {
		return nil, false
	}
	return region.Clone(), true
}

// ResolveOrClaim атомарно разрешает пад при запросе прыжка.
// Связанный пад возвращает существующую цель. Несвязанный пад
// резервируется за игроком до завершения или отмены перехода:
// второй конкурентный запрос на тот же пад получает ErrPadClaimed
// и не породит дубликат региона.
func (g *RegionGraph) ResolveOrClaim(regionID string, padID int, playerID string) (ResolveResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	region, ok := g.regions[regionID]
	if !ok {
		return ResolveResult{}, ErrRegionNotFound
	}
	if padID < 0 || padID >= region.PadCount {
		return ResolveResult{}, ErrPadNotFound
	}

	if target, linked := region.PadLinks[padID]; linked {
		return ResolveResult{Linked: true, Target: target}, nil
	}

	ref := PadRef{RegionID: regionID, PadID: padID}
	if owner, claimed := g.claims[ref]; claimed && owner != playerID {
		return ResolveResult{}, ErrPadClaimed
	}
	g.claims[ref] = playerID
	return ResolveResult{}, nil
}

// ReleaseClaim снимает заявку игрока с пада. Вызывается при отмене
// перехода; чужие заявки не трогает.
func (g *RegionGraph) ReleaseClaim(regionID string, padID int, playerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ref := PadRef{RegionID: regionID, PadID: padID}
	if owner, claimed := g.claims[ref]; claimed && owner == playerID {
		delete(g.claims, ref)
	}
}

// ClaimedBy возвращает владельца заявки на пад, если она есть
func (g *RegionGraph) ClaimedBy(regionID string, padID int) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	owner, ok := g.claims[PadRef{RegionID: regionID, PadID: padID}]
	return owner, ok
}

// ActiveRegionID возвращает id активного региона
func (g *RegionGraph) ActiveRegionID() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.activeRegionID
}

// SetActiveRegion переключает активный регион. Узел прежнего активного
// региона остаётся в графе — сносится только материализованная геометрия.
func (g *RegionGraph) SetActiveRegion(id string) error {
	g.mu.Lock()

	region, ok := g.regions[id]
	if !ok {
		g.mu.Unlock()
		logging.Warn("Активация пропущена: регион %s не найден", id)
		return ErrRegionNotFound
	}
	if prev, ok := g.regions[g.activeRegionID]; ok {
		prev.IsActive = false
	}
	region.IsActive = true
	g.activeRegionID = id
	regionNum := region.RegionNum
	g.mu.Unlock()

	publishRegionActivated(id, regionNum)
	return nil
}

// TotalUnlinkedPads возвращает глобальный счётчик несвязанных падов —
// фронтир расширения мира.
func (g *RegionGraph) TotalUnlinkedPads() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.unlinkedPads
}

// RegionCount возвращает число созданных регионов (только растёт)
func (g *RegionGraph) RegionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.regionCount
}

// LinkCount возвращает число связей в графе
func (g *RegionGraph) LinkCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.linkCount
}

// ExportState возвращает глубокую копию графа для сохранения
func (g *RegionGraph) ExportState() GraphState {
	g.mu.RLock()
	defer g.mu.RUnlock()

	regions := make(map[string]*Region, len(g.regions))
	for id, region := range g.regions {
		regions[id] = region.Clone()
	}
	return GraphState{
		Regions:        regions,
		RegionCount:    g.regionCount,
		ActiveRegionID: g.activeRegionID,
		UnlinkedPads:   g.unlinkedPads,
	}
}

// RestoreState замещает содержимое графа загруженным снимком.
// Заявки всегда обнуляются: это транзитное состояние процесса.
func (g *RegionGraph) RestoreState(state GraphState) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.regions = make(map[string]*Region, len(state.Regions))
	links := 0
	for id, region := range state.Regions {
		g.regions[id] = region.Clone()
		links += len(region.PadLinks)
	}
	g.regionCount = state.RegionCount
	g.activeRegionID = state.ActiveRegionID
	g.unlinkedPads = state.UnlinkedPads
	g.linkCount = links / 2
	g.claims = make(map[PadRef]string)
}

// Reset очищает граф до пустого состояния
func (g *RegionGraph) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.regions = make(map[string]*Region)
	g.regionCount = 0
	g.linkCount = 0
	g.activeRegionID = ""
	g.unlinkedPads = 0
	g.claims = make(map[PadRef]string)
	g.rng = rand.New(rand.NewSource(g.worldSeed))
}
