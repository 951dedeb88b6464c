package world

import (
	"math/rand"
	"sync"
)

// GenerationConfig управляет ветвлением графа. Нулевые поля
// заменяются дефолтами при создании генератора.
type GenerationConfig struct {
	HubInterval      int // Каждый N-й регион принудительно хаб
	HubPadMin        int // Минимум падов у хаба
	HubPadMax        int // Максимум падов у хаба
	SpurChance       int // Шанс тупика после хаба (в процентах)
	HubCorridorBound int // Верхняя граница броска для коридора после хаба
	CorridorChance   int // Шанс коридора после коридора/тупика
}

// DefaultGenerationConfig возвращает параметры по умолчанию
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		HubInterval:      4,
		HubPadMin:        3,
		HubPadMax:        4,
		SpurChance:       25,
		HubCorridorBound: 75,
		CorridorChance:   70,
	}
}

// MapTypeGenerator чистый классификатор формы следующего региона.
// Весь рандом идёт через внедрённый rng: фиксированный поток
// воспроизводит последовательность решений в тестах. Генератор
// разделяется координаторами переходов, поэтому доступ к rng
// сериализован.
type MapTypeGenerator struct {
	cfg GenerationConfig
	mu  sync.Mutex
	rng *rand.Rand
}

// NewMapTypeGenerator создаёт генератор с проверкой конфигурации
func NewMapTypeGenerator(cfg GenerationConfig, rng *rand.Rand) *MapTypeGenerator {
	def := DefaultGenerationConfig()
	if cfg.HubInterval <= 0 {
		cfg.HubInterval = def.HubInterval
	}
	if cfg.HubPadMin <= 0 {
		cfg.HubPadMin = def.HubPadMin
	}
	if cfg.HubPadMax < cfg.HubPadMin {
		cfg.HubPadMax = cfg.HubPadMin
	}
	if cfg.SpurChance <= 0 {
		cfg.SpurChance = def.SpurChance
	}
	if cfg.HubCorridorBound <= cfg.SpurChance {
		cfg.HubCorridorBound = def.HubCorridorBound
	}
	if cfg.CorridorChance <= 0 {
		cfg.CorridorChance = def.CorridorChance
	}
	return &MapTypeGenerator{cfg: cfg, rng: rng}
}

// DetermineMapType решает тип и число падов следующего региона.
// Правила:
//  1. Первый регион — всегда коридор с двумя падами.
//  2. Каждый HubInterval-й регион — хаб независимо от происхождения:
//     периодическое ветвление ограничивает длину коридорных цепочек.
//  3. После хаба: до SpurChance — тупик, до HubCorridorBound — коридор,
//     иначе снова хаб. Тупик порождается только хабом, поэтому основной
//     путь через мир никогда не обрывается.
//  4. После коридора или тупика: до CorridorChance — коридор, иначе хаб.
func (g *MapTypeGenerator) DetermineMapType(isFirstRegion bool, sourceMapType MapType, regionNum int) (MapType, int) {
	if isFirstRegion {
		return MapTypeCorridor, 2
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if regionNum%g.cfg.HubInterval == 0 {
		return MapTypeHub, g.rollHubPads()
	}

	roll := 1 + g.rng.Intn(100)

	if sourceMapType == MapTypeHub {
		switch {
		case roll <= g.cfg.SpurChance:
			return MapTypeSpur, 1
		case roll <= g.cfg.HubCorridorBound:
			return MapTypeCorridor, 2
		default:
			return MapTypeHub, g.rollHubPads()
		}
	}

	if roll <= g.cfg.CorridorChance {
		return MapTypeCorridor, 2
	}
	return MapTypeHub, g.rollHubPads()
}

// rollHubPads выбирает число падов хаба из настроенного диапазона
func (g *MapTypeGenerator) rollHubPads() int {
	return g.cfg.HubPadMin + g.rng.Intn(g.cfg.HubPadMax-g.cfg.HubPadMin+1)
}
