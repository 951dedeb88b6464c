package world

import "fmt"

// MapType классифицирует роль региона в графе телепортов
type MapType uint8

const (
	MapTypeSpur     MapType = iota // Тупик с единственным падом
	MapTypeCorridor                // Проходной регион с двумя падами
	MapTypeHub                     // Узел ветвления с 3-4 падами
)

// String возвращает строковое представление типа карты
func (mt MapType) String() string {
	switch mt {
	case MapTypeSpur:
		return "spur"
	case MapTypeCorridor:
		return "corridor"
	case MapTypeHub:
		return "hub"
	default:
		return "unknown"
	}
}

// ParseMapType восстанавливает MapType из строки (формат сохранений)
func ParseMapType(s string) (MapType, error) {
	switch s {
	case "spur":
		return MapTypeSpur, nil
	case "corridor":
		return MapTypeCorridor, nil
	case "hub":
		return MapTypeHub, nil
	default:
		return MapTypeCorridor, fmt.Errorf("неизвестный тип карты: %q", s)
	}
}

// PadRef адресует пад внутри конкретного региона
type PadRef struct {
	RegionID string
	PadID    int
}

// Region узел графа: метаданные, достаточные для детерминированной
// регенерации геометрии. Сама геометрия в графе не хранится.
type Region struct {
	ID        string
	Seed      int64
	RegionNum int
	MapType   MapType
	PadCount  int
	PadLinks  map[int]PadRef // локальный пад -> пад другого региона
	IsActive  bool
}

// UnlinkedPads возвращает количество несвязанных падов региона
func (r *Region) UnlinkedPads() int {
	return r.PadCount - len(r.PadLinks)
}

// FirstUnlinkedPad возвращает пад с наименьшим номером без связи.
// У свежего региона это пад 0 — на него прибывает игрок.
func (r *Region) FirstUnlinkedPad() (int, bool) {
	for pad := 0; pad < r.PadCount; pad++ {
		if _, linked := r.PadLinks[pad]; !linked {
			return pad, true
		}
	}
	return 0, false
}

// Clone возвращает глубокую копию региона
func (r *Region) Clone() *Region {
	links := make(map[int]PadRef, len(r.PadLinks))
	for pad, ref := range r.PadLinks {
		links[pad] = ref
	}
	return &Region{
		ID:        r.ID,
		Seed:      r.Seed,
		RegionNum: r.RegionNum,
		MapType:   r.MapType,
		PadCount:  r.PadCount,
		PadLinks:  links,
		IsActive:  r.IsActive,
	}
}
