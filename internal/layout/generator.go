package layout

import (
	"fmt"
	"math/rand"

	"github.com/annel0/rift-server/internal/vec"
	"github.com/aquilax/go-perlin"
)

// Параметры размещения комнат
const (
	cellSize    = 2.0  // Мировых единиц на клетку комнаты
	roomSpacing = 32.0 // Шаг между центрами соседних комнат
	minRoomSize = 8    // Минимальный размер комнаты в клетках
	roomSizeVar = 6    // Диапазон вариации размера
	padRadius   = 1.5  // Радиус зоны срабатывания пада
)

// Generator детерминированно строит геометрию региона из зерна.
// Каждый вызов создаёт собственный поток рандома и шума: глобального
// состояния нет, одинаковые входы дают одинаковый результат.
type Generator struct {
	alpha   float64 // Сглаживание шума
	beta    float64 // Частота шума
	octaves int32   // Количество октав
}

// NewGenerator создаёт генератор с настройками шума по умолчанию
func NewGenerator() *Generator {
	return &Generator{
		alpha:   2.0,
		beta:    2.0,
		octaves: 3,
	}
}

// Generate строит дескриптор региона. Число комнат, их размеры,
// блуждание по сетке и размещение падов целиком определяются зерном.
func (g *Generator) Generate(seed int64, regionNum, padCount int) (*Descriptor, error) {
	if padCount <= 0 {
		return nil, fmt.Errorf("некорректное число падов: %d", padCount)
	}

	rng := rand.New(rand.NewSource(seed))
	noise := perlin.NewPerlin(g.alpha, g.beta, g.octaves, seed)

	// Комнат всегда больше, чем падов: пады уходят в разные комнаты,
	// и остаётся хотя бы одна проходная
	roomCount := padCount + 2 + rng.Intn(3)

	rooms := make([]Room, 0, roomCount)
	occupied := make(map[vec.Vec2]bool, roomCount)
	gridPos := vec.Vec2{X: 0, Y: 0}

	for i := 0; i < roomCount; i++ {
		// Размеры комнаты из шума: организованная вариация вместо
		// равномерного рандома
		nw := noise.Noise2D(float64(i)*0.7, float64(regionNum)*0.3)
		nh := noise.Noise2D(float64(regionNum)*0.3, float64(i)*0.7)
		width := minRoomSize + int(((nw+1.0)/2.0)*float64(roomSizeVar))
		height := minRoomSize + int(((nh+1.0)/2.0)*float64(roomSizeVar))

		rooms = append(rooms, Room{
			ID:      i,
			GridPos: gridPos,
			Center: vec.Vec2Float{
				X: float64(gridPos.X) * roomSpacing,
				Y: float64(gridPos.Y) * roomSpacing,
			},
			Width:  width,
			Height: height,
		})
		occupied[gridPos] = true

		if i < roomCount-1 {
			gridPos = nextFreeCell(rng, occupied, gridPos)
		}
	}

	// Двери соединяют комнаты цепочкой в порядке размещения
	doors := make([]Door, 0, roomCount-1)
	for i := 1; i < roomCount; i++ {
		prev := rooms[i-1]
		curr := rooms[i]
		doors = append(doors, Door{
			FromRoom: prev.ID,
			ToRoom:   curr.ID,
			Position: vec.Vec2Float{
				X: (prev.Center.X + curr.Center.X) / 2,
				Y: (prev.Center.Y + curr.Center.Y) / 2,
			},
		})
	}

	// Пад 0 — прибытие, всегда в комнате 0. Остальные пады распределяются
	// по дальним комнатам с конца цепочки.
	pads := make([]Pad, 0, padCount)
	pads = append(pads, Pad{ID: 0, RoomID: 0, Position: rooms[0].Center})
	for k := 1; k < padCount; k++ {
		room := rooms[roomCount-k]
		pads = append(pads, Pad{ID: k, RoomID: room.ID, Position: room.Center})
	}

	return &Descriptor{
		Seed:      seed,
		RegionNum: regionNum,
		PadCount:  padCount,
		Rooms:     rooms,
		Doors:     doors,
		Pads:      pads,
		Spawn:     rooms[0].Center,
	}, nil
}

// nextFreeCell выбирает следующую свободную клетку сетки случайным
// блужданием; при полном окружении расширяется по оси X.
func nextFreeCell(rng *rand.Rand, occupied map[vec.Vec2]bool, from vec.Vec2) vec.Vec2 {
	directions := []vec.Vec2{
		{X: 1, Y: 0},
		{X: -1, Y: 0},
		{X: 0, Y: 1},
		{X: 0, Y: -1},
	}

	// Перебираем направления в случайном порядке
	order := rng.Perm(len(directions))
	for _, idx := range order {
		candidate := from.Add(directions[idx])
		if !occupied[candidate] {
			return candidate
		}
	}

	// Все соседи заняты: уходим по X до первой свободной клетки
	candidate := from
	for occupied[candidate] {
		candidate = candidate.Add(vec.Vec2{X: 1, Y: 0})
	}
	return candidate
}
