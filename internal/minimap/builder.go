package minimap

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/annel0/rift-server/internal/layout"
	"github.com/annel0/rift-server/internal/logging"
	"github.com/annel0/rift-server/internal/vec"
)

// MiniMap компактное представление региона для HUD игрока
type MiniMap struct {
	RegionNum int
	Grid      []string // Построчная сетка комнат
	RoomCount int
	PadRooms  []int // Комнаты с падами
	BuiltAt   time.Time
}

// Builder строит миникарты асинхронно. Построение может занимать
// несколько кадров, поэтому готовность сообщается колбэком, а не
// возвратом: вызывающий код продолжает работу и ждёт сигнал.
type Builder struct {
	jobs chan buildJob
	quit chan struct{}
	wg   sync.WaitGroup
}

type buildJob struct {
	desc     *layout.Descriptor
	callback func(*MiniMap)
}

// NewBuilder создаёт билдер и запускает воркеров
func NewBuilder(workers int) *Builder {
	if workers <= 0 {
		workers = 2
	}

	b := &Builder{
		jobs: make(chan buildJob, 64),
		quit: make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}

	return b
}

// Stop останавливает воркеров; поставленные задачи доделываются
func (b *Builder) Stop() {
	close(b.quit)
	b.wg.Wait()
}

// BuildAsync ставит построение миникарты в очередь. Колбэк вызывается
// из горутины воркера, когда карта готова.
func (b *Builder) BuildAsync(desc *layout.Descriptor, callback func(*MiniMap)) error {
	if desc == nil {
		return fmt.Errorf("пустой дескриптор")
	}

	select {
	case b.jobs <- buildJob{desc: desc, callback: callback}:
		return nil
	default:
		return fmt.Errorf("очередь миникарт заполнена")
	}
}

func (b *Builder) worker() {
	defer b.wg.Done()

	for {
		select {
		case <-b.quit:
			return
		case job := <-b.jobs:
			mm := render(job.desc)
			logging.Debug("🗺️ Миникарта региона %d построена (%d комнат)", mm.RegionNum, mm.RoomCount)
			if job.callback != nil {
				job.callback(mm)
			}
		}
	}
}

// render превращает дескриптор в построчную сетку:
// S — комната прибытия, P — комната с падом, # — обычная комната.
func render(desc *layout.Descriptor) *MiniMap {
	minX, maxX := 0, 0
	minY, maxY := 0, 0
	for _, room := range desc.Rooms {
		if room.GridPos.X < minX {
			minX = room.GridPos.X
		}
		if room.GridPos.X > maxX {
			maxX = room.GridPos.X
		}
		if room.GridPos.Y < minY {
			minY = room.GridPos.Y
		}
		if room.GridPos.Y > maxY {
			maxY = room.GridPos.Y
		}
	}

	padRooms := make(map[int]bool, len(desc.Pads))
	padList := make([]int, 0, len(desc.Pads))
	for _, pad := range desc.Pads {
		padRooms[pad.RoomID] = true
		padList = append(padList, pad.RoomID)
	}

	cells := make(map[vec.Vec2]rune, len(desc.Rooms))
	for _, room := range desc.Rooms {
		marker := '#'
		if padRooms[room.ID] {
			marker = 'P'
		}
		if room.ID == 0 {
			marker = 'S'
		}
		cells[room.GridPos] = marker
	}

	grid := make([]string, 0, maxY-minY+1)
	for y := minY; y <= maxY; y++ {
		var row strings.Builder
		for x := minX; x <= maxX; x++ {
			if marker, ok := cells[vec.Vec2{X: x, Y: y}]; ok {
				row.WriteRune(marker)
			} else {
				row.WriteRune('.')
			}
		}
		grid = append(grid, row.String())
	}

	return &MiniMap{
		RegionNum: desc.RegionNum,
		Grid:      grid,
		RoomCount: len(desc.Rooms),
		PadRooms:  padList,
		BuiltAt:   time.Now(),
	}
}
