package layout

import (
	"time"

	"github.com/annel0/rift-server/internal/vec"
)

// Room одна комната региона
type Room struct {
	ID      int
	GridPos vec.Vec2      // Позиция в сетке комнат
	Center  vec.Vec2Float // Центр в мировых координатах
	Width   int           // Ширина в клетках
	Height  int           // Высота в клетках
}

// Door проход между двумя соседними комнатами
type Door struct {
	FromRoom int
	ToRoom   int
	Position vec.Vec2Float
}

// Pad телепорт-площадка внутри комнаты
type Pad struct {
	ID       int
	RoomID   int
	Position vec.Vec2Float
}

// Descriptor полное описание геометрии региона. Чистая функция зерна:
// одинаковые (seed, regionNum, padCount) дают структурно идентичный
// дескриптор, поэтому в сохранение уходит только зерно.
type Descriptor struct {
	Seed      int64
	RegionNum int
	PadCount  int
	Rooms     []Room
	Doors     []Door
	Pads      []Pad
	Spawn     vec.Vec2Float
}

// RoomByID возвращает комнату по идентификатору
func (d *Descriptor) RoomByID(id int) (Room, bool) {
	for _, room := range d.Rooms {
		if room.ID == id {
			return room, true
		}
	}
	return Room{}, false
}

// PadByID возвращает пад по идентификатору
func (d *Descriptor) PadByID(id int) (Pad, bool) {
	for _, pad := range d.Pads {
		if pad.ID == id {
			return pad, true
		}
	}
	return Pad{}, false
}

// PadZone зона срабатывания пада в материализованном регионе
type PadZone struct {
	PadID    int
	RoomID   int
	Center   vec.Vec2Float
	Radius   float64
}

// RoomZone прямоугольная зона комнаты в мировых координатах
type RoomZone struct {
	RoomID int
	Min    vec.Vec2Float
	Max    vec.Vec2Float
}

// Instance материализованный регион: дескриптор, размещённый в мире.
// Хранится в реестре шлюза до сноса.
type Instance struct {
	ContainerID string // Уникальный handle для парного Destroy
	Descriptor  *Descriptor
	Spawn       vec.Vec2Float
	Pads        []PadZone
	RoomZones   []RoomZone
	CreatedAt   time.Time
}

// PadZoneByID возвращает зону пада материализованного региона
func (in *Instance) PadZoneByID(id int) (PadZone, bool) {
	for _, zone := range in.Pads {
		if zone.PadID == id {
			return zone, true
		}
	}
	return PadZone{}, false
}

// RoomAt возвращает комнату, содержащую точку
func (in *Instance) RoomAt(pos vec.Vec2Float) (int, bool) {
	for _, zone := range in.RoomZones {
		if pos.X >= zone.Min.X && pos.X <= zone.Max.X &&
			pos.Y >= zone.Min.Y && pos.Y <= zone.Max.Y {
			return zone.RoomID, true
		}
	}
	return 0, false
}
