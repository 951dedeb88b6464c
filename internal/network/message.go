// Package network реализует игровой транспорт: TCP и KCP каналы с
// кадрами длина+флаги+JSON и сжатием zstd для крупных кадров.
package network

import (
	"encoding/json"
	"fmt"

	"github.com/annel0/rift-server/internal/layout"
	"github.com/annel0/rift-server/internal/minimap"
	"github.com/annel0/rift-server/internal/vec"
)

// Типы сообщений клиента
const (
	MsgHello              = "hello"
	MsgMove               = "move"
	MsgFadeOutComplete    = "fade_out_complete"
	MsgTransitionComplete = "transition_complete"
	MsgExitToTitle        = "exit_to_title"
	MsgPing               = "ping"
)

// Типы сообщений сервера
const (
	MsgWelcome         = "welcome"
	MsgTransitionStart = "transition_start"
	MsgLoadingComplete = "loading_complete"
	MsgTransitionEnd   = "transition_end"
	MsgAreaInfo        = "area_info"
	MsgError           = "error"
	MsgPong            = "pong"
)

// Message единица протокола. Направление определяется типом; payload
// разбирается в типизированную структуру по месту.
type Message struct {
	Type    string          `json:"type"`
	Seq     uint32          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage собирает сообщение с сериализованной полезной нагрузкой
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	msg := &Message{Type: msgType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Payload = data
	}
	return msg, nil
}

// UnmarshalPayload разбирает полезную нагрузку в типизированную структуру
func (m *Message) UnmarshalPayload(v interface{}) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("сообщение %s без полезной нагрузки", m.Type)
	}
	return json.Unmarshal(m.Payload, v)
}

// HelloPayload первое сообщение клиента: представление и токен
type HelloPayload struct {
	PlayerID string `json:"player_id"`
	Token    string `json:"token,omitempty"`
}

// MovePayload позиция игрока в мировых координатах
type MovePayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// SignalPayload подтверждение фазы перехода
type SignalPayload struct {
	TransitionID string `json:"transition_id,omitempty"`
}

// ErrorPayload причина отказа сервера
type ErrorPayload struct {
	Message string `json:"message"`
}

// PointPayload точка в мировых координатах
type PointPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// RoomPayload комната региона для клиента
type RoomPayload struct {
	ID     int          `json:"id"`
	Center PointPayload `json:"center"`
	Width  int          `json:"width"`
	Height int          `json:"height"`
}

// DoorPayload дверь между комнатами
type DoorPayload struct {
	FromRoom int          `json:"from_room"`
	ToRoom   int          `json:"to_room"`
	Position PointPayload `json:"position"`
}

// PadPayload телепорт-пад региона
type PadPayload struct {
	ID       int          `json:"id"`
	RoomID   int          `json:"room_id"`
	Position PointPayload `json:"position"`
	Radius   float64      `json:"radius"`
}

// LayoutPayload геометрия региона, достаточная клиенту для отрисовки
type LayoutPayload struct {
	RegionNum int           `json:"region_num"`
	Rooms     []RoomPayload `json:"rooms"`
	Doors     []DoorPayload `json:"doors"`
	Pads      []PadPayload  `json:"pads"`
	Spawn     PointPayload  `json:"spawn"`
}

// MiniMapPayload растровая миникарта региона
type MiniMapPayload struct {
	RegionNum int      `json:"region_num"`
	Grid      []string `json:"grid"`
	RoomCount int      `json:"room_count"`
	PadRooms  []int    `json:"pad_rooms"`
}

// WelcomePayload стартовое состояние сессии после hello
type WelcomePayload struct {
	PlayerID  string          `json:"player_id"`
	RegionID  string          `json:"region_id"`
	RegionNum int             `json:"region_num"`
	RoomID    int             `json:"room_id"`
	Container string          `json:"container"`
	Position  PointPayload    `json:"position"`
	Restored  bool            `json:"restored"`
	Layout    *LayoutPayload  `json:"layout,omitempty"`
	MiniMap   *MiniMapPayload `json:"minimap,omitempty"`
}

// LoadingCompletePayload новый регион готов: геометрия и позиция прибытия
type LoadingCompletePayload struct {
	TransitionID string         `json:"transition_id"`
	Container    string         `json:"container"`
	Layout       *LayoutPayload `json:"layout,omitempty"`
	Position     PointPayload   `json:"position"`
}

// TransitionEndPayload финальная фаза: миникарта нового региона
type TransitionEndPayload struct {
	TransitionID string          `json:"transition_id"`
	MiniMap      *MiniMapPayload `json:"minimap,omitempty"`
}

// AreaInfoPayload сведения для HUD после прибытия
type AreaInfoPayload struct {
	RegionNum    int   `json:"region_num"`
	RoomNum      int   `json:"room_num"`
	VisitedRooms []int `json:"visited_rooms"`
}

// layoutPayload проецирует материализованный регион в форму клиента
func layoutPayload(instance *layout.Instance) *LayoutPayload {
	if instance == nil || instance.Descriptor == nil {
		return nil
	}
	desc := instance.Descriptor

	out := &LayoutPayload{
		RegionNum: desc.RegionNum,
		Rooms:     make([]RoomPayload, 0, len(desc.Rooms)),
		Doors:     make([]DoorPayload, 0, len(desc.Doors)),
		Pads:      make([]PadPayload, 0, len(instance.Pads)),
		Spawn:     point(desc.Spawn),
	}
	for _, room := range desc.Rooms {
		out.Rooms = append(out.Rooms, RoomPayload{
			ID:     room.ID,
			Center: point(room.Center),
			Width:  room.Width,
			Height: room.Height,
		})
	}
	for _, door := range desc.Doors {
		out.Doors = append(out.Doors, DoorPayload{
			FromRoom: door.FromRoom,
			ToRoom:   door.ToRoom,
			Position: point(door.Position),
		})
	}
	for _, pad := range instance.Pads {
		out.Pads = append(out.Pads, PadPayload{
			ID:       pad.PadID,
			RoomID:   pad.RoomID,
			Position: point(pad.Center),
			Radius:   pad.Radius,
		})
	}
	return out
}

// minimapPayload проецирует миникарту в форму клиента
func minimapPayload(mm *minimap.MiniMap) *MiniMapPayload {
	if mm == nil {
		return nil
	}
	return &MiniMapPayload{
		RegionNum: mm.RegionNum,
		Grid:      mm.Grid,
		RoomCount: mm.RoomCount,
		PadRooms:  mm.PadRooms,
	}
}

func point(v vec.Vec2Float) PointPayload {
	return PointPayload{X: v.X, Y: v.Y}
}
