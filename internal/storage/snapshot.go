package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/annel0/rift-server/internal/layout"
	"github.com/annel0/rift-server/internal/logging"
	"github.com/annel0/rift-server/internal/vec"
	"github.com/annel0/rift-server/internal/world"
)

// SnapshotVersion текущая версия формата. Версия 1 сохраняла полную
// геометрию регионов; версия 2 хранит только зёрна, геометрия
// детерминированно восстанавливается при загрузке.
const SnapshotVersion = 2

var (
	ErrCorruptSnapshot = errors.New("снимок повреждён")
	ErrFutureSnapshot  = errors.New("снимок создан более новой версией сервера")
)

// PadLinkRecord связь пада в снимке
type PadLinkRecord struct {
	RegionID string `json:"region_id"`
	PadID    int    `json:"pad_id"`
}

// RegionRecord регион в снимке: только метаданные для регенерации.
// Layout заполнен лишь у регионов из снимков версии 1, не имеющих зерна.
type RegionRecord struct {
	Seed      int64                 `json:"seed,omitempty"`
	RegionNum int                   `json:"region_num"`
	PadCount  int                   `json:"pad_count"`
	MapType   string                `json:"map_type"`
	PadLinks  map[int]PadLinkRecord `json:"pad_links,omitempty"`
	Layout    *LayoutRecord         `json:"layout,omitempty"`
}

// SessionRecord прогресс игрока в снимке
type SessionRecord struct {
	CurrentRegionID string               `json:"current_region_id"`
	CurrentRoomID   int                  `json:"current_room_id"`
	VisitedRooms    map[int]map[int]bool `json:"visited_rooms,omitempty"`
}

// Snapshot сохраняемое состояние: граф регионов и прогресс игрока.
// Числовые ключи карт переживают кодирование в JSON как строки и
// приводятся обратно к числам при разборе.
type Snapshot struct {
	Version      int                     `json:"version"`
	WorldSeed    int64                   `json:"world_seed"`
	Regions      map[string]RegionRecord `json:"regions"`
	RegionCount  int                     `json:"region_count"`
	ActiveRegion string                  `json:"active_region_id"`
	UnlinkedPads int                     `json:"unlinked_pad_count"`
	Session      *SessionRecord          `json:"session,omitempty"`
	SavedAt      time.Time               `json:"saved_at"`
}

// SessionSnapshot отдельная запись прогресса игрока для общего мира,
// где граф сохраняется одним снимком на всех.
type SessionSnapshot struct {
	Version  int           `json:"version"`
	PlayerID string        `json:"player_id"`
	Session  SessionRecord `json:"session"`
	SavedAt  time.Time     `json:"saved_at"`
}

// NewSnapshot проецирует состояние графа и сессию в сохраняемую форму.
// Геометрия не сохраняется: только зерно и метаданные. Регионы без
// зерна (наследие формата 1) получают свой закреплённый дескриптор
// из layouts.
func NewSnapshot(state world.GraphState, worldSeed int64, session *world.PlayerSession, layouts map[string]*layout.Descriptor) *Snapshot {
	snap := &Snapshot{
		Version:      SnapshotVersion,
		WorldSeed:    worldSeed,
		Regions:      make(map[string]RegionRecord, len(state.Regions)),
		RegionCount:  state.RegionCount,
		ActiveRegion: state.ActiveRegionID,
		UnlinkedPads: state.UnlinkedPads,
		SavedAt:      time.Now().UTC(),
	}

	for id, region := range state.Regions {
		rec := RegionRecord{
			Seed:      region.Seed,
			RegionNum: region.RegionNum,
			PadCount:  region.PadCount,
			MapType:   region.MapType.String(),
		}
		if len(region.PadLinks) > 0 {
			rec.PadLinks = make(map[int]PadLinkRecord, len(region.PadLinks))
			for padID, target := range region.PadLinks {
				rec.PadLinks[padID] = PadLinkRecord{RegionID: target.RegionID, PadID: target.PadID}
			}
		}
		if region.Seed == 0 {
			if desc, ok := layouts[id]; ok {
				rec.Layout = layoutRecordFromDescriptor(desc)
			}
		}
		snap.Regions[id] = rec
	}

	if session != nil {
		snap.Session = sessionRecord(session)
	}
	return snap
}

// sessionRecord снимает копию прогресса сессии
func sessionRecord(session *world.PlayerSession) *SessionRecord {
	rec := &SessionRecord{
		CurrentRegionID: session.CurrentRegionID,
		CurrentRoomID:   session.CurrentRoomID,
	}
	if len(session.VisitedRooms) > 0 {
		rec.VisitedRooms = make(map[int]map[int]bool, len(session.VisitedRooms))
		for regionNum, rooms := range session.VisitedRooms {
			copyRooms := make(map[int]bool, len(rooms))
			for roomID, visited := range rooms {
				if visited {
					copyRooms[roomID] = true
				}
			}
			rec.VisitedRooms[regionNum] = copyRooms
		}
	}
	return rec
}

// EncodeSnapshot сериализует снимок в JSON
func EncodeSnapshot(snap *Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации снимка: %w", err)
	}
	return data, nil
}

// DecodeSnapshot разбирает снимок любой поддерживаемой версии.
// Снимки версии 1 (без поля version) мигрируются на лету с
// предупреждением; повреждённые данные дают ошибку, и вызывающий
// стартует с чистого мира.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	if snap.Version > SnapshotVersion {
		return nil, fmt.Errorf("%w: версия %d", ErrFutureSnapshot, snap.Version)
	}
	if snap.Version == 0 {
		// Поля version нет: это формат 1 с полной геометрией
		legacy, err := decodeLegacySnapshot(data)
		if err != nil {
			return nil, err
		}
		snap = *legacy
	}

	if err := snap.validate(); err != nil {
		return nil, err
	}
	return &snap, nil
}

// validate проверяет структурную целостность снимка.
// Счётчики не принимаются на веру: несвязанные пады пересчитываются
// из фактических связей, расхождение логируется.
func (s *Snapshot) validate() error {
	if len(s.Regions) == 0 {
		return fmt.Errorf("%w: снимок без регионов", ErrCorruptSnapshot)
	}
	if _, ok := s.Regions[s.ActiveRegion]; !ok {
		return fmt.Errorf("%w: активный регион %s отсутствует", ErrCorruptSnapshot, s.ActiveRegion)
	}

	totalPads := 0
	directedLinks := 0
	maxRegionNum := 0

	for id, rec := range s.Regions {
		if rec.PadCount <= 0 {
			return fmt.Errorf("%w: регион %s без падов", ErrCorruptSnapshot, id)
		}
		if rec.Seed == 0 {
			// Регион без зерна обязан нести полную геометрию формата 1
			if rec.Layout == nil {
				return fmt.Errorf("%w: регион %s без зерна и без геометрии", ErrCorruptSnapshot, id)
			}
			if _, err := rec.Layout.Descriptor(rec.RegionNum); err != nil {
				return fmt.Errorf("%w: регион %s: %v", ErrCorruptSnapshot, id, err)
			}
			logging.Warn("Регион %s из снимка формата 1: используем сохранённую геометрию", id)
		}
		if rec.RegionNum > maxRegionNum {
			maxRegionNum = rec.RegionNum
		}
		totalPads += rec.PadCount

		for padID, target := range rec.PadLinks {
			if padID < 0 || padID >= rec.PadCount {
				return fmt.Errorf("%w: связь с пада %s:%d вне диапазона", ErrCorruptSnapshot, id, padID)
			}
			remote, ok := s.Regions[target.RegionID]
			if !ok {
				return fmt.Errorf("%w: связь %s:%d ведёт в отсутствующий регион %s", ErrCorruptSnapshot, id, padID, target.RegionID)
			}
			back, ok := remote.PadLinks[target.PadID]
			if !ok || back.RegionID != id || back.PadID != padID {
				return fmt.Errorf("%w: односторонняя связь %s:%d -> %s:%d", ErrCorruptSnapshot, id, padID, target.RegionID, target.PadID)
			}
			directedLinks++
		}
	}

	if s.RegionCount < maxRegionNum {
		logging.Warn("Счётчик регионов %d меньше максимального номера %d, поправляем", s.RegionCount, maxRegionNum)
		s.RegionCount = maxRegionNum
	}

	recomputed := totalPads - directedLinks
	if s.UnlinkedPads != recomputed {
		logging.Warn("Счётчик несвязанных падов %d расходится с фактом %d, пересчитан", s.UnlinkedPads, recomputed)
		s.UnlinkedPads = recomputed
	}
	return nil
}

// GraphState восстанавливает состояние графа из снимка
func (s *Snapshot) GraphState() world.GraphState {
	regions := make(map[string]*world.Region, len(s.Regions))
	for id, rec := range s.Regions {
		mapType, err := world.ParseMapType(rec.MapType)
		if err != nil {
			logging.Warn("Регион %s: %v, используем коридор", id, err)
		}
		region := &world.Region{
			ID:        id,
			Seed:      rec.Seed,
			RegionNum: rec.RegionNum,
			MapType:   mapType,
			PadCount:  rec.PadCount,
			PadLinks:  make(map[int]world.PadRef, len(rec.PadLinks)),
			IsActive:  id == s.ActiveRegion,
		}
		for padID, target := range rec.PadLinks {
			region.PadLinks[padID] = world.PadRef{RegionID: target.RegionID, PadID: target.PadID}
		}
		regions[id] = region
	}

	return world.GraphState{
		Regions:        regions,
		RegionCount:    s.RegionCount,
		ActiveRegionID: s.ActiveRegion,
		UnlinkedPads:   s.UnlinkedPads,
	}
}

// RestoreSession восстанавливает сессию игрока из снимка
func (s *Snapshot) RestoreSession(playerID string) *world.PlayerSession {
	session := world.NewPlayerSession(playerID)
	if s.Session == nil {
		session.CurrentRegionID = s.ActiveRegion
		return session
	}

	session.CurrentRegionID = s.Session.CurrentRegionID
	session.CurrentRoomID = s.Session.CurrentRoomID
	for regionNum, rooms := range s.Session.VisitedRooms {
		for roomID, visited := range rooms {
			if visited {
				session.MarkVisited(regionNum, roomID)
			}
		}
	}
	return session
}

// LegacyLayouts возвращает закреплённые дескрипторы регионов без зерна.
// Такие регионы материализуются из сохранённой геометрии, а не из
// генератора.
func (s *Snapshot) LegacyLayouts() map[string]*layout.Descriptor {
	var layouts map[string]*layout.Descriptor
	for id, rec := range s.Regions {
		if rec.Seed != 0 || rec.Layout == nil {
			continue
		}
		desc, err := rec.Layout.Descriptor(rec.RegionNum)
		if err != nil {
			continue // отсеяно валидацией при разборе
		}
		if layouts == nil {
			layouts = make(map[string]*layout.Descriptor)
		}
		layouts[id] = desc
	}
	return layouts
}

// --- формат 1 ---

// Формат 1 писался динамическим кодом: ключи карт строковые,
// имена полей в camelCase, регионы несут полную геометрию.
type legacySnapshot struct {
	Regions        map[string]legacyRegion    `json:"regions"`
	RegionCount    int                        `json:"regionCount"`
	ActiveRegionID string                     `json:"activeRegionId"`
	UnlinkedPads   int                        `json:"unlinkedPadCount"`
	CurrentRegion  string                     `json:"currentRegionId"`
	CurrentRoom    int                        `json:"currentRoomId"`
	VisitedRooms   map[string]map[string]bool `json:"visitedRooms"`
}

type legacyRegion struct {
	Seed      int64                    `json:"seed"`
	RegionNum int                      `json:"regionNum"`
	MapType   string                   `json:"mapType"`
	PadCount  int                      `json:"padCount"`
	PadLinks  map[string]legacyPadLink `json:"padLinks"`
	Layout    *LayoutRecord            `json:"layout"`
}

type legacyPadLink struct {
	RegionID string `json:"regionId"`
	PadID    int    `json:"padId"`
}

// decodeLegacySnapshot мигрирует снимок формата 1: строковые ключи
// приводятся к числам, прогресс переезжает в секцию session.
func decodeLegacySnapshot(data []byte) (*Snapshot, error) {
	var legacy legacySnapshot
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if len(legacy.Regions) == 0 {
		return nil, fmt.Errorf("%w: в снимке нет регионов", ErrCorruptSnapshot)
	}

	logging.Warn("⬆️ Снимок формата 1, мигрируем на формат %d", SnapshotVersion)

	snap := &Snapshot{
		Version:      SnapshotVersion,
		Regions:      make(map[string]RegionRecord, len(legacy.Regions)),
		RegionCount:  legacy.RegionCount,
		ActiveRegion: legacy.ActiveRegionID,
		UnlinkedPads: legacy.UnlinkedPads,
		SavedAt:      time.Now().UTC(),
	}

	for id, rec := range legacy.Regions {
		region := RegionRecord{
			Seed:      rec.Seed,
			RegionNum: rec.RegionNum,
			PadCount:  rec.PadCount,
			MapType:   rec.MapType,
			Layout:    rec.Layout,
		}
		if len(rec.PadLinks) > 0 {
			region.PadLinks = make(map[int]PadLinkRecord, len(rec.PadLinks))
			for key, link := range rec.PadLinks {
				padID, err := strconv.Atoi(key)
				if err != nil {
					logging.Warn("Регион %s: нечисловой ключ пада %q пропущен", id, key)
					continue
				}
				region.PadLinks[padID] = PadLinkRecord{RegionID: link.RegionID, PadID: link.PadID}
			}
		}
		snap.Regions[id] = region
	}

	session := &SessionRecord{
		CurrentRegionID: legacy.CurrentRegion,
		CurrentRoomID:   legacy.CurrentRoom,
	}
	if session.CurrentRegionID == "" {
		session.CurrentRegionID = legacy.ActiveRegionID
	}
	if len(legacy.VisitedRooms) > 0 {
		session.VisitedRooms = make(map[int]map[int]bool, len(legacy.VisitedRooms))
		for regionKey, rooms := range legacy.VisitedRooms {
			regionNum, err := strconv.Atoi(regionKey)
			if err != nil {
				logging.Warn("Нечисловой ключ региона %q в посещённых комнатах пропущен", regionKey)
				continue
			}
			converted := make(map[int]bool, len(rooms))
			for roomKey, visited := range rooms {
				roomID, err := strconv.Atoi(roomKey)
				if err != nil {
					logging.Warn("Нечисловой ключ комнаты %q пропущен", roomKey)
					continue
				}
				if visited {
					converted[roomID] = true
				}
			}
			session.VisitedRooms[regionNum] = converted
		}
	}
	snap.Session = session

	return snap, nil
}

// --- сохранённая геометрия формата 1 ---

// PointRecord точка в сохранённой геометрии
type PointRecord struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// GridRecord целочисленная ячейка сетки
type GridRecord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// LayoutRoomRecord комната в сохранённой геометрии
type LayoutRoomRecord struct {
	ID     int         `json:"id"`
	Grid   GridRecord  `json:"grid"`
	Center PointRecord `json:"center"`
	Width  int         `json:"width"`
	Height int         `json:"height"`
}

// LayoutDoorRecord дверь в сохранённой геометрии
type LayoutDoorRecord struct {
	FromRoom int         `json:"from_room"`
	ToRoom   int         `json:"to_room"`
	Position PointRecord `json:"position"`
}

// LayoutPadRecord пад в сохранённой геометрии
type LayoutPadRecord struct {
	ID       int         `json:"id"`
	RoomID   int         `json:"room_id"`
	Position PointRecord `json:"position"`
}

// LayoutRecord полная геометрия региона из снимков формата 1
type LayoutRecord struct {
	Rooms []LayoutRoomRecord `json:"rooms"`
	Doors []LayoutDoorRecord `json:"doors"`
	Pads  []LayoutPadRecord  `json:"pads"`
	Spawn PointRecord        `json:"spawn"`
}

// Descriptor проверяет структурную полноту сохранённой геометрии и
// собирает из неё рабочий дескриптор
func (lr *LayoutRecord) Descriptor(regionNum int) (*layout.Descriptor, error) {
	if len(lr.Rooms) == 0 {
		return nil, fmt.Errorf("геометрия без комнат")
	}
	if len(lr.Pads) == 0 {
		return nil, fmt.Errorf("геометрия без падов")
	}

	roomIDs := make(map[int]bool, len(lr.Rooms))
	for _, room := range lr.Rooms {
		if room.Width <= 0 || room.Height <= 0 {
			return nil, fmt.Errorf("комната %d с нулевыми размерами", room.ID)
		}
		roomIDs[room.ID] = true
	}
	for _, pad := range lr.Pads {
		if !roomIDs[pad.RoomID] {
			return nil, fmt.Errorf("пад %d ссылается на отсутствующую комнату %d", pad.ID, pad.RoomID)
		}
	}

	desc := &layout.Descriptor{
		Seed:      0,
		RegionNum: regionNum,
		PadCount:  len(lr.Pads),
		Rooms:     make([]layout.Room, 0, len(lr.Rooms)),
		Doors:     make([]layout.Door, 0, len(lr.Doors)),
		Pads:      make([]layout.Pad, 0, len(lr.Pads)),
		Spawn:     vec.Vec2Float{X: lr.Spawn.X, Y: lr.Spawn.Y},
	}
	for _, room := range lr.Rooms {
		desc.Rooms = append(desc.Rooms, layout.Room{
			ID:      room.ID,
			GridPos: vec.Vec2{X: room.Grid.X, Y: room.Grid.Y},
			Center:  vec.Vec2Float{X: room.Center.X, Y: room.Center.Y},
			Width:   room.Width,
			Height:  room.Height,
		})
	}
	for _, door := range lr.Doors {
		desc.Doors = append(desc.Doors, layout.Door{
			FromRoom: door.FromRoom,
			ToRoom:   door.ToRoom,
			Position: vec.Vec2Float{X: door.Position.X, Y: door.Position.Y},
		})
	}
	for _, pad := range lr.Pads {
		desc.Pads = append(desc.Pads, layout.Pad{
			ID:       pad.ID,
			RoomID:   pad.RoomID,
			Position: vec.Vec2Float{X: pad.Position.X, Y: pad.Position.Y},
		})
	}
	return desc, nil
}

// layoutRecordFromDescriptor проецирует дескриптор обратно в
// сохраняемую форму. Нужен только регионам без зерна: их геометрия
// продолжает жить в снимках.
func layoutRecordFromDescriptor(desc *layout.Descriptor) *LayoutRecord {
	rec := &LayoutRecord{
		Rooms: make([]LayoutRoomRecord, 0, len(desc.Rooms)),
		Doors: make([]LayoutDoorRecord, 0, len(desc.Doors)),
		Pads:  make([]LayoutPadRecord, 0, len(desc.Pads)),
		Spawn: PointRecord{X: desc.Spawn.X, Y: desc.Spawn.Y},
	}
	for _, room := range desc.Rooms {
		rec.Rooms = append(rec.Rooms, LayoutRoomRecord{
			ID:     room.ID,
			Grid:   GridRecord{X: room.GridPos.X, Y: room.GridPos.Y},
			Center: PointRecord{X: room.Center.X, Y: room.Center.Y},
			Width:  room.Width,
			Height: room.Height,
		})
	}
	for _, door := range desc.Doors {
		rec.Doors = append(rec.Doors, LayoutDoorRecord{
			FromRoom: door.FromRoom,
			ToRoom:   door.ToRoom,
			Position: PointRecord{X: door.Position.X, Y: door.Position.Y},
		})
	}
	for _, pad := range desc.Pads {
		rec.Pads = append(rec.Pads, LayoutPadRecord{
			ID:       pad.ID,
			RoomID:   pad.RoomID,
			Position: PointRecord{X: pad.Position.X, Y: pad.Position.Y},
		})
	}
	return rec
}
