package world

import "time"

// PlayerSession прогресс игрока: текущая позиция в графе и посещённые
// комнаты. Сессией монопольно владеет координатор переходов игрока,
// поэтому собственной синхронизации здесь нет.
type PlayerSession struct {
	PlayerID        string
	CurrentRegionID string
	CurrentRoomID   int
	VisitedRooms    map[int]map[int]bool // номер региона -> id комнаты -> посещена
	Pending         *PendingTransition
}

// PendingTransition описывает переход в полёте. Живёт от принятия
// запроса до завершения финальной фазы; у игрока не может быть двух
// переходов одновременно.
type PendingTransition struct {
	ID             string // correlation id для событий
	SourceRegionID string
	SourcePadID    int
	TargetRegionID string // заполняется, когда цель становится известна
	TargetPadID    int
	IsNewRegion    bool
	IsExitToTitle  bool
	StartedAt      time.Time
}

// NewPlayerSession создаёт пустую сессию игрока
func NewPlayerSession(playerID string) *PlayerSession {
	return &PlayerSession{
		PlayerID:     playerID,
		VisitedRooms: make(map[int]map[int]bool),
	}
}

// MarkVisited отмечает комнату региона как посещённую
func (s *PlayerSession) MarkVisited(regionNum, roomID int) {
	rooms, ok := s.VisitedRooms[regionNum]
	if !ok {
		rooms = make(map[int]bool)
		s.VisitedRooms[regionNum] = rooms
	}
	rooms[roomID] = true
}

// HasVisited сообщает, была ли комната посещена
func (s *PlayerSession) HasVisited(regionNum, roomID int) bool {
	return s.VisitedRooms[regionNum][roomID]
}

// VisitedInRegion возвращает список посещённых комнат региона
func (s *PlayerSession) VisitedInRegion(regionNum int) []int {
	rooms := make([]int, 0, len(s.VisitedRooms[regionNum]))
	for roomID, visited := range s.VisitedRooms[regionNum] {
		if visited {
			rooms = append(rooms, roomID)
		}
	}
	return rooms
}
