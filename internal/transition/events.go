package transition

import (
	"context"
	"time"

	"github.com/annel0/rift-server/internal/eventbus"
)

// Типы событий протокола перехода
const (
	EventTransitionRequested = "TransitionRequested"
	EventTransitionPhase     = "TransitionPhase"
	EventTransitionCompleted = "TransitionCompleted"
	EventTransitionFailed    = "TransitionFailed"
	EventAreaInfo            = "AreaInfo"
)

const eventSource = "transition"

// TransitionRequestedEvent публикуется при принятии запроса прыжка
type TransitionRequestedEvent struct {
	TransitionID string `json:"transition_id"`
	SourceRegion string `json:"source_region"`
	SourcePad    int    `json:"source_pad"`
	IsNewRegion  bool   `json:"is_new_region"`
}

// TransitionPhaseEvent публикуется при каждой смене фазы
type TransitionPhaseEvent struct {
	TransitionID string `json:"transition_id"`
	Phase        string `json:"phase"`
}

// TransitionCompletedEvent публикуется при возврате в Idle
type TransitionCompletedEvent struct {
	TransitionID  string `json:"transition_id"`
	TargetRegion  string `json:"target_region"`
	IsExitToTitle bool   `json:"is_exit_to_title"`
	DurationMs    int64  `json:"duration_ms"`
}

// TransitionFailedEvent публикуется при аварийном прерывании перехода
type TransitionFailedEvent struct {
	TransitionID string `json:"transition_id"`
	Reason       string `json:"reason"`
}

// AreaInfoEvent уведомление HUD о прибытии: регион, комната, прогресс
type AreaInfoEvent struct {
	RegionNum    int   `json:"region_num"`
	RoomNum      int   `json:"room_num"`
	VisitedRooms []int `json:"visited_rooms"`
}

func publishEvent(playerID, eventType string, priority int, payload interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = eventbus.PublishJSON(ctx, eventSource, eventType, playerID, priority, payload)
}
