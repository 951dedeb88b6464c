package storage

import (
	"context"
	"time"

	"github.com/annel0/rift-server/internal/eventbus"
)

// EventSavedDataCleared событие очистки сохранения
const EventSavedDataCleared = "SavedDataCleared"

const eventSource = "storage"

// SavedDataClearedEvent полезная нагрузка события очистки
type SavedDataClearedEvent struct {
	Success bool `json:"success"`
}

// publishSavedDataCleared уведомляет подписчиков об очистке сохранения
func publishSavedDataCleared(playerID string, success bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_ = eventbus.PublishJSON(ctx, eventSource, EventSavedDataCleared, playerID, 6, SavedDataClearedEvent{
		Success: success,
	})
}
