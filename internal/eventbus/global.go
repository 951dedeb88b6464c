package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

var globalBus EventBus

// Init устанавливает глобальную шину.
func Init(bus EventBus) { globalBus = bus }

// Global возвращает текущую глобальную шину (может быть nil).
func Global() EventBus { return globalBus }

// Publish отправляет событие в глобальную шину, если она инициализирована.
func Publish(ctx context.Context, ev *Envelope) error {
	if globalBus == nil {
		return nil
	}
	return globalBus.Publish(ctx, ev)
}

// PublishJSON собирает Envelope с UUID и timestamp, сериализует payload
// в JSON и публикует в глобальную шину. Ошибка сериализации возвращается,
// отсутствие шины — нет.
func PublishJSON(ctx context.Context, source, eventType, player string, priority int, payload interface{}) error {
	if globalBus == nil {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return globalBus.Publish(ctx, &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		EventType: eventType,
		Version:   1,
		Player:    player,
		Priority:  priority,
		Payload:   data,
	})
}
