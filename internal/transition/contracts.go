package transition

import (
	"github.com/annel0/rift-server/internal/layout"
	"github.com/annel0/rift-server/internal/minimap"
)

// Screen контракт клиента экранных переходов. Координатор шлёт команды
// фаз; подтверждения (fade-out завершён, переход завершён) приходят
// обратно входящими сигналами OnFadeOutComplete/OnTransitionComplete.
type Screen interface {
	TransitionStart(playerID, transitionID string)
	LoadingComplete(playerID, transitionID, containerID string)
	TransitionEnd(playerID, transitionID string)
}

// MapBuilder асинхронное построение миникарты. Готовность сообщается
// колбэком: построение может занимать несколько кадров.
type MapBuilder interface {
	BuildAsync(desc *layout.Descriptor, callback func(*minimap.MiniMap)) error
}

// Saver планирует асинхронное сохранение прогресса игрока.
// Недоступность хранилища не ошибка координатора.
type Saver interface {
	SaveAsync(playerID string)
}
