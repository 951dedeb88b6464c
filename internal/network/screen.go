package network

import (
	"github.com/annel0/rift-server/internal/logging"
)

// RemoteScreen доставляет команды фаз перехода подключённым клиентам.
// Реализует контракт экрана координатора: каждая команда превращается
// в кадр; подтверждения клиента возвращаются через сервер как сигналы
// fade_out_complete и transition_complete.
type RemoteScreen struct {
	server *Server
	logger *logging.Logger
}

// NewRemoteScreen создаёт экран поверх игрового сервера
func NewRemoteScreen(server *Server) *RemoteScreen {
	return &RemoteScreen{
		server: server,
		logger: logging.GetNetworkLogger(),
	}
}

// TransitionStart команда клиенту начать затемнение
func (rs *RemoteScreen) TransitionStart(playerID, transitionID string) {
	rs.push(playerID, MsgTransitionStart, SignalPayload{TransitionID: transitionID})
}

// LoadingComplete новый регион готов: шлём геометрию и точку прибытия
func (rs *RemoteScreen) LoadingComplete(playerID, transitionID, containerID string) {
	payload := LoadingCompletePayload{
		TransitionID: transitionID,
		Container:    containerID,
	}
	if instance, ok := rs.server.game.Instance(playerID); ok {
		payload.Layout = layoutPayload(instance)
	}
	if pos, ok := rs.server.game.Position(playerID); ok {
		payload.Position = point(pos)
	}
	rs.push(playerID, MsgLoadingComplete, payload)
}

// TransitionEnd команда проявления с миникартой нового региона
func (rs *RemoteScreen) TransitionEnd(playerID, transitionID string) {
	payload := TransitionEndPayload{TransitionID: transitionID}
	if mm, ok := rs.server.game.MiniMap(playerID); ok {
		payload.MiniMap = minimapPayload(mm)
	}
	rs.push(playerID, MsgTransitionEnd, payload)
}

// push отправляет кадр игроку; разрыв соединения не ошибка экрана,
// координатор добьёт переход по таймауту
func (rs *RemoteScreen) push(playerID, msgType string, payload interface{}) {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		rs.logger.Error("Сборка кадра %s для %s: %v", msgType, playerID, err)
		return
	}
	if err := rs.server.SendToPlayer(playerID, msg); err != nil {
		rs.logger.Debug("Кадр %s не доставлен %s: %v", msgType, playerID, err)
	}
}
