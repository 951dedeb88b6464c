package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	kcp "github.com/xtaci/kcp-go/v5"

	"github.com/annel0/rift-server/internal/game"
	"github.com/annel0/rift-server/internal/logging"
	"github.com/annel0/rift-server/internal/vec"
)

const (
	helloTimeout  = 10 * time.Second
	clientTimeout = 60 * time.Second
	receivePoll   = time.Second

	// Пауза перед закрытием отказанного соединения: кадр ошибки должен
	// успеть уйти из буфера отправки
	errorFlushDelay = 100 * time.Millisecond
)

// TokenValidator проверяет токен из hello и возвращает идентификатор
// игрока. nil валидатор означает доверие к player_id из hello.
type TokenValidator func(token string) (string, error)

// Server принимает клиентов по TCP и KCP, проводит рукопожатие и
// маршрутизирует их сигналы в движок регионов. Пустой адрес отключает
// соответствующий транспорт.
type Server struct {
	tcpAddr string
	kcpAddr string

	tcpListener net.Listener
	kcpListener *kcp.Listener

	game      *game.RiftService
	validator TokenValidator

	clients   map[string]*remoteClient
	clientsMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *logging.Logger
}

// remoteClient подключённый и прошедший рукопожатие игрок
type remoteClient struct {
	playerID string
	channel  NetChannel
	lastSeen time.Time
}

// NewServer создаёт сервер без привязки к движку. Движок подключается
// через SetGame до Start: экран переходов строится поверх сервера.
func NewServer(tcpAddr, kcpAddr string) *Server {
	return &Server{
		tcpAddr: tcpAddr,
		kcpAddr: kcpAddr,
		clients: make(map[string]*remoteClient),
		logger:  logging.GetNetworkLogger(),
	}
}

// SetGame привязывает движок регионов
func (s *Server) SetGame(g *game.RiftService) {
	s.game = g
}

// SetTokenValidator включает проверку токенов при рукопожатии
func (s *Server) SetTokenValidator(v TokenValidator) {
	s.validator = v
}

// Start открывает слушатели и запускает циклы приёма
func (s *Server) Start() error {
	if s.game == nil {
		return fmt.Errorf("движок не привязан к серверу")
	}
	if s.tcpAddr == "" && s.kcpAddr == "" {
		return fmt.Errorf("не задан ни один адрес транспорта")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	if s.tcpAddr != "" {
		listener, err := net.Listen("tcp", s.tcpAddr)
		if err != nil {
			return fmt.Errorf("слушатель TCP на %s: %w", s.tcpAddr, err)
		}
		s.tcpListener = listener
		s.wg.Add(1)
		go s.acceptTCP()
		s.logger.Info("🚀 TCP сервер запущен на %s", listener.Addr())
	}

	if s.kcpAddr != "" {
		// Параметры FEC обязаны совпадать с клиентским DialWithOptions
		listener, err := kcp.ListenWithOptions(s.kcpAddr, nil, 10, 3)
		if err != nil {
			if s.tcpListener != nil {
				s.tcpListener.Close()
			}
			return fmt.Errorf("слушатель KCP на %s: %w", s.kcpAddr, err)
		}
		s.kcpListener = listener
		s.wg.Add(1)
		go s.acceptKCP()
		s.logger.Info("🚀 KCP сервер запущен на %s", listener.Addr())
	}

	s.wg.Add(1)
	go s.timeoutLoop()

	return nil
}

// Stop закрывает слушатели, ждёт обработчики и отключает клиентов
func (s *Server) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.tcpListener != nil {
		s.tcpListener.Close()
	}
	if s.kcpListener != nil {
		s.kcpListener.Close()
	}
	s.wg.Wait()

	// Обработчики сами снимают клиентов при выходе; подчищаем остаток
	s.clientsMu.Lock()
	rest := make([]*remoteClient, 0, len(s.clients))
	for id, client := range s.clients {
		rest = append(rest, client)
		delete(s.clients, id)
	}
	s.clientsMu.Unlock()
	for _, client := range rest {
		client.channel.Close()
		s.game.Disconnect(client.playerID)
	}

	s.logger.Info("🛑 Игровой сервер остановлен")
	return nil
}

// TCPAddr фактический адрес TCP слушателя (для тестов с портом 0)
func (s *Server) TCPAddr() string {
	if s.tcpListener == nil {
		return ""
	}
	return s.tcpListener.Addr().String()
}

// KCPAddr фактический адрес KCP слушателя
func (s *Server) KCPAddr() string {
	if s.kcpListener == nil {
		return ""
	}
	return s.kcpListener.Addr().String()
}

// ClientCount количество клиентов, прошедших рукопожатие
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// SendToPlayer отправляет сообщение подключённому игроку
func (s *Server) SendToPlayer(playerID string, msg *Message) error {
	s.clientsMu.RLock()
	client, ok := s.clients[playerID]
	s.clientsMu.RUnlock()
	if !ok {
		return fmt.Errorf("игрок %s не подключён", playerID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return client.channel.Send(ctx, msg)
}

func (s *Server) acceptTCP() {
	defer s.wg.Done()

	for {
		conn, err := s.tcpListener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Приём TCP соединения: %v", err)
				continue
			}
		}

		channel, err := NewTCPChannelFromConn(conn, s.logger)
		if err != nil {
			s.logger.Error("Создание TCP канала: %v", err)
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handleClient(channel)
	}
}

func (s *Server) acceptKCP() {
	defer s.wg.Done()

	for {
		session, err := s.kcpListener.AcceptKCP()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Приём KCP сессии: %v", err)
				continue
			}
		}

		channel, err := NewKCPChannelFromConn(session, s.logger)
		if err != nil {
			s.logger.Error("Создание KCP канала: %v", err)
			session.Close()
			continue
		}

		s.wg.Add(1)
		go s.handleClient(channel)
	}
}

// handleClient проводит рукопожатие и читает сообщения до разрыва
func (s *Server) handleClient(channel NetChannel) {
	defer s.wg.Done()

	playerID, err := s.handshake(channel)
	if err != nil {
		s.logger.Warn("Рукопожатие с %s: %v", channel.RemoteAddr(), err)
		s.sendError(channel, err.Error())
		time.Sleep(errorFlushDelay)
		channel.Close()
		return
	}

	client := &remoteClient{
		playerID: playerID,
		channel:  channel,
		lastSeen: time.Now(),
	}
	s.clientsMu.Lock()
	s.clients[playerID] = client
	s.clientsMu.Unlock()

	s.readLoop(client)
	s.dropClient(playerID)
}

// handshake ждёт hello, проверяет токен и стартует сессию в движке.
// Ответ welcome несёт стартовый регион целиком.
func (s *Server) handshake(channel NetChannel) (string, error) {
	ctx, cancel := context.WithTimeout(s.ctx, helloTimeout)
	defer cancel()

	msg, err := channel.Receive(ctx)
	if err != nil {
		return "", fmt.Errorf("ожидание hello: %w", err)
	}
	if msg.Type != MsgHello {
		return "", fmt.Errorf("ожидалось hello, получено %s", msg.Type)
	}

	var hello HelloPayload
	if err := msg.UnmarshalPayload(&hello); err != nil {
		return "", fmt.Errorf("разбор hello: %w", err)
	}

	playerID := hello.PlayerID
	if s.validator != nil {
		id, err := s.validator(hello.Token)
		if err != nil {
			return "", fmt.Errorf("проверка токена: %w", err)
		}
		playerID = id
	}
	if playerID == "" {
		return "", fmt.Errorf("пустой идентификатор игрока")
	}

	join, err := s.game.StartSession(ctx, playerID)
	if err != nil {
		return "", fmt.Errorf("вход в игру: %w", err)
	}

	welcome := WelcomePayload{
		PlayerID:  join.PlayerID,
		RegionID:  join.RegionID,
		RegionNum: join.RegionNum,
		RoomID:    join.RoomID,
		Container: join.Container,
		Position:  point(join.Position),
		Restored:  join.Restored,
		MiniMap:   minimapPayload(join.MiniMap),
	}
	if instance, ok := s.game.Instance(playerID); ok {
		welcome.Layout = layoutPayload(instance)
	}

	reply, err := NewMessage(MsgWelcome, welcome)
	if err != nil {
		s.game.Disconnect(playerID)
		return "", fmt.Errorf("сборка welcome: %w", err)
	}
	if err := channel.Send(ctx, reply); err != nil {
		s.game.Disconnect(playerID)
		return "", fmt.Errorf("отправка welcome: %w", err)
	}

	s.logger.Info("✅ Игрок %s вошёл с %s (restored=%v)", playerID, channel.RemoteAddr(), join.Restored)
	return playerID, nil
}

func (s *Server) readLoop(client *remoteClient) {
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		ctx, cancel := context.WithTimeout(s.ctx, receivePoll)
		msg, err := client.channel.Receive(ctx)
		cancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				s.logger.Warn("Чтение от %s: %v", client.playerID, err)
			}
			return
		}

		s.clientsMu.Lock()
		client.lastSeen = time.Now()
		s.clientsMu.Unlock()

		s.dispatch(client, msg)
	}
}

// dispatch маршрутизирует сигнал клиента в движок
func (s *Server) dispatch(client *remoteClient, msg *Message) {
	switch msg.Type {
	case MsgMove:
		var move MovePayload
		if err := msg.UnmarshalPayload(&move); err != nil {
			s.logger.Warn("Разбор move от %s: %v", client.playerID, err)
			return
		}
		s.game.HandleMovement(client.playerID, vec.Vec2Float{X: move.X, Y: move.Y})

	case MsgFadeOutComplete:
		s.game.FadeOutComplete(client.playerID)

	case MsgTransitionComplete:
		s.game.TransitionComplete(client.playerID)
		// Комната прибытия только что отмечена посещённой: обновляем HUD
		if area, ok := s.game.AreaInfo(client.playerID); ok {
			s.pushAreaInfo(client, area)
		}

	case MsgExitToTitle:
		if err := s.game.ExitToTitle(client.playerID); err != nil {
			s.sendError(client.channel, err.Error())
		}

	case MsgPing:
		if pong, err := NewMessage(MsgPong, nil); err == nil {
			ctx, cancel := context.WithTimeout(s.ctx, time.Second)
			_ = client.channel.Send(ctx, pong)
			cancel()
		}

	default:
		s.logger.Warn("Неизвестный тип сообщения от %s: %s", client.playerID, msg.Type)
	}
}

func (s *Server) pushAreaInfo(client *remoteClient, area *game.AreaSnapshot) {
	msg, err := NewMessage(MsgAreaInfo, AreaInfoPayload{
		RegionNum:    area.RegionNum,
		RoomNum:      area.RoomID,
		VisitedRooms: area.Visited,
	})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()
	_ = client.channel.Send(ctx, msg)
}

// dropClient снимает клиента и выгружает игрока из движка. Повторные
// вызовы для одного игрока безопасны.
func (s *Server) dropClient(playerID string) {
	s.clientsMu.Lock()
	client, ok := s.clients[playerID]
	if !ok {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, playerID)
	s.clientsMu.Unlock()

	client.channel.Close()
	s.game.Disconnect(playerID)
	s.logger.Info("👋 Игрок %s отключён", playerID)
}

func (s *Server) timeoutLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.checkTimeouts()
		}
	}
}

func (s *Server) checkTimeouts() {
	now := time.Now()

	s.clientsMu.RLock()
	var stale []string
	for id, client := range s.clients {
		if now.Sub(client.lastSeen) > clientTimeout {
			stale = append(stale, id)
		}
	}
	s.clientsMu.RUnlock()

	for _, id := range stale {
		s.logger.Warn("⏱️ Игрок %s не отвечает, отключение", id)
		s.wg.Add(1)
		go func(playerID string) {
			defer s.wg.Done()
			s.dropClient(playerID)
		}(id)
	}
}

func (s *Server) sendError(channel NetChannel, reason string) {
	msg, err := NewMessage(MsgError, ErrorPayload{Message: reason})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = channel.Send(ctx, msg)
}
