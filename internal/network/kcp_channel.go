package network

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	kcp "github.com/xtaci/kcp-go/v5"

	"github.com/annel0/rift-server/internal/logging"
)

// KCPChannel реализует NetChannel поверх KCP (UDP с ARQ). Потоковый режим
// включён, поэтому кадрирование идентично TCP каналу.
type KCPChannel struct {
	session *kcp.UDPSession
	codec   *FrameCodec
	logger  *logging.Logger

	stats ConnectionStats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	sendBuffer chan *Message
	recvBuffer chan *Message

	sendSequence uint32

	mu sync.RWMutex
}

// NewKCPChannel создаёт неподключённый канал для клиентской стороны
func NewKCPChannel(logger *logging.Logger) (*KCPChannel, error) {
	codec, err := NewFrameCodec()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &KCPChannel{
		codec:      codec,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		sendBuffer: make(chan *Message, channelBufferSize),
		recvBuffer: make(chan *Message, channelBufferSize),
	}, nil
}

// NewKCPChannelFromConn оборачивает принятую сессию в канал
func NewKCPChannelFromConn(session *kcp.UDPSession, logger *logging.Logger) (*KCPChannel, error) {
	channel, err := NewKCPChannel(logger)
	if err != nil {
		return nil, err
	}
	tuneKCPSession(session)

	channel.session = session
	channel.stats.Connected = true
	channel.stats.RemoteAddr = session.RemoteAddr().String()
	channel.stats.LastActivity = time.Now()

	channel.wg.Add(2)
	go channel.sendLoop()
	go channel.receiveLoop()

	logger.Debug("KCP канал создан: addr=%s", channel.stats.RemoteAddr)
	return channel, nil
}

// Connect устанавливает исходящую KCP сессию
func (kc *KCPChannel) Connect(ctx context.Context, addr string) error {
	kc.mu.Lock()
	defer kc.mu.Unlock()

	if kc.session != nil {
		return fmt.Errorf("канал уже подключён")
	}

	session, err := kcp.DialWithOptions(addr, nil, 10, 3)
	if err != nil {
		return fmt.Errorf("подключение к %s: %w", addr, err)
	}
	tuneKCPSession(session)

	kc.session = session
	kc.stats.Connected = true
	kc.stats.RemoteAddr = addr
	kc.stats.LastActivity = time.Now()

	kc.wg.Add(2)
	go kc.sendLoop()
	go kc.receiveLoop()

	kc.logger.Info("KCP канал подключён: addr=%s", addr)
	return nil
}

// tuneKCPSession настраивает сессию на низкую задержку в ущерб трафику
func tuneKCPSession(session *kcp.UDPSession) {
	session.SetStreamMode(true)
	session.SetWriteDelay(false)
	session.SetNoDelay(1, 20, 2, 1)
	session.SetWindowSize(512, 512)
	session.SetMtu(1400)
}

// Send ставит сообщение в очередь отправки
func (kc *KCPChannel) Send(ctx context.Context, msg *Message) error {
	if !kc.IsConnected() {
		return fmt.Errorf("канал не подключён")
	}
	msg.Seq = atomic.AddUint32(&kc.sendSequence, 1)

	select {
	case kc.sendBuffer <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-kc.ctx.Done():
		return fmt.Errorf("канал закрыт")
	}
}

// Receive выдаёт следующее входящее сообщение. io.EOF означает, что
// удалённая сторона закрыла сессию.
func (kc *KCPChannel) Receive(ctx context.Context) (*Message, error) {
	select {
	case msg, ok := <-kc.recvBuffer:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-kc.ctx.Done():
		return nil, fmt.Errorf("канал закрыт")
	}
}

// Close закрывает канал и ждёт завершения горутин. Мьютекс нельзя
// держать через wg.Wait: циклы берут его для статистики на выходе.
func (kc *KCPChannel) Close() error {
	kc.mu.Lock()
	kc.cancel()
	session := kc.session
	kc.session = nil
	kc.stats.Connected = false
	kc.mu.Unlock()

	var err error
	if session != nil {
		err = session.Close()
		kc.wg.Wait()
	}
	kc.codec.Close()
	return err
}

// IsConnected проверяет состояние сессии
func (kc *KCPChannel) IsConnected() bool {
	kc.mu.RLock()
	defer kc.mu.RUnlock()
	return kc.stats.Connected && kc.session != nil
}

// RemoteAddr возвращает адрес удалённой стороны
func (kc *KCPChannel) RemoteAddr() string {
	kc.mu.RLock()
	defer kc.mu.RUnlock()
	return kc.stats.RemoteAddr
}

// Stats возвращает статистику соединения
func (kc *KCPChannel) Stats() ConnectionStats {
	kc.mu.RLock()
	defer kc.mu.RUnlock()
	return kc.stats
}

func (kc *KCPChannel) sendLoop() {
	defer kc.wg.Done()

	for {
		select {
		case msg := <-kc.sendBuffer:
			kc.mu.RLock()
			session := kc.session
			kc.mu.RUnlock()
			if session == nil {
				return
			}

			n, err := kc.codec.WriteFrame(session, msg)
			if err != nil {
				kc.logger.Error("Отправка по KCP: %v", err)
				continue
			}
			kc.mu.Lock()
			kc.stats.PacketsSent++
			kc.stats.BytesSent += uint64(n)
			kc.stats.LastActivity = time.Now()
			kc.mu.Unlock()
		case <-kc.ctx.Done():
			return
		}
	}
}

func (kc *KCPChannel) receiveLoop() {
	defer kc.wg.Done()

	for {
		select {
		case <-kc.ctx.Done():
			return
		default:
		}

		kc.mu.RLock()
		session := kc.session
		kc.mu.RUnlock()
		if session == nil {
			return
		}

		msg, n, err := kc.codec.ReadFrame(session)
		if err != nil {
			if err == io.EOF {
				kc.logger.Debug("KCP сессия закрыта удалённой стороной")
			} else {
				select {
				case <-kc.ctx.Done():
				default:
					kc.logger.Error("Приём по KCP: %v", err)
				}
			}
			kc.mu.Lock()
			kc.stats.Connected = false
			kc.mu.Unlock()
			close(kc.recvBuffer)
			return
		}

		kc.mu.Lock()
		kc.stats.PacketsReceived++
		kc.stats.BytesReceived += uint64(n)
		kc.stats.LastActivity = time.Now()
		kc.mu.Unlock()

		select {
		case kc.recvBuffer <- msg:
		default:
			kc.logger.Warn("Буфер приёма заполнен, сообщение отброшено")
		}
	}
}
