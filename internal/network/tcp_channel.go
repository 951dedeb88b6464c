package network

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/rift-server/internal/logging"
)

const channelBufferSize = 256

// TCPChannel реализует NetChannel поверх TCP соединения
type TCPChannel struct {
	conn   net.Conn
	codec  *FrameCodec
	logger *logging.Logger

	stats ConnectionStats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	sendBuffer chan *Message
	recvBuffer chan *Message

	sendSequence uint32

	mu sync.RWMutex
}

// NewTCPChannel создаёт неподключённый канал для клиентской стороны
func NewTCPChannel(logger *logging.Logger) (*TCPChannel, error) {
	codec, err := NewFrameCodec()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TCPChannel{
		codec:      codec,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		sendBuffer: make(chan *Message, channelBufferSize),
		recvBuffer: make(chan *Message, channelBufferSize),
	}, nil
}

// NewTCPChannelFromConn оборачивает принятое соединение в канал
func NewTCPChannelFromConn(conn net.Conn, logger *logging.Logger) (*TCPChannel, error) {
	channel, err := NewTCPChannel(logger)
	if err != nil {
		return nil, err
	}
	channel.conn = conn
	channel.stats.Connected = true
	channel.stats.RemoteAddr = conn.RemoteAddr().String()
	channel.stats.LastActivity = time.Now()

	channel.wg.Add(2)
	go channel.sendLoop()
	go channel.receiveLoop()

	logger.Debug("TCP канал создан: addr=%s", channel.stats.RemoteAddr)
	return channel, nil
}

// Connect устанавливает исходящее соединение
func (tc *TCPChannel) Connect(ctx context.Context, addr string) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.conn != nil {
		return fmt.Errorf("канал уже подключён")
	}

	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("подключение к %s: %w", addr, err)
	}

	tc.conn = conn
	tc.stats.Connected = true
	tc.stats.RemoteAddr = addr
	tc.stats.LastActivity = time.Now()

	tc.wg.Add(2)
	go tc.sendLoop()
	go tc.receiveLoop()

	tc.logger.Info("TCP канал подключён: addr=%s", addr)
	return nil
}

// Send ставит сообщение в очередь отправки
func (tc *TCPChannel) Send(ctx context.Context, msg *Message) error {
	if !tc.IsConnected() {
		return fmt.Errorf("канал не подключён")
	}
	msg.Seq = atomic.AddUint32(&tc.sendSequence, 1)

	select {
	case tc.sendBuffer <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-tc.ctx.Done():
		return fmt.Errorf("канал закрыт")
	}
}

// Receive выдаёт следующее входящее сообщение. io.EOF означает, что
// удалённая сторона закрыла соединение.
func (tc *TCPChannel) Receive(ctx context.Context) (*Message, error) {
	select {
	case msg, ok := <-tc.recvBuffer:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-tc.ctx.Done():
		return nil, fmt.Errorf("канал закрыт")
	}
}

// Close закрывает канал и ждёт завершения горутин. Мьютекс нельзя
// держать через wg.Wait: циклы берут его для статистики на выходе.
func (tc *TCPChannel) Close() error {
	tc.mu.Lock()
	tc.cancel()
	conn := tc.conn
	tc.conn = nil
	tc.stats.Connected = false
	tc.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
		tc.wg.Wait()
	}
	tc.codec.Close()
	return err
}

// IsConnected проверяет состояние соединения
func (tc *TCPChannel) IsConnected() bool {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.stats.Connected && tc.conn != nil
}

// RemoteAddr возвращает адрес удалённой стороны
func (tc *TCPChannel) RemoteAddr() string {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.stats.RemoteAddr
}

// Stats возвращает статистику соединения
func (tc *TCPChannel) Stats() ConnectionStats {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.stats
}

func (tc *TCPChannel) sendLoop() {
	defer tc.wg.Done()

	for {
		select {
		case msg := <-tc.sendBuffer:
			tc.mu.RLock()
			conn := tc.conn
			tc.mu.RUnlock()
			if conn == nil {
				return
			}

			n, err := tc.codec.WriteFrame(conn, msg)
			if err != nil {
				tc.logger.Error("Отправка по TCP: %v", err)
				continue
			}
			tc.mu.Lock()
			tc.stats.PacketsSent++
			tc.stats.BytesSent += uint64(n)
			tc.stats.LastActivity = time.Now()
			tc.mu.Unlock()
		case <-tc.ctx.Done():
			return
		}
	}
}

func (tc *TCPChannel) receiveLoop() {
	defer tc.wg.Done()

	for {
		select {
		case <-tc.ctx.Done():
			return
		default:
		}

		tc.mu.RLock()
		conn := tc.conn
		tc.mu.RUnlock()
		if conn == nil {
			return
		}

		msg, n, err := tc.codec.ReadFrame(conn)
		if err != nil {
			if err == io.EOF {
				tc.logger.Debug("TCP соединение закрыто удалённой стороной")
			} else {
				select {
				case <-tc.ctx.Done():
				default:
					tc.logger.Error("Приём по TCP: %v", err)
				}
			}
			tc.mu.Lock()
			tc.stats.Connected = false
			tc.mu.Unlock()
			close(tc.recvBuffer)
			return
		}

		tc.mu.Lock()
		tc.stats.PacketsReceived++
		tc.stats.BytesReceived += uint64(n)
		tc.stats.LastActivity = time.Now()
		tc.mu.Unlock()

		select {
		case tc.recvBuffer <- msg:
		default:
			tc.logger.Warn("Буфер приёма заполнен, сообщение отброшено")
		}
	}
}
