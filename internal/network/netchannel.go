package network

import (
	"context"
	"time"
)

// ConnectionStats статистика соединения
type ConnectionStats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
	LastActivity    time.Time
	Connected       bool
	RemoteAddr      string
}

// NetChannel унифицированный интерфейс сетевого канала. Реализации:
// TCP для надёжного трафика и KCP поверх UDP для чувствительного к
// задержке. Оба гоняют одинаковые кадры FrameCodec.
type NetChannel interface {
	Send(ctx context.Context, msg *Message) error
	Receive(ctx context.Context) (*Message, error)
	Close() error

	IsConnected() bool
	RemoteAddr() string
	Stats() ConnectionStats
}
