package network

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/rift-server/internal/logging"
)

func pipeChannels(t *testing.T) (*TCPChannel, *TCPChannel) {
	t.Helper()

	logger := logging.GetNetworkLogger()
	left, right := net.Pipe()

	leftCh, err := NewTCPChannelFromConn(left, logger)
	require.NoError(t, err)
	rightCh, err := NewTCPChannelFromConn(right, logger)
	require.NoError(t, err)

	t.Cleanup(func() {
		leftCh.Close()
		rightCh.Close()
	})
	return leftCh, rightCh
}

// TestTCPChannelSendReceive сообщение проходит канал целиком
func TestTCPChannelSendReceive(t *testing.T) {
	client, server := pipeChannels(t)

	msg, err := NewMessage(MsgHello, HelloPayload{PlayerID: "alice"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, client.Send(ctx, msg))

	received, err := server.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, MsgHello, received.Type)

	var hello HelloPayload
	require.NoError(t, received.UnmarshalPayload(&hello))
	assert.Equal(t, "alice", hello.PlayerID)
}

// TestTCPChannelSequence номера отправки растут монотонно
func TestTCPChannelSequence(t *testing.T) {
	client, server := pipeChannels(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := 1; i <= 3; i++ {
		msg, err := NewMessage(MsgPing, nil)
		require.NoError(t, err)
		require.NoError(t, client.Send(ctx, msg))
	}
	for i := 1; i <= 3; i++ {
		received, err := server.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), received.Seq, "последовательность должна расти на единицу")
	}
}

// TestTCPChannelStats статистика учитывает отправленное и принятое
func TestTCPChannelStats(t *testing.T) {
	client, server := pipeChannels(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msg, err := NewMessage(MsgPing, nil)
	require.NoError(t, err)
	require.NoError(t, client.Send(ctx, msg))

	_, err = server.Receive(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return client.Stats().PacketsSent == 1
	}, time.Second, 10*time.Millisecond, "отправка должна попасть в статистику")

	stats := server.Stats()
	assert.Equal(t, uint64(1), stats.PacketsReceived)
	assert.Greater(t, stats.BytesReceived, uint64(frameHeaderSize))
}

// TestTCPChannelRemoteClose закрытие удалённой стороны даёт io.EOF
func TestTCPChannelRemoteClose(t *testing.T) {
	client, server := pipeChannels(t)

	require.NoError(t, client.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := server.Receive(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, io.EOF, "разрыв должен проявляться как io.EOF")
	assert.False(t, server.IsConnected(), "канал должен пометиться отключённым")
}

// TestTCPChannelSendAfterClose отправка в закрытый канал отклоняется
func TestTCPChannelSendAfterClose(t *testing.T) {
	client, _ := pipeChannels(t)
	require.NoError(t, client.Close())

	msg, err := NewMessage(MsgPing, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, client.Send(ctx, msg), "закрытый канал не должен принимать сообщения")
}
