package network

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

const (
	// Кадр: 4 байта длины (LE), 1 байт флагов, затем данные
	frameHeaderSize = 5
	maxFrameSize    = 256 * 1024

	flagZstd byte = 1 << 0

	// Кадры меньше порога не сжимаются: накладные расходы не окупаются
	compressThreshold = 512
)

// FrameCodec кодирует сообщения в кадры и обратно. Крупные кадры
// прозрачно сжимаются zstd; флаг сжатия живёт в заголовке кадра, а не
// в теле, чтобы тело оставалось обычным JSON.
type FrameCodec struct {
	compressor   *zstd.Encoder
	decompressor *zstd.Decoder
}

// NewFrameCodec создаёт кодек с парой zstd поток-кодеров
func NewFrameCodec() (*FrameCodec, error) {
	compressor, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("создание компрессора: %w", err)
	}
	decompressor, err := zstd.NewReader(nil)
	if err != nil {
		compressor.Close()
		return nil, fmt.Errorf("создание декомпрессора: %w", err)
	}
	return &FrameCodec{compressor: compressor, decompressor: decompressor}, nil
}

// Close освобождает кодеры
func (c *FrameCodec) Close() {
	if c.compressor != nil {
		c.compressor.Close()
	}
	if c.decompressor != nil {
		c.decompressor.Close()
	}
}

// Encode сериализует сообщение в готовый кадр
func (c *FrameCodec) Encode(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("сериализация сообщения: %w", err)
	}

	var flags byte
	if len(data) >= compressThreshold && c.compressor != nil {
		data = c.compressor.EncodeAll(data, nil)
		flags |= flagZstd
	}
	if len(data) > maxFrameSize {
		return nil, fmt.Errorf("кадр слишком большой: %d байт", len(data))
	}

	frame := make([]byte, frameHeaderSize+len(data))
	binary.LittleEndian.PutUint32(frame[:4], uint32(len(data)))
	frame[4] = flags
	copy(frame[frameHeaderSize:], data)
	return frame, nil
}

// WriteFrame кодирует и пишет один кадр
func (c *FrameCodec) WriteFrame(w io.Writer, msg *Message) (int, error) {
	frame, err := c.Encode(msg)
	if err != nil {
		return 0, err
	}
	return w.Write(frame)
}

// ReadFrame читает и разбирает один кадр
func (c *FrameCodec) ReadFrame(r io.Reader) (*Message, int, error) {
	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, 0, err
	}

	size := binary.LittleEndian.Uint32(header[:4])
	if size > maxFrameSize {
		return nil, 0, fmt.Errorf("кадр слишком большой: %d байт", size)
	}
	flags := header[4]

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, 0, err
	}
	total := frameHeaderSize + int(size)

	if flags&flagZstd != 0 {
		if c.decompressor == nil {
			return nil, total, fmt.Errorf("сжатый кадр без декомпрессора")
		}
		decompressed, err := c.decompressor.DecodeAll(data, nil)
		if err != nil {
			return nil, total, fmt.Errorf("распаковка кадра: %w", err)
		}
		data = decompressed
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, total, fmt.Errorf("разбор сообщения: %w", err)
	}
	return &msg, total, nil
}
