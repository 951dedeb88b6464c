package minimap

import (
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/annel0/rift-server/internal/layout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_BuildAsync(t *testing.T) {
	// Построение миникарты завершается колбэком
	b := NewBuilder(1)
	defer b.Stop()

	gen := layout.NewGenerator()
	desc, err := gen.Generate(42, 3, 2)
	require.NoError(t, err)

	done := make(chan *MiniMap, 1)
	err = b.BuildAsync(desc, func(mm *MiniMap) {
		done <- mm
	})
	require.NoError(t, err, "Постановка в очередь не должна падать")

	select {
	case mm := <-done:
		assert.Equal(t, 3, mm.RegionNum, "Номер региона должен переноситься в карту")
		assert.Equal(t, len(desc.Rooms), mm.RoomCount, "Число комнат должно совпадать")
		assert.NotEmpty(t, mm.Grid, "Сетка не должна быть пустой")
		assert.Equal(t, len(desc.Pads), len(mm.PadRooms), "Все пады должны попасть в карту")

		joined := strings.Join(mm.Grid, "\n")
		assert.Contains(t, joined, "S", "Комната прибытия должна быть отмечена")
		assert.Contains(t, joined, "P", "Комнаты с падами должны быть отмечены")
	case <-time.After(2 * time.Second):
		t.Fatal("Миникарта не построена за отведённое время")
	}
}

func TestBuilder_NilDescriptor(t *testing.T) {
	// Пустой дескриптор отклоняется сразу
	b := NewBuilder(1)
	defer b.Stop()

	err := b.BuildAsync(nil, func(mm *MiniMap) {})
	assert.Error(t, err, "Построение по nil должно давать ошибку")
}

func TestBuilder_ManyJobs(t *testing.T) {
	// Несколько задач обрабатываются параллельно без потерь
	b := NewBuilder(4)
	defer b.Stop()

	gen := layout.NewGenerator()
	var built int32

	for i := 0; i < 20; i++ {
		desc, err := gen.Generate(int64(i), i+1, 2)
		require.NoError(t, err)

		err = b.BuildAsync(desc, func(mm *MiniMap) {
			atomic.AddInt32(&built, 1)
		})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&built) == 20
	}, 3*time.Second, 10*time.Millisecond, "Все миникарты должны быть построены")
}
