package transition

import (
	"testing"

	"github.com/annel0/rift-server/internal/layout"
	"github.com/annel0/rift-server/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTrackerUpdateAndPosition проверяет базовый учёт позиций
func TestTrackerUpdateAndPosition(t *testing.T) {
	tracker := NewTracker()

	moved := tracker.UpdatePosition("p1", vec.Vec2Float{X: 3, Y: 4})
	require.True(t, moved, "Движение свободного игрока принимается")

	pos, ok := tracker.Position("p1")
	require.True(t, ok, "Позиция известного игрока доступна")
	assert.Equal(t, vec.Vec2Float{X: 3, Y: 4}, pos)

	_, ok = tracker.Position("ghost")
	assert.False(t, ok, "Неизвестный игрок не имеет позиции")
}

// TestTrackerFreezeBlocksMovement проверяет заморозку: обычное движение
// отбрасывается, телепорт координатора проходит.
func TestTrackerFreezeBlocksMovement(t *testing.T) {
	tracker := NewTracker()
	tracker.UpdatePosition("p1", vec.Vec2Float{X: 1, Y: 1})

	tracker.Freeze("p1")
	require.True(t, tracker.IsFrozen("p1"))

	moved := tracker.UpdatePosition("p1", vec.Vec2Float{X: 9, Y: 9})
	assert.False(t, moved, "Движение замороженного игрока отбрасывается")
	pos, _ := tracker.Position("p1")
	assert.Equal(t, vec.Vec2Float{X: 1, Y: 1}, pos, "Позиция не изменилась")

	tracker.Teleport("p1", vec.Vec2Float{X: 50, Y: 50})
	pos, _ = tracker.Position("p1")
	assert.Equal(t, vec.Vec2Float{X: 50, Y: 50}, pos, "Телепорт обходит заморозку")

	tracker.Unfreeze("p1")
	moved = tracker.UpdatePosition("p1", vec.Vec2Float{X: 51, Y: 50})
	assert.True(t, moved, "После разморозки движение снова принимается")
}

// TestTrackerOnPad проверяет геометрическую проверку присутствия на паде
func TestTrackerOnPad(t *testing.T) {
	tracker := NewTracker()
	zone := layout.PadZone{PadID: 0, RoomID: 0, Center: vec.Vec2Float{X: 10, Y: 10}, Radius: 1.5}

	tracker.UpdatePosition("p1", vec.Vec2Float{X: 10.5, Y: 10})
	assert.True(t, tracker.OnPad("p1", zone), "Игрок в радиусе пада")

	tracker.UpdatePosition("p1", vec.Vec2Float{X: 20, Y: 20})
	assert.False(t, tracker.OnPad("p1", zone), "Игрок вне радиуса пада")

	assert.False(t, tracker.OnPad("ghost", zone), "Неизвестный игрок не на паде")
}

// TestTrackerRemove проверяет удаление игрока
func TestTrackerRemove(t *testing.T) {
	tracker := NewTracker()
	tracker.UpdatePosition("p1", vec.Vec2Float{X: 1, Y: 2})
	tracker.Freeze("p1")

	tracker.Remove("p1")

	_, ok := tracker.Position("p1")
	assert.False(t, ok, "Позиция удалена")
	assert.False(t, tracker.IsFrozen("p1"), "Заморозка удалена вместе с игроком")
}
