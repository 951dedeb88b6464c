package transition

import (
	"sync"

	"github.com/annel0/rift-server/internal/layout"
	"github.com/annel0/rift-server/internal/vec"
)

// playerPresence позиция и заморозка одного игрока
type playerPresence struct {
	pos    vec.Vec2Float
	frozen bool
}

// Tracker отслеживает позиции игроков и управляет якорем-заморозкой
// на время перехода. Движение замороженного игрока игнорируется;
// телепорт координатора действует и на замороженных.
type Tracker struct {
	mu      sync.RWMutex
	players map[string]*playerPresence
}

// NewTracker создаёт пустой трекер
func NewTracker() *Tracker {
	return &Tracker{
		players: make(map[string]*playerPresence),
	}
}

// UpdatePosition применяет движение игрока. Возвращает false,
// если игрок заморожен и движение отброшено.
func (t *Tracker) UpdatePosition(playerID string, pos vec.Vec2Float) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.ensureLocked(playerID)
	if p.frozen {
		return false
	}
	p.pos = pos
	return true
}

// Teleport переносит игрока принудительно, в том числе замороженного
func (t *Tracker) Teleport(playerID string, pos vec.Vec2Float) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.ensureLocked(playerID)
	p.pos = pos
}

// Position возвращает текущую позицию игрока
func (t *Tracker) Position(playerID string) (vec.Vec2Float, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.players[playerID]
	if !ok {
		return vec.Vec2Float{}, false
	}
	return p.pos, true
}

// Freeze ставит якорь на игрока
func (t *Tracker) Freeze(playerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureLocked(playerID).frozen = true
}

// Unfreeze снимает якорь
func (t *Tracker) Unfreeze(playerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureLocked(playerID).frozen = false
}

// IsFrozen сообщает, заморожен ли игрок
func (t *Tracker) IsFrozen(playerID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.players[playerID]
	return ok && p.frozen
}

// OnPad проверяет, находится ли игрок физически в зоне пада
func (t *Tracker) OnPad(playerID string, zone layout.PadZone) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.players[playerID]
	if !ok {
		return false
	}
	return p.pos.DistanceTo(zone.Center) <= zone.Radius
}

// Remove выбрасывает игрока из трекера при отключении
func (t *Tracker) Remove(playerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.players, playerID)
}

func (t *Tracker) ensureLocked(playerID string) *playerPresence {
	p, ok := t.players[playerID]
	if !ok {
		p = &playerPresence{}
		t.players[playerID] = p
	}
	return p
}
