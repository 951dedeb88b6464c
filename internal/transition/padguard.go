package transition

import (
	"sync"
	"time"

	"github.com/annel0/rift-server/internal/logging"
	"github.com/annel0/rift-server/internal/world"
)

// PadMode режим пада для конкретного игрока
type PadMode uint8

const (
	SpawnOut PadMode = iota // Пад готов принять вход
	SpawnIn                 // Игрок на паде или только что прибыл
)

// String возвращает строковое представление режима
func (m PadMode) String() string {
	if m == SpawnIn {
		return "spawn_in"
	}
	return "spawn_out"
}

// padKey пара (пад, игрок)
type padKey struct {
	pad    world.PadRef
	player string
}

// PadGuard двухсостоянийный автомат на пару (пад, игрок), защищающий
// от повторных срабатываний телепорта. Вход на пад в режиме SpawnOut
// переключает режим до эмиссии запроса: перекрывающиеся события
// сенсора не дают второго прыжка. Выход с пада запускает дебаунс
// с физической перепроверкой, устойчивый к дрожанию сенсора.
type PadGuard struct {
	mu       sync.Mutex
	modes    map[padKey]PadMode
	timers   map[padKey]*time.Timer
	debounce time.Duration
	onPad    func(playerID string, pad world.PadRef) bool // Физическая проверка присутствия
	emit     func(playerID string, pad world.PadRef)      // Эмиссия запроса прыжка
}

// NewPadGuard создаёт страж падов. onPad проверяет физическое
// присутствие игрока на паде, emit получает принятые срабатывания.
func NewPadGuard(debounce time.Duration, onPad func(string, world.PadRef) bool, emit func(string, world.PadRef)) *PadGuard {
	if debounce <= 0 {
		debounce = 1500 * time.Millisecond
	}
	return &PadGuard{
		modes:    make(map[padKey]PadMode),
		timers:   make(map[padKey]*time.Timer),
		debounce: debounce,
		onPad:    onPad,
		emit:     emit,
	}
}

// HandleEnter обрабатывает вход игрока в зону пада.
// Срабатывает ровно один раз на прибытие: режим переключается до
// эмиссии, повторные входы в SpawnIn игнорируются.
func (pg *PadGuard) HandleEnter(playerID string, pad world.PadRef) {
	key := padKey{pad: pad, player: playerID}

	pg.mu.Lock()
	// Возврат до истечения дебаунса отменяет запланированный сброс
	if timer, ok := pg.timers[key]; ok {
		timer.Stop()
		delete(pg.timers, key)
	}

	if pg.modes[key] == SpawnIn {
		pg.mu.Unlock()
		logging.Trace("Пад %s:%d: повторный вход %s проигнорирован", pad.RegionID, pad.PadID, playerID)
		return
	}

	pg.modes[key] = SpawnIn
	pg.mu.Unlock()

	logging.Debug("⚡ Пад %s:%d активирован игроком %s", pad.RegionID, pad.PadID, playerID)
	if pg.emit != nil {
		pg.emit(playerID, pad)
	}
}

// HandleExit обрабатывает выход игрока из зоны пада: запускает дебаунс
// перед возвратом в SpawnOut. Повторный выход перепланирует таймер.
func (pg *PadGuard) HandleExit(playerID string, pad world.PadRef) {
	key := padKey{pad: pad, player: playerID}

	pg.mu.Lock()
	defer pg.mu.Unlock()

	if pg.modes[key] != SpawnIn {
		return
	}

	if timer, ok := pg.timers[key]; ok {
		timer.Stop()
	}
	pg.timers[key] = time.AfterFunc(pg.debounce, func() {
		pg.debounceExpired(key)
	})
}

// debounceExpired срабатывает по истечении дебаунса: перепроверяет
// физическое присутствие и либо сбрасывает режим, либо перепланирует.
func (pg *PadGuard) debounceExpired(key padKey) {
	pg.mu.Lock()
	delete(pg.timers, key)
	if pg.modes[key] != SpawnIn {
		pg.mu.Unlock()
		return
	}
	pg.mu.Unlock()

	// Дрожание сенсора: игрок мог вернуться на пад за время дебаунса
	if pg.onPad != nil && pg.onPad(key.player, key.pad) {
		pg.mu.Lock()
		if _, rescheduled := pg.timers[key]; !rescheduled && pg.modes[key] == SpawnIn {
			pg.timers[key] = time.AfterFunc(pg.debounce, func() {
				pg.debounceExpired(key)
			})
		}
		pg.mu.Unlock()
		logging.Trace("Пад %s:%d: игрок %s ещё на паде, сброс отложен", key.pad.RegionID, key.pad.PadID, key.player)
		return
	}

	pg.mu.Lock()
	if pg.modes[key] == SpawnIn {
		pg.modes[key] = SpawnOut
	}
	pg.mu.Unlock()
	logging.Trace("Пад %s:%d: режим %s сброшен в spawn_out", key.pad.RegionID, key.pad.PadID, key.player)
}

// SetMode выставляет режим напрямую. Координатор ставит SpawnIn при
// прибытии на пад назначения: собственная посадка игрока не должна
// немедленно запускать обратный прыжок.
func (pg *PadGuard) SetMode(playerID string, pad world.PadRef, mode PadMode) {
	key := padKey{pad: pad, player: playerID}

	pg.mu.Lock()
	defer pg.mu.Unlock()

	if timer, ok := pg.timers[key]; ok {
		timer.Stop()
		delete(pg.timers, key)
	}
	pg.modes[key] = mode
}

// Mode возвращает режим пары (пад, игрок)
func (pg *PadGuard) Mode(playerID string, pad world.PadRef) PadMode {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	return pg.modes[padKey{pad: pad, player: playerID}]
}

// ClearPlayer убирает все записи игрока и гасит его таймеры.
// Вызывается при отключении.
func (pg *PadGuard) ClearPlayer(playerID string) {
	pg.mu.Lock()
	defer pg.mu.Unlock()

	for key, timer := range pg.timers {
		if key.player == playerID {
			timer.Stop()
			delete(pg.timers, key)
		}
	}
	for key := range pg.modes {
		if key.player == playerID {
			delete(pg.modes, key)
		}
	}
}

// Stop гасит все таймеры стража
func (pg *PadGuard) Stop() {
	pg.mu.Lock()
	defer pg.mu.Unlock()

	for key, timer := range pg.timers {
		timer.Stop()
		delete(pg.timers, key)
	}
}
