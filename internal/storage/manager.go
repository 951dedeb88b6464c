package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/annel0/rift-server/internal/layout"
	"github.com/annel0/rift-server/internal/logging"
	"github.com/annel0/rift-server/internal/world"
)

// WorldSaveKey ключ снимка общего мира в KV-хранилище.
// Схема ключей экспортирована: ей пользуются и менеджер, и инструменты
// обслуживания (cmd/tools/save-cli).
const WorldSaveKey = "rift:save:world"

const (
	playerKeyPrefix  = "rift:save:player:"
	sessionKeyPrefix = "rift:save:session:"

	saveQueueSize = 128
	saveTimeout   = 5 * time.Second
)

// PlayerSaveKey ключ полного снимка игрока в личном мире.
func PlayerSaveKey(playerID string) string {
	return playerKeyPrefix + playerID
}

// PlayerSessionKey ключ записи прогресса игрока в общем мире.
func PlayerSessionKey(playerID string) string {
	return sessionKeyPrefix + playerID
}

// SaveDeps источники данных для менеджера сохранений
type SaveDeps struct {
	Store     KVStore
	Scope     world.GraphScope
	WorldSeed int64

	// GraphFor возвращает граф игрока; в общем мире аргумент игнорируется
	GraphFor func(playerID string) *world.RegionGraph

	// SessionFor возвращает копию сессии игрока, если он подключён
	SessionFor func(playerID string) (*world.PlayerSession, bool)

	// LayoutsFor возвращает закреплённые геометрии регионов без зерна.
	// Может быть nil: тогда наследных регионов нет.
	LayoutsFor func(playerID string) map[string]*layout.Descriptor
}

// SaveManager пишет и читает снимки мира. Сохранения после переходов
// идут асинхронно через очередь: координатор не ждёт хранилище.
// Недоступное хранилище никогда не роняет игру: запись пропускается
// с предупреждением, чтение трактуется как отсутствие сохранения.
type SaveManager struct {
	store      KVStore
	scope      world.GraphScope
	worldSeed  int64
	graphFor   func(playerID string) *world.RegionGraph
	sessionFor func(playerID string) (*world.PlayerSession, bool)
	layoutsFor func(playerID string) map[string]*layout.Descriptor

	mu       sync.Mutex
	skipLoad map[string]bool // ключ -> пропустить следующую загрузку

	jobs chan string
	quit chan struct{}
	wg   sync.WaitGroup
}

// NewSaveManager создаёт менеджер и запускает воркер очереди
func NewSaveManager(deps SaveDeps) (*SaveManager, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("не задано хранилище")
	}
	if deps.GraphFor == nil {
		return nil, fmt.Errorf("не задан источник графа")
	}
	if deps.SessionFor == nil {
		deps.SessionFor = func(string) (*world.PlayerSession, bool) { return nil, false }
	}
	if deps.LayoutsFor == nil {
		deps.LayoutsFor = func(string) map[string]*layout.Descriptor { return nil }
	}

	m := &SaveManager{
		store:      deps.Store,
		scope:      deps.Scope,
		worldSeed:  deps.WorldSeed,
		graphFor:   deps.GraphFor,
		sessionFor: deps.SessionFor,
		layoutsFor: deps.LayoutsFor,
		skipLoad:   make(map[string]bool),
		jobs:       make(chan string, saveQueueSize),
		quit:       make(chan struct{}),
	}

	m.wg.Add(1)
	go m.worker()
	return m, nil
}

// SaveAsync ставит сохранение игрока в очередь. Никогда не блокирует:
// при заполненной очереди запрос отбрасывается, следующее изменение
// графа поставит новый.
func (m *SaveManager) SaveAsync(playerID string) {
	select {
	case m.jobs <- playerID:
	default:
		logging.Warn("Очередь сохранений заполнена, снимок %s отложен", playerID)
	}
}

// SaveNow синхронно сохраняет игрока. Ошибка хранилища не фатальна:
// предупреждение в лог, игра продолжается в памяти.
func (m *SaveManager) SaveNow(ctx context.Context, playerID string) error {
	graph := m.graphFor(playerID)
	if graph == nil {
		logging.Debug("Сохранение %s пропущено: граф недоступен", playerID)
		return nil
	}

	state := graph.ExportState()
	if len(state.Regions) == 0 {
		logging.Debug("Сохранение %s пропущено: пустой граф", playerID)
		return nil
	}

	session, _ := m.sessionFor(playerID)

	if m.scope == world.ScopePerPlayer {
		snap := NewSnapshot(state, graph.WorldSeed(), session, m.layoutsFor(playerID))
		return m.writeSnapshot(ctx, PlayerSaveKey(playerID), snap)
	}

	// Общий мир: граф единым снимком, прогресс игрока отдельной записью
	snap := NewSnapshot(state, graph.WorldSeed(), nil, m.layoutsFor(playerID))
	if err := m.writeSnapshot(ctx, WorldSaveKey, snap); err != nil {
		return err
	}
	if session != nil {
		return m.writeSession(ctx, playerID, session)
	}
	return nil
}

// writeSnapshot кодирует и записывает снимок
func (m *SaveManager) writeSnapshot(ctx context.Context, key string, snap *Snapshot) error {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	if err := m.store.Set(ctx, key, data); err != nil {
		logging.Warn("Хранилище недоступно, снимок %s не записан: %v", key, err)
		return nil
	}
	logging.Debug("💾 Снимок %s записан: регионов=%d", key, len(snap.Regions))
	return nil
}

// writeSession записывает прогресс игрока общего мира
func (m *SaveManager) writeSession(ctx context.Context, playerID string, session *world.PlayerSession) error {
	blob := SessionSnapshot{
		Version:  SnapshotVersion,
		PlayerID: playerID,
		Session:  *sessionRecord(session),
		SavedAt:  time.Now().UTC(),
	}
	data, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("ошибка сериализации сессии: %w", err)
	}
	if err := m.store.Set(ctx, PlayerSessionKey(playerID), data); err != nil {
		logging.Warn("Хранилище недоступно, сессия %s не записана: %v", playerID, err)
		return nil
	}
	return nil
}

// LoadWorld читает снимок общего мира. Отсутствие, недоступное
// хранилище или повреждённые данные дают чистый старт.
func (m *SaveManager) LoadWorld(ctx context.Context) (*Snapshot, bool) {
	return m.loadSnapshot(ctx, WorldSaveKey)
}

// LoadPlayer читает снимок игрока. В личном мире это полный снимок
// графа с сессией; в общем мире заполнена только секция session.
func (m *SaveManager) LoadPlayer(ctx context.Context, playerID string) (*Snapshot, bool) {
	if m.scope == world.ScopePerPlayer {
		return m.loadSnapshot(ctx, PlayerSaveKey(playerID))
	}

	if m.consumeSkip(PlayerSessionKey(playerID)) {
		logging.Info("Загрузка сессии %s пропущена после очистки", playerID)
		return nil, false
	}

	data, found, err := m.store.Get(ctx, PlayerSessionKey(playerID))
	if err != nil {
		logging.Warn("Хранилище недоступно, сессия %s стартует заново: %v", playerID, err)
		return nil, false
	}
	if !found {
		return nil, false
	}

	var blob SessionSnapshot
	if err := json.Unmarshal(data, &blob); err != nil {
		logging.Warn("Сессия %s повреждена, стартуем заново: %v", playerID, err)
		return nil, false
	}
	return &Snapshot{Version: blob.Version, Session: &blob.Session, SavedAt: blob.SavedAt}, true
}

// loadSnapshot читает и разбирает полный снимок по ключу
func (m *SaveManager) loadSnapshot(ctx context.Context, key string) (*Snapshot, bool) {
	if m.consumeSkip(key) {
		logging.Info("Загрузка %s пропущена после очистки", key)
		return nil, false
	}

	data, found, err := m.store.Get(ctx, key)
	if err != nil {
		logging.Warn("Хранилище недоступно, %s стартует заново: %v", key, err)
		return nil, false
	}
	if !found {
		return nil, false
	}

	snap, err := DecodeSnapshot(data)
	if err != nil {
		logging.Warn("Снимок %s отвергнут, стартуем заново: %v", key, err)
		return nil, false
	}
	return snap, true
}

// ClearPlayer удаляет сохранение игрока и подавляет одну следующую
// загрузку: очистка не должна проигрываться гонкой с отставшей записью.
func (m *SaveManager) ClearPlayer(ctx context.Context, playerID string) error {
	key := PlayerSaveKey(playerID)
	if m.scope == world.ScopeShared {
		key = PlayerSessionKey(playerID)
	}

	err := m.store.Delete(ctx, key)
	success := err == nil
	if err != nil {
		logging.Warn("Очистка сохранения %s не удалась: %v", playerID, err)
	}

	m.mu.Lock()
	m.skipLoad[key] = true
	m.mu.Unlock()

	publishSavedDataCleared(playerID, success)
	return err
}

// ClearWorld удаляет снимок общего мира
func (m *SaveManager) ClearWorld(ctx context.Context) error {
	err := m.store.Delete(ctx, WorldSaveKey)
	if err != nil {
		logging.Warn("Очистка снимка мира не удалась: %v", err)
	}

	m.mu.Lock()
	m.skipLoad[WorldSaveKey] = true
	m.mu.Unlock()

	publishSavedDataCleared("", err == nil)
	return err
}

// consumeSkip снимает флаг пропуска загрузки, если он стоял
func (m *SaveManager) consumeSkip(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.skipLoad[key] {
		delete(m.skipLoad, key)
		return true
	}
	return false
}

// Stop гасит воркер, дожимая очередь сохранений
func (m *SaveManager) Stop() {
	close(m.quit)
	m.wg.Wait()
}

// worker разбирает очередь сохранений
func (m *SaveManager) worker() {
	defer m.wg.Done()

	for {
		select {
		case <-m.quit:
			// Оставшиеся задания дожимаются перед выходом
			for {
				select {
				case playerID := <-m.jobs:
					m.runJob(playerID)
				default:
					return
				}
			}
		case playerID := <-m.jobs:
			m.runJob(playerID)
		}
	}
}

// runJob выполняет одно сохранение с собственным таймаутом
func (m *SaveManager) runJob(playerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := m.SaveNow(ctx, playerID); err != nil {
		logging.Warn("Асинхронное сохранение %s: %v", playerID, err)
	}
}
