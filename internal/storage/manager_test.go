package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/annel0/rift-server/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failStore всегда отказывает: имитация недоступного бэкенда
type failStore struct{}

func (failStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, fmt.Errorf("хранилище недоступно")
}
func (failStore) Set(ctx context.Context, key string, value []byte) error {
	return fmt.Errorf("хранилище недоступно")
}
func (failStore) Delete(ctx context.Context, key string) error {
	return fmt.Errorf("хранилище недоступно")
}
func (failStore) Close() error { return nil }

// saveFixture собирает менеджер над графом с одной связью
func saveFixture(t *testing.T, scope world.GraphScope, store KVStore) (*SaveManager, *world.RegionGraph) {
	t.Helper()

	graph := world.NewRegionGraph(scope, 42)
	origin := graph.CreateOriginRegion()
	next := graph.CreateRegion(world.MapTypeCorridor, 2)
	require.NoError(t, graph.LinkPads(origin.ID, 0, next.ID, 0))
	require.NoError(t, graph.SetActiveRegion(next.ID))

	session := world.NewPlayerSession("p1")
	session.CurrentRegionID = next.ID
	session.MarkVisited(2, 0)

	m, err := NewSaveManager(SaveDeps{
		Store:     store,
		Scope:     scope,
		WorldSeed: 42,
		GraphFor:  func(string) *world.RegionGraph { return graph },
		SessionFor: func(playerID string) (*world.PlayerSession, bool) {
			if playerID == "p1" {
				return session, true
			}
			return nil, false
		},
	})
	require.NoError(t, err, "Менеджер должен собираться")
	t.Cleanup(m.Stop)
	return m, graph
}

// TestSaveManagerPerPlayerRoundTrip проверяет сохранение и загрузку
// личного мира игрока.
func TestSaveManagerPerPlayerRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	m, graph := saveFixture(t, world.ScopePerPlayer, store)
	ctx := context.Background()

	require.NoError(t, m.SaveNow(ctx, "p1"))
	assert.Equal(t, 1, store.Count(), "Личный мир пишется одним снимком")

	snap, found := m.LoadPlayer(ctx, "p1")
	require.True(t, found, "Снимок должен найтись")

	restored := world.NewRegionGraph(world.ScopePerPlayer, 42)
	restored.RestoreState(snap.GraphState())
	assert.Equal(t, graph.RegionCount(), restored.RegionCount())
	assert.Equal(t, graph.ActiveRegionID(), restored.ActiveRegionID())
	assert.Equal(t, graph.TotalUnlinkedPads(), restored.TotalUnlinkedPads())

	session := snap.RestoreSession("p1")
	assert.Equal(t, "region_2", session.CurrentRegionID)
	assert.True(t, session.HasVisited(2, 0))

	_, found = m.LoadPlayer(ctx, "ghost")
	assert.False(t, found, "Чужого снимка нет")
}

// TestSaveManagerSharedScope проверяет общий мир: граф единым снимком,
// прогресс игрока отдельной записью.
func TestSaveManagerSharedScope(t *testing.T) {
	store := NewMemoryStore()
	m, graph := saveFixture(t, world.ScopeShared, store)
	ctx := context.Background()

	require.NoError(t, m.SaveNow(ctx, "p1"))
	assert.Equal(t, 2, store.Count(), "Общий мир пишет снимок графа и запись сессии")

	worldSnap, found := m.LoadWorld(ctx)
	require.True(t, found, "Снимок мира должен найтись")
	assert.Len(t, worldSnap.Regions, graph.RegionCount(), "Граф доехал целиком")
	assert.Nil(t, worldSnap.Session, "Снимок мира не несёт чей-то прогресс")

	playerSnap, found := m.LoadPlayer(ctx, "p1")
	require.True(t, found, "Запись сессии должна найтись")
	assert.Empty(t, playerSnap.Regions, "Запись сессии не дублирует граф")
	require.NotNil(t, playerSnap.Session)
	assert.Equal(t, "region_2", playerSnap.Session.CurrentRegionID)
}

// TestSaveManagerClearSkipsNextLoad проверяет, что очистка подавляет
// ровно одну следующую загрузку: отставшая асинхронная запись не
// воскрешает удалённое сохранение.
func TestSaveManagerClearSkipsNextLoad(t *testing.T) {
	store := NewMemoryStore()
	m, _ := saveFixture(t, world.ScopePerPlayer, store)
	ctx := context.Background()

	require.NoError(t, m.SaveNow(ctx, "p1"))
	require.NoError(t, m.ClearPlayer(ctx, "p1"))

	// Отставшая запись приземляется после очистки
	require.NoError(t, m.SaveNow(ctx, "p1"))

	_, found := m.LoadPlayer(ctx, "p1")
	assert.False(t, found, "Первая загрузка после очистки подавлена")

	_, found = m.LoadPlayer(ctx, "p1")
	assert.True(t, found, "Подавляется ровно одна загрузка")
}

// TestSaveManagerStoreUnavailable проверяет деградацию при недоступном
// хранилище: предупреждение вместо ошибки, игра продолжается в памяти.
func TestSaveManagerStoreUnavailable(t *testing.T) {
	m, _ := saveFixture(t, world.ScopePerPlayer, failStore{})
	ctx := context.Background()

	err := m.SaveNow(ctx, "p1")
	assert.NoError(t, err, "Отказ хранилища при записи не фатален")

	_, found := m.LoadPlayer(ctx, "p1")
	assert.False(t, found, "Отказ хранилища при чтении равен отсутствию сохранения")
}

// TestSaveManagerAsyncQueue проверяет асинхронную очередь сохранений
func TestSaveManagerAsyncQueue(t *testing.T) {
	store := NewMemoryStore()
	m, _ := saveFixture(t, world.ScopePerPlayer, store)

	m.SaveAsync("p1")

	require.Eventually(t, func() bool {
		return store.Count() == 1
	}, time.Second, 10*time.Millisecond, "Воркер должен записать снимок")
}

// TestSaveManagerStopFlushesQueue проверяет дожим очереди при остановке
func TestSaveManagerStopFlushesQueue(t *testing.T) {
	store := NewMemoryStore()

	graph := world.NewRegionGraph(world.ScopePerPlayer, 7)
	graph.CreateOriginRegion()

	m, err := NewSaveManager(SaveDeps{
		Store:    store,
		Scope:    world.ScopePerPlayer,
		GraphFor: func(string) *world.RegionGraph { return graph },
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		m.SaveAsync("p1")
	}
	m.Stop()

	assert.Equal(t, 1, store.Count(), "Очередь дожата перед остановкой")
}
