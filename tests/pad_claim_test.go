package tests

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/annel0/rift-server/internal/game"
	"github.com/annel0/rift-server/internal/layout"
	"github.com/annel0/rift-server/internal/storage"
	"github.com/annel0/rift-server/internal/transition"
	"github.com/annel0/rift-server/internal/vec"
	"github.com/annel0/rift-server/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nopScreen заглушка экранных переходов для сценариев без сети
type nopScreen struct{}

func (nopScreen) TransitionStart(playerID, transitionID string)              {}
func (nopScreen) LoadingComplete(playerID, transitionID, containerID string) {}
func (nopScreen) TransitionEnd(playerID, transitionID string)                {}

// newEngine поднимает движок на памяти с быстрым дебаунсом падов
func newEngine(t *testing.T, scope world.GraphScope, store storage.KVStore) *game.RiftService {
	t.Helper()

	if store == nil {
		store = storage.NewMemoryStore()
	}
	svc, err := game.NewRiftService(store, nopScreen{}, game.Options{
		Scope:         scope,
		WorldSeed:     4242,
		PadDebounce:   50 * time.Millisecond,
		FadeInTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	svc.Start()
	t.Cleanup(svc.Stop)
	return svc
}

// joinPlayer входит в игру и возвращает стартовое состояние
func joinPlayer(t *testing.T, svc *game.RiftService, playerID string) *game.JoinResult {
	t.Helper()

	join, err := svc.StartSession(context.Background(), playerID)
	require.NoError(t, err)
	return join
}

// padZone возвращает зону пада текущего региона игрока
func padZone(t *testing.T, svc *game.RiftService, playerID string, padID int) layout.PadZone {
	t.Helper()

	instance, ok := svc.Instance(playerID)
	require.True(t, ok, "у игрока %s нет инстанса региона", playerID)
	zone, ok := instance.PadZoneByID(padID)
	require.True(t, ok, "в регионе игрока %s нет пада %d", playerID, padID)
	return zone
}

// completeJump доигрывает принятый переход до Idle
func completeJump(t *testing.T, svc *game.RiftService, playerID string) {
	t.Helper()

	svc.FadeOutComplete(playerID)
	require.Eventually(t, func() bool {
		return svc.Phase(playerID) == transition.PhaseFadingIn
	}, 3*time.Second, 10*time.Millisecond, "переход игрока %s не дошёл до проявления", playerID)

	svc.TransitionComplete(playerID)
	assert.Equal(t, transition.PhaseIdle, svc.Phase(playerID))
}

// TestPadClaimSecondPlayerRejected: первый запрос бронирует несвязанный
// пад, второй игрок на том же паде получает отказ и остаётся на месте
func TestPadClaimSecondPlayerRejected(t *testing.T) {
	svc := newEngine(t, world.ScopeShared, nil)

	joinPlayer(t, svc, "alice")
	joinPlayer(t, svc, "bob")

	zone := padZone(t, svc, "alice", 1)

	// Алиса бронирует пад: переход стартует сразу
	svc.HandleMovement("alice", zone.Center)
	require.Equal(t, transition.PhaseFadingOut, svc.Phase("alice"))

	// Боб наступает на тот же пад, пока бронь жива
	svc.HandleMovement("bob", zone.Center)
	assert.Equal(t, transition.PhaseIdle, svc.Phase("bob"), "Занятый пад не должен запускать второй переход")

	// Отказ не замораживает: Боб свободно уходит с пада
	aside := vec.Vec2Float{X: zone.Center.X + 5, Y: zone.Center.Y}
	svc.HandleMovement("bob", aside)
	pos, ok := svc.Position("bob")
	require.True(t, ok)
	assert.Equal(t, aside, pos)

	// Алиса доигрывает переход: пад связывается с новым регионом
	completeJump(t, svc, "alice")
	region, ok := svc.CurrentRegion("alice")
	require.True(t, ok)
	assert.Equal(t, "region_2", region)

	stats := svc.Stats()
	assert.Equal(t, 2, stats.Regions)
	assert.Equal(t, 1, stats.Links)

	// Боб возвращается на пад и уходит по готовой связи без брони
	svc.HandleMovement("bob", zone.Center)
	require.Equal(t, transition.PhaseFadingOut, svc.Phase("bob"), "Связанный пад обслуживает всех")
	completeJump(t, svc, "bob")

	bobRegion, ok := svc.CurrentRegion("bob")
	require.True(t, ok)
	assert.Equal(t, region, bobRegion, "Связь ведёт в регион Алисы")

	stats = svc.Stats()
	assert.Equal(t, 2, stats.Regions, "Повторный прыжок не создаёт регионов")
	assert.Equal(t, 1, stats.Links)
	assert.Equal(t, 2, stats.ActiveInstances, "По инстансу региона прибытия на игрока")
}

// TestPadClaimConcurrentSingleWinner: одновременные прыжки с одного пада
// дают ровно одного победителя, мир растёт на один регион
func TestPadClaimConcurrentSingleWinner(t *testing.T) {
	svc := newEngine(t, world.ScopeShared, nil)

	joinPlayer(t, svc, "alice")
	joinPlayer(t, svc, "bob")

	aliceZone := padZone(t, svc, "alice", 1)
	bobZone := padZone(t, svc, "bob", 1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		svc.HandleMovement("alice", aliceZone.Center)
	}()
	go func() {
		defer wg.Done()
		svc.HandleMovement("bob", bobZone.Center)
	}()
	wg.Wait()

	var winner, loser string
	for _, id := range []string{"alice", "bob"} {
		switch phase := svc.Phase(id); phase {
		case transition.PhaseFadingOut:
			require.Empty(t, winner, "бронь должна достаться одному")
			winner = id
		case transition.PhaseIdle:
			loser = id
		default:
			require.Failf(t, "неожиданная фаза", "%s: %v", id, phase)
		}
	}
	require.NotEmpty(t, winner, "кто-то должен был забронировать пад")
	require.NotEmpty(t, loser)

	completeJump(t, svc, winner)

	stats := svc.Stats()
	assert.Equal(t, 2, stats.Regions, "Гонка не должна плодить регионы")
	assert.Equal(t, 1, stats.Links)
}
