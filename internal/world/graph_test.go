package world

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkPadInvariant проверяет, что счётчик несвязанных падов сходится
// с содержимым графа: unlinkedPads == Σ(padCount) - 2*links.
func checkPadInvariant(t *testing.T, g *RegionGraph) {
	t.Helper()

	state := g.ExportState()
	totalPads := 0
	totalLinks := 0
	for _, region := range state.Regions {
		totalPads += region.PadCount
		totalLinks += len(region.PadLinks)
	}
	assert.Equal(t, 0, totalLinks%2, "Число направленных связей должно быть чётным")
	assert.Equal(t, totalPads-totalLinks, state.UnlinkedPads, "Счётчик несвязанных падов должен сходиться с графом")
}

func TestRegionGraph_Creation(t *testing.T) {
	// Тест создания пустого графа
	g := NewRegionGraph(ScopeShared, 12345)

	assert.NotNil(t, g, "Граф должен быть создан")
	assert.Equal(t, ScopeShared, g.Scope(), "Область графа должна быть установлена")
	assert.Equal(t, int64(12345), g.WorldSeed(), "Зерно мира должно быть установлено")
	assert.Equal(t, 0, g.RegionCount(), "Пустой граф не содержит регионов")
	assert.Equal(t, 0, g.TotalUnlinkedPads(), "Пустой граф не содержит падов")
}

func TestRegionGraph_CreateOriginRegion(t *testing.T) {
	// Стартовый регион всегда коридор с двумя падами
	g := NewRegionGraph(ScopeShared, 42)
	origin := g.CreateOriginRegion()

	assert.Equal(t, "region_1", origin.ID, "Первый регион получает id region_1")
	assert.Equal(t, 1, origin.RegionNum, "Номер стартового региона равен 1")
	assert.Equal(t, MapTypeCorridor, origin.MapType, "Стартовый регион — коридор")
	assert.Equal(t, 2, origin.PadCount, "У стартового региона два пада")
	assert.Empty(t, origin.PadLinks, "Стартовый регион не имеет связей")
	assert.True(t, origin.IsActive, "Стартовый регион активен")
	assert.Equal(t, origin.ID, g.ActiveRegionID(), "Стартовый регион становится активным")
	assert.Equal(t, 2, g.TotalUnlinkedPads(), "Оба пада стартового региона свободны")
	checkPadInvariant(t, g)
}

func TestRegionGraph_MonotonicIDs(t *testing.T) {
	// Идентификаторы регионов растут монотонно
	g := NewRegionGraph(ScopeShared, 42)
	g.CreateOriginRegion()

	r2 := g.CreateRegion(MapTypeHub, 3)
	r3 := g.CreateRegion(MapTypeCorridor, 2)

	assert.Equal(t, "region_2", r2.ID, "Второй регион получает id region_2")
	assert.Equal(t, 2, r2.RegionNum, "Номер второго региона равен 2")
	assert.Equal(t, "region_3", r3.ID, "Третий регион получает id region_3")
	assert.Equal(t, 3, g.RegionCount(), "Счётчик регионов только растёт")
	checkPadInvariant(t, g)
}

func TestRegionGraph_SeedStream(t *testing.T) {
	// Одинаковое зерно мира даёт одинаковый поток зёрен регионов
	g1 := NewRegionGraph(ScopeShared, 777)
	g2 := NewRegionGraph(ScopeShared, 777)

	for i := 0; i < 5; i++ {
		r1 := g1.CreateRegion(MapTypeCorridor, 2)
		r2 := g2.CreateRegion(MapTypeCorridor, 2)
		assert.Equal(t, r1.Seed, r2.Seed, "Зерно региона %d должно воспроизводиться", i+1)
	}
}

func TestRegionGraph_LinkPads(t *testing.T) {
	// Связь падов симметрична и потребляет два пада из счётчика
	g := NewRegionGraph(ScopeShared, 42)
	origin := g.CreateOriginRegion()
	next := g.CreateRegion(MapTypeCorridor, 2)

	assert.Equal(t, 4, g.TotalUnlinkedPads(), "До связи свободны четыре пада")

	err := g.LinkPads(origin.ID, 1, next.ID, 0)
	require.NoError(t, err, "Связывание существующих падов должно проходить")

	a, ok := g.GetRegion(origin.ID)
	require.True(t, ok, "Исходный регион должен существовать")
	b, ok := g.GetRegion(next.ID)
	require.True(t, ok, "Целевой регион должен существовать")

	assert.Equal(t, PadRef{RegionID: next.ID, PadID: 0}, a.PadLinks[1], "Прямая связь должна быть записана")
	assert.Equal(t, PadRef{RegionID: origin.ID, PadID: 1}, b.PadLinks[0], "Обратная связь должна быть записана")
	assert.Equal(t, 2, g.TotalUnlinkedPads(), "Связь потребляет ровно два пада")
	assert.Equal(t, 1, g.LinkCount(), "В графе одна связь")
	checkPadInvariant(t, g)
}

func TestRegionGraph_LinkPadsMissingRegion(t *testing.T) {
	// Связь с несуществующим регионом — no-op, счётчик не трогаем
	g := NewRegionGraph(ScopeShared, 42)
	origin := g.CreateOriginRegion()

	before := g.TotalUnlinkedPads()
	err := g.LinkPads(origin.ID, 0, "region_999", 0)

	assert.ErrorIs(t, err, ErrRegionNotFound, "Отсутствующий регион должен давать ErrRegionNotFound")
	assert.Equal(t, before, g.TotalUnlinkedPads(), "Счётчик не меняется при неудачной связи")

	a, _ := g.GetRegion(origin.ID)
	assert.Empty(t, a.PadLinks, "Односторонняя связь не должна появиться")
	checkPadInvariant(t, g)
}

func TestRegionGraph_LinkPadsOutOfRange(t *testing.T) {
	// Пад вне диапазона региона отклоняется без изменений
	g := NewRegionGraph(ScopeShared, 42)
	origin := g.CreateOriginRegion()
	next := g.CreateRegion(MapTypeSpur, 1)

	err := g.LinkPads(origin.ID, 5, next.ID, 0)
	assert.ErrorIs(t, err, ErrPadNotFound, "Пад вне диапазона должен давать ErrPadNotFound")
	checkPadInvariant(t, g)
}

func TestRegionGraph_LinkPadsTwice(t *testing.T) {
	// Повторная связь занятого пада отклоняется
	g := NewRegionGraph(ScopeShared, 42)
	origin := g.CreateOriginRegion()
	first := g.CreateRegion(MapTypeCorridor, 2)
	second := g.CreateRegion(MapTypeCorridor, 2)

	require.NoError(t, g.LinkPads(origin.ID, 1, first.ID, 0))

	before := g.TotalUnlinkedPads()
	err := g.LinkPads(origin.ID, 1, second.ID, 0)

	assert.ErrorIs(t, err, ErrPadLinked, "Занятый пад должен давать ErrPadLinked")
	assert.Equal(t, before, g.TotalUnlinkedPads(), "Счётчик не меняется при отклонённой связи")

	a, _ := g.GetRegion(origin.ID)
	assert.Equal(t, first.ID, a.PadLinks[1].RegionID, "Исходная связь должна сохраниться")
	checkPadInvariant(t, g)
}

func TestRegionGraph_ResolveOrClaim(t *testing.T) {
	// Несвязанный пад резервируется за первым игроком
	g := NewRegionGraph(ScopeShared, 42)
	origin := g.CreateOriginRegion()

	res, err := g.ResolveOrClaim(origin.ID, 0, "player_1")
	require.NoError(t, err, "Первая заявка должна приниматься")
	assert.False(t, res.Linked, "Пад ещё не связан")

	owner, claimed := g.ClaimedBy(origin.ID, 0)
	assert.True(t, claimed, "Заявка должна быть записана")
	assert.Equal(t, "player_1", owner, "Владелец заявки — первый игрок")
}

func TestRegionGraph_ClaimRace(t *testing.T) {
	// Второй игрок на том же паде получает отказ, а не второй регион
	g := NewRegionGraph(ScopeShared, 42)
	origin := g.CreateOriginRegion()

	_, err := g.ResolveOrClaim(origin.ID, 0, "player_1")
	require.NoError(t, err)

	_, err = g.ResolveOrClaim(origin.ID, 0, "player_2")
	assert.ErrorIs(t, err, ErrPadClaimed, "Конкурентная заявка должна отклоняться")

	// Повторная заявка владельца идемпотентна
	_, err = g.ResolveOrClaim(origin.ID, 0, "player_1")
	assert.NoError(t, err, "Повторная заявка владельца не должна отклоняться")
}

func TestRegionGraph_ResolveLinkedPad(t *testing.T) {
	// Связанный пад возвращает существующую цель без заявки
	g := NewRegionGraph(ScopeShared, 42)
	origin := g.CreateOriginRegion()
	next := g.CreateRegion(MapTypeCorridor, 2)
	require.NoError(t, g.LinkPads(origin.ID, 1, next.ID, 0))

	res, err := g.ResolveOrClaim(origin.ID, 1, "player_1")
	require.NoError(t, err)
	assert.True(t, res.Linked, "Связанный пад должен разрешаться в существующую цель")
	assert.Equal(t, PadRef{RegionID: next.ID, PadID: 0}, res.Target, "Цель должна совпадать со связью")

	_, claimed := g.ClaimedBy(origin.ID, 1)
	assert.False(t, claimed, "Связанный пад не резервируется")
}

func TestRegionGraph_ReleaseClaim(t *testing.T) {
	// Отмена перехода освобождает пад для других игроков
	g := NewRegionGraph(ScopeShared, 42)
	origin := g.CreateOriginRegion()

	_, err := g.ResolveOrClaim(origin.ID, 0, "player_1")
	require.NoError(t, err)

	// Чужой релиз не снимает заявку
	g.ReleaseClaim(origin.ID, 0, "player_2")
	_, claimed := g.ClaimedBy(origin.ID, 0)
	assert.True(t, claimed, "Чужой релиз не должен снимать заявку")

	g.ReleaseClaim(origin.ID, 0, "player_1")
	_, claimed = g.ClaimedBy(origin.ID, 0)
	assert.False(t, claimed, "Релиз владельца должен снимать заявку")

	_, err = g.ResolveOrClaim(origin.ID, 0, "player_2")
	assert.NoError(t, err, "Освобождённый пад доступен другому игроку")
}

func TestRegionGraph_LinkClearsClaim(t *testing.T) {
	// Успешная связь снимает заявку с пада
	g := NewRegionGraph(ScopeShared, 42)
	origin := g.CreateOriginRegion()
	next := g.CreateRegion(MapTypeCorridor, 2)

	_, err := g.ResolveOrClaim(origin.ID, 1, "player_1")
	require.NoError(t, err)
	require.NoError(t, g.LinkPads(origin.ID, 1, next.ID, 0))

	_, claimed := g.ClaimedBy(origin.ID, 1)
	assert.False(t, claimed, "Связанный пад не должен оставаться зарезервированным")
}

func TestRegionGraph_ClaimsNotPersisted(t *testing.T) {
	// Заявки — транзитное состояние: в снимок не попадают
	g := NewRegionGraph(ScopeShared, 42)
	origin := g.CreateOriginRegion()

	_, err := g.ResolveOrClaim(origin.ID, 0, "player_1")
	require.NoError(t, err)

	state := g.ExportState()
	restored := NewRegionGraph(ScopeShared, 42)
	restored.RestoreState(state)

	_, claimed := restored.ClaimedBy(origin.ID, 0)
	assert.False(t, claimed, "Заявка не должна переживать восстановление")

	// Заявка не влияет на счётчик свободных падов
	assert.Equal(t, g.TotalUnlinkedPads(), restored.TotalUnlinkedPads(), "Счётчики должны совпадать")
}

func TestRegionGraph_ExportRestore(t *testing.T) {
	// Снимок и восстановление сохраняют метаданные графа
	g := NewRegionGraph(ScopeShared, 42)
	origin := g.CreateOriginRegion()
	hub := g.CreateRegion(MapTypeHub, 4)
	require.NoError(t, g.LinkPads(origin.ID, 1, hub.ID, 0))
	require.NoError(t, g.SetActiveRegion(hub.ID))

	state := g.ExportState()

	restored := NewRegionGraph(ScopeShared, 42)
	restored.RestoreState(state)

	assert.Equal(t, g.RegionCount(), restored.RegionCount(), "Счётчик регионов должен восстановиться")
	assert.Equal(t, g.ActiveRegionID(), restored.ActiveRegionID(), "Активный регион должен восстановиться")
	assert.Equal(t, g.TotalUnlinkedPads(), restored.TotalUnlinkedPads(), "Счётчик падов должен восстановиться")
	assert.Equal(t, g.LinkCount(), restored.LinkCount(), "Число связей должно восстановиться")

	origRegion, ok := restored.GetRegion(origin.ID)
	require.True(t, ok, "Стартовый регион должен восстановиться")
	assert.Equal(t, MapTypeCorridor, origRegion.MapType, "Тип региона должен восстановиться")
	assert.Equal(t, hub.ID, origRegion.PadLinks[1].RegionID, "Связи должны восстановиться")
	checkPadInvariant(t, restored)
}

func TestRegionGraph_SetActiveRegion(t *testing.T) {
	// Смена активного региона не удаляет прежний узел
	g := NewRegionGraph(ScopeShared, 42)
	origin := g.CreateOriginRegion()
	next := g.CreateRegion(MapTypeCorridor, 2)

	require.NoError(t, g.SetActiveRegion(next.ID))

	assert.Equal(t, next.ID, g.ActiveRegionID(), "Активный регион должен смениться")

	prev, ok := g.GetRegion(origin.ID)
	require.True(t, ok, "Прежний регион остаётся в графе")
	assert.False(t, prev.IsActive, "Прежний регион деактивирован")

	err := g.SetActiveRegion("region_999")
	assert.ErrorIs(t, err, ErrRegionNotFound, "Активация неизвестного региона отклоняется")
	assert.Equal(t, next.ID, g.ActiveRegionID(), "Активный регион не меняется при ошибке")
}

func TestRegionGraph_InvariantUnderGrowth(t *testing.T) {
	// Инвариант счётчика держится на длинной цепочке операций
	g := NewRegionGraph(ScopeShared, 99)
	prev := g.CreateOriginRegion()

	for i := 0; i < 20; i++ {
		padCount := 2
		mapType := MapTypeCorridor
		if i%4 == 3 {
			padCount = 4
			mapType = MapTypeHub
		}
		next := g.CreateRegion(mapType, padCount)

		source, _ := g.GetRegion(prev.ID)
		pad, ok := source.FirstUnlinkedPad()
		if !ok {
			prev = next
			continue
		}
		require.NoError(t, g.LinkPads(prev.ID, pad, next.ID, 0))
		checkPadInvariant(t, g)
		prev = next
	}
}

// Benchmarks

func BenchmarkRegionGraph_CreateRegion(b *testing.B) {
	g := NewRegionGraph(ScopeShared, 42)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		g.CreateRegion(MapTypeCorridor, 2)
	}
}

func BenchmarkRegionGraph_ResolveOrClaim(b *testing.B) {
	g := NewRegionGraph(ScopeShared, 42)
	origin := g.CreateOriginRegion()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		player := fmt.Sprintf("player_%d", i)
		_, _ = g.ResolveOrClaim(origin.ID, 0, player)
		g.ReleaseClaim(origin.ID, 0, player)
	}
}
