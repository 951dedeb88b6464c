package world

import (
	"context"
	"time"

	"github.com/annel0/rift-server/internal/eventbus"
)

// Типы событий графа, уходящие в шину
const (
	EventRegionCreated   = "RegionCreated"
	EventPadsLinked      = "PadsLinked"
	EventRegionActivated = "RegionActivated"
)

const eventSource = "world"

// RegionCreatedEvent публикуется при добавлении узла в граф
type RegionCreatedEvent struct {
	RegionID  string `json:"region_id"`
	RegionNum int    `json:"region_num"`
	MapType   string `json:"map_type"`
	PadCount  int    `json:"pad_count"`
	Seed      int64  `json:"seed"`
	IsOrigin  bool   `json:"is_origin"`
}

// PadsLinkedEvent публикуется после записи симметричной связи
type PadsLinkedEvent struct {
	RegionA string `json:"region_a"`
	PadA    int    `json:"pad_a"`
	RegionB string `json:"region_b"`
	PadB    int    `json:"pad_b"`
}

// RegionActivatedEvent публикуется при смене активного региона
type RegionActivatedEvent struct {
	RegionID  string `json:"region_id"`
	RegionNum int    `json:"region_num"`
}

func publishRegionCreated(region *Region, isOrigin bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = eventbus.PublishJSON(ctx, eventSource, EventRegionCreated, "", 5, RegionCreatedEvent{
		RegionID:  region.ID,
		RegionNum: region.RegionNum,
		MapType:   region.MapType.String(),
		PadCount:  region.PadCount,
		Seed:      region.Seed,
		IsOrigin:  isOrigin,
	})
}

func publishPadsLinked(regionA string, padA int, regionB string, padB int) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = eventbus.PublishJSON(ctx, eventSource, EventPadsLinked, "", 5, PadsLinkedEvent{
		RegionA: regionA,
		PadA:    padA,
		RegionB: regionB,
		PadB:    padB,
	})
}

func publishRegionActivated(regionID string, regionNum int) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = eventbus.PublishJSON(ctx, eventSource, EventRegionActivated, "", 3, RegionActivatedEvent{
		RegionID:  regionID,
		RegionNum: regionNum,
	})
}
