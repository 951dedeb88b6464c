package layout

import (
	"fmt"
	"sync"
	"time"

	"github.com/annel0/rift-server/internal/logging"
	"github.com/annel0/rift-server/internal/vec"
	"github.com/google/uuid"
)

// Gateway контракт шлюза геометрии: детерминированная генерация
// дескриптора и парная материализация/снос.
type Gateway interface {
	Generate(seed int64, regionNum, padCount int) (*Descriptor, error)
	Instantiate(desc *Descriptor) (*Instance, error)
	Destroy(containerID string)
}

// ProcGateway процедурный шлюз: генерирует дескрипторы (с кэшем по зерну)
// и ведёт реестр материализованных регионов процесса.
type ProcGateway struct {
	generator *Generator
	mu        sync.RWMutex
	instances map[string]*Instance
	descCache map[string]*Descriptor
}

// NewProcGateway создаёт шлюз с пустым реестром
func NewProcGateway() *ProcGateway {
	return &ProcGateway{
		generator: NewGenerator(),
		instances: make(map[string]*Instance),
		descCache: make(map[string]*Descriptor),
	}
}

// Generate строит дескриптор региона из зерна. Генерация детерминирована,
// повторный запрос с тем же зерном отдаёт кэшированный дескриптор.
func (pg *ProcGateway) Generate(seed int64, regionNum, padCount int) (*Descriptor, error) {
	key := fmt.Sprintf("%d:%d:%d", seed, regionNum, padCount)

	pg.mu.RLock()
	cached, ok := pg.descCache[key]
	pg.mu.RUnlock()
	if ok {
		return cached, nil
	}

	desc, err := pg.generator.Generate(seed, regionNum, padCount)
	if err != nil {
		return nil, fmt.Errorf("генерация геометрии региона %d: %w", regionNum, err)
	}

	pg.mu.Lock()
	pg.descCache[key] = desc
	pg.mu.Unlock()

	logging.Debug("🏗️ Сгенерирован дескриптор региона %d: комнат=%d, падов=%d", regionNum, len(desc.Rooms), len(desc.Pads))
	return desc, nil
}

// Instantiate материализует дескриптор: вычисляет зоны комнат и падов
// и регистрирует инстанс под уникальным handle.
func (pg *ProcGateway) Instantiate(desc *Descriptor) (*Instance, error) {
	if desc == nil {
		return nil, fmt.Errorf("пустой дескриптор")
	}

	pads := make([]PadZone, 0, len(desc.Pads))
	for _, pad := range desc.Pads {
		pads = append(pads, PadZone{
			PadID:  pad.ID,
			RoomID: pad.RoomID,
			Center: pad.Position,
			Radius: padRadius,
		})
	}

	zones := make([]RoomZone, 0, len(desc.Rooms))
	for _, room := range desc.Rooms {
		halfW := float64(room.Width) * cellSize / 2
		halfH := float64(room.Height) * cellSize / 2
		zones = append(zones, RoomZone{
			RoomID: room.ID,
			Min:    vec.Vec2Float{X: room.Center.X - halfW, Y: room.Center.Y - halfH},
			Max:    vec.Vec2Float{X: room.Center.X + halfW, Y: room.Center.Y + halfH},
		})
	}

	instance := &Instance{
		ContainerID: uuid.NewString(),
		Descriptor:  desc,
		Spawn:       desc.Spawn,
		Pads:        pads,
		RoomZones:   zones,
		CreatedAt:   time.Now(),
	}

	pg.mu.Lock()
	pg.instances[instance.ContainerID] = instance
	pg.mu.Unlock()

	logging.Info("🏗️ Материализован регион %d (container=%s)", desc.RegionNum, instance.ContainerID)
	return instance, nil
}

// Destroy сносит материализованный регион. Идемпотентен: повторный
// снос или неизвестный handle — предупреждение, не ошибка.
func (pg *ProcGateway) Destroy(containerID string) {
	pg.mu.Lock()
	instance, ok := pg.instances[containerID]
	if ok {
		delete(pg.instances, containerID)
	}
	pg.mu.Unlock()

	if !ok {
		logging.Warn("Снос пропущен: контейнер %s не найден", containerID)
		return
	}
	logging.Info("🧹 Снесён регион %d (container=%s)", instance.Descriptor.RegionNum, containerID)
}

// Get возвращает материализованный инстанс по handle
func (pg *ProcGateway) Get(containerID string) (*Instance, bool) {
	pg.mu.RLock()
	defer pg.mu.RUnlock()
	instance, ok := pg.instances[containerID]
	return instance, ok
}

// ActiveCount возвращает число материализованных регионов
func (pg *ProcGateway) ActiveCount() int {
	pg.mu.RLock()
	defer pg.mu.RUnlock()
	return len(pg.instances)
}
