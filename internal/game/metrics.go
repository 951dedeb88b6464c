package game

import (
	"context"
	"encoding/json"

	"github.com/annel0/rift-server/internal/eventbus"
	"github.com/annel0/rift-server/internal/logging"
	"github.com/annel0/rift-server/internal/transition"
	"github.com/annel0/rift-server/internal/world"
	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics метрики движка регионов.
// Гейджи обновляются фоновым циклом сервиса, счётчики переходов и
// регионов пополняются из шины событий: координатор и граф публикуют
// каждый результат, здесь он сводится в Prometheus.
//
// Метрики:
// * rift_players_online — gauge
// * rift_regions_total — gauge
// * rift_unlinked_pads — gauge
// * rift_instances_active — gauge
// * rift_sessions_started_total — counter
// * rift_regions_created_total{map_type} — counter
// * rift_jump_requests_total / rift_jump_rejected_total — counter
// * rift_transitions_completed_total / rift_transitions_failed_total — counter
// * rift_transition_duration_seconds — histogram
type EngineMetrics struct {
	playersOnline   prometheus.Gauge
	regionsTotal    prometheus.Gauge
	unlinkedPads    prometheus.Gauge
	instancesActive prometheus.Gauge

	sessionsStarted      prometheus.Counter
	regionsCreated       *prometheus.CounterVec
	jumpsRequested       prometheus.Counter
	jumpsRejected        prometheus.Counter
	transitionsCompleted prometheus.Counter
	transitionsFailed    prometheus.Counter
	transitionSeconds    prometheus.Histogram

	sub eventbus.Subscription
}

// NewEngineMetrics создаёт метрики и регистрирует их в дефолтном
// регистре. Создавать можно только один раз на процесс.
func NewEngineMetrics() *EngineMetrics {
	em := &EngineMetrics{
		playersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rift",
			Name:      "players_online",
			Help:      "Число подключённых игроков.",
		}),
		regionsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rift",
			Name:      "regions_total",
			Help:      "Суммарное число регионов во всех графах.",
		}),
		unlinkedPads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rift",
			Name:      "unlinked_pads",
			Help:      "Число несвязанных падов, фронтир расширения мира.",
		}),
		instancesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rift",
			Name:      "instances_active",
			Help:      "Число материализованных регионов.",
		}),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rift",
			Name:      "sessions_started_total",
			Help:      "Общее число стартов игровых сессий.",
		}),
		regionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rift",
			Name:      "regions_created_total",
			Help:      "Число созданных регионов по типу карты.",
		}, []string{"map_type"}),
		jumpsRequested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rift",
			Name:      "jump_requests_total",
			Help:      "Общее число принятых запросов прыжка.",
		}),
		jumpsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rift",
			Name:      "jump_rejected_total",
			Help:      "Общее число отклонённых запросов прыжка.",
		}),
		transitionsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rift",
			Name:      "transitions_completed_total",
			Help:      "Общее число завершённых переходов.",
		}),
		transitionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rift",
			Name:      "transitions_failed_total",
			Help:      "Общее число прерванных переходов.",
		}),
		transitionSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rift",
			Name:      "transition_duration_seconds",
			Help:      "Длительность перехода от запроса до возврата в Idle.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
	}

	prometheus.MustRegister(
		em.playersOnline, em.regionsTotal, em.unlinkedPads, em.instancesActive,
		em.sessionsStarted, em.regionsCreated, em.jumpsRequested, em.jumpsRejected,
		em.transitionsCompleted, em.transitionsFailed, em.transitionSeconds,
	)
	return em
}

// WatchBus подписывает счётчики переходов и регионов на шину событий
func (em *EngineMetrics) WatchBus(bus eventbus.EventBus) error {
	if bus == nil {
		return nil
	}
	sub, err := bus.Subscribe(context.Background(), eventbus.Filter{
		Types: []string{
			transition.EventTransitionCompleted,
			transition.EventTransitionFailed,
			world.EventRegionCreated,
		},
		Sources: []string{"transition", "world"},
	}, func(ctx context.Context, ev *eventbus.Envelope) {
		switch ev.EventType {
		case transition.EventTransitionCompleted:
			em.transitionsCompleted.Inc()
			var payload transition.TransitionCompletedEvent
			if err := json.Unmarshal(ev.Payload, &payload); err == nil && payload.DurationMs > 0 {
				em.transitionSeconds.Observe(float64(payload.DurationMs) / 1000)
			}
		case transition.EventTransitionFailed:
			em.transitionsFailed.Inc()
		case world.EventRegionCreated:
			var payload world.RegionCreatedEvent
			if err := json.Unmarshal(ev.Payload, &payload); err == nil {
				em.regionsCreated.WithLabelValues(payload.MapType).Inc()
			}
		}
	})
	if err != nil {
		return err
	}
	em.sub = sub
	logging.Info("📈 Метрики движка подписаны на события переходов")
	return nil
}

// Update обновляет гейджи из среза состояния движка
func (em *EngineMetrics) Update(online, regions, unlinked, instances int) {
	em.playersOnline.Set(float64(online))
	em.regionsTotal.Set(float64(regions))
	em.unlinkedPads.Set(float64(unlinked))
	em.instancesActive.Set(float64(instances))
}

// SessionStarted учитывает вход игрока
func (em *EngineMetrics) SessionStarted() { em.sessionsStarted.Inc() }

// JumpRequested учитывает принятый запрос прыжка
func (em *EngineMetrics) JumpRequested() { em.jumpsRequested.Inc() }

// JumpRejected учитывает отклонённый запрос прыжка
func (em *EngineMetrics) JumpRejected() { em.jumpsRejected.Inc() }

// Close отписывает метрики от шины
func (em *EngineMetrics) Close() {
	if em.sub != nil {
		em.sub.Unsubscribe()
	}
}
