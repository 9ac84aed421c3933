package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"fluidity/core/events"
)

type collateralMetrics struct {
	events       *prometheus.CounterVec
	liquidations prometheus.Counter
	offsets      prometheus.Counter
	recalls      prometheus.Counter
	rebalances   prometheus.Counter
}

var (
	collateralMetricsOnce sync.Once
	collateralRegistry    *collateralMetrics
)

// CollateralMetrics returns the lazily-initialised metrics registry for the
// collateral subsystem.
func CollateralMetrics() *collateralMetrics {
	collateralMetricsOnce.Do(func() {
		collateralRegistry = &collateralMetrics{
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fluidity",
				Subsystem: "collateral",
				Name:      "events_total",
				Help:      "Total subsystem events segmented by event type.",
			}, []string{"type"}),
			liquidations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "fluidity",
				Subsystem: "collateral",
				Name:      "liquidations_total",
				Help:      "Total positions liquidated.",
			}),
			offsets: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "fluidity",
				Subsystem: "collateral",
				Name:      "stability_offsets_total",
				Help:      "Total debt offsets absorbed by the stability pool.",
			}),
			recalls: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "fluidity",
				Subsystem: "collateral",
				Name:      "strategy_recalls_total",
				Help:      "Total cascading recalls pulled back from strategies.",
			}),
			rebalances: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "fluidity",
				Subsystem: "collateral",
				Name:      "rebalances_total",
				Help:      "Total allocation rebalances executed.",
			}),
		}
		prometheus.MustRegister(
			collateralRegistry.events,
			collateralRegistry.liquidations,
			collateralRegistry.offsets,
			collateralRegistry.recalls,
			collateralRegistry.rebalances,
		)
	})
	return collateralRegistry
}

// MetricsEmitter forwards engine events into prometheus counters, optionally
// chaining to another emitter so events still reach their primary consumer.
type MetricsEmitter struct {
	next events.Emitter
}

// NewMetricsEmitter wraps next with metric recording. A nil next is allowed.
func NewMetricsEmitter(next events.Emitter) *MetricsEmitter {
	return &MetricsEmitter{next: next}
}

// Emit records the event and forwards it.
func (m *MetricsEmitter) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	reg := CollateralMetrics()
	eventType := evt.EventType()
	reg.events.WithLabelValues(eventType).Inc()
	switch eventType {
	case "liquidation.position.liquidated":
		reg.liquidations.Inc()
	case "stability.debt.offset":
		reg.offsets.Inc()
	case "allocation.recalled":
		reg.recalls.Inc()
	case "allocation.rebalanced":
		reg.rebalances.Inc()
	}
	if m.next != nil {
		m.next.Emit(evt)
	}
}
