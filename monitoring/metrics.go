package monitoring

import (
	"errors"

	"github.com/lightningnetwork/peerrank/autopilot"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "peerrank"

// Metrics holds the prometheus collectors tracking the recommendation
// engine.
type Metrics struct {
	cycles           *prometheus.CounterVec
	strategyFailures *prometheus.CounterVec
	cycleDuration    prometheus.Histogram
	recommendations  prometheus.Gauge
	lastCycle        prometheus.Gauge
}

// NewMetrics creates the engine's collectors and registers them with reg,
// together with a collector reporting the dropped ticks returned by
// droppedTicks.
func NewMetrics(reg prometheus.Registerer,
	droppedTicks func() uint64) (*Metrics, error) {

	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Number of finished refresh cycles.",
		}, []string{"result"}),
		strategyFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "strategy_failures_total",
				Help: "Number of strategies dropped from " +
					"a cycle.",
			}, []string{"strategy"},
		),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of refresh cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		recommendations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recommendations",
			Help:      "Size of the last published list.",
		}),
		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_published_cycle",
			Help:      "Sequence number of the last published list.",
		}),
	}

	collectors := []prometheus.Collector{
		m.cycles, m.strategyFailures, m.cycleDuration,
		m.recommendations, m.lastCycle,
	}
	if droppedTicks != nil {
		collectors = append(collectors, prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dropped_ticks_total",
				Help: "Number of refresh ticks dropped " +
					"while a cycle was running.",
			}, func() float64 {
				return float64(droppedTicks())
			},
		))
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// cycleResult maps a finished cycle to the result label.
func cycleResult(e *autopilot.CycleEvent) string {
	switch {
	case e.Err == nil:
		return "published"

	case errors.Is(e.Err, autopilot.ErrNoUsableStrategy):
		return "no_strategy"

	case errors.Is(e.Err, autopilot.ErrStaleCycle):
		return "stale"

	default:
		return "failed"
	}
}

// ObserveCycle records a finished cycle.
func (m *Metrics) ObserveCycle(e *autopilot.CycleEvent) {
	result := cycleResult(e)
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(e.Duration.Seconds())

	dropped := e.Dropped
	var noStrategyErr *autopilot.NoUsableStrategyError
	if errors.As(e.Err, &noStrategyErr) {
		dropped = noStrategyErr.Failures
	}
	for name := range dropped {
		m.strategyFailures.WithLabelValues(name).Inc()
	}

	log.Tracef("Cycle %d observed with result %v", e.Cycle, result)
}

// ObserveSet records a published recommendation set.
func (m *Metrics) ObserveSet(set *autopilot.RecommendationSet) {
	m.recommendations.Set(float64(len(set.Recommendations)))
	m.lastCycle.Set(float64(set.Cycle))
}
