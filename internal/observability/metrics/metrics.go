package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RoutingMetrics exposes counters/histograms for the routing pipeline.
type RoutingMetrics struct {
	turnsTotal      *prometheus.CounterVec
	handlerOutcomes *prometheus.CounterVec
	handlerLatency  *prometheus.HistogramVec
	turnLatency     prometheus.Histogram
	escalations     *prometheus.CounterVec
}

func NewRoutingMetrics(reg prometheus.Registerer) *RoutingMetrics {
	m := &RoutingMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ciro",
			Name:      "turns_total",
			Help:      "Chat turns by routing decision",
		}, []string{"decision"}),
		handlerOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ciro",
			Name:      "handler_outcomes_total",
			Help:      "Handler invocations by outcome status",
		}, []string{"handler", "status"}),
		handlerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ciro",
			Name:      "handler_latency_seconds",
			Help:      "Latency of individual handler invocations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"handler"}),
		turnLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ciro",
			Name:      "turn_latency_seconds",
			Help:      "End-to-end latency of a chat turn",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 12, 20},
		}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ciro",
			Name:      "escalations_total",
			Help:      "Distress escalation notices by delivery status",
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.handlerOutcomes, m.handlerLatency, m.turnLatency, m.escalations)
	return m
}

func (m *RoutingMetrics) ObserveTurn(decision string, latency time.Duration) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(decision).Inc()
	m.turnLatency.Observe(latency.Seconds())
}

func (m *RoutingMetrics) ObserveHandler(handler, status string, latency time.Duration) {
	if m == nil {
		return
	}
	m.handlerOutcomes.WithLabelValues(handler, status).Inc()
	m.handlerLatency.WithLabelValues(handler).Observe(latency.Seconds())
}

func (m *RoutingMetrics) ObserveEscalation(status string) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(status).Inc()
}
