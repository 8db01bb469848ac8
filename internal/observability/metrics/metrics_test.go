package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestRoutingMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRoutingMetrics(reg)
	m.ObserveTurn("single", 120*time.Millisecond)
	m.ObserveTurn("single", 80*time.Millisecond)
	m.ObserveHandler("teacher", "ok", time.Second)
	m.ObserveHandler("teacher", "timeout", 8*time.Second)
	m.ObserveEscalation("sent")

	if got := testutil.ToFloat64(m.turnsTotal.WithLabelValues("single")); got != 2 {
		t.Fatalf("expected 2 single turns, got %v", got)
	}
	if got := testutil.ToFloat64(m.handlerOutcomes.WithLabelValues("teacher", "timeout")); got != 1 {
		t.Fatalf("expected 1 timeout, got %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var turnHist *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "ciro_turn_latency_seconds" {
			turnHist = f
		}
	}
	if turnHist == nil {
		t.Fatalf("turn latency histogram not registered")
	}
	if got := turnHist.GetMetric()[0].GetHistogram().GetSampleCount(); got != 2 {
		t.Fatalf("expected 2 samples, got %d", got)
	}
}

func TestRoutingMetricsDefaultRegistry(t *testing.T) {
	m := NewRoutingMetrics(nil)
	t.Cleanup(func() {
		prometheus.DefaultRegisterer.Unregister(m.turnsTotal)
		prometheus.DefaultRegisterer.Unregister(m.handlerOutcomes)
		prometheus.DefaultRegisterer.Unregister(m.handlerLatency)
		prometheus.DefaultRegisterer.Unregister(m.turnLatency)
		prometheus.DefaultRegisterer.Unregister(m.escalations)
	})
	m.ObserveEscalation("failed")
}

func TestRoutingMetricsNilSafe(t *testing.T) {
	var m *RoutingMetrics
	m.ObserveTurn("clarify", time.Millisecond)
	m.ObserveHandler("ciro", "error", time.Millisecond)
	m.ObserveEscalation("skipped")
}
