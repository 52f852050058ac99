package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestObservePublishIncrementsCounters(t *testing.T) {
	m := NewMetrics()
	o := NewObserver(m)

	o.ObservePublish("a/!add", 12, true)
	o.ObservePublish("a/!add", 0, false)

	if got := counterValue(t, m.publishTotal.WithLabelValues("true")); got != 1 {
		t.Errorf("publishTotal[true] = %v, want 1", got)
	}
	if got := counterValue(t, m.publishTotal.WithLabelValues("false")); got != 1 {
		t.Errorf("publishTotal[false] = %v, want 1", got)
	}
	if got := counterValue(t, m.publishBytes.WithLabelValues("a/!add")); got != 12 {
		t.Errorf("publishBytes = %v, want 12", got)
	}
}

func TestObserveIngestAggregatesBySignal(t *testing.T) {
	m := NewMetrics()
	o := NewObserver(m)

	o.ObserveIngest(3, 100)
	o.ObserveIngest(3, 50)

	if got := counterValue(t, m.ingestSamples.WithLabelValues(signalIDLabel(3))); got != 150 {
		t.Errorf("ingestSamples = %v, want 150", got)
	}
}

func TestObserveQueueDepthSetsGauge(t *testing.T) {
	m := NewMetrics()
	o := NewObserver(m)

	o.ObserveQueueDepth("ctrl", 7)

	var mm dto.Metric
	if err := m.queueDepth.WithLabelValues("ctrl").Write(&mm); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := mm.GetGauge().GetValue(); got != 7 {
		t.Errorf("queueDepth = %v, want 7", got)
	}
}

func TestRegisterAttachesAllCollectors(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	// a second registration against a fresh registry must also succeed
	if err := m.Register(prometheus.NewRegistry()); err != nil {
		t.Fatalf("Register (second registry): %v", err)
	}
}

func TestNoOpObserverDoesNotPanic(t *testing.T) {
	var o NoOpObserver
	o.ObservePublish("x", 1, true)
	o.ObserveQuery("x", 1000, false)
	o.ObserveIngest(1, 10)
	o.ObserveQueueDepth("x", 1)
}

func TestSignalIDLabelIsTwoHexDigits(t *testing.T) {
	if got := signalIDLabel(0); got != "00" {
		t.Errorf("signalIDLabel(0) = %q, want 00", got)
	}
	if got := signalIDLabel(255); got != "ff" {
		t.Errorf("signalIDLabel(255) = %q, want ff", got)
	}
}
