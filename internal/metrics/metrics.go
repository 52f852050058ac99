// Package metrics implements interfaces.Observer on top of Prometheus
// client metrics, replacing the teacher's atomic-counter-plus-manual-
// histogram Metrics/Observer pair with the ecosystem's standard
// collector types.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jsdrv/jsdrv-go/internal/interfaces"
)

// Metrics bundles the Prometheus collectors backing an Observer. Each
// instance should be registered with exactly one prometheus.Registerer.
type Metrics struct {
	publishTotal   *prometheus.CounterVec
	publishBytes   *prometheus.CounterVec
	queryLatency   *prometheus.HistogramVec
	ingestSamples  *prometheus.CounterVec
	queueDepth     *prometheus.GaugeVec
}

// latencyBuckets covers 1us to ~10s, matching the order of magnitude
// of the teacher's hand-rolled LatencyBuckets table.
var latencyBuckets = []float64{
	1e-6, 1e-5, 1e-4, 1e-3, 1e-2, 1e-1, 1, 10,
}

// NewMetrics constructs the collector set without registering it;
// call Register to attach it to a prometheus.Registerer.
func NewMetrics() *Metrics {
	return &Metrics{
		publishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jsdrv",
			Name:      "publish_total",
			Help:      "Total publish calls, labeled by success.",
		}, []string{"success"}),
		publishBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jsdrv",
			Name:      "publish_bytes_total",
			Help:      "Total bytes carried by published values, by topic.",
		}, []string{"topic"}),
		queryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jsdrv",
			Name:      "query_latency_seconds",
			Help:      "Query round-trip latency in seconds.",
			Buckets:   latencyBuckets,
		}, []string{"topic", "success"}),
		ingestSamples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jsdrv",
			Name:      "bufsig_ingest_samples_total",
			Help:      "Samples ingested into a buffer signal ring.",
		}, []string{"signal_id"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "jsdrv",
			Name:      "worker_queue_depth",
			Help:      "Most recently observed depth of a worker's command queue.",
		}, []string{"queue"}),
	}
}

// Register attaches every collector in m to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.publishTotal, m.publishBytes, m.queryLatency, m.ingestSamples, m.queueDepth,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Observer adapts Metrics to interfaces.Observer.
type Observer struct {
	m *Metrics
}

// NewObserver returns an Observer recording into m.
func NewObserver(m *Metrics) *Observer { return &Observer{m: m} }

func successLabel(ok bool) string {
	if ok {
		return "true"
	}
	return "false"
}

func (o *Observer) ObservePublish(topic string, bytes int, success bool) {
	o.m.publishTotal.WithLabelValues(successLabel(success)).Inc()
	if success && bytes > 0 {
		o.m.publishBytes.WithLabelValues(topic).Add(float64(bytes))
	}
}

func (o *Observer) ObserveQuery(topic string, latencyNs uint64, success bool) {
	o.m.queryLatency.WithLabelValues(topic, successLabel(success)).Observe(float64(latencyNs) / 1e9)
}

func (o *Observer) ObserveIngest(signalID uint8, sampleCount uint32) {
	o.m.ingestSamples.WithLabelValues(signalIDLabel(signalID)).Add(float64(sampleCount))
}

func (o *Observer) ObserveQueueDepth(queueName string, depth uint32) {
	o.m.queueDepth.WithLabelValues(queueName).Set(float64(depth))
}

func signalIDLabel(id uint8) string {
	const hextable = "0123456789abcdef"
	return string([]byte{hextable[id>>4], hextable[id&0xf]})
}

var _ interfaces.Observer = (*Observer)(nil)

// NoOpObserver discards every observation; used when no metrics
// backend has been configured.
type NoOpObserver struct{}

func (NoOpObserver) ObservePublish(string, int, bool)  {}
func (NoOpObserver) ObserveQuery(string, uint64, bool) {}
func (NoOpObserver) ObserveIngest(uint8, uint32)       {}
func (NoOpObserver) ObserveQueueDepth(string, uint32)  {}

var _ interfaces.Observer = NoOpObserver{}
