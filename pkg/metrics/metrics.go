package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mmpersona"

// Metrics holds the collectors of the engine. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry     *prometheus.Registry
	triggered    *prometheus.CounterVec
	replies      *prometheus.CounterVec
	memoryWrites *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		triggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggered_posts_total",
			Help:      "Posts that addressed a bot and had no answered reaction.",
		}, []string{"bot"}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Processed triggering posts by result.",
		}, []string{"bot", "result"}),
		memoryWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_writes_total",
			Help:      "Memory records written to memory channels.",
		}, []string{"bot", "op"}),
	}

	m.registry.MustRegister(
		m.triggered,
		m.replies,
		m.memoryWrites,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Triggered(bot string) {
	if m == nil {
		return
	}
	m.triggered.WithLabelValues(bot).Inc()
}

// Reply counts a processed post; result is "answered", "skipped" or "failed"
func (m *Metrics) Reply(bot, result string) {
	if m == nil {
		return
	}
	m.replies.WithLabelValues(bot, result).Inc()
}

func (m *Metrics) MemoryWrite(bot, op string) {
	if m == nil {
		return
	}
	m.memoryWrites.WithLabelValues(bot, op).Inc()
}

// Handler exposes the collectors in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
