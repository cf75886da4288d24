// Package metrics exposes stream counters in Prometheus format. It is fed
// entirely from the event bus.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pagechat/internal/coordinator"
	"pagechat/internal/eventbus"
)

// Metrics holds the collectors and the registry they are registered with.
type Metrics struct {
	registry *prometheus.Registry

	started  *prometheus.CounterVec
	finished *prometheus.CounterVec
	active   prometheus.Gauge
	duration *prometheus.HistogramVec
	chars    *prometheus.CounterVec
	fetches  *prometheus.CounterVec
	origins  prometheus.Gauge
	errors   prometheus.Counter

	unsubscribe []func()
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pagechat",
			Name:      "streams_started_total",
			Help:      "Streams started, by provider and origin kind.",
		}, []string{"provider", "origin"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pagechat",
			Name:      "streams_finished_total",
			Help:      "Streams finished, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pagechat",
			Name:      "streams_active",
			Help:      "Streams currently running.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pagechat",
			Name:      "stream_duration_seconds",
			Help:      "Wall time from start to end of a stream.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		}, []string{"provider", "outcome"}),
		chars: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pagechat",
			Name:      "stream_chars_total",
			Help:      "Characters of assistant text streamed.",
		}, []string{"provider"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pagechat",
			Name:      "model_fetches_total",
			Help:      "Model list requests, by provider and result.",
		}, []string{"provider", "result"}),
		origins: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pagechat",
			Name:      "origins_attached",
			Help:      "Foreground origins currently attached.",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pagechat",
			Name:      "errors_total",
			Help:      "Background errors reported on the event bus.",
		}),
	}
	m.registry.MustRegister(
		m.started, m.finished, m.active, m.duration,
		m.chars, m.fetches, m.origins, m.errors,
		collectors.NewGoCollector(),
	)
	return m
}

// Subscribe starts recording events from bus.
func (m *Metrics) Subscribe(bus *eventbus.Bus) {
	m.unsubscribe = append(m.unsubscribe,
		bus.Subscribe(eventbus.TopicStreamStarted, m.onStarted),
		bus.Subscribe(eventbus.TopicStreamFinished, m.onFinished),
		bus.Subscribe(eventbus.TopicModelsFetched, m.onModelsFetched),
		bus.Subscribe(eventbus.TopicOriginAttached, func(eventbus.Event) { m.origins.Inc() }),
		bus.Subscribe(eventbus.TopicOriginDetached, func(eventbus.Event) { m.origins.Dec() }),
		bus.Subscribe(eventbus.TopicError, func(eventbus.Event) { m.errors.Inc() }),
	)
}

// Close stops recording.
func (m *Metrics) Close() {
	for _, u := range m.unsubscribe {
		u()
	}
	m.unsubscribe = nil
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) onStarted(e eventbus.Event) {
	ev, ok := e.Payload.(coordinator.StreamEvent)
	if !ok {
		return
	}
	m.started.WithLabelValues(ev.Provider, originKind(ev.Origin)).Inc()
	m.active.Inc()
}

func (m *Metrics) onFinished(e eventbus.Event) {
	ev, ok := e.Payload.(coordinator.StreamEvent)
	if !ok {
		return
	}
	outcome := string(ev.Outcome)
	m.finished.WithLabelValues(ev.Provider, outcome).Inc()
	m.duration.WithLabelValues(ev.Provider, outcome).Observe(ev.Duration.Seconds())
	m.chars.WithLabelValues(ev.Provider).Add(float64(ev.Chars))
	m.active.Dec()
}

func (m *Metrics) onModelsFetched(e eventbus.Event) {
	ev, ok := e.Payload.(coordinator.ModelsFetched)
	if !ok {
		return
	}
	result := "ok"
	if ev.Err != nil {
		result = "error"
	}
	m.fetches.WithLabelValues(ev.Provider, result).Inc()
}

// originKind keeps label cardinality bounded: "ws:1234" becomes "ws".
func originKind(o coordinator.Origin) string {
	kind, _, _ := strings.Cut(string(o), ":")
	if kind == "" {
		return "unknown"
	}
	return kind
}
