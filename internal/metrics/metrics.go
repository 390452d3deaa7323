// Package metrics exposes Prometheus instrumentation for the reply pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "parley"

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry     *prometheus.Registry
	cycles       *prometheus.CounterVec
	retries      *prometheus.CounterVec
	sends        prometheus.Counter
	recorded     prometheus.Counter
	degradations *prometheus.CounterVec
	threads      prometheus.Gauge
	pruned       prometheus.Counter
	feedback     prometheus.Counter
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Reply cycles by classification label and final state.",
		}, []string{"label", "state"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Failed attempts of an external call, by step.",
		}, []string{"step"}),
		sends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Messages delivered to the chat platform.",
		}),
		recorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recorded_messages_total",
			Help:      "Messages written into at least one thread.",
		}),
		degradations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "normalize_degradations_total",
			Help:      "Normalization sub-steps that fell back to a placeholder.",
		}, []string{"step"}),
		threads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "threads",
			Help:      "Participant threads currently held in memory.",
		}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pruned_messages_total",
			Help:      "Messages removed by the retention sweep.",
		}),
		feedback: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feedback_examples_total",
			Help:      "Training examples captured from reactions.",
		}),
	}
	m.registry.MustRegister(
		m.cycles, m.retries, m.sends, m.recorded, m.degradations,
		m.threads, m.pruned, m.feedback,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CycleFinished(label, state string) {
	if m != nil {
		m.cycles.WithLabelValues(label, state).Inc()
	}
}

func (m *Metrics) Retry(step string) {
	if m != nil {
		m.retries.WithLabelValues(step).Inc()
	}
}

func (m *Metrics) Sent() {
	if m != nil {
		m.sends.Inc()
	}
}

func (m *Metrics) Recorded() {
	if m != nil {
		m.recorded.Inc()
	}
}

func (m *Metrics) Degraded(step string) {
	if m != nil {
		m.degradations.WithLabelValues(step).Inc()
	}
}

func (m *Metrics) SetThreads(n int) {
	if m != nil {
		m.threads.Set(float64(n))
	}
}

func (m *Metrics) Pruned(n int) {
	if m != nil && n > 0 {
		m.pruned.Add(float64(n))
	}
}

func (m *Metrics) FeedbackCaptured() {
	if m != nil {
		m.feedback.Inc()
	}
}
