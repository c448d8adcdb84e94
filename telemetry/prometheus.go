// Package telemetry exports interpreter metrics to Prometheus.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tobiaswade/machina"
)

// PrometheusObserver implements machina.Observer, counting macrosteps and
// scheduled sends and recording step latency.
type PrometheusObserver struct {
	steps     *prometheus.CounterVec
	failures  *prometheus.CounterVec
	scheduled prometheus.Counter
	latency   prometheus.Histogram
}

var _ machina.Observer = (*PrometheusObserver)(nil)

// NewPrometheusObserver registers the collectors on the given registerer
// and returns the observer.
func NewPrometheusObserver(reg prometheus.Registerer) *PrometheusObserver {
	o := &PrometheusObserver{
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "machina",
			Name:      "macrosteps_total",
			Help:      "Macrosteps processed, by whether the state changed.",
		}, []string{"changed"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "machina",
			Name:      "step_failures_total",
			Help:      "Macrosteps rejected with an error.",
		}, []string{"event"}),
		scheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "machina",
			Name:      "delayed_sends_total",
			Help:      "Delayed sends scheduled by interpreters.",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "machina",
			Name:      "macrostep_duration_seconds",
			Help:      "Wall time of one macrostep including action execution.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}),
	}
	reg.MustRegister(o.steps, o.failures, o.scheduled, o.latency)
	return o
}

// StepDone implements machina.Observer.
func (o *PrometheusObserver) StepDone(sessionID string, event machina.Event, changed bool, duration time.Duration) {
	label := "false"
	if changed {
		label = "true"
	}
	o.steps.WithLabelValues(label).Inc()
	o.latency.Observe(duration.Seconds())
}

// EventQueued implements machina.Observer.
func (o *PrometheusObserver) EventQueued(sessionID string, event machina.Event, delay time.Duration) {
	o.scheduled.Inc()
}

// StepFailed implements machina.Observer.
func (o *PrometheusObserver) StepFailed(sessionID string, event machina.Event, err error) {
	o.failures.WithLabelValues(event.Name).Inc()
}
