// Package metrics exposes host-side Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics groups the collectors of one host session on a private registry,
// so several sessions in one process (and tests) never collide.
type Metrics struct {
	registry *prometheus.Registry

	Requests        *prometheus.CounterVec
	Results         *prometheus.CounterVec
	ProcessDuration *prometheus.HistogramVec
	PulseFailures   prometheus.Counter
}

// New builds and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vessel_requests_total",
				Help: "Requests served by the gateway, by command and outcome.",
			},
			[]string{"command", "outcome"},
		),
		Results: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vessel_results_total",
				Help: "Processed pairs, by command and outcome.",
			},
			[]string{"command", "outcome"},
		),
		ProcessDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vessel_process_duration_seconds",
				Help:    "Duration of plugin process and repair calls.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"plugin"},
		),
		PulseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vessel_pulse_failures_total",
			Help: "Pulses that could not be written to the presentation process.",
		}),
	}
	m.registry.MustRegister(m.Requests, m.Results, m.ProcessDuration, m.PulseFailures)
	return m
}

// ObserveRequest counts one served request.
func (m *Metrics) ObserveRequest(command string, err error) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(command, outcome(err == nil)).Inc()
}

// ObserveResult counts one processed pair and records its duration.
func (m *Metrics) ObserveResult(command, plugin string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	m.Results.WithLabelValues(command, outcome(success)).Inc()
	m.ProcessDuration.WithLabelValues(plugin).Observe(d.Seconds())
}

// ObservePulseFailure counts one failed pulse write.
func (m *Metrics) ObservePulseFailure() {
	if m == nil {
		return
	}
	m.PulseFailures.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func outcome(ok bool) string {
	if ok {
		return OutcomeOK
	}
	return OutcomeError
}
