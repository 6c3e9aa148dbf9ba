// Package telemetry exports gateway counters. A nil *Metrics is valid and
// records nothing, so wiring stays optional in tests.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	resolutions  *prometheus.CounterVec
	fallbacks    *prometheus.CounterVec
	breakerTrips *prometheus.CounterVec
	credits      prometheus.Counter
	streamErrors *prometheus.CounterVec
}

// New registers the collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modelrelay_resolutions_total",
			Help: "Requests resolved, by provider path.",
		}, []string{"provider"}),
		fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modelrelay_fallbacks_total",
			Help: "Direct-path calls rerouted to the metered backend, by origin provider.",
		}, []string{"provider"}),
		breakerTrips: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modelrelay_breaker_trips_total",
			Help: "Circuit breaker activations, by provider family.",
		}, []string{"family"}),
		credits: factory.NewCounter(prometheus.CounterOpts{
			Name: "modelrelay_credits_total",
			Help: "Credit units reported to cost sinks.",
		}),
		streamErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modelrelay_stream_errors_total",
			Help: "Stream errors observed, by classified kind.",
		}, []string{"kind"}),
	}
}

func (m *Metrics) RecordResolution(provider string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(provider).Inc()
}

func (m *Metrics) RecordFallback(provider string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(provider).Inc()
}

func (m *Metrics) RecordBreakerTrip(family string) {
	if m == nil {
		return
	}
	m.breakerTrips.WithLabelValues(family).Inc()
}

func (m *Metrics) RecordCredits(amount int) {
	if m == nil || amount <= 0 {
		return
	}
	m.credits.Add(float64(amount))
}

func (m *Metrics) RecordStreamError(kind string) {
	if m == nil {
		return
	}
	m.streamErrors.WithLabelValues(kind).Inc()
}
