// Package telemetry exports taskpulse runtime observations as Prometheus metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"taskpulse/internal/notify"
	"taskpulse/internal/realtime"
)

// PrometheusMetrics implements realtime.Metrics and notify.Metrics.
type PrometheusMetrics struct {
	deliveries  *prometheus.CounterVec
	evictions   prometheus.Counter
	connections *prometheus.GaugeVec
	persisted   *prometheus.CounterVec
}

// NewPrometheusMetrics registers the taskpulse collectors on registerer (default registerer if nil).
func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		deliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskpulse_push_deliveries_total",
				Help: "Push delivery attempts by route and outcome",
			},
			[]string{"route", "outcome"},
		),
		evictions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "taskpulse_push_evictions_total",
				Help: "Closed sessions removed lazily during team broadcasts",
			},
		),
		connections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "taskpulse_push_connections",
				Help: "Current registry sizes",
			},
			[]string{"index"},
		),
		persisted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskpulse_notifications_persisted_total",
				Help: "Notification records written by type and result",
			},
			[]string{"type", "result"},
		),
	}
}

// ObserveDelivery counts one push attempt by route and outcome.
func (p *PrometheusMetrics) ObserveDelivery(route string, outcome realtime.Outcome) {
	p.deliveries.WithLabelValues(route, outcome.String()).Inc()
}

// ObserveEvictions adds n lazily evicted sessions.
func (p *PrometheusMetrics) ObserveEvictions(n int) {
	if n > 0 {
		p.evictions.Add(float64(n))
	}
}

// SetConnections publishes the current sizes of the three registry indexes.
func (p *PrometheusMetrics) SetConnections(users, teams, sessions int) {
	p.connections.WithLabelValues("users").Set(float64(users))
	p.connections.WithLabelValues("teams").Set(float64(teams))
	p.connections.WithLabelValues("sessions").Set(float64(sessions))
}

// ObservePersist counts one notification write by kind and result.
func (p *PrometheusMetrics) ObservePersist(kind string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	p.persisted.WithLabelValues(kind, result).Inc()
}

var (
	_ realtime.Metrics = (*PrometheusMetrics)(nil)
	_ notify.Metrics   = (*PrometheusMetrics)(nil)
)
