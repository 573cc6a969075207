package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Queue outcomes.
const (
	OutcomeProcessed = "processed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

type Metrics struct {
	Connections   prometheus.Gauge
	HTTPRequests  *prometheus.CounterVec
	QueueMessages *prometheus.CounterVec
	PollDuration  *prometheus.HistogramVec
}

// New registers collectors on reg. Pass prometheus.DefaultRegisterer in
// main and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_active_connections",
			Help: "Active websocket connections",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messaging_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		QueueMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_queue_messages_total",
			Help: "Queue messages handled by outcome",
		}, []string{"queue", "outcome"}),
		PollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "notification_queue_poll_seconds",
			Help:    "Duration of one receive-process-delete pass",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue"}),
	}
	reg.MustRegister(m.Connections, m.HTTPRequests, m.QueueMessages, m.PollDuration)
	return m
}

// Handler returns an http.Handler for Prometheus scraping
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
