package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds the receiver's Prometheus collectors. Each Server owns its
// own registry so several servers can coexist in one process.
type metrics struct {
	registry      *prometheus.Registry
	deliveries    *prometheus.CounterVec
	verifications *prometheus.CounterVec
	historySize   prometheus.Gauge
	rateLimited   *prometheus.CounterVec
	ingestLatency prometheus.Histogram
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &metrics{
		registry: reg,
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "iothook_deliveries_total",
			Help: "Webhook deliveries by outcome and event type",
		}, []string{"outcome", "event_type"}),
		verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "iothook_signature_checks_total",
			Help: "Signature verification results",
		}, []string{"result"}),
		historySize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "iothook_history_size",
			Help: "Events currently retained in history",
		}),
		rateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "iothook_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}, []string{"scope"}),
		ingestLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "iothook_webhook_duration_seconds",
			Help:    "Time spent handling a webhook delivery",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
