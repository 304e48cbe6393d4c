package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WorkerProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_messages_processed_total",
			Help: "Total number of auto-reply tasks processed by workers",
		},
		[]string{"tenant"},
	)

	WorkerActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_active_goroutines",
			Help: "Number of active worker goroutines per tenant",
		},
		[]string{"tenant"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Current RabbitMQ auto-reply queue depth per tenant",
		},
		[]string{"tenant"},
	)

	IngestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_ingest_total",
			Help: "Inbound events by outcome (created, deduped, invalid, error)",
		},
		[]string{"tenant", "result"},
	)

	AutoReplyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_autoreply_total",
			Help: "Auto-reply invocations by outcome",
		},
		[]string{"tenant", "outcome"},
	)

	FanoutDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_fanout_delivered_total",
			Help: "Realtime events delivered to subscribers",
		},
		[]string{"event"},
	)

	WSSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "inbox_ws_subscribers",
			Help: "Currently connected realtime subscribers",
		},
	)
)

var initOnce sync.Once

// Init registers metrics with Prometheus
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			WorkerProcessed,
			WorkerActive,
			QueueDepth,
			IngestTotal,
			AutoReplyTotal,
			FanoutDelivered,
			WSSubscribers,
		)
	})
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
