// Package metrics provides Prometheus instrumentation for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Order lifecycle metrics.
var (
	OrdersProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caduceus_orders_processed_total",
		Help: "Total number of orders successfully executed and archived.",
	})

	OrdersFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caduceus_orders_failed_total",
		Help: "Total number of orders that failed, by reason.",
	}, []string{"reason"})

	OrdersTimedOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caduceus_orders_timed_out_total",
		Help: "Total number of orders that exceeded the executor timeout.",
	})

	OrderWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "caduceus_order_wait_seconds",
		Help:    "Time spent waiting for an agent response, per order.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})
)

// Dispatch metrics.
var (
	OutboxPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "caduceus_outbox_pending",
		Help: "Number of unsent outbox notifications at the last scan.",
	})

	OutboxDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caduceus_outbox_delivered_total",
		Help: "Total number of outbox notifications delivered, by channel.",
	}, []string{"channel"})

	OutboxDeliveryFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caduceus_outbox_delivery_failed_total",
		Help: "Total number of outbox delivery attempts that failed, by channel.",
	}, []string{"channel"})
)

// Channel metrics.
var (
	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "caduceus_active_websockets",
		Help: "Number of currently connected web channel sockets.",
	})

	InboundMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caduceus_inbound_messages_total",
		Help: "Total number of inbound messages received, by channel.",
	}, []string{"channel"})
)

// HTTP metrics (web channel).
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caduceus_http_requests_total",
		Help: "Total number of HTTP requests to the web channel.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "caduceus_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)
