// Package metrics provides Prometheus metrics collection for the chat core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks the current number of open connections by transport
	ActiveConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "meetupchat_connections_active",
		Help: "Current number of open chat connections",
	}, []string{"transport"})

	// AuthenticatedSessions tracks connections that completed the CONNECT handshake
	AuthenticatedSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meetupchat_sessions_authenticated",
		Help: "Current number of authenticated connections",
	})

	// AuthRejections counts CONNECT frames rejected by the authenticator
	AuthRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meetupchat_auth_rejections_total",
		Help: "Total number of rejected connection handshakes by reason",
	}, []string{"reason"})

	// FramesReceived counts client frames by command
	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meetupchat_frames_received_total",
		Help: "Total number of frames received from clients",
	}, []string{"command"})

	// FramesSent counts frames written to clients
	FramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meetupchat_frames_sent_total",
		Help: "Total number of frames written to clients",
	})

	// MessagesPersisted counts chat messages durably stored
	MessagesPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meetupchat_messages_persisted_total",
		Help: "Total number of chat messages persisted",
	})

	// MessageErrors counts send attempts that failed before persistence completed
	MessageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meetupchat_message_errors_total",
		Help: "Total number of failed send attempts by error code",
	}, []string{"code"})

	// ActiveSubscriptions tracks the number of live topic subscriptions
	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meetupchat_subscriptions_active",
		Help: "Current number of topic subscriptions",
	})

	// FanoutDelivered counts payloads handed to subscriber outbound buffers
	FanoutDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meetupchat_fanout_delivered_total",
		Help: "Total number of broadcast deliveries to subscribers",
	})

	// FanoutDropped counts deliveries dropped because a subscriber buffer was full
	FanoutDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meetupchat_fanout_dropped_total",
		Help: "Total number of broadcast deliveries dropped",
	})

	// BroadcastEventsDropped counts events that could not be enqueued for dispatch
	BroadcastEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meetupchat_broadcast_events_dropped_total",
		Help: "Total number of broadcast events dropped before dispatch",
	})

	// StoreOperationDuration tracks backend latency by backend and operation
	StoreOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meetupchat_store_operation_seconds",
		Help:    "Latency of chat store operations in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend", "operation"})

	// HTTPRequestDuration tracks REST request latency
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meetupchat_http_request_duration_seconds",
		Help:    "Latency of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint", "method"})

	// RateLimited counts requests and frames refused by a rate limiter
	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meetupchat_rate_limited_total",
		Help: "Total number of rate limited requests by limiter",
	}, []string{"limiter"})

	// GoroutinePanics counts panics recovered in background goroutines
	GoroutinePanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meetupchat_goroutine_panics_total",
		Help: "Total number of recovered goroutine panics by component",
	}, []string{"component"})
)
