package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Message pipeline metrics
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Chat messages processed, by terminal status and outcome",
		},
		[]string{"status", "outcome"}, // status: success, ignored, error
	)

	MessageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_message_errors_total",
			Help: "Chat message processing errors",
		},
		[]string{"error_type"},
	)

	MessageProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_message_processing_seconds",
			Help:    "Chat message processing time",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"status", "message_type"},
	)

	MentionsDispatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_mentions_dispatched_total",
			Help: "Mention hooks invoked",
		},
	)

	// Socket metrics
	SocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_socket_connections",
			Help: "Open socket connections on this node",
		},
	)

	BroadcastsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_broadcasts_dropped_total",
			Help: "Events dropped because a subscriber buffer was full",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	DatabaseLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_database_latency_seconds",
			Help:    "Document store query latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
	)
)
