package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Messaging
	ChatsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_chats_created_total",
			Help: "Total chats created",
		},
		[]string{"type"}, // "private" or "group"
	)

	ChatsReused = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_private_chats_reused_total",
			Help: "Private chat creations resolved to an existing chat",
		},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_messages_sent_total",
			Help: "Total messages persisted",
		},
		[]string{"kind"},
	)

	SendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_send_failures_total",
			Help: "Rejected or failed sends",
		},
		[]string{"reason"},
	)

	// Notification fan-out
	NotificationsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_notifications_total",
			Help: "Notification deliveries by result",
		},
		[]string{"result"}, // "ok" or "error"
	)

	// Realtime
	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "messaging_realtime_subscriptions",
			Help: "Currently open realtime subscriptions",
		},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_realtime_events_dropped_total",
			Help: "Events dropped because a subscriber queue was full",
		},
	)

	HandlerPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_realtime_handler_panics_total",
			Help: "Subscriber handlers that panicked while handling an event",
		},
	)

	// Transport
	RPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_rpc_requests_total",
			Help: "Total gRPC calls",
		},
		[]string{"method", "code"},
	)

	RPCDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "messaging_rpc_duration_seconds",
			Help:    "gRPC call duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	RepositoryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "messaging_repository_latency_seconds",
			Help:    "Repository operation latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25},
		},
		[]string{"operation"},
	)
)
