package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// singleton instance
	instance *Metrics
	once     sync.Once
)

// Metrics holds Prometheus metrics for livesync
type Metrics struct {
	// Control API metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
	APIErrorsTotal     *prometheus.CounterVec

	// Connection metrics
	ConnectionState       *prometheus.GaugeVec
	StateTransitionsTotal *prometheus.CounterVec
	ConnectAttemptsTotal  *prometheus.CounterVec
	ConnectDuration       prometheus.Histogram

	// Transport metrics
	ReconnectAttemptsTotal prometheus.Counter
	HeartbeatTimeoutsTotal prometheus.Counter
	FramesSentTotal        *prometheus.CounterVec
	FramesDroppedTotal     *prometheus.CounterVec
	BreakerState           prometheus.Gauge

	// Dispatch metrics
	MessagesReceivedTotal *prometheus.CounterVec
	MessagesInvalidTotal  prometheus.Counter
	SubscriptionsActive   prometheus.Gauge
	HandlerPanicsTotal    *prometheus.CounterVec
	EventQueueSize        prometheus.Gauge

	// Session state metrics
	PresenceUsers       prometheus.Gauge
	UnreadNotifications prometheus.Gauge
	ActivitySentTotal   *prometheus.CounterVec
	ActivityDropped     *prometheus.CounterVec
	AlertsTotal         *prometheus.CounterVec
	AlertsDroppedTotal  prometheus.Counter
}

// GetMetrics returns the metrics singleton
func GetMetrics() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

// newMetrics initializes and registers all metrics
func newMetrics() *Metrics {
	m := &Metrics{}

	// Control API metrics
	m.APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livesync_api_requests_total",
			Help: "Total number of control API requests",
		},
		[]string{"method", "path", "status"},
	)

	m.APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "livesync_api_request_duration_seconds",
			Help:    "Control API request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // from 0.5ms to ~1s
		},
		[]string{"method", "path"},
	)

	m.APIErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livesync_api_errors_total",
			Help: "Total number of control API errors",
		},
		[]string{"method", "path", "error_type"},
	)

	// Connection metrics
	m.ConnectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "livesync_connection_state",
			Help: "1 for the current connection state, 0 otherwise",
		},
		[]string{"state"},
	)

	m.StateTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livesync_state_transitions_total",
			Help: "Total number of connection state transitions",
		},
		[]string{"from", "to"},
	)

	m.ConnectAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livesync_connect_attempts_total",
			Help: "Total number of connect attempts by result",
		},
		[]string{"result"}, // success, failure, stale
	)

	m.ConnectDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "livesync_connect_duration_seconds",
			Help:    "Duration of websocket handshakes in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // from 5ms to ~10s
		},
	)

	// Transport metrics
	m.ReconnectAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livesync_reconnect_attempts_total",
			Help: "Total number of automatic reconnect attempts",
		},
	)

	m.HeartbeatTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livesync_heartbeat_timeouts_total",
			Help: "Total number of connections closed for missing heartbeats",
		},
	)

	m.FramesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livesync_frames_sent_total",
			Help: "Total number of frames written to the socket",
		},
		[]string{"topic"},
	)

	m.FramesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livesync_frames_dropped_total",
			Help: "Total number of outbound frames dropped",
		},
		[]string{"reason"}, // not_connected, buffer_full
	)

	m.BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livesync_dial_breaker_state",
			Help: "Dial circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
	)

	// Dispatch metrics
	m.MessagesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livesync_messages_received_total",
			Help: "Total number of inbound messages dispatched",
		},
		[]string{"topic"},
	)

	m.MessagesInvalidTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livesync_messages_invalid_total",
			Help: "Total number of inbound frames that failed to decode",
		},
	)

	m.SubscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livesync_subscriptions_active",
			Help: "Number of registered topic handlers",
		},
	)

	m.HandlerPanicsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livesync_handler_panics_total",
			Help: "Total number of recovered handler panics",
		},
		[]string{"topic"},
	)

	m.EventQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livesync_event_queue_size",
			Help: "Current number of events waiting for the manager loop",
		},
	)

	// Session state metrics
	m.PresenceUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livesync_presence_users",
			Help: "Number of users in the presence list",
		},
	)

	m.UnreadNotifications = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livesync_unread_notifications",
			Help: "Current unread notification count",
		},
	)

	m.ActivitySentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livesync_activity_sent_total",
			Help: "Total number of activity pings sent",
		},
		[]string{"action"},
	)

	m.ActivityDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livesync_activity_dropped_total",
			Help: "Total number of activity pings dropped while not connected",
		},
		[]string{"action"},
	)

	m.AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livesync_alerts_total",
			Help: "Total number of alerts raised",
		},
		[]string{"variant"},
	)

	m.AlertsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livesync_alerts_dropped_total",
			Help: "Total number of alerts dropped because the queue was full",
		},
	)

	return m
}
