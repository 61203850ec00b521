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

// Metrics holds Prometheus metrics for the notification service and its clients
type Metrics struct {
	// API metrics
	APIRequestsTotal     *prometheus.CounterVec
	APIRequestDuration   *prometheus.HistogramVec
	APIErrorsTotal       *prometheus.CounterVec
	APIActiveConnections prometheus.Gauge
	LoginsTotal          *prometheus.CounterVec

	// Notification metrics
	NotificationsCreated *prometheus.CounterVec
	NotificationsRead    prometheus.Counter
	NotificationsDeleted prometheus.Counter

	// Storage metrics
	StorageOperations        *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec
	UnreadCacheHits          prometheus.Counter
	UnreadCacheMisses        prometheus.Counter

	// Notifier metrics
	NotifierConnectionsActive prometheus.Gauge
	NotifierEventsPublished   *prometheus.CounterVec
	NotifierEventDelay        prometheus.Histogram
	NotifierHeartbeats        prometheus.Counter

	// Client channel metrics
	ClientConnectionsOpened   prometheus.Counter
	ClientReconnectsScheduled prometheus.Counter
	ClientFramesReceived      *prometheus.CounterVec
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

	// API metrics
	m.APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jandalisys_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	m.APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jandalisys_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // from 1ms to ~16s
		},
		[]string{"method", "path"},
	)

	m.APIErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jandalisys_api_errors_total",
			Help: "Total number of API errors",
		},
		[]string{"method", "path", "error_type"},
	)

	m.APIActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jandalisys_api_active_connections",
			Help: "Number of in-flight API requests",
		},
	)

	m.LoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jandalisys_logins_total",
			Help: "Total number of login attempts",
		},
		[]string{"result"}, // success, failure
	)

	// Notification metrics
	m.NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jandalisys_notifications_created_total",
			Help: "Total number of notifications created",
		},
		[]string{"type"},
	)

	m.NotificationsRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jandalisys_notifications_read_total",
			Help: "Total number of notifications marked read",
		},
	)

	m.NotificationsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jandalisys_notifications_deleted_total",
			Help: "Total number of notifications deleted",
		},
	)

	// Storage metrics
	m.StorageOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jandalisys_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "success"},
	)

	m.StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jandalisys_storage_operation_duration_seconds",
			Help:    "Duration of storage operations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15), // from 0.1ms to ~1.6s
		},
		[]string{"operation"},
	)

	m.UnreadCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jandalisys_unread_cache_hits_total",
			Help: "Unread count lookups served from cache",
		},
	)

	m.UnreadCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jandalisys_unread_cache_misses_total",
			Help: "Unread count lookups that hit storage",
		},
	)

	// Notifier metrics
	m.NotifierConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jandalisys_notifier_connections_active",
			Help: "Number of active notifier connections",
		},
	)

	m.NotifierEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jandalisys_notifier_events_published_total",
			Help: "Total number of events published by the notifier",
		},
		[]string{"type"},
	)

	m.NotifierEventDelay = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jandalisys_notifier_event_delay_seconds",
			Help:    "Delay between notification creation and delivery in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15), // from 0.1ms to ~1.6s
		},
	)

	m.NotifierHeartbeats = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jandalisys_notifier_heartbeats_total",
			Help: "Total number of heartbeat frames sent",
		},
	)

	// Client channel metrics
	m.ClientConnectionsOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jandalisys_client_connections_opened_total",
			Help: "Total number of realtime channels opened by the client",
		},
	)

	m.ClientReconnectsScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jandalisys_client_reconnects_scheduled_total",
			Help: "Total number of reconnect attempts scheduled by the client",
		},
	)

	m.ClientFramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jandalisys_client_frames_received_total",
			Help: "Total number of frames received by the client",
		},
		[]string{"type"},
	)

	return m
}
