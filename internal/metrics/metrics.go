package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/eduanalytics/notify-relay/internal/domain"
	"github.com/eduanalytics/notify-relay/internal/queue"
	"github.com/eduanalytics/notify-relay/internal/worker"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	NotificationsSent         *prometheus.CounterVec
	NotificationsFailed       *prometheus.CounterVec
	NotificationsRetried      *prometheus.CounterVec
	NotificationsDeadLettered *prometheus.CounterVec
	NotificationsPoisoned     *prometheus.CounterVec
	NotificationLatency       *prometheus.HistogramVec
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct. Queue depths are gauge functions
// over the live depths snapshot, so they need no updater goroutine.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer, depths func() queue.Depths) *Metrics {
	m := &Metrics{
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total number of successfully delivered notifications.",
		}, []string{"channel"}),

		NotificationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_failed_total",
			Help: "Total number of failed delivery attempts.",
		}, []string{"channel"}),

		NotificationsRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_retried_total",
			Help: "Total number of retries scheduled after a failed attempt.",
		}, []string{"channel"}),

		NotificationsDeadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_dead_lettered_total",
			Help: "Total number of notifications evicted to the dead-letter queue.",
		}, []string{"channel"}),

		NotificationsPoisoned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_poisoned_total",
			Help: "Total number of notifications quarantined on the poison queue.",
		}, []string{"channel"}),

		NotificationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "notification_processing_seconds",
			Help:    "End-to-end processing latency from dequeue to provider ack.",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),
	}

	reg.MustRegister(
		m.NotificationsSent,
		m.NotificationsFailed,
		m.NotificationsRetried,
		m.NotificationsDeadLettered,
		m.NotificationsPoisoned,
		m.NotificationLatency,

		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "queue_depth_main",
			Help: "Current number of messages in the main queue.",
		}, func() float64 { return float64(depths().Main) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "queue_depth_retry",
			Help: "Current number of messages in the retry queue.",
		}, func() float64 { return float64(depths().Retry) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "queue_depth_delayed",
			Help: "Current number of messages waiting out a backoff or scheduled time.",
		}, func() float64 { return float64(depths().Delayed) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "queue_depth_dead_letter",
			Help: "Current number of messages parked on the dead-letter queue.",
		}, func() float64 { return float64(depths().DeadLetter) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "queue_depth_poison",
			Help: "Current number of quarantined messages on the poison queue.",
		}, func() float64 { return float64(depths().Poison) }),
	)

	return m
}

// WorkerHooks returns the metric callbacks wired into the worker pool.
// Centralises the prometheus observation calls so the worker package stays
// import-free of instrumentation.
func (m *Metrics) WorkerHooks() worker.Hooks {
	return worker.Hooks{
		OnSent: func(ch domain.Channel, latency time.Duration) {
			m.NotificationsSent.WithLabelValues(string(ch)).Inc()
			m.NotificationLatency.WithLabelValues(string(ch)).Observe(latency.Seconds())
		},
		OnFailed: func(ch domain.Channel) {
			m.NotificationsFailed.WithLabelValues(string(ch)).Inc()
		},
		OnRetried: func(ch domain.Channel) {
			m.NotificationsRetried.WithLabelValues(string(ch)).Inc()
		},
		OnEvicted: func(ch domain.Channel) {
			m.NotificationsDeadLettered.WithLabelValues(string(ch)).Inc()
		},
		OnPoisoned: func(ch domain.Channel) {
			m.NotificationsPoisoned.WithLabelValues(string(ch)).Inc()
		},
	}
}
