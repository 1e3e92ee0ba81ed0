package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"channel_sync/config"
)

type Recorder interface {
	ObserveSync(channel, method, result string, duration time.Duration)
	IncMethodFailure(channel, method string)
	IncMethodSkipped(channel, method string)
	AddBookingsFound(channel string, n int)
	AddBookingsSaved(channel string, n int)
	IncRecordErrors(channel string)
	IncCacheHits()
	IncCacheMisses()
	IncNotifications(sink, result string)
	Handler() http.Handler
}

type PrometheusRecorder struct {
	registry       *prometheus.Registry
	syncTotal      *prometheus.CounterVec
	syncDuration   *prometheus.HistogramVec
	methodFailures *prometheus.CounterVec
	methodSkipped  *prometheus.CounterVec
	bookingsFound  *prometheus.CounterVec
	bookingsSaved  *prometheus.CounterVec
	recordErrors   *prometheus.CounterVec
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	notifications  *prometheus.CounterVec
}

// New returns a prometheus recorder, or a noop one when metrics are disabled.
func New(cfg config.MetricsConfig) Recorder {
	if !cfg.Enabled {
		return Noop{}
	}
	return NewPrometheus(prometheus.NewRegistry())
}

func NewPrometheus(reg *prometheus.Registry) *PrometheusRecorder {
	f := promauto.With(reg)
	return &PrometheusRecorder{
		registry: reg,
		syncTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "channel_sync_runs_total",
			Help: "Channel syncs by outcome",
		}, []string{"channel", "method", "result"}),

		syncDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "channel_sync_run_duration_seconds",
			Help:    "Duration of one channel cascade",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"channel"}),

		methodFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "channel_sync_method_failures_total",
			Help: "Sync method attempts that failed and advanced the cascade",
		}, []string{"channel", "method"}),

		methodSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "channel_sync_method_skipped_total",
			Help: "Sync methods skipped for missing configuration",
		}, []string{"channel", "method"}),

		bookingsFound: f.NewCounterVec(prometheus.CounterOpts{
			Name: "channel_sync_bookings_found_total",
			Help: "Candidate bookings after merge",
		}, []string{"channel"}),

		bookingsSaved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "channel_sync_bookings_saved_total",
			Help: "Bookings created in the store",
		}, []string{"channel"}),

		recordErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "channel_sync_record_errors_total",
			Help: "Records dropped by validation or upsert failures",
		}, []string{"channel"}),

		cacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "channel_sync_feed_cache_hits_total",
			Help: "Feed fetches answered 304 from the body cache",
		}),

		cacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "channel_sync_feed_cache_misses_total",
			Help: "Feed fetches that downloaded a fresh body",
		}),

		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "channel_sync_notifications_total",
			Help: "Booking notifications by sink and result",
		}, []string{"sink", "result"}),
	}
}

func (m *PrometheusRecorder) ObserveSync(channel, method, result string, duration time.Duration) {
	m.syncTotal.WithLabelValues(channel, method, result).Inc()
	m.syncDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

func (m *PrometheusRecorder) IncMethodFailure(channel, method string) {
	m.methodFailures.WithLabelValues(channel, method).Inc()
}

func (m *PrometheusRecorder) IncMethodSkipped(channel, method string) {
	m.methodSkipped.WithLabelValues(channel, method).Inc()
}

func (m *PrometheusRecorder) AddBookingsFound(channel string, n int) {
	m.bookingsFound.WithLabelValues(channel).Add(float64(n))
}

func (m *PrometheusRecorder) AddBookingsSaved(channel string, n int) {
	m.bookingsSaved.WithLabelValues(channel).Add(float64(n))
}

func (m *PrometheusRecorder) IncRecordErrors(channel string) {
	m.recordErrors.WithLabelValues(channel).Inc()
}

func (m *PrometheusRecorder) IncCacheHits() {
	m.cacheHits.Inc()
}

func (m *PrometheusRecorder) IncCacheMisses() {
	m.cacheMisses.Inc()
}

func (m *PrometheusRecorder) IncNotifications(sink, result string) {
	m.notifications.WithLabelValues(sink, result).Inc()
}

func (m *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PrometheusRecorder) Registry() *prometheus.Registry {
	return m.registry
}

// Noop is used when metrics are disabled.
type Noop struct{}

func (Noop) ObserveSync(_, _, _ string, _ time.Duration) {}
func (Noop) IncMethodFailure(_, _ string)                {}
func (Noop) IncMethodSkipped(_, _ string)                {}
func (Noop) AddBookingsFound(_ string, _ int)            {}
func (Noop) AddBookingsSaved(_ string, _ int)            {}
func (Noop) IncRecordErrors(_ string)                    {}
func (Noop) IncCacheHits()                               {}
func (Noop) IncCacheMisses()                             {}
func (Noop) IncNotifications(_, _ string)                {}

func (Noop) Handler() http.Handler {
	return http.NotFoundHandler()
}
