// Package metrics exposes Prometheus instrumentation for the conversion
// queue and thumbnail cache. All methods are safe on a nil *Metrics so
// components can run uninstrumented in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mediaconv"

// Thumbnail lookup results.
const (
	LookupHit    = "hit"
	LookupMiss   = "miss"
	LookupShared = "shared"
)

// Metrics owns a private registry and the collectors registered on it.
type Metrics struct {
	registry *prometheus.Registry

	itemsInFlight    prometheus.Gauge
	itemsFinished    *prometheus.CounterVec
	itemDuration     prometheus.Histogram
	queueDepth       *prometheus.GaugeVec
	reservationLost  prometheus.Counter
	thumbnailLookups *prometheus.CounterVec
	thumbnailLatency prometheus.Histogram
	thumbnailErrors  prometheus.Counter
	notifications    *prometheus.CounterVec
}

// New registers all collectors, plus the Go runtime and process collectors,
// on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		itemsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "items_in_flight",
			Help:      "Queue items currently being converted.",
		}),
		itemsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_finished_total",
			Help:      "Queue items that reached a terminal status.",
		}, []string{"status"}),
		itemDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "item_duration_seconds",
			Help:      "Wall time from reservation to terminal status.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_items",
			Help:      "Queue items by status.",
		}, []string{"status"}),
		reservationLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_conflicts_total",
			Help:      "Process attempts skipped because another worker held the item.",
		}),
		thumbnailLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thumbnail_lookups_total",
			Help:      "Thumbnail cache lookups by result.",
		}, []string{"result"}),
		thumbnailLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "thumbnail_generate_seconds",
			Help:      "Time spent generating thumbnails on cache misses.",
			Buckets:   prometheus.DefBuckets,
		}),
		thumbnailErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thumbnail_errors_total",
			Help:      "Thumbnail generations that failed.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Outbound notifications by channel and result.",
		}, []string{"channel", "result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.itemsInFlight,
		m.itemsFinished,
		m.itemDuration,
		m.queueDepth,
		m.reservationLost,
		m.thumbnailLookups,
		m.thumbnailLatency,
		m.thumbnailErrors,
		m.notifications,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ItemStarted records a conversion entering processing.
func (m *Metrics) ItemStarted() {
	if m == nil {
		return
	}
	m.itemsInFlight.Inc()
}

// ItemFinished records a conversion reaching status after elapsed.
func (m *Metrics) ItemFinished(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.itemsInFlight.Dec()
	m.itemsFinished.WithLabelValues(status).Inc()
	m.itemDuration.Observe(elapsed.Seconds())
}

// ReservationConflict records a lost reservation race.
func (m *Metrics) ReservationConflict() {
	if m == nil {
		return
	}
	m.reservationLost.Inc()
}

// SetQueueDepth publishes per-status queue counts.
func (m *Metrics) SetQueueDepth(counts map[string]int) {
	if m == nil {
		return
	}
	for status, count := range counts {
		m.queueDepth.WithLabelValues(status).Set(float64(count))
	}
}

// ThumbnailLookup records a cache lookup result (LookupHit, LookupMiss or
// LookupShared).
func (m *Metrics) ThumbnailLookup(result string) {
	if m == nil {
		return
	}
	m.thumbnailLookups.WithLabelValues(result).Inc()
}

// ThumbnailGenerated records a generation attempt.
func (m *Metrics) ThumbnailGenerated(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.thumbnailLatency.Observe(elapsed.Seconds())
	if err != nil {
		m.thumbnailErrors.Inc()
	}
}

// NotificationSent records an outbound notification attempt.
func (m *Metrics) NotificationSent(channel string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.notifications.WithLabelValues(channel, result).Inc()
}
