package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "evslots"

var (
	once sync.Once

	bookingCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_admission_total",
			Help:      "Count of booking create and reschedule attempts by result.",
		},
		[]string{"operation", "result"},
	)

	bookingTransition = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transition_total",
			Help:      "Count of booking lifecycle transitions by target status.",
		},
		[]string{"status"},
	)

	stationVeto = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "station_veto_total",
			Help:      "Count of station changes refused because of active bookings.",
		},
		[]string{"operation"},
	)

	admissionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "admission_duration_seconds",
			Help:      "Time spent inside the admission transaction.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of API requests by route and status code.",
		},
		[]string{"route", "code"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "availability_cache_total",
			Help:      "Availability cache lookups by result.",
		},
		[]string{"result"},
	)

	notificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Operator notifications by result.",
		},
		[]string{"result"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(bookingCreated, bookingTransition, stationVeto,
			admissionDuration, httpRequests, cacheLookups, notificationsSent)
	})
}

func IncAdmission(operation, result string) {
	bookingCreated.WithLabelValues(operation, result).Inc()
}

func IncTransition(status string) {
	bookingTransition.WithLabelValues(status).Inc()
}

func IncStationVeto(operation string) {
	stationVeto.WithLabelValues(operation).Inc()
}

func ObserveAdmission(started time.Time) {
	admissionDuration.Observe(time.Since(started).Seconds())
}

func IncHTTPRequest(route string, code int) {
	httpRequests.WithLabelValues(route, statusClass(code)).Inc()
}

func IncCache(result string) {
	cacheLookups.WithLabelValues(result).Inc()
}

func IncNotification(result string) {
	notificationsSent.WithLabelValues(result).Inc()
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
