package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cbk_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cbk_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cbk_outbox_lag_seconds",
			Help: "Age of the oldest outbox record published in the last relay pass",
		},
	)

	RabbitPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cbk_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cbk_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)

	BookingsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cbk_bookings_created_total",
			Help: "Bookings created, by service type",
		},
		[]string{"service_type"},
	)

	BookingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cbk_booking_transitions_total",
			Help: "Committed booking status transitions",
		},
		[]string{"from", "to"},
	)

	VersionConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cbk_version_conflicts_total",
			Help: "Lost optimistic-concurrency races, by operation",
		},
		[]string{"op"},
	)

	CapacityRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cbk_capacity_rejections_total",
			Help: "Booking requests rejected for insufficient capacity",
		},
	)
)
