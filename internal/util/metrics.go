package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OffersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offers_created_total",
		Help: "Total number of offers created",
	})

	OfferTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offer_transitions_total",
		Help: "Total number of offer status transitions",
	}, []string{"status"})

	OrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	}, []string{"source"})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Total number of order status transitions",
	}, []string{"status"})

	ReservationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "product_reservation_latency_seconds",
		Help:    "Latency of product reservation operations",
		Buckets: prometheus.DefBuckets,
	})

	ReservationConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "product_reservation_conflicts_total",
		Help: "Total number of reservations that lost the race for a product",
	}, []string{"layer"})

	CompensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_compensations_total",
		Help: "Total number of compensating actions applied after a failed cascade",
	}, []string{"step"})

	PaymentsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_created_total",
		Help: "Total number of payments created",
	})

	PaymentTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_transitions_total",
		Help: "Total number of payment status transitions",
	}, []string{"status"})

	TransactionCodeCollisionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transaction_code_collisions_total",
		Help: "Total number of generated transaction codes that were already taken",
	})

	SweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sweep_runs_total",
		Help: "Total number of expiration sweep passes",
	})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sweep_duration_seconds",
		Help:    "Duration of expiration sweep passes",
		Buckets: prometheus.DefBuckets,
	})

	SweepRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_records_total",
		Help: "Total number of records transitioned by the sweep",
	}, []string{"kind"})

	SweepFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_failures_total",
		Help: "Total number of records the sweep failed to process",
	}, []string{"kind"})

	NotificationFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notification_failures_total",
		Help: "Total number of notifications that could not be dispatched",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
