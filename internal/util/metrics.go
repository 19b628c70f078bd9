package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhooksReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhooks_received_total",
		Help: "Total number of payment provider webhooks received",
	})

	WebhooksRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhooks_rejected_total",
		Help: "Total number of webhooks rejected by the security gate",
	}, []string{"reason"})

	WebhooksStaleTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhooks_stale_total",
		Help: "Total number of webhooks older than the staleness threshold",
	})

	WebhooksRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhooks_rate_limited_total",
		Help: "Total number of webhooks rejected by the rate limiter",
	})

	PaymentsReconciledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_reconciled_total",
		Help: "Total number of payment notifications reconciled",
	}, []string{"outcome"})

	PaymentsUnmatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_unmatched_total",
		Help: "Total number of payment notifications with no matching record",
	})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Total number of order state transitions applied",
	}, []string{"from", "to"})

	OrdersAutoCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_auto_cancelled_total",
		Help: "Total number of orders cancelled by the deadline sweep",
	}, []string{"reason"})

	OrdersForceCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_force_completed_total",
		Help: "Total number of orders force-released after pickup timeout",
	})

	TransitionConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_transition_conflicts_total",
		Help: "Total number of optimistic version conflicts during transitions",
	})

	LedgerMovementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_movements_total",
		Help: "Total number of escrow ledger movements applied",
	}, []string{"direction", "reason"})

	WithdrawalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "withdrawals_total",
		Help: "Total number of withdrawal requests by terminal status",
	}, []string{"status"})

	NotificationsPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifications_published_total",
		Help: "Total number of notification intents published",
	})

	NotificationsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifications_dropped_total",
		Help: "Total number of notification intents that failed to publish",
	})

	DeadlineSweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "deadline_sweep_duration_seconds",
		Help:    "Duration of deadline scheduler sweeps",
		Buckets: prometheus.DefBuckets,
	})

	ReconcileLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_reconcile_latency_seconds",
		Help:    "Latency of payment reconciliation",
		Buckets: prometheus.DefBuckets,
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
