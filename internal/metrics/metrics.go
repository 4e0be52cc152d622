package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CartUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "boxoffice",
		Name:      "cart_updates_total",
		Help:      "update_quantities calls by result.",
	}, []string{"result"})

	CartUpdateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "boxoffice",
		Name:      "cart_update_duration_seconds",
		Help:      "Latency of update_quantities.",
		Buckets:   prometheus.DefBuckets,
	})

	ValidationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "boxoffice",
		Name:      "validation_failures_total",
		Help:      "Validation errors by code.",
	}, []string{"code"})

	ConcurrencyConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "boxoffice",
		Name:      "concurrency_conflicts_total",
		Help:      "Optimistic writes that lost a race, by operation.",
	}, []string{"operation"})

	LeaseOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "boxoffice",
		Name:      "lease_operations_total",
		Help:      "Lease acquire/renew/release by result.",
	}, []string{"operation", "result"})

	PublishedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "boxoffice",
		Name:      "published_domain_events_total",
		Help:      "Domain events sent to sinks by adapter and result.",
	}, []string{"adapter", "result"})

	RefundedCents = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "boxoffice",
		Name:      "refunded_cents_total",
		Help:      "Sum of refunded amounts.",
	})

	OrdersPaid = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "boxoffice",
		Name:      "orders_paid_total",
		Help:      "Orders promoted to Paid by payment method.",
	}, []string{"method"})

	CartsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "boxoffice",
		Name:      "carts_expired_total",
		Help:      "Draft orders cancelled by the expiration sweep.",
	})
)

func ObserveLease(operation string, ok bool) {
	LeaseOperations.WithLabelValues(operation, result(ok)).Inc()
}

func ObservePublish(adapter string, ok bool) {
	PublishedEvents.WithLabelValues(adapter, result(ok)).Inc()
}

func ObserveValidation(codes []string) {
	for _, c := range codes {
		ValidationFailures.WithLabelValues(c).Inc()
	}
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "rejected"
}
