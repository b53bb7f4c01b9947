package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	quotesComputedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storefront_quotes_computed_total",
			Help: "Total number of cart quotes computed",
		},
	)

	promoRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_promo_rejections_total",
			Help: "Total number of promo codes rejected, by reason",
		},
		[]string{"reason"},
	)

	availabilityRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_availability_rejections_total",
			Help: "Total number of add-to-cart requests rejected for availability, by reason",
		},
		[]string{"reason"},
	)

	commitConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storefront_commit_conflicts_total",
			Help: "Total number of cart lines that lost the stock decrement at commit",
		},
	)

	ordersCommittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_orders_committed_total",
			Help: "Total number of orders committed, by status",
		},
		[]string{"status"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storefront_record_store_breaker_state",
			Help: "Current state of the record store breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)
