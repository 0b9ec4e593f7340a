// Package metrics holds the Prometheus collectors for cart sync and checkout.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Checkout outcomes.
const (
	OutcomeCommitted = "committed"
	OutcomePartial   = "partial"
	OutcomeFailed    = "failed"
	OutcomeEmpty     = "empty"
	OutcomeRejected  = "rejected"
)

// Metrics is the set of application collectors.
type Metrics struct {
	SnapshotsApplied     *prometheus.CounterVec
	SnapshotsDiscarded   *prometheus.CounterVec
	DocumentsSkipped     *prometheus.CounterVec
	WriteFailures        *prometheus.CounterVec
	SubscriptionFailures *prometheus.CounterVec
	IdentitySwitches     prometheus.Counter
	CartLines            prometheus.Gauge
	GrandTotal           prometheus.Gauge
	Checkouts            *prometheus.CounterVec
	CheckoutDuration     prometheus.Histogram
}

// New registers the collectors with reg. Use prometheus.DefaultRegisterer in
// the binary and a fresh registry per test.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SnapshotsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "busybuy_snapshots_applied_total",
			Help: "Live-query snapshots applied to a mirror",
		}, []string{"collection"}),
		SnapshotsDiscarded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "busybuy_snapshots_discarded_total",
			Help: "Snapshots dropped because they belonged to a previous identity",
		}, []string{"collection"}),
		DocumentsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "busybuy_documents_skipped_total",
			Help: "Snapshots that carried at least one undecodable document",
		}, []string{"collection"}),
		WriteFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "busybuy_store_write_failures_total",
			Help: "Store writes that were rejected",
		}, []string{"op", "collection"}),
		SubscriptionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "busybuy_subscription_failures_total",
			Help: "Live queries that could not be opened or broke",
		}, []string{"collection"}),
		IdentitySwitches: f.NewCounter(prometheus.CounterOpts{
			Name: "busybuy_identity_switches_total",
			Help: "Times the cart engine re-subscribed for a new identity",
		}),
		CartLines: f.NewGauge(prometheus.GaugeOpts{
			Name: "busybuy_cart_lines",
			Help: "Lines in the current cart mirror",
		}),
		GrandTotal: f.NewGauge(prometheus.GaugeOpts{
			Name: "busybuy_cart_grand_total",
			Help: "Grand total of the current cart mirror",
		}),
		Checkouts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "busybuy_checkouts_total",
			Help: "Checkout attempts by outcome",
		}, []string{"outcome"}),
		CheckoutDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "busybuy_checkout_duration_seconds",
			Help:    "Time from order write to cart cleanup",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
