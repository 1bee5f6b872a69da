// Package metrics collects and exposes Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the service's Prometheus metrics.
type Collector struct {
	purchasesIngested prometheus.Counter
	purchaseReplays   prometheus.Counter
	signatureFailures prometheus.Counter
	linksIssued       prometheus.Counter
	redemptions       *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics on the given
// registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		purchasesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "accessd_purchases_ingested_total",
			Help: "Payment events applied to the entitlement store.",
		}),
		purchaseReplays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "accessd_purchase_replays_total",
			Help: "Payment events dropped as idempotent replays.",
		}),
		signatureFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "accessd_webhook_signature_failures_total",
			Help: "Webhook deliveries rejected for a bad signature.",
		}),
		linksIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "accessd_magic_links_issued_total",
			Help: "Magic links issued and handed to the email gateway.",
		}),
		redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accessd_redemptions_total",
			Help: "Redemption attempts by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.purchasesIngested,
		c.purchaseReplays,
		c.signatureFailures,
		c.linksIssued,
		c.redemptions,
	)
	return c
}

func (c *Collector) RecordPurchaseIngested() { c.purchasesIngested.Inc() }
func (c *Collector) RecordPurchaseReplay()   { c.purchaseReplays.Inc() }
func (c *Collector) RecordSignatureFailure() { c.signatureFailures.Inc() }
func (c *Collector) RecordLinkIssued()       { c.linksIssued.Inc() }

// RecordRedemption records one redemption attempt. Outcome is one of:
// granted, invalid_token, already_used, token_expired, entitlement_expired,
// error.
func (c *Collector) RecordRedemption(outcome string) {
	c.redemptions.WithLabelValues(outcome).Inc()
}

// Handler returns the Prometheus scrape handler for the gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
