package pmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveEntitlements tracks the number of active entitlement rows.
	ActiveEntitlements = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "impota",
		Subsystem: "portal",
		Name:      "active_entitlements",
		Help:      "Number of active entitlements.",
	})

	// WebhookRequestsTotal counts Stripe webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "impota",
		Subsystem: "portal",
		Name:      "webhook_requests_total",
		Help:      "Total Stripe webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks Stripe webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "impota",
		Subsystem: "portal",
		Name:      "webhook_duration_seconds",
		Help:      "Stripe webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// CheckoutSessionsTotal counts checkout session creations by outcome.
	CheckoutSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "impota",
		Subsystem: "portal",
		Name:      "checkout_sessions_total",
		Help:      "Checkout session creation attempts by outcome.",
	}, []string{"outcome"})

	// GrantsTotal counts entitlement grants by source (webhook, verify, admin)
	// and outcome.
	GrantsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "impota",
		Subsystem: "portal",
		Name:      "grants_total",
		Help:      "Entitlement grant attempts by source and outcome.",
	}, []string{"source", "outcome"})

	// DeviceChecksTotal counts device limiter decisions.
	DeviceChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "impota",
		Subsystem: "portal",
		Name:      "device_checks_total",
		Help:      "Device registration checks by outcome.",
	}, []string{"outcome"})
)
