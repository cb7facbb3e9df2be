package portal

import (
	"net/http"
	"time"

	"github.com/Mvula88/impota-portal/internal/portal/checkout"
	"github.com/Mvula88/impota-portal/internal/portal/devices"
	"github.com/Mvula88/impota-portal/internal/portal/entitlements"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	Config       *Config
	Entitlements *entitlements.Store
	Devices      *devices.Store
	Checkout     *checkout.Bridge
	SessionKey   []byte
	Version      string

	// Populated by RegisterRoutes when nil; the owner of the Deps stops
	// them on shutdown.
	WebhookLimiter *RateLimiter
	AuthLimiter    *RateLimiter
}

// StopLimiters terminates the rate limiters' background prune loops.
func (d *Deps) StopLimiters() {
	if d.WebhookLimiter != nil {
		d.WebhookLimiter.Stop()
	}
	if d.AuthLimiter != nil {
		d.AuthLimiter.Stop()
	}
}

// RegisterRoutes wires all HTTP handlers onto the given ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	adminAuth := func(next http.Handler) http.Handler {
		return adminKeyMiddleware(deps.Config.AdminKey, next)
	}
	sessionAuth := func(next http.Handler) http.Handler {
		return requireSession(deps, next)
	}

	// Health / readiness are unauthenticated liveness/readiness probes.
	mux.HandleFunc("/healthz", handleHealthz)
	mux.HandleFunc("/readyz", handleReadyz(deps))

	// Status and metrics are private by default.
	mux.Handle("/status", adminAuth(handleStatus(deps)))

	metricsHandler := promhttp.Handler()
	if deps.Config.PublicMetrics {
		mux.Handle("/metrics", metricsHandler)
	} else {
		mux.Handle("/metrics", adminAuth(metricsHandler))
	}

	if deps.WebhookLimiter == nil {
		deps.WebhookLimiter = NewRateLimiter(120, time.Minute)
	}
	if deps.AuthLimiter == nil {
		deps.AuthLimiter = NewRateLimiter(30, time.Minute)
	}

	// Stripe webhook (signature-authenticated)
	webhookHandler := checkout.NewWebhookHandler(deps.Config.StripeWebhookSecret, deps.Checkout)
	mux.Handle("/api/stripe/webhook", deps.WebhookLimiter.Middleware(webhookHandler))

	// Access and auth. Login is rate limited; it is the cheapest way to probe
	// which emails hold entitlements.
	authLimiter := deps.AuthLimiter
	mux.HandleFunc("/api/access", handleAccessLookup(deps))
	mux.Handle("/api/auth/login", authLimiter.Middleware(handleLogin(deps)))
	mux.HandleFunc("/api/auth/logout", handleLogout(deps))
	mux.Handle("/api/auth/link", sessionAuth(handleLinkUser(deps)))

	// Device fingerprint check and quota
	mux.HandleFunc("/api/devices/check", handleDeviceCheck(deps))

	// Checkout
	mux.Handle("/api/checkout/session", authLimiter.Middleware(handleCheckoutCreate(deps)))
	mux.HandleFunc("/api/checkout/verify", handleCheckoutVerify(deps))

	// Admin API (key-authenticated; grant also accepts the secret in-body)
	mux.HandleFunc("/admin/grant", handleAdminGrant(deps))
	mux.Handle("/admin/entitlements", adminAuth(handleAdminListEntitlements(deps)))
}
