package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Mvula88/impota-portal/internal/portal/email"
	"github.com/Mvula88/impota-portal/internal/portal/entitlements"
	"github.com/Mvula88/impota-portal/internal/portal/pmetrics"
	"github.com/rs/zerolog/log"
	stripe "github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"
	stripecustomer "github.com/stripe/stripe-go/v82/customer"
)

const checkoutSessionIDPlaceholder = "{CHECKOUT_SESSION_ID}"

var (
	// ErrNotPaid is returned when a checkout session has not been paid;
	// unpaid sessions never produce entitlements.
	ErrNotPaid = errors.New("checkout session not paid")

	// ErrSessionInvalid is returned when the processor does not recognize
	// the session or its metadata is unusable.
	ErrSessionInvalid = errors.New("checkout session invalid")
)

// Bridge creates and verifies Stripe Checkout sessions and writes entitlement
// rows for completed payments.
type Bridge struct {
	store       *entitlements.Store
	apiKey      string
	baseURL     string
	emailSender email.Sender
	emailFrom   string

	createCheckoutSession func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	getCheckoutSession    func(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	getOrCreateCustomer   func(email string) (string, error)
	now                   func() time.Time
}

// CreatedSession is the result of a successful checkout session creation.
type CreatedSession struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// NewBridge creates a checkout Bridge backed by the live Stripe API.
func NewBridge(store *entitlements.Store, apiKey, baseURL string, emailSender email.Sender, emailFrom string) *Bridge {
	b := &Bridge{
		store:                 store,
		apiKey:                strings.TrimSpace(apiKey),
		baseURL:               strings.TrimSpace(baseURL),
		emailSender:           emailSender,
		emailFrom:             strings.TrimSpace(emailFrom),
		createCheckoutSession: stripesession.New,
		getCheckoutSession:    stripesession.Get,
		now:                   func() time.Time { return time.Now().UTC() },
	}
	b.getOrCreateCustomer = b.stripeCustomerByEmail
	return b
}

// CreateSession creates a Stripe Checkout session for the given purchase.
// The local price is computed from the static price table; tier, country, and
// email travel in session metadata and come back on verification.
func (b *Bridge) CreateSession(buyerEmail string, tier entitlements.Tier, country entitlements.Country) (*CreatedSession, error) {
	buyerEmail = entitlements.NormalizeEmail(buyerEmail)
	if buyerEmail == "" {
		return nil, fmt.Errorf("email is required")
	}
	if !entitlements.ValidTier(tier) {
		return nil, fmt.Errorf("invalid tier %q", tier)
	}
	if !entitlements.ValidCountry(country) {
		return nil, fmt.Errorf("invalid country %q", country)
	}
	if b.apiKey == "" {
		return nil, fmt.Errorf("stripe api key not configured")
	}

	currency, unitAmount, err := LocalPrice(tier, country)
	if err != nil {
		return nil, err
	}

	stripe.Key = b.apiKey

	customerID, err := b.getOrCreateCustomer(buyerEmail)
	if err != nil {
		pmetrics.CheckoutSessionsTotal.WithLabelValues("customer_error").Inc()
		return nil, fmt.Errorf("resolve stripe customer: %w", err)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		Customer:   stripe.String(customerID),
		SuccessURL: stripe.String(b.successURL(tier, country)),
		CancelURL:  stripe.String(b.cancelURL(country)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(currency),
					UnitAmount: stripe.Int64(unitAmount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(TierName(tier)),
						Description: stripe.String(fmt.Sprintf("Impota %s for %s", TierName(tier), CountryName(country))),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			"email":   buyerEmail,
			"tier":    string(tier),
			"country": string(country),
		},
	}

	session, err := b.createCheckoutSession(params)
	if err == nil && (session == nil || strings.TrimSpace(session.URL) == "") {
		err = fmt.Errorf("processor returned no checkout URL")
	}
	if err != nil {
		pmetrics.CheckoutSessionsTotal.WithLabelValues("error").Inc()
		log.Error().Err(err).
			Str("email", buyerEmail).
			Str("tier", string(tier)).
			Str("country", string(country)).
			Msg("checkout session creation failed")
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	pmetrics.CheckoutSessionsTotal.WithLabelValues("created").Inc()
	return &CreatedSession{SessionID: session.ID, URL: session.URL}, nil
}

// VerifySession re-fetches a checkout session from Stripe as the source of
// truth and, if paid, grants the entitlement named in its metadata.
// Verification is idempotent: re-verifying a session returns the entitlement
// already recorded for it.
func (b *Bridge) VerifySession(ctx context.Context, sessionID string) (*entitlements.Entitlement, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	if b.apiKey == "" {
		return nil, fmt.Errorf("stripe api key not configured")
	}

	stripe.Key = b.apiKey
	session, err := b.getCheckoutSession(sessionID, nil)
	if err != nil || session == nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("checkout session lookup failed")
		return nil, ErrSessionInvalid
	}
	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return nil, ErrNotPaid
	}

	buyerEmail := strings.TrimSpace(session.Metadata["email"])
	if buyerEmail == "" && session.CustomerDetails != nil {
		buyerEmail = strings.TrimSpace(session.CustomerDetails.Email)
	}
	if buyerEmail == "" {
		buyerEmail = strings.TrimSpace(session.CustomerEmail)
	}

	return b.grantPaid(ctx, CompletedCheckout{
		SessionID: session.ID,
		Email:     buyerEmail,
		Tier:      entitlements.Tier(session.Metadata["tier"]),
		Country:   entitlements.Country(session.Metadata["country"]),
	}, "verify")
}

// CompletedCheckout is the slice of a paid checkout session that entitlement
// granting needs, shared by the verify path and the webhook path.
type CompletedCheckout struct {
	SessionID string
	Email     string
	Tier      entitlements.Tier
	Country   entitlements.Country
}

// HandleCompleted records the entitlement for a paid checkout delivered via
// webhook.
func (b *Bridge) HandleCompleted(ctx context.Context, completed CompletedCheckout) error {
	_, err := b.grantPaid(ctx, completed, "webhook")
	return err
}

func (b *Bridge) grantPaid(ctx context.Context, completed CompletedCheckout, source string) (*entitlements.Entitlement, error) {
	completed.Email = entitlements.NormalizeEmail(completed.Email)
	if completed.SessionID == "" || completed.Email == "" {
		pmetrics.GrantsTotal.WithLabelValues(source, "invalid").Inc()
		return nil, ErrSessionInvalid
	}
	if !entitlements.ValidTier(completed.Tier) || !entitlements.ValidCountry(completed.Country) {
		pmetrics.GrantsTotal.WithLabelValues(source, "invalid").Inc()
		return nil, fmt.Errorf("%w: metadata tier=%q country=%q", ErrSessionInvalid, completed.Tier, completed.Country)
	}

	granted, created, err := b.store.GrantFromPayment(&entitlements.Entitlement{
		Email:      completed.Email,
		Tier:       completed.Tier,
		Country:    completed.Country,
		CreatedAt:  b.now(),
		PaymentRef: completed.SessionID,
	})
	if err != nil {
		pmetrics.GrantsTotal.WithLabelValues(source, "error").Inc()
		return nil, fmt.Errorf("grant entitlement: %w", err)
	}

	if created {
		pmetrics.GrantsTotal.WithLabelValues(source, "granted").Inc()
		log.Info().
			Str("email", completed.Email).
			Str("tier", string(completed.Tier)).
			Str("country", string(completed.Country)).
			Str("payment_ref", completed.SessionID).
			Str("source", source).
			Msg("Entitlement granted")
		b.sendPurchaseEmail(ctx, granted)
	} else {
		pmetrics.GrantsTotal.WithLabelValues(source, "duplicate").Inc()
		log.Info().
			Str("email", completed.Email).
			Str("payment_ref", completed.SessionID).
			Str("source", source).
			Msg("Entitlement already recorded for payment, skipping")
	}
	return granted, nil
}

// sendPurchaseEmail is best-effort; a failed confirmation email never rolls
// back the grant.
func (b *Bridge) sendPurchaseEmail(ctx context.Context, e *entitlements.Entitlement) {
	if b.emailSender == nil || b.emailFrom == "" || e == nil {
		return
	}
	html, text, err := email.RenderPurchaseEmail(email.PurchaseData{
		TierName:    TierName(e.Tier),
		CountryName: CountryName(e.Country),
		PortalURL:   b.portalURL(),
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to render purchase email")
		return
	}
	if err := b.emailSender.Send(ctx, email.Message{
		From:    b.emailFrom,
		To:      e.Email,
		Subject: "Your Impota guide is ready",
		HTML:    html,
		Text:    text,
	}); err != nil {
		log.Error().Err(err).Str("to", e.Email).Msg("Failed to send purchase email")
	}
}

func (b *Bridge) stripeCustomerByEmail(buyerEmail string) (string, error) {
	searchParams := &stripe.CustomerSearchParams{
		SearchParams: stripe.SearchParams{
			Query: fmt.Sprintf("email:%q", buyerEmail),
		},
	}
	iter := stripecustomer.Search(searchParams)
	if iter.Next() {
		return iter.Customer().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", fmt.Errorf("search stripe customers: %w", err)
	}

	cust, err := stripecustomer.New(&stripe.CustomerParams{
		Email: stripe.String(buyerEmail),
	})
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return cust.ID, nil
}

func (b *Bridge) successURL(tier entitlements.Tier, country entitlements.Country) string {
	parsed, err := url.Parse(b.baseURL)
	if err != nil || parsed == nil {
		return "/portal/welcome?session_id=" + checkoutSessionIDPlaceholder
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/portal/welcome"
	encoded := url.Values{
		"session_id": {checkoutSessionIDPlaceholder},
		"tier":       {string(tier)},
		"country":    {string(country)},
	}.Encode()
	// Stripe substitutes the placeholder verbatim; it must survive encoding.
	parsed.RawQuery = strings.ReplaceAll(
		encoded,
		url.QueryEscape(checkoutSessionIDPlaceholder),
		checkoutSessionIDPlaceholder,
	)
	return parsed.String()
}

func (b *Bridge) cancelURL(country entitlements.Country) string {
	parsed, err := url.Parse(b.baseURL)
	if err != nil || parsed == nil {
		return "/pricing?cancelled=1"
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/" + string(country) + "/pricing"
	parsed.RawQuery = url.Values{"cancelled": {"1"}}.Encode()
	return parsed.String()
}

func (b *Bridge) portalURL() string {
	base := strings.TrimRight(b.baseURL, "/")
	if base == "" {
		return "/portal"
	}
	return base + "/portal"
}
