package portal

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Mvula88/impota-portal/internal/portal/checkout"
	"github.com/Mvula88/impota-portal/internal/portal/entitlements"
	"github.com/Mvula88/impota-portal/pkg/sessioncarrier"
	"github.com/google/uuid"
)

type checkoutCreateRequest struct {
	Email   string `json:"email"`
	Tier    string `json:"tier"`
	Country string `json:"country"`
}

// handleCheckoutCreate starts a Stripe Checkout session for a guide purchase.
func handleCheckoutCreate(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req checkoutCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeValidationError, "invalid JSON body")
			return
		}
		email := entitlements.NormalizeEmail(req.Email)
		tier := entitlements.Tier(req.Tier)
		country := entitlements.Country(req.Country)
		if email == "" {
			writeError(w, http.StatusBadRequest, codeValidationError, "email is required")
			return
		}
		if !entitlements.ValidTier(tier) {
			writeError(w, http.StatusBadRequest, codeValidationError, "tier must be mistake or mastery")
			return
		}
		if !entitlements.ValidCountry(country) {
			writeError(w, http.StatusBadRequest, codeValidationError, "country must be one of na, za, bw, zm")
			return
		}

		existing, err := deps.Entitlements.Lookup(email, "")
		if err != nil {
			writeError(w, http.StatusInternalServerError, codeUpstreamError, "access lookup failed: "+err.Error())
			return
		}
		if existing != nil {
			writeError(w, http.StatusBadRequest, codeAlreadyPurchased, "this email already has active access")
			return
		}

		created, err := deps.Checkout.CreateSession(email, tier, country)
		if err != nil {
			writeError(w, http.StatusInternalServerError, codeUpstreamError, "checkout session failed: "+err.Error())
			return
		}
		writeJSON(w, http.StatusOK, created)
	}
}

type checkoutVerifyRequest struct {
	SessionID string `json:"session_id"`
}

type checkoutVerifyResponse struct {
	Email   string `json:"email"`
	Tier    string `json:"tier"`
	Country string `json:"country"`
}

// handleCheckoutVerify confirms a checkout session against Stripe, records
// the entitlement, and signs the buyer in.
func handleCheckoutVerify(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req checkoutVerifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeValidationError, "invalid JSON body")
			return
		}
		sessionID := strings.TrimSpace(req.SessionID)
		if sessionID == "" {
			sessionID = strings.TrimSpace(r.URL.Query().Get("session_id"))
		}
		if sessionID == "" {
			writeError(w, http.StatusBadRequest, codeValidationError, "session_id is required")
			return
		}

		ent, err := deps.Checkout.VerifySession(r.Context(), sessionID)
		if err != nil {
			switch {
			case errors.Is(err, checkout.ErrNotPaid):
				writeError(w, http.StatusBadRequest, codeSessionInvalid, "payment not completed")
			case errors.Is(err, checkout.ErrSessionInvalid):
				writeError(w, http.StatusBadRequest, codeSessionInvalid, "checkout session not recognized")
			default:
				writeError(w, http.StatusInternalServerError, codeUpstreamError, "checkout verification failed: "+err.Error())
			}
			return
		}

		carrierSession := uuid.NewString()
		token, err := sessioncarrier.Sign(deps.SessionKey, ent.Email, carrierSession, time.Now())
		if err != nil {
			writeError(w, http.StatusInternalServerError, codeUpstreamError, "session issue failed: "+err.Error())
			return
		}
		http.SetCookie(w, sessioncarrier.NewCookie(token, deps.Config.SecureCookies()))

		writeJSON(w, http.StatusOK, checkoutVerifyResponse{
			Email:   ent.Email,
			Tier:    string(ent.Tier),
			Country: string(ent.Country),
		})
	}
}
