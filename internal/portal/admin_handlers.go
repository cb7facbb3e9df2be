package portal

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/Mvula88/impota-portal/internal/portal/entitlements"
	"github.com/Mvula88/impota-portal/internal/portal/pmetrics"
	"github.com/rs/zerolog/log"
)

// adminKeyMiddleware requires a valid admin API key via the X-Admin-Key
// header or an Authorization Bearer token.
func adminKeyMiddleware(adminKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if headerAdminKey(r) != adminKey || adminKey == "" {
			writeError(w, http.StatusUnauthorized, codeUnauthenticated, "invalid admin key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func headerAdminKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("X-Admin-Key"))
	if key == "" {
		// Also check Authorization: Bearer <key>
		auth := r.Header.Get("Authorization")
		if strings.HasPrefix(auth, "Bearer ") {
			key = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		}
	}
	return key
}

type adminGrantRequest struct {
	Email       string `json:"email"`
	Tier        string `json:"tier"`
	Country     string `json:"country"`
	AdminSecret string `json:"adminSecret"`
}

// handleAdminGrant creates an entitlement without a payment. The admin secret
// may arrive in the request body (console tooling) or the admin key header.
func handleAdminGrant(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
		if err != nil {
			writeError(w, http.StatusBadRequest, codeValidationError, "failed to read request body")
			return
		}
		var req adminGrantRequest
		if err := json.NewDecoder(bytes.NewReader(body)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeValidationError, "invalid JSON body")
			return
		}

		secret := strings.TrimSpace(req.AdminSecret)
		if secret == "" {
			secret = headerAdminKey(r)
		}
		if deps.Config.AdminKey == "" || secret != deps.Config.AdminKey {
			writeError(w, http.StatusUnauthorized, codeUnauthenticated, "invalid admin secret")
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

		ent := &entitlements.Entitlement{
			Email:   email,
			Tier:    tier,
			Country: country,
		}
		if err := deps.Entitlements.Grant(ent); err != nil {
			if errors.Is(err, entitlements.ErrAlreadyActive) {
				pmetrics.GrantsTotal.WithLabelValues("admin", "duplicate").Inc()
				writeError(w, http.StatusBadRequest, codeAlreadyPurchased, "email already has active access")
				return
			}
			pmetrics.GrantsTotal.WithLabelValues("admin", "error").Inc()
			writeError(w, http.StatusInternalServerError, codeUpstreamError, "grant failed: "+err.Error())
			return
		}

		pmetrics.GrantsTotal.WithLabelValues("admin", "granted").Inc()
		log.Info().Str("email", email).Str("tier", string(tier)).Str("country", string(country)).Msg("Admin grant")
		writeJSON(w, http.StatusOK, ent)
	}
}

// handleAdminListEntitlements lists entitlements, optionally active-only.
func handleAdminListEntitlements(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		activeOnly := false
		if v := strings.TrimSpace(r.URL.Query().Get("active")); v != "" {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, codeValidationError, "active must be a boolean")
				return
			}
			activeOnly = parsed
		}

		list, err := deps.Entitlements.List(activeOnly)
		if err != nil {
			writeError(w, http.StatusInternalServerError, codeUpstreamError, "list failed: "+err.Error())
			return
		}
		if list == nil {
			list = []*entitlements.Entitlement{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"entitlements": list,
			"count":        len(list),
		})
	}
}
