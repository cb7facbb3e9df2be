package portal

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/Mvula88/impota-portal/internal/portal/entitlements"
	"github.com/Mvula88/impota-portal/pkg/sessioncarrier"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type accessResponse struct {
	Exists  bool   `json:"exists"`
	Tier    string `json:"tier,omitempty"`
	Country string `json:"country,omitempty"`
}

// handleAccessLookup reports whether an email (or the session holder) has
// active access, and which tier/country it covers.
func handleAccessLookup(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		email := entitlements.NormalizeEmail(r.URL.Query().Get("email"))
		if email == "" {
			if payload := sessionFromRequest(deps, r); payload != nil {
				email = payload.Email
			}
		}
		if email == "" {
			writeError(w, http.StatusBadRequest, codeValidationError, "email is required")
			return
		}

		ent, err := deps.Entitlements.Lookup(email, "")
		if err != nil {
			writeError(w, http.StatusInternalServerError, codeUpstreamError, "access lookup failed: "+err.Error())
			return
		}
		if ent == nil {
			writeJSON(w, http.StatusOK, accessResponse{Exists: false})
			return
		}
		writeJSON(w, http.StatusOK, accessResponse{
			Exists:  true,
			Tier:    string(ent.Tier),
			Country: string(ent.Country),
		})
	}
}

type loginRequest struct {
	Email string `json:"email"`
}

type loginResponse struct {
	Email     string `json:"email"`
	Tier      string `json:"tier"`
	Country   string `json:"country"`
	SessionID string `json:"session_id"`
}

// handleLogin issues the session carrier cookie for an entitled email.
func handleLogin(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeValidationError, "invalid JSON body")
			return
		}
		email := entitlements.NormalizeEmail(req.Email)
		if email == "" {
			writeError(w, http.StatusBadRequest, codeValidationError, "email is required")
			return
		}

		ent, err := deps.Entitlements.Lookup(email, "")
		if err != nil {
			writeError(w, http.StatusInternalServerError, codeUpstreamError, "access lookup failed: "+err.Error())
			return
		}
		if ent == nil {
			writeError(w, http.StatusForbidden, codeNotEntitled, "no active access for this email")
			return
		}

		sessionID := uuid.NewString()
		token, err := sessioncarrier.Sign(deps.SessionKey, ent.Email, sessionID, time.Now())
		if err != nil {
			writeError(w, http.StatusInternalServerError, codeUpstreamError, "session issue failed: "+err.Error())
			return
		}
		http.SetCookie(w, sessioncarrier.NewCookie(token, deps.Config.SecureCookies()))

		log.Info().Str("email", ent.Email).Str("session_id", sessionID).Msg("Portal login")
		writeJSON(w, http.StatusOK, loginResponse{
			Email:     ent.Email,
			Tier:      string(ent.Tier),
			Country:   string(ent.Country),
			SessionID: sessionID,
		})
	}
}

// handleLogout clears the session carrier cookie.
func handleLogout(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		http.SetCookie(w, sessioncarrier.ClearCookie(deps.Config.SecureCookies()))
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

type linkUserRequest struct {
	UserID string `json:"user_id"`
}

// handleLinkUser attaches an account ID to the session holder's entitlement.
// Linking is best-effort; a failure is reported but never blocks access.
func handleLinkUser(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		payload := sessionFromContext(r.Context())
		if payload == nil {
			writeError(w, http.StatusUnauthorized, codeUnauthenticated, "sign in to continue")
			return
		}

		var req linkUserRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeValidationError, "invalid JSON body")
			return
		}
		userID := strings.TrimSpace(req.UserID)
		if userID == "" {
			writeError(w, http.StatusBadRequest, codeValidationError, "user_id is required")
			return
		}

		if err := deps.Entitlements.AttachUser(payload.Email, userID); err != nil {
			log.Warn().Err(err).Str("email", payload.Email).Msg("User link failed")
			writeJSON(w, http.StatusOK, map[string]bool{"linked": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"linked": true})
	}
}
