package portal

import (
	"context"
	"net/http"
	"time"

	"github.com/Mvula88/impota-portal/internal/portal/entitlements"
	"github.com/Mvula88/impota-portal/pkg/sessioncarrier"
	"github.com/rs/zerolog/log"
)

type contextKey string

const sessionContextKey contextKey = "portal.session"

// sessionFromRequest extracts and verifies the session carrier from the
// request cookie. Returns nil when no valid session is present.
func sessionFromRequest(deps *Deps, r *http.Request) *sessioncarrier.Payload {
	cookie, err := r.Cookie(sessioncarrier.CookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	payload, err := sessioncarrier.Verify(deps.SessionKey, cookie.Value, time.Now())
	if err != nil {
		return nil
	}
	return payload
}

// requireSession wraps a handler with session authentication. The carrier
// cookie is only a hint: the signature is verified, the session must not have
// been pushed out by a newer device, and the entitlement is re-checked
// against the store before the request proceeds.
func requireSession(deps *Deps, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessioncarrier.CookieName)
		if err != nil || cookie.Value == "" {
			writeError(w, http.StatusUnauthorized, codeUnauthenticated, "sign in to continue")
			return
		}

		payload, err := sessioncarrier.Verify(deps.SessionKey, cookie.Value, time.Now())
		if err != nil {
			http.SetCookie(w, sessioncarrier.ClearCookie(deps.Config.SecureCookies()))
			writeError(w, http.StatusUnauthorized, codeSessionInvalid, "session expired, sign in again")
			return
		}

		revoked, err := deps.Devices.SessionRevoked(payload.SessionID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, codeUpstreamError, "session check failed: "+err.Error())
			return
		}
		if revoked {
			http.SetCookie(w, sessioncarrier.ClearCookie(deps.Config.SecureCookies()))
			writeError(w, http.StatusUnauthorized, codeSessionInvalid, "signed in on another device")
			return
		}

		ent, err := deps.Entitlements.Lookup(payload.Email, "")
		if err != nil {
			writeError(w, http.StatusInternalServerError, codeUpstreamError, "entitlement check failed: "+err.Error())
			return
		}
		if ent == nil {
			log.Warn().Str("email", payload.Email).Msg("Session carried for email without active access")
			writeError(w, http.StatusForbidden, codeNotEntitled, "no active access for this account")
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, payload)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionFromContext returns the verified session payload stored by
// requireSession, or nil outside of it.
func sessionFromContext(ctx context.Context) *sessioncarrier.Payload {
	payload, _ := ctx.Value(sessionContextKey).(*sessioncarrier.Payload)
	return payload
}

// userKeyFor picks the device-store key for an entitlement holder: the linked
// user ID when present, otherwise the purchase email.
func userKeyFor(ent *entitlements.Entitlement, email string) string {
	if ent != nil && ent.UserID != "" {
		return ent.UserID
	}
	return email
}
