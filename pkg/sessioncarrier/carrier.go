// Package sessioncarrier implements the signed session cookie used by the
// portal to remember a logged-in email between requests.
//
// The cookie payload {email, sessionId, createdAt} is JSON, base64url-encoded
// and signed with HMAC-SHA256: payload + "." + signature. The cookie is
// deliberately NOT HttpOnly so page scripts can mirror the payload into
// client-side state; the signature stops the payload being forged, and any
// privileged read still re-checks the entitlement store server-side.
package sessioncarrier

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// CookieName is the session carrier cookie name.
const CookieName = "impota_session"

// MaxAge is how long an issued session remains valid.
const MaxAge = 30 * 24 * time.Hour

var (
	ErrTokenInvalid = errors.New("session token invalid")
	ErrTokenExpired = errors.New("session token expired")
)

// Payload is the data carried inside a session token. Field names match what
// the web client reads out of the cookie.
type Payload struct {
	Email     string `json:"email"`
	SessionID string `json:"sessionId"`
	CreatedAt int64  `json:"createdAt"`
}

// GenerateKey returns 32 cryptographically random bytes suitable for
// HMAC-SHA256 signing.
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	return key, nil
}

// Sign creates a signed session token for the given email and session ID.
func Sign(key []byte, email, sessionID string, now time.Time) (string, error) {
	if len(key) == 0 {
		return "", fmt.Errorf("session key is empty")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || sessionID == "" {
		return "", fmt.Errorf("email and sessionID are required")
	}

	payload := Payload{
		Email:     email,
		SessionID: sessionID,
		CreatedAt: now.UTC().Unix(),
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal session payload: %w", err)
	}

	payloadB64 := base64.RawURLEncoding.EncodeToString(payloadBytes)
	sig := computeHMAC(key, payloadBytes)
	sigB64 := base64.RawURLEncoding.EncodeToString(sig)

	return payloadB64 + "." + sigB64, nil
}

// Verify decodes and validates a session token. Returns the payload on success.
func Verify(key []byte, tokenStr string, now time.Time) (*Payload, error) {
	if len(key) == 0 || tokenStr == "" {
		return nil, ErrTokenInvalid
	}

	dotIdx := strings.IndexByte(tokenStr, '.')
	if dotIdx < 1 || dotIdx >= len(tokenStr)-1 {
		return nil, ErrTokenInvalid
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(tokenStr[:dotIdx])
	if err != nil {
		return nil, ErrTokenInvalid
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(tokenStr[dotIdx+1:])
	if err != nil {
		return nil, ErrTokenInvalid
	}

	expected := computeHMAC(key, payloadBytes)
	if !hmac.Equal(sigBytes, expected) {
		return nil, ErrTokenInvalid
	}

	var p Payload
	if err := json.Unmarshal(payloadBytes, &p); err != nil {
		return nil, ErrTokenInvalid
	}
	if p.Email == "" || p.SessionID == "" || p.CreatedAt == 0 {
		return nil, ErrTokenInvalid
	}
	if now.UTC().After(time.Unix(p.CreatedAt, 0).UTC().Add(MaxAge)) {
		return nil, ErrTokenExpired
	}

	return &p, nil
}

// NewCookie builds the session carrier cookie for the given signed token.
// Secure is set by the caller based on deployment scheme.
func NewCookie(token string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(MaxAge / time.Second),
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
		HttpOnly: false, // client script mirrors the session into page state
	}
}

// ClearCookie builds an expired cookie that removes the session carrier.
func ClearCookie(secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
		HttpOnly: false,
	}
}

func computeHMAC(key, payload []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return mac.Sum(nil)
}
