package sessioncarrier

import (
	"encoding/base64"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("expected 32 bytes, got %d", len(key))
	}
	key2, _ := GenerateKey()
	if string(key) == string(key2) {
		t.Fatal("two generated keys are identical")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	key, _ := GenerateKey()
	now := time.Now()

	token, err := Sign(key, "Alice@Example.com", "sess-1", now)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	p, err := Verify(key, token, now)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.Email != "alice@example.com" {
		t.Errorf("email = %q, want lowercased alice@example.com", p.Email)
	}
	if p.SessionID != "sess-1" {
		t.Errorf("sessionID = %q, want sess-1", p.SessionID)
	}
	if p.CreatedAt != now.UTC().Unix() {
		t.Errorf("createdAt = %d, want %d", p.CreatedAt, now.UTC().Unix())
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	key, _ := GenerateKey()
	issuedAt := time.Now().Add(-MaxAge - time.Hour)

	token, err := Sign(key, "bob@example.com", "sess-2", issuedAt)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	_, err = Verify(key, token, time.Now())
	if err != ErrTokenExpired {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyWrongKey(t *testing.T) {
	key1, _ := GenerateKey()
	key2, _ := GenerateKey()

	token, _ := Sign(key1, "carol@example.com", "sess-3", time.Now())

	_, err := Verify(key2, token, time.Now())
	if err != ErrTokenInvalid {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestVerifyTamperedPayload(t *testing.T) {
	key, _ := GenerateKey()
	token, _ := Sign(key, "dave@example.com", "sess-4", time.Now())

	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		t.Fatal("token missing dot separator")
	}
	payloadBytes, _ := base64.RawURLEncoding.DecodeString(parts[0])
	tampered := strings.Replace(string(payloadBytes), "dave", "eve@", 1)
	tamperedToken := base64.RawURLEncoding.EncodeToString([]byte(tampered)) + "." + parts[1]

	_, err := Verify(key, tamperedToken, time.Now())
	if err != ErrTokenInvalid {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestVerifyEmptyInputs(t *testing.T) {
	key, _ := GenerateKey()

	if _, err := Verify(nil, "some-token", time.Now()); err != ErrTokenInvalid {
		t.Errorf("nil key: expected ErrTokenInvalid, got %v", err)
	}
	if _, err := Verify(key, "", time.Now()); err != ErrTokenInvalid {
		t.Errorf("empty token: expected ErrTokenInvalid, got %v", err)
	}
	if _, err := Verify(key, "no-separator", time.Now()); err != ErrTokenInvalid {
		t.Errorf("missing dot: expected ErrTokenInvalid, got %v", err)
	}
}

func TestSignValidation(t *testing.T) {
	key, _ := GenerateKey()

	if _, err := Sign(nil, "a@b.com", "s-1", time.Now()); err == nil {
		t.Error("Sign with nil key should fail")
	}
	if _, err := Sign(key, "", "s-1", time.Now()); err == nil {
		t.Error("Sign with empty email should fail")
	}
	if _, err := Sign(key, "a@b.com", "", time.Now()); err == nil {
		t.Error("Sign with empty sessionID should fail")
	}
}

func TestCookieAttributes(t *testing.T) {
	c := NewCookie("tok", true)
	if c.Name != CookieName {
		t.Errorf("name = %q, want %q", c.Name, CookieName)
	}
	if c.HttpOnly {
		t.Error("cookie must not be HttpOnly; client script reads it")
	}
	if c.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v, want Lax", c.SameSite)
	}
	if c.MaxAge != int(MaxAge/time.Second) {
		t.Errorf("MaxAge = %d, want %d", c.MaxAge, int(MaxAge/time.Second))
	}
	if !c.Secure {
		t.Error("expected Secure cookie")
	}

	cleared := ClearCookie(false)
	if cleared.MaxAge >= 0 {
		t.Errorf("clear cookie MaxAge = %d, want negative", cleared.MaxAge)
	}
}
