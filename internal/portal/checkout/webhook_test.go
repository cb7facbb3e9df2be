package checkout

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
)

const testWebhookSecret = "whsec_test_secret"

func newTestWebhookHandler(t *testing.T) (*WebhookHandler, *Bridge) {
	t.Helper()
	bridge := newTestBridge(t)
	return NewWebhookHandler(testWebhookSecret, bridge), bridge
}

func signedWebhookRequest(t *testing.T, secret, payload string) *http.Request {
	t.Helper()

	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestWebhookCheckoutCompletedGrants(t *testing.T) {
	handler, bridge := newTestWebhookHandler(t)

	eventJSON := `{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_hook_1","payment_status":"paid","metadata":{"email":"hook@example.com","tier":"mastery","country":"zm"}}}}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, eventJSON))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, body=%q", rec.Code, rec.Body.String())
	}

	ent, err := bridge.store.Lookup("hook@example.com", "")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ent == nil || ent.PaymentRef != "cs_hook_1" {
		t.Fatalf("expected entitlement for webhook payment, got %+v", ent)
	}
}

func TestWebhookUnpaidSessionIgnored(t *testing.T) {
	handler, bridge := newTestWebhookHandler(t)

	eventJSON := `{"id":"evt_2","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_hook_2","payment_status":"unpaid","metadata":{"email":"later@example.com","tier":"mistake","country":"na"}}}}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, eventJSON))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, body=%q", rec.Code, rec.Body.String())
	}

	ent, err := bridge.store.Lookup("later@example.com", "")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ent != nil {
		t.Fatalf("unpaid session must not create an entitlement, got %+v", ent)
	}
}

func TestWebhookAsyncPaymentSucceeded(t *testing.T) {
	handler, bridge := newTestWebhookHandler(t)

	eventJSON := `{"id":"evt_3","object":"event","type":"checkout.session.async_payment_succeeded","data":{"object":{"id":"cs_hook_3","payment_status":"paid","metadata":{"email":"async@example.com","tier":"mistake","country":"bw"}}}}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, eventJSON))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, body=%q", rec.Code, rec.Body.String())
	}

	ent, err := bridge.store.Lookup("async@example.com", "")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ent == nil {
		t.Fatal("expected entitlement after async payment succeeded")
	}
}

func TestWebhookDuplicateDeliveryIdempotent(t *testing.T) {
	handler, bridge := newTestWebhookHandler(t)

	eventJSON := `{"id":"evt_4","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_hook_4","payment_status":"paid","metadata":{"email":"dup@example.com","tier":"mastery","country":"za"}}}}`
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, eventJSON))
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d status=%d, body=%q", i+1, rec.Code, rec.Body.String())
		}
	}

	n, err := bridge.store.CountActive()
	if err != nil {
		t.Fatalf("CountActive: %v", err)
	}
	if n != 1 {
		t.Errorf("active entitlements = %d, want 1 after duplicate delivery", n)
	}
}

func TestWebhookInvalidSignature(t *testing.T) {
	handler, _ := newTestWebhookHandler(t)

	eventJSON := `{"id":"evt_5","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_hook_5","payment_status":"paid"}}}`
	req := signedWebhookRequest(t, "whsec_wrong_secret", eventJSON)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
}

func TestWebhookMissingSignature(t *testing.T) {
	handler, _ := newTestWebhookHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
}

func TestWebhookUnconfiguredSecret(t *testing.T) {
	bridge := newTestBridge(t)
	handler := NewWebhookHandler("", bridge)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, `{}`))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rec.Code)
	}
}

func TestWebhookIgnoresUnhandledEvent(t *testing.T) {
	handler, _ := newTestWebhookHandler(t)

	eventJSON := `{"id":"evt_6","object":"event","type":"invoice.paid","data":{"object":{"id":"in_1"}}}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, eventJSON))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, body=%q", rec.Code, rec.Body.String())
	}
}
