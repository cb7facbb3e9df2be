package devices

import (
	"fmt"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRegisterWithinLimit(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	for i := 1; i <= MaxPerType; i++ {
		res, err := s.Register("a@x.com", fmt.Sprintf("phone-fp-%d", i), DeviceTypePhone, "", now)
		if err != nil {
			t.Fatalf("Register phone %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("phone %d should be allowed, got reason %q", i, res.Reason)
		}
	}
}

func TestRegisterThirdPhoneRejected(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	for i := 1; i <= 2; i++ {
		if _, err := s.Register("b@x.com", fmt.Sprintf("fp-%d", i), DeviceTypePhone, "", now); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	res, err := s.Register("b@x.com", "fp-3", DeviceTypePhone, "", now)
	if err != nil {
		t.Fatalf("Register third phone: %v", err)
	}
	if res.Allowed {
		t.Fatal("third phone should be rejected")
	}
	if res.Reason != ReasonDeviceLimitExceeded {
		t.Errorf("reason = %q, want %q", res.Reason, ReasonDeviceLimitExceeded)
	}

	// Computers have an independent quota.
	res, err = s.Register("b@x.com", "laptop-1", DeviceTypeComputer, "", now)
	if err != nil {
		t.Fatalf("Register computer: %v", err)
	}
	if !res.Allowed {
		t.Errorf("computer should be allowed despite phone quota being full, got %q", res.Reason)
	}
}

func TestRegisterKnownDeviceRefreshes(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	if _, err := s.Register("c@x.com", "fp-1", DeviceTypePhone, "", now); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := s.Register("c@x.com", "fp-2", DeviceTypePhone, "", now); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Re-checking an already-admitted device is allowed even at the quota.
	res, err := s.Register("c@x.com", "fp-1", DeviceTypePhone, "", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("re-Register: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("known device should stay allowed, got %q", res.Reason)
	}

	counts, err := s.CountActive("c@x.com")
	if err != nil {
		t.Fatalf("CountActive: %v", err)
	}
	if counts.Phones != 2 {
		t.Errorf("phones = %d, want 2 (re-check must not duplicate)", counts.Phones)
	}
}

func TestRegisterTypeChangeHonorsTargetQuota(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	for i := 1; i <= 2; i++ {
		if _, err := s.Register("f@x.com", fmt.Sprintf("laptop-%d", i), DeviceTypeComputer, "", now); err != nil {
			t.Fatalf("Register computer %d: %v", i, err)
		}
	}
	if _, err := s.Register("f@x.com", "fp-phone", DeviceTypePhone, "", now); err != nil {
		t.Fatalf("Register phone: %v", err)
	}

	// The claimed device type is client-supplied; re-reporting an active
	// phone as a computer must not admit a third computer.
	res, err := s.Register("f@x.com", "fp-phone", DeviceTypeComputer, "", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("re-Register as computer: %v", err)
	}
	if res.Allowed {
		t.Fatal("type change into a full class should be rejected")
	}
	if res.Reason != ReasonDeviceLimitExceeded {
		t.Errorf("reason = %q, want %q", res.Reason, ReasonDeviceLimitExceeded)
	}

	counts, err := s.CountActive("f@x.com")
	if err != nil {
		t.Fatalf("CountActive: %v", err)
	}
	if counts.Computers != 2 || counts.Phones != 1 {
		t.Errorf("counts = %d computers / %d phones, want 2/1", counts.Computers, counts.Phones)
	}

	// With room in the target class the type change is accepted.
	res, err = s.Register("f@x.com", "laptop-1", DeviceTypePhone, "", now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("re-Register as phone: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("type change into a free class should be allowed, got %q", res.Reason)
	}
	counts, err = s.CountActive("f@x.com")
	if err != nil {
		t.Fatalf("CountActive: %v", err)
	}
	if counts.Computers != 1 || counts.Phones != 2 {
		t.Errorf("counts = %d computers / %d phones, want 1/2", counts.Computers, counts.Phones)
	}
}

func TestSingleSessionPerDeviceClass(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	if _, err := s.Register("d@x.com", "fp-1", DeviceTypePhone, "sess-old", now); err != nil {
		t.Fatalf("Register: %v", err)
	}
	active, err := s.SessionActive("sess-old")
	if err != nil || !active {
		t.Fatalf("sess-old should be active: %v %v", active, err)
	}

	// A new session on the same class evicts the prior one atomically.
	if _, err := s.Register("d@x.com", "fp-2", DeviceTypePhone, "sess-new", now.Add(time.Minute)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	active, err = s.SessionActive("sess-old")
	if err != nil {
		t.Fatalf("SessionActive: %v", err)
	}
	if active {
		t.Error("prior phone session should be invalidated")
	}
	active, err = s.SessionActive("sess-new")
	if err != nil || !active {
		t.Fatalf("sess-new should be active: %v %v", active, err)
	}

	// Sessions on the other device class are untouched.
	if _, err := s.Register("d@x.com", "laptop", DeviceTypeComputer, "sess-laptop", now); err != nil {
		t.Fatalf("Register: %v", err)
	}
	active, _ = s.SessionActive("sess-new")
	if !active {
		t.Error("computer session must not evict the phone session")
	}
}

func TestCountActiveQuota(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	if _, err := s.Register("e@x.com", "fp-1", DeviceTypePhone, "", now); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := s.Register("e@x.com", "mac-1", DeviceTypeComputer, "", now); err != nil {
		t.Fatalf("Register: %v", err)
	}

	c, err := s.CountActive("e@x.com")
	if err != nil {
		t.Fatalf("CountActive: %v", err)
	}
	if c.Phones != 1 || c.Computers != 1 {
		t.Errorf("counts = %d/%d, want 1/1", c.Phones, c.Computers)
	}
	if c.PhonesRemaining != 1 || c.ComputersRemaining != 1 {
		t.Errorf("remaining = %d/%d, want 1/1", c.PhonesRemaining, c.ComputersRemaining)
	}
	if c.MaxTotal != 4 {
		t.Errorf("MaxTotal = %d, want 4", c.MaxTotal)
	}
}

func TestExpireInactiveFreesQuota(t *testing.T) {
	s := newTestStore(t)
	old := time.Now().UTC().Add(-InactivityExpiry - 24*time.Hour)
	now := time.Now().UTC()

	for i := 1; i <= 2; i++ {
		if _, err := s.Register("f@x.com", fmt.Sprintf("stale-%d", i), DeviceTypePhone, "", old); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	// Quota is full until the sweep runs.
	res, err := s.Register("f@x.com", "fresh", DeviceTypePhone, "", now)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if res.Allowed {
		t.Fatal("expected rejection before the sweep")
	}

	if err := s.ExpireInactive(now); err != nil {
		t.Fatalf("ExpireInactive: %v", err)
	}

	res, err = s.Register("f@x.com", "fresh", DeviceTypePhone, "", now)
	if err != nil {
		t.Fatalf("Register after sweep: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("expected admission after stale devices expired, got %q", res.Reason)
	}
}

func TestRegisterValidation(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	if _, err := s.Register("", "fp", DeviceTypePhone, "", now); err == nil {
		t.Error("empty userKey should fail")
	}
	if _, err := s.Register("g@x.com", "", DeviceTypePhone, "", now); err == nil {
		t.Error("empty fingerprint should fail")
	}
	if _, err := s.Register("g@x.com", "fp", "toaster", "", now); err == nil {
		t.Error("unknown device type should fail")
	}
}

func TestSessionActiveUnknown(t *testing.T) {
	s := newTestStore(t)
	active, err := s.SessionActive("never-seen")
	if err != nil {
		t.Fatalf("SessionActive: %v", err)
	}
	if active {
		t.Error("unknown session must not be active")
	}
}
