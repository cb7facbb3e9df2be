package entitlements

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Tier is the purchased product level.
type Tier string

const (
	// TierMistake is the basic guide ("avoid the costly mistakes").
	TierMistake Tier = "mistake"
	// TierMastery is the full import mastery guide.
	TierMastery Tier = "mastery"
)

// Country is one of the supported markets.
type Country string

const (
	CountryNamibia     Country = "na"
	CountrySouthAfrica Country = "za"
	CountryBotswana    Country = "bw"
	CountryZambia      Country = "zm"
)

// ValidTier reports whether t is a sellable tier.
func ValidTier(t Tier) bool {
	switch t {
	case TierMistake, TierMastery:
		return true
	}
	return false
}

// ValidCountry reports whether c is a supported market.
func ValidCountry(c Country) bool {
	switch c {
	case CountryNamibia, CountrySouthAfrica, CountryBotswana, CountryZambia:
		return true
	}
	return false
}

// Entitlement grants an email (and optionally a linked user account) paid
// access to a tier of guide content for one country.
type Entitlement struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	UserID     string    `json:"user_id,omitempty"`
	Tier       Tier      `json:"tier"`
	Country    Country   `json:"country"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	PaymentRef string    `json:"payment_reference,omitempty"`
	Metadata   string    `json:"metadata,omitempty"`
}

// NormalizeEmail lowercases and trims an email for use as a lookup key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// GenerateID returns a new ULID entitlement ID (time-ordered, so ID order
// matches creation order within a millisecond).
func GenerateID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate entitlement id: %w", err)
	}
	return id.String(), nil
}
