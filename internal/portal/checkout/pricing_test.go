package checkout

import (
	"testing"

	"github.com/Mvula88/impota-portal/internal/portal/entitlements"
)

func TestLocalPrice(t *testing.T) {
	cases := []struct {
		tier       entitlements.Tier
		country    entitlements.Country
		currency   string
		unitAmount int64
	}{
		{entitlements.TierMistake, entitlements.CountryNamibia, "nad", 90650},
		{entitlements.TierMastery, entitlements.CountryNamibia, "nad", 275650},
		{entitlements.TierMastery, entitlements.CountrySouthAfrica, "zar", 275650},
		{entitlements.TierMistake, entitlements.CountryBotswana, "bwp", 66150},
		{entitlements.TierMastery, entitlements.CountryZambia, "zmw", 387400},
	}
	for _, tc := range cases {
		currency, amount, err := LocalPrice(tc.tier, tc.country)
		if err != nil {
			t.Fatalf("LocalPrice(%s, %s): %v", tc.tier, tc.country, err)
		}
		if currency != tc.currency {
			t.Errorf("LocalPrice(%s, %s) currency = %q, want %q", tc.tier, tc.country, currency, tc.currency)
		}
		if amount != tc.unitAmount {
			t.Errorf("LocalPrice(%s, %s) amount = %d, want %d", tc.tier, tc.country, amount, tc.unitAmount)
		}
	}
}

func TestLocalPriceUnknown(t *testing.T) {
	if _, _, err := LocalPrice("platinum", entitlements.CountryNamibia); err == nil {
		t.Error("unknown tier should fail")
	}
	if _, _, err := LocalPrice(entitlements.TierMastery, "us"); err == nil {
		t.Error("unsupported country should fail")
	}
}

func TestTierAndCountryNames(t *testing.T) {
	if got := TierName(entitlements.TierMastery); got != "Import Mastery Guide" {
		t.Errorf("TierName = %q", got)
	}
	if got := CountryName(entitlements.CountryNamibia); got != "Namibia" {
		t.Errorf("CountryName = %q", got)
	}
	// Unknown values fall back to the raw code.
	if got := TierName("x"); got != "x" {
		t.Errorf("TierName fallback = %q", got)
	}
}
