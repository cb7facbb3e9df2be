package checkout

import (
	"fmt"
	"math"

	"github.com/Mvula88/impota-portal/internal/portal/entitlements"
)

// Base guide prices in USD cents. Local prices are derived from these with a
// fixed exchange-rate multiplier; rates are pinned, not live-fetched, so a
// quoted price never moves between page load and checkout.
var basePriceUSDCents = map[entitlements.Tier]int64{
	entitlements.TierMistake: 4900,
	entitlements.TierMastery: 14900,
}

type localCurrency struct {
	Currency   string  // ISO 4217, lowercase as Stripe expects
	Multiplier float64 // fixed USD -> local rate
}

var countryCurrencies = map[entitlements.Country]localCurrency{
	entitlements.CountryNamibia:     {Currency: "nad", Multiplier: 18.5},
	entitlements.CountrySouthAfrica: {Currency: "zar", Multiplier: 18.5},
	entitlements.CountryBotswana:    {Currency: "bwp", Multiplier: 13.5},
	entitlements.CountryZambia:      {Currency: "zmw", Multiplier: 26.0},
}

var tierNames = map[entitlements.Tier]string{
	entitlements.TierMistake: "Import Mistake Guide",
	entitlements.TierMastery: "Import Mastery Guide",
}

var countryNames = map[entitlements.Country]string{
	entitlements.CountryNamibia:     "Namibia",
	entitlements.CountrySouthAfrica: "South Africa",
	entitlements.CountryBotswana:    "Botswana",
	entitlements.CountryZambia:      "Zambia",
}

// LocalPrice returns the checkout currency and unit amount (minor units) for
// a tier in a country.
func LocalPrice(tier entitlements.Tier, country entitlements.Country) (currency string, unitAmount int64, err error) {
	base, ok := basePriceUSDCents[tier]
	if !ok {
		return "", 0, fmt.Errorf("no price for tier %q", tier)
	}
	local, ok := countryCurrencies[country]
	if !ok {
		return "", 0, fmt.Errorf("no currency for country %q", country)
	}
	return local.Currency, int64(math.Round(float64(base) * local.Multiplier)), nil
}

// TierName returns the customer-facing product name for a tier.
func TierName(tier entitlements.Tier) string {
	if name, ok := tierNames[tier]; ok {
		return name
	}
	return string(tier)
}

// CountryName returns the customer-facing name for a country code.
func CountryName(country entitlements.Country) string {
	if name, ok := countryNames[country]; ok {
		return name
	}
	return string(country)
}
