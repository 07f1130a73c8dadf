package models

import "strings"

// NormalizeKey trims, collapses internal whitespace and lowercases s.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// offerKeySep cannot appear in scraped card or issuer names.
const offerKeySep = "\x00"

// OfferKey is the catalog uniqueness key for an offer.
func OfferKey(cardName, issuer string) string {
	return NormalizeKey(cardName) + offerKeySep + NormalizeKey(issuer)
}
