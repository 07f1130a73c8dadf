package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "sapphire preferred", NormalizeKey("  Sapphire\t  PREFERRED "))
	assert.Equal(t, "café", NormalizeKey("CAFÉ"))
	assert.Equal(t, "", NormalizeKey("   "))
}

func TestOfferKey(t *testing.T) {
	assert.Equal(t, OfferKey("Gold Card", "AMEX"), OfferKey(" gold  card", "Amex "))
	assert.NotEqual(t, OfferKey("a|b", "c"), OfferKey("a", "b|c"), "pipes in names do not collide")
	assert.NotEqual(t, OfferKey("Gold", "Amex"), OfferKey("Amex", "Gold"))
}
