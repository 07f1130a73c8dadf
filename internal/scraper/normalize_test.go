package scraper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pravinl23/DealyDigests-sub001/internal/models"
)

func TestParseRate(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"3x", 3, false},
		{"1.5%", 1.5, false},
		{"Up to 5 points per $1", 5, false},
		{"", 0, false},
		{"varies", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRate(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFee(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"$95", 95},
		{"$1,250", 1250},
		{"None", 0},
		{"No annual fee", 0},
		{"$0 intro, then $95", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFee(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRewardCategories_DropsUnknown(t *testing.T) {
	cats, rejected := ParseRewardCategories([]string{"Travel", "restaurants", "Dining", "crypto"})

	assert.Equal(t, []models.RewardCategory{models.CategoryTravel, models.CategoryDining}, cats)
	assert.Equal(t, []string{"crypto"}, rejected)
}

func TestDedupeMerchants(t *testing.T) {
	got := DedupeMerchants([]string{"Whole Foods", " whole  foods ", "Costco", ""})
	assert.Equal(t, []string{"Whole Foods", "Costco"}, got)
}

func TestParseValidTo(t *testing.T) {
	got, err := ParseValidTo("2026-12-31")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2026, 12, 31, 23, 59, 59, 999999999, time.UTC), *got)

	got, err = ParseValidTo("")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = ParseValidTo("soon")
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	scrapedAt := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	offer, err := Normalize(RawOffer{
		CardName:    "  Sapphire   Preferred ",
		Issuer:      "Chase",
		RewardsRate: "5x",
		AnnualFee:   "$95",
		Categories:  []string{"travel", "bogus"},
		Merchants:   []string{"Delta", "delta"},
		URL:         "https://example.com/sapphire",
	}, "bankrate", scrapedAt, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "Sapphire Preferred", offer.CardName)
	assert.Equal(t, 5.0, offer.RewardsRate)
	assert.Equal(t, 95.0, offer.AnnualFee)
	assert.Equal(t, []models.RewardCategory{models.CategoryTravel}, offer.RewardCategories)
	assert.Equal(t, []string{"Delta"}, offer.MerchantCompatibility)
	assert.Equal(t, "bankrate", offer.Source)
	assert.Equal(t, scrapedAt, offer.ScrapedAt)

	_, err = Normalize(RawOffer{CardName: "No Issuer"}, "bankrate", scrapedAt, zap.NewNop())
	assert.Error(t, err)
}
