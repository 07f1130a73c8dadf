package scraper

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/pravinl23/DealyDigests-sub001/internal/models"
	"github.com/pravinl23/DealyDigests-sub001/internal/validation"
)

var numberRegex = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

var noFeeLabels = map[string]bool{
	"":              true,
	"none":          true,
	"no annual fee": true,
	"n/a":           true,
	"free":          true,
	"$0":            true,
}

// ParseRate extracts the leading earn rate from labels like "3x", "3%" or
// "Up to 5 points per $1". An empty label is a zero rate.
func ParseRate(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	d, err := firstNumber(s)
	if err != nil {
		return 0, fmt.Errorf("invalid rewards rate %q: %w", s, err)
	}
	return d.InexactFloat64(), nil
}

// ParseFee extracts a dollar annual fee. "None" and similar labels mean zero.
func ParseFee(s string) (float64, error) {
	label := strings.ToLower(strings.TrimSpace(s))
	if noFeeLabels[label] {
		return 0, nil
	}
	d, err := firstNumber(label)
	if err != nil {
		return 0, fmt.Errorf("invalid annual fee %q: %w", s, err)
	}
	return d.Round(2).InexactFloat64(), nil
}

func firstNumber(s string) (decimal.Decimal, error) {
	m := numberRegex.FindString(s)
	if m == "" {
		return decimal.Zero, fmt.Errorf("no number found")
	}
	return decimal.NewFromString(strings.ReplaceAll(m, ",", ""))
}

// ParseRewardCategories maps labels onto the closed category set. It returns
// the recognized categories (deduplicated, in first-seen order) and the labels
// that were rejected.
func ParseRewardCategories(labels []string) ([]models.RewardCategory, []string) {
	var (
		out      []models.RewardCategory
		rejected []string
		seen     = make(map[models.RewardCategory]bool)
	)
	for _, label := range labels {
		c, err := models.ParseRewardCategory(label)
		if err != nil {
			rejected = append(rejected, label)
			continue
		}
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out, rejected
}

// DedupeMerchants trims merchant names and drops case-insensitive duplicates,
// keeping the first spelling.
func DedupeMerchants(names []string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, n := range names {
		n = strings.Join(strings.Fields(n), " ")
		key := strings.ToLower(n)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, n)
	}
	return out
}

// ParseValidTo reads an RFC 3339 timestamp or a bare date. A bare date is
// valid through the end of that day (UTC).
func ParseValidTo(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.UTC()
		return &t, nil
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, fmt.Errorf("invalid valid_to %q", s)
	}
	end := d.Add(24*time.Hour - time.Nanosecond)
	return &end, nil
}

// Normalize converts a raw record into a catalog offer. Unknown categories are
// dropped and logged; any other malformed field rejects the record.
func Normalize(raw RawOffer, source string, scrapedAt time.Time, logger *zap.Logger) (models.Offer, error) {
	rate, err := ParseRate(raw.RewardsRate)
	if err != nil {
		return models.Offer{}, err
	}
	fee, err := ParseFee(raw.AnnualFee)
	if err != nil {
		return models.Offer{}, err
	}
	validTo, err := ParseValidTo(raw.ValidTo)
	if err != nil {
		return models.Offer{}, err
	}

	categories, rejected := ParseRewardCategories(raw.Categories)
	if len(rejected) > 0 {
		logger.Warn("dropping unknown reward categories",
			zap.String("source", source),
			zap.String("card", raw.CardName),
			zap.Strings("labels", rejected),
		)
	}
	if categories == nil {
		categories = []models.RewardCategory{}
	}

	offer := models.Offer{
		CardName:              validation.SanitizeString(strings.Join(strings.Fields(raw.CardName), " ")),
		Issuer:                validation.SanitizeString(strings.Join(strings.Fields(raw.Issuer), " ")),
		RewardsRate:           rate,
		AnnualFee:             fee,
		SignupBonus:           validation.SanitizeString(strings.TrimSpace(raw.SignupBonus)),
		RewardCategories:      categories,
		MerchantCompatibility: DedupeMerchants(raw.Merchants),
		Source:                source,
		SourceURL:             raw.URL,
		ValidTo:               validTo,
		ScrapedAt:             scrapedAt.UTC(),
	}
	if err := validation.ValidateOffer(offer); err != nil {
		return models.Offer{}, err
	}
	return offer, nil
}
