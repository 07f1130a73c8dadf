// Package recommend derives user interest profiles and ranks deals against them.
package recommend

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/pravinl23/DealyDigests-sub001/internal/models"
)

// TopK is how many categories, merchants and genres a profile keeps.
const TopK = 3

// BuildProfile ranks a user's spend categories and merchants by total amount
// and media genres by watch count. Ties break on name. It is a pure function
// of its inputs.
func BuildProfile(userID string, txns []models.Transaction, media []models.MediaHistory) models.UserProfile {
	categories := make(map[string]decimal.Decimal)
	merchants := make(map[string]decimal.Decimal)
	for _, t := range txns {
		if c := normalizeCategory(t.Category); c != "" {
			categories[c] = categories[c].Add(t.Amount)
		}
		if m := models.NormalizeKey(t.Merchant); m != "" {
			merchants[m] = merchants[m].Add(t.Amount)
		}
	}

	genres := make(map[string]decimal.Decimal)
	for _, item := range media {
		seen := make(map[string]bool)
		for _, g := range item.Genres {
			g = models.NormalizeKey(g)
			if g == "" || seen[g] {
				continue
			}
			seen[g] = true
			genres[g] = genres[g].Add(decimal.NewFromInt(1))
		}
	}

	return models.UserProfile{
		UserID:         userID,
		TopCategories:  topK(categories, TopK),
		TopMerchants:   topK(merchants, TopK),
		FavoriteGenres: topK(genres, TopK),
	}
}

// topK returns the k names with the largest positive totals, ties by name.
func topK(totals map[string]decimal.Decimal, k int) []string {
	type entry struct {
		name  string
		total decimal.Decimal
	}
	entries := make([]entry, 0, len(totals))
	for name, total := range totals {
		if total.IsPositive() {
			entries = append(entries, entry{name, total})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if c := entries[i].total.Cmp(entries[j].total); c != 0 {
			return c > 0
		}
		return entries[i].name < entries[j].name
	})

	out := []string{}
	for i := 0; i < len(entries) && i < k; i++ {
		out = append(out, entries[i].name)
	}
	return out
}

// normalizeCategory maps a label onto the reward category set when it can,
// so spend categories line up with offer categories.
func normalizeCategory(label string) string {
	if c, err := models.ParseRewardCategory(label); err == nil {
		return string(c)
	}
	return models.NormalizeKey(label)
}
