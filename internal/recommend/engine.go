package recommend

import (
	"math"
	"sort"
	"time"

	"github.com/pravinl23/DealyDigests-sub001/internal/models"
)

// Score weights. Each signal is normalized to [0, 1] before weighting.
const (
	weightPrimary   = 0.6
	weightSecondary = 0.3
	weightRecency   = 0.1
)

// maxRankWeight is the overlap score when every profile entry matches.
const maxRankWeight = TopK * (TopK + 1) / 2

type signal struct {
	name      string
	weight    float64
	profile   []string
	item      []string
	normalize func(string) string
}

type candidate[T any] struct {
	item     T
	id       string
	listedAt time.Time
	validTo  *time.Time
	signals  []signal
}

type scored[T any] struct {
	item     T
	id       string
	listedAt time.Time
	score    float64
	factors  []models.Factor
}

// rank scores candidates, drops expired ones, and orders by score desc,
// listedAt desc, id asc.
func rank[T any](cands []candidate[T], limit int, now time.Time) []scored[T] {
	rows := make([]scored[T], 0, len(cands))
	for _, c := range cands {
		if c.validTo != nil && c.validTo.Before(now) {
			continue
		}

		var (
			total   float64
			factors []models.Factor
		)
		for _, s := range c.signals {
			v, matches := overlap(s.profile, s.item, s.normalize)
			total += s.weight * v
			factors = append(factors, models.Factor{Name: s.name, Score: s.weight * v, Matches: matches})
		}
		r := recency(c.listedAt, now)
		total += weightRecency * r
		factors = append(factors, models.Factor{Name: "recency", Score: weightRecency * r})

		rows = append(rows, scored[T]{
			item:     c.item,
			id:       c.id,
			listedAt: c.listedAt,
			score:    total,
			factors:  factors,
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].score != rows[j].score {
			return rows[i].score > rows[j].score
		}
		if !rows[i].listedAt.Equal(rows[j].listedAt) {
			return rows[i].listedAt.After(rows[j].listedAt)
		}
		return rows[i].id < rows[j].id
	})

	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

// overlap weights each matching profile entry by its rank (first is worth
// TopK, last is worth 1) and normalizes to [0, 1].
func overlap(profile, item []string, normalize func(string) string) (float64, []string) {
	have := make(map[string]bool, len(item))
	for _, v := range item {
		have[normalize(v)] = true
	}

	var (
		sum     int
		matches []string
	)
	for i, p := range profile {
		if i >= TopK {
			break
		}
		if have[normalize(p)] {
			sum += TopK - i
			matches = append(matches, p)
		}
	}
	return float64(sum) / maxRankWeight, matches
}

// recency is 1 for items listed now and decays as 1/(1+ageDays).
func recency(listedAt, now time.Time) float64 {
	age := now.Sub(listedAt).Hours() / 24
	age = math.Max(age, 0)
	return 1 / (1 + age)
}

// ScoreOffersForUser ranks catalog offers by reward-category overlap,
// merchant overlap and scrape recency.
func ScoreOffersForUser(profile models.UserProfile, offers []models.Offer, limit int, now time.Time) []models.RecommendedOffer {
	cands := make([]candidate[models.Offer], len(offers))
	for i, o := range offers {
		categories := make([]string, len(o.RewardCategories))
		for j, c := range o.RewardCategories {
			categories[j] = string(c)
		}
		cands[i] = candidate[models.Offer]{
			item:     o,
			id:       o.ID,
			listedAt: o.ScrapedAt,
			validTo:  o.ValidTo,
			signals: []signal{
				{name: "category", weight: weightPrimary, profile: profile.TopCategories, item: categories, normalize: normalizeCategory},
				{name: "merchant", weight: weightSecondary, profile: profile.TopMerchants, item: o.MerchantCompatibility, normalize: models.NormalizeKey},
			},
		}
	}

	ranked := rank(cands, limit, now)
	out := make([]models.RecommendedOffer, len(ranked))
	for i, r := range ranked {
		out[i] = models.RecommendedOffer{Offer: r.item, Score: r.score, Factors: r.factors}
	}
	return out
}

// ScoreEventsForUser ranks event listings by genre overlap, ticket-seller
// overlap with the user's merchants and listing recency.
func ScoreEventsForUser(profile models.UserProfile, listings []models.EventListing, limit int, now time.Time) []models.RecommendedEvent {
	cands := make([]candidate[models.EventListing], len(listings))
	for i, ev := range listings {
		cands[i] = candidate[models.EventListing]{
			item:     ev,
			id:       ev.ID,
			listedAt: ev.ListedAt,
			validTo:  ev.ValidTo,
			signals: []signal{
				{name: "genre", weight: weightPrimary, profile: profile.FavoriteGenres, item: ev.Genres, normalize: models.NormalizeKey},
				{name: "merchant", weight: weightSecondary, profile: profile.TopMerchants, item: []string{ev.Merchant}, normalize: models.NormalizeKey},
			},
		}
	}

	ranked := rank(cands, limit, now)
	out := make([]models.RecommendedEvent, len(ranked))
	for i, r := range ranked {
		out[i] = models.RecommendedEvent{Event: r.item, Score: r.score, Factors: r.factors}
	}
	return out
}

// ScoreProductsForUser ranks product deals by category overlap, retailer
// overlap with the user's merchants and listing recency.
func ScoreProductsForUser(profile models.UserProfile, products []models.Product, limit int, now time.Time) []models.RecommendedProduct {
	cands := make([]candidate[models.Product], len(products))
	for i, p := range products {
		cands[i] = candidate[models.Product]{
			item:     p,
			id:       p.ID,
			listedAt: p.ListedAt,
			validTo:  p.ValidTo,
			signals: []signal{
				{name: "category", weight: weightPrimary, profile: profile.TopCategories, item: p.Categories, normalize: normalizeCategory},
				{name: "retailer", weight: weightSecondary, profile: profile.TopMerchants, item: []string{p.Retailer}, normalize: models.NormalizeKey},
			},
		}
	}

	ranked := rank(cands, limit, now)
	out := make([]models.RecommendedProduct, len(ranked))
	for i, r := range ranked {
		out[i] = models.RecommendedProduct{Product: r.item, Score: r.score, Factors: r.factors}
	}
	return out
}
