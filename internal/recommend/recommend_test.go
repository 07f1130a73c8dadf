package recommend

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pravinl23/DealyDigests-sub001/internal/models"
)

var now = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func txn(category, merchant, amount string) models.Transaction {
	return models.Transaction{Category: category, Merchant: merchant, Amount: decimal.RequireFromString(amount)}
}

func offer(id string, scrapedAt time.Time, categories ...models.RewardCategory) models.Offer {
	return models.Offer{ID: id, CardName: "Card " + id, Issuer: "Bank", RewardCategories: categories, ScrapedAt: scrapedAt}
}

func ids(recs []models.RecommendedOffer) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Offer.ID
	}
	return out
}

func TestBuildProfile_RanksBySpendWithNameTieBreak(t *testing.T) {
	txns := []models.Transaction{
		txn("Travel", "Delta", "500"),
		txn("restaurants", "Chipotle", "40"),
		txn("dining", "Sweetgreen", "60"),
		txn("groceries", "Whole Foods", "100"),
		txn("shopping", "Amazon", "100"),
		txn("gas", "Shell", "20"),
		txn("", "Unknown", "999"),
	}
	media := []models.MediaHistory{
		{Genres: []string{"Jazz", "rock"}},
		{Genres: []string{"jazz", "jazz"}},
		{Genres: []string{"Comedy"}},
	}

	p := BuildProfile("user-1", txns, media)

	// dining = 40 + 60 ties groceries and shopping at 100; names break the tie
	assert.Equal(t, []string{"travel", "dining", "groceries"}, p.TopCategories)
	assert.Equal(t, []string{"unknown", "delta", "amazon"}, p.TopMerchants)
	assert.Equal(t, []string{"jazz", "comedy", "rock"}, p.FavoriteGenres)
	assert.Equal(t, "user-1", p.UserID)
}

func TestBuildProfile_Empty(t *testing.T) {
	p := BuildProfile("u", nil, nil)
	assert.Empty(t, p.TopCategories)
	assert.NotNil(t, p.TopCategories)
}

func TestBuildProfile_IsDeterministic(t *testing.T) {
	txns := []models.Transaction{txn("a", "x", "1"), txn("b", "y", "1"), txn("c", "z", "1"), txn("d", "w", "1")}
	first := BuildProfile("u", txns, nil)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, BuildProfile("u", txns, nil))
	}
	assert.Equal(t, []string{"a", "b", "c"}, first.TopCategories)
}

func TestScoreOffers_RecencyFavorsToday(t *testing.T) {
	profile := models.UserProfile{TopCategories: []string{"travel", "dining", "shopping"}}
	yesterday := offer("yesterday", now.Add(-24*time.Hour), models.CategoryDining)
	today := offer("today", now, models.CategoryDining)

	recs := ScoreOffersForUser(profile, []models.Offer{yesterday, today}, 10, now)
	require.Len(t, recs, 2)
	assert.Equal(t, "today", recs[0].Offer.ID)
	assert.Greater(t, recs[0].Score, recs[1].Score)
}

func TestScoreOffers_RankWeighting(t *testing.T) {
	profile := models.UserProfile{TopCategories: []string{"travel", "dining", "shopping"}}
	offers := []models.Offer{
		offer("shopping", now, models.CategoryShopping),
		offer("travel", now, models.CategoryTravel),
		offer("dining", now, models.CategoryDining),
		offer("none", now, models.CategoryGas),
	}

	recs := ScoreOffersForUser(profile, offers, 10, now)
	assert.Equal(t, []string{"travel", "dining", "shopping", "none"}, ids(recs))
	assert.Equal(t, []string{"travel"}, recs[0].Factors[0].Matches)
}

func TestScoreOffers_MerchantOverlap(t *testing.T) {
	profile := models.UserProfile{TopMerchants: []string{"whole foods"}}
	a := offer("a", now)
	b := offer("b", now)
	b.MerchantCompatibility = []string{"Whole  Foods"}

	recs := ScoreOffersForUser(profile, []models.Offer{a, b}, 10, now)
	assert.Equal(t, []string{"b", "a"}, ids(recs))
}

func TestScoreOffers_ExpiredNeverReturned(t *testing.T) {
	profile := models.UserProfile{TopCategories: []string{"travel", "dining", "shopping"}}
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	expired := offer("expired", now, models.CategoryTravel, models.CategoryDining, models.CategoryShopping)
	expired.ValidTo = &past
	valid := offer("valid", now.Add(-72*time.Hour))
	valid.ValidTo = &future

	recs := ScoreOffersForUser(profile, []models.Offer{expired, valid}, 10, now)
	assert.Equal(t, []string{"valid"}, ids(recs))
}

func TestScoreOffers_DeterministicTieBreak(t *testing.T) {
	profile := models.UserProfile{TopCategories: []string{"dining"}}
	older := now.Add(-time.Hour)
	offers := []models.Offer{
		offer("c", now, models.CategoryDining),
		offer("a", now, models.CategoryDining),
		offer("b", now, models.CategoryDining),
		offer("z", older, models.CategoryDining),
	}

	first := ScoreOffersForUser(profile, offers, 10, now)
	// z scores lower on recency; a, b, c tie and order by id
	assert.Equal(t, []string{"a", "b", "c", "z"}, ids(first))

	reversed := []models.Offer{offers[3], offers[2], offers[1], offers[0]}
	assert.Equal(t, ids(first), ids(ScoreOffersForUser(profile, reversed, 10, now)))

	assert.Equal(t, []string{"a", "b"}, ids(ScoreOffersForUser(profile, offers, 2, now)))
}

func TestScoreEvents(t *testing.T) {
	profile := models.UserProfile{FavoriteGenres: []string{"jazz", "rock"}, TopMerchants: []string{"ticketmaster"}}
	past := now.Add(-time.Hour)
	listings := []models.EventListing{
		{ID: "rock", Genres: []string{"Rock"}, ListedAt: now},
		{ID: "jazz", Genres: []string{"jazz"}, Merchant: "Ticketmaster", ListedAt: now},
		{ID: "gone", Genres: []string{"jazz"}, ListedAt: now, ValidTo: &past},
		{ID: "opera", Genres: []string{"opera"}, ListedAt: now},
	}

	recs := ScoreEventsForUser(profile, listings, 10, now)
	got := make([]string, len(recs))
	for i, r := range recs {
		got[i] = r.Event.ID
	}
	assert.Equal(t, []string{"jazz", "rock", "opera"}, got)
}

func TestScoreProducts(t *testing.T) {
	profile := models.UserProfile{TopCategories: []string{"groceries"}, TopMerchants: []string{"costco"}}
	products := []models.Product{
		{ID: "tv", Categories: []string{"electronics"}, Retailer: "Best Buy", ListedAt: now},
		{ID: "bulk", Categories: []string{"Supermarkets"}, Retailer: "Costco", ListedAt: now},
	}

	recs := ScoreProductsForUser(profile, products, 1, now)
	require.Len(t, recs, 1)
	assert.Equal(t, "bulk", recs[0].Product.ID)
	assert.Equal(t, "retailer", recs[0].Factors[1].Name)
}
