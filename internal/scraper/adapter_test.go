package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pravinl23/DealyDigests-sub001/internal/config"
	"github.com/pravinl23/DealyDigests-sub001/internal/errs"
)

const listingPage = `<html><body>
<div data-card data-issuer="Chase">
  <h3 class="card-name">Sapphire Preferred</h3>
  <span class="rewards-rate">5x on travel</span>
  <span class="annual-fee">$95</span>
  <span class="signup-bonus">60,000 points</span>
  <ul><li class="reward-category">Travel</li><li class="reward-category">Dining, Streaming</li></ul>
  <ul><li class="merchant">Delta</li></ul>
  <a class="card-link" href="/cards/sapphire">Apply</a>
</div>
<div data-card>
  <h3 class="card-name">Blue Cash Everyday</h3>
  <span class="card-issuer">American Express</span>
  <span class="rewards-rate">3%</span>
  <span class="annual-fee">None</span>
  <li class="reward-category">groceries</li>
</div>
</body></html>`

func TestHTMLAdapter_Scrape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.UserAgent())
		w.Write([]byte(listingPage))
	}))
	defer srv.Close()

	adapter := NewHTMLAdapter("cardsite", srv.URL+"/best-cards", DefaultSelectors, NewFetcher("test-agent", 0, 5*time.Second))
	offers, err := adapter.Scrape(context.Background())
	require.NoError(t, err)
	require.Len(t, offers, 2)

	assert.Equal(t, "Sapphire Preferred", offers[0].CardName)
	assert.Equal(t, "Chase", offers[0].Issuer)
	assert.Equal(t, "5x on travel", offers[0].RewardsRate)
	assert.Equal(t, []string{"Travel", "Dining", "Streaming"}, offers[0].Categories)
	assert.Equal(t, []string{"Delta"}, offers[0].Merchants)
	assert.Equal(t, srv.URL+"/cards/sapphire", offers[0].URL)

	assert.Equal(t, "American Express", offers[1].Issuer)
	assert.Equal(t, srv.URL+"/best-cards", offers[1].URL)
}

func TestJSONFeedAdapter_Scrape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"offers":[{"card_name":"Venture X","issuer":"Capital One","rewards_rate":2,"annual_fee":"$395","reward_categories":["travel"],"valid_to":"2027-01-31"}]}`))
	}))
	defer srv.Close()

	adapter := NewJSONFeedAdapter("feed", srv.URL, NewFetcher("ua", 0, 5*time.Second))
	offers, err := adapter.Scrape(context.Background())
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, "2", offers[0].RewardsRate)
	assert.Equal(t, "$395", offers[0].AnnualFee)
	assert.Equal(t, "2027-01-31", offers[0].ValidTo)
	assert.Equal(t, srv.URL, offers[0].URL)
}

func TestFetcher_NonSuccessIsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewFetcher("ua", 0, time.Second).Get(context.Background(), "down", srv.URL)
	var upstream *errs.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, "down", upstream.Source)
}

func TestNewAdaptersFromConfig(t *testing.T) {
	fetcher := NewFetcher("ua", 1, time.Second)
	adapters, err := NewAdaptersFromConfig([]config.ScraperSource{
		{Name: "a", Kind: "html", URL: "https://a.example"},
		{Name: "b", Kind: "json", URL: "https://b.example/feed.json"},
	}, fetcher)
	require.NoError(t, err)
	require.Len(t, adapters, 2)
	assert.Equal(t, "a", adapters[0].Name())
	assert.Equal(t, "b", adapters[1].Name())

	_, err = NewAdaptersFromConfig([]config.ScraperSource{{Name: "c", Kind: "xml", URL: "x"}}, fetcher)
	assert.Error(t, err)
}

func TestSelectorsFromMap(t *testing.T) {
	s := SelectorsFromMap(map[string]string{"card": ".offer", "unknown": "x"})
	assert.Equal(t, ".offer", s.Card)
	assert.Equal(t, DefaultSelectors.Name, s.Name)
}
