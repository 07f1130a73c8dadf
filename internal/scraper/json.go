package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pravinl23/DealyDigests-sub001/internal/models"
)

type feedOffer struct {
	CardName         string            `json:"card_name"`
	Issuer           string            `json:"issuer"`
	RewardsRate      models.FlexString `json:"rewards_rate"`
	AnnualFee        models.FlexString `json:"annual_fee"`
	SignupBonus      string            `json:"signup_bonus"`
	RewardCategories []string          `json:"reward_categories"`
	Merchants        []string          `json:"merchants"`
	URL              string            `json:"url"`
	ValidTo          string            `json:"valid_to"`
}

// JSONFeedAdapter reads a JSON offer feed: either an array of offers or an
// object with an "offers" array.
type JSONFeedAdapter struct {
	name    string
	url     string
	fetcher *Fetcher
}

func NewJSONFeedAdapter(name, feedURL string, fetcher *Fetcher) *JSONFeedAdapter {
	return &JSONFeedAdapter{name: name, url: feedURL, fetcher: fetcher}
}

func (a *JSONFeedAdapter) Name() string { return a.name }

func (a *JSONFeedAdapter) Scrape(ctx context.Context) ([]RawOffer, error) {
	body, err := a.fetcher.Get(ctx, a.name, a.url)
	if err != nil {
		return nil, err
	}
	return a.parse(body)
}

func (a *JSONFeedAdapter) parse(body []byte) ([]RawOffer, error) {
	var items []feedOffer
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapper struct {
			Offers []feedOffer `json:"offers"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, fmt.Errorf("failed to decode %s feed: %w", a.name, err)
		}
		items = wrapper.Offers
	} else if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("failed to decode %s feed: %w", a.name, err)
	}

	offers := make([]RawOffer, 0, len(items))
	for _, it := range items {
		raw := RawOffer{
			CardName:    it.CardName,
			Issuer:      it.Issuer,
			RewardsRate: string(it.RewardsRate),
			AnnualFee:   string(it.AnnualFee),
			SignupBonus: it.SignupBonus,
			Categories:  it.RewardCategories,
			Merchants:   it.Merchants,
			URL:         strings.TrimSpace(it.URL),
			ValidTo:     it.ValidTo,
		}
		if raw.URL == "" {
			raw.URL = a.url
		}
		offers = append(offers, raw)
	}
	return offers, nil
}
