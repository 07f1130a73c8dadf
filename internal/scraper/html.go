package scraper

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Selectors locate offer fields on a listing page. Card selects one element
// per offer; the rest are evaluated inside it.
type Selectors struct {
	Card        string
	Name        string
	Issuer      string
	RewardsRate string
	AnnualFee   string
	SignupBonus string
	Categories  string
	Merchants   string
	Link        string
	ValidTo     string
}

// DefaultSelectors match the data-attribute markup most comparison pages use.
var DefaultSelectors = Selectors{
	Card:        "[data-card]",
	Name:        ".card-name",
	Issuer:      ".card-issuer",
	RewardsRate: ".rewards-rate",
	AnnualFee:   ".annual-fee",
	SignupBonus: ".signup-bonus",
	Categories:  ".reward-category",
	Merchants:   ".merchant",
	Link:        "a.card-link",
	ValidTo:     ".valid-to",
}

// SelectorsFromMap overlays configured selectors on DefaultSelectors.
func SelectorsFromMap(m map[string]string) Selectors {
	s := DefaultSelectors
	fields := map[string]*string{
		"card":         &s.Card,
		"name":         &s.Name,
		"issuer":       &s.Issuer,
		"rewards_rate": &s.RewardsRate,
		"annual_fee":   &s.AnnualFee,
		"signup_bonus": &s.SignupBonus,
		"categories":   &s.Categories,
		"merchants":    &s.Merchants,
		"link":         &s.Link,
		"valid_to":     &s.ValidTo,
	}
	for k, v := range m {
		if dst, ok := fields[k]; ok && v != "" {
			*dst = v
		}
	}
	return s
}

// HTMLAdapter scrapes an HTML listing page with CSS selectors.
type HTMLAdapter struct {
	name      string
	url       string
	selectors Selectors
	fetcher   *Fetcher
}

func NewHTMLAdapter(name, pageURL string, selectors Selectors, fetcher *Fetcher) *HTMLAdapter {
	return &HTMLAdapter{name: name, url: pageURL, selectors: selectors, fetcher: fetcher}
}

func (a *HTMLAdapter) Name() string { return a.name }

func (a *HTMLAdapter) Scrape(ctx context.Context) ([]RawOffer, error) {
	body, err := a.fetcher.Get(ctx, a.name, a.url)
	if err != nil {
		return nil, err
	}
	return a.parse(body)
}

func (a *HTMLAdapter) parse(body []byte) ([]RawOffer, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s page: %w", a.name, err)
	}
	base, _ := url.Parse(a.url)
	s := a.selectors

	var offers []RawOffer
	doc.Find(s.Card).Each(func(_ int, card *goquery.Selection) {
		raw := RawOffer{
			CardName:    text(card, s.Name),
			Issuer:      text(card, s.Issuer),
			RewardsRate: text(card, s.RewardsRate),
			AnnualFee:   text(card, s.AnnualFee),
			SignupBonus: text(card, s.SignupBonus),
			Categories:  list(card, s.Categories),
			Merchants:   list(card, s.Merchants),
			ValidTo:     text(card, s.ValidTo),
		}
		// data attributes win over nested markup when present
		if v, ok := card.Attr("data-card-name"); ok && strings.TrimSpace(v) != "" {
			raw.CardName = strings.TrimSpace(v)
		}
		if v, ok := card.Attr("data-issuer"); ok && strings.TrimSpace(v) != "" {
			raw.Issuer = strings.TrimSpace(v)
		}
		if href, ok := card.Find(s.Link).First().Attr("href"); ok {
			raw.URL = resolve(base, href)
		}
		if raw.URL == "" {
			raw.URL = a.url
		}
		offers = append(offers, raw)
	})
	return offers, nil
}

func text(sel *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(sel.Find(selector).First().Text())
}

// list collects the text of every matching element, splitting comma lists.
func list(sel *goquery.Selection, selector string) []string {
	if selector == "" {
		return nil
	}
	var out []string
	sel.Find(selector).Each(func(_ int, item *goquery.Selection) {
		for _, part := range strings.Split(item.Text(), ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	})
	return out
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
