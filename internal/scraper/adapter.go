// Package scraper collects credit-card offers from external sources and
// merges them into the catalog.
package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pravinl23/DealyDigests-sub001/internal/config"
	"github.com/pravinl23/DealyDigests-sub001/internal/errs"
)

const maxPageBytes = 10 << 20

// RawOffer is an offer as a source presents it, before normalization.
type RawOffer struct {
	CardName    string
	Issuer      string
	RewardsRate string
	AnnualFee   string
	SignupBonus string
	Categories  []string
	Merchants   []string
	URL         string
	ValidTo     string
}

// Adapter scrapes one source.
type Adapter interface {
	Name() string
	Scrape(ctx context.Context) ([]RawOffer, error)
}

// AdapterFunc turns a function into an Adapter.
type AdapterFunc struct {
	AdapterName string
	Fn          func(ctx context.Context) ([]RawOffer, error)
}

func (a AdapterFunc) Name() string { return a.AdapterName }

func (a AdapterFunc) Scrape(ctx context.Context) ([]RawOffer, error) {
	return a.Fn(ctx)
}

// Fetcher is the HTTP client shared by all adapters. Requests to the same host
// are paced by a token bucket.
type Fetcher struct {
	client    *http.Client
	userAgent string
	limit     rate.Limit

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewFetcher creates a fetcher. A non-positive rps disables pacing.
func NewFetcher(userAgent string, rps float64, timeout time.Duration) *Fetcher {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		limit:     limit,
		limiters:  make(map[string]*rate.Limiter),
	}
}

func (f *Fetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	lim, ok := f.limiters[host]
	if !ok {
		lim = rate.NewLimiter(f.limit, 1)
		f.limiters[host] = lim
	}
	return lim
}

// Get fetches rawURL and returns the body. Non-2xx responses are upstream errors.
func (f *Fetcher) Get(ctx context.Context, source, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid source url %q: %w", rawURL, err)
	}
	if err := f.limiter(u.Host).Wait(ctx); err != nil {
		return nil, &errs.UpstreamError{Source: source, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &errs.UpstreamError{Source: source, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &errs.UpstreamError{Source: source, Err: fmt.Errorf("received status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, &errs.UpstreamError{Source: source, Err: fmt.Errorf("failed to read body: %w", err)}
	}
	return body, nil
}

// NewAdaptersFromConfig builds one adapter per configured source, in order.
func NewAdaptersFromConfig(sources []config.ScraperSource, fetcher *Fetcher) ([]Adapter, error) {
	adapters := make([]Adapter, 0, len(sources))
	for _, src := range sources {
		switch src.Kind {
		case "html":
			adapters = append(adapters, NewHTMLAdapter(src.Name, src.URL, SelectorsFromMap(src.Selectors), fetcher))
		case "json":
			adapters = append(adapters, NewJSONFeedAdapter(src.Name, src.URL, fetcher))
		default:
			return nil, fmt.Errorf("scraper source %q: unknown kind %q", src.Name, src.Kind)
		}
	}
	return adapters, nil
}
