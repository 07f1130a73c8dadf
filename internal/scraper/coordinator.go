package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pravinl23/DealyDigests-sub001/internal/features"
	"github.com/pravinl23/DealyDigests-sub001/internal/models"
	"github.com/pravinl23/DealyDigests-sub001/internal/tracing"
)

// OfferWriter persists normalized offers. Both the store and a scoped store
// session satisfy it.
type OfferWriter interface {
	UpsertOffer(ctx context.Context, offer models.Offer) (string, bool, error)
}

// Options tune a Coordinator.
type Options struct {
	AdapterTimeout time.Duration
	Concurrency    int
}

// AdapterResult describes one adapter's contribution to a run.
type AdapterResult struct {
	Name     string        `json:"name"`
	Offers   int           `json:"offers"`
	Rejected int           `json:"rejected"`
	Skipped  bool          `json:"skipped,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RunReport summarizes a scrape run. Persisted counts successful upserts.
type RunReport struct {
	Adapters  []AdapterResult `json:"adapters"`
	Persisted int             `json:"persisted"`
	Created   int             `json:"created"`
	Updated   int             `json:"updated"`
	Failed    int             `json:"failed"`
}

// Coordinator runs the registered adapters and merges their offers into the catalog.
type Coordinator struct {
	adapters []Adapter
	flags    *features.Manager
	opts     Options
	logger   *zap.Logger
	now      func() time.Time
}

// NewCoordinator registers adapters in order. Later adapters win when two
// sources describe the same card. Each adapter gets an enabled-by-default
// scraper.<name> flag.
func NewCoordinator(adapters []Adapter, flags *features.Manager, opts Options, logger *zap.Logger) *Coordinator {
	if opts.AdapterTimeout <= 0 {
		opts.AdapterTimeout = 30 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if flags == nil {
		flags = features.NewManager()
	}
	for _, a := range adapters {
		flags.Register(features.ScraperFlag(a.Name()), true, "Scrape offers from "+a.Name())
	}
	return &Coordinator{
		adapters: adapters,
		flags:    flags,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// Adapters returns the registered adapter names in order.
func (c *Coordinator) Adapters() []string {
	names := make([]string, len(c.adapters))
	for i, a := range c.adapters {
		names[i] = a.Name()
	}
	return names
}

// ScrapeAll runs every enabled adapter and returns the number of offers persisted.
func (c *Coordinator) ScrapeAll(ctx context.Context, w OfferWriter) (int, error) {
	report, err := c.ScrapeAllReport(ctx, w)
	return report.Persisted, err
}

// ScrapeAllReport runs every enabled adapter with bounded concurrency and a
// per-adapter timeout. Adapter failures are isolated; persistence failures
// skip the offer. The error is non-nil only when ctx ends the run early.
func (c *Coordinator) ScrapeAllReport(ctx context.Context, w OfferWriter) (RunReport, error) {
	ctx, span := tracing.GetTracer().StartSpan(ctx, "scrape.run")
	defer span.End()

	scrapedAt := c.now().UTC()
	results := make([]AdapterResult, len(c.adapters))
	batches := make([][]models.Offer, len(c.adapters))

	var g errgroup.Group
	g.SetLimit(c.opts.Concurrency)
	for i, a := range c.adapters {
		i, a := i, a
		results[i].Name = a.Name()
		if !c.flags.IsEnabled(features.ScraperFlag(a.Name())) {
			results[i].Skipped = true
			c.logger.Info("scraper disabled by flag", zap.String("adapter", a.Name()))
			continue
		}
		g.Go(func() error {
			batches[i], results[i] = c.runAdapter(ctx, a, scrapedAt)
			return nil
		})
	}
	_ = g.Wait()

	report := RunReport{Adapters: results}
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("scrape run aborted: %w", err)
	}

	for _, offer := range merge(batches) {
		_, created, err := w.UpsertOffer(ctx, offer)
		if err != nil {
			report.Failed++
			c.logger.Error("failed to persist offer",
				zap.String("source", offer.Source),
				zap.String("card", offer.CardName),
				zap.String("issuer", offer.Issuer),
				zap.Error(err),
			)
			if ctx.Err() != nil {
				return report, fmt.Errorf("scrape run aborted: %w", ctx.Err())
			}
			continue
		}
		report.Persisted++
		if created {
			report.Created++
		} else {
			report.Updated++
		}
	}

	span.SetAttributes(
		attribute.Int("scrape.persisted", report.Persisted),
		attribute.Int("scrape.failed", report.Failed),
	)
	c.logger.Info("scrape run finished",
		zap.Int("persisted", report.Persisted),
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func (c *Coordinator) runAdapter(ctx context.Context, a Adapter, scrapedAt time.Time) ([]models.Offer, AdapterResult) {
	ctx, span := tracing.GetTracer().StartSpan(ctx, "scrape.adapter")
	defer span.End()
	span.SetAttributes(attribute.String("scrape.adapter", a.Name()))

	ctx, cancel := context.WithTimeout(ctx, c.opts.AdapterTimeout)
	defer cancel()

	start := time.Now()
	result := AdapterResult{Name: a.Name()}
	raws, err := c.scrape(ctx, a)
	result.Duration = time.Since(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", c.opts.AdapterTimeout, err)
		}
		result.Error = err.Error()
		span.RecordError(err)
		c.logger.Warn("scraper adapter failed", zap.String("adapter", a.Name()), zap.Error(err))
		return nil, result
	}

	offers := make([]models.Offer, 0, len(raws))
	for _, raw := range raws {
		offer, err := Normalize(raw, a.Name(), scrapedAt, c.logger)
		if err != nil {
			result.Rejected++
			c.logger.Warn("rejected scraped offer",
				zap.String("adapter", a.Name()),
				zap.String("card", raw.CardName),
				zap.Error(err),
			)
			continue
		}
		offers = append(offers, offer)
	}
	result.Offers = len(offers)
	return offers, result
}

// scrape calls the adapter, turning a panic into an error so one broken
// source cannot take down the run.
func (c *Coordinator) scrape(ctx context.Context, a Adapter) (raws []RawOffer, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("adapter panic: %v", r)
		}
	}()
	raws, err = a.Scrape(ctx)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return raws, err
}

// merge collapses offers sharing a normalized key. Batches are in adapter
// registration order and the last occurrence wins; output keeps first-seen key order.
func merge(batches [][]models.Offer) []models.Offer {
	index := make(map[string]int)
	var merged []models.Offer
	for _, batch := range batches {
		for _, offer := range batch {
			key := models.OfferKey(offer.CardName, offer.Issuer)
			if i, ok := index[key]; ok {
				merged[i] = offer
				continue
			}
			index[key] = len(merged)
			merged = append(merged, offer)
		}
	}
	return merged
}
