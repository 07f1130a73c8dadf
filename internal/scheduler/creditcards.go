package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pravinl23/DealyDigests-sub001/internal/database"
	"github.com/pravinl23/DealyDigests-sub001/internal/scraper"
)

// CreditCardScraperJob is the job name of the catalog scrape.
const CreditCardScraperJob = "credit-card-scraper"

// Session is a store connection scoped to one run.
type Session interface {
	scraper.OfferWriter
	Release() error
}

// ScrapeRunner is satisfied by *scraper.Coordinator.
type ScrapeRunner interface {
	ScrapeAll(ctx context.Context, w scraper.OfferWriter) (int, error)
}

// CreditCardScraper runs the scrape coordinator against a dedicated store session.
type CreditCardScraper struct {
	acquire func(ctx context.Context) (Session, error)
	runner  ScrapeRunner
	logger  *zap.Logger
}

// NewCreditCardScraper wires the job to the catalog store.
func NewCreditCardScraper(db *database.DB, runner ScrapeRunner, logger *zap.Logger) *CreditCardScraper {
	return newCreditCardScraper(func(ctx context.Context) (Session, error) {
		sess, err := db.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		return sess, nil
	}, runner, logger)
}

func newCreditCardScraper(acquire func(ctx context.Context) (Session, error), runner ScrapeRunner, logger *zap.Logger) *CreditCardScraper {
	return &CreditCardScraper{acquire: acquire, runner: runner, logger: logger}
}

// Run performs one scrape. The session is released on every exit path.
func (j *CreditCardScraper) Run(ctx context.Context) (int, error) {
	sess, err := j.acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire store session: %w", err)
	}
	defer func() {
		if err := sess.Release(); err != nil {
			j.logger.Warn("failed to release store session", zap.Error(err))
		}
	}()

	return j.runner.ScrapeAll(ctx, sess)
}

// ScheduleCreditCardScraper (re)installs the catalog scrape on expr. The job
// must have been registered.
func (s *Scheduler) ScheduleCreditCardScraper(expr string) error {
	s.mu.Lock()
	var fn Job
	if st, ok := s.jobs[CreditCardScraperJob]; ok {
		fn = st.fn
	}
	s.mu.Unlock()
	if fn == nil {
		return fmt.Errorf("%w: %s", ErrUnknownJob, CreditCardScraperJob)
	}
	return s.Schedule(CreditCardScraperJob, expr, fn)
}

// RunCreditCardScraperNow runs the catalog scrape synchronously and returns
// the number of offers persisted.
func (s *Scheduler) RunCreditCardScraperNow(ctx context.Context) (int, error) {
	return s.RunNow(ctx, CreditCardScraperJob)
}
