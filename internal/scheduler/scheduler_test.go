package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pravinl23/DealyDigests-sub001/internal/errs"
	"github.com/pravinl23/DealyDigests-sub001/internal/models"
	"github.com/pravinl23/DealyDigests-sub001/internal/scraper"
)

func TestSchedule_ReplacesExistingEntry(t *testing.T) {
	s := New(context.Background(), zap.NewNop())
	job := func(ctx context.Context) (int, error) { return 0, nil }

	require.NoError(t, s.Schedule("scrape", "0 */6 * * *", job))
	require.NoError(t, s.Schedule("scrape", "*/15 * * * *", job))

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "*/15 * * * *", entries[0].Spec)
	assert.Len(t, s.cron.Entries(), 1, "exactly one timer for the name")

	assert.True(t, s.Unschedule("scrape"))
	assert.False(t, s.Unschedule("scrape"))
	assert.Empty(t, s.cron.Entries())
}

func TestSchedule_InvalidExpression(t *testing.T) {
	s := New(context.Background(), zap.NewNop())
	err := s.Schedule("scrape", "every tuesday", func(ctx context.Context) (int, error) { return 0, nil })
	assert.Error(t, err)
	assert.Empty(t, s.Entries())
}

func TestRunNow_DropsOverlappingRun(t *testing.T) {
	s := New(context.Background(), zap.NewNop())
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	s.Register("scrape", func(ctx context.Context) (int, error) {
		calls.Add(1)
		close(started)
		<-release
		return 7, nil
	})

	done := make(chan int)
	go func() {
		n, _ := s.RunNow(context.Background(), "scrape")
		done <- n
	}()
	<-started

	_, err := s.RunNow(context.Background(), "scrape")
	assert.ErrorIs(t, err, ErrJobRunning)
	assert.ErrorIs(t, err, errs.ErrConflict)

	s.fire("scrape") // scheduled fire while running is dropped

	close(release)
	assert.Equal(t, 7, <-done)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRunNow_UnknownJob(t *testing.T) {
	s := New(context.Background(), zap.NewNop())
	_, err := s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownJob)

	assert.ErrorIs(t, s.ScheduleCreditCardScraper("0 * * * *"), ErrUnknownJob)
}

func TestStartStop(t *testing.T) {
	s := New(context.Background(), zap.NewNop())
	require.NoError(t, s.Schedule("noop", "@every 1h", func(ctx context.Context) (int, error) { return 0, nil }))
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}

type mockSession struct {
	mock.Mock
}

func (m *mockSession) UpsertOffer(ctx context.Context, offer models.Offer) (string, bool, error) {
	args := m.Called(ctx, offer)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *mockSession) Release() error {
	return m.Called().Error(0)
}

type runnerFunc func(ctx context.Context, w scraper.OfferWriter) (int, error)

func (f runnerFunc) ScrapeAll(ctx context.Context, w scraper.OfferWriter) (int, error) {
	return f(ctx, w)
}

func TestCreditCardScraper_ReleasesSessionOnEveryPath(t *testing.T) {
	tests := []struct {
		name    string
		runner  runnerFunc
		wantN   int
		wantErr bool
	}{
		{
			name: "success",
			runner: func(ctx context.Context, w scraper.OfferWriter) (int, error) {
				_, _, err := w.UpsertOffer(ctx, models.Offer{CardName: "Gold", Issuer: "Amex"})
				return 1, err
			},
			wantN: 1,
		},
		{
			name: "error",
			runner: func(ctx context.Context, w scraper.OfferWriter) (int, error) {
				return 0, errors.New("aborted")
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := &mockSession{}
			sess.On("UpsertOffer", mock.Anything, mock.Anything).Return("id-1", true, nil).Maybe()
			sess.On("Release").Return(nil).Once()

			job := newCreditCardScraper(func(ctx context.Context) (Session, error) { return sess, nil }, tt.runner, zap.NewNop())
			s := New(context.Background(), zap.NewNop())
			s.Register(CreditCardScraperJob, job.Run)

			n, err := s.RunCreditCardScraperNow(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantN, n)
			sess.AssertExpectations(t)
		})
	}
}

func TestCreditCardScraper_AcquireFailure(t *testing.T) {
	called := false
	job := newCreditCardScraper(
		func(ctx context.Context) (Session, error) { return nil, errors.New("database is locked") },
		runnerFunc(func(ctx context.Context, w scraper.OfferWriter) (int, error) {
			called = true
			return 0, nil
		}),
		zap.NewNop(),
	)

	_, err := job.Run(context.Background())
	assert.Error(t, err)
	assert.False(t, called)
}

func TestScheduleCreditCardScraper(t *testing.T) {
	s := New(context.Background(), zap.NewNop())
	s.Register(CreditCardScraperJob, func(ctx context.Context) (int, error) { return 0, nil })

	require.NoError(t, s.ScheduleCreditCardScraper("0 */6 * * *"))
	require.NoError(t, s.ScheduleCreditCardScraper("30 2 * * *"))

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, CreditCardScraperJob, entries[0].Name)
	assert.Equal(t, "30 2 * * *", entries[0].Spec)
}
