package webhook

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pravinl23/DealyDigests-sub001/internal/cache"
	"github.com/pravinl23/DealyDigests-sub001/internal/database"
	"github.com/pravinl23/DealyDigests-sub001/internal/errs"
	"github.com/pravinl23/DealyDigests-sub001/internal/events"
	"github.com/pravinl23/DealyDigests-sub001/internal/features"
	"github.com/pravinl23/DealyDigests-sub001/internal/models"
	"github.com/pravinl23/DealyDigests-sub001/internal/validation"
)

const testSecret = "whsec_test"

const newTxnBody = `{"event":"NEW_TRANSACTIONS_AVAILABLE","session_id":"sess-1","merchant_id":19,"external_user_id":"user-1","timestamp":1760860800000}`

type recordingQueue struct {
	mu  sync.Mutex
	ids []string
}

func (q *recordingQueue) Submit(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
	return true
}

type fakeSyncer struct {
	mu    sync.Mutex
	calls  int
	err    error
	panics int
}

func (s *fakeSyncer) SyncAll(ctx context.Context, merchantID, userID string) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.panics > 0 {
		s.panics--
		panic("aggregator client blew up")
	}
	if s.err != nil {
		return nil, s.err
	}
	return []models.Transaction{{
		ID:       "txn-" + merchantID,
		UserID:   userID,
		Date:     time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC),
		Amount:   decimal.RequireFromString("19.99"),
		Category: "shopping",
		Merchant: "Amazon",
	}}, nil
}

type fixture struct {
	db        *database.DB
	queue     *recordingQueue
	syncer    *fakeSyncer
	gateway   *Gateway
	processor *Processor
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "webhooks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{db: db, queue: &recordingQueue{}, syncer: &fakeSyncer{}}
	f.gateway = NewGateway(db, f.queue, features.Defaults(), testSecret, zap.NewNop())
	f.processor = NewProcessor(db, cache.NewMemoryStore(), f.syncer, time.Hour, zap.NewNop())
	return f
}

func (f *fixture) transactions(t *testing.T) []models.Transaction {
	txns, err := f.db.TransactionsForUser(context.Background(), "user-1")
	require.NoError(t, err)
	return txns
}

func TestVerify(t *testing.T) {
	body := []byte(newTxnBody)
	sig := Sign(testSecret, body)

	assert.True(t, Verify(testSecret, body, sig))
	assert.True(t, Verify(testSecret, body, "sha256="+sig))
	assert.False(t, Verify(testSecret, body, "deadbeef"))
	assert.False(t, Verify(testSecret, body, "not-hex"))
	assert.False(t, Verify("", body, sig))
}

func TestParsePayload(t *testing.T) {
	p, err := ParsePayload([]byte(newTxnBody))
	require.NoError(t, err)
	pl, ok := p.(NewTransactionsPayload)
	require.True(t, ok)
	assert.Equal(t, "19", pl.MerchantID)
	assert.Equal(t, "user-1", pl.ExternalUserID)
	assert.Equal(t, "NEW_TRANSACTIONS_AVAILABLE|sess-1|1760860800000", DedupKey(p, []byte(newTxnBody)))
	assert.Equal(t, time.UnixMilli(1760860800000).UTC(), OccurredAt(p, time.Time{}))

	p, err = ParsePayload([]byte(`{"event":"SOMETHING_NEW","external_user_id":"u"}`))
	require.NoError(t, err)
	unknown, ok := p.(UnknownPayload)
	require.True(t, ok)
	assert.Equal(t, "SOMETHING_NEW", unknown.Type)

	var vErr *validation.ValidationError
	_, err = ParsePayload([]byte(`{"event":"NEW_TRANSACTIONS_AVAILABLE","external_user_id":"u"}`))
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "merchant_id", vErr.Field)

	_, err = ParsePayload([]byte(`{"event":"AUTHENTICATED"}`))
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "external_user_id", vErr.Field)

	_, err = ParsePayload([]byte(`not json`))
	assert.True(t, errors.As(err, &vErr))
}

func TestReceive_MissingSignatureStoresNothing(t *testing.T) {
	f := setup(t)

	_, err := f.gateway.Receive(context.Background(), []byte(newTxnBody), "  ")
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	n, err := f.db.CountWebhookEvents(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.queue.ids)
}

func TestReceive_InvalidSignatureStoredUnverified(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	ev, err := f.gateway.Receive(ctx, []byte(newTxnBody), "sha256=00ff")
	require.NoError(t, err)
	assert.False(t, ev.Verified)
	assert.Empty(t, f.queue.ids, "unverified events are not queued")

	stored, err := f.db.GetWebhookEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.False(t, stored.Verified)
	assert.Equal(t, models.WebhookStatusReceived, stored.Status)

	// even if it reaches the processor, nothing happens
	require.NoError(t, f.processor.Process(ctx, ev.ID))
	assert.Zero(t, f.syncer.calls)
	stored, _ = f.db.GetWebhookEvent(ctx, ev.ID)
	assert.Equal(t, models.WebhookStatusReceived, stored.Status)
}

func TestReceive_ValidationErrorStoresNothing(t *testing.T) {
	f := setup(t)
	body := []byte(`{"event":"NEW_TRANSACTIONS_AVAILABLE"}`)

	_, err := f.gateway.Receive(context.Background(), body, Sign(testSecret, body))
	var vErr *validation.ValidationError
	assert.True(t, errors.As(err, &vErr))

	n, _ := f.db.CountWebhookEvents(context.Background())
	assert.Zero(t, n)
}

func TestProcess_SameEventTwiceYieldsOneTransaction(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	body := []byte(newTxnBody)

	ev, err := f.gateway.Receive(ctx, body, Sign(testSecret, body))
	require.NoError(t, err)
	assert.True(t, ev.Verified)
	assert.Equal(t, []string{ev.ID}, f.queue.ids)

	require.NoError(t, f.processor.Process(ctx, ev.ID))
	require.NoError(t, f.processor.Process(ctx, ev.ID))

	assert.Len(t, f.transactions(t), 1)
	assert.Equal(t, 1, f.syncer.calls)
	stored, _ := f.db.GetWebhookEvent(ctx, ev.ID)
	assert.Equal(t, models.WebhookStatusProcessed, stored.Status)
}

func TestProcess_RedeliveryWithNewIDIsDeduplicated(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	body := []byte(newTxnBody)

	first, err := f.gateway.Receive(ctx, body, Sign(testSecret, body))
	require.NoError(t, err)
	second, err := f.gateway.Receive(ctx, body, Sign(testSecret, body))
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	require.NoError(t, f.processor.Process(ctx, first.ID))
	require.NoError(t, f.processor.Process(ctx, second.ID))

	assert.Equal(t, 1, f.syncer.calls)
	assert.Len(t, f.transactions(t), 1)
	stored, _ := f.db.GetWebhookEvent(ctx, second.ID)
	assert.Equal(t, models.WebhookStatusProcessed, stored.Status)
}

func TestProcess_FailureMarksFailedAndReplaySucceeds(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	body := []byte(newTxnBody)
	f.syncer.err = &errs.UpstreamError{Source: "aggregator", Err: errors.New("503")}

	ev, err := f.gateway.Receive(ctx, body, Sign(testSecret, body))
	require.NoError(t, err)

	assert.Error(t, f.processor.Process(ctx, ev.ID))
	stored, _ := f.db.GetWebhookEvent(ctx, ev.ID)
	assert.Equal(t, models.WebhookStatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "503")

	f.syncer.err = nil
	replayed, err := f.gateway.Replay(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusReceived, replayed.Status)
	assert.Equal(t, []string{ev.ID, ev.ID}, f.queue.ids)

	require.NoError(t, f.processor.Process(ctx, ev.ID))
	assert.Len(t, f.transactions(t), 1)

	_, err = f.gateway.Replay(ctx, ev.ID)
	assert.ErrorIs(t, err, errs.ErrConflict, "processed events cannot be replayed")
	_, err = f.gateway.Replay(ctx, "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestProcess_PanicMarksFailedAndReleasesDedupKey(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	body := []byte(newTxnBody)
	f.syncer.panics = 1

	ev, err := f.gateway.Receive(ctx, body, Sign(testSecret, body))
	require.NoError(t, err)

	err = f.processor.Process(ctx, ev.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
	stored, _ := f.db.GetWebhookEvent(ctx, ev.ID)
	assert.Equal(t, models.WebhookStatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "aggregator client blew up")
	assert.Empty(t, f.transactions(t))

	// A redelivery of the same notification is not swallowed by the dedup key.
	redelivered, err := f.gateway.Receive(ctx, body, Sign(testSecret, body))
	require.NoError(t, err)
	require.NoError(t, f.processor.Process(ctx, redelivered.ID))
	assert.Len(t, f.transactions(t), 1)

	replayed, err := f.gateway.Replay(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusReceived, replayed.Status)
	require.NoError(t, f.processor.Process(ctx, ev.ID))
	stored, _ = f.db.GetWebhookEvent(ctx, ev.ID)
	assert.Equal(t, models.WebhookStatusProcessed, stored.Status)
	assert.Len(t, f.transactions(t), 1)
	assert.Equal(t, 2, f.syncer.calls)
}

func TestProcess_NonTransactionEvents(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	for _, body := range []string{
		`{"event":"AUTHENTICATED","session_id":"s","merchant_id":44,"external_user_id":"user-1"}`,
		`{"event":"ACCOUNT_LOGIN_REQUIRED","merchant_id":44,"external_user_id":"user-1"}`,
		`{"event":"MERCHANT_STATUS_UPDATE","merchant_id":44,"external_user_id":"user-1","status":"degraded"}`,
		`{"event":"SOMETHING_NEW","external_user_id":"user-1"}`,
	} {
		ev, err := f.gateway.Receive(ctx, []byte(body), Sign(testSecret, []byte(body)))
		require.NoError(t, err)
		require.NoError(t, f.processor.Process(ctx, ev.ID))
		stored, _ := f.db.GetWebhookEvent(ctx, ev.ID)
		assert.Equal(t, models.WebhookStatusProcessed, stored.Status, body)
	}
	assert.Zero(t, f.syncer.calls)
}

func TestRecoverPending(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	flags := features.Defaults()
	flags.Disable(features.FeatureWebhookProcessing)
	gw := NewGateway(f.db, f.queue, flags, testSecret, zap.NewNop())

	body := []byte(newTxnBody)
	ev, err := gw.Receive(ctx, body, Sign(testSecret, body))
	require.NoError(t, err)
	_, err = gw.Receive(ctx, body, "bad")
	require.NoError(t, err)
	assert.Empty(t, f.queue.ids)

	n, err := f.processor.RecoverPending(ctx, f.queue)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{ev.ID}, f.queue.ids)
}

func TestGatewayDoesNotWaitForProcessing(t *testing.T) {
	f := setup(t)
	release := make(chan struct{})
	blocking := &blockingSyncer{release: release}
	processor := NewProcessor(f.db, cache.NewMemoryStore(), blocking, time.Hour, zap.NewNop())
	queue := events.NewQueue("webhooks", 4, 1, processor.Process, zap.NewNop())
	queue.Start(context.Background())
	gw := NewGateway(f.db, queue, features.Defaults(), testSecret, zap.NewNop())

	body := []byte(newTxnBody)
	done := make(chan struct{})
	go func() {
		_, err := gw.Receive(context.Background(), body, Sign(testSecret, body))
		assert.NoError(t, err)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("gateway blocked on processing")
	}

	close(release)
	queue.Shutdown()
	assert.Len(t, f.transactions(t), 1)
	assert.Equal(t, int64(1), queue.Stats().Succeeded)
}

type blockingSyncer struct {
	release chan struct{}
	inner   fakeSyncer
}

func (b *blockingSyncer) SyncAll(ctx context.Context, merchantID, userID string) ([]models.Transaction, error) {
	<-b.release
	return b.inner.SyncAll(ctx, merchantID, userID)
}
