package webhook

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/pravinl23/DealyDigests-sub001/internal/cache"
	"github.com/pravinl23/DealyDigests-sub001/internal/models"
	"github.com/pravinl23/DealyDigests-sub001/internal/tracing"
)

const recoverBatch = 1000

// ProcessorStore is the part of the store the processor reads and writes.
type ProcessorStore interface {
	GetWebhookEvent(ctx context.Context, id string) (models.WebhookEvent, error)
	ClaimWebhookEvent(ctx context.Context, id string) (bool, error)
	SetWebhookEventStatus(ctx context.Context, id string, status models.WebhookStatus, errMsg string) error
	PendingWebhookEvents(ctx context.Context, limit int) ([]string, error)
	InsertTransactions(ctx context.Context, txns []models.Transaction) (int, error)
}

// TransactionSyncer pulls a user's transactions for a merchant from the aggregator.
type TransactionSyncer interface {
	SyncAll(ctx context.Context, merchantID, userID string) ([]models.Transaction, error)
}

// Processor applies stored events. Every path ends with the event in
// processed or failed, except events it never claimed.
type Processor struct {
	store  ProcessorStore
	dedup  cache.IdempotencyStore
	syncer TransactionSyncer
	ttl    time.Duration
	logger *zap.Logger
}

func NewProcessor(store ProcessorStore, dedup cache.IdempotencyStore, syncer TransactionSyncer, dedupTTL time.Duration, logger *zap.Logger) *Processor {
	if dedupTTL <= 0 {
		dedupTTL = 7 * 24 * time.Hour
	}
	return &Processor{
		store:  store,
		dedup:  dedup,
		syncer: syncer,
		ttl:    dedupTTL,
		logger: logger,
	}
}

// Process handles one stored event by id. Unverified events and events
// already claimed by another run are no-ops.
func (p *Processor) Process(ctx context.Context, id string) error {
	ctx, span := tracing.GetTracer().StartSpan(ctx, "webhook.process")
	defer span.End()
	span.SetAttributes(attribute.String("webhook.event_id", id))

	ev, err := p.store.GetWebhookEvent(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load webhook event: %w", err)
	}
	log := p.logger.With(zap.String("event_id", ev.ID), zap.String("event_type", ev.EventType))

	if !ev.Verified {
		log.Info("skipping unverified webhook event")
		return nil
	}

	claimed, err := p.store.ClaimWebhookEvent(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to claim webhook event: %w", err)
	}
	if !claimed {
		log.Debug("webhook event already claimed", zap.String("status", string(ev.Status)))
		return nil
	}

	first, err := p.dedup.Claim(ctx, ev.DedupKey, p.ttl)
	if err != nil {
		return p.fail(ctx, ev, err, log)
	}
	if !first {
		log.Info("duplicate delivery, side effects skipped", zap.String("dedup_key", ev.DedupKey))
		return p.finish(ctx, ev)
	}

	if err := p.applySafely(ctx, ev, log); err != nil {
		if relErr := p.dedup.Release(ctx, ev.DedupKey); relErr != nil {
			log.Warn("failed to release dedup key", zap.Error(relErr))
		}
		span.RecordError(err)
		return p.fail(ctx, ev, err, log)
	}
	return p.finish(ctx, ev)
}

// applySafely turns a panic in apply into an error so the claimed event
// still ends failed and its dedup key is released.
func (p *Processor) applySafely(ctx context.Context, ev models.WebhookEvent, log *zap.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while applying webhook event", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.apply(ctx, ev, log)
}

func (p *Processor) apply(ctx context.Context, ev models.WebhookEvent, log *zap.Logger) error {
	payload, err := ParsePayload([]byte(ev.RawPayload))
	if err != nil {
		return err
	}

	switch pl := payload.(type) {
	case NewTransactionsPayload:
		return p.syncTransactions(ctx, pl.Envelope, log)
	case UpdatedTransactionsPayload:
		log.Info("transactions updated upstream", zap.Int("updated", len(pl.UpdatedIDs)))
		return p.syncTransactions(ctx, pl.Envelope, log)
	case AuthenticatedPayload:
		log.Info("merchant account linked", zap.String("user_id", pl.ExternalUserID), zap.String("merchant_id", pl.MerchantID))
		return nil
	case MerchantStatusPayload:
		log.Info("merchant status changed", zap.String("merchant_id", pl.MerchantID), zap.String("status", pl.Status))
		return nil
	case AccountLoginRequiredPayload:
		log.Warn("merchant account needs re-login", zap.String("user_id", pl.ExternalUserID), zap.String("merchant_id", pl.MerchantID))
		return nil
	case UnknownPayload:
		log.Warn("unhandled webhook event type", zap.String("type", pl.Type))
		return nil
	default:
		return fmt.Errorf("unsupported payload %T", payload)
	}
}

func (p *Processor) syncTransactions(ctx context.Context, env Envelope, log *zap.Logger) error {
	txns, err := p.syncer.SyncAll(ctx, env.MerchantID, env.ExternalUserID)
	if err != nil {
		return err
	}
	inserted, err := p.store.InsertTransactions(ctx, txns)
	if err != nil {
		return err
	}
	log.Info("transactions synced", zap.Int("fetched", len(txns)), zap.Int("inserted", inserted))
	return nil
}

func (p *Processor) finish(ctx context.Context, ev models.WebhookEvent) error {
	if err := p.store.SetWebhookEventStatus(ctx, ev.ID, models.WebhookStatusProcessed, ""); err != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", err)
	}
	return nil
}

func (p *Processor) fail(ctx context.Context, ev models.WebhookEvent, cause error, log *zap.Logger) error {
	log.Error("webhook processing failed", zap.Error(cause))
	if err := p.store.SetWebhookEventStatus(ctx, ev.ID, models.WebhookStatusFailed, cause.Error()); err != nil {
		log.Error("failed to mark webhook event failed", zap.Error(err))
	}
	return cause
}

// RecoverPending resubmits verified events still in received, for example
// after a restart or a full queue. It returns how many were submitted.
func (p *Processor) RecoverPending(ctx context.Context, queue Submitter) (int, error) {
	ids, err := p.store.PendingWebhookEvents(ctx, recoverBatch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if queue.Submit(id) {
			n++
		}
	}
	if len(ids) > 0 {
		p.logger.Info("resubmitted pending webhook events", zap.Int("pending", len(ids)), zap.Int("submitted", n))
	}
	return n, nil
}
