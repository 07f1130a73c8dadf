// Package webhook receives signed aggregator notifications and turns them
// into normalized records in the background.
package webhook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pravinl23/DealyDigests-sub001/internal/errs"
	"github.com/pravinl23/DealyDigests-sub001/internal/features"
	"github.com/pravinl23/DealyDigests-sub001/internal/models"
)

// EventStore is the part of the store the gateway writes to.
type EventStore interface {
	InsertWebhookEvent(ctx context.Context, ev models.WebhookEvent) error
	GetWebhookEvent(ctx context.Context, id string) (models.WebhookEvent, error)
	ResetFailedWebhookEvent(ctx context.Context, id string) (bool, error)
}

// Submitter hands an event id to the background processor without blocking.
type Submitter interface {
	Submit(id string) bool
}

// Gateway authenticates, validates and stores inbound events, then hands them off.
type Gateway struct {
	store  EventStore
	queue  Submitter
	flags  *features.Manager
	secret string
	logger *zap.Logger
	now    func() time.Time
}

func NewGateway(store EventStore, queue Submitter, flags *features.Manager, secret string, logger *zap.Logger) *Gateway {
	if flags == nil {
		flags = features.Defaults()
	}
	return &Gateway{
		store:  store,
		queue:  queue,
		flags:  flags,
		secret: secret,
		logger: logger,
		now:    time.Now,
	}
}

// Receive stores the event as received and returns without waiting for
// processing. A missing signature is rejected before anything is stored; a
// signature that does not verify is stored for audit with verified=false.
func (g *Gateway) Receive(ctx context.Context, body []byte, signature string) (models.WebhookEvent, error) {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return models.WebhookEvent{}, errs.Unauthorized("missing webhook signature")
	}

	payload, err := ParsePayload(body)
	if err != nil {
		return models.WebhookEvent{}, err
	}

	env := payload.Meta()
	received := g.now().UTC()
	ev := models.WebhookEvent{
		ID:         uuid.New().String(),
		EventType:  env.Event,
		SessionID:  env.SessionID,
		MerchantID: env.MerchantID,
		UserID:     env.ExternalUserID,
		Status:     models.WebhookStatusReceived,
		RawPayload: string(body),
		Signature:  signature,
		Verified:   Verify(g.secret, body, signature),
		DedupKey:   DedupKey(payload, body),
		Timestamp:  OccurredAt(payload, received),
	}
	if err := g.store.InsertWebhookEvent(ctx, ev); err != nil {
		return models.WebhookEvent{}, fmt.Errorf("failed to store webhook event: %w", err)
	}

	log := g.logger.With(
		zap.String("event_id", ev.ID),
		zap.String("event_type", ev.EventType),
		zap.String("merchant_id", ev.MerchantID),
	)
	if !ev.Verified {
		log.Warn("stored webhook with invalid signature, it will not be processed")
		return ev, nil
	}
	log.Info("webhook received")
	g.dispatch(ev.ID, log)
	return ev, nil
}

// Replay moves a failed event back to received and queues it again.
func (g *Gateway) Replay(ctx context.Context, id string) (models.WebhookEvent, error) {
	reset, err := g.store.ResetFailedWebhookEvent(ctx, id)
	if err != nil {
		return models.WebhookEvent{}, err
	}
	ev, err := g.store.GetWebhookEvent(ctx, id)
	if err != nil {
		return models.WebhookEvent{}, err
	}
	if !reset {
		return ev, fmt.Errorf("%w: webhook event %s is %s, only failed events can be replayed", errs.ErrConflict, id, ev.Status)
	}
	g.dispatch(ev.ID, g.logger.With(zap.String("event_id", ev.ID), zap.Bool("replay", true)))
	return ev, nil
}

func (g *Gateway) dispatch(id string, log *zap.Logger) {
	if !g.flags.IsEnabled(features.FeatureWebhookProcessing) {
		log.Info("webhook processing disabled, event left in received")
		return
	}
	if !g.queue.Submit(id) {
		log.Warn("processing queue full, event left in received")
	}
}
