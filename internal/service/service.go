package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/pravinl23/DealyDigests-sub001/internal/database"
	"github.com/pravinl23/DealyDigests-sub001/internal/errs"
	"github.com/pravinl23/DealyDigests-sub001/internal/events"
	"github.com/pravinl23/DealyDigests-sub001/internal/features"
	"github.com/pravinl23/DealyDigests-sub001/internal/models"
	"github.com/pravinl23/DealyDigests-sub001/internal/recommend"
	"github.com/pravinl23/DealyDigests-sub001/internal/scheduler"
	"github.com/pravinl23/DealyDigests-sub001/internal/tracing"
	"github.com/pravinl23/DealyDigests-sub001/internal/validation"
	"github.com/pravinl23/DealyDigests-sub001/internal/webhook"
)

const maxBatchSize = 1000

// ErrFeatureDisabled is returned by endpoints switched off by a feature flag.
var ErrFeatureDisabled = fmt.Errorf("%w: feature disabled", errs.ErrNotFound)

// Service provides the business operations behind the HTTP API.
type Service struct {
	db        *database.DB
	gateway   *webhook.Gateway
	scheduler *scheduler.Scheduler
	queue     *events.Queue
	flags     *features.Manager
	logger    *zap.Logger
	now       func() time.Time
}

// Deps are the collaborators a Service needs.
type Deps struct {
	DB        *database.DB
	Gateway   *webhook.Gateway
	Scheduler *scheduler.Scheduler
	Queue     *events.Queue
	Flags     *features.Manager
	Logger    *zap.Logger
}

// NewService creates a new service instance.
func NewService(d Deps) *Service {
	if d.Flags == nil {
		d.Flags = features.Defaults()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Service{
		db:        d.DB,
		gateway:   d.Gateway,
		scheduler: d.Scheduler,
		queue:     d.Queue,
		flags:     d.Flags,
		logger:    d.Logger,
		now:       time.Now,
	}
}

// ReceiveWebhook stores a signed aggregator event and hands it off for processing.
func (s *Service) ReceiveWebhook(ctx context.Context, body []byte, signature string) (models.WebhookAckResponse, error) {
	ev, err := s.gateway.Receive(ctx, body, signature)
	if err != nil {
		return models.WebhookAckResponse{}, err
	}
	return models.WebhookAckResponse{ID: ev.ID, Status: ev.Status}, nil
}

// GetWebhookEvent returns a stored event for auditing.
func (s *Service) GetWebhookEvent(ctx context.Context, id string) (models.WebhookEvent, error) {
	if err := validation.ValidateUUID(id, "id"); err != nil {
		return models.WebhookEvent{}, err
	}
	return s.db.GetWebhookEvent(ctx, id)
}

// ReplayWebhookEvent requeues a failed event.
func (s *Service) ReplayWebhookEvent(ctx context.Context, id string) (models.WebhookAckResponse, error) {
	if err := validation.ValidateUUID(id, "id"); err != nil {
		return models.WebhookAckResponse{}, err
	}
	ev, err := s.gateway.Replay(ctx, id)
	if err != nil {
		return models.WebhookAckResponse{}, err
	}
	return models.WebhookAckResponse{ID: ev.ID, Status: ev.Status}, nil
}

// RunScrape runs the catalog scrape now and returns the number of offers persisted.
func (s *Service) RunScrape(ctx context.Context) (models.ScrapeRunResponse, error) {
	n, err := s.scheduler.RunCreditCardScraperNow(ctx)
	if err != nil {
		return models.ScrapeRunResponse{}, err
	}
	return models.ScrapeRunResponse{Count: n}, nil
}

// GetOffer returns one catalog offer.
func (s *Service) GetOffer(ctx context.Context, id string) (models.Offer, error) {
	if err := validation.ValidateUUID(id, "id"); err != nil {
		return models.Offer{}, err
	}
	return s.db.GetOffer(ctx, id)
}

// ListOffers returns one page of the catalog.
func (s *Service) ListOffers(ctx context.Context, issuer, category, merchant string, page, limit int) (models.OfferListResponse, error) {
	filter := database.OfferFilter{
		Issuer:   validation.SanitizeString(issuer),
		Merchant: validation.SanitizeString(merchant),
		Page:     page,
		Limit:    limit,
	}
	if category = strings.TrimSpace(category); category != "" {
		c, err := models.ParseRewardCategory(category)
		if err != nil {
			return models.OfferListResponse{}, &validation.ValidationError{Field: "category", Message: err.Error()}
		}
		filter.Category = c
	}

	offers, total, err := s.db.ListOffers(ctx, filter)
	if err != nil {
		return models.OfferListResponse{}, err
	}
	return models.OfferListResponse{Offers: offers, Total: total, Page: page, Limit: limit}, nil
}

// CreateTransactions ingests transactions directly, outside the webhook path.
func (s *Service) CreateTransactions(ctx context.Context, transactions []models.Transaction) (int, error) {
	if len(transactions) == 0 {
		return 0, &validation.ValidationError{Field: "transactions", Message: "at least one transaction is required"}
	}
	if len(transactions) > maxBatchSize {
		return 0, &validation.ValidationError{Field: "transactions", Message: fmt.Sprintf("cannot process more than %d transactions per request", maxBatchSize)}
	}

	// Validate all transactions before inserting
	for i, txn := range transactions {
		if err := validation.ValidateTransaction(txn); err != nil {
			return 0, fmt.Errorf("invalid transaction at index %d: %w", i, err)
		}
	}

	return s.db.InsertTransactions(ctx, transactions)
}

// AddMediaHistory records watched items for a user.
func (s *Service) AddMediaHistory(ctx context.Context, userID string, items []models.MediaHistory) (int, error) {
	if err := validation.ValidateUserID(userID); err != nil {
		return 0, err
	}
	if len(items) == 0 || len(items) > maxBatchSize {
		return 0, &validation.ValidationError{Field: "items", Message: fmt.Sprintf("must contain between 1 and %d items", maxBatchSize)}
	}
	for i := range items {
		items[i].UserID = userID
		if err := validation.ValidateMediaHistory(items[i]); err != nil {
			return 0, fmt.Errorf("invalid item at index %d: %w", i, err)
		}
	}
	return s.db.InsertMediaHistory(ctx, items)
}

// AddEventListings upserts event deals.
func (s *Service) AddEventListings(ctx context.Context, listings []models.EventListing) ([]string, error) {
	if len(listings) == 0 || len(listings) > maxBatchSize {
		return nil, &validation.ValidationError{Field: "events", Message: fmt.Sprintf("must contain between 1 and %d events", maxBatchSize)}
	}
	now := s.now().UTC()
	for i := range listings {
		if listings[i].ListedAt.IsZero() {
			listings[i].ListedAt = now
		}
		if err := validation.ValidateEventListing(listings[i]); err != nil {
			return nil, fmt.Errorf("invalid event at index %d: %w", i, err)
		}
	}

	ids := make([]string, 0, len(listings))
	for _, ev := range listings {
		id, err := s.db.UpsertEventListing(ctx, ev)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// AddProducts upserts product deals.
func (s *Service) AddProducts(ctx context.Context, products []models.Product) ([]string, error) {
	if len(products) == 0 || len(products) > maxBatchSize {
		return nil, &validation.ValidationError{Field: "products", Message: fmt.Sprintf("must contain between 1 and %d products", maxBatchSize)}
	}
	now := s.now().UTC()
	for i := range products {
		if products[i].ListedAt.IsZero() {
			products[i].ListedAt = now
		}
		if err := validation.ValidateProduct(products[i]); err != nil {
			return nil, fmt.Errorf("invalid product at index %d: %w", i, err)
		}
	}

	ids := make([]string, 0, len(products))
	for _, p := range products {
		id, err := s.db.UpsertProduct(ctx, p)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Profile derives a user's interest profile from stored history.
func (s *Service) Profile(ctx context.Context, userID string) (models.UserProfile, error) {
	if err := validation.ValidateUserID(userID); err != nil {
		return models.UserProfile{}, err
	}
	txns, err := s.db.TransactionsForUser(ctx, userID)
	if err != nil {
		return models.UserProfile{}, err
	}
	media, err := s.db.MediaHistoryForUser(ctx, userID)
	if err != nil {
		return models.UserProfile{}, err
	}
	return recommend.BuildProfile(userID, txns, media), nil
}

// RecommendedDeals ranks catalog offers for a user.
func (s *Service) RecommendedDeals(ctx context.Context, userID string, limit int) (models.RecommendedDealsResponse, error) {
	ctx, span := tracing.GetTracer().StartSpan(ctx, "recommend.deals")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.Int("limit", limit))

	profile, err := s.Profile(ctx, userID)
	if err != nil {
		return models.RecommendedDealsResponse{}, err
	}
	offers, err := s.db.AllOffers(ctx)
	if err != nil {
		return models.RecommendedDealsResponse{}, err
	}

	deals := recommend.ScoreOffersForUser(profile, offers, limit, s.now().UTC())
	span.SetAttributes(attribute.Int("recommend.candidates", len(offers)), attribute.Int("recommend.returned", len(deals)))
	return models.RecommendedDealsResponse{UserID: userID, Profile: profile, Deals: deals}, nil
}

// RecommendedEvents ranks active event listings for a user.
func (s *Service) RecommendedEvents(ctx context.Context, userID string, limit int) ([]models.RecommendedEvent, error) {
	if !s.flags.IsEnabled(features.FeatureMediaRecommendations) {
		return nil, ErrFeatureDisabled
	}
	profile, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	listings, err := s.db.ActiveEventListings(ctx, now)
	if err != nil {
		return nil, err
	}
	return recommend.ScoreEventsForUser(profile, listings, limit, now), nil
}

// RecommendedProducts ranks active product deals for a user.
func (s *Service) RecommendedProducts(ctx context.Context, userID string, limit int) ([]models.RecommendedProduct, error) {
	if !s.flags.IsEnabled(features.FeatureMediaRecommendations) {
		return nil, ErrFeatureDisabled
	}
	profile, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	products, err := s.db.ActiveProducts(ctx, now)
	if err != nil {
		return nil, err
	}
	return recommend.ScoreProductsForUser(profile, products, limit, now), nil
}

// HealthStatus is the response of the health endpoint.
type HealthStatus struct {
	Status    string                `json:"status"`
	Database  string                `json:"database"`
	Queue     *events.Stats         `json:"queue,omitempty"`
	Schedules []scheduler.EntryInfo `json:"schedules"`
	Features  map[string]bool       `json:"features"`
}

// Health reports store connectivity, queue counters and active schedules.
func (s *Service) Health(ctx context.Context) HealthStatus {
	h := HealthStatus{Status: "ok", Database: "ok", Features: map[string]bool{}}
	if err := s.db.Ping(ctx); err != nil {
		h.Status = "degraded"
		h.Database = err.Error()
	}
	if s.queue != nil {
		stats := s.queue.Stats()
		h.Queue = &stats
	}
	if s.scheduler != nil {
		h.Schedules = s.scheduler.Entries()
	}
	for name, f := range s.flags.GetAll() {
		h.Features[name] = f.Enabled
	}
	return h
}
