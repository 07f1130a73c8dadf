package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Offer represents a scraped credit-card product with its reward terms.
type Offer struct {
	ID                    string           `json:"id"` // uuid
	CardName              string           `json:"card_name"`
	Issuer                string           `json:"issuer"`
	RewardsRate           float64          `json:"rewards_rate"` // top earn rate, percent or points multiplier
	AnnualFee             float64          `json:"annual_fee"`   // dollars
	SignupBonus           string           `json:"signup_bonus"`
	RewardCategories      []RewardCategory `json:"reward_categories"`
	MerchantCompatibility []string         `json:"merchant_compatibility"`
	Source                string           `json:"source"`
	SourceURL             string           `json:"source_url"`
	ValidTo               *time.Time       `json:"valid_to,omitempty"`
	ScrapedAt             time.Time        `json:"scraped_at"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
}

// Transaction is a normalized purchase record for a user. Immutable once stored.
type Transaction struct {
	ID               string          `json:"id"` // aggregator transaction id
	UserID           string          `json:"user_id"`
	BankConnectionID string          `json:"bank_connection_id"`
	Date             time.Time       `json:"date"`
	Description      string          `json:"description"`
	Amount           decimal.Decimal `json:"amount"`
	Category         string          `json:"category"`
	Merchant         string          `json:"merchant"`
	RawData          string          `json:"raw_data,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// WebhookStatus is the processing state of a stored webhook event.
type WebhookStatus string

const (
	WebhookStatusReceived   WebhookStatus = "received"
	WebhookStatusProcessing WebhookStatus = "processing"
	WebhookStatusProcessed  WebhookStatus = "processed"
	WebhookStatusFailed     WebhookStatus = "failed"
)

// WebhookEvent is a persisted inbound aggregator notification.
type WebhookEvent struct {
	ID         string        `json:"id"`
	EventType  string        `json:"event_type"`
	SessionID  string        `json:"session_id,omitempty"`
	MerchantID string        `json:"merchant_id,omitempty"`
	UserID     string        `json:"user_id"`
	Status     WebhookStatus `json:"status"`
	RawPayload string        `json:"raw_payload"`
	Signature  string        `json:"signature"`
	Verified   bool          `json:"verified"`
	DedupKey   string        `json:"dedup_key"`
	Error      string        `json:"error,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// MediaHistory is one watched/listened item used for genre preferences.
type MediaHistory struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Genres    []string  `json:"genres"`
	WatchedAt time.Time `json:"watched_at"`
}

// EventListing is a live event deal (concert, show, game).
type EventListing struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Genres   []string   `json:"genres"`
	Merchant string     `json:"merchant"` // ticket seller
	Venue    string     `json:"venue"`
	StartsAt time.Time  `json:"starts_at"`
	ValidTo  *time.Time `json:"valid_to,omitempty"`
	ListedAt time.Time  `json:"listed_at"`
}

// Product is a retail product deal.
type Product struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Retailer   string     `json:"retailer"`
	Categories []string   `json:"categories"`
	Price      string     `json:"price"`
	ValidTo    *time.Time `json:"valid_to,omitempty"`
	ListedAt   time.Time  `json:"listed_at"`
}

// Factor is one weighted contribution to a recommendation score.
type Factor struct {
	Name    string   `json:"name"`
	Score   float64  `json:"score"`
	Matches []string `json:"matches,omitempty"`
}

// Recommendation is an ephemeral ranked result.
type Recommendation struct {
	TargetID   string   `json:"target_id"`
	TargetType string   `json:"target_type"` // offer, event, product
	Score      float64  `json:"score"`
	Factors    []Factor `json:"factors"`
}

// UserProfile is derived on demand from transaction and media history.
type UserProfile struct {
	UserID         string   `json:"user_id"`
	TopCategories  []string `json:"top_categories"`
	TopMerchants   []string `json:"top_merchants"`
	FavoriteGenres []string `json:"favorite_genres"`
}

// RecommendedOffer pairs an offer with its recommendation score.
type RecommendedOffer struct {
	Offer   Offer    `json:"offer"`
	Score   float64  `json:"score"`
	Factors []Factor `json:"factors"`
}

// RecommendedDealsResponse is the response for GET /deals/recommended.
type RecommendedDealsResponse struct {
	UserID  string             `json:"user_id"`
	Profile UserProfile        `json:"profile"`
	Deals   []RecommendedOffer `json:"deals"`
}

// RecommendedEvent pairs an event listing with its score.
type RecommendedEvent struct {
	Event   EventListing `json:"event"`
	Score   float64      `json:"score"`
	Factors []Factor     `json:"factors"`
}

// RecommendedProduct pairs a product with its score.
type RecommendedProduct struct {
	Product Product  `json:"product"`
	Score   float64  `json:"score"`
	Factors []Factor `json:"factors"`
}

// OfferListResponse is the paginated catalog response.
type OfferListResponse struct {
	Offers []Offer `json:"offers"`
	Total  int     `json:"total"`
	Page   int     `json:"page"`
	Limit  int     `json:"limit"`
}

// ScrapeRunResponse is the response for POST /scrape/run.
type ScrapeRunResponse struct {
	Count int `json:"count"`
}

// WebhookAckResponse is the immediate acknowledgement of a webhook.
type WebhookAckResponse struct {
	ID     string        `json:"id"`
	Status WebhookStatus `json:"status"`
}

// CreateTransactionsRequest represents the request body for ingesting transactions.
type CreateTransactionsRequest struct {
	Transactions []Transaction `json:"transactions"`
}

// CreateTransactionsResponse represents the response for ingesting transactions.
type CreateTransactionsResponse struct {
	Inserted int `json:"inserted"`
}

// CreateMediaHistoryRequest is the body for POST /users/{user_id}/media-history.
type CreateMediaHistoryRequest struct {
	Items []MediaHistory `json:"items"`
}

// CreateEventListingsRequest is the body for POST /listings/events.
type CreateEventListingsRequest struct {
	Events []EventListing `json:"events"`
}

// CreateProductsRequest is the body for POST /listings/products.
type CreateProductsRequest struct {
	Products []Product `json:"products"`
}

// UpsertResponse lists the stored ids of upserted listings.
type UpsertResponse struct {
	IDs []string `json:"ids"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
