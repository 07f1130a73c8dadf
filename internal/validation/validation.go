package validation

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/pravinl23/DealyDigests-sub001/internal/models"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
	// MaxPage keeps (page-1)*limit within a 32-bit offset.
	MaxPage = math.MaxInt32 / MaxLimit
)

var (
	uuidRegex       = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[1-7][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	externalIDRegex = regexp.MustCompile(`^[A-Za-z0-9_.@:\-]{1,128}$`)
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ValidateOffer checks an offer before it is written to the catalog.
func ValidateOffer(offer models.Offer) error {
	if strings.TrimSpace(offer.CardName) == "" {
		return &ValidationError{Field: "card_name", Message: "is required"}
	}
	if len(offer.CardName) > 200 {
		return &ValidationError{Field: "card_name", Message: "cannot exceed 200 characters"}
	}
	if strings.TrimSpace(offer.Issuer) == "" {
		return &ValidationError{Field: "issuer", Message: "is required"}
	}
	if offer.RewardsRate < 0 || offer.RewardsRate > 100 {
		return &ValidationError{Field: "rewards_rate", Message: "must be between 0 and 100"}
	}
	if offer.AnnualFee < 0 {
		return &ValidationError{Field: "annual_fee", Message: "must be non-negative"}
	}
	for i, c := range offer.RewardCategories {
		if !c.Valid() {
			return &ValidationError{
				Field:   fmt.Sprintf("reward_categories[%d]", i),
				Message: fmt.Sprintf("unknown category %q", c),
			}
		}
	}
	if len(offer.MerchantCompatibility) > 200 {
		return &ValidationError{Field: "merchant_compatibility", Message: "cannot contain more than 200 merchants"}
	}
	if offer.Source == "" {
		return &ValidationError{Field: "source", Message: "is required"}
	}
	if offer.ScrapedAt.IsZero() {
		return &ValidationError{Field: "scraped_at", Message: "is required"}
	}
	return nil
}

func ValidateTransaction(txn models.Transaction) error {
	if strings.TrimSpace(txn.ID) == "" {
		return &ValidationError{Field: "id", Message: "is required"}
	}

	if err := ValidateUserID(txn.UserID); err != nil {
		return err
	}

	if txn.Date.IsZero() {
		return &ValidationError{Field: "date", Message: "is required"}
	}

	maxFutureTime := time.Now().Add(1 * time.Hour)
	if txn.Date.After(maxFutureTime) {
		return &ValidationError{Field: "date", Message: "cannot be more than 1 hour in the future"}
	}

	maxPastTime := time.Now().AddDate(-10, 0, 0)
	if txn.Date.Before(maxPastTime) {
		return &ValidationError{Field: "date", Message: "cannot be more than 10 years in the past"}
	}

	if txn.Amount.IsNegative() {
		return &ValidationError{Field: "amount", Message: "must be non-negative"}
	}

	return nil
}

func ValidateMediaHistory(item models.MediaHistory) error {
	if err := ValidateUserID(item.UserID); err != nil {
		return err
	}
	if strings.TrimSpace(item.Title) == "" {
		return &ValidationError{Field: "title", Message: "is required"}
	}
	if len(item.Genres) == 0 {
		return &ValidationError{Field: "genres", Message: "at least one genre is required"}
	}
	if item.WatchedAt.IsZero() {
		return &ValidationError{Field: "watched_at", Message: "is required"}
	}
	return nil
}

func ValidateEventListing(ev models.EventListing) error {
	if strings.TrimSpace(ev.Name) == "" {
		return &ValidationError{Field: "name", Message: "is required"}
	}
	if len(ev.Genres) == 0 {
		return &ValidationError{Field: "genres", Message: "at least one genre is required"}
	}
	if ev.StartsAt.IsZero() {
		return &ValidationError{Field: "starts_at", Message: "is required"}
	}
	if ev.ValidTo != nil && ev.ValidTo.Before(ev.ListedAt) {
		return &ValidationError{Field: "valid_to", Message: "must be after listed_at"}
	}
	return nil
}

func ValidateProduct(p models.Product) error {
	if strings.TrimSpace(p.Name) == "" {
		return &ValidationError{Field: "name", Message: "is required"}
	}
	if strings.TrimSpace(p.Retailer) == "" {
		return &ValidationError{Field: "retailer", Message: "is required"}
	}
	if p.ValidTo != nil && p.ValidTo.Before(p.ListedAt) {
		return &ValidationError{Field: "valid_to", Message: "must be after listed_at"}
	}
	return nil
}

func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

func ValidateUUID(id, fieldName string) error {
	if id == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}

	id = SanitizeString(id)

	if !uuidRegex.MatchString(strings.ToLower(id)) {
		return &ValidationError{
			Field:   fieldName,
			Message: "must be a valid UUID",
		}
	}

	return nil
}

// ValidateUserID accepts aggregator external user ids as well as UUIDs.
func ValidateUserID(userID string) error {
	if userID == "" {
		return &ValidationError{Field: "user_id", Message: "is required"}
	}
	if !externalIDRegex.MatchString(userID) {
		return &ValidationError{Field: "user_id", Message: "contains invalid characters"}
	}
	return nil
}

// ParseLimit parses an optional limit query value.
func ParseLimit(raw string) (int, error) {
	if raw == "" {
		return DefaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, &ValidationError{Field: "limit", Message: "must be a positive integer"}
	}
	if n > MaxLimit {
		return 0, &ValidationError{Field: "limit", Message: fmt.Sprintf("cannot exceed %d", MaxLimit)}
	}
	return n, nil
}

// ParsePage parses an optional 1-based page query value.
func ParsePage(raw string) (int, error) {
	if raw == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, &ValidationError{Field: "page", Message: "must be a positive integer"}
	}
	if n > MaxPage {
		return 0, &ValidationError{Field: "page", Message: fmt.Sprintf("cannot exceed %d", MaxPage)}
	}
	return n, nil
}
