package webhook

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pravinl23/DealyDigests-sub001/internal/models"
	"github.com/pravinl23/DealyDigests-sub001/internal/validation"
)

// Event types sent by the aggregator.
const (
	EventAuthenticated        = "AUTHENTICATED"
	EventNewTransactions      = "NEW_TRANSACTIONS_AVAILABLE"
	EventUpdatedTransactions  = "UPDATED_TRANSACTIONS_AVAILABLE"
	EventMerchantStatus       = "MERCHANT_STATUS_UPDATE"
	EventAccountLoginRequired = "ACCOUNT_LOGIN_REQUIRED"
)

// Envelope holds the fields common to every aggregator event.
type Envelope struct {
	Event          string
	SessionID      string
	MerchantID     string
	ExternalUserID string
	Timestamp      string // as sent, used for dedup
}

// Meta returns the envelope.
func (e Envelope) Meta() Envelope { return e }

// Payload is one of the concrete event types below.
type Payload interface {
	Meta() Envelope
}

type AuthenticatedPayload struct {
	Envelope
}

type NewTransactionsPayload struct {
	Envelope
}

type UpdatedTransactionsPayload struct {
	Envelope
	UpdatedIDs []string
}

type MerchantStatusPayload struct {
	Envelope
	Status string
}

type AccountLoginRequiredPayload struct {
	Envelope
}

// UnknownPayload carries an event type this service does not act on.
type UnknownPayload struct {
	Envelope
	Type string
	Raw  json.RawMessage
}

type wirePayload struct {
	Event          string            `json:"event"`
	SessionID      models.FlexString `json:"session_id"`
	MerchantID     models.FlexString `json:"merchant_id"`
	ExternalUserID models.FlexString `json:"external_user_id"`
	Timestamp      models.FlexString `json:"timestamp"`
	Status         string            `json:"status"`
	Updated        []wireID          `json:"updated"`
	Data           struct {
		Merchant struct {
			ID models.FlexString `json:"id"`
		} `json:"merchant"`
	} `json:"data"`
}

type wireID struct {
	ID models.FlexString `json:"id"`
}

// ParsePayload decodes and validates a webhook body.
func ParsePayload(body []byte) (Payload, error) {
	var w wirePayload
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, &validation.ValidationError{Field: "body", Message: "must be a JSON object: " + err.Error()}
	}

	env := Envelope{
		Event:          strings.ToUpper(strings.TrimSpace(w.Event)),
		SessionID:      string(w.SessionID),
		MerchantID:     string(w.MerchantID),
		ExternalUserID: string(w.ExternalUserID),
		Timestamp:      string(w.Timestamp),
	}
	if env.MerchantID == "" {
		env.MerchantID = string(w.Data.Merchant.ID)
	}

	if env.Event == "" {
		return nil, &validation.ValidationError{Field: "event", Message: "is required"}
	}
	if env.ExternalUserID == "" {
		return nil, &validation.ValidationError{Field: "external_user_id", Message: "is required"}
	}
	if err := validation.ValidateUserID(env.ExternalUserID); err != nil {
		return nil, &validation.ValidationError{Field: "external_user_id", Message: "contains invalid characters"}
	}

	switch env.Event {
	case EventAuthenticated:
		return AuthenticatedPayload{Envelope: env}, nil
	case EventNewTransactions:
		if env.MerchantID == "" {
			return nil, &validation.ValidationError{Field: "merchant_id", Message: "is required for " + env.Event}
		}
		return NewTransactionsPayload{Envelope: env}, nil
	case EventUpdatedTransactions:
		if env.MerchantID == "" {
			return nil, &validation.ValidationError{Field: "merchant_id", Message: "is required for " + env.Event}
		}
		ids := make([]string, 0, len(w.Updated))
		for _, u := range w.Updated {
			if u.ID != "" {
				ids = append(ids, string(u.ID))
			}
		}
		return UpdatedTransactionsPayload{Envelope: env, UpdatedIDs: ids}, nil
	case EventMerchantStatus:
		return MerchantStatusPayload{Envelope: env, Status: w.Status}, nil
	case EventAccountLoginRequired:
		return AccountLoginRequiredPayload{Envelope: env}, nil
	default:
		return UnknownPayload{Envelope: env, Type: env.Event, Raw: json.RawMessage(body)}, nil
	}
}

// DedupKey identifies a delivery: event type, session (or merchant) and the
// payload timestamp. Without a timestamp the body digest stands in for it.
func DedupKey(p Payload, body []byte) string {
	env := p.Meta()
	scope := env.SessionID
	if scope == "" {
		scope = env.MerchantID
	}
	stamp := env.Timestamp
	if stamp == "" {
		stamp = "sha256:" + digest(body)
	}
	return env.Event + "|" + scope + "|" + stamp
}

// OccurredAt interprets the payload timestamp (RFC 3339, unix seconds or unix
// milliseconds), falling back to fallback.
func OccurredAt(p Payload, fallback time.Time) time.Time {
	ts := p.Meta().Timestamp
	if ts == "" {
		return fallback
	}
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		return t.UTC()
	}
	if n, err := strconv.ParseInt(ts, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC()
		}
		return time.Unix(n, 0).UTC()
	}
	return fallback
}
