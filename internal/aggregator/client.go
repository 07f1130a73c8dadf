// Package aggregator is the client for the financial-data aggregator that
// delivers webhooks and merchant transaction data.
package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pravinl23/DealyDigests-sub001/internal/errs"
	"github.com/pravinl23/DealyDigests-sub001/internal/models"
)

const (
	sourceName = "aggregator"
	maxPages   = 100
)

// SyncRequest asks for one page of a user's transactions at a merchant.
type SyncRequest struct {
	MerchantID     string `json:"merchant_id"`
	ExternalUserID string `json:"external_user_id"`
	Cursor         string `json:"cursor,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

// SyncTransaction is a transaction as the aggregator reports it.
type SyncTransaction struct {
	ID               string          `json:"id"`
	Datetime         time.Time       `json:"datetime"`
	Description      string          `json:"description"`
	Amount           decimal.Decimal `json:"amount"`
	Category         string          `json:"category"`
	MerchantName     string          `json:"merchant_name"`
	BankConnectionID string          `json:"bank_connection_id"`
}

// SyncResponse is one page of transactions.
type SyncResponse struct {
	Merchant struct {
		ID   json.Number `json:"id"`
		Name string      `json:"name"`
	} `json:"merchant"`
	Transactions []json.RawMessage `json:"transactions"`
	NextCursor   string            `json:"next_cursor"`
}

// Client calls the aggregator API with basic auth.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	pageSize     int
	httpClient   *http.Client
}

func NewClient(baseURL, clientID, clientSecret string, timeout time.Duration, pageSize int) *Client {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		pageSize:     pageSize,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// SyncTransactions fetches one page. Transport failures and non-2xx responses
// are returned as *errs.UpstreamError.
func (c *Client) SyncTransactions(ctx context.Context, req SyncRequest) (SyncResponse, error) {
	if req.Limit == 0 {
		req.Limit = c.pageSize
	}
	body, err := json.Marshal(req)
	if err != nil {
		return SyncResponse{}, fmt.Errorf("failed to encode sync request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transactions/sync", bytes.NewReader(body))
	if err != nil {
		return SyncResponse{}, fmt.Errorf("failed to create sync request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.SetBasicAuth(c.clientID, c.clientSecret)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return SyncResponse{}, &errs.UpstreamError{Source: sourceName, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return SyncResponse{}, &errs.UpstreamError{
			Source: sourceName,
			Err:    fmt.Errorf("transactions/sync returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
		}
	}

	var out SyncResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return SyncResponse{}, &errs.UpstreamError{Source: sourceName, Err: fmt.Errorf("failed to decode sync response: %w", err)}
	}
	return out, nil
}

// SyncAll follows cursors until the aggregator reports no further page and
// returns the normalized transactions for userID.
func (c *Client) SyncAll(ctx context.Context, merchantID, userID string) ([]models.Transaction, error) {
	var (
		all    []models.Transaction
		cursor string
	)
	for page := 0; page < maxPages; page++ {
		resp, err := c.SyncTransactions(ctx, SyncRequest{
			MerchantID:     merchantID,
			ExternalUserID: userID,
			Cursor:         cursor,
		})
		if err != nil {
			return nil, err
		}
		txns, err := ToTransactions(resp, userID)
		if err != nil {
			return nil, err
		}
		all = append(all, txns...)

		if resp.NextCursor == "" || resp.NextCursor == cursor {
			return all, nil
		}
		cursor = resp.NextCursor
	}
	return nil, &errs.UpstreamError{Source: sourceName, Err: fmt.Errorf("sync exceeded %d pages", maxPages)}
}

// ToTransactions normalizes one sync page. The raw item is kept on each record.
func ToTransactions(resp SyncResponse, userID string) ([]models.Transaction, error) {
	out := make([]models.Transaction, 0, len(resp.Transactions))
	for _, raw := range resp.Transactions {
		var st SyncTransaction
		if err := json.Unmarshal(raw, &st); err != nil {
			return nil, &errs.UpstreamError{Source: sourceName, Err: fmt.Errorf("malformed transaction: %w", err)}
		}
		if st.ID == "" {
			return nil, &errs.UpstreamError{Source: sourceName, Err: fmt.Errorf("transaction without id")}
		}
		merchant := st.MerchantName
		if merchant == "" {
			merchant = resp.Merchant.Name
		}
		out = append(out, models.Transaction{
			ID:               st.ID,
			UserID:           userID,
			BankConnectionID: st.BankConnectionID,
			Date:             st.Datetime.UTC(),
			Description:      st.Description,
			Amount:           st.Amount,
			Category:         strings.ToLower(strings.TrimSpace(st.Category)),
			Merchant:         merchant,
			RawData:          string(raw),
		})
	}
	return out, nil
}
