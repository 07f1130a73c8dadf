package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pravinl23/DealyDigests-sub001/internal/errs"
)

func TestSyncAll_FollowsCursor(t *testing.T) {
	var cursors []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transactions/sync", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "client", user)
		assert.Equal(t, "secret", pass)

		var req SyncRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "19", req.MerchantID)
		assert.Equal(t, "user-1", req.ExternalUserID)
		assert.Equal(t, 50, req.Limit)
		cursors = append(cursors, req.Cursor)

		if req.Cursor == "" {
			w.Write([]byte(`{"merchant":{"id":19,"name":"Amazon"},"next_cursor":"p2","transactions":[
				{"id":"t1","datetime":"2026-10-01T10:00:00Z","description":"Books","amount":"25.10","category":"Shopping"}
			]}`))
			return
		}
		w.Write([]byte(`{"merchant":{"id":19,"name":"Amazon"},"next_cursor":"","transactions":[
			{"id":"t2","datetime":"2026-10-02T10:00:00Z","description":"Groceries","amount":80,"category":"groceries","merchant_name":"Whole Foods"}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "client", "secret", 5*time.Second, 50)
	txns, err := c.SyncAll(context.Background(), "19", "user-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"", "p2"}, cursors)
	require.Len(t, txns, 2)
	assert.Equal(t, "t1", txns[0].ID)
	assert.Equal(t, "Amazon", txns[0].Merchant)
	assert.Equal(t, "shopping", txns[0].Category)
	assert.True(t, txns[0].Amount.Equal(decimal.RequireFromString("25.10")))
	assert.Equal(t, "user-1", txns[0].UserID)
	assert.Equal(t, "Whole Foods", txns[1].Merchant)
	assert.NotEmpty(t, txns[1].RawData)
}

func TestSyncTransactions_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "c", "s", time.Second, 0).SyncTransactions(context.Background(), SyncRequest{MerchantID: "1"})
	var upstream *errs.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Contains(t, err.Error(), "401")
}

func TestToTransactions_RejectsMissingID(t *testing.T) {
	resp := SyncResponse{Transactions: []json.RawMessage{json.RawMessage(`{"amount":"1.00"}`)}}
	_, err := ToTransactions(resp, "u")
	assert.Error(t, err)
}
