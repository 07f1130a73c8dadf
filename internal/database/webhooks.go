package database

import (
	"context"
	"fmt"
	"time"

	"github.com/pravinl23/DealyDigests-sub001/internal/errs"
	"github.com/pravinl23/DealyDigests-sub001/internal/models"
)

const webhookColumns = `id, event_type, session_id, merchant_id, user_id, status,
	raw_payload, signature, verified, dedup_key, error, timestamp`

// InsertWebhookEvent persists a received webhook event.
func (db *DB) InsertWebhookEvent(ctx context.Context, ev models.WebhookEvent) error {
	_, err := db.conn.ExecContext(ctx, `INSERT INTO webhook_events (`+webhookColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID,
		ev.EventType,
		ev.SessionID,
		ev.MerchantID,
		ev.UserID,
		string(ev.Status),
		ev.RawPayload,
		ev.Signature,
		ev.Verified,
		ev.DedupKey,
		ev.Error,
		formatTime(ev.Timestamp),
		formatTime(time.Now()),
	)
	if err != nil {
		return &errs.PersistenceError{Op: "insert webhook event", Err: err}
	}
	return nil
}

// GetWebhookEvent loads a webhook event by id.
func (db *DB) GetWebhookEvent(ctx context.Context, id string) (models.WebhookEvent, error) {
	var (
		ev                models.WebhookEvent
		status, timestamp string
	)
	err := db.conn.QueryRowContext(ctx, `SELECT `+webhookColumns+` FROM webhook_events WHERE id = ?`, id).Scan(
		&ev.ID,
		&ev.EventType,
		&ev.SessionID,
		&ev.MerchantID,
		&ev.UserID,
		&status,
		&ev.RawPayload,
		&ev.Signature,
		&ev.Verified,
		&ev.DedupKey,
		&ev.Error,
		&timestamp,
	)
	if isNoRows(err) {
		return models.WebhookEvent{}, errs.NotFound("webhook event", id)
	}
	if err != nil {
		return models.WebhookEvent{}, fmt.Errorf("failed to load webhook event: %w", err)
	}
	ev.Status = models.WebhookStatus(status)
	if ev.Timestamp, err = parseTime(timestamp); err != nil {
		return models.WebhookEvent{}, err
	}
	return ev, nil
}

// ClaimWebhookEvent atomically moves an event from received to processing.
// It reports false when another worker (or an earlier delivery) already claimed it.
func (db *DB) ClaimWebhookEvent(ctx context.Context, id string) (bool, error) {
	return db.transitionWebhookEvent(ctx, id, models.WebhookStatusReceived, models.WebhookStatusProcessing)
}

// ResetFailedWebhookEvent moves a failed event back to received for a caller-driven replay.
func (db *DB) ResetFailedWebhookEvent(ctx context.Context, id string) (bool, error) {
	return db.transitionWebhookEvent(ctx, id, models.WebhookStatusFailed, models.WebhookStatusReceived)
}

func (db *DB) transitionWebhookEvent(ctx context.Context, id string, from, to models.WebhookStatus) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `UPDATE webhook_events
		SET status = ?, error = '', updated_at = ?
		WHERE id = ? AND status = ?`,
		string(to), formatTime(time.Now()), id, string(from))
	if err != nil {
		return false, &errs.PersistenceError{Op: "transition webhook event", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetWebhookEventStatus records the final status of a processing attempt.
func (db *DB) SetWebhookEventStatus(ctx context.Context, id string, status models.WebhookStatus, errMsg string) error {
	res, err := db.conn.ExecContext(ctx, `UPDATE webhook_events
		SET status = ?, error = ?, updated_at = ?
		WHERE id = ?`,
		string(status), errMsg, formatTime(time.Now()), id)
	if err != nil {
		return &errs.PersistenceError{Op: "set webhook event status", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("webhook event", id)
	}
	return nil
}

// PendingWebhookEvents lists verified events still waiting in received, oldest first.
func (db *DB) PendingWebhookEvents(ctx context.Context, limit int) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id FROM webhook_events
		WHERE status = ? AND verified = 1
		ORDER BY timestamp ASC LIMIT ?`, string(models.WebhookStatusReceived), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending webhook events: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountWebhookEvents returns the number of stored webhook events.
func (db *DB) CountWebhookEvents(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM webhook_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count webhook events: %w", err)
	}
	return n, nil
}
