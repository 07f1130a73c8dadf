package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pravinl23/DealyDigests-sub001/internal/errs"
	"github.com/pravinl23/DealyDigests-sub001/internal/models"
)

// InsertTransactions inserts transactions in a single database transaction.
// Rows whose id already exists are skipped, so redelivered batches never
// duplicate. It returns the number of newly inserted rows.
func (db *DB) InsertTransactions(ctx context.Context, transactions []models.Transaction) (int, error) {
	if len(transactions) == 0 {
		return 0, nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, &errs.PersistenceError{Op: "begin transaction", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO transactions (
		id, user_id, bank_connection_id, date, description, amount,
		category, merchant, raw_data, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := formatTime(time.Now())
	inserted := 0
	for _, txn := range transactions {
		res, err := stmt.ExecContext(ctx,
			txn.ID,
			txn.UserID,
			txn.BankConnectionID,
			formatTime(txn.Date),
			txn.Description,
			txn.Amount.String(),
			txn.Category,
			txn.Merchant,
			txn.RawData,
			now,
		)
		if err != nil {
			return 0, &errs.PersistenceError{Op: "insert transaction " + txn.ID, Err: err}
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, &errs.PersistenceError{Op: "commit transactions", Err: err}
	}

	return inserted, nil
}

// TransactionsForUser returns a user's transactions ordered by date.
func (db *DB) TransactionsForUser(ctx context.Context, userID string) ([]models.Transaction, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, user_id, bank_connection_id, date,
		description, amount, category, merchant, raw_data, created_at
		FROM transactions WHERE user_id = ? ORDER BY date ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	txns := []models.Transaction{}
	for rows.Next() {
		var (
			txn                     models.Transaction
			date, amount, createdAt string
		)
		if err := rows.Scan(&txn.ID, &txn.UserID, &txn.BankConnectionID, &date,
			&txn.Description, &amount, &txn.Category, &txn.Merchant, &txn.RawData, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if txn.Date, err = parseTime(date); err != nil {
			return nil, err
		}
		if txn.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if txn.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("failed to parse amount %q: %w", amount, err)
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return txns, nil
}

// InsertMediaHistory stores media history items, assigning ids where missing.
func (db *DB) InsertMediaHistory(ctx context.Context, items []models.MediaHistory) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, &errs.PersistenceError{Op: "begin transaction", Err: err}
	}
	defer tx.Rollback()

	inserted := 0
	for _, item := range items {
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		genres, err := marshalList(item.Genres)
		if err != nil {
			return 0, err
		}
		res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO media_history (
			id, user_id, title, genres, watched_at
		) VALUES (?, ?, ?, ?, ?)`, item.ID, item.UserID, item.Title, genres, formatTime(item.WatchedAt))
		if err != nil {
			return 0, &errs.PersistenceError{Op: "insert media history", Err: err}
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, &errs.PersistenceError{Op: "commit media history", Err: err}
	}
	return inserted, nil
}

// MediaHistoryForUser returns a user's media history ordered by watch time.
func (db *DB) MediaHistoryForUser(ctx context.Context, userID string) ([]models.MediaHistory, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, user_id, title, genres, watched_at
		FROM media_history WHERE user_id = ? ORDER BY watched_at ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query media history: %w", err)
	}
	defer rows.Close()

	items := []models.MediaHistory{}
	for rows.Next() {
		var item models.MediaHistory
		var genres, watchedAt string
		if err := rows.Scan(&item.ID, &item.UserID, &item.Title, &genres, &watchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan media history: %w", err)
		}
		if item.Genres, err = unmarshalStrings(genres); err != nil {
			return nil, err
		}
		if item.WatchedAt, err = parseTime(watchedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating media history: %w", err)
	}
	return items, nil
}
