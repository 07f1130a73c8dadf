package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pravinl23/DealyDigests-sub001/internal/errs"
	"github.com/pravinl23/DealyDigests-sub001/internal/models"
)

// UpsertEventListing creates or replaces an event listing and returns its id.
func (db *DB) UpsertEventListing(ctx context.Context, ev models.EventListing) (string, error) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	genres, err := marshalList(ev.Genres)
	if err != nil {
		return "", err
	}
	_, err = db.conn.ExecContext(ctx, `INSERT INTO event_listings (
		id, name, genres, merchant, venue, starts_at, valid_to, listed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		genres = excluded.genres,
		merchant = excluded.merchant,
		venue = excluded.venue,
		starts_at = excluded.starts_at,
		valid_to = excluded.valid_to,
		listed_at = excluded.listed_at`,
		ev.ID, ev.Name, genres, ev.Merchant, ev.Venue,
		formatTime(ev.StartsAt), formatNullableTime(ev.ValidTo), formatTime(ev.ListedAt))
	if err != nil {
		return "", &errs.PersistenceError{Op: "upsert event listing", Err: err}
	}
	return ev.ID, nil
}

// ActiveEventListings returns listings whose validity window has not closed at now.
func (db *DB) ActiveEventListings(ctx context.Context, now time.Time) ([]models.EventListing, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, name, genres, merchant, venue, starts_at, valid_to, listed_at
		FROM event_listings
		WHERE valid_to IS NULL OR valid_to >= ?
		ORDER BY id ASC`, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("failed to query event listings: %w", err)
	}
	defer rows.Close()

	events := []models.EventListing{}
	for rows.Next() {
		var (
			ev                         models.EventListing
			genres, startsAt, listedAt string
			validTo                    sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.Name, &genres, &ev.Merchant, &ev.Venue, &startsAt, &validTo, &listedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event listing: %w", err)
		}
		if ev.Genres, err = unmarshalStrings(genres); err != nil {
			return nil, err
		}
		if ev.StartsAt, err = parseTime(startsAt); err != nil {
			return nil, err
		}
		if ev.ValidTo, err = parseNullableTime(validTo); err != nil {
			return nil, err
		}
		if ev.ListedAt, err = parseTime(listedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// UpsertProduct creates or replaces a product deal and returns its id.
func (db *DB) UpsertProduct(ctx context.Context, p models.Product) (string, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	categories, err := marshalList(p.Categories)
	if err != nil {
		return "", err
	}
	_, err = db.conn.ExecContext(ctx, `INSERT INTO products (
		id, name, retailer, categories, price, valid_to, listed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		retailer = excluded.retailer,
		categories = excluded.categories,
		price = excluded.price,
		valid_to = excluded.valid_to,
		listed_at = excluded.listed_at`,
		p.ID, p.Name, p.Retailer, categories, p.Price, formatNullableTime(p.ValidTo), formatTime(p.ListedAt))
	if err != nil {
		return "", &errs.PersistenceError{Op: "upsert product", Err: err}
	}
	return p.ID, nil
}

// ActiveProducts returns products whose validity window has not closed at now.
func (db *DB) ActiveProducts(ctx context.Context, now time.Time) ([]models.Product, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, name, retailer, categories, price, valid_to, listed_at
		FROM products
		WHERE valid_to IS NULL OR valid_to >= ?
		ORDER BY id ASC`, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		var (
			p                    models.Product
			categories, listedAt string
			validTo              sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Retailer, &categories, &p.Price, &validTo, &listedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		if p.Categories, err = unmarshalStrings(categories); err != nil {
			return nil, err
		}
		if p.ValidTo, err = parseNullableTime(validTo); err != nil {
			return nil, err
		}
		if p.ListedAt, err = parseTime(listedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}
