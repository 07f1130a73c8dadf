package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pravinl23/DealyDigests-sub001/internal/errs"
	"github.com/pravinl23/DealyDigests-sub001/internal/models"
)

// timeLayout is fixed-width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// DB wraps the database connection and provides methods for data access.
type DB struct {
	conn *sql.DB
}

// execer is satisfied by both *sql.DB and *sql.Conn.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewDB creates a new database connection and initializes the schema.
func NewDB(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=1&_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// initSchema creates the necessary tables if they don't exist.
func (db *DB) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS offers (
			id TEXT PRIMARY KEY,
			card_key TEXT NOT NULL UNIQUE,
			issuer_key TEXT NOT NULL,
			card_name TEXT NOT NULL,
			issuer TEXT NOT NULL,
			rewards_rate REAL NOT NULL DEFAULT 0,
			annual_fee REAL NOT NULL DEFAULT 0,
			signup_bonus TEXT NOT NULL DEFAULT '',
			reward_categories TEXT NOT NULL DEFAULT '[]',
			merchant_compatibility TEXT NOT NULL DEFAULT '[]',
			merchant_keys TEXT NOT NULL DEFAULT '[]',
			source TEXT NOT NULL,
			source_url TEXT NOT NULL DEFAULT '',
			valid_to TEXT,
			scraped_at TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			bank_connection_id TEXT NOT NULL DEFAULT '',
			date TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			amount TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			merchant TEXT NOT NULL DEFAULT '',
			raw_data TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS webhook_events (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			merchant_id TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			raw_payload TEXT NOT NULL,
			signature TEXT NOT NULL,
			verified INTEGER NOT NULL,
			dedup_key TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			timestamp TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS media_history (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			genres TEXT NOT NULL,
			watched_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS event_listings (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			genres TEXT NOT NULL,
			merchant TEXT NOT NULL DEFAULT '',
			venue TEXT NOT NULL DEFAULT '',
			starts_at TEXT NOT NULL,
			valid_to TEXT,
			listed_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			retailer TEXT NOT NULL,
			categories TEXT NOT NULL,
			price TEXT NOT NULL DEFAULT '',
			valid_to TEXT,
			listed_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_offers_issuer_key ON offers(issuer_key)`,
		`CREATE INDEX IF NOT EXISTS idx_offers_scraped_at ON offers(scraped_at)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_user_date ON transactions(user_id, date)`,
		`CREATE INDEX IF NOT EXISTS idx_webhook_events_status ON webhook_events(status, verified)`,
		`CREATE INDEX IF NOT EXISTS idx_media_history_user ON media_history(user_id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return db.migrateOffers()
}

// migrateOffers brings rows written by older builds up to the current
// key format: it adds merchant_keys if missing and recomputes card_key
// and merchant_keys from the stored names.
func (db *DB) migrateOffers() error {
	var hasKeys int
	if err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info('offers') WHERE name = 'merchant_keys'`,
	).Scan(&hasKeys); err != nil {
		return fmt.Errorf("failed to inspect offers table: %w", err)
	}
	if hasKeys == 0 {
		if _, err := db.conn.Exec(`ALTER TABLE offers ADD COLUMN merchant_keys TEXT NOT NULL DEFAULT '[]'`); err != nil {
			return fmt.Errorf("failed to add merchant_keys: %w", err)
		}
	}

	rows, err := db.conn.Query(`SELECT id, card_key, card_name, issuer, merchant_compatibility, merchant_keys FROM offers`)
	if err != nil {
		return fmt.Errorf("failed to read offers for migration: %w", err)
	}
	type rekey struct{ id, cardKey, merchantKeys string }
	var stale []rekey
	for rows.Next() {
		var id, cardKey, cardName, issuer, merchantsJSON, keysJSON string
		if err := rows.Scan(&id, &cardKey, &cardName, &issuer, &merchantsJSON, &keysJSON); err != nil {
			rows.Close()
			return err
		}
		merchants, err := unmarshalStrings(merchantsJSON)
		if err != nil {
			rows.Close()
			return err
		}
		wantKeys, err := marshalList(merchantKeys(merchants))
		if err != nil {
			rows.Close()
			return err
		}
		wantCard := models.OfferKey(cardName, issuer)
		if wantCard != cardKey || wantKeys != keysJSON {
			stale = append(stale, rekey{id: id, cardKey: wantCard, merchantKeys: wantKeys})
		}
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range stale {
		if _, err := db.conn.Exec(
			`UPDATE offers SET card_key = ?, merchant_keys = ? WHERE id = ?`,
			r.cardKey, r.merchantKeys, r.id,
		); err != nil {
			return fmt.Errorf("failed to migrate offer %s: %w", r.id, err)
		}
	}
	return nil
}

// merchantKeys normalizes and dedupes merchant names for filtering.
func merchantKeys(merchants []string) []string {
	seen := make(map[string]struct{}, len(merchants))
	keys := make([]string, 0, len(merchants))
	for _, m := range merchants {
		k := models.NormalizeKey(m)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

// Session is a store connection dedicated to one scrape run.
type Session struct {
	conn *sql.Conn
	once sync.Once
	err  error
}

// Acquire checks out a dedicated connection. Callers must Release it.
func (db *DB) Acquire(ctx context.Context) (*Session, error) {
	conn, err := db.conn.Conn(ctx)
	if err != nil {
		return nil, &errs.PersistenceError{Op: "acquire connection", Err: err}
	}
	return &Session{conn: conn}, nil
}

// UpsertOffer writes an offer through the session's connection.
func (s *Session) UpsertOffer(ctx context.Context, offer models.Offer) (string, bool, error) {
	return upsertOffer(ctx, s.conn, offer)
}

// Release returns the connection to the pool. Safe to call more than once.
func (s *Session) Release() error {
	s.once.Do(func() {
		s.err = s.conn.Close()
	})
	return s.err
}

// UpsertOffer creates or updates an offer keyed by normalized (card name, issuer).
// It returns the stored id and whether a new row was created.
func (db *DB) UpsertOffer(ctx context.Context, offer models.Offer) (string, bool, error) {
	return upsertOffer(ctx, db.conn, offer)
}

func upsertOffer(ctx context.Context, ex execer, offer models.Offer) (string, bool, error) {
	if offer.ID == "" {
		offer.ID = uuid.New().String()
	}
	now := time.Now().UTC()

	categoriesJSON, err := marshalList(offer.RewardCategories)
	if err != nil {
		return "", false, err
	}
	merchantsJSON, err := marshalList(offer.MerchantCompatibility)
	if err != nil {
		return "", false, err
	}
	keysJSON, err := marshalList(merchantKeys(offer.MerchantCompatibility))
	if err != nil {
		return "", false, err
	}

	query := `INSERT INTO offers (
		id, card_key, issuer_key, card_name, issuer, rewards_rate, annual_fee,
		signup_bonus, reward_categories, merchant_compatibility, merchant_keys,
		source, source_url, valid_to, scraped_at, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(card_key) DO UPDATE SET
		card_name = excluded.card_name,
		issuer = excluded.issuer,
		rewards_rate = excluded.rewards_rate,
		annual_fee = excluded.annual_fee,
		signup_bonus = excluded.signup_bonus,
		reward_categories = excluded.reward_categories,
		merchant_compatibility = excluded.merchant_compatibility,
		merchant_keys = excluded.merchant_keys,
		source = excluded.source,
		source_url = excluded.source_url,
		valid_to = excluded.valid_to,
		scraped_at = excluded.scraped_at,
		updated_at = excluded.updated_at
	RETURNING id`

	var storedID string
	err = ex.QueryRowContext(ctx, query,
		offer.ID,
		models.OfferKey(offer.CardName, offer.Issuer),
		models.NormalizeKey(offer.Issuer),
		strings.TrimSpace(offer.CardName),
		strings.TrimSpace(offer.Issuer),
		offer.RewardsRate,
		offer.AnnualFee,
		offer.SignupBonus,
		categoriesJSON,
		merchantsJSON,
		keysJSON,
		offer.Source,
		offer.SourceURL,
		formatNullableTime(offer.ValidTo),
		formatTime(offer.ScrapedAt),
		formatTime(now),
		formatTime(now),
	).Scan(&storedID)
	if err != nil {
		return "", false, &errs.PersistenceError{Op: "upsert offer", Err: err}
	}

	return storedID, storedID == offer.ID, nil
}

var offerColumns = []string{
	"id", "card_name", "issuer", "rewards_rate", "annual_fee", "signup_bonus",
	"reward_categories", "merchant_compatibility", "source", "source_url",
	"valid_to", "scraped_at", "created_at", "updated_at",
}

// GetOffer returns a single offer by id.
func (db *DB) GetOffer(ctx context.Context, id string) (models.Offer, error) {
	query, args, err := sq.Select(offerColumns...).From("offers").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return models.Offer{}, err
	}
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return models.Offer{}, fmt.Errorf("failed to query offer: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return models.Offer{}, err
		}
		return models.Offer{}, errs.NotFound("offer", id)
	}
	return scanOffer(rows)
}

// OfferFilter narrows a catalog listing. Zero values mean "any".
type OfferFilter struct {
	Issuer   string
	Category models.RewardCategory
	Merchant string
	Page     int
	Limit    int
}

// ListOffers returns one page of offers matching the filter and the total match count.
func (db *DB) ListOffers(ctx context.Context, f OfferFilter) ([]models.Offer, int, error) {
	var conds []sq.Sqlizer
	if f.Issuer != "" {
		conds = append(conds, sq.Eq{"issuer_key": models.NormalizeKey(f.Issuer)})
	}
	if f.Category != "" {
		conds = append(conds, sq.Expr(
			"EXISTS (SELECT 1 FROM json_each(offers.reward_categories) WHERE json_each.value = ?)",
			string(f.Category)))
	}
	if f.Merchant != "" {
		conds = append(conds, sq.Expr(
			"EXISTS (SELECT 1 FROM json_each(offers.merchant_keys) WHERE json_each.value = ?)",
			models.NormalizeKey(f.Merchant)))
	}

	countQ := sq.Select("COUNT(*)").From("offers")
	listQ := sq.Select(offerColumns...).From("offers").
		OrderBy("scraped_at DESC", "id ASC").
		Limit(uint64(f.Limit)).
		Offset(uint64((f.Page - 1) * f.Limit))
	for _, c := range conds {
		countQ = countQ.Where(c)
		listQ = listQ.Where(c)
	}

	countSQL, countArgs, err := countQ.ToSql()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := db.conn.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count offers: %w", err)
	}

	listSQL, listArgs, err := listQ.ToSql()
	if err != nil {
		return nil, 0, err
	}
	offers, err := db.queryOffers(ctx, listSQL, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	return offers, total, nil
}

// AllOffers returns the full catalog ordered by id.
func (db *DB) AllOffers(ctx context.Context) ([]models.Offer, error) {
	query, args, err := sq.Select(offerColumns...).From("offers").OrderBy("id ASC").ToSql()
	if err != nil {
		return nil, err
	}
	return db.queryOffers(ctx, query, args...)
}

func (db *DB) queryOffers(ctx context.Context, query string, args ...any) ([]models.Offer, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query offers: %w", err)
	}
	defer rows.Close()

	offers := []models.Offer{}
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, offer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating offers: %w", err)
	}
	return offers, nil
}

func scanOffer(rows *sql.Rows) (models.Offer, error) {
	var (
		offer                           models.Offer
		categoriesJSON, merchantsJSON   string
		validTo                         sql.NullString
		scrapedAt, createdAt, updatedAt string
	)
	err := rows.Scan(
		&offer.ID,
		&offer.CardName,
		&offer.Issuer,
		&offer.RewardsRate,
		&offer.AnnualFee,
		&offer.SignupBonus,
		&categoriesJSON,
		&merchantsJSON,
		&offer.Source,
		&offer.SourceURL,
		&validTo,
		&scrapedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return models.Offer{}, fmt.Errorf("failed to scan offer: %w", err)
	}

	offer.RewardCategories = []models.RewardCategory{}
	if err := json.Unmarshal([]byte(categoriesJSON), &offer.RewardCategories); err != nil {
		return models.Offer{}, fmt.Errorf("failed to decode reward_categories: %w", err)
	}
	offer.MerchantCompatibility = []string{}
	if err := json.Unmarshal([]byte(merchantsJSON), &offer.MerchantCompatibility); err != nil {
		return models.Offer{}, fmt.Errorf("failed to decode merchant_compatibility: %w", err)
	}
	if offer.ValidTo, err = parseNullableTime(validTo); err != nil {
		return models.Offer{}, err
	}
	if offer.ScrapedAt, err = parseTime(scrapedAt); err != nil {
		return models.Offer{}, err
	}
	if offer.CreatedAt, err = parseTime(createdAt); err != nil {
		return models.Offer{}, err
	}
	if offer.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return models.Offer{}, err
	}
	return offer, nil
}

func marshalList[T any](items []T) (string, error) {
	if len(items) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("failed to encode list: %w", err)
	}
	return string(data), nil
}

func unmarshalStrings(serialized string) ([]string, error) {
	out := []string{}
	if serialized == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(serialized), &out); err != nil {
		return nil, fmt.Errorf("failed to decode list: %w", err)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
