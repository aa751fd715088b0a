package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-stay-rates/models"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const listingRatesSchema = `
	CREATE TABLE IF NOT EXISTS listing_rates (
		listing_id      TEXT PRIMARY KEY,
		discovery_id    TEXT        NOT NULL,
		min_nights      INTEGER,
		max_nights      INTEGER,
		available_days  INTEGER     NOT NULL DEFAULT 0,
		booked_days     INTEGER     NOT NULL DEFAULT 0,
		price_nightly   NUMERIC(12,2),
		price_cleaning  NUMERIC(12,2),
		discount_weekly  DOUBLE PRECISION,
		discount_monthly DOUBLE PRECISION,
		pricing         JSONB       NOT NULL,
		scraped_at      TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_listing_rates_scraped_at ON listing_rates (scraped_at);
`

const upsertListingRates = `
	INSERT INTO listing_rates (
		listing_id, discovery_id, min_nights, max_nights, available_days, booked_days,
		price_nightly, price_cleaning, discount_weekly, discount_monthly, pricing, scraped_at
	) VALUES (
		:listing_id, :discovery_id, :min_nights, :max_nights, :available_days, :booked_days,
		:price_nightly, :price_cleaning, :discount_weekly, :discount_monthly, :pricing, :scraped_at
	)
	ON CONFLICT (listing_id) DO UPDATE SET
		discovery_id = EXCLUDED.discovery_id,
		min_nights = EXCLUDED.min_nights,
		max_nights = EXCLUDED.max_nights,
		available_days = EXCLUDED.available_days,
		booked_days = EXCLUDED.booked_days,
		price_nightly = EXCLUDED.price_nightly,
		price_cleaning = EXCLUDED.price_cleaning,
		discount_weekly = EXCLUDED.discount_weekly,
		discount_monthly = EXCLUDED.discount_monthly,
		pricing = EXCLUDED.pricing,
		scraped_at = EXCLUDED.scraped_at
`

type listingRatesRow struct {
	ListingID       string          `db:"listing_id"`
	DiscoveryID     string          `db:"discovery_id"`
	MinNights       sql.NullInt64   `db:"min_nights"`
	MaxNights       sql.NullInt64   `db:"max_nights"`
	AvailableDays   int             `db:"available_days"`
	BookedDays      int             `db:"booked_days"`
	PriceNightly    sql.NullFloat64 `db:"price_nightly"`
	PriceCleaning   sql.NullFloat64 `db:"price_cleaning"`
	DiscountWeekly  sql.NullFloat64 `db:"discount_weekly"`
	DiscountMonthly sql.NullFloat64 `db:"discount_monthly"`
	Pricing         string          `db:"pricing"`
	ScrapedAt       time.Time       `db:"scraped_at"`
}

func toRow(r *models.ListingRates) (listingRatesRow, error) {
	pricing, err := json.Marshal(r.Pricing)
	if err != nil {
		return listingRatesRow{}, fmt.Errorf("encode pricing for %s: %w", r.ListingID, err)
	}

	row := listingRatesRow{
		ListingID:     r.ListingID,
		DiscoveryID:   r.DiscoveryID,
		MinNights:     nullNights(r.Constraints.MinNights),
		MaxNights:     nullNights(r.Constraints.MaxNights),
		AvailableDays: r.AvailableDays,
		BookedDays:    r.BookedDays,
		Pricing:       string(pricing),
		ScrapedAt:     r.ScrapedAt,
	}
	if s := r.Pricing.Summary; s != nil {
		row.PriceNightly = sql.NullFloat64{Float64: s.PriceNightly, Valid: true}
		row.PriceCleaning = sql.NullFloat64{Float64: s.PriceCleaning, Valid: true}
		row.DiscountWeekly = nullFloat(s.DiscountWeekly)
		row.DiscountMonthly = nullFloat(s.DiscountMonthly)
	}
	return row, nil
}

func nullNights(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n > 0}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// PostgresWriter upserts records into the listing_rates table, one
// transaction per batch. A later discovery of a listing replaces the earlier
// row.
type PostgresWriter struct {
	db      *sqlx.DB
	timeout time.Duration
	count   atomic.Int64
}

// NewPostgresWriter connects to dsn and ensures the schema exists.
func NewPostgresWriter(ctx context.Context, dsn string) (*PostgresWriter, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(ctx, listingRatesSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create listing_rates table: %w", err)
	}
	slog.Info("postgres output ready", slog.String("table", "listing_rates"))

	return &PostgresWriter{db: db, timeout: 30 * time.Second}, nil
}

func (w *PostgresWriter) Write(records []*models.ListingRates) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([]listingRatesRow, 0, len(records))
	for _, r := range records {
		row, err := toRow(r)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, upsertListingRates)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row); err != nil {
			return fmt.Errorf("upsert listing %s: %w", row.ListingID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	w.count.Add(int64(len(rows)))
	slog.Debug("upserted listing rates", slog.Int("rows", len(rows)))
	return nil
}

func (w *PostgresWriter) Close() error {
	return w.db.Close()
}

// Validate ensures at least one row was written during this run.
func (w *PostgresWriter) Validate() error {
	if w.count.Load() == 0 {
		return fmt.Errorf("no rows written to listing_rates")
	}
	return nil
}
