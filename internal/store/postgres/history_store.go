package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pricewatch/internal/domain"
)

// HistoryStore implements domain.HistoryStore using PostgreSQL. Every write
// runs the shared domain.MergeSample policy inside a transaction holding a
// row lock on the hour bucket, so concurrent refreshes for the same item
// cannot violate the one-row-per-bucket invariant.
type HistoryStore struct {
	pool *pgxpool.Pool
}

// NewHistoryStore creates a new HistoryStore backed by the given pool.
func NewHistoryStore(pool *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

const sampleCols = `id, item_id, price, stock, crawl_status, "time"`

// InsertSample merges the observation into the (item, hour-bucket) slot for
// now.
func (s *HistoryStore) InsertSample(ctx context.Context, itemID int64, in domain.SampleInput, now time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin sample tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT `+sampleCols+` FROM price_history
		WHERE item_id = $1 AND date_trunc('hour', "time") = date_trunc('hour', $2::timestamptz)
		FOR UPDATE`, itemID, now)

	existing, err := scanSample(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		merged := domain.MergeSample(nil, in, now)
		_, err = tx.Exec(ctx, `
			INSERT INTO price_history (item_id, price, stock, crawl_status, "time")
			VALUES ($1, $2, $3, $4, $5)`,
			itemID, merged.Price, stockToDB(merged.Stock), int16(merged.Status), merged.Time,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert sample: %w", err)
		}
	case err != nil:
		return fmt.Errorf("postgres: read bucket: %w", err)
	default:
		merged := domain.MergeSample(&existing, in, now)
		_, err = tx.Exec(ctx, `
			UPDATE price_history
			SET price = $2, stock = $3, crawl_status = $4, "time" = $5
			WHERE id = $1`,
			existing.ID, merged.Price, stockToDB(merged.Stock), int16(merged.Status), merged.Time,
		)
		if err != nil {
			return fmt.Errorf("postgres: merge sample: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit sample: %w", err)
	}
	return nil
}

// Latest returns the most recent sample, or nil.
func (s *HistoryStore) Latest(ctx context.Context, itemID int64) (*domain.Sample, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+sampleCols+` FROM price_history
		WHERE item_id = $1 ORDER BY "time" DESC LIMIT 1`, itemID)

	sm, err := scanSample(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: latest sample: %w", err)
	}
	return &sm, nil
}

// LowestInPeriod returns the minimum successful non-null price in the
// trailing window; days=nil means all history.
func (s *HistoryStore) LowestInPeriod(ctx context.Context, itemID int64, days *int, now time.Time) (*int64, error) {
	query := `
		SELECT MIN(price) FROM price_history
		WHERE item_id = $1 AND crawl_status = 1 AND price IS NOT NULL`
	args := []any{itemID}
	if days != nil {
		query += ` AND "time" >= $2`
		args = append(args, now.Add(-time.Duration(*days)*24*time.Hour))
	}

	var low *int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&low); err != nil {
		return nil, fmt.Errorf("postgres: lowest in period: %w", err)
	}
	return low, nil
}

// OutOfStockHours walks successful samples newest to oldest and returns the
// hours since the oldest contiguous out-of-stock row, nil if the current run
// is not out of stock.
func (s *HistoryStore) OutOfStockHours(ctx context.Context, itemID int64, now time.Time) (*float64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sampleCols+` FROM price_history
		WHERE item_id = $1 AND crawl_status = 1
		ORDER BY "time" DESC`, itemID)
	if err != nil {
		return nil, fmt.Errorf("postgres: out-of-stock run: %w", err)
	}
	defer rows.Close()

	var runStart *time.Time
	for rows.Next() {
		sm, err := scanSample(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan sample: %w", err)
		}
		if sm.Stock != domain.StockOut {
			break
		}
		t := sm.Time
		runStart = &t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: out-of-stock run: %w", err)
	}
	if runStart == nil {
		return nil, nil
	}
	h := now.Sub(*runStart).Hours()
	return &h, nil
}

// NoDataHours walks all samples newest to oldest and returns the hours since
// the oldest contiguous row without usable data.
func (s *HistoryStore) NoDataHours(ctx context.Context, itemID int64, now time.Time) (*float64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sampleCols+` FROM price_history
		WHERE item_id = $1 ORDER BY "time" DESC`, itemID)
	if err != nil {
		return nil, fmt.Errorf("postgres: no-data run: %w", err)
	}
	defer rows.Close()

	var runStart *time.Time
	for rows.Next() {
		sm, err := scanSample(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan sample: %w", err)
		}
		noData := sm.Status == domain.CrawlFailed ||
			(sm.Status == domain.CrawlOK && !sm.Stock.Known())
		if !noData {
			break
		}
		t := sm.Time
		runStart = &t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: no-data run: %w", err)
	}
	if runStart == nil {
		return nil, nil
	}
	h := now.Sub(*runStart).Hours()
	return &h, nil
}

// HasSuccessfulCrawl reports whether any successful sample exists in the
// trailing window of hours before now.
func (s *HistoryStore) HasSuccessfulCrawl(ctx context.Context, itemID int64, hours float64, now time.Time) (bool, error) {
	cutoff := now.Add(-time.Duration(hours * float64(time.Hour)))
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM price_history
			WHERE item_id = $1 AND crawl_status = 1 AND "time" >= $2
		)`, itemID, cutoff).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: recent success: %w", err)
	}
	return exists, nil
}

// ListAsc returns all samples for the item in ascending time order.
func (s *HistoryStore) ListAsc(ctx context.Context, itemID int64) ([]domain.Sample, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sampleCols+` FROM price_history
		WHERE item_id = $1 ORDER BY "time" ASC`, itemID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list samples: %w", err)
	}
	defer rows.Close()
	return collectSamples(rows)
}

// ListDesc returns up to opts.Limit samples in descending time order.
func (s *HistoryStore) ListDesc(ctx context.Context, itemID int64, opts domain.ListOpts) ([]domain.Sample, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+sampleCols+` FROM price_history
		WHERE item_id = $1 ORDER BY "time" DESC
		LIMIT $2 OFFSET $3`, itemID, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list samples desc: %w", err)
	}
	defer rows.Close()
	return collectSamples(rows)
}

// ListOlderThan returns samples across all items older than cutoff, ascending
// by time, for cold-storage export.
func (s *HistoryStore) ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]domain.Sample, error) {
	if limit <= 0 {
		limit = 10000
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+sampleCols+` FROM price_history
		WHERE "time" < $1 ORDER BY "time" ASC LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list old samples: %w", err)
	}
	defer rows.Close()
	return collectSamples(rows)
}

func collectSamples(rows pgx.Rows) ([]domain.Sample, error) {
	var out []domain.Sample
	for rows.Next() {
		sm, err := scanSample(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan sample: %w", err)
		}
		out = append(out, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: collect samples: %w", err)
	}
	return out, nil
}

func scanSample(row pgx.Row) (domain.Sample, error) {
	var sm domain.Sample
	var stock *int16
	var status int16
	if err := row.Scan(&sm.ID, &sm.ItemID, &sm.Price, &stock, &status, &sm.Time); err != nil {
		return domain.Sample{}, err
	}
	sm.Stock = stockFromDB(stock)
	sm.Status = domain.CrawlStatus(status)
	return sm, nil
}

// stockToDB maps the tri-valued stock state to its nullable column form.
func stockToDB(s domain.Stock) *int16 {
	if !s.Known() {
		return nil
	}
	v := int16(s)
	return &v
}

func stockFromDB(v *int16) domain.Stock {
	if v == nil {
		return domain.StockUnknown
	}
	return domain.Stock(*v)
}

// Compile-time interface check.
var _ domain.HistoryStore = (*HistoryStore)(nil)
