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

// EventStore implements domain.EventStore using PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const eventCols = `id, item_id, event_type, price, old_price, threshold_days,
	COALESCE(url, ''), notified, created_at`

// Insert persists the event and returns its id. A zero CreatedAt takes the
// database clock; backfill passes historical timestamps explicitly.
func (s *EventStore) Insert(ctx context.Context, e domain.Event) (int64, error) {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO events (item_id, event_type, price, old_price, threshold_days, url, notified, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
		RETURNING id`,
		e.ItemID, string(e.Type), e.Price, e.OldPrice, e.ThresholdDays, e.URL, e.Notified, createdAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert %s event: %w", e.Type, err)
	}
	return id, nil
}

// MarkNotified flags the event as delivered.
func (s *EventStore) MarkNotified(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE events SET notified = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: mark event %d notified: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// LastOfType returns the most recent event of the given type for the item, or
// nil.
func (s *EventStore) LastOfType(ctx context.Context, itemID int64, t domain.EventType) (*domain.Event, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+eventCols+` FROM events
		WHERE item_id = $1 AND event_type = $2
		ORDER BY created_at DESC LIMIT 1`, itemID, string(t))

	ev, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: last %s event: %w", t, err)
	}
	return &ev, nil
}

// HasInWindow reports whether any event of the given type exists for the item
// with created_at in [from, to].
func (s *EventStore) HasInWindow(ctx context.Context, itemID int64, t domain.EventType, from, to time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM events
			WHERE item_id = $1 AND event_type = $2 AND created_at BETWEEN $3 AND $4
		)`, itemID, string(t), from, to).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: event window check: %w", err)
	}
	return exists, nil
}

// ListByItem returns the item's events in ascending created_at order.
func (s *EventStore) ListByItem(ctx context.Context, itemID int64) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventCols+` FROM events
		WHERE item_id = $1 ORDER BY created_at ASC`, itemID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list item events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ListRecent returns the newest events across all items.
func (s *EventStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventCols+` FROM events
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// DeleteRebuildable removes all lowest_price and price_drop events and returns
// the number deleted.
func (s *EventStore) DeleteRebuildable(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM events
		WHERE event_type IN ($1, $2)`,
		string(domain.EventLowestPrice), string(domain.EventPriceDrop),
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete rebuildable events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectEvents(rows pgx.Rows) ([]domain.Event, error) {
	var out []domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: collect events: %w", err)
	}
	return out, nil
}

func scanEvent(row pgx.Row) (domain.Event, error) {
	var ev domain.Event
	var typ string
	err := row.Scan(
		&ev.ID, &ev.ItemID, &typ, &ev.Price, &ev.OldPrice, &ev.ThresholdDays,
		&ev.URL, &ev.Notified, &ev.CreatedAt,
	)
	if err != nil {
		return domain.Event{}, err
	}
	ev.Type = domain.EventType(typ)
	return ev, nil
}

// Stores bundles the three Postgres-backed stores over one pool.
func (c *Client) Stores() domain.Stores {
	return domain.Stores{
		Items:   NewItemStore(c.pool),
		History: NewHistoryStore(c.pool),
		Events:  NewEventStore(c.pool),
	}
}

// Compile-time interface check.
var _ domain.EventStore = (*EventStore)(nil)
