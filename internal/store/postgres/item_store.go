package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pricewatch/internal/domain"
)

// ItemStore implements domain.ItemStore using PostgreSQL.
type ItemStore struct {
	pool *pgxpool.Pool
}

// NewItemStore creates a new ItemStore backed by the given connection pool.
func NewItemStore(pool *pgxpool.Pool) *ItemStore {
	return &ItemStore{pool: pool}
}

const itemCols = `id, item_key, name, store,
	COALESCE(url, ''), COALESCE(thumb_url, ''),
	COALESCE(search_keyword, ''), COALESCE(search_cond, ''),
	created_at, updated_at`

// Upsert creates the item on first sight of its derived key, or refreshes the
// display fields when they changed. updated_at only advances on an observable
// change so it stays meaningful as a "last seen different" marker.
func (s *ItemStore) Upsert(ctx context.Context, in domain.ItemInput) (domain.Item, error) {
	const query = `
		INSERT INTO items (item_key, name, store, url, thumb_url, search_keyword, search_cond)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''))
		ON CONFLICT (item_key) DO UPDATE SET
			name      = COALESCE(NULLIF(EXCLUDED.name, ''), items.name),
			url       = COALESCE(EXCLUDED.url, items.url),
			thumb_url = COALESCE(EXCLUDED.thumb_url, items.thumb_url),
			updated_at = CASE
				WHEN items.name IS DISTINCT FROM COALESCE(NULLIF(EXCLUDED.name, ''), items.name)
					OR items.thumb_url IS DISTINCT FROM COALESCE(EXCLUDED.thumb_url, items.thumb_url)
				THEN NOW()
				ELSE items.updated_at
			END
		RETURNING ` + itemCols

	row := s.pool.QueryRow(ctx, query,
		in.Key(), in.Name, in.Store, in.URL, in.ThumbURL, in.SearchKeyword, in.SearchCond,
	)
	it, err := scanItem(row)
	if err != nil {
		return domain.Item{}, fmt.Errorf("postgres: upsert item %s: %w", in.Key(), err)
	}
	return it, nil
}

// GetByKey retrieves an item by its external key.
func (s *ItemStore) GetByKey(ctx context.Context, key string) (domain.Item, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+itemCols+` FROM items WHERE item_key = $1`, key)
	it, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Item{}, domain.ErrNotFound
		}
		return domain.Item{}, fmt.Errorf("postgres: get item %s: %w", key, err)
	}
	return it, nil
}

// GetByID retrieves an item by its internal id.
func (s *ItemStore) GetByID(ctx context.Context, id int64) (domain.Item, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+itemCols+` FROM items WHERE id = $1`, id)
	it, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Item{}, domain.ErrNotFound
		}
		return domain.Item{}, fmt.Errorf("postgres: get item %d: %w", id, err)
	}
	return it, nil
}

// List returns all items ordered by store and name.
func (s *ItemStore) List(ctx context.Context) ([]domain.Item, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+itemCols+` FROM items ORDER BY store, name`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list items: %w", err)
	}
	defer rows.Close()

	var out []domain.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan item: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list items: %w", err)
	}
	return out, nil
}

func scanItem(row pgx.Row) (domain.Item, error) {
	var it domain.Item
	err := row.Scan(
		&it.ID, &it.Key, &it.Name, &it.Store,
		&it.URL, &it.ThumbURL,
		&it.SearchKeyword, &it.SearchCond,
		&it.CreatedAt, &it.UpdatedAt,
	)
	return it, err
}

// Compile-time interface check.
var _ domain.ItemStore = (*ItemStore)(nil)
