package postgres

import (
	"context"
	"fmt"
)

// baseSchema creates the three tables and their indices when absent. Column
// shapes follow the data model: nullable price and stock, a crawl_status
// default of success, and the unique hour-bucket slot enforced in the
// database rather than trusted to callers.
const baseSchema = `
CREATE TABLE IF NOT EXISTS items (
	id             BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	item_key       TEXT NOT NULL,
	name           TEXT NOT NULL,
	store          TEXT NOT NULL,
	url            TEXT,
	thumb_url      TEXT,
	search_keyword TEXT,
	search_cond    TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS items_item_key_idx ON items (item_key);

CREATE TABLE IF NOT EXISTS price_history (
	id           BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	item_id      BIGINT NOT NULL REFERENCES items (id),
	price        BIGINT,
	stock        SMALLINT,
	crawl_status SMALLINT NOT NULL DEFAULT 1,
	"time"       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS price_history_item_time_idx ON price_history (item_id, "time");
CREATE UNIQUE INDEX IF NOT EXISTS price_history_bucket_idx
	ON price_history (item_id, date_trunc('hour', "time"));

CREATE TABLE IF NOT EXISTS events (
	id             BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	item_id        BIGINT NOT NULL REFERENCES items (id),
	event_type     TEXT NOT NULL,
	price          BIGINT,
	old_price      BIGINT,
	threshold_days INTEGER,
	url            TEXT,
	notified       BOOLEAN NOT NULL DEFAULT FALSE,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS events_item_type_created_idx
	ON events (item_id, event_type, created_at);
`

// Migrate brings the schema to the current shape. It is idempotent and safe
// to run on every startup: legacy layouts are detected by column
// introspection and upgraded in place before the base schema fills in
// anything still missing. A migration error is fatal to the caller; running
// against a half-upgraded schema is worse than not starting.
func (c *Client) Migrate(ctx context.Context) error {
	// Legacy upgrade (a): items.url_hash predates item_key.
	hasURLHash, err := c.columnExists(ctx, "items", "url_hash")
	if err != nil {
		return err
	}
	if hasURLHash {
		if _, err := c.pool.Exec(ctx, `ALTER TABLE items RENAME COLUMN url_hash TO item_key`); err != nil {
			return fmt.Errorf("postgres: rename url_hash: %w", err)
		}
	}

	// Legacy upgrades (b, c): columns added after the first schema version.
	for _, stmt := range []struct {
		table, column, ddl string
	}{
		{"items", "search_keyword", `ALTER TABLE items ADD COLUMN search_keyword TEXT`},
		{"items", "search_cond", `ALTER TABLE items ADD COLUMN search_cond TEXT`},
		{"price_history", "crawl_status", `ALTER TABLE price_history ADD COLUMN crawl_status SMALLINT NOT NULL DEFAULT 1`},
	} {
		exists, err := c.columnExists(ctx, stmt.table, stmt.column)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		// The table may not exist yet on a fresh database; the base schema
		// below creates it with the column included.
		tableExists, err := c.tableExists(ctx, stmt.table)
		if err != nil {
			return err
		}
		if !tableExists {
			continue
		}
		if _, err := c.pool.Exec(ctx, stmt.ddl); err != nil {
			return fmt.Errorf("postgres: add %s.%s: %w", stmt.table, stmt.column, err)
		}
	}

	// Legacy upgrade (d): price and stock were NOT NULL before failed and
	// partial crawls were recorded.
	for _, col := range []string{"price", "stock"} {
		notNull, err := c.columnNotNull(ctx, "price_history", col)
		if err != nil {
			return err
		}
		if !notNull {
			continue
		}
		ddl := fmt.Sprintf(`ALTER TABLE price_history ALTER COLUMN %s DROP NOT NULL`, col)
		if _, err := c.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("postgres: drop not-null on price_history.%s: %w", col, err)
		}
	}

	if _, err := c.pool.Exec(ctx, baseSchema); err != nil {
		return fmt.Errorf("postgres: apply base schema: %w", err)
	}
	return nil
}

func (c *Client) tableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := c.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = $1
		)`, table).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: introspect table %s: %w", table, err)
	}
	return exists, nil
}

func (c *Client) columnExists(ctx context.Context, table, column string) (bool, error) {
	var exists bool
	err := c.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2
		)`, table, column).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: introspect %s.%s: %w", table, column, err)
	}
	return exists, nil
}

func (c *Client) columnNotNull(ctx context.Context, table, column string) (bool, error) {
	var nullable string
	err := c.pool.QueryRow(ctx, `
		SELECT is_nullable FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2
	`, table, column).Scan(&nullable)
	if err != nil {
		// Absent column: nothing to relax.
		return false, nil
	}
	return nullable == "NO", nil
}
