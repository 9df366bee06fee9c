package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"pricewatch/internal/domain"
)

// exportBatch caps how many samples one export run reads from the store.
const exportBatch = 50000

// exportRow is the JSONL shape of one archived sample. The item key is
// denormalized in so the export is readable without the items table.
type exportRow struct {
	ItemKey string             `json:"item_key"`
	Store   string             `json:"store"`
	Price   *int64             `json:"price"`
	Stock   domain.Stock       `json:"stock"`
	Status  domain.CrawlStatus `json:"crawl_status"`
	Time    time.Time          `json:"time"`
}

// Exporter copies price history older than the retention window to object
// storage as day-partitioned JSONL. It never deletes from the primary store;
// re-running overwrites the same day objects idempotently.
type Exporter struct {
	writer        *objectWriter
	stores        domain.Stores
	prefix        string
	retentionDays int
	logger        *slog.Logger
}

// NewExporter creates an Exporter writing under the given key prefix.
func NewExporter(c *Client, stores domain.Stores, prefix string, retentionDays int, logger *slog.Logger) *Exporter {
	if prefix == "" {
		prefix = "history"
	}
	return &Exporter{
		writer:        newObjectWriter(c),
		stores:        stores,
		prefix:        prefix,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "export")),
	}
}

// Export runs one export pass: samples older than the retention cutoff are
// grouped by UTC day and uploaded as one JSONL object per day. Returns the
// number of rows exported.
func (e *Exporter) Export(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.UTC().Add(-time.Duration(e.retentionDays) * 24 * time.Hour)

	samples, err := e.stores.History.ListOlderThan(ctx, cutoff, exportBatch)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list export rows: %w", err)
	}
	if len(samples) == 0 {
		return 0, nil
	}

	items, err := e.stores.Items.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list items: %w", err)
	}
	byID := make(map[int64]domain.Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	days := make(map[string][]exportRow)
	for _, s := range samples {
		it, ok := byID[s.ItemID]
		if !ok {
			continue
		}
		day := s.Time.UTC().Format("2006/01/02")
		days[day] = append(days[day], exportRow{
			ItemKey: it.Key,
			Store:   it.Store,
			Price:   s.Price,
			Stock:   s.Stock,
			Status:  s.Status,
			Time:    s.Time.UTC(),
		})
	}

	total := 0
	for day, rows := range days {
		if err := e.putDay(ctx, day, rows); err != nil {
			return total, err
		}
		total += len(rows)
	}

	e.logger.InfoContext(ctx, "history export complete",
		slog.Time("cutoff", cutoff),
		slog.Int("days", len(days)),
		slog.Int("rows", total),
	)
	return total, nil
}

func (e *Exporter) putDay(ctx context.Context, day string, rows []exportRow) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("s3blob: encode export row: %w", err)
		}
	}

	path := fmt.Sprintf("%s/%s.jsonl", e.prefix, day)
	return e.writer.putObject(ctx, path, &buf)
}

// Run executes Export on the given interval until the context is cancelled.
// A failed pass is logged and retried on the next tick.
func (e *Exporter) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.InfoContext(ctx, "exporter started",
		slog.Duration("interval", interval),
		slog.Int("retention_days", e.retentionDays),
	)

	for {
		select {
		case <-ctx.Done():
			e.logger.InfoContext(ctx, "exporter stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.Export(ctx, time.Now()); err != nil {
				e.logger.ErrorContext(ctx, "export pass failed", slog.String("error", err.Error()))
			}
		}
	}
}
