package domain

import (
	"context"
	"time"
)

// ItemSummary is the cached read-model of an item's latest observation,
// served by the read API without touching the history store. EffectivePrice
// carries the per-store point rebate already applied.
type ItemSummary struct {
	Key            string      `json:"key"`
	Name           string      `json:"name"`
	Store          string      `json:"store"`
	URL            string      `json:"url,omitempty"`
	Price          *int64      `json:"price"`
	EffectivePrice *int64      `json:"effective_price"`
	Stock          Stock       `json:"stock"`
	Status         CrawlStatus `json:"crawl_status"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// SummaryCache caches item summaries, written through on every ingest.
type SummaryCache interface {
	SetSummary(ctx context.Context, s ItemSummary) error
	// GetSummary returns ErrNotFound when the key is absent or expired.
	GetSummary(ctx context.Context, key string) (ItemSummary, error)
}
