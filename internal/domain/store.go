package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// ItemStore persists watched items.
type ItemStore interface {
	// Upsert creates the item on first observation of its key, or refreshes
	// display fields (name, thumbnail, URL) when they differ. UpdatedAt only
	// advances when something observable changed.
	Upsert(ctx context.Context, in ItemInput) (Item, error)
	GetByKey(ctx context.Context, key string) (Item, error)
	GetByID(ctx context.Context, id int64) (Item, error)
	List(ctx context.Context) ([]Item, error)
}

// HistoryStore persists hour-bucketed price samples. All writes pass through
// the MergeSample policy; callers never overwrite a bucket directly.
type HistoryStore interface {
	// InsertSample merges the observation into the (item, hour-bucket) slot
	// for now.
	InsertSample(ctx context.Context, itemID int64, in SampleInput, now time.Time) error

	// Latest returns the most recent sample by time, or nil.
	Latest(ctx context.Context, itemID int64) (*Sample, error)

	// LowestInPeriod returns the minimum price over successful samples with a
	// non-null price within the trailing window of days before now; days=nil
	// means all history. Returns nil when no qualifying sample exists.
	LowestInPeriod(ctx context.Context, itemID int64, days *int, now time.Time) (*int64, error)

	// OutOfStockHours walks successful samples newest to oldest and returns
	// the hours from the oldest contiguous out-of-stock row to now, or nil if
	// the current run is not out of stock.
	OutOfStockHours(ctx context.Context, itemID int64, now time.Time) (*float64, error)

	// NoDataHours walks samples newest to oldest and returns the hours from
	// the oldest contiguous row that is either a failed crawl or a successful
	// crawl with unknown stock, or nil if the latest row has data.
	NoDataHours(ctx context.Context, itemID int64, now time.Time) (*float64, error)

	// HasSuccessfulCrawl reports whether any successful sample exists within
	// the trailing window of hours before now.
	HasSuccessfulCrawl(ctx context.Context, itemID int64, hours float64, now time.Time) (bool, error)

	// ListAsc returns all samples for the item in ascending time order.
	ListAsc(ctx context.Context, itemID int64) ([]Sample, error)

	// ListDesc returns up to opts.Limit samples in descending time order.
	ListDesc(ctx context.Context, itemID int64, opts ListOpts) ([]Sample, error)

	// ListOlderThan returns samples across all items with Time before cutoff,
	// in ascending time order, for cold-storage export.
	ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]Sample, error)
}

// EventStore persists detected events.
type EventStore interface {
	Insert(ctx context.Context, e Event) (int64, error)
	MarkNotified(ctx context.Context, id int64) error

	// LastOfType returns the most recent event of the given type for the
	// item, or nil.
	LastOfType(ctx context.Context, itemID int64, t EventType) (*Event, error)

	// HasInWindow reports whether any event of the given type exists for the
	// item with CreatedAt in [from, to].
	HasInWindow(ctx context.Context, itemID int64, t EventType, from, to time.Time) (bool, error)

	// ListByItem returns the item's events in ascending CreatedAt order.
	ListByItem(ctx context.Context, itemID int64) ([]Event, error)

	// ListRecent returns the newest events across all items.
	ListRecent(ctx context.Context, opts ListOpts) ([]Event, error)

	// DeleteRebuildable removes all lowest_price and price_drop events for
	// all items and returns the number deleted. Used by full rebuild only.
	DeleteRebuildable(ctx context.Context) (int64, error)
}

// Stores bundles the three persistence interfaces a backend provides.
type Stores struct {
	Items   ItemStore
	History HistoryStore
	Events  EventStore
}
