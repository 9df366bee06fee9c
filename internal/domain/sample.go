package domain

import "time"

// Stock is the tri-valued stock state of a sample. Unknown is persisted as
// NULL; adapters report it when the page did not reveal availability.
type Stock int8

const (
	StockOut     Stock = 0
	StockIn      Stock = 1
	StockUnknown Stock = -1
)

// Known reports whether the stock state carries information.
func (s Stock) Known() bool { return s == StockOut || s == StockIn }

// CrawlStatus records whether the acquisition that produced a sample
// succeeded.
type CrawlStatus int8

const (
	CrawlFailed CrawlStatus = 0
	CrawlOK     CrawlStatus = 1
)

// Sample is one hour-bucket observation of an item: at most one row exists
// per (item, hour). Price is nullable; stores frequently hide the price of
// out-of-stock items, and failed crawls carry no data at all.
type Sample struct {
	ID     int64
	ItemID int64
	Price  *int64
	Stock  Stock
	Status CrawlStatus
	Time   time.Time // last update to this bucket, not first observation
}

// SampleInput is a new observation before it is merged into the store.
type SampleInput struct {
	Price  *int64
	Stock  Stock
	Status CrawlStatus
}

// HourBucket truncates t to the hour slot a sample occupies.
func HourBucket(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// MergeSample applies the hourly-merge policy to a new observation arriving
// at now, given the existing row for the same bucket (nil if none). Both the
// Postgres and the in-memory store route every write through this function so
// raw-sample aggregates stay stable under noisy refresh intervals.
//
// The rules, in order:
//   - no existing row: take the new observation as-is
//   - new crawl failed: preserve whatever the bucket already holds, only the
//     timestamp advances (a transient failure must not erase a good reading)
//   - existing crawl failed, new succeeded: overwrite fully
//   - both succeeded, new in-stock against a priced bucket: keep the lower
//     price; a priceless in-stock reading keeps the bucket's known price
//   - both succeeded, new not in-stock: overwrite (latest stock state wins)
func MergeSample(existing *Sample, in SampleInput, now time.Time) Sample {
	if existing == nil {
		return Sample{Price: in.Price, Stock: in.Stock, Status: in.Status, Time: now}
	}

	out := *existing
	out.Time = now

	if in.Status == CrawlFailed {
		return out
	}

	if existing.Status == CrawlFailed {
		out.Price = in.Price
		out.Stock = in.Stock
		out.Status = in.Status
		return out
	}

	if in.Stock == StockIn && existing.Price != nil {
		if in.Price != nil && *in.Price < *existing.Price {
			out.Price = in.Price
		}
		out.Stock = in.Stock
		return out
	}

	out.Price = in.Price
	out.Stock = in.Stock
	out.Status = in.Status
	return out
}
