package domain

import "time"

// EventType identifies a semantically meaningful transition detected from the
// price history.
type EventType string

const (
	EventBackInStock          EventType = "back_in_stock"
	EventCrawlFailure         EventType = "crawl_failure"
	EventDataRetrievalFailure EventType = "data_retrieval_failure"
	EventLowestPrice          EventType = "lowest_price"
	EventPriceDrop            EventType = "price_drop"
)

// EventTypes lists all known event types.
var EventTypes = []EventType{
	EventBackInStock,
	EventCrawlFailure,
	EventDataRetrievalFailure,
	EventLowestPrice,
	EventPriceDrop,
}

// Rebuildable reports whether backfill can regenerate events of this type
// from price history alone. Stock and failure transitions depend on state the
// hourly history does not fully preserve.
func (t EventType) Rebuildable() bool {
	return t == EventLowestPrice || t == EventPriceDrop
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	for _, k := range EventTypes {
		if t == k {
			return true
		}
	}
	return false
}

// Event is one recorded transition. The event table is the system-of-record
// for what was detected, independent of delivery success: Notified is true
// only when the transport acknowledged the message.
type Event struct {
	ID            int64
	ItemID        int64
	Type          EventType
	Price         *int64
	OldPrice      *int64
	ThresholdDays *int   // price_drop only: the matched window
	URL           string // snapshot of the item URL at detection time
	Notified      bool
	CreatedAt     time.Time
}
