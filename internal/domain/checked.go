package domain

import "fmt"

// CheckedItem is the normalized acquisition result an adapter hands to the
// ingest pipeline. URL may be empty for search-based storefronts; PriceUnit
// is the store's currency label and selects the configured currency rate for
// value-threshold comparisons.
type CheckedItem struct {
	Name          string
	Store         string
	URL           string
	Price         *int64
	Stock         Stock
	Status        CrawlStatus
	PriceUnit     string
	ThumbURL      string
	SearchKeyword string
	SearchCond    string
}

// Validate enforces the adapter contract: a failed crawl carries no price and
// no stock state.
func (c CheckedItem) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("checked item: missing name: %w", ErrInvalidSample)
	}
	if c.Store == "" {
		return fmt.Errorf("checked item: missing store: %w", ErrInvalidSample)
	}
	if c.Status == CrawlFailed && (c.Price != nil || c.Stock.Known()) {
		return fmt.Errorf("checked item %q: failed crawl must not carry price or stock: %w", c.Name, ErrInvalidSample)
	}
	return nil
}

// ItemInput projects the item-identity fields of the acquisition result.
func (c CheckedItem) ItemInput() ItemInput {
	return ItemInput{
		Name:          c.Name,
		Store:         c.Store,
		URL:           c.URL,
		ThumbURL:      c.ThumbURL,
		SearchKeyword: c.SearchKeyword,
		SearchCond:    c.SearchCond,
	}
}

// SampleInput projects the observation fields of the acquisition result.
func (c CheckedItem) SampleInput() SampleInput {
	return SampleInput{Price: c.Price, Stock: c.Stock, Status: c.Status}
}
