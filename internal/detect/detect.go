// Package detect implements the event detectors. Every detector is a pure
// function over a Snapshot captured from the history store BEFORE the current
// sample is ingested; this ordering is load-bearing, since thresholds must be
// computed against prior state and never against the sample itself.
package detect

import (
	"time"

	"pricewatch/internal/domain"
)

// Defaults for detector thresholds.
const (
	DefaultIgnoreHours     = 24.0
	DefaultMinRestockHours = 3.0
	DefaultNoDataHours     = 6.0
	crawlFailureWindow     = 24.0 // hours without a successful sample, and de-dup
)

// Threshold gates an event on the size of a price drop. Rate is a percentage
// of the baseline; Value is an absolute amount in the base currency (the
// observed drop is scaled by the store's currency rate before comparison).
// Either clause firing is sufficient; an unconfigured threshold always fires.
type Threshold struct {
	Rate  *float64
	Value *float64
}

// Configured reports whether any gating clause is set.
func (t Threshold) Configured() bool { return t.Rate != nil || t.Value != nil }

// Met reports whether the drop from baseline to current satisfies the
// threshold. currencyRate scales the absolute drop into the base currency;
// the percent clause is scale-invariant and never multiplied.
func (t Threshold) Met(baseline, current int64, currencyRate float64) bool {
	drop := baseline - current
	if drop <= 0 {
		return false
	}
	if !t.Configured() {
		return true
	}
	if t.Rate != nil && float64(drop)/float64(baseline)*100 >= *t.Rate {
		return true
	}
	if t.Value != nil && float64(drop)*currencyRate >= *t.Value {
		return true
	}
	return false
}

// Window is one price_drop comparison window. Windows are evaluated in
// ascending Days order and the first match wins.
type Window struct {
	Days int
	Threshold
}

// Config carries the detector thresholds resolved for one item (the currency
// rate depends on the item's store).
type Config struct {
	IgnoreHours     float64
	MinRestockHours float64
	NoDataHours     float64
	Lowest          Threshold
	DropWindows     []Window
	CurrencyRate    float64
}

// DefaultConfig returns a Config with spec defaults and no threshold gating.
func DefaultConfig() Config {
	return Config{
		IgnoreHours:     DefaultIgnoreHours,
		MinRestockHours: DefaultMinRestockHours,
		NoDataHours:     DefaultNoDataHours,
		CurrencyRate:    1.0,
	}
}

// Snapshot is the read-only pre-ingest view of an item's history that the
// detectors consume.
type Snapshot struct {
	// Prior is the latest stored sample, nil for a first observation.
	Prior *domain.Sample

	// AllTimeLow is the minimum price over successful samples with a non-null
	// price, excluding the current observation.
	AllTimeLow *int64

	// WindowLows maps a drop window's Days to the minimum price within that
	// trailing window, same filter as AllTimeLow.
	WindowLows map[int]*int64

	// OutOfStockHours is the length of the current contiguous out-of-stock
	// run over successful samples, nil if not currently out of stock.
	OutOfStockHours *float64

	// NoDataHours is the length of the current contiguous run without usable
	// data, nil if the latest sample has data.
	NoDataHours *float64

	// HasRecentSuccess is true when any successful sample exists in the last
	// 24 hours.
	HasRecentSuccess bool

	// LastLowestEvent is the most recent lowest_price event, nil if none. Its
	// price is the anti-spam baseline for new-low detection.
	LastLowestEvent *domain.Event

	// LastEventAt records the CreatedAt of the most recent event per type,
	// for de-dup windows.
	LastEventAt map[domain.EventType]time.Time
}

// Current is the observation under evaluation.
type Current struct {
	Price  *int64
	Stock  domain.Stock
	Status domain.CrawlStatus
}

// Result is a detected transition. ShouldNotify is false when an event of the
// same type already exists inside the de-dup window; callers skip those
// silently.
type Result struct {
	Type          domain.EventType
	ShouldNotify  bool
	Price         *int64
	OldPrice      *int64
	ThresholdDays *int
}

// duplicateWithin reports whether an event of type t was recorded within the
// trailing ignore window before now.
func (s Snapshot) duplicateWithin(t domain.EventType, hours float64, now time.Time) bool {
	at, ok := s.LastEventAt[t]
	if !ok {
		return false
	}
	return now.Sub(at) < time.Duration(hours*float64(time.Hour))
}

// Evaluate runs the detectors appropriate for the current observation, in
// order: back_in_stock, lowest_price, price_drop for successful crawls;
// crawl_failure and data_retrieval_failure for failed or empty ones. The
// grouping mirrors the mutually exclusive preconditions of the detectors.
func Evaluate(snap Snapshot, cur Current, cfg Config, now time.Time) []Result {
	var results []Result

	add := func(r *Result) {
		if r != nil {
			results = append(results, *r)
		}
	}

	if cur.Status == domain.CrawlOK {
		add(BackInStock(snap, cur, cfg, now))
		if cur.Stock == domain.StockIn && cur.Price != nil {
			add(LowestPrice(snap, cur, cfg, now))
			add(PriceDrop(snap, cur, cfg, now))
		}
		// A crawl that "succeeded" without price or stock means the page
		// structure likely changed; that feeds the no-data detector.
		if cur.Stock == domain.StockUnknown && cur.Price == nil {
			add(DataRetrievalFailure(snap, cfg))
		}
		return results
	}

	add(CrawlFailure(snap, now))
	add(DataRetrievalFailure(snap, cfg))
	return results
}

// BackInStock fires when the item transitions from a sustained out-of-stock
// run to in-stock. An unknown prior stock state suppresses the transition; a
// run shorter than MinRestockHours is treated as a flicker.
func BackInStock(snap Snapshot, cur Current, cfg Config, now time.Time) *Result {
	if cur.Stock != domain.StockIn {
		return nil
	}
	if snap.Prior == nil || snap.Prior.Stock != domain.StockOut {
		return nil
	}
	if snap.OutOfStockHours == nil || *snap.OutOfStockHours < cfg.MinRestockHours {
		return nil
	}
	return &Result{
		Type:         domain.EventBackInStock,
		ShouldNotify: !snap.duplicateWithin(domain.EventBackInStock, cfg.IgnoreHours, now),
		Price:        cur.Price,
	}
}

// CrawlFailure fires when the last 24 hours contain zero successful samples:
// acquisition for this item is broken, not merely flaky.
func CrawlFailure(snap Snapshot, now time.Time) *Result {
	if snap.HasRecentSuccess {
		return nil
	}
	return &Result{
		Type:         domain.EventCrawlFailure,
		ShouldNotify: !snap.duplicateWithin(domain.EventCrawlFailure, crawlFailureWindow, now),
	}
}

// DataRetrievalFailure fires when the item has had no usable data for at
// least cfg.NoDataHours. De-dup for this type is handled at the notification
// gateway, so ShouldNotify is always true here.
func DataRetrievalFailure(snap Snapshot, cfg Config) *Result {
	if snap.NoDataHours == nil || *snap.NoDataHours < cfg.NoDataHours {
		return nil
	}
	return &Result{
		Type:         domain.EventDataRetrievalFailure,
		ShouldNotify: true,
	}
}

// LowestPrice fires when the current price is strictly below the all-time
// minimum. The threshold baseline is the price of the most recent prior
// lowest_price event when one exists, otherwise the all-time minimum; using
// the prior event prevents a cascade of small-step notifications as a price
// grinds down.
func LowestPrice(snap Snapshot, cur Current, cfg Config, now time.Time) *Result {
	if cur.Price == nil || snap.AllTimeLow == nil {
		return nil
	}
	if *cur.Price >= *snap.AllTimeLow {
		return nil
	}

	baseline := *snap.AllTimeLow
	if snap.LastLowestEvent != nil && snap.LastLowestEvent.Price != nil {
		baseline = *snap.LastLowestEvent.Price
	}
	if !cfg.Lowest.Met(baseline, *cur.Price, cfg.CurrencyRate) {
		return nil
	}

	old := baseline
	return &Result{
		Type:         domain.EventLowestPrice,
		ShouldNotify: !snap.duplicateWithin(domain.EventLowestPrice, cfg.IgnoreHours, now),
		Price:        cur.Price,
		OldPrice:     &old,
	}
}

// PriceDrop evaluates the configured windows in ascending Days order and
// returns the first window whose minimum the current price undercuts by the
// window's threshold. Short windows take precedence.
func PriceDrop(snap Snapshot, cur Current, cfg Config, now time.Time) *Result {
	if cur.Price == nil {
		return nil
	}
	for _, w := range cfg.DropWindows {
		low, ok := snap.WindowLows[w.Days]
		if !ok || low == nil {
			continue
		}
		if *cur.Price >= *low {
			continue
		}
		if !w.Met(*low, *cur.Price, cfg.CurrencyRate) {
			continue
		}
		days := w.Days
		old := *low
		return &Result{
			Type:          domain.EventPriceDrop,
			ShouldNotify:  !snap.duplicateWithin(domain.EventPriceDrop, cfg.IgnoreHours, now),
			Price:         cur.Price,
			OldPrice:      &old,
			ThresholdDays: &days,
		}
	}
	return nil
}
