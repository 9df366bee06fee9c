// Package ingest implements the sample-ingest pipeline: each acquisition
// result is turned into an item upsert, a pre-ingest history snapshot, a
// detector pass, an hourly-merged sample write, and the hand-off of
// notifiable results to the gateway. The snapshot is always captured before
// the write so thresholds never see the sample being ingested.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pricewatch/internal/detect"
	"pricewatch/internal/domain"
)

// Dispatcher hands a notifiable detection result to the notification gateway.
type Dispatcher interface {
	Dispatch(ctx context.Context, res detect.Result, item domain.Item) (domain.Event, error)
}

// Options configures an Ingestor. Detect carries the base thresholds; the
// per-item currency rate is resolved through CurrencyRate at ingest time.
type Options struct {
	Detect       detect.Config
	CurrencyRate func(label string) float64
	PointRate    func(store string) float64
	Clock        func() time.Time
}

// Ingestor merges acquisition results into the history store and emits
// events.
type Ingestor struct {
	stores     domain.Stores
	dispatcher Dispatcher
	cache      domain.SummaryCache // optional
	opts       Options
	logger     *slog.Logger
}

// New creates an Ingestor. cache may be nil.
func New(stores domain.Stores, dispatcher Dispatcher, cache domain.SummaryCache, opts Options, logger *slog.Logger) *Ingestor {
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.CurrencyRate == nil {
		opts.CurrencyRate = func(string) float64 { return 1.0 }
	}
	if opts.PointRate == nil {
		opts.PointRate = func(string) float64 { return 0 }
	}
	return &Ingestor{
		stores:     stores,
		dispatcher: dispatcher,
		cache:      cache,
		opts:       opts,
		logger:     logger.With(slog.String("component", "ingest")),
	}
}

// Ingest processes one acquisition result end to end. The snapshot capture
// (step 2) completes before the sample write (step 4); detectors therefore
// compute against history without the current sample.
func (ing *Ingestor) Ingest(ctx context.Context, ci domain.CheckedItem) error {
	if err := ci.Validate(); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	now := ing.opts.Clock()

	item, err := ing.stores.Items.Upsert(ctx, ci.ItemInput())
	if err != nil {
		return fmt.Errorf("ingest: upsert item: %w", err)
	}

	cfg := ing.opts.Detect
	cfg.CurrencyRate = ing.opts.CurrencyRate(ci.PriceUnit)

	snap, err := ing.snapshot(ctx, item.ID, cfg, now)
	if err != nil {
		return fmt.Errorf("ingest: snapshot %s: %w", item.Key, err)
	}

	cur := detect.Current{Price: ci.Price, Stock: ci.Stock, Status: ci.Status}
	results := detect.Evaluate(snap, cur, cfg, now)

	if err := ing.stores.History.InsertSample(ctx, item.ID, ci.SampleInput(), now); err != nil {
		return fmt.Errorf("ingest: insert sample %s: %w", item.Key, err)
	}

	for _, res := range results {
		if !res.ShouldNotify {
			ing.logger.DebugContext(ctx, "event suppressed by de-dup window",
				slog.String("item_key", item.Key),
				slog.String("type", string(res.Type)),
			)
			continue
		}
		if _, err := ing.dispatcher.Dispatch(ctx, res, item); err != nil {
			return fmt.Errorf("ingest: dispatch %s %s: %w", item.Key, res.Type, err)
		}
	}

	ing.updateCache(ctx, item, ci, now)
	return nil
}

// snapshot captures the pre-ingest view the detectors need: latest sample,
// all-time and per-window lows, stock/no-data run lengths, recent-success
// flag, and event recency per type.
func (ing *Ingestor) snapshot(ctx context.Context, itemID int64, cfg detect.Config, now time.Time) (detect.Snapshot, error) {
	var snap detect.Snapshot
	h := ing.stores.History

	prior, err := h.Latest(ctx, itemID)
	if err != nil {
		return snap, fmt.Errorf("latest: %w", err)
	}
	snap.Prior = prior

	snap.AllTimeLow, err = h.LowestInPeriod(ctx, itemID, nil, now)
	if err != nil {
		return snap, fmt.Errorf("all-time low: %w", err)
	}

	snap.WindowLows = make(map[int]*int64, len(cfg.DropWindows))
	for _, w := range cfg.DropWindows {
		days := w.Days
		low, err := h.LowestInPeriod(ctx, itemID, &days, now)
		if err != nil {
			return snap, fmt.Errorf("%d-day low: %w", days, err)
		}
		snap.WindowLows[days] = low
	}

	snap.OutOfStockHours, err = h.OutOfStockHours(ctx, itemID, now)
	if err != nil {
		return snap, fmt.Errorf("out-of-stock run: %w", err)
	}

	snap.NoDataHours, err = h.NoDataHours(ctx, itemID, now)
	if err != nil {
		return snap, fmt.Errorf("no-data run: %w", err)
	}

	snap.HasRecentSuccess, err = h.HasSuccessfulCrawl(ctx, itemID, 24, now)
	if err != nil {
		return snap, fmt.Errorf("recent success: %w", err)
	}

	snap.LastEventAt = make(map[domain.EventType]time.Time)
	for _, t := range []domain.EventType{
		domain.EventBackInStock,
		domain.EventCrawlFailure,
		domain.EventLowestPrice,
		domain.EventPriceDrop,
	} {
		last, err := ing.stores.Events.LastOfType(ctx, itemID, t)
		if err != nil {
			return snap, fmt.Errorf("last %s event: %w", t, err)
		}
		if last == nil {
			continue
		}
		snap.LastEventAt[t] = last.CreatedAt
		if t == domain.EventLowestPrice {
			snap.LastLowestEvent = last
		}
	}

	return snap, nil
}

// updateCache writes the item summary through to the cache. Best effort; a
// cache failure never fails the ingest.
func (ing *Ingestor) updateCache(ctx context.Context, item domain.Item, ci domain.CheckedItem, now time.Time) {
	if ing.cache == nil {
		return
	}

	sum := domain.ItemSummary{
		Key:       item.Key,
		Name:      item.Name,
		Store:     item.Store,
		URL:       item.URL,
		Price:     ci.Price,
		Stock:     ci.Stock,
		Status:    ci.Status,
		UpdatedAt: now,
	}
	if ci.Price != nil {
		eff := domain.EffectivePrice(*ci.Price, ing.opts.PointRate(item.Store))
		sum.EffectivePrice = &eff
	}

	if err := ing.cache.SetSummary(ctx, sum); err != nil {
		ing.logger.WarnContext(ctx, "summary cache update failed",
			slog.String("item_key", item.Key),
			slog.String("error", err.Error()),
		)
	}
}
