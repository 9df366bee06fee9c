// Package backfill re-derives price events by replaying stored history
// through the detection rules. Only lowest_price and price_drop are
// rebuildable; stock and failure transitions depend on state the hourly
// history does not preserve. Replay de-dup uses a window centered on the
// sample's timestamp, deliberately different from the live detector's
// trailing window.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pricewatch/internal/detect"
	"pricewatch/internal/domain"
)

// Options configures a Runner. Detect carries the thresholds shared with the
// live path; StoreCurrencyRate resolves the currency multiplier for an item's
// store (items do not persist a currency label, the store config does).
type Options struct {
	Detect            detect.Config
	StoreCurrencyRate func(store string) float64
}

// Runner executes supplementary backfill and full rebuild.
type Runner struct {
	stores domain.Stores
	opts   Options
	logger *slog.Logger
}

// New creates a Runner.
func New(stores domain.Stores, opts Options, logger *slog.Logger) *Runner {
	if opts.StoreCurrencyRate == nil {
		opts.StoreCurrencyRate = func(string) float64 { return 1.0 }
	}
	return &Runner{
		stores: stores,
		opts:   opts,
		logger: logger.With(slog.String("component", "backfill")),
	}
}

// Supplement replays every item's history and inserts the price events the
// live path missed. Each item replays as one unit; cancellation is honored
// between items. Returns the number of events synthesized.
func (r *Runner) Supplement(ctx context.Context) (int, error) {
	items, err := r.stores.Items.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("backfill: list items: %w", err)
	}

	total := 0
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := r.supplementItem(ctx, item)
		if err != nil {
			return total, fmt.Errorf("backfill: item %s: %w", item.Key, err)
		}
		total += n
	}

	r.logger.InfoContext(ctx, "backfill complete",
		slog.Int("items", len(items)),
		slog.Int("events_created", total),
	)
	return total, nil
}

// Rebuild deletes all rebuildable events and regenerates them from history.
func (r *Runner) Rebuild(ctx context.Context) (deleted int64, created int, err error) {
	deleted, err = r.stores.Events.DeleteRebuildable(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("backfill: delete rebuildable events: %w", err)
	}
	r.logger.InfoContext(ctx, "rebuildable events deleted", slog.Int64("count", deleted))

	created, err = r.Supplement(ctx)
	return deleted, created, err
}

// supplementItem replays one item. It walks successful priced samples in
// ascending time, maintaining the running minimum and the last lowest_price
// event, and applies the lowest_price and price_drop rules at each step with
// the per-window minimum computed as of the sample's timestamp, not as of
// now.
func (r *Runner) supplementItem(ctx context.Context, item domain.Item) (int, error) {
	samples, err := r.stores.History.ListAsc(ctx, item.ID)
	if err != nil {
		return 0, fmt.Errorf("list samples: %w", err)
	}

	priced := make([]domain.Sample, 0, len(samples))
	for _, s := range samples {
		if s.Status == domain.CrawlOK && s.Price != nil {
			priced = append(priced, s)
		}
	}
	if len(priced) < 2 {
		return 0, nil
	}

	all, err := r.stores.Events.ListByItem(ctx, item.ID)
	if err != nil {
		return 0, fmt.Errorf("list events: %w", err)
	}
	events := make([]domain.Event, 0, len(all))
	for _, e := range all {
		if e.Type.Rebuildable() {
			events = append(events, e)
		}
	}

	cfg := r.opts.Detect
	cfg.CurrencyRate = r.opts.StoreCurrencyRate(item.Store)
	ignore := time.Duration(cfg.IgnoreHours * float64(time.Hour))

	// The first priced sample seeds the running minimum without an event,
	// matching the live detector's first-observation suppression.
	runningMin := *priced[0].Price
	created := 0

	for _, s := range priced[1:] {
		p := *s.Price

		if s.Stock == domain.StockIn {
			if ev := r.replayLowest(cfg, events, runningMin, p, s, item, ignore); ev != nil {
				if err := r.insert(ctx, ev, &events); err != nil {
					return created, err
				}
				created++
			}
			if ev := r.replayDrop(cfg, events, priced, p, s, item, ignore); ev != nil {
				if err := r.insert(ctx, ev, &events); err != nil {
					return created, err
				}
				created++
			}
		}

		if p < runningMin {
			runningMin = p
		}
	}

	return created, nil
}

// replayLowest applies the lowest_price rule at the sample's point in time.
func (r *Runner) replayLowest(cfg detect.Config, events []domain.Event, runningMin, p int64, s domain.Sample, item domain.Item, ignore time.Duration) *domain.Event {
	if p >= runningMin {
		return nil
	}

	baseline := runningMin
	if lp := lastLowestPriceBefore(events, s.Time); lp != nil {
		baseline = *lp
	}
	if !cfg.Lowest.Met(baseline, p, cfg.CurrencyRate) {
		return nil
	}
	if hasNear(events, domain.EventLowestPrice, s.Time, ignore) {
		return nil
	}

	price, old := p, baseline
	return &domain.Event{
		ItemID:    item.ID,
		Type:      domain.EventLowestPrice,
		Price:     &price,
		OldPrice:  &old,
		URL:       item.URL,
		Notified:  true,
		CreatedAt: s.Time,
	}
}

// replayDrop applies the price_drop rule at the sample's point in time; the
// window minimum covers the days preceding the sample's timestamp.
func (r *Runner) replayDrop(cfg detect.Config, events []domain.Event, priced []domain.Sample, p int64, s domain.Sample, item domain.Item, ignore time.Duration) *domain.Event {
	for _, w := range cfg.DropWindows {
		low := lowestBefore(priced, s.Time, w.Days)
		if low == nil || p >= *low {
			continue
		}
		if !w.Met(*low, p, cfg.CurrencyRate) {
			continue
		}
		if hasNear(events, domain.EventPriceDrop, s.Time, ignore) {
			return nil
		}

		price, old, days := p, *low, w.Days
		return &domain.Event{
			ItemID:        item.ID,
			Type:          domain.EventPriceDrop,
			Price:         &price,
			OldPrice:      &old,
			ThresholdDays: &days,
			URL:           item.URL,
			Notified:      true,
			CreatedAt:     s.Time,
		}
	}
	return nil
}

// insert persists a synthesized event and pushes it into the in-memory event
// list so later iterations de-dup against it.
func (r *Runner) insert(ctx context.Context, ev *domain.Event, events *[]domain.Event) error {
	id, err := r.stores.Events.Insert(ctx, *ev)
	if err != nil {
		return fmt.Errorf("insert %s event: %w", ev.Type, err)
	}
	ev.ID = id
	*events = append(*events, *ev)
	return nil
}

// lastLowestPriceBefore returns the price of the latest lowest_price event at
// or before t, or nil.
func lastLowestPriceBefore(events []domain.Event, t time.Time) *int64 {
	var best *domain.Event
	for i := range events {
		e := &events[i]
		if e.Type != domain.EventLowestPrice || e.Price == nil || e.CreatedAt.After(t) {
			continue
		}
		if best == nil || e.CreatedAt.After(best.CreatedAt) {
			best = e
		}
	}
	if best == nil {
		return nil
	}
	return best.Price
}

// lowestBefore returns the minimum price among priced samples strictly before
// t and within days before it, or nil.
func lowestBefore(priced []domain.Sample, t time.Time, days int) *int64 {
	cutoff := t.Add(-time.Duration(days) * 24 * time.Hour)
	var low *int64
	for _, s := range priced {
		if !s.Time.Before(t) || s.Time.Before(cutoff) {
			continue
		}
		if low == nil || *s.Price < *low {
			p := *s.Price
			low = &p
		}
	}
	return low
}

// hasNear reports whether an event of type typ exists within ±window of t.
func hasNear(events []domain.Event, typ domain.EventType, t time.Time, window time.Duration) bool {
	for _, e := range events {
		if e.Type != typ {
			continue
		}
		d := e.CreatedAt.Sub(t)
		if d < 0 {
			d = -d
		}
		if d <= window {
			return true
		}
	}
	return false
}
