// Package memory implements the domain store interfaces in process memory.
// It backs tests and database-less runs; every write goes through the same
// domain.MergeSample policy the Postgres backend uses.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"pricewatch/internal/domain"
)

// Store holds all three tables under one mutex. Operations for a single item
// therefore execute without interleaving, matching the per-item ordering
// guarantee of the ingest pipeline.
type Store struct {
	mu         sync.Mutex
	items      []domain.Item
	itemsByKey map[string]int // index into items
	samples    map[int64][]domain.Sample // by item id, ascending time
	events     []domain.Event
	nextItemID int64
	nextSample int64
	nextEvent  int64
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		itemsByKey: make(map[string]int),
		samples:    make(map[int64][]domain.Sample),
		nextItemID: 1,
		nextSample: 1,
		nextEvent:  1,
	}
}

// Stores returns the store bundled as the three domain interfaces.
func (s *Store) Stores() domain.Stores {
	return domain.Stores{Items: s, History: s, Events: s}
}

// ---------------------------------------------------------------------------
// ItemStore
// ---------------------------------------------------------------------------

func (s *Store) Upsert(_ context.Context, in domain.ItemInput) (domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := in.Key()
	now := time.Now().UTC()

	if idx, ok := s.itemsByKey[key]; ok {
		it := &s.items[idx]
		changed := false
		if in.Name != "" && it.Name != in.Name {
			it.Name = in.Name
			changed = true
		}
		if in.ThumbURL != "" && it.ThumbURL != in.ThumbURL {
			it.ThumbURL = in.ThumbURL
			changed = true
		}
		if in.URL != "" && it.URL != in.URL {
			it.URL = in.URL
			changed = true
		}
		if changed {
			it.UpdatedAt = now
		}
		return *it, nil
	}

	it := domain.Item{
		ID:            s.nextItemID,
		Key:           key,
		Name:          in.Name,
		Store:         in.Store,
		URL:           in.URL,
		ThumbURL:      in.ThumbURL,
		SearchKeyword: in.SearchKeyword,
		SearchCond:    in.SearchCond,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.nextItemID++
	s.items = append(s.items, it)
	s.itemsByKey[key] = len(s.items) - 1
	return it, nil
}

func (s *Store) GetByKey(_ context.Context, key string) (domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.itemsByKey[key]; ok {
		return s.items[idx], nil
	}
	return domain.Item{}, domain.ErrNotFound
}

func (s *Store) GetByID(_ context.Context, id int64) (domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.ID == id {
			return it, nil
		}
	}
	return domain.Item{}, domain.ErrNotFound
}

func (s *Store) List(_ context.Context) ([]domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Item, len(s.items))
	copy(out, s.items)
	return out, nil
}

// ---------------------------------------------------------------------------
// HistoryStore
// ---------------------------------------------------------------------------

func (s *Store) InsertSample(_ context.Context, itemID int64, in domain.SampleInput, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := domain.HourBucket(now)
	rows := s.samples[itemID]

	for i := range rows {
		if domain.HourBucket(rows[i].Time).Equal(bucket) {
			merged := domain.MergeSample(&rows[i], in, now)
			merged.ID = rows[i].ID
			merged.ItemID = itemID
			rows[i] = merged
			s.resort(itemID)
			return nil
		}
	}

	merged := domain.MergeSample(nil, in, now)
	merged.ID = s.nextSample
	merged.ItemID = itemID
	s.nextSample++
	s.samples[itemID] = append(rows, merged)
	s.resort(itemID)
	return nil
}

// resort keeps the per-item slice in ascending time order.
func (s *Store) resort(itemID int64) {
	rows := s.samples[itemID]
	sort.Slice(rows, func(i, j int) bool { return rows[i].Time.Before(rows[j].Time) })
}

func (s *Store) Latest(_ context.Context, itemID int64) (*domain.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.samples[itemID]
	if len(rows) == 0 {
		return nil, nil
	}
	last := rows[len(rows)-1]
	return &last, nil
}

func (s *Store) LowestInPeriod(_ context.Context, itemID int64, days *int, now time.Time) (*int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cutoff time.Time
	if days != nil {
		cutoff = now.Add(-time.Duration(*days) * 24 * time.Hour)
	}

	var low *int64
	for _, r := range s.samples[itemID] {
		if r.Status != domain.CrawlOK || r.Price == nil {
			continue
		}
		if days != nil && r.Time.Before(cutoff) {
			continue
		}
		if low == nil || *r.Price < *low {
			p := *r.Price
			low = &p
		}
	}
	return low, nil
}

func (s *Store) OutOfStockHours(_ context.Context, itemID int64, now time.Time) (*float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var runStart *time.Time
	rows := s.samples[itemID]
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		if r.Status != domain.CrawlOK {
			continue
		}
		if r.Stock != domain.StockOut {
			break
		}
		t := r.Time
		runStart = &t
	}
	if runStart == nil {
		return nil, nil
	}
	h := now.Sub(*runStart).Hours()
	return &h, nil
}

func (s *Store) NoDataHours(_ context.Context, itemID int64, now time.Time) (*float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var runStart *time.Time
	rows := s.samples[itemID]
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		noData := r.Status == domain.CrawlFailed ||
			(r.Status == domain.CrawlOK && !r.Stock.Known())
		if !noData {
			break
		}
		t := r.Time
		runStart = &t
	}
	if runStart == nil {
		return nil, nil
	}
	h := now.Sub(*runStart).Hours()
	return &h, nil
}

func (s *Store) HasSuccessfulCrawl(_ context.Context, itemID int64, hours float64, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-time.Duration(hours * float64(time.Hour)))
	for _, r := range s.samples[itemID] {
		if r.Status == domain.CrawlOK && !r.Time.Before(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ListAsc(_ context.Context, itemID int64) ([]domain.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.samples[itemID]
	out := make([]domain.Sample, len(rows))
	copy(out, rows)
	return out, nil
}

func (s *Store) ListDesc(_ context.Context, itemID int64, opts domain.ListOpts) ([]domain.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.samples[itemID]
	out := make([]domain.Sample, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		out = append(out, rows[i])
	}
	return paginate(out, opts), nil
}

func (s *Store) ListOlderThan(_ context.Context, cutoff time.Time, limit int) ([]domain.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Sample
	for _, rows := range s.samples {
		for _, r := range rows {
			if r.Time.Before(cutoff) {
				out = append(out, r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// EventStore
// ---------------------------------------------------------------------------

func (s *Store) Insert(_ context.Context, e domain.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = s.nextEvent
	s.nextEvent++
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.events = append(s.events, e)
	return e.ID, nil
}

func (s *Store) MarkNotified(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == id {
			s.events[i].Notified = true
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *Store) LastOfType(_ context.Context, itemID int64, t domain.EventType) (*domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var last *domain.Event
	for i := range s.events {
		e := s.events[i]
		if e.ItemID != itemID || e.Type != t {
			continue
		}
		if last == nil || e.CreatedAt.After(last.CreatedAt) {
			cp := e
			last = &cp
		}
	}
	return last, nil
}

func (s *Store) HasInWindow(_ context.Context, itemID int64, t domain.EventType, from, to time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.events {
		if e.ItemID != itemID || e.Type != t {
			continue
		}
		if !e.CreatedAt.Before(from) && !e.CreatedAt.After(to) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ListByItem(_ context.Context, itemID int64) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Event
	for _, e := range s.events {
		if e.ItemID == itemID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Event, len(s.events))
	copy(out, s.events)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, opts), nil
}

func (s *Store) DeleteRebuildable(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var deleted int64
	for _, e := range s.events {
		if e.Type.Rebuildable() {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return deleted, nil
}

func paginate[T any](rows []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(rows) {
			return nil
		}
		rows = rows[opts.Offset:]
	}
	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}
	return rows
}

// Compile-time interface checks.
var (
	_ domain.ItemStore    = (*Store)(nil)
	_ domain.HistoryStore = (*Store)(nil)
	_ domain.EventStore   = (*Store)(nil)
)
