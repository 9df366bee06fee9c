package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pricewatch/internal/domain"
	"pricewatch/internal/store/memory"
)

var base = time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

func i64(v int64) *int64 { return &v }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// staticCache serves a fixed set of summaries and reports misses as not found.
type staticCache struct {
	summaries map[string]domain.ItemSummary
}

func (c *staticCache) SetSummary(_ context.Context, s domain.ItemSummary) error {
	c.summaries[s.Key] = s
	return nil
}

func (c *staticCache) GetSummary(_ context.Context, key string) (domain.ItemSummary, error) {
	s, ok := c.summaries[key]
	if !ok {
		return domain.ItemSummary{}, domain.ErrNotFound
	}
	return s, nil
}

type fixture struct {
	store *memory.Store
	item  domain.Item
	mux   *http.ServeMux
}

func newFixture(t *testing.T, cache domain.SummaryCache) *fixture {
	t.Helper()
	store := memory.New()
	item, err := store.Upsert(context.Background(), domain.ItemInput{
		Name:  "widget",
		Store: "alpha",
		URL:   "https://alpha.example/widget",
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	h := NewItemsHandler(store.Stores(), cache, func(store string) float64 {
		if store == "alpha" {
			return 10
		}
		return 0
	}, testLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/items", h.ListItems)
	mux.HandleFunc("GET /api/items/{key}", h.GetItem)
	mux.HandleFunc("GET /api/items/{key}/history", h.GetHistory)
	mux.HandleFunc("GET /api/items/{key}/events", h.GetItemEvents)
	mux.HandleFunc("GET /api/events", h.ListEvents)

	return &fixture{store: store, item: item, mux: mux}
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, rec.Body.String())
	}
	return v
}

func TestGetItem_SummaryFromHistory(t *testing.T) {
	f := newFixture(t, nil)
	err := f.store.InsertSample(context.Background(), f.item.ID, domain.SampleInput{
		Price: i64(1000), Stock: domain.StockIn, Status: domain.CrawlOK,
	}, base)
	if err != nil {
		t.Fatalf("InsertSample() error = %v", err)
	}

	rec := f.get(t, "/api/items/"+f.item.Key)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	sum := decode[domain.ItemSummary](t, rec)
	if sum.Key != f.item.Key {
		t.Errorf("Key = %q, want %q", sum.Key, f.item.Key)
	}
	if sum.Price == nil || *sum.Price != 1000 {
		t.Errorf("Price = %v, want 1000", sum.Price)
	}
	// alpha carries a 10% point rebate.
	if sum.EffectivePrice == nil || *sum.EffectivePrice != 900 {
		t.Errorf("EffectivePrice = %v, want 900", sum.EffectivePrice)
	}
	if sum.Stock != domain.StockIn {
		t.Errorf("Stock = %v, want StockIn", sum.Stock)
	}
}

func TestGetItem_EmptyHistoryDefaults(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.get(t, "/api/items/"+f.item.Key)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	sum := decode[domain.ItemSummary](t, rec)
	if sum.Price != nil {
		t.Errorf("Price = %v, want nil with no history", *sum.Price)
	}
	if sum.Stock != domain.StockUnknown {
		t.Errorf("Stock = %v, want StockUnknown", sum.Stock)
	}
}

func TestGetItem_NotFound(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.get(t, "/api/items/ffffffffffff")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	body := decode[map[string]string](t, rec)
	if body["error"] == "" {
		t.Error("error body missing")
	}
}

func TestGetItem_CacheHitWins(t *testing.T) {
	cache := &staticCache{summaries: map[string]domain.ItemSummary{}}
	f := newFixture(t, cache)

	// The store holds 1000; the cache holds a fresher 950.
	f.store.InsertSample(context.Background(), f.item.ID, domain.SampleInput{
		Price: i64(1000), Stock: domain.StockIn, Status: domain.CrawlOK,
	}, base)
	cache.summaries[f.item.Key] = domain.ItemSummary{
		Key:   f.item.Key,
		Name:  "widget",
		Store: "alpha",
		Price: i64(950),
		Stock: domain.StockIn,
	}

	rec := f.get(t, "/api/items/"+f.item.Key)
	sum := decode[domain.ItemSummary](t, rec)
	if sum.Price == nil || *sum.Price != 950 {
		t.Errorf("Price = %v, want the cached 950", sum.Price)
	}
}

func TestListItems(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.store.Upsert(context.Background(), domain.ItemInput{
		Name: "gadget", Store: "beta", URL: "https://beta.example/gadget",
	}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	rec := f.get(t, "/api/items")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	items := decode[[]domain.ItemSummary](t, rec)
	if len(items) != 2 {
		t.Errorf("len(items) = %d, want 2", len(items))
	}
}

func TestGetHistory_NewestFirstWithLimit(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 5; i++ {
		f.store.InsertSample(context.Background(), f.item.ID, domain.SampleInput{
			Price: i64(int64(100 + i)), Stock: domain.StockIn, Status: domain.CrawlOK,
		}, base.Add(time.Duration(i)*time.Hour))
	}

	rec := f.get(t, "/api/items/"+f.item.Key+"/history?limit=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	rows := decode[[]sampleResponse](t, rec)
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	if *rows[0].Price != 104 || *rows[1].Price != 103 {
		t.Errorf("prices = %d, %d, want newest first 104, 103", *rows[0].Price, *rows[1].Price)
	}
}

func TestGetItemEvents(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Insert(context.Background(), domain.Event{
		ItemID:    f.item.ID,
		Type:      domain.EventLowestPrice,
		Price:     i64(900),
		OldPrice:  i64(1000),
		Notified:  true,
		CreatedAt: base,
	})

	rec := f.get(t, "/api/items/"+f.item.Key+"/events")
	events := decode[[]eventResponse](t, rec)
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	if events[0].Type != domain.EventLowestPrice {
		t.Errorf("Type = %s, want lowest_price", events[0].Type)
	}
	if !events[0].Notified {
		t.Error("Notified = false, want true")
	}
}

func TestListEvents_NewestFirst(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Insert(context.Background(), domain.Event{ItemID: f.item.ID, Type: domain.EventPriceDrop, CreatedAt: base})
	f.store.Insert(context.Background(), domain.Event{ItemID: f.item.ID, Type: domain.EventLowestPrice, CreatedAt: base.Add(time.Hour)})

	rec := f.get(t, "/api/events")
	events := decode[[]eventResponse](t, rec)
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].Type != domain.EventLowestPrice {
		t.Errorf("first event = %s, want the newest", events[0].Type)
	}
}

func TestParseListOpts(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/events?limit=900&offset=5", nil)
	opts := parseListOpts(req)
	if opts.Limit != 500 {
		t.Errorf("Limit = %d, want capped 500", opts.Limit)
	}
	if opts.Offset != 5 {
		t.Errorf("Offset = %d, want 5", opts.Offset)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/events?limit=junk", nil)
	opts = parseListOpts(req)
	if opts.Limit != 50 || opts.Offset != 0 {
		t.Errorf("opts = %+v, want defaults", opts)
	}
}
