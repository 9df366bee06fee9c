package memory

import (
	"context"
	"testing"
	"time"

	"pricewatch/internal/domain"
)

var base = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func i64(v int64) *int64 { return &v }

func newItem(t *testing.T, s *Store) domain.Item {
	t.Helper()
	it, err := s.Upsert(context.Background(), domain.ItemInput{
		Name:  "widget",
		Store: "alpha",
		URL:   "https://alpha.example/widget",
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	return it
}

func addSample(t *testing.T, s *Store, itemID int64, price *int64, stock domain.Stock, status domain.CrawlStatus, at time.Time) {
	t.Helper()
	err := s.InsertSample(context.Background(), itemID, domain.SampleInput{
		Price: price, Stock: stock, Status: status,
	}, at)
	if err != nil {
		t.Fatalf("InsertSample(%v) error = %v", at, err)
	}
}

func TestUpsert_SameKeyRefreshesDisplayFields(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, _ := s.Upsert(ctx, domain.ItemInput{Name: "widget", Store: "alpha", URL: "https://alpha.example/widget"})
	second, err := s.Upsert(ctx, domain.ItemInput{Name: "widget mk2", Store: "alpha", URL: "https://alpha.example/widget"})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second Upsert created a new item: id %d vs %d", second.ID, first.ID)
	}
	if second.Name != "widget mk2" {
		t.Errorf("Name = %q, want refreshed %q", second.Name, "widget mk2")
	}

	items, _ := s.List(ctx)
	if len(items) != 1 {
		t.Errorf("List() returned %d items, want 1", len(items))
	}
}

func TestUpsert_EmptyFieldsDoNotErase(t *testing.T) {
	s := New()
	ctx := context.Background()

	s.Upsert(ctx, domain.ItemInput{Name: "widget", Store: "alpha", URL: "https://alpha.example/widget", ThumbURL: "https://alpha.example/t.png"})
	got, err := s.Upsert(ctx, domain.ItemInput{Name: "widget", Store: "alpha", URL: "https://alpha.example/widget"})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if got.ThumbURL != "https://alpha.example/t.png" {
		t.Errorf("ThumbURL = %q, want preserved thumbnail", got.ThumbURL)
	}
}

func TestGetByKey_NotFound(t *testing.T) {
	s := New()
	_, err := s.GetByKey(context.Background(), "ffffffffffff")
	if err != domain.ErrNotFound {
		t.Errorf("GetByKey() error = %v, want ErrNotFound", err)
	}
}

func TestInsertSample_SameHourMerges(t *testing.T) {
	s := New()
	it := newItem(t, s)

	addSample(t, s, it.ID, i64(500), domain.StockIn, domain.CrawlOK, base.Add(10*time.Minute))
	addSample(t, s, it.ID, i64(450), domain.StockIn, domain.CrawlOK, base.Add(40*time.Minute))

	rows, _ := s.ListAsc(context.Background(), it.ID)
	if len(rows) != 1 {
		t.Fatalf("two same-hour inserts produced %d rows, want 1", len(rows))
	}
	if rows[0].Price == nil || *rows[0].Price != 450 {
		t.Errorf("merged Price = %v, want the minimum 450", rows[0].Price)
	}
	if !rows[0].Time.Equal(base.Add(40 * time.Minute)) {
		t.Errorf("merged Time = %v, want the later observation time", rows[0].Time)
	}
}

func TestInsertSample_DifferentHoursAppend(t *testing.T) {
	s := New()
	it := newItem(t, s)

	addSample(t, s, it.ID, i64(500), domain.StockIn, domain.CrawlOK, base)
	addSample(t, s, it.ID, i64(480), domain.StockIn, domain.CrawlOK, base.Add(time.Hour))

	rows, _ := s.ListAsc(context.Background(), it.ID)
	if len(rows) != 2 {
		t.Fatalf("inserts in distinct hours produced %d rows, want 2", len(rows))
	}
}

func TestInsertSample_FailureDoesNotEraseBucket(t *testing.T) {
	s := New()
	it := newItem(t, s)

	addSample(t, s, it.ID, i64(500), domain.StockIn, domain.CrawlOK, base.Add(5*time.Minute))
	addSample(t, s, it.ID, nil, domain.StockUnknown, domain.CrawlFailed, base.Add(30*time.Minute))

	latest, _ := s.Latest(context.Background(), it.ID)
	if latest == nil {
		t.Fatal("Latest() = nil, want merged sample")
	}
	if latest.Price == nil || *latest.Price != 500 {
		t.Errorf("Price = %v, want preserved 500", latest.Price)
	}
	if latest.Status != domain.CrawlOK {
		t.Errorf("Status = %v, want preserved CrawlOK", latest.Status)
	}
}

func TestLowestInPeriod(t *testing.T) {
	s := New()
	it := newItem(t, s)
	now := base.Add(40 * 24 * time.Hour)

	addSample(t, s, it.ID, i64(300), domain.StockIn, domain.CrawlOK, base) // 40 days old
	addSample(t, s, it.ID, i64(400), domain.StockIn, domain.CrawlOK, now.Add(-5*24*time.Hour))
	addSample(t, s, it.ID, nil, domain.StockOut, domain.CrawlOK, now.Add(-2*24*time.Hour))
	addSample(t, s, it.ID, i64(100), domain.StockUnknown, domain.CrawlFailed, now.Add(-24*time.Hour))

	all, _ := s.LowestInPeriod(context.Background(), it.ID, nil, now)
	if all == nil || *all != 300 {
		t.Errorf("all-time low = %v, want 300", all)
	}

	days := 7
	weekly, _ := s.LowestInPeriod(context.Background(), it.ID, &days, now)
	if weekly == nil || *weekly != 400 {
		t.Errorf("7-day low = %v, want 400", weekly)
	}

	empty := New()
	it2 := newItem(t, empty)
	none, _ := empty.LowestInPeriod(context.Background(), it2.ID, nil, now)
	if none != nil {
		t.Errorf("low over empty history = %v, want nil", *none)
	}
}

func TestLowestInPeriod_WideningWindowNeverRaisesLow(t *testing.T) {
	s := New()
	it := newItem(t, s)
	now := base.Add(45 * 24 * time.Hour)

	addSample(t, s, it.ID, i64(300), domain.StockIn, domain.CrawlOK, now.Add(-40*24*time.Hour))
	addSample(t, s, it.ID, i64(500), domain.StockIn, domain.CrawlOK, now.Add(-20*24*time.Hour))
	addSample(t, s, it.ID, i64(400), domain.StockIn, domain.CrawlOK, now.Add(-5*24*time.Hour))
	addSample(t, s, it.ID, i64(450), domain.StockIn, domain.CrawlOK, now.Add(-24*time.Hour))

	var prev *int64
	for _, d := range []int{2, 7, 30, 41} {
		days := d
		got, err := s.LowestInPeriod(context.Background(), it.ID, &days, now)
		if err != nil {
			t.Fatalf("LowestInPeriod(%d days) error = %v", d, err)
		}
		if got == nil {
			t.Fatalf("LowestInPeriod(%d days) = nil, want a price", d)
		}
		if prev != nil && *got > *prev {
			t.Errorf("%d-day low = %d, above the narrower window's %d", d, *got, *prev)
		}
		prev = got
	}

	all, _ := s.LowestInPeriod(context.Background(), it.ID, nil, now)
	if all == nil || *all != 300 {
		t.Errorf("all-time low = %v, want 300", all)
	}
	if prev != nil && *all > *prev {
		t.Errorf("all-time low %d above the 41-day low %d", *all, *prev)
	}
}

func TestOutOfStockHours(t *testing.T) {
	s := New()
	it := newItem(t, s)
	now := base.Add(10 * time.Hour)

	addSample(t, s, it.ID, i64(500), domain.StockIn, domain.CrawlOK, base)
	addSample(t, s, it.ID, nil, domain.StockOut, domain.CrawlOK, base.Add(4*time.Hour))
	addSample(t, s, it.ID, nil, domain.StockUnknown, domain.CrawlFailed, base.Add(6*time.Hour))
	addSample(t, s, it.ID, nil, domain.StockOut, domain.CrawlOK, base.Add(8*time.Hour))

	// The failed row is skipped; the run starts at the 4h mark.
	got, _ := s.OutOfStockHours(context.Background(), it.ID, now)
	if got == nil {
		t.Fatal("OutOfStockHours() = nil, want run length")
	}
	if *got != 6 {
		t.Errorf("OutOfStockHours() = %v, want 6", *got)
	}
}

func TestOutOfStockHours_NotOutOfStock(t *testing.T) {
	s := New()
	it := newItem(t, s)

	addSample(t, s, it.ID, nil, domain.StockOut, domain.CrawlOK, base)
	addSample(t, s, it.ID, i64(500), domain.StockIn, domain.CrawlOK, base.Add(time.Hour))

	got, _ := s.OutOfStockHours(context.Background(), it.ID, base.Add(2*time.Hour))
	if got != nil {
		t.Errorf("OutOfStockHours() = %v for an in-stock item, want nil", *got)
	}
}

func TestNoDataHours(t *testing.T) {
	s := New()
	it := newItem(t, s)
	now := base.Add(9 * time.Hour)

	addSample(t, s, it.ID, i64(500), domain.StockIn, domain.CrawlOK, base)
	addSample(t, s, it.ID, nil, domain.StockUnknown, domain.CrawlFailed, base.Add(2*time.Hour))
	addSample(t, s, it.ID, nil, domain.StockUnknown, domain.CrawlOK, base.Add(5*time.Hour))

	// Both the failed crawl and the empty success count as no-data.
	got, _ := s.NoDataHours(context.Background(), it.ID, now)
	if got == nil {
		t.Fatal("NoDataHours() = nil, want run length")
	}
	if *got != 7 {
		t.Errorf("NoDataHours() = %v, want 7", *got)
	}
}

func TestNoDataHours_LatestHasData(t *testing.T) {
	s := New()
	it := newItem(t, s)

	addSample(t, s, it.ID, nil, domain.StockUnknown, domain.CrawlFailed, base)
	addSample(t, s, it.ID, i64(500), domain.StockIn, domain.CrawlOK, base.Add(time.Hour))

	got, _ := s.NoDataHours(context.Background(), it.ID, base.Add(2*time.Hour))
	if got != nil {
		t.Errorf("NoDataHours() = %v when the latest row has data, want nil", *got)
	}
}

func TestHasSuccessfulCrawl(t *testing.T) {
	s := New()
	it := newItem(t, s)
	now := base.Add(48 * time.Hour)

	addSample(t, s, it.ID, i64(500), domain.StockIn, domain.CrawlOK, base)
	ok, _ := s.HasSuccessfulCrawl(context.Background(), it.ID, 24, now)
	if ok {
		t.Error("HasSuccessfulCrawl() = true for a 48h-old success inside a 24h window")
	}
	ok, _ = s.HasSuccessfulCrawl(context.Background(), it.ID, 72, now)
	if !ok {
		t.Error("HasSuccessfulCrawl() = false inside a 72h window")
	}
}

func TestListDesc_Pagination(t *testing.T) {
	s := New()
	it := newItem(t, s)

	for i := 0; i < 5; i++ {
		addSample(t, s, it.ID, i64(int64(100+i)), domain.StockIn, domain.CrawlOK, base.Add(time.Duration(i)*time.Hour))
	}

	page, _ := s.ListDesc(context.Background(), it.ID, domain.ListOpts{Limit: 2, Offset: 1})
	if len(page) != 2 {
		t.Fatalf("ListDesc returned %d rows, want 2", len(page))
	}
	if *page[0].Price != 103 || *page[1].Price != 102 {
		t.Errorf("page prices = %d, %d, want 103, 102", *page[0].Price, *page[1].Price)
	}

	past, _ := s.ListDesc(context.Background(), it.ID, domain.ListOpts{Limit: 2, Offset: 10})
	if len(past) != 0 {
		t.Errorf("offset past the end returned %d rows, want 0", len(past))
	}
}

func TestListOlderThan(t *testing.T) {
	s := New()
	it := newItem(t, s)

	for i := 0; i < 4; i++ {
		addSample(t, s, it.ID, i64(100), domain.StockIn, domain.CrawlOK, base.Add(time.Duration(i)*time.Hour))
	}

	old, _ := s.ListOlderThan(context.Background(), base.Add(2*time.Hour), 0)
	if len(old) != 2 {
		t.Fatalf("ListOlderThan returned %d rows, want 2", len(old))
	}
	if !old[0].Time.Before(old[1].Time) {
		t.Error("ListOlderThan rows not in ascending time order")
	}

	limited, _ := s.ListOlderThan(context.Background(), base.Add(4*time.Hour), 3)
	if len(limited) != 3 {
		t.Errorf("limited ListOlderThan returned %d rows, want 3", len(limited))
	}
}

func TestEventStore_LastOfTypeAndWindow(t *testing.T) {
	s := New()
	it := newItem(t, s)
	ctx := context.Background()

	s.Insert(ctx, domain.Event{ItemID: it.ID, Type: domain.EventPriceDrop, CreatedAt: base})
	s.Insert(ctx, domain.Event{ItemID: it.ID, Type: domain.EventPriceDrop, CreatedAt: base.Add(2 * time.Hour)})
	s.Insert(ctx, domain.Event{ItemID: it.ID, Type: domain.EventLowestPrice, CreatedAt: base.Add(time.Hour)})

	last, _ := s.LastOfType(ctx, it.ID, domain.EventPriceDrop)
	if last == nil {
		t.Fatal("LastOfType() = nil, want event")
	}
	if !last.CreatedAt.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("LastOfType CreatedAt = %v, want the newer event", last.CreatedAt)
	}

	in, _ := s.HasInWindow(ctx, it.ID, domain.EventLowestPrice, base, base.Add(2*time.Hour))
	if !in {
		t.Error("HasInWindow() = false for an event inside the window")
	}
	out, _ := s.HasInWindow(ctx, it.ID, domain.EventLowestPrice, base.Add(3*time.Hour), base.Add(4*time.Hour))
	if out {
		t.Error("HasInWindow() = true for an empty window")
	}
}

func TestMarkNotified(t *testing.T) {
	s := New()
	it := newItem(t, s)
	ctx := context.Background()

	id, _ := s.Insert(ctx, domain.Event{ItemID: it.ID, Type: domain.EventBackInStock, CreatedAt: base})
	if err := s.MarkNotified(ctx, id); err != nil {
		t.Fatalf("MarkNotified() error = %v", err)
	}
	events, _ := s.ListByItem(ctx, it.ID)
	if len(events) != 1 || !events[0].Notified {
		t.Error("event not marked notified")
	}

	if err := s.MarkNotified(ctx, 9999); err != domain.ErrNotFound {
		t.Errorf("MarkNotified(missing) error = %v, want ErrNotFound", err)
	}
}

func TestDeleteRebuildable(t *testing.T) {
	s := New()
	it := newItem(t, s)
	ctx := context.Background()

	s.Insert(ctx, domain.Event{ItemID: it.ID, Type: domain.EventPriceDrop, CreatedAt: base})
	s.Insert(ctx, domain.Event{ItemID: it.ID, Type: domain.EventLowestPrice, CreatedAt: base.Add(time.Hour)})
	s.Insert(ctx, domain.Event{ItemID: it.ID, Type: domain.EventBackInStock, CreatedAt: base.Add(2 * time.Hour)})

	deleted, err := s.DeleteRebuildable(ctx)
	if err != nil {
		t.Fatalf("DeleteRebuildable() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	left, _ := s.ListByItem(ctx, it.ID)
	if len(left) != 1 || left[0].Type != domain.EventBackInStock {
		t.Errorf("remaining events = %v, want only back_in_stock", left)
	}
}
