package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pricewatch/internal/detect"
	"pricewatch/internal/domain"
	"pricewatch/internal/store/memory"
)

var base = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func i64(v int64) *int64 { return &v }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSender struct {
	name   string
	err    error
	titles []string
	bodies []string
}

func (s *fakeSender) Send(_ context.Context, title, message string) error {
	if s.err != nil {
		return s.err
	}
	s.titles = append(s.titles, title)
	s.bodies = append(s.bodies, message)
	return nil
}

func (s *fakeSender) Name() string { return s.name }

type capturePublisher struct {
	events []domain.Event
}

func (p *capturePublisher) PublishEvent(e domain.Event, _ domain.Item) {
	p.events = append(p.events, e)
}

func testItem() domain.Item {
	return domain.Item{
		ID:    1,
		Key:   "abc123def456",
		Name:  "widget",
		Store: "alpha",
		URL:   "https://alpha.example/widget",
	}
}

func TestDispatch_SendsAndPersists(t *testing.T) {
	store := memory.New()
	sender := &fakeSender{name: "fake"}
	g := NewGateway([]Sender{sender}, store, nil, testLogger(),
		WithClock(func() time.Time { return base }))

	res := detect.Result{
		Type:     domain.EventLowestPrice,
		Price:    i64(900),
		OldPrice: i64(1000),
	}
	ev, err := g.Dispatch(context.Background(), res, testItem())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if ev.ID == 0 {
		t.Error("event not persisted")
	}
	if !ev.Notified {
		t.Error("Notified = false, want true after a successful send")
	}
	if !ev.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want the gateway clock", ev.CreatedAt)
	}
	if len(sender.titles) != 1 || sender.titles[0] != "New lowest price" {
		t.Errorf("titles = %v, want one %q", sender.titles, "New lowest price")
	}
	if !strings.Contains(sender.bodies[0], "1000 -> 900") {
		t.Errorf("body %q missing the price transition", sender.bodies[0])
	}
	if !strings.Contains(sender.bodies[0], "https://alpha.example/widget") {
		t.Errorf("body %q missing the item URL", sender.bodies[0])
	}
}

func TestDispatch_NoSendersStillPersists(t *testing.T) {
	store := memory.New()
	g := NewGateway(nil, store, nil, testLogger(),
		WithClock(func() time.Time { return base }))

	ev, err := g.Dispatch(context.Background(), detect.Result{Type: domain.EventBackInStock}, testItem())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if ev.Notified {
		t.Error("Notified = true without any sender, want false")
	}

	events, _ := store.ListByItem(context.Background(), 1)
	if len(events) != 1 {
		t.Errorf("persisted %d events, want 1", len(events))
	}
}

func TestDispatch_SenderFailureKeepsEvent(t *testing.T) {
	store := memory.New()
	sender := &fakeSender{name: "broken", err: errors.New("boom")}
	g := NewGateway([]Sender{sender}, store, nil, testLogger(),
		WithClock(func() time.Time { return base }))

	ev, err := g.Dispatch(context.Background(), detect.Result{Type: domain.EventBackInStock}, testItem())
	if err != nil {
		t.Fatalf("Dispatch() error = %v, transport failures must not bubble", err)
	}
	if ev.Notified {
		t.Error("Notified = true after a failed send, want false")
	}
}

func TestDispatch_OneAckSuffices(t *testing.T) {
	store := memory.New()
	broken := &fakeSender{name: "broken", err: errors.New("boom")}
	ok := &fakeSender{name: "ok"}
	g := NewGateway([]Sender{broken, ok}, store, nil, testLogger(),
		WithClock(func() time.Time { return base }))

	ev, err := g.Dispatch(context.Background(), detect.Result{Type: domain.EventBackInStock}, testItem())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if !ev.Notified {
		t.Error("Notified = false, want true when one of two senders acks")
	}
}

func TestDispatch_TypeFilter(t *testing.T) {
	store := memory.New()
	sender := &fakeSender{name: "fake"}
	g := NewGateway([]Sender{sender}, store, []string{"lowest_price"}, testLogger(),
		WithClock(func() time.Time { return base }))

	ev, err := g.Dispatch(context.Background(), detect.Result{Type: domain.EventBackInStock}, testItem())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(sender.titles) != 0 {
		t.Errorf("filtered type was sent: %v", sender.titles)
	}
	if ev.Notified {
		t.Error("Notified = true for a filtered type, want false")
	}
	if ev.ID == 0 {
		t.Error("filtered event not persisted")
	}
}

func TestDispatch_RetrievalFailureWindow(t *testing.T) {
	store := memory.New()
	sender := &fakeSender{name: "fake"}
	now := base
	g := NewGateway([]Sender{sender}, store, nil, testLogger(),
		WithClock(func() time.Time { return now }))

	res := detect.Result{Type: domain.EventDataRetrievalFailure}
	if _, err := g.Dispatch(context.Background(), res, testItem()); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	// Twelve hours later the detector re-fires; the gateway must swallow it
	// without inserting a second row.
	now = base.Add(12 * time.Hour)
	ev, err := g.Dispatch(context.Background(), res, testItem())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if ev.ID != 0 {
		t.Error("suppressed dispatch returned a persisted event")
	}
	events, _ := store.ListByItem(context.Background(), 1)
	if len(events) != 1 {
		t.Errorf("persisted %d events inside the window, want 1", len(events))
	}

	// Past the 24h window it records again.
	now = base.Add(25 * time.Hour)
	if _, err := g.Dispatch(context.Background(), res, testItem()); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	events, _ = store.ListByItem(context.Background(), 1)
	if len(events) != 2 {
		t.Errorf("persisted %d events after the window, want 2", len(events))
	}
}

func TestDispatch_PublishesToHub(t *testing.T) {
	store := memory.New()
	pub := &capturePublisher{}
	g := NewGateway(nil, store, nil, testLogger(),
		WithClock(func() time.Time { return base }),
		WithPublisher(pub))

	if _, err := g.Dispatch(context.Background(), detect.Result{Type: domain.EventBackInStock}, testItem()); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(pub.events) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.events))
	}
	if pub.events[0].ID == 0 {
		t.Error("published event missing its persisted id")
	}
}

func TestFormatMessage_PriceDrop(t *testing.T) {
	days := 7
	res := detect.Result{
		Type:          domain.EventPriceDrop,
		Price:         i64(850),
		OldPrice:      i64(980),
		ThresholdDays: &days,
	}
	title, body := formatMessage(res, testItem())
	if title != "Price drop" {
		t.Errorf("title = %q, want %q", title, "Price drop")
	}
	if !strings.Contains(body, "980 -> 850") {
		t.Errorf("body %q missing the transition", body)
	}
	if !strings.Contains(body, "7-day low") {
		t.Errorf("body %q missing the window", body)
	}
}

func TestSlackSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := jsonDecode(r, &got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSlackSender(srv.URL)
	if err := s.Send(context.Background(), "Price drop", "widget"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !strings.HasPrefix(got["text"], "*Price drop*") {
		t.Errorf("text = %q, want bold title prefix", got["text"])
	}
}

func TestDiscordSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	if err := d.Send(context.Background(), "t", "m"); err == nil {
		t.Error("Send() = nil for a 429 response, want error")
	}
}

func jsonDecode(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
