package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pricewatch/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dialHub(t *testing.T) (*Hub, *websocket.Conn, context.CancelFunc) {
	t.Helper()

	hub := NewHub(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		cancel()
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })

	return hub, conn, cancel
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame map[string]json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decode frame %s: %v", data, err)
	}
	return frame
}

func frameType(t *testing.T, frame map[string]json.RawMessage) string {
	t.Helper()
	var typ string
	if err := json.Unmarshal(frame["type"], &typ); err != nil {
		t.Fatalf("decode frame type: %v", err)
	}
	return typ
}

func TestHub_InitialStatusFrame(t *testing.T) {
	_, conn, cancel := dialHub(t)
	defer cancel()

	frame := readFrame(t, conn)
	if got := frameType(t, frame); got != "status" {
		t.Errorf("first frame type = %q, want status", got)
	}

	var payload struct {
		Connected bool `json:"connected"`
	}
	if err := json.Unmarshal(frame["payload"], &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if !payload.Connected {
		t.Error("payload.connected = false, want true")
	}
}

func TestHub_BroadcastsEvents(t *testing.T) {
	hub, conn, cancel := dialHub(t)
	defer cancel()

	readFrame(t, conn) // status

	price := int64(900)
	old := int64(1000)
	hub.PublishEvent(domain.Event{
		Type:      domain.EventLowestPrice,
		Price:     &price,
		OldPrice:  &old,
		URL:       "https://alpha.example/widget",
		CreatedAt: time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC),
	}, domain.Item{
		Key:   "abc123def456",
		Name:  "widget",
		Store: "alpha",
	})

	frame := readFrame(t, conn)
	if got := frameType(t, frame); got != "event" {
		t.Fatalf("frame type = %q, want event", got)
	}

	var payload eventPayload
	if err := json.Unmarshal(frame["payload"], &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.ItemKey != "abc123def456" {
		t.Errorf("ItemKey = %q, want abc123def456", payload.ItemKey)
	}
	if payload.EventType != domain.EventLowestPrice {
		t.Errorf("EventType = %s, want lowest_price", payload.EventType)
	}
	if payload.Price == nil || *payload.Price != 900 {
		t.Errorf("Price = %v, want 900", payload.Price)
	}
}

func TestHub_PublishWithoutClientsDoesNotBlock(t *testing.T) {
	hub := NewHub(testLogger())
	// No Run loop: the buffered broadcast channel absorbs the frames and the
	// overflow path drops the rest.
	for i := 0; i < 300; i++ {
		hub.PublishEvent(domain.Event{Type: domain.EventPriceDrop}, domain.Item{Key: "k"})
	}
}
