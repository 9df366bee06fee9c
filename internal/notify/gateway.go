package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pricewatch/internal/detect"
	"pricewatch/internal/domain"
)

// retrievalFailureWindow suppresses repeated data_retrieval_failure events;
// unlike the other types this de-dup lives in the gateway, because the
// detector re-fires on every empty sample while the condition persists.
const retrievalFailureWindow = 24 * time.Hour

// Publisher receives every recorded event for fan-out to live consumers (the
// WebSocket hub). Implementations must not block.
type Publisher interface {
	PublishEvent(e domain.Event, item domain.Item)
}

// Gateway dispatches detected events through the configured senders and
// records each one in the event store. Transport failures are tolerated: the
// event row is persisted with Notified=false so operators can see what was
// detected even when delivery failed.
type Gateway struct {
	senders   []Sender
	events    domain.EventStore
	allowed   map[domain.EventType]bool
	publisher Publisher
	logger    *slog.Logger
	nowFn     func() time.Time
}

// GatewayOption customizes a Gateway.
type GatewayOption func(*Gateway)

// WithPublisher attaches a live-event publisher.
func WithPublisher(p Publisher) GatewayOption {
	return func(g *Gateway) { g.publisher = p }
}

// WithClock overrides the gateway clock (tests).
func WithClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) { g.nowFn = now }
}

// NewGateway creates a Gateway delivering to the given senders. Only event
// types named in allowedTypes are dispatched; an empty list allows all types.
// Filtered or failed deliveries still persist the event row.
func NewGateway(senders []Sender, events domain.EventStore, allowedTypes []string, logger *slog.Logger, opts ...GatewayOption) *Gateway {
	allowed := make(map[domain.EventType]bool, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[domain.EventType(strings.TrimSpace(t))] = true
	}
	g := &Gateway{
		senders: senders,
		events:  events,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notify_gateway")),
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Dispatch sends the detection result through the transports and persists the
// event. It returns the persisted event; a transport failure is reflected in
// the Notified flag, not in the error.
func (g *Gateway) Dispatch(ctx context.Context, res detect.Result, item domain.Item) (domain.Event, error) {
	now := g.nowFn()

	// Gateway-level de-dup for data retrieval failures.
	if res.Type == domain.EventDataRetrievalFailure {
		dup, err := g.events.HasInWindow(ctx, item.ID, res.Type, now.Add(-retrievalFailureWindow), now)
		if err != nil {
			return domain.Event{}, fmt.Errorf("notify: check retrieval failure window: %w", err)
		}
		if dup {
			g.logger.DebugContext(ctx, "retrieval failure suppressed",
				slog.String("item_key", item.Key),
			)
			return domain.Event{}, nil
		}
	}

	notified := g.send(ctx, res, item)

	ev := domain.Event{
		ItemID:        item.ID,
		Type:          res.Type,
		Price:         res.Price,
		OldPrice:      res.OldPrice,
		ThresholdDays: res.ThresholdDays,
		URL:           item.URL,
		Notified:      notified,
		CreatedAt:     now,
	}
	id, err := g.events.Insert(ctx, ev)
	if err != nil {
		return domain.Event{}, fmt.Errorf("notify: insert event: %w", err)
	}
	ev.ID = id

	if g.publisher != nil {
		g.publisher.PublishEvent(ev, item)
	}

	g.logger.InfoContext(ctx, "event recorded",
		slog.String("item_key", item.Key),
		slog.String("type", string(res.Type)),
		slog.Bool("notified", notified),
	)
	return ev, nil
}

// send delivers through all senders and reports whether at least one
// acknowledged. Filtered event types and empty sender lists count as not
// notified.
func (g *Gateway) send(ctx context.Context, res detect.Result, item domain.Item) bool {
	if len(g.senders) == 0 {
		return false
	}
	if len(g.allowed) > 0 && !g.allowed[res.Type] {
		g.logger.DebugContext(ctx, "event type filtered out",
			slog.String("type", string(res.Type)),
		)
		return false
	}

	title, message := formatMessage(res, item)

	ok := false
	for _, s := range g.senders {
		if err := s.Send(ctx, title, message); err != nil {
			g.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		ok = true
	}
	return ok
}

// formatMessage renders a human-readable notification for the event.
func formatMessage(res detect.Result, item domain.Item) (title, message string) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)", item.Name, item.Store)

	switch res.Type {
	case domain.EventBackInStock:
		title = "Back in stock"
		if res.Price != nil {
			fmt.Fprintf(&b, "\nprice: %d", *res.Price)
		}
	case domain.EventLowestPrice:
		title = "New lowest price"
		if res.Price != nil && res.OldPrice != nil {
			fmt.Fprintf(&b, "\n%d -> %d", *res.OldPrice, *res.Price)
		}
	case domain.EventPriceDrop:
		title = "Price drop"
		if res.Price != nil && res.OldPrice != nil {
			fmt.Fprintf(&b, "\n%d -> %d", *res.OldPrice, *res.Price)
		}
		if res.ThresholdDays != nil {
			fmt.Fprintf(&b, " (vs %d-day low)", *res.ThresholdDays)
		}
	case domain.EventCrawlFailure:
		title = "Crawl failure"
		b.WriteString("\nno successful check in the last 24 hours")
	case domain.EventDataRetrievalFailure:
		title = "Data retrieval failure"
		b.WriteString("\nchecks succeed but return no data; the page layout may have changed")
	default:
		title = string(res.Type)
	}

	if item.URL != "" {
		fmt.Fprintf(&b, "\n%s", item.URL)
	}
	return title, b.String()
}
