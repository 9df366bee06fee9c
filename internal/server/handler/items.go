package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"pricewatch/internal/domain"
)

// ItemsHandler serves the watched-item read API: summaries, price history, and
// detected events. Summaries are read through the cache when one is wired;
// misses fall back to the primary store.
type ItemsHandler struct {
	stores    domain.Stores
	cache     domain.SummaryCache // may be nil
	pointRate func(store string) float64
	logger    *slog.Logger
}

// NewItemsHandler creates an ItemsHandler. pointRate resolves the per-store
// rebate percentage used for effective prices; nil means no rebates.
func NewItemsHandler(stores domain.Stores, cache domain.SummaryCache, pointRate func(store string) float64, logger *slog.Logger) *ItemsHandler {
	if pointRate == nil {
		pointRate = func(string) float64 { return 0 }
	}
	return &ItemsHandler{
		stores:    stores,
		cache:     cache,
		pointRate: pointRate,
		logger:    logHandler(logger, "items"),
	}
}

// sampleResponse is the wire shape of one history row.
type sampleResponse struct {
	Price  *int64             `json:"price"`
	Stock  domain.Stock       `json:"stock"`
	Status domain.CrawlStatus `json:"crawl_status"`
	Time   time.Time          `json:"time"`
}

// eventResponse is the wire shape of one detected event.
type eventResponse struct {
	ID            int64            `json:"id"`
	ItemID        int64            `json:"item_id"`
	Type          domain.EventType `json:"type"`
	Price         *int64           `json:"price,omitempty"`
	OldPrice      *int64           `json:"old_price,omitempty"`
	ThresholdDays *int             `json:"threshold_days,omitempty"`
	URL           string           `json:"url,omitempty"`
	Notified      bool             `json:"notified"`
	CreatedAt     time.Time        `json:"created_at"`
}

// ListItems returns summaries for all watched items.
// GET /api/items
func (h *ItemsHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.stores.Items.List(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list items", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list items")
		return
	}

	out := make([]domain.ItemSummary, 0, len(items))
	for _, it := range items {
		s, err := h.summary(r.Context(), it)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "build summary",
				slog.String("item_key", it.Key),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to build summaries")
			return
		}
		out = append(out, s)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetItem returns the summary for one item.
// GET /api/items/{key}
func (h *ItemsHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	it, ok := h.item(w, r)
	if !ok {
		return
	}
	s, err := h.summary(r.Context(), it)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "build summary",
			slog.String("item_key", it.Key),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to build summary")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// GetHistory returns the item's price history, newest first.
// GET /api/items/{key}/history
func (h *ItemsHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	it, ok := h.item(w, r)
	if !ok {
		return
	}

	samples, err := h.stores.History.ListDesc(r.Context(), it.ID, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list history",
			slog.String("item_key", it.Key),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}

	out := make([]sampleResponse, 0, len(samples))
	for _, s := range samples {
		out = append(out, sampleResponse{
			Price:  s.Price,
			Stock:  s.Stock,
			Status: s.Status,
			Time:   s.Time,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// GetItemEvents returns the item's events in detection order.
// GET /api/items/{key}/events
func (h *ItemsHandler) GetItemEvents(w http.ResponseWriter, r *http.Request) {
	it, ok := h.item(w, r)
	if !ok {
		return
	}

	events, err := h.stores.Events.ListByItem(r.Context(), it.ID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list item events",
			slog.String("item_key", it.Key),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, toEventResponses(events))
}

// ListEvents returns the newest events across all items.
// GET /api/events
func (h *ItemsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.stores.Events.ListRecent(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list events", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, toEventResponses(events))
}

// item resolves the {key} path parameter; on failure it writes the error
// response and returns ok=false.
func (h *ItemsHandler) item(w http.ResponseWriter, r *http.Request) (domain.Item, bool) {
	key := r.PathValue("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing item key")
		return domain.Item{}, false
	}

	it, err := h.stores.Items.GetByKey(r.Context(), key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "item not found")
			return domain.Item{}, false
		}
		h.logger.ErrorContext(r.Context(), "get item",
			slog.String("item_key", key),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load item")
		return domain.Item{}, false
	}
	return it, true
}

// summary returns the cached summary when fresh, otherwise rebuilds it from
// the latest stored sample.
func (h *ItemsHandler) summary(ctx context.Context, it domain.Item) (domain.ItemSummary, error) {
	if h.cache != nil {
		if s, err := h.cache.GetSummary(ctx, it.Key); err == nil {
			return s, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			h.logger.WarnContext(ctx, "summary cache read failed",
				slog.String("item_key", it.Key),
				slog.String("error", err.Error()),
			)
		}
	}

	s := domain.ItemSummary{
		Key:       it.Key,
		Name:      it.Name,
		Store:     it.Store,
		URL:       it.URL,
		Stock:     domain.StockUnknown,
		Status:    domain.CrawlFailed,
		UpdatedAt: it.UpdatedAt,
	}

	latest, err := h.stores.History.Latest(ctx, it.ID)
	if err != nil {
		return domain.ItemSummary{}, err
	}
	if latest != nil {
		s.Price = latest.Price
		s.Stock = latest.Stock
		s.Status = latest.Status
		s.UpdatedAt = latest.Time
		if latest.Price != nil {
			ep := domain.EffectivePrice(*latest.Price, h.pointRate(it.Store))
			s.EffectivePrice = &ep
		}
	}
	return s, nil
}

func toEventResponses(events []domain.Event) []eventResponse {
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse{
			ID:            e.ID,
			ItemID:        e.ItemID,
			Type:          e.Type,
			Price:         e.Price,
			OldPrice:      e.OldPrice,
			ThresholdDays: e.ThresholdDays,
			URL:           e.URL,
			Notified:      e.Notified,
			CreatedAt:     e.CreatedAt,
		})
	}
	return out
}
