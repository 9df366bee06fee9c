package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pricewatch/internal/config"
	"pricewatch/internal/domain"
)

// JSONAPIChecker is a generic adapter for storefronts that expose a JSON
// price endpoint. The target's endpoint is fetched with GET and the price and
// stock fields are read from dot-separated paths into the response document.
// Stock values accepted: booleans, numbers (0 = out), and the strings
// "in_stock"/"out_of_stock".
type JSONAPIChecker struct {
	client    *http.Client
	priceUnit string
}

// NewJSONAPIChecker creates the adapter. priceUnit labels the currency of
// every price this adapter reports.
func NewJSONAPIChecker(priceUnit string) *JSONAPIChecker {
	return &JSONAPIChecker{
		client:    &http.Client{Timeout: 30 * time.Second},
		priceUnit: priceUnit,
	}
}

// Name returns the adapter identifier used in target files.
func (c *JSONAPIChecker) Name() string { return "jsonapi" }

// Check fetches the target's endpoint and extracts price and stock. A
// transport or decode error is an acquisition failure; a successful response
// with missing fields yields a success sample with unknown values, feeding
// the data-retrieval-failure detector.
func (c *JSONAPIChecker) Check(ctx context.Context, t config.Target) (domain.CheckedItem, error) {
	endpoint := t.Endpoint
	if endpoint == "" {
		endpoint = t.URL
	}
	if endpoint == "" {
		return domain.CheckedItem{}, fmt.Errorf("jsonapi: target %s has no endpoint", t.Name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.CheckedItem{}, fmt.Errorf("jsonapi: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.CheckedItem{}, fmt.Errorf("jsonapi: fetch %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.CheckedItem{}, fmt.Errorf("jsonapi: fetch %s: status %d", endpoint, resp.StatusCode)
	}

	var doc any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&doc); err != nil {
		return domain.CheckedItem{}, fmt.Errorf("jsonapi: decode %s: %w", endpoint, err)
	}

	ci := domain.CheckedItem{
		Name:          t.Name,
		Store:         t.Store,
		URL:           t.URL,
		Stock:         domain.StockUnknown,
		Status:        domain.CrawlOK,
		PriceUnit:     c.priceUnit,
		SearchKeyword: t.SearchKeyword,
		SearchCond:    t.SearchCond,
	}

	if v, ok := lookupPath(doc, t.PricePath); ok {
		if p, ok := asInt(v); ok {
			ci.Price = &p
		}
	}
	if v, ok := lookupPath(doc, t.StockPath); ok {
		ci.Stock = asStock(v)
	}
	return ci, nil
}

// lookupPath walks a dot-separated path through nested JSON objects.
func lookupPath(doc any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	cur := doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case string:
		var p int64
		if _, err := fmt.Sscanf(strings.TrimSpace(n), "%d", &p); err == nil {
			return p, true
		}
	}
	return 0, false
}

func asStock(v any) domain.Stock {
	switch s := v.(type) {
	case bool:
		if s {
			return domain.StockIn
		}
		return domain.StockOut
	case float64:
		if s > 0 {
			return domain.StockIn
		}
		return domain.StockOut
	case string:
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "in_stock", "instock", "in", "available", "true", "1":
			return domain.StockIn
		case "out_of_stock", "outofstock", "out", "soldout", "sold_out", "false", "0":
			return domain.StockOut
		}
	}
	return domain.StockUnknown
}
