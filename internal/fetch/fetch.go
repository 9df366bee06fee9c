// Package fetch defines the adapter contract for storefront acquisition and
// the crawl session that drives adapters: targets are grouped by store,
// serialized within a store with a pacing delay (site politeness, shared
// sessions), and parallelized across stores. Storefront-specific scrapers
// live behind the Checker interface and are not part of this module.
package fetch

import (
	"context"
	"fmt"
	"sort"

	"pricewatch/internal/config"
	"pricewatch/internal/domain"
)

// Checker acquires the current state of one target. Implementations drive
// their own timeouts but must honor ctx cancellation; the returned item must
// satisfy the CheckedItem contract (a failed crawl carries no price or
// stock).
type Checker interface {
	Check(ctx context.Context, t config.Target) (domain.CheckedItem, error)
	Name() string
}

// Registry maps adapter names to Checker implementations.
type Registry struct {
	checkers map[string]Checker
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{checkers: make(map[string]Checker)}
}

// Register adds a checker under its name, replacing any previous entry.
func (r *Registry) Register(c Checker) {
	r.checkers[c.Name()] = c
}

// Get returns the checker registered under name.
func (r *Registry) Get(name string) (Checker, error) {
	c, ok := r.checkers[name]
	if !ok {
		return nil, fmt.Errorf("fetch: %w: %s", domain.ErrUnknownStore, name)
	}
	return c, nil
}

// Names returns the registered adapter names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.checkers))
	for name := range r.checkers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// FailedCheck builds the acquisition-failure result for a target, recorded as
// a crawl_status=0 sample so the crawl_failure detector can see it.
func FailedCheck(t config.Target) domain.CheckedItem {
	return domain.CheckedItem{
		Name:          t.Name,
		Store:         t.Store,
		URL:           t.URL,
		Stock:         domain.StockUnknown,
		Status:        domain.CrawlFailed,
		SearchKeyword: t.SearchKeyword,
		SearchCond:    t.SearchCond,
	}
}
