package fetch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"pricewatch/internal/config"
	"pricewatch/internal/domain"
)

// IngestFunc consumes one acquisition result. It is the boundary between the
// crawl session and the ingest pipeline.
type IngestFunc func(ctx context.Context, ci domain.CheckedItem) error

// Session runs one crawl over a target list. Stores proceed in parallel;
// items within a store run strictly in order with a pacing delay between
// requests. Cancellation is checked between items, never mid-adapter.
type Session struct {
	registry *Registry
	ingest   IngestFunc
	delayFor func(store string) time.Duration
	logger   *slog.Logger
}

// NewSession creates a Session. delayFor returns the inter-request pacing for
// a store; a nil func means no pacing.
func NewSession(registry *Registry, ingest IngestFunc, delayFor func(store string) time.Duration, logger *slog.Logger) *Session {
	if delayFor == nil {
		delayFor = func(string) time.Duration { return 0 }
	}
	return &Session{
		registry: registry,
		ingest:   ingest,
		delayFor: delayFor,
		logger:   logger.With(slog.String("component", "crawl_session")),
	}
}

// Run executes one crawl session over the targets. Per-item failures are
// recorded as failed samples and never abort the session; Run returns an
// error only on cancellation or when ingest itself fails.
func (s *Session) Run(ctx context.Context, targets []config.Target) error {
	sessionID := uuid.NewString()
	logger := s.logger.With(slog.String("session_id", sessionID))
	logger.InfoContext(ctx, "crawl session starting", slog.Int("targets", len(targets)))

	byStore := make(map[string][]config.Target)
	for _, t := range targets {
		byStore[t.Store] = append(byStore[t.Store], t)
	}

	g, ctx := errgroup.WithContext(ctx)
	for store, ts := range byStore {
		g.Go(func() error {
			return s.runStore(ctx, logger, store, ts)
		})
	}

	if err := g.Wait(); err != nil {
		logger.InfoContext(ctx, "crawl session aborted", slog.String("error", err.Error()))
		return err
	}
	logger.InfoContext(ctx, "crawl session complete")
	return nil
}

// runStore processes one store's targets in order, pacing between requests
// and checking for cancellation between items.
func (s *Session) runStore(ctx context.Context, logger *slog.Logger, store string, targets []config.Target) error {
	delay := s.delayFor(store)

	for i, t := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 && delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		ci := s.check(ctx, logger, t)
		if err := s.ingest(ctx, ci); err != nil {
			// Ingest errors indicate storage trouble, not a flaky site; stop
			// the store rather than hammer a broken database.
			logger.ErrorContext(ctx, "ingest failed",
				slog.String("store", store),
				slog.String("target", t.Name),
				slog.String("error", err.Error()),
			)
			return err
		}
	}
	return nil
}

// check runs the adapter for one target, degrading adapter errors and missing
// adapters into acquisition-failure results.
func (s *Session) check(ctx context.Context, logger *slog.Logger, t config.Target) domain.CheckedItem {
	checker, err := s.registry.Get(t.AdapterName())
	if err != nil {
		logger.WarnContext(ctx, "no adapter for target",
			slog.String("store", t.Store),
			slog.String("target", t.Name),
			slog.String("adapter", t.AdapterName()),
		)
		return FailedCheck(t)
	}

	ci, err := checker.Check(ctx, t)
	if err != nil {
		logger.WarnContext(ctx, "check failed",
			slog.String("store", t.Store),
			slog.String("target", t.Name),
			slog.String("error", err.Error()),
		)
		return FailedCheck(t)
	}
	return ci
}
