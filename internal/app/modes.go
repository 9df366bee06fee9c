package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"pricewatch/internal/backfill"
	s3blob "pricewatch/internal/blob/s3"
	"pricewatch/internal/config"
	"pricewatch/internal/detect"
	"pricewatch/internal/fetch"
	"pricewatch/internal/ingest"
	"pricewatch/internal/notify"
	"pricewatch/internal/server"
	"pricewatch/internal/server/handler"
	"pricewatch/internal/server/ws"
)

// WatchMode runs the crawl-ingest-detect loop without the HTTP API.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startWatcher(ctx, g, deps, nil); err != nil {
		return fmt.Errorf("watch mode: %w", err)
	}
	return g.Wait()
}

// ServeMode runs only the read API and WebSocket stream over the configured
// store backend.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	a.startHTTPServer(ctx, g, deps, hub)
	return g.Wait()
}

// FullMode runs the watcher and the read API in one process; detected events
// stream to WebSocket clients as they happen.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	if err := a.startWatcher(ctx, g, deps, hub); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	a.startHTTPServer(ctx, g, deps, hub)
	return g.Wait()
}

// BackfillMode replays stored history once and inserts the price events the
// live path missed, then exits.
func (a *App) BackfillMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting backfill")

	created, err := a.newBackfillRunner(deps).Supplement(ctx)
	if err != nil {
		return fmt.Errorf("backfill mode: %w", err)
	}
	a.logger.InfoContext(ctx, "backfill finished", slog.Int("events_created", created))
	return nil
}

// RebuildMode deletes all rebuildable events and regenerates them from
// history, then exits.
func (a *App) RebuildMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting rebuild")

	deleted, created, err := a.newBackfillRunner(deps).Rebuild(ctx)
	if err != nil {
		return fmt.Errorf("rebuild mode: %w", err)
	}
	a.logger.InfoContext(ctx, "rebuild finished",
		slog.Int64("events_deleted", deleted),
		slog.Int("events_created", created),
	)
	return nil
}

// startWatcher builds the crawl pipeline (targets, adapters, ingest,
// notification gateway) and adds the periodic crawl loop to the errgroup,
// plus the cold-storage exporter when S3 is wired. publisher may be nil.
func (a *App) startWatcher(ctx context.Context, g *errgroup.Group, deps *Dependencies, publisher notify.Publisher) error {
	targets, err := config.LoadTargets(a.cfg.TargetsFile)
	if err != nil {
		return err
	}

	var opts []notify.GatewayOption
	if publisher != nil {
		opts = append(opts, notify.WithPublisher(publisher))
	}
	gateway := notify.NewGateway(deps.Senders, deps.Stores.Events, a.cfg.Notify.Events, a.logger, opts...)

	ingestor := ingest.New(deps.Stores, gateway, deps.Cache, ingest.Options{
		Detect:       a.detectConfig(),
		CurrencyRate: a.cfg.CurrencyRate,
		PointRate: func(store string) float64 {
			return a.cfg.Store(store).PointRate
		},
	}, a.logger)

	registry := fetch.NewRegistry()
	registry.Register(fetch.NewJSONAPIChecker(""))

	session := fetch.NewSession(registry, ingestor.Ingest, func(store string) time.Duration {
		return time.Duration(a.cfg.Store(store).DelaySec) * time.Second
	}, a.logger)

	interval := a.cfg.Interval()
	g.Go(func() error {
		a.logger.InfoContext(ctx, "watcher started",
			slog.Int("targets", len(targets)),
			slog.Duration("interval", interval),
		)

		runOnce := func() {
			if err := session.Run(ctx, targets); err != nil && ctx.Err() == nil {
				a.logger.ErrorContext(ctx, "crawl session failed", slog.String("error", err.Error()))
			}
		}

		runOnce()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				runOnce()
			}
		}
	})

	if deps.S3 != nil {
		exportInterval := time.Duration(a.cfg.S3.IntervalHours) * time.Hour
		if exportInterval <= 0 {
			exportInterval = 24 * time.Hour
		}
		exporter := s3blob.NewExporter(deps.S3, deps.Stores, "history", a.cfg.S3.RetentionDays, a.logger)
		g.Go(func() error {
			return exporter.Run(ctx, exportInterval)
		})
	}

	return nil
}

// startHTTPServer adds the HTTP server and its graceful shutdown to the
// errgroup.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, hub *ws.Hub) {
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(),
		Items: handler.NewItemsHandler(deps.Stores, deps.Cache, func(store string) float64 {
			return a.cfg.Store(store).PointRate
		}, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// detectConfig resolves the detector thresholds from configuration; the
// per-item currency rate is filled in at ingest time.
func (a *App) detectConfig() detect.Config {
	cfg := detect.DefaultConfig()
	if a.cfg.Check.Drop.IgnoreHours > 0 {
		cfg.IgnoreHours = a.cfg.Check.Drop.IgnoreHours
	}
	cfg.Lowest = detect.Threshold{
		Rate:  a.cfg.Check.Lowest.Rate,
		Value: a.cfg.Check.Lowest.Value,
	}
	for _, w := range a.cfg.Check.Drop.Windows {
		cfg.DropWindows = append(cfg.DropWindows, detect.Window{
			Days:      w.Days,
			Threshold: detect.Threshold{Rate: w.Rate, Value: w.Value},
		})
	}
	return cfg
}

func (a *App) newBackfillRunner(deps *Dependencies) *backfill.Runner {
	return backfill.New(deps.Stores, backfill.Options{
		Detect: a.detectConfig(),
		StoreCurrencyRate: func(store string) float64 {
			return a.cfg.CurrencyRate(a.cfg.Store(store).Currency)
		},
	}, a.logger)
}
