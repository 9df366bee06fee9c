package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "pricewatch/internal/blob/s3"
	"pricewatch/internal/cache/redis"
	"pricewatch/internal/config"
	"pricewatch/internal/domain"
	"pricewatch/internal/notify"
	"pricewatch/internal/store/memory"
	"pricewatch/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores is Postgres-backed when a database is configured, in-memory
	// otherwise.
	Stores domain.Stores

	// Cache is nil when Redis is disabled.
	Cache domain.SummaryCache

	// S3 is nil when history export is disabled.
	S3 *s3blob.Client

	// Senders are the configured notification transports; may be empty.
	Senders []notify.Sender
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Store backend ---
	if cfg.Postgres.Enabled() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.Migrate(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Stores = pgClient.Stores()
	} else {
		logger.WarnContext(ctx, "no database configured, using in-memory store")
		deps.Stores = memory.New().Stores()
	}

	// --- Redis summary cache ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Cache = redis.NewSummaryCache(redisClient, time.Duration(cfg.Redis.TTLMinutes)*time.Minute)
	}

	// --- S3 cold-storage export ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         true,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		deps.S3 = s3Client
	}

	// --- Notifications ---
	if cfg.Notify.SlackWebhookURL != "" {
		deps.Senders = append(deps.Senders, notify.NewSlackSender(cfg.Notify.SlackWebhookURL))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		deps.Senders = append(deps.Senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}

	return deps, cleanup, nil
}
