package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PRICEWATCH_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PRICEWATCH_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Check ──
	setInt(&cfg.Check.IntervalSec, "PRICEWATCH_CHECK_INTERVAL_SEC")
	setFloat64(&cfg.Check.Drop.IgnoreHours, "PRICEWATCH_CHECK_DROP_IGNORE_HOURS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PRICEWATCH_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PRICEWATCH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PRICEWATCH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PRICEWATCH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PRICEWATCH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PRICEWATCH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PRICEWATCH_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PRICEWATCH_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PRICEWATCH_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PRICEWATCH_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PRICEWATCH_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PRICEWATCH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PRICEWATCH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PRICEWATCH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PRICEWATCH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PRICEWATCH_REDIS_MAX_RETRIES")
	setInt(&cfg.Redis.TTLMinutes, "PRICEWATCH_REDIS_TTL_MINUTES")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PRICEWATCH_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PRICEWATCH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PRICEWATCH_S3_REGION")
	setStr(&cfg.S3.Bucket, "PRICEWATCH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PRICEWATCH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PRICEWATCH_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "PRICEWATCH_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "PRICEWATCH_S3_RETENTION_DAYS")
	setInt(&cfg.S3.IntervalHours, "PRICEWATCH_S3_INTERVAL_HOURS")

	// ── Notify ──
	setStr(&cfg.Notify.SlackWebhookURL, "PRICEWATCH_NOTIFY_SLACK_WEBHOOK_URL")
	setStr(&cfg.Notify.DiscordWebhookURL, "PRICEWATCH_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PRICEWATCH_NOTIFY_EVENTS")

	// ── Server ──
	setInt(&cfg.Server.Port, "PRICEWATCH_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PRICEWATCH_SERVER_CORS_ORIGINS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PRICEWATCH_MODE")
	setStr(&cfg.LogLevel, "PRICEWATCH_LOG_LEVEL")
	setStr(&cfg.TargetsFile, "PRICEWATCH_TARGETS_FILE")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
