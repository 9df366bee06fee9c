// Package config defines the top-level configuration for the price watcher
// and provides loading and validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by PRICEWATCH_* environment
// variables.
type Config struct {
	Check       CheckConfig    `toml:"check"`
	Stores      []StoreConfig  `toml:"store"`
	Postgres    PostgresConfig `toml:"postgres"`
	Redis       RedisConfig    `toml:"redis"`
	S3          S3Config       `toml:"s3"`
	Notify      NotifyConfig   `toml:"notify"`
	Server      ServerConfig   `toml:"server"`
	Mode        string         `toml:"mode"`
	LogLevel    string         `toml:"log_level"`
	TargetsFile string         `toml:"targets_file"`
}

// CheckConfig holds crawl scheduling and event-detection thresholds.
type CheckConfig struct {
	IntervalSec int            `toml:"interval_sec"`
	Drop        DropConfig     `toml:"drop"`
	Lowest      LowestConfig   `toml:"lowest"`
	Currency    []CurrencyRate `toml:"currency"`
}

// DropConfig configures the price_drop detector and the shared de-dup window.
type DropConfig struct {
	IgnoreHours float64      `toml:"ignore_hours"`
	Windows     []DropWindow `toml:"windows"`
}

// DropWindow is one price_drop comparison window. Rate is a percentage of the
// window minimum; Value is an absolute amount in the base currency. Either
// clause firing is sufficient; leaving both unset fires on any drop.
type DropWindow struct {
	Days  int      `toml:"days"`
	Rate  *float64 `toml:"rate"`
	Value *float64 `toml:"value"`
}

// LowestConfig optionally gates the lowest_price detector.
type LowestConfig struct {
	Rate  *float64 `toml:"rate"`
	Value *float64 `toml:"value"`
}

// CurrencyRate maps a store's currency label to a base-currency multiplier
// used for value-threshold comparisons.
type CurrencyRate struct {
	Label string  `toml:"label"`
	Rate  float64 `toml:"rate"`
}

// StoreConfig holds per-storefront settings.
type StoreConfig struct {
	Name      string  `toml:"name"`
	PointRate float64 `toml:"point_rate"` // percent rebate applied at read time
	DelaySec  int     `toml:"delay_sec"`  // inter-request pacing within the store
	Currency  string  `toml:"currency"`   // currency label, empty = base currency
}

// PostgresConfig holds PostgreSQL connection parameters. An empty DSN and
// Host selects the in-memory store (useful for trials and tests).
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// Enabled reports whether a database connection is configured.
func (c PostgresConfig) Enabled() bool {
	return strings.TrimSpace(c.DSN) != "" || strings.TrimSpace(c.Host) != ""
}

// RedisConfig holds Redis connection parameters for the item summary cache.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TTLMinutes int    `toml:"ttl_minutes"`
}

// S3Config holds object-storage parameters for cold-storage history export.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
	RetentionDays  int    `toml:"retention_days"`
	IntervalHours  int    `toml:"interval_hours"`
}

// NotifyConfig holds notification transport settings. Events filters outbound
// messages by event type; an empty list allows all types.
type NotifyConfig struct {
	SlackWebhookURL   string   `toml:"slack_webhook_url"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ServerConfig holds the read-API HTTP server settings. Whether the server
// runs at all is decided by the mode (serve and full start it).
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// Defaults returns the built-in configuration defaults.
func Defaults() Config {
	return Config{
		Check: CheckConfig{
			IntervalSec: 3600,
			Drop:        DropConfig{IgnoreHours: 24},
		},
		Postgres: PostgresConfig{
			Port:          5432,
			SSLMode:       "disable",
			PoolMaxConns:  4,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			TTLMinutes: 60,
		},
		S3: S3Config{
			RetentionDays: 365,
			IntervalHours: 24,
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Mode:        "watch",
		LogLevel:    "info",
		TargetsFile: "targets.yaml",
	}
}

// Interval returns the spacing between crawl sessions.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Check.IntervalSec) * time.Second
}

// Store returns the configuration for the named store; unnamed stores fall
// back to zero values (no rebate, no pacing, base currency).
func (c *Config) Store(name string) StoreConfig {
	for _, s := range c.Stores {
		if s.Name == name {
			return s
		}
	}
	return StoreConfig{Name: name}
}

// CurrencyRate resolves the rate for a currency label; unknown or empty
// labels map to the base currency (1.0).
func (c *Config) CurrencyRate(label string) float64 {
	if label == "" {
		return 1.0
	}
	for _, cr := range c.Check.Currency {
		if cr.Label == label && cr.Rate > 0 {
			return cr.Rate
		}
	}
	return 1.0
}

// Validate checks the configuration for inconsistencies that would produce a
// misbehaving watcher rather than an outright crash.
func (c *Config) Validate() error {
	switch c.Mode {
	case "watch", "serve", "full", "backfill", "rebuild":
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}

	if c.Check.IntervalSec <= 0 {
		return fmt.Errorf("config: check.interval_sec must be positive")
	}
	if c.Check.Drop.IgnoreHours <= 0 {
		return fmt.Errorf("config: check.drop.ignore_hours must be positive")
	}

	lastDays := 0
	for i, w := range c.Check.Drop.Windows {
		if w.Days <= 0 {
			return fmt.Errorf("config: drop window %d: days must be positive", i)
		}
		if w.Days <= lastDays {
			return fmt.Errorf("config: drop windows must be sorted ascending by days")
		}
		lastDays = w.Days
		if w.Rate != nil && *w.Rate <= 0 {
			return fmt.Errorf("config: drop window %d: rate must be positive", i)
		}
		if w.Value != nil && *w.Value <= 0 {
			return fmt.Errorf("config: drop window %d: value must be positive", i)
		}
	}

	for _, cr := range c.Check.Currency {
		if cr.Label == "" || cr.Rate <= 0 {
			return fmt.Errorf("config: currency entries need a label and a positive rate")
		}
	}

	for _, s := range c.Stores {
		if s.Name == "" {
			return fmt.Errorf("config: store entries need a name")
		}
		if s.PointRate < 0 || s.PointRate >= 100 {
			return fmt.Errorf("config: store %q: point_rate must be in [0, 100)", s.Name)
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port out of range")
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" || c.S3.Region == "" {
			return fmt.Errorf("config: s3 export needs bucket and region")
		}
		if c.S3.RetentionDays <= 0 {
			return fmt.Errorf("config: s3.retention_days must be positive")
		}
	}

	return nil
}
