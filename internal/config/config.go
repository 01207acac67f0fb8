// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/govnewsbr/pipeline/internal/api"
	"github.com/govnewsbr/pipeline/internal/index"
	"github.com/govnewsbr/pipeline/internal/publisher"
	"github.com/govnewsbr/pipeline/internal/ratelimit"
	"github.com/govnewsbr/pipeline/internal/scraper"
	"github.com/govnewsbr/pipeline/internal/store/gcs"
	"github.com/govnewsbr/pipeline/internal/store/local"
	"github.com/govnewsbr/pipeline/internal/store/postgres"
)

// Config captures all pipeline configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig          `mapstructure:"logging"`
	Store     StoreConfig            `mapstructure:"store"`
	Index     index.Config           `mapstructure:"index"`
	Scraper   ScraperConfig          `mapstructure:"scraper"`
	RateLimit ratelimit.Config       `mapstructure:"ratelimit"`
	Retry     RetryConfig            `mapstructure:"retry"`
	PubSub    publisher.PubSubConfig `mapstructure:"pubsub"`
	Server    api.Config             `mapstructure:"server"`
	Migration MigrationConfig        `mapstructure:"migration"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// StoreConfig selects and configures the canonical store backend.
type StoreConfig struct {
	// Provider is one of "local", "gcs", "postgres" or "memory".
	Provider string          `mapstructure:"provider"`
	Local    local.Config    `mapstructure:"local"`
	GCS      gcs.Config      `mapstructure:"gcs"`
	Postgres postgres.Config `mapstructure:"postgres"`
}

// ScraperConfig governs portal scraping behavior.
type ScraperConfig struct {
	RegistryPath string         `mapstructure:"registry_path"`
	Parallelism  int            `mapstructure:"parallelism"`
	Portal       scraper.Config `mapstructure:"portal"`
}

// RetryConfig describes the retry policy applied to store and index I/O.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// MigrationConfig locates the migration ledger.
type MigrationConfig struct {
	LedgerPath string `mapstructure:"ledger_path"`
	EventTopic string `mapstructure:"event_topic"`
}

// Load builds a Config from disk and environment. Environment variables use
// the GOVNEWS prefix, e.g. GOVNEWS_STORE_PROVIDER.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GOVNEWS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("store.provider", "local")
	v.SetDefault("store.local.base_dir", "data")
	v.SetDefault("store.local.export_csv", true)
	v.SetDefault("index.collection", index.CollectionName)
	v.SetDefault("index.batch_size", index.DefaultBatchSize)
	v.SetDefault("index.timeout", 30*time.Second)
	v.SetDefault("scraper.registry_path", "agencies.yaml")
	v.SetDefault("scraper.parallelism", 4)
	v.SetDefault("scraper.portal.page_size", 30)
	v.SetDefault("scraper.portal.max_pages", 200)
	v.SetDefault("scraper.portal.timeout", 30*time.Second)
	v.SetDefault("ratelimit.requests_per_second", 1)
	v.SetDefault("ratelimit.burst", 1)
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.base_delay", 2*time.Second)
	v.SetDefault("retry.max_delay", 30*time.Second)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("migration.ledger_path", "data/migration.yaml")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Store.Provider {
	case "local", "memory":
	case "gcs":
		if c.Store.GCS.Bucket == "" {
			return fmt.Errorf("store.gcs.bucket must be set when store.provider is gcs")
		}
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn must be set when store.provider is postgres")
		}
	default:
		return fmt.Errorf("unknown store.provider %q", c.Store.Provider)
	}
	if c.Scraper.Parallelism <= 0 {
		return fmt.Errorf("scraper.parallelism must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	return nil
}
