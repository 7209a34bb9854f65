// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. IMGHARVEST_WORKER_CONCURRENCY.
const EnvPrefix = "IMGHARVEST"

// Discovery providers.
const (
	ProviderHeadless = "headless"
	ProviderStatic   = "static"
	ProviderFeed     = "feed"
	ProviderFixture  = "fixture"
)

// Storage backends.
const (
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// HTTPConfig configures the download client.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// UserAgent overrides the randomized browser User-Agent when set.
	UserAgent      string  `mapstructure:"user_agent"`
	MaxBodyBytes   int     `mapstructure:"max_body_bytes"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// WorkerConfig sizes the download pool.
type WorkerConfig struct {
	Concurrency        int `mapstructure:"concurrency"`
	GracePeriodSeconds int `mapstructure:"grace_period_seconds"`
}

// DiscoveryConfig selects and tunes the discovery provider.
type DiscoveryConfig struct {
	Provider       string         `mapstructure:"provider"`
	SearchURL      string         `mapstructure:"search_url"`
	Retries        int            `mapstructure:"retries"`
	RetryBackoffMs int            `mapstructure:"retry_backoff_ms"`
	Limit          int            `mapstructure:"limit"`
	Headless       HeadlessConfig `mapstructure:"headless"`
	Static         StaticConfig   `mapstructure:"static"`
	Feed           FeedConfig     `mapstructure:"feed"`
	Fixture        FixtureConfig  `mapstructure:"fixture"`
}

// HeadlessConfig configures browser-rendered discovery.
type HeadlessConfig struct {
	WaitSelector       string `mapstructure:"wait_selector"`
	WaitTimeoutSeconds int    `mapstructure:"wait_timeout_seconds"`
	NavTimeoutSeconds  int    `mapstructure:"nav_timeout_seconds"`
	SettleDelayMs      int    `mapstructure:"settle_delay_ms"`
	Scrolls            int    `mapstructure:"scrolls"`
	ScrollPauseMs      int    `mapstructure:"scroll_pause_ms"`
	ItemSelector       string `mapstructure:"item_selector"`
	ItemAttribute      string `mapstructure:"item_attribute"`
	ItemJSONField      string `mapstructure:"item_json_field"`
}

// StaticConfig configures server-rendered page discovery.
type StaticConfig struct {
	Selector  string `mapstructure:"selector"`
	Attribute string `mapstructure:"attribute"`
}

// FeedConfig configures RSS/Atom discovery.
type FeedConfig struct {
	URL string `mapstructure:"url"`
}

// FixtureConfig points at a YAML term-to-URL file.
type FixtureConfig struct {
	Path string `mapstructure:"path"`
}

// StorageConfig sets where downloaded artifacts land.
type StorageConfig struct {
	Backend             string `mapstructure:"backend"`
	BaseDir             string `mapstructure:"base_dir"`
	GCSBucket           string `mapstructure:"gcs_bucket"`
	Prefix              string `mapstructure:"prefix"`
	ContentType         string `mapstructure:"content_type"`
	WriteTimeoutSeconds int    `mapstructure:"write_timeout_seconds"`
}

// DBConfig controls the optional outcome ledger.
type DBConfig struct {
	DSN         string `mapstructure:"dsn"`
	Table       string `mapstructure:"table"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
	MaxConns    int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig enables the Prometheus endpoint when ListenAddr is set.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load builds a Config from an optional .env file, the environment and an
// optional config file at path.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
	v.SetDefault("http.timeout_seconds", 10)
	v.SetDefault("http.user_agent", "")
	v.SetDefault("http.max_body_bytes", 0)
	v.SetDefault("http.rate_limit_rps", 0)
	v.SetDefault("http.rate_limit_burst", 1)
	v.SetDefault("worker.concurrency", 8)
	v.SetDefault("worker.grace_period_seconds", 5)
	v.SetDefault("discovery.provider", ProviderHeadless)
	v.SetDefault("discovery.search_url",
		"https://www.google.com/search?q={term}&source=lnms&tbm=isch")
	v.SetDefault("discovery.retries", 1)
	v.SetDefault("discovery.retry_backoff_ms", 1000)
	v.SetDefault("discovery.limit", 0)
	v.SetDefault("discovery.headless.wait_selector", ".med")
	v.SetDefault("discovery.headless.wait_timeout_seconds", 100)
	v.SetDefault("discovery.headless.nav_timeout_seconds", 60)
	v.SetDefault("discovery.headless.settle_delay_ms", 2000)
	v.SetDefault("discovery.headless.scrolls", 10)
	v.SetDefault("discovery.headless.scroll_pause_ms", 200)
	v.SetDefault("discovery.headless.item_selector", "div.rg_meta")
	v.SetDefault("discovery.headless.item_attribute", "innerHTML")
	v.SetDefault("discovery.headless.item_json_field", "ou")
	v.SetDefault("discovery.static.selector", "img[src]")
	v.SetDefault("discovery.static.attribute", "src")
	v.SetDefault("discovery.feed.url", "")
	v.SetDefault("discovery.fixture.path", "")
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.base_dir", "pictures")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "pictures")
	v.SetDefault("storage.content_type", "image/jpeg")
	v.SetDefault("storage.write_timeout_seconds", 30)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "harvest_outcomes")
	v.SetDefault("db.auto_migrate", false)
	v.SetDefault("db.max_conns", 0)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("metrics.listen_addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxBodyBytes < 0 {
		return fmt.Errorf("http.max_body_bytes must be >= 0")
	}
	if c.HTTP.RateLimitRPS < 0 {
		return fmt.Errorf("http.rate_limit_rps must be >= 0")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.GracePeriodSeconds < 0 {
		return fmt.Errorf("worker.grace_period_seconds must be >= 0")
	}
	if c.Discovery.Retries < 0 || c.Discovery.Retries > 1 {
		return fmt.Errorf("discovery.retries must be 0 or 1")
	}
	if c.Discovery.RetryBackoffMs < 0 {
		return fmt.Errorf("discovery.retry_backoff_ms must be >= 0")
	}
	switch c.Discovery.Provider {
	case ProviderHeadless, ProviderStatic:
		if c.Discovery.SearchURL == "" {
			return fmt.Errorf("discovery.search_url is required for the %s provider", c.Discovery.Provider)
		}
	case ProviderFeed:
		if c.Discovery.Feed.URL == "" {
			return fmt.Errorf("discovery.feed.url is required for the feed provider")
		}
	case ProviderFixture:
		if c.Discovery.Fixture.Path == "" {
			return fmt.Errorf("discovery.fixture.path is required for the fixture provider")
		}
	default:
		return fmt.Errorf("discovery.provider %q is not supported", c.Discovery.Provider)
	}
	switch c.Storage.Backend {
	case BackendLocal:
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.Storage.WriteTimeoutSeconds <= 0 {
		return fmt.Errorf("storage.write_timeout_seconds must be > 0")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	return nil
}

// RequestTimeout is the per-download GET budget.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// GracePeriod is how long in-flight downloads may run after shutdown starts.
func (c Config) GracePeriod() time.Duration {
	return time.Duration(c.Worker.GracePeriodSeconds) * time.Second
}

// WriteTimeout bounds each storage write.
func (c Config) WriteTimeout() time.Duration {
	return time.Duration(c.Storage.WriteTimeoutSeconds) * time.Second
}

// RetryBackoff is the pause before the discovery retry.
func (c Config) RetryBackoff() time.Duration {
	return time.Duration(c.Discovery.RetryBackoffMs) * time.Millisecond
}
