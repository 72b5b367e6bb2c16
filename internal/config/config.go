// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/pagecrawl/internal/crawler"
)

// Storage backends.
const (
	StorageNone   = "none"
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Publisher backends.
const (
	PublisherNone   = "none"
	PublisherMemory = "memory"
	PublisherGCP    = "gcp"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	API       APIConfig       `mapstructure:"api"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Cards     CardsConfig     `mapstructure:"cards"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ReadHeaderTimeoutSec   int `mapstructure:"read_header_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// APIConfig shapes the /crawl contract.
type APIConfig struct {
	// LegacyStatus answers every crawl failure with HTTP 200 and skips
	// request validation before the crawl.
	LegacyStatus bool  `mapstructure:"legacy_status"`
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

// CrawlerConfig governs the fetch pipeline.
type CrawlerConfig struct {
	UserAgent      string            `mapstructure:"user_agent"`
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
	RespectRobots  bool              `mapstructure:"respect_robots"`
	DefaultRender  string            `mapstructure:"default_render"`
	MaxBodyBytes   int               `mapstructure:"max_body_bytes"`
	Headers        map[string]string `mapstructure:"headers"`
	BlockedDomains []string          `mapstructure:"blocked_domains"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	SettleDelayMs   int  `mapstructure:"settle_delay_ms"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
	NoSandbox       bool `mapstructure:"no_sandbox"`
}

// ExtractConfig tunes content extraction.
type ExtractConfig struct {
	WordCountThreshold int      `mapstructure:"word_count_threshold"`
	ExcludedTags       []string `mapstructure:"excluded_tags"`
	FitMarkdown        bool     `mapstructure:"fit_markdown"`
}

// StorageConfig selects where raw HTML is archived.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	LocalDir    string `mapstructure:"local_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DatabaseConfig controls the crawl history store. An empty DSN disables it.
type DatabaseConfig struct {
	DSN                string `mapstructure:"dsn"`
	Table              string `mapstructure:"table"`
	MaxConns           int32  `mapstructure:"max_conns"`
	MinConns           int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMin int    `mapstructure:"max_conn_lifetime_minutes"`
	AutoMigrate        bool   `mapstructure:"auto_migrate"`
}

// CacheConfig controls the Redis result cache.
type CacheConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
	Prefix     string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// RateLimitConfig paces outbound fetches per host.
type RateLimitConfig struct {
	DefaultRPS float64            `mapstructure:"default_rps"`
	Burst      int                `mapstructure:"burst"`
	HostRPS    map[string]float64 `mapstructure:"host_rps"`
	MaxHosts   int                `mapstructure:"max_hosts"`
}

// MetricsConfig bounds Prometheus label cardinality.
type MetricsConfig struct {
	// Sites keep their own site label; other hosts report as "other".
	Sites []string `mapstructure:"sites"`
}

// CardsConfig controls the knowledge card endpoint.
type CardsConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	BaseURL        string `mapstructure:"base_url"`
	MaxTokens      int64  `mapstructure:"max_tokens"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxInputChars  int    `mapstructure:"max_input_chars"`
	MaxRetries     int    `mapstructure:"max_retries"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 90)
	v.SetDefault("server.read_header_timeout_seconds", 10)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("api.legacy_status", false)
	v.SetDefault("api.max_body_bytes", 1<<20)
	v.SetDefault("crawler.user_agent", "pagecrawl/0.1")
	v.SetDefault("crawler.timeout_seconds", 60)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.default_render", string(crawler.RenderAuto))
	v.SetDefault("crawler.max_body_bytes", 10<<20)
	v.SetDefault("crawler.blocked_domains", []string{})
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.settle_delay_ms", 500)
	v.SetDefault("headless.promotion_threshold", 60)
	v.SetDefault("headless.no_sandbox", false)
	v.SetDefault("extract.word_count_threshold", 0)
	v.SetDefault("extract.fit_markdown", true)
	v.SetDefault("extract.excluded_tags", []string{})
	v.SetDefault("storage.backend", StorageNone)
	v.SetDefault("storage.local_dir", "data/pages")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", "crawl_records")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime_minutes", 30)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl_seconds", 600)
	v.SetDefault("cache.prefix", "pagecrawl:result:")
	v.SetDefault("pubsub.backend", PublisherNone)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("ratelimit.default_rps", 0)
	v.SetDefault("ratelimit.burst", 1)
	v.SetDefault("ratelimit.max_hosts", 10000)
	v.SetDefault("metrics.sites", []string{})
	v.SetDefault("cards.enabled", false)
	v.SetDefault("cards.api_key", "")
	v.SetDefault("cards.model", "claude-3-7-sonnet-20250219")
	v.SetDefault("cards.base_url", "")
	v.SetDefault("cards.max_tokens", 4096)
	v.SetDefault("cards.timeout_seconds", 90)
	v.SetDefault("cards.max_input_chars", 100000)
	v.SetDefault("cards.max_retries", 2)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("server.request_timeout_seconds must be > 0"))
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		errs = append(errs, errors.New("auth.api_key must be set when auth is enabled"))
	}
	if c.API.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("api.max_body_bytes must be > 0"))
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("crawler.timeout_seconds must be > 0"))
	}
	if _, err := crawler.ParseRenderMode(c.Crawler.DefaultRender); err != nil {
		errs = append(errs, fmt.Errorf("crawler.default_render: %w", err))
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		errs = append(errs, errors.New("headless.max_parallel must be > 0 when headless is enabled"))
	}
	if c.Extract.WordCountThreshold < 0 {
		errs = append(errs, errors.New("extract.word_count_threshold must be >= 0"))
	}
	switch c.Storage.Backend {
	case "", StorageNone, StorageMemory:
	case StorageLocal:
		if strings.TrimSpace(c.Storage.LocalDir) == "" {
			errs = append(errs, errors.New("storage.local_dir is required for the local backend"))
		}
	case StorageGCS:
		if strings.TrimSpace(c.Storage.GCSBucket) == "" {
			errs = append(errs, errors.New("storage.gcs_bucket is required for the gcs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend))
	}
	if c.Cache.Enabled && strings.TrimSpace(c.Cache.Addr) == "" {
		errs = append(errs, errors.New("cache.addr must be set when the cache is enabled"))
	}
	switch c.PubSub.Backend {
	case "", PublisherNone:
	case PublisherMemory:
		if c.PubSub.TopicName == "" {
			errs = append(errs, errors.New("pubsub.topic_name is required when publishing"))
		}
	case PublisherGCP:
		if c.PubSub.ProjectID == "" || c.PubSub.TopicName == "" {
			errs = append(errs, errors.New("pubsub.project_id and pubsub.topic_name are required for the gcp backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("pubsub.backend %q is not supported", c.PubSub.Backend))
	}
	if c.Cards.Enabled {
		if strings.TrimSpace(c.Cards.APIKey) == "" {
			errs = append(errs, errors.New("cards.api_key must be set when cards are enabled"))
		}
		if strings.TrimSpace(c.Cards.Model) == "" {
			errs = append(errs, errors.New("cards.model must be set when cards are enabled"))
		}
	}
	if c.RateLimit.DefaultRPS < 0 {
		errs = append(errs, errors.New("ratelimit.default_rps must be >= 0"))
	}
	if c.Logging.Level != "" {
		if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
			errs = append(errs, fmt.Errorf("logging.level: %w", err))
		}
	}
	return errors.Join(errs...)
}

// RequestTimeout bounds a single HTTP request end to end.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// CrawlTimeout bounds a single crawl.
func (c Config) CrawlTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful HTTP shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// PublishTopic returns the topic completion events go to, or "" when
// publishing is disabled.
func (c Config) PublishTopic() string {
	switch c.PubSub.Backend {
	case PublisherMemory, PublisherGCP:
		return c.PubSub.TopicName
	default:
		return ""
	}
}

// MetricSites lists the hosts labeled individually in metrics: the
// configured sites plus every host with its own rate.
func (c Config) MetricSites() []string {
	sites := append([]string(nil), c.Metrics.Sites...)
	for host := range c.RateLimit.HostRPS {
		sites = append(sites, host)
	}
	return sites
}

// CardsTimeout returns the knowledge card generation budget.
func (c Config) CardsTimeout() time.Duration {
	return time.Duration(c.Cards.TimeoutSeconds) * time.Second
}
