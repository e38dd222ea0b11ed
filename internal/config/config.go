// Package config loads and validates gfd-crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Broker    BrokerConfig    `mapstructure:"broker"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Indexer   IndexerConfig   `mapstructure:"indexer"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	DB        DBConfig        `mapstructure:"db"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// BrokerConfig selects and addresses the message broker.
type BrokerConfig struct {
	Provider           string `mapstructure:"provider"`
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	VHost              string `mapstructure:"vhost"`
	PoolSize           int    `mapstructure:"pool_size"`
	DurableQueues      bool   `mapstructure:"durable_queues"`
	DialTimeoutSeconds int    `mapstructure:"dial_timeout_seconds"`
}

// CrawlerConfig governs the crawl loop.
type CrawlerConfig struct {
	UserAgent        string        `mapstructure:"user_agent"`
	RobotsToken      string        `mapstructure:"robots_token"`
	MaxInFlight      int           `mapstructure:"max_in_flight"`
	IdleInterval     time.Duration `mapstructure:"idle_interval"`
	BackoffInterval  time.Duration `mapstructure:"backoff_interval"`
	RespectRobots    bool          `mapstructure:"respect_robots"`
	RateLimitPerHost float64       `mapstructure:"rate_limit_per_host"`
	RateLimitBurst   int           `mapstructure:"rate_limit_burst"`
	RateLimitMaxHost int           `mapstructure:"rate_limit_max_hosts"`
	ArchivePages     bool          `mapstructure:"archive_pages"`
	BlockedHosts     []string      `mapstructure:"blocked_hosts"`
}

// HTTPConfig configures the page fetcher.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int `mapstructure:"max_body_bytes"`
}

// IndexerConfig governs the index loop.
type IndexerConfig struct {
	MaxInFlight        int           `mapstructure:"max_in_flight"`
	IdleInterval       time.Duration `mapstructure:"idle_interval"`
	BackoffInterval    time.Duration `mapstructure:"backoff_interval"`
	EmbeddingCacheSize int           `mapstructure:"embedding_cache_size"`
}

// SchedulerConfig governs the feedback loop.
type SchedulerConfig struct {
	RegistrySize    int           `mapstructure:"registry_size"`
	IdleInterval    time.Duration `mapstructure:"idle_interval"`
	BackoffInterval time.Duration `mapstructure:"backoff_interval"`
}

// DBConfig controls access to the website store. An empty DSN selects the
// in-memory store.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// StorageConfig selects where archived pages go.
type StorageConfig struct {
	Provider     string `mapstructure:"provider"`
	BaseDir      string `mapstructure:"base_dir"`
	GCSBucket    string `mapstructure:"gcs_bucket"`
	Prefix       string `mapstructure:"prefix"`
	CacheControl string `mapstructure:"cache_control"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig names the service in traces.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GFD")
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
	v.SetDefault("broker.provider", "amqp")
	v.SetDefault("broker.host", "localhost")
	v.SetDefault("broker.port", 5672)
	v.SetDefault("broker.user", "guest")
	v.SetDefault("broker.password", "guest")
	v.SetDefault("broker.vhost", "/")
	v.SetDefault("broker.pool_size", 8)
	v.SetDefault("broker.durable_queues", false)
	v.SetDefault("broker.dial_timeout_seconds", 10)
	v.SetDefault("crawler.user_agent", "GfdCrawler/1.0 (+https://github.com/JakeFAU/gfd-crawler)")
	v.SetDefault("crawler.robots_token", "Gfd")
	v.SetDefault("crawler.max_in_flight", 100)
	v.SetDefault("crawler.idle_interval", 100*time.Millisecond)
	v.SetDefault("crawler.backoff_interval", 5*time.Second)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.rate_limit_per_host", 0.0)
	v.SetDefault("crawler.rate_limit_burst", 1)
	v.SetDefault("crawler.rate_limit_max_hosts", 10000)
	v.SetDefault("crawler.archive_pages", false)
	v.SetDefault("crawler.blocked_hosts", []string{})
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_body_bytes", 10<<20)
	v.SetDefault("indexer.max_in_flight", 8)
	v.SetDefault("indexer.idle_interval", 20*time.Millisecond)
	v.SetDefault("indexer.backoff_interval", 5*time.Second)
	v.SetDefault("indexer.embedding_cache_size", 1000)
	v.SetDefault("scheduler.registry_size", 10000)
	v.SetDefault("scheduler.idle_interval", 100*time.Millisecond)
	v.SetDefault("scheduler.backoff_interval", 5*time.Second)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "website_records")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("db.migrate", true)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.base_dir", "")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.cache_control", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("telemetry.service_name", "gfd-crawler")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Broker.Provider {
	case "amqp":
		if strings.TrimSpace(c.Broker.Host) == "" {
			return fmt.Errorf("broker.host is required for the amqp provider")
		}
		if c.Broker.Port <= 0 || c.Broker.Port > 65535 {
			return fmt.Errorf("broker.port must be in 1..65535")
		}
	case "memory":
	default:
		return fmt.Errorf("broker.provider must be amqp or memory, got %q", c.Broker.Provider)
	}
	if c.Broker.PoolSize <= 0 {
		return fmt.Errorf("broker.pool_size must be > 0")
	}
	if c.Crawler.MaxInFlight <= 0 {
		return fmt.Errorf("crawler.max_in_flight must be > 0")
	}
	if c.Crawler.RateLimitPerHost < 0 {
		return fmt.Errorf("crawler.rate_limit_per_host must be >= 0")
	}
	if c.Indexer.MaxInFlight <= 0 {
		return fmt.Errorf("indexer.max_in_flight must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Storage.Provider {
	case "memory":
	case "local":
		if strings.TrimSpace(c.Storage.BaseDir) == "" {
			return fmt.Errorf("storage.base_dir is required for the local provider")
		}
	case "gcs":
		if strings.TrimSpace(c.Storage.GCSBucket) == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs provider")
		}
	default:
		return fmt.Errorf("storage.provider must be memory, local or gcs, got %q", c.Storage.Provider)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// FetchTimeout converts http.timeout_seconds into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RequestTimeout converts server.request_timeout_seconds into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}
