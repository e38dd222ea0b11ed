package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Broker.Provider != "amqp" || cfg.Broker.Port != 5672 || cfg.Broker.PoolSize != 8 {
		t.Fatalf("unexpected broker defaults: %+v", cfg.Broker)
	}
	if cfg.Crawler.RobotsToken != "Gfd" || cfg.Crawler.MaxInFlight != 100 {
		t.Fatalf("unexpected crawler defaults: %+v", cfg.Crawler)
	}
	if cfg.Crawler.IdleInterval != 100*time.Millisecond || cfg.Crawler.BackoffInterval != 5*time.Second {
		t.Fatalf("unexpected crawler intervals: %+v", cfg.Crawler)
	}
	if cfg.Indexer.IdleInterval != 20*time.Millisecond {
		t.Fatalf("unexpected indexer idle interval %v", cfg.Indexer.IdleInterval)
	}
	if cfg.DB.Table != "website_records" || cfg.Storage.Prefix != "pages" {
		t.Fatalf("unexpected storage defaults: %+v %+v", cfg.DB, cfg.Storage)
	}
	if got := cfg.FetchTimeout(); got != 15*time.Second {
		t.Fatalf("expected fetch timeout 15s, got %v", got)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
broker:
  provider: memory
  pool_size: 3
crawler:
  robots_token: Other
  max_in_flight: 6
  idle_interval: 250ms
  respect_robots: true
  rate_limit_per_host: 2.5
http:
  timeout_seconds: 45
indexer:
  max_in_flight: 2
db:
  dsn: postgres://localhost/gfd
  max_conns: 4
storage:
  provider: local
  base_dir: /tmp/pages
server:
  port: 9090
  request_timeout_seconds: 30
auth:
  enabled: true
  api_key: secret
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.RequestTimeout() != 30*time.Second {
		t.Fatalf("expected server overrides, got %+v", cfg.Server)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Broker.Provider != "memory" || cfg.Broker.PoolSize != 3 {
		t.Fatalf("expected broker overrides, got %+v", cfg.Broker)
	}
	if cfg.Crawler.MaxInFlight != 6 || !cfg.Crawler.RespectRobots || cfg.Crawler.RateLimitPerHost != 2.5 {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	if cfg.Crawler.IdleInterval != 250*time.Millisecond {
		t.Fatalf("expected idle interval 250ms, got %v", cfg.Crawler.IdleInterval)
	}
	if cfg.DB.DSN != "postgres://localhost/gfd" || cfg.DB.MaxConns != 4 {
		t.Fatalf("expected db overrides: %+v", cfg.DB)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected production logging")
	}
	if got := cfg.FetchTimeout(); got != 45*time.Second {
		t.Fatalf("expected fetch timeout 45s, got %v", got)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GFD_BROKER_HOST", "rabbit.internal")
	t.Setenv("GFD_CRAWLER_MAX_IN_FLIGHT", "12")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Broker.Host != "rabbit.internal" {
		t.Fatalf("expected env host, got %q", cfg.Broker.Host)
	}
	if cfg.Crawler.MaxInFlight != 12 {
		t.Fatalf("expected env max in flight, got %d", cfg.Crawler.MaxInFlight)
	}
	if cfg.Crawler.RateLimitMaxHost != 10000 {
		t.Fatalf("expected default rate limit host bound, got %d", cfg.Crawler.RateLimitMaxHost)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Broker:  BrokerConfig{Provider: "amqp", Host: "localhost", Port: 5672, PoolSize: 1},
		Crawler: CrawlerConfig{MaxInFlight: 1},
		Indexer: IndexerConfig{MaxInFlight: 1},
		HTTP:    HTTPConfig{TimeoutSeconds: 10},
		Server:  ServerConfig{Port: 8080},
		Storage: StorageConfig{Provider: "memory"},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "unknown broker", mutate: func(c *Config) { c.Broker.Provider = "kafka" }, want: "broker.provider"},
		{name: "empty host", mutate: func(c *Config) { c.Broker.Host = " " }, want: "broker.host"},
		{name: "bad port", mutate: func(c *Config) { c.Broker.Port = 0 }, want: "broker.port"},
		{name: "pool size", mutate: func(c *Config) { c.Broker.PoolSize = 0 }, want: "broker.pool_size"},
		{name: "crawl concurrency", mutate: func(c *Config) { c.Crawler.MaxInFlight = 0 }, want: "crawler.max_in_flight"},
		{name: "negative rate", mutate: func(c *Config) { c.Crawler.RateLimitPerHost = -1 }, want: "crawler.rate_limit_per_host"},
		{name: "index concurrency", mutate: func(c *Config) { c.Indexer.MaxInFlight = 0 }, want: "indexer.max_in_flight"},
		{name: "invalid timeout", mutate: func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, want: "http.timeout_seconds"},
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "local without dir", mutate: func(c *Config) { c.Storage.Provider = "local" }, want: "storage.base_dir"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Provider = "gcs" }, want: "storage.gcs_bucket"},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Provider = "s3" }, want: "storage.provider"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base
			tt.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}

	memoryBroker := base
	memoryBroker.Broker = BrokerConfig{Provider: "memory", PoolSize: 1}
	if err := memoryBroker.Validate(); err != nil {
		t.Fatalf("memory broker needs no host: %v", err)
	}
}
