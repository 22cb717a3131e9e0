// Package config содержит логику чтения конфигурации каталога.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config содержит параметры конфигурации каталога.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	RedisURL    string `env:"REDIS_URL"`

	KafkaBrokers     []string `env:"KAFKA_BROKERS" envSeparator:","`
	SearchTopic      string   `env:"SEARCH_TOPIC"`
	SearchGroupID    string   `env:"SEARCH_GROUP_ID"`
	NotifyTopic      string   `env:"NOTIFY_TOPIC"`
	NotifyWebhookURL string   `env:"NOTIFY_WEBHOOK_URL"`

	AuthSecret string `env:"AUTH_SECRET"`

	CacheTTL              time.Duration `env:"CACHE_TTL"`
	OrderTxTimeout        time.Duration `env:"ORDER_TX_TIMEOUT"`
	ReconcileInterval     time.Duration `env:"RECONCILE_INTERVAL"`
	ReconcileBatchSize    int           `env:"RECONCILE_BATCH_SIZE"`
	ReconcileRunTimeout   time.Duration `env:"RECONCILE_RUN_TIMEOUT"`
	SearchRebuildInterval time.Duration `env:"SEARCH_REBUILD_INTERVAL"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Parse считывает конфигурацию из флагов командной строки, файла .env и
// переменных окружения. Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	var brokers string
	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RedisURL, "c", "", "redis URL for the catalog cache")
	flag.StringVar(&brokers, "k", "", "comma separated kafka brokers")
	flag.StringVar(&cfg.SearchTopic, "search-topic", "catalog.search-sync", "kafka topic for search index sync")
	flag.StringVar(&cfg.SearchGroupID, "search-group", "catalog-indexer", "kafka consumer group of the indexer")
	flag.StringVar(&cfg.NotifyTopic, "notify-topic", "catalog.notifications", "kafka topic for notifications")
	flag.StringVar(&cfg.NotifyWebhookURL, "w", "", "notification webhook URL")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret for principal token signatures")
	flag.DurationVar(&cfg.CacheTTL, "cache-ttl", 5*time.Minute, "ttl of cache entries")
	flag.DurationVar(&cfg.OrderTxTimeout, "order-timeout", 5*time.Second, "order transaction timeout")
	flag.DurationVar(&cfg.ReconcileInterval, "reconcile-interval", time.Minute, "interval between reconcile runs")
	flag.IntVar(&cfg.ReconcileBatchSize, "reconcile-batch", 100, "reconcile page and batch size")
	flag.DurationVar(&cfg.ReconcileRunTimeout, "reconcile-timeout", 30*time.Second, "reconcile run timeout")
	flag.DurationVar(&cfg.SearchRebuildInterval, "rebuild-interval", time.Hour, "interval between search index rebuilds")
	flag.StringVar(&cfg.OTLPEndpoint, "otlp", "", "OTLP gRPC endpoint for traces")

	flag.Parse()

	if brokers != "" {
		cfg.KafkaBrokers = splitList(brokers)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	// env.Parse меняет только поля, для которых задана переменная окружения.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.KafkaBrokers = splitList(strings.Join(cfg.KafkaBrokers, ","))

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	for name, d := range map[string]time.Duration{
		"CACHE_TTL":               c.CacheTTL,
		"ORDER_TX_TIMEOUT":        c.OrderTxTimeout,
		"RECONCILE_INTERVAL":      c.ReconcileInterval,
		"RECONCILE_RUN_TIMEOUT":   c.ReconcileRunTimeout,
		"SEARCH_REBUILD_INTERVAL": c.SearchRebuildInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.ReconcileBatchSize <= 0 {
		return fmt.Errorf("RECONCILE_BATCH_SIZE must be positive, got %d", c.ReconcileBatchSize)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
