package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"repriceflow/models"
)

type Config struct {
	Repriceflow RepriceflowConfig `yaml:"repriceflow"`
	Pricing     PricingConfig     `yaml:"pricing"`
	Sweep       SweepConfig       `yaml:"sweep"`
	Marketplace MarketplaceConfig `yaml:"marketplace"`
	Events      EventsConfig      `yaml:"events"`
	Storage     StorageConfig     `yaml:"storage"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Secrets     SecretsConfig     `yaml:"secrets"`
	Retry       RetryConfig       `yaml:"retry"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type RepriceflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type PricingConfig struct {
	MarkupPercentage float64  `yaml:"markup_percentage"`
	PriceFloor       *float64 `yaml:"price_floor"`
	Tolerance        *float64 `yaml:"tolerance"`
}

// Policy converts the configured pricing section into the immutable markup
// policy used by the decision engine.
func (p PricingConfig) Policy() (models.MarkupPolicy, error) {
	policy := models.MarkupPolicy{
		MarkupPercentage: decimal.NewFromFloat(p.MarkupPercentage),
		Tolerance:        models.DefaultTolerance,
	}
	if p.PriceFloor != nil {
		floor := decimal.NewFromFloat(*p.PriceFloor)
		policy.PriceFloor = &floor
	}
	if p.Tolerance != nil {
		policy.Tolerance = decimal.NewFromFloat(*p.Tolerance)
	}
	if err := policy.Validate(); err != nil {
		return models.MarkupPolicy{}, err
	}
	return policy, nil
}

type SweepConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Deadline    time.Duration `yaml:"deadline"`
	Concurrency int           `yaml:"concurrency"`
	RunOnStart  bool          `yaml:"run_on_start"`
}

type MarketplaceConfig struct {
	Endpoint          string          `yaml:"endpoint"`
	TokenURL          string          `yaml:"token_url"`
	MarketplaceID     string          `yaml:"marketplace_id"`
	APITimeout        time.Duration   `yaml:"api_timeout"`
	TokenSafetyMargin time.Duration   `yaml:"token_safety_margin"`
	RateLimit         RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

type EventsConfig struct {
	Enabled     bool          `yaml:"enabled"`
	QueueURL    string        `yaml:"queue_url"`
	Region      string        `yaml:"region"`
	WaitTime    time.Duration `yaml:"wait_time"`
	MaxMessages int32         `yaml:"max_messages"`
}

type StorageConfig struct {
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
}

type DynamoDBConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Table           string `yaml:"table"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type CatalogConfig struct {
	Source string               `yaml:"source"` // "mysql" or "static"
	MySQL  MySQLCatalogConfig   `yaml:"mysql"`
	Static []StaticListingEntry `yaml:"static"`
}

type MySQLCatalogConfig struct {
	DSN string `yaml:"dsn"`
}

type StaticListingEntry struct {
	CatalogItemID string `yaml:"catalog_item_id"`
	MarketplaceID string `yaml:"marketplace_id"`
}

type SecretsConfig struct {
	SecretID string `yaml:"secret_id"`
	Region   string `yaml:"region"`
}

type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier int           `yaml:"backoff_multiplier"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	History         int           `yaml:"history"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	Output        string `yaml:"output"`
	MaxAge        int    `yaml:"max_age"`
	DashboardName string `yaml:"dashboard_name"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Sweep: SweepConfig{
			Interval:    time.Hour,
			Deadline:    45 * time.Minute,
			Concurrency: 10,
		},
		Marketplace: MarketplaceConfig{
			APITimeout:        30 * time.Second,
			TokenSafetyMargin: time.Minute,
			RateLimit:         RateLimitConfig{RequestsPerSecond: 5, BurstSize: 10},
		},
		Events: EventsConfig{
			WaitTime:    20 * time.Second,
			MaxMessages: 10,
		},
		Retry: RetryConfig{
			MaxAttempts:       3,
			BaseDelay:         500 * time.Millisecond,
			MaxDelay:          10 * time.Second,
			BackoffMultiplier: 2,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides lets deployment environments supply AWS credentials and
// resource names without touching the config file.
func applyEnvOverrides(config *Config) {
	if config.Storage.DynamoDB.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.DynamoDB.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.DynamoDB.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.DynamoDB.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("DYNAMODB_TABLE"); v != "" {
			config.Storage.DynamoDB.Table = strings.TrimSpace(v)
		}
	}
	if v := os.Getenv("MARKETPLACE_ID"); v != "" {
		config.Marketplace.MarketplaceID = strings.TrimSpace(v)
	}
	if v := os.Getenv("SPAPI_SECRET_ID"); v != "" {
		config.Secrets.SecretID = strings.TrimSpace(v)
	}
	if v := os.Getenv("EVENTS_QUEUE_URL"); v != "" {
		config.Events.QueueURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("CATALOG_MYSQL_DSN"); v != "" {
		config.Catalog.MySQL.DSN = strings.TrimSpace(v)
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Repriceflow.Name == "" {
		return fmt.Errorf("repriceflow.name is required")
	}
	if cfg.Repriceflow.Version == "" {
		return fmt.Errorf("repriceflow.version is required")
	}

	if cfg.Pricing.MarkupPercentage < 0 {
		return fmt.Errorf("pricing.markup_percentage must not be negative")
	}
	if cfg.Pricing.PriceFloor != nil && *cfg.Pricing.PriceFloor < 0 {
		return fmt.Errorf("pricing.price_floor must not be negative")
	}

	if cfg.Sweep.Concurrency <= 0 {
		return fmt.Errorf("sweep.concurrency must be greater than 0")
	}
	if cfg.Sweep.Interval <= 0 {
		return fmt.Errorf("sweep.interval must be greater than 0")
	}
	if cfg.Sweep.Deadline <= 0 || cfg.Sweep.Deadline > cfg.Sweep.Interval {
		return fmt.Errorf("sweep.deadline must be positive and no longer than sweep.interval")
	}

	if cfg.Marketplace.Endpoint == "" {
		return fmt.Errorf("marketplace.endpoint is required")
	}
	if cfg.Marketplace.TokenURL == "" {
		return fmt.Errorf("marketplace.token_url is required")
	}
	if cfg.Marketplace.MarketplaceID == "" {
		return fmt.Errorf("marketplace.marketplace_id is required")
	}
	if cfg.Marketplace.APITimeout <= 0 {
		return fmt.Errorf("marketplace.api_timeout must be greater than 0")
	}
	if cfg.Marketplace.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("marketplace.rate_limit.requests_per_second must be greater than 0")
	}

	if cfg.Events.Enabled && cfg.Events.QueueURL == "" {
		return fmt.Errorf("events.queue_url is required when events are enabled")
	}

	if cfg.Storage.DynamoDB.Enabled {
		if cfg.Storage.DynamoDB.Table == "" {
			return fmt.Errorf("storage.dynamodb.table is required when DynamoDB is enabled")
		}
		if cfg.Storage.DynamoDB.Region == "" {
			return fmt.Errorf("storage.dynamodb.region is required when DynamoDB is enabled")
		}
	}

	switch cfg.Catalog.Source {
	case "mysql":
		if cfg.Catalog.MySQL.DSN == "" {
			return fmt.Errorf("catalog.mysql.dsn is required for the mysql catalog source")
		}
	case "static":
		if len(cfg.Catalog.Static) == 0 {
			return fmt.Errorf("catalog.static must list at least one listing")
		}
	default:
		return fmt.Errorf("catalog.source must be 'mysql' or 'static', got '%s'", cfg.Catalog.Source)
	}

	if cfg.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be greater than 0")
	}
	if cfg.Retry.BaseDelay <= 0 {
		return fmt.Errorf("retry.base_delay must be greater than 0")
	}

	return nil
}
