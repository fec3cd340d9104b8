package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/saasops/backend/internal/domain/billing"
)

// Config holds all application configuration
type Config struct {
	App         AppConfig
	Log         LogConfig
	Metering    MeteringConfig
	Aggregation AggregationConfig
	Publish     PublishConfig
	AWS         AWSConfig
	Stripe      StripeConfig
	Telemetry   TelemetryConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// MeteringConfig holds the usage table layout settings
type MeteringConfig struct {
	TableName       string // DynamoDB table holding events and aggregate entries
	TenantIndexName string // GSI used to enumerate tenant configuration items
	BucketUnit      string // MINUTE or HOUR
	EventChunkSize  int    // raw events folded per transaction
}

// AggregationConfig holds aggregation engine scheduling settings
type AggregationConfig struct {
	Enabled  bool
	Interval time.Duration // how often an aggregation cycle runs
	Timeout  time.Duration // per-cycle deadline
}

// PublishConfig holds publish engine scheduling settings
type PublishConfig struct {
	Enabled  bool
	Interval time.Duration // how often a publish cycle runs
	Timeout  time.Duration // per-cycle deadline
}

// AWSConfig holds AWS client settings
type AWSConfig struct {
	Region   string
	Endpoint string // optional endpoint override, e.g. a local DynamoDB
}

// StripeConfig holds billing provider settings
type StripeConfig struct {
	APIKeySecretID string // Secrets Manager secret holding the restricted API key
	APIKey         string // direct key override for local development
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with METERING_ prefix (e.g., METERING_AWS_REGION)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	// Set config file settings
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	// Enable environment variable override
	v.SetEnvPrefix("METERING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Build config struct
	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Metering: MeteringConfig{
			TableName:       v.GetString("metering.table_name"),
			TenantIndexName: v.GetString("metering.tenant_index_name"),
			BucketUnit:      v.GetString("metering.bucket_unit"),
			EventChunkSize:  v.GetInt("metering.event_chunk_size"),
		},
		Aggregation: AggregationConfig{
			Enabled:  v.GetBool("aggregation.enabled"),
			Interval: v.GetDuration("aggregation.interval"),
			Timeout:  v.GetDuration("aggregation.timeout"),
		},
		Publish: PublishConfig{
			Enabled:  v.GetBool("publish.enabled"),
			Interval: v.GetDuration("publish.interval"),
			Timeout:  v.GetDuration("publish.timeout"),
		},
		AWS: AWSConfig{
			Region:   v.GetString("aws.region"),
			Endpoint: v.GetString("aws.endpoint"),
		},
		Stripe: StripeConfig{
			APIKeySecretID: v.GetString("stripe.api_key_secret_id"),
			APIKey:         v.GetString("stripe.api_key"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
		},
	}

	// Apply defaults for empty values
	applyDefaults(cfg)

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "metering-worker"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Metering.TableName == "" {
		cfg.Metering.TableName = "usage-metering"
	}
	if cfg.Metering.TenantIndexName == "" {
		cfg.Metering.TenantIndexName = "tenant-config-index"
	}
	if cfg.Metering.BucketUnit == "" {
		cfg.Metering.BucketUnit = string(billing.BucketUnitMinute)
	}
	if cfg.Metering.EventChunkSize == 0 {
		cfg.Metering.EventChunkSize = billing.EventChunkSize
	}
	if cfg.Aggregation.Interval == 0 {
		cfg.Aggregation.Interval = time.Minute
	}
	if cfg.Aggregation.Timeout == 0 {
		cfg.Aggregation.Timeout = 5 * time.Minute
	}
	if cfg.Publish.Interval == 0 {
		cfg.Publish.Interval = 5 * time.Minute
	}
	if cfg.Publish.Timeout == 0 {
		cfg.Publish.Timeout = 10 * time.Minute
	}
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-east-1"
	}
	// Telemetry defaults
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317" // Default gRPC endpoint
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0 // 100% in development
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "metering-worker"
	}
	// Note: Insecure defaults to false for safety (TLS enabled by default)
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if _, err := billing.ParseBucketUnit(c.Metering.BucketUnit); err != nil {
		return fmt.Errorf("metering.bucket_unit: %w", err)
	}
	if c.Metering.EventChunkSize < 1 || c.Metering.EventChunkSize > billing.MaxTransactItems-1 {
		return fmt.Errorf("metering.event_chunk_size must be between 1 and %d, got %d",
			billing.MaxTransactItems-1, c.Metering.EventChunkSize)
	}
	if c.Aggregation.Interval <= 0 {
		return fmt.Errorf("aggregation.interval must be positive")
	}
	if c.Aggregation.Timeout <= 0 {
		return fmt.Errorf("aggregation.timeout must be positive")
	}
	if c.Publish.Interval <= 0 {
		return fmt.Errorf("publish.interval must be positive")
	}
	if c.Publish.Timeout <= 0 {
		return fmt.Errorf("publish.timeout must be positive")
	}

	// Production-specific validations
	if c.App.Env == "production" {
		if c.Stripe.APIKeySecretID == "" {
			return fmt.Errorf("stripe.api_key_secret_id is required in production")
		}
		if c.Stripe.APIKey != "" {
			return fmt.Errorf("stripe.api_key must not be set directly in production (use stripe.api_key_secret_id)")
		}
	}
	if c.Stripe.APIKeySecretID == "" && c.Stripe.APIKey == "" {
		return fmt.Errorf("either stripe.api_key_secret_id or stripe.api_key must be configured")
	}

	// Validate telemetry configuration (all environments)
	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// ParsedBucketUnit returns the parsed bucket unit. Load has already validated it.
func (m *MeteringConfig) ParsedBucketUnit() billing.BucketUnit {
	unit, _ := billing.ParseBucketUnit(m.BucketUnit)
	return unit
}
