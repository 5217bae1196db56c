// Package config handles configuration loading for the correlation engine.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"lattice-siem/internal/alerts"
	"lattice-siem/internal/kafka"
	"lattice-siem/internal/pipeline"
	"lattice-siem/internal/rules"
	"lattice-siem/internal/schema"
	"lattice-siem/internal/secrets"
	"lattice-siem/internal/storage"
	"lattice-siem/internal/windows"
)

// Config holds the complete application configuration.
type Config struct {
	Logging    LoggingConfig          `yaml:"logging"`
	Kafka      kafka.Config           `yaml:"kafka"`
	Pipeline   pipeline.Config        `yaml:"pipeline"`
	Catalog    rules.CatalogConfig    `yaml:"catalog"`
	Windows    WindowsConfig          `yaml:"windows"`
	Validation schema.ValidatorConfig `yaml:"validation"`
	Storage    StorageConfig          `yaml:"storage"`
	Archive    alerts.ArchiveConfig   `yaml:"archive"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// WindowsConfig holds the window store settings.
type WindowsConfig struct {
	// Backend selects the store: "redis" (shared, durable) or
	// "memory" (single-process, for development and tests).
	Backend string `yaml:"backend"`

	// KeyPrefix namespaces all Redis keys.
	KeyPrefix string `yaml:"key_prefix"`

	// TTLMultiplier scales each rule's window into the key TTL.
	TTLMultiplier int `yaml:"ttl_multiplier"`

	// SweepInterval is the idle-group sweep period of the memory backend.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	Redis windows.RedisConfig `yaml:"redis"`
}

// StorageConfig holds alert persistence settings.
type StorageConfig struct {
	Enabled    bool                     `yaml:"enabled"`
	ClickHouse storage.ClickHouseConfig `yaml:"clickhouse"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Kafka:    *kafka.DefaultConfig(),
		Pipeline: pipeline.DefaultConfig(),
		Catalog:  rules.DefaultCatalogConfig(),
		Windows: WindowsConfig{
			Backend:       "redis",
			KeyPrefix:     "lattice",
			TTLMultiplier: windows.DefaultTTLMultiplier,
			SweepInterval: 30 * time.Second,
			Redis:         windows.DefaultRedisConfig(),
		},
		Validation: schema.DefaultValidatorConfig(),
		Storage: StorageConfig{
			Enabled:    false, // Disabled by default for development without ClickHouse
			ClickHouse: storage.DefaultClickHouseConfig(),
		},
		Archive: alerts.DefaultArchiveConfig(),
	}
}

// Load loads configuration from a file or returns defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("LATTICE_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, use defaults
			cfg.applyEnvOverrides()
			if err := cfg.resolveSecrets(); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.resolveSecrets(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFile loads configuration from an explicit path.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.resolveSecrets(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// resolveSecrets expands secret references (env:NAME, file:/path) in
// credential fields. Literal values pass through untouched.
func (c *Config) resolveSecrets() error {
	fields := []struct {
		name  string
		value *string
	}{
		{"windows.redis.password", &c.Windows.Redis.Password},
		{"kafka.sasl_password", &c.Kafka.SASLPassword},
		{"storage.clickhouse.password", &c.Storage.ClickHouse.Password},
		{"archive.secret_access_key", &c.Archive.SecretAccessKey},
	}

	for _, f := range fields {
		if !secrets.IsRef(*f.value) {
			continue
		}
		resolved, err := secrets.Resolve(*f.value)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", f.name, err)
		}
		*f.value = resolved
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if level := os.Getenv("LATTICE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = splitAndTrim(brokers, ",")
	}

	if group := os.Getenv("KAFKA_CONSUMER_GROUP"); group != "" {
		c.Kafka.ConsumerGroup = group
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Windows.Redis.Addr = addr
	}

	if pass := os.Getenv("REDIS_PASSWORD"); pass != "" {
		c.Windows.Redis.Password = pass
	}

	if dir := os.Getenv("LATTICE_RULES_DIR"); dir != "" {
		c.Catalog.Directory = dir
	}

	// Storage settings
	if enabled := os.Getenv("LATTICE_STORAGE_ENABLED"); enabled == "true" {
		c.Storage.Enabled = true
	}

	if host := os.Getenv("CLICKHOUSE_HOST"); host != "" {
		c.Storage.ClickHouse.Hosts = []string{host}
	}

	if db := os.Getenv("CLICKHOUSE_DATABASE"); db != "" {
		c.Storage.ClickHouse.Database = db
	}

	if user := os.Getenv("CLICKHOUSE_USER"); user != "" {
		c.Storage.ClickHouse.Username = user
	}

	if pass := os.Getenv("CLICKHOUSE_PASSWORD"); pass != "" {
		c.Storage.ClickHouse.Password = pass
	}
}

// splitAndTrim splits a string by separator and trims whitespace from each part.
func splitAndTrim(s, sep string) []string {
	parts := make([]string, 0)
	for _, part := range strings.Split(s, sep) {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Kafka.Validate(); err != nil {
		return err
	}

	switch c.Windows.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("invalid windows backend: %q", c.Windows.Backend)
	}

	if c.Windows.TTLMultiplier < 1 {
		return fmt.Errorf("ttl_multiplier must be at least 1")
	}

	if c.Pipeline.MaxParallelism <= 0 {
		return fmt.Errorf("pipeline max_parallelism must be positive")
	}

	if c.Pipeline.ChannelCapacity <= 0 {
		return fmt.Errorf("pipeline channel_capacity must be positive")
	}

	if c.Catalog.Directory == "" {
		return fmt.Errorf("catalog rules_directory is required")
	}

	if err := c.Archive.Validate(); err != nil {
		return err
	}

	return nil
}
