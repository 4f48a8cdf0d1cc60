// Package config loads partprice configuration from a YAML file, the
// environment and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	infragin "github.com/jonesrussell/north-cloud/partprice/infrastructure/gin"
	"github.com/jonesrussell/north-cloud/partprice/infrastructure/logger"
	infraredis "github.com/jonesrussell/north-cloud/partprice/infrastructure/redis"
)

// Source kinds.
const (
	KindMarketplace = "marketplace"
	KindStorefront  = "storefront"
)

// Database drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config is the full application configuration.
type Config struct {
	Server       infragin.Config    `mapstructure:"server"`
	Logger       logger.Config      `mapstructure:"logger"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Resilience   ResilienceConfig   `mapstructure:"resilience"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Aggregator   AggregatorConfig   `mapstructure:"aggregator"`
	Client       ClientConfig       `mapstructure:"client"`
	Sources      []SourceConfig     `mapstructure:"sources"`
}

// DatabaseConfig selects the catalog backend.
type DatabaseConfig struct {
	Driver        string `mapstructure:"driver"`
	DSN           string `mapstructure:"dsn"`
	MigrationsDir string `mapstructure:"migrations_dir"`
}

// RedisConfig enables the Redis cache backend.
type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	Namespace string `mapstructure:"namespace"`
}

// Client returns the connection settings.
func (c RedisConfig) Client() infraredis.Config {
	return infraredis.Config{Address: c.Address, Password: c.Password, DB: c.DB}
}

// ResilienceConfig holds the outbound call policy. Timeout, RetryBaseDelay
// and Cooldown are in seconds.
type ResilienceConfig struct {
	Timeout          int `mapstructure:"timeout"`
	MaxRetries       int `mapstructure:"max_retries"`
	RetryBaseDelay   int `mapstructure:"retry_base_delay"`
	FailureThreshold int `mapstructure:"failure_threshold"`
	Cooldown         int `mapstructure:"cooldown"`
}

// OrchestratorConfig holds the refresh loop settings.
type OrchestratorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// CycleInterval is in minutes.
	CycleInterval   int `mapstructure:"cycle_interval"`
	DefaultDelayMs  int `mapstructure:"default_delay_ms"`
	BulkParallelism int `mapstructure:"bulk_parallelism"`
}

// CacheConfig controls search memoization. SearchTTL is in seconds.
type CacheConfig struct {
	SearchTTL int  `mapstructure:"search_ttl"`
	FoldKeys  bool `mapstructure:"fold_keys"`
}

// AggregatorConfig holds live search settings.
type AggregatorConfig struct {
	DefaultLimit int `mapstructure:"default_limit"`
}

// ClientConfig holds the outbound HTTP identity.
type ClientConfig struct {
	UserAgent string `mapstructure:"user_agent"`
	// RobotsTTL is in minutes.
	RobotsTTL int `mapstructure:"robots_ttl"`
}

// SourceConfig describes one price source. Options are decoded by the
// adapter for its kind.
type SourceConfig struct {
	Name     string         `mapstructure:"name"`
	Kind     string         `mapstructure:"kind"`
	BaseURL  string         `mapstructure:"base_url"`
	Enabled  bool           `mapstructure:"enabled"`
	DelayMs  int            `mapstructure:"delay_ms"`
	Language string         `mapstructure:"language"`
	Options  map[string]any `mapstructure:"options"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("logger.level", logger.DefaultLevel)
	v.SetDefault("database.driver", DriverMemory)
	v.SetDefault("database.migrations_dir", "migrations")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.namespace", "partprice")
	v.SetDefault("resilience.timeout", 30)
	v.SetDefault("resilience.max_retries", 3)
	v.SetDefault("resilience.retry_base_delay", 2)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.cooldown", 60)
	v.SetDefault("orchestrator.enabled", true)
	v.SetDefault("orchestrator.cycle_interval", 360)
	v.SetDefault("orchestrator.default_delay_ms", 2000)
	v.SetDefault("orchestrator.bulk_parallelism", 4)
	v.SetDefault("cache.search_ttl", 900)
	v.SetDefault("cache.fold_keys", false)
	v.SetDefault("aggregator.default_limit", 20)
	v.SetDefault("client.user_agent", "partprice/1.0 (+https://github.com/jonesrussell/north-cloud)")
	v.SetDefault("client.robots_ttl", 60)
}

// New returns a viper instance reading path (or ./config.yaml when empty)
// with environment overrides such as DATABASE_DSN for database.dsn.
func New(path string) *viper.Viper {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	SetDefaults(v)
	return v
}

// Load reads the config file (optional when no explicit path was set),
// decodes and validates it.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// bindEnv maps the conventional variable names that do not follow the
// key replacer.
func bindEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"logger.level":   {"LOG_LEVEL"},
		"server.port":    {"PORT", "SERVER_PORT"},
		"database.dsn":   {"DATABASE_URL", "DATABASE_DSN"},
		"redis.address":  {"REDIS_ADDR", "REDIS_ADDRESS"},
		"redis.password": {"REDIS_PASSWORD"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

// TTL returns the search memo lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.SearchTTL) * time.Second
}

// Interval returns the cycle interval.
func (c OrchestratorConfig) Interval() time.Duration {
	return time.Duration(c.CycleInterval) * time.Minute
}

// DefaultDelay returns the pacing delay for sources without their own.
func (c OrchestratorConfig) DefaultDelay() time.Duration {
	return time.Duration(c.DefaultDelayMs) * time.Millisecond
}

// Delay returns the source's pacing delay, or zero to use the default.
func (s SourceConfig) Delay() time.Duration {
	return time.Duration(s.DelayMs) * time.Millisecond
}
