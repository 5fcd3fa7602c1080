package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the server configuration
type Config struct {
	Debug       bool              `mapstructure:"debug"`
	SentryDSN   string            `mapstructure:"sentry_dsn"`
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Marketplace MarketplaceConfig `mapstructure:"marketplace"`
	Gemini      GeminiConfig      `mapstructure:"gemini"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Refresh     RefreshConfig     `mapstructure:"refresh"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
}

type ServerConfig struct {
	Port               int           `mapstructure:"port"`
	CORSAllowedOrigins []string      `mapstructure:"cors_allowed_origins"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // "sqlite" or "postgres"
	Path   string `mapstructure:"path"`   // sqlite file
	DSN    string `mapstructure:"dsn"`    // postgres connection string
}

type MarketplaceConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	DailyLimit        int           `mapstructure:"daily_limit"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxResults        int           `mapstructure:"max_results"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

type GeminiConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	APIKeyFile string        `mapstructure:"api_key_file"`
	Model      string        `mapstructure:"model"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ResolveAPIKey returns the inline key, falling back to the key file for local dev
func (c GeminiConfig) ResolveAPIKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	if c.APIKeyFile != "" {
		if data, err := os.ReadFile(c.APIKeyFile); err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return ""
}

type CacheConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	MaxEntries    int           `mapstructure:"max_entries"`
}

type RefreshConfig struct {
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Workers     int           `mapstructure:"workers"`
	QueueSize   int           `mapstructure:"queue_size"`
	AutoOnEmpty bool          `mapstructure:"auto_on_empty"`
}

type RateLimitConfig struct {
	ReadPerMinute  int `mapstructure:"read_per_minute"`
	PurgePerMinute int `mapstructure:"purge_per_minute"`
	MaxCallers     int `mapstructure:"max_callers"`
}

// Load reads config.yaml (optional), .env files under envPath and
// SLAB_MARKET_* environment variables, in increasing precedence
func Load(configFile string, envPath string) (*Config, error) {
	v := configureViper(configFile, envPath)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	if c.Refresh.MaxDelay < c.Refresh.MinDelay {
		return fmt.Errorf("refresh.max_delay (%s) must be >= refresh.min_delay (%s)", c.Refresh.MaxDelay, c.Refresh.MinDelay)
	}
	if c.Cache.TTL <= 0 {
		return errors.New("cache.ttl must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("sentry_dsn", "")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_allowed_origins", []string{"http://localhost:5173", "http://localhost:3000"})
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./slab_market.db")
	v.SetDefault("database.dsn", "")

	v.SetDefault("marketplace.base_url", "")
	v.SetDefault("marketplace.api_key", "")
	v.SetDefault("marketplace.daily_limit", 1000)
	v.SetDefault("marketplace.timeout", "15s")
	v.SetDefault("marketplace.max_results", 50)
	v.SetDefault("marketplace.requests_per_second", 2)

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.api_key_file", "")
	v.SetDefault("gemini.model", "gemini-2.0-flash")
	v.SetDefault("gemini.timeout", "20s")

	v.SetDefault("cache.ttl", "7m")
	v.SetDefault("cache.sweep_interval", "10m")
	v.SetDefault("cache.max_entries", 5000)

	v.SetDefault("refresh.min_delay", "2s")
	v.SetDefault("refresh.max_delay", "5s")
	v.SetDefault("refresh.workers", 4)
	v.SetDefault("refresh.queue_size", 256)
	v.SetDefault("refresh.auto_on_empty", true)

	v.SetDefault("ratelimit.read_per_minute", 30)
	v.SetDefault("ratelimit.purge_per_minute", 5)
	v.SetDefault("ratelimit.max_callers", 10000)
}

func configureViper(configFile string, envPath string) *viper.Viper {
	v := viper.New()

	loadEnv(envPath)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("config/")
	}

	v.SetEnvPrefix("SLAB_MARKET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only maps keys viper already knows about; without a config
	// file that means nothing, so bind every key explicitly.
	for _, key := range allKeys {
		_ = v.BindEnv(key)
	}
	return v
}

var allKeys = []string{
	"debug",
	"sentry_dsn",
	"server.port",
	"server.cors_allowed_origins",
	"server.shutdown_timeout",
	"database.driver",
	"database.path",
	"database.dsn",
	"marketplace.base_url",
	"marketplace.api_key",
	"marketplace.daily_limit",
	"marketplace.timeout",
	"marketplace.max_results",
	"marketplace.requests_per_second",
	"gemini.api_key",
	"gemini.api_key_file",
	"gemini.model",
	"gemini.timeout",
	"cache.ttl",
	"cache.sweep_interval",
	"cache.max_entries",
	"refresh.min_delay",
	"refresh.max_delay",
	"refresh.workers",
	"refresh.queue_size",
	"refresh.auto_on_empty",
	"ratelimit.read_per_minute",
	"ratelimit.purge_per_minute",
	"ratelimit.max_callers",
}

func loadEnv(envPath string) {
	if envPath == "" {
		envPath = "config/"
	}
	for _, envFile := range []string{".env", ".env.local"} {
		_ = godotenv.Overload(filepath.Join(envPath, envFile))
	}
}
