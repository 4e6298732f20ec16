package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           string `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	Name           string `mapstructure:"name"`
	SSLMode        string `mapstructure:"sslmode"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type JWTConfig struct {
	SecretKey  string        `mapstructure:"secret_key"`
	AccessTTL  time.Duration `mapstructure:"access_ttl"`
	RefreshTTL time.Duration `mapstructure:"refresh_ttl"`
}

// RouteLimit is the quota for a single route template, e.g. POST /auth/login.
type RouteLimit struct {
	Method string        `mapstructure:"method"`
	Route  string        `mapstructure:"route"`
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

type RateLimitConfig struct {
	DefaultLimit      int           `mapstructure:"default_limit"`
	DefaultWindow     time.Duration `mapstructure:"default_window"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	Retention         time.Duration `mapstructure:"retention"`
	Shards            int           `mapstructure:"shards"`
	TrustProxyHeaders bool          `mapstructure:"trust_proxy_headers"`
	Routes            []RouteLimit  `mapstructure:"routes"`
}

type SecurityConfig struct {
	BcryptCost         int           `mapstructure:"bcrypt_cost"`
	RotationRetries    uint64        `mapstructure:"rotation_retries"`
	RotationRetryDelay time.Duration `mapstructure:"rotation_retry_delay"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   struct {
		Port            string        `mapstructure:"port"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Security  SecurityConfig  `mapstructure:"security"`
	Log       LogConfig       `mapstructure:"log"`
}

var AppConfig Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.migrations_path", "db/migrations")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.cache_ttl", 10*time.Minute)

	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("jwt.secret_key", "")
	v.SetDefault("jwt.access_ttl", time.Hour)
	v.SetDefault("jwt.refresh_ttl", 30*24*time.Hour)

	v.SetDefault("rate_limit.default_limit", 100)
	v.SetDefault("rate_limit.default_window", time.Minute)
	v.SetDefault("rate_limit.sweep_interval", 5*time.Minute)
	v.SetDefault("rate_limit.retention", time.Hour)
	v.SetDefault("rate_limit.shards", 64)
	v.SetDefault("rate_limit.trust_proxy_headers", false)

	v.SetDefault("security.bcrypt_cost", 12)
	v.SetDefault("security.rotation_retries", 3)
	v.SetDefault("security.rotation_retry_delay", 50*time.Millisecond)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads config.yml from path (if present), applies defaults and
// TASKAPI_* environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")

	v.SetEnvPrefix("taskapi")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.JWT.SecretKey == "" {
		return errors.New("jwt.secret_key must be set")
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		return errors.New("jwt.access_ttl and jwt.refresh_ttl must be positive")
	}
	if c.RateLimit.DefaultLimit <= 0 || c.RateLimit.DefaultWindow <= 0 {
		return errors.New("rate_limit default limit and window must be positive")
	}
	if c.RateLimit.SweepInterval <= 0 {
		return errors.New("rate_limit.sweep_interval must be positive")
	}
	if c.RateLimit.Shards <= 0 {
		return errors.New("rate_limit.shards must be positive")
	}
	longest := c.RateLimit.DefaultWindow
	for _, r := range c.RateLimit.Routes {
		if r.Method == "" || r.Route == "" {
			return errors.New("rate_limit.routes entries need method and route")
		}
		if r.Limit <= 0 || r.Window <= 0 {
			return fmt.Errorf("rate_limit route %s %s: limit and window must be positive", r.Method, r.Route)
		}
		longest = max(longest, r.Window)
	}
	if c.RateLimit.Retention < longest {
		return fmt.Errorf("rate_limit.retention %s is shorter than the longest window %s", c.RateLimit.Retention, longest)
	}
	return nil
}

func LoadConfig(path string) {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("Unable to load configuration, %v", err)
	}
	AppConfig = *cfg
}
