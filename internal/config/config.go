package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/neexbeast/instantweather/internal/weather"
)

const maxPortNumber = 65535

// Config holds everything the server reads from the environment.
type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	RedisURL    string `envconfig:"REDIS_URL" required:"true"`
	BearerToken string `envconfig:"BEARER_TOKEN" required:"true"`

	OpenWeatherAPIKey  string `envconfig:"OPENWEATHER_API_KEY" required:"true"`
	OpenWeatherBaseURL string `envconfig:"OPENWEATHER_BASE_URL" default:"https://api.openweathermap.org/data/2.5"`

	// DefaultCacheDuration is used while the cache duration preference is unset or invalid.
	DefaultCacheDuration time.Duration `envconfig:"DEFAULT_CACHE_DURATION" default:"5m"`
	// RefreshInterval enables the background warmer when positive.
	RefreshInterval time.Duration `envconfig:"REFRESH_INTERVAL" default:"0"`

	MigrationsDir      string        `envconfig:"MIGRATIONS_DIR" default:"migrations"`
	LogLevel           string        `envconfig:"LOG_LEVEL" default:"info"`
	RateLimitPerMinute int           `envconfig:"RATE_LIMIT_PER_MINUTE" default:"60"`
	ShutdownTimeout    time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// Load reads an optional .env file, then the environment, and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, weather.ConfigError("load .env", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, weather.ConfigError("process env", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks value ranges envconfig cannot express.
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > maxPortNumber {
		return invalid("PORT must be between 1 and 65535")
	}
	if c.BearerToken == "" {
		return invalid("BEARER_TOKEN cannot be empty")
	}
	if !strings.HasPrefix(c.OpenWeatherBaseURL, "http://") && !strings.HasPrefix(c.OpenWeatherBaseURL, "https://") {
		return invalid("OPENWEATHER_BASE_URL must start with http:// or https://")
	}
	if c.DefaultCacheDuration < time.Second {
		return invalid("DEFAULT_CACHE_DURATION must be at least 1s")
	}
	if c.RefreshInterval < 0 {
		return invalid("REFRESH_INTERVAL cannot be negative")
	}
	if c.RateLimitPerMinute < 1 {
		return invalid("RATE_LIMIT_PER_MINUTE must be at least 1")
	}
	if c.ShutdownTimeout <= 0 {
		return invalid("SHUTDOWN_TIMEOUT must be positive")
	}
	if _, err := c.Level(); err != nil {
		return weather.ConfigError("validate config", err)
	}
	return nil
}

// Level parses LogLevel ("debug", "info", "warn", "error").
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}

func invalid(msg string) error {
	return weather.ConfigError("validate config", errors.New(msg))
}
