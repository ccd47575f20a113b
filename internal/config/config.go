package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"tillpoint.org/internal/auth"
)

// Config holds the service configuration, loaded from environment variables
// with the TILLPOINT_ prefix.
type Config struct {
	Addr            string
	PostgresDSN     string
	RedisURL        string
	AccessSecret    string
	RefreshSecret   string
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	PermissionTTL   time.Duration
	RateLimitBurst  int
	RateLimitPerSec int
	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:            getEnv("TILLPOINT_ADDR", ":8080"),
		PostgresDSN:     getEnv("TILLPOINT_PG_DSN", ""),
		RedisURL:        getEnv("TILLPOINT_REDIS_URL", "redis://localhost:6379/0"),
		AccessSecret:    getEnv("TILLPOINT_ACCESS_SECRET", ""),
		RefreshSecret:   getEnv("TILLPOINT_REFRESH_SECRET", ""),
		AccessTTL:       getEnvDuration("TILLPOINT_ACCESS_TTL", 15*time.Minute),
		RefreshTTL:      getEnvDuration("TILLPOINT_REFRESH_TTL", 7*24*time.Hour),
		PermissionTTL:   getEnvDuration("TILLPOINT_PERMISSION_TTL", auth.DefaultPermissionTTL),
		RateLimitBurst:  getEnvInt("TILLPOINT_RATE_BURST", 20),
		RateLimitPerSec: getEnvInt("TILLPOINT_RATE_PER_SECOND", 10),
		ShutdownTimeout: getEnvDuration("TILLPOINT_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required values and invariants.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AccessSecret) == "" {
		return errors.New("config: TILLPOINT_ACCESS_SECRET is required")
	}
	if strings.TrimSpace(c.RefreshSecret) == "" {
		return errors.New("config: TILLPOINT_REFRESH_SECRET is required")
	}
	if c.AccessSecret == c.RefreshSecret {
		return errors.New("config: access and refresh secrets must differ")
	}
	if strings.TrimSpace(c.PostgresDSN) == "" {
		return errors.New("config: TILLPOINT_PG_DSN is required")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 || c.PermissionTTL <= 0 {
		return errors.New("config: TTLs must be positive")
	}
	if c.AccessTTL >= c.RefreshTTL {
		return fmt.Errorf("config: access TTL %v must be shorter than refresh TTL %v", c.AccessTTL, c.RefreshTTL)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
