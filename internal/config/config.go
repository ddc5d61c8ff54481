// Package config provides configuration loading and validation for the feed
// engine. It uses koanf to merge environment variables with optional file
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the feed engine.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// Redis (shared cache tier, sessions, trending)
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`

	// Feed cache
	CacheLocalTTLSeconds  int `koanf:"cache_local_ttl_seconds"`
	CacheSharedTTLSeconds int `koanf:"cache_shared_ttl_seconds"`
	CacheMaxLocalEntries  int `koanf:"cache_max_local_entries"`

	// Feed sessions
	SessionTTLHours int `koanf:"session_ttl_hours"`

	// Trending aggregation
	TrendingIntervalMinutes int `koanf:"trending_interval_minutes"`

	// Ranking
	RankingCalibrationPath string `koanf:"ranking_calibration_path"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL     = errors.New("DATABASE_URL is required")
	ErrMissingRedisAddr       = errors.New("REDIS_ADDR is required")
	ErrInvalidPort            = errors.New("PORT must be a valid integer")
	ErrInvalidCacheLocalTTL   = errors.New("CACHE_LOCAL_TTL_SECONDS must be positive")
	ErrInvalidCacheSharedTTL  = errors.New("CACHE_SHARED_TTL_SECONDS must be positive")
	ErrInvalidSessionTTL      = errors.New("SESSION_TTL_HOURS must be positive")
	ErrInvalidTrendingInterval = errors.New("TRENDING_INTERVAL_MINUTES must be positive")
)

// Default values for non-secret configuration.
const (
	DefaultPort                    = 8080
	DefaultEnv                     = "development"
	DefaultRedisAddr               = "localhost:6379"
	DefaultCacheLocalTTLSeconds    = 60
	DefaultCacheSharedTTLSeconds   = 900
	DefaultCacheMaxLocalEntries    = 1000
	DefaultSessionTTLHours         = 24
	DefaultTrendingIntervalMinutes = 60
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	// Parse port from env, collecting error if invalid
	// Try MENTION_PORT first, then PORT for backward compatibility
	port, portErr := getEnvIntOrDefaultMulti([]string{"MENTION_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	redisDB, redisDBErr := getEnvIntOrDefault("REDIS_DB", k.Int("redis_db"), 0)
	if redisDBErr != nil {
		loadErrs = append(loadErrs, redisDBErr)
	}

	localTTL, localTTLErr := getEnvIntOrDefault("CACHE_LOCAL_TTL_SECONDS", k.Int("cache_local_ttl_seconds"), DefaultCacheLocalTTLSeconds)
	if localTTLErr != nil {
		loadErrs = append(loadErrs, localTTLErr)
	}

	sharedTTL, sharedTTLErr := getEnvIntOrDefault("CACHE_SHARED_TTL_SECONDS", k.Int("cache_shared_ttl_seconds"), DefaultCacheSharedTTLSeconds)
	if sharedTTLErr != nil {
		loadErrs = append(loadErrs, sharedTTLErr)
	}

	maxLocal, maxLocalErr := getEnvIntOrDefault("CACHE_MAX_LOCAL_ENTRIES", k.Int("cache_max_local_entries"), DefaultCacheMaxLocalEntries)
	if maxLocalErr != nil {
		loadErrs = append(loadErrs, maxLocalErr)
	}

	sessionTTL, sessionTTLErr := getEnvIntOrDefault("SESSION_TTL_HOURS", k.Int("session_ttl_hours"), DefaultSessionTTLHours)
	if sessionTTLErr != nil {
		loadErrs = append(loadErrs, sessionTTLErr)
	}

	trendingInterval, trendingErr := getEnvIntOrDefault("TRENDING_INTERVAL_MINUTES", k.Int("trending_interval_minutes"), DefaultTrendingIntervalMinutes)
	if trendingErr != nil {
		loadErrs = append(loadErrs, trendingErr)
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:                    port,
		Env:                     getEnvOrDefaultMulti([]string{"MENTION_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:             getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisAddr:               getEnvOrDefault("REDIS_ADDR", k.String("redis_addr"), DefaultRedisAddr),
		RedisPassword:           getEnvOrKoanf("REDIS_PASSWORD", k, "redis_password"),
		RedisDB:                 redisDB,
		CacheLocalTTLSeconds:    localTTL,
		CacheSharedTTLSeconds:   sharedTTL,
		CacheMaxLocalEntries:    maxLocal,
		SessionTTLHours:         sessionTTL,
		TrendingIntervalMinutes: trendingInterval,
		RankingCalibrationPath:  getEnvOrKoanf("RANKING_CALIBRATION_PATH", k, "ranking_calibration_path"),
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// CacheLocalTTL returns the tier-1 cache TTL as a duration.
func (c *Config) CacheLocalTTL() time.Duration {
	return time.Duration(c.CacheLocalTTLSeconds) * time.Second
}

// CacheSharedTTL returns the tier-2 cache TTL as a duration.
func (c *Config) CacheSharedTTL() time.Duration {
	return time.Duration(c.CacheSharedTTLSeconds) * time.Second
}

// SessionTTL returns the feed session lifetime as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

// TrendingInterval returns the trending aggregation interval as a duration.
func (c *Config) TrendingInterval() time.Duration {
	return time.Duration(c.TrendingIntervalMinutes) * time.Minute
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
// Note: a zero value from a YAML file falls back to the default.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, err)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
// Returns an error if any environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.RedisAddr == "" {
		errs = append(errs, ErrMissingRedisAddr)
	}
	if c.CacheLocalTTLSeconds <= 0 {
		errs = append(errs, ErrInvalidCacheLocalTTL)
	}
	if c.CacheSharedTTLSeconds <= 0 {
		errs = append(errs, ErrInvalidCacheSharedTTL)
	}
	if c.SessionTTLHours <= 0 {
		errs = append(errs, ErrInvalidSessionTTL)
	}
	if c.TrendingIntervalMinutes <= 0 {
		errs = append(errs, ErrInvalidTrendingInterval)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                      fmt.Sprintf("%d", c.Port),
		"env":                       c.Env,
		"database_url":              maskDatabaseURL(c.DatabaseURL),
		"redis_addr":                c.RedisAddr,
		"redis_password":            maskSecret(c.RedisPassword),
		"redis_db":                  fmt.Sprintf("%d", c.RedisDB),
		"cache_local_ttl_seconds":   fmt.Sprintf("%d", c.CacheLocalTTLSeconds),
		"cache_shared_ttl_seconds":  fmt.Sprintf("%d", c.CacheSharedTTLSeconds),
		"cache_max_local_entries":   fmt.Sprintf("%d", c.CacheMaxLocalEntries),
		"session_ttl_hours":         fmt.Sprintf("%d", c.SessionTTLHours),
		"trending_interval_minutes": fmt.Sprintf("%d", c.TrendingIntervalMinutes),
		"ranking_calibration_path":  c.RankingCalibrationPath,
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a database URL.
// Supports both postgres:// and postgresql:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	// Look for password pattern: user:password@host
	// Simple approach: find :// and then mask between : and @
	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	// Reconstruct URL with masked password
	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
