// Package config provides configuration loading and validation for the chainlog
// service and CLI. It uses koanf to merge environment variables with optional
// file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/onnwee/chainlog/internal/digest"
)

// Config holds all configuration values for the chainlog service.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Backing file
	RegistryFile    string `koanf:"registry_file"`
	DigestAlgorithm string `koanf:"digest_algorithm"`
	SyncWrites      bool   `koanf:"sync_writes"`

	// Mirrors (optional)
	DatabaseURL string `koanf:"database_url"`
	RedisURL    string `koanf:"redis_url"`

	// Integrity monitor
	VerifyIntervalSeconds int  `koanf:"verify_interval_seconds"` // 0 disables the periodic check
	WatchFile             bool `koanf:"watch_file"`

	// Append rate limit per client IP; 0 disables it
	RateLimitPerMinute int `koanf:"rate_limit_per_minute"`

	// Tracing
	TracingEnabled    bool    `koanf:"tracing_enabled"`
	TracingExporter   string  `koanf:"tracing_exporter"` // otlp-grpc or otlp-http
	OTLPEndpoint      string  `koanf:"otel_exporter_otlp_endpoint"`
	TracingSampleRate float64 `koanf:"tracing_sample_rate"`
	TracingInsecure   bool    `koanf:"tracing_insecure"`
}

// Configuration validation errors.
var (
	ErrInvalidPort            = errors.New("PORT must be a valid integer")
	ErrPortOutOfRange         = errors.New("PORT must be between 1 and 65535")
	ErrMissingRegistryFile    = errors.New("REGISTRY_FILE is required")
	ErrUnsupportedDigest      = errors.New("DIGEST_ALGORITHM is not supported")
	ErrInvalidInteger         = errors.New("value must be a valid integer")
	ErrInvalidFloat           = errors.New("value must be a valid float")
	ErrNegativeVerifyInterval = errors.New("VERIFY_INTERVAL_SECONDS cannot be negative")
	ErrNegativeRateLimit      = errors.New("RATE_LIMIT_PER_MINUTE cannot be negative")
	ErrInvalidTracingExporter = errors.New("TRACING_EXPORTER must be otlp-grpc or otlp-http")
	ErrInvalidSampleRate      = errors.New("TRACING_SAMPLE_RATE must be between 0 and 1")
)

// Default values for non-secret configuration.
const (
	DefaultPort              = 8080
	DefaultEnv               = "development"
	DefaultRegistryFile      = "registry.log"
	DefaultDigestAlgorithm   = digest.DefaultAlgorithm
	DefaultRateLimit         = 120
	DefaultTracingExporter   = "otlp-http"
	DefaultTracingSampleRate = 0.1
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

	// Try CHAINLOG_PORT first, then PORT
	port, portErr := getEnvIntOrDefaultMulti([]string{"CHAINLOG_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, fmt.Errorf("%w: %w", ErrInvalidPort, portErr))
	}

	verifyInterval, intervalErr := getEnvIntOrDefaultMulti([]string{"VERIFY_INTERVAL_SECONDS"}, k.Int("verify_interval_seconds"), 0)
	if intervalErr != nil {
		loadErrs = append(loadErrs, intervalErr)
	}

	rateLimit, rateErr := getEnvIntOrKoanfExists("RATE_LIMIT_PER_MINUTE", k, "rate_limit_per_minute", DefaultRateLimit)
	if rateErr != nil {
		loadErrs = append(loadErrs, rateErr)
	}

	sampleRate, sampleErr := getEnvFloatOrDefault("TRACING_SAMPLE_RATE", k, "tracing_sample_rate", DefaultTracingSampleRate)
	if sampleErr != nil {
		loadErrs = append(loadErrs, sampleErr)
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:                  port,
		Env:                   getEnvOrDefaultMulti([]string{"CHAINLOG_ENV", "ENV"}, k.String("env"), DefaultEnv),
		RegistryFile:          getEnvOrDefaultMulti([]string{"REGISTRY_FILE"}, k.String("registry_file"), DefaultRegistryFile),
		DigestAlgorithm:       getEnvOrDefaultMulti([]string{"DIGEST_ALGORITHM"}, k.String("digest_algorithm"), DefaultDigestAlgorithm),
		SyncWrites:            getEnvBoolOrDefault("SYNC_WRITES", k, "sync_writes", false),
		DatabaseURL:           getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisURL:              getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		VerifyIntervalSeconds: verifyInterval,
		WatchFile:             getEnvBoolOrDefault("WATCH_FILE", k, "watch_file", false),
		RateLimitPerMinute:    rateLimit,
		TracingEnabled:        getEnvBoolOrDefault("TRACING_ENABLED", k, "tracing_enabled", false),
		TracingExporter:       getEnvOrDefaultMulti([]string{"TRACING_EXPORTER"}, k.String("tracing_exporter"), DefaultTracingExporter),
		OTLPEndpoint:          getEnvOrKoanf("OTEL_EXPORTER_OTLP_ENDPOINT", k, "otel_exporter_otlp_endpoint"),
		TracingSampleRate:     sampleRate,
		TracingInsecure:       getEnvBoolOrDefault("TRACING_INSECURE", k, "tracing_insecure", false),
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
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

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
// Returns an error if any environment variable is set but cannot be parsed as an integer.
// A zero from a YAML file falls back to the default.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s: %w", key, ErrInvalidInteger)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrKoanfExists is like getEnvIntOrDefaultMulti for a single key, but
// an explicit zero in the file is kept instead of falling back to the default.
func getEnvIntOrKoanfExists(envKey string, k *koanf.Koanf, koanfKey string, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", envKey, ErrInvalidInteger)
		}
		return i, nil
	}
	if k.Exists(koanfKey) {
		return k.Int(koanfKey), nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set,
// otherwise the koanf value when the key exists, or default.
func getEnvFloatOrDefault(envKey string, k *koanf.Koanf, koanfKey string, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", envKey, ErrInvalidFloat)
		}
		return f, nil
	}
	if k.Exists(koanfKey) {
		return k.Float64(koanfKey), nil
	}
	return defaultVal, nil
}

// getEnvBoolOrDefault reads a boolean flag. Env vars take precedence over file
// config; unrecognized env values are ignored.
func getEnvBoolOrDefault(envKey string, k *koanf.Koanf, koanfKey string, defaultVal bool) bool {
	result := defaultVal
	if k.Exists(koanfKey) {
		result = k.Bool(koanfKey)
	}
	if val := os.Getenv(envKey); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			result = true
		case "false", "0", "no", "off":
			result = false
		}
	}
	return result
}

// Validate checks that all configuration values are usable.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, ErrPortOutOfRange)
	}
	if c.RegistryFile == "" {
		errs = append(errs, ErrMissingRegistryFile)
	}
	if _, err := digest.Normalize(c.DigestAlgorithm); err != nil {
		errs = append(errs, fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedDigest, c.DigestAlgorithm, strings.Join(digest.Algorithms(), ", ")))
	}
	if c.VerifyIntervalSeconds < 0 {
		errs = append(errs, ErrNegativeVerifyInterval)
	}
	if c.RateLimitPerMinute < 0 {
		errs = append(errs, ErrNegativeRateLimit)
	}

	// Tracing settings only matter when tracing is on.
	if c.TracingEnabled {
		if c.TracingExporter != "otlp-grpc" && c.TracingExporter != "otlp-http" {
			errs = append(errs, ErrInvalidTracingExporter)
		}
		if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
			errs = append(errs, ErrInvalidSampleRate)
		}
	}

	return errs
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                        fmt.Sprintf("%d", c.Port),
		"env":                         c.Env,
		"registry_file":               c.RegistryFile,
		"digest_algorithm":            c.DigestAlgorithm,
		"sync_writes":                 fmt.Sprintf("%t", c.SyncWrites),
		"database_url":                maskDatabaseURL(c.DatabaseURL),
		"redis_url":                   maskDatabaseURL(c.RedisURL),
		"verify_interval_seconds":     fmt.Sprintf("%d", c.VerifyIntervalSeconds),
		"watch_file":                  fmt.Sprintf("%t", c.WatchFile),
		"rate_limit_per_minute":       fmt.Sprintf("%d", c.RateLimitPerMinute),
		"tracing_enabled":             fmt.Sprintf("%t", c.TracingEnabled),
		"tracing_exporter":            c.TracingExporter,
		"otel_exporter_otlp_endpoint": c.OTLPEndpoint,
		"tracing_sample_rate":         fmt.Sprintf("%g", c.TracingSampleRate),
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

// maskDatabaseURL masks the password in a connection URL.
// Works for postgres://, postgresql:// and redis:// URLs.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	// Look for password pattern: user:password@host
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

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
