// Package config provides configuration loading and validation for the API server.
// It uses koanf to merge environment variables with optional file overrides.
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
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// JWT authentication for internal staff routes. The previous secret is
	// optional and only set while a rotation is in progress.
	JWTSecret         string `koanf:"jwt_secret"`
	JWTPreviousSecret string `koanf:"jwt_previous_secret"`

	// CORS
	CORSOrigins []string `koanf:"cors_origins"`

	// Redis (rate limiting). Optional; in-memory store is used when unset.
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`

	// Object storage (S3-compatible) for the source document files.
	// Optional; signed download URLs are omitted when unset.
	StorageBucketName      string `koanf:"storage_bucket_name"`
	StorageAccessKeyID     string `koanf:"storage_access_key_id"`
	StorageSecretAccessKey string `koanf:"storage_secret_access_key"`
	StorageEndpoint        string `koanf:"storage_endpoint"`
	StorageURLTTLMinutes   int    `koanf:"storage_url_ttl_minutes"`

	// Rate limits, requests per minute per client.
	SignReadLimit  int `koanf:"sign_read_limit"`
	SignWriteLimit int `koanf:"sign_write_limit"`

	// Tracing
	TracingEnabled bool   `koanf:"tracing_enabled"`
	OTLPEndpoint   string `koanf:"otlp_endpoint"`
	OTLPProtocol   string `koanf:"otlp_protocol"`
}

// Configuration validation errors.
var (
	ErrMissingJWTSecret              = errors.New("JWT_SECRET is required")
	ErrMissingStorageBucketName      = errors.New("STORAGE_BUCKET_NAME is required")
	ErrMissingStorageAccessKeyID     = errors.New("STORAGE_ACCESS_KEY_ID is required")
	ErrMissingStorageSecretAccessKey = errors.New("STORAGE_SECRET_ACCESS_KEY is required")
	ErrMissingStorageEndpoint        = errors.New("STORAGE_ENDPOINT is required")
	ErrInvalidPort                   = errors.New("PORT must be a valid integer")
	ErrInvalidRateLimit              = errors.New("rate limits must be positive integers")
	ErrInvalidOTLPProtocol           = errors.New("OTLP_PROTOCOL must be grpc or http")
)

// Default values for non-secret configuration.
const (
	DefaultPort                 = 8080
	DefaultEnv                  = "development"
	DefaultStorageURLTTLMinutes = 60
	DefaultSignReadLimit        = 60
	DefaultSignWriteLimit       = 10
	DefaultOTLPProtocol         = "grpc"
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

	port, portErr := getEnvIntOrDefaultMulti([]string{"INKSEAL_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	urlTTL, ttlErr := getEnvIntOrDefault("STORAGE_URL_TTL_MINUTES", k.Int("storage_url_ttl_minutes"), DefaultStorageURLTTLMinutes)
	if ttlErr != nil {
		loadErrs = append(loadErrs, ttlErr)
	}

	readLimit, readErr := getEnvIntOrDefault("SIGN_READ_LIMIT", k.Int("sign_read_limit"), DefaultSignReadLimit)
	if readErr != nil {
		loadErrs = append(loadErrs, readErr)
	}

	writeLimit, writeErr := getEnvIntOrDefault("SIGN_WRITE_LIMIT", k.Int("sign_write_limit"), DefaultSignWriteLimit)
	if writeErr != nil {
		loadErrs = append(loadErrs, writeErr)
	}

	tracingEnabled := false
	if k.Exists("tracing_enabled") {
		tracingEnabled = k.Bool("tracing_enabled")
	}
	if val := os.Getenv("TRACING_ENABLED"); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			tracingEnabled = true
		case "false", "0", "no", "off":
			tracingEnabled = false
		}
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:                   port,
		Env:                    getEnvOrDefaultMulti([]string{"INKSEAL_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:            getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		JWTSecret:              getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		JWTPreviousSecret:      getEnvOrKoanf("JWT_PREVIOUS_SECRET", k, "jwt_previous_secret"),
		CORSOrigins:            getEnvListOrKoanf("CORS_ORIGINS", k, "cors_origins"),
		RedisAddr:              getEnvOrKoanf("REDIS_ADDR", k, "redis_addr"),
		RedisPassword:          getEnvOrKoanf("REDIS_PASSWORD", k, "redis_password"),
		StorageBucketName:      getEnvOrKoanf("STORAGE_BUCKET_NAME", k, "storage_bucket_name"),
		StorageAccessKeyID:     getEnvOrKoanf("STORAGE_ACCESS_KEY_ID", k, "storage_access_key_id"),
		StorageSecretAccessKey: getEnvOrKoanf("STORAGE_SECRET_ACCESS_KEY", k, "storage_secret_access_key"),
		StorageEndpoint:        getEnvOrKoanf("STORAGE_ENDPOINT", k, "storage_endpoint"),
		StorageURLTTLMinutes:   urlTTL,
		SignReadLimit:          readLimit,
		SignWriteLimit:         writeLimit,
		TracingEnabled:         tracingEnabled,
		OTLPEndpoint:           getEnvOrKoanf("OTLP_ENDPOINT", k, "otlp_endpoint"),
		OTLPProtocol:           getEnvOrDefault("OTLP_PROTOCOL", k.String("otlp_protocol"), DefaultOTLPProtocol),
	}

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

// getEnvListOrKoanf returns a comma-separated environment variable as a
// list if set, otherwise the koanf string slice.
func getEnvListOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) []string {
	if val := os.Getenv(envKey); val != "" {
		parts := strings.Split(val, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	return k.Strings(koanfKey)
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
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, ErrInvalidPort)
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

	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.SignReadLimit <= 0 || c.SignWriteLimit <= 0 {
		errs = append(errs, ErrInvalidRateLimit)
	}

	// Object storage is optional. Only validate fields if any storage value is set.
	if c.StorageBucketName != "" || c.StorageAccessKeyID != "" || c.StorageSecretAccessKey != "" || c.StorageEndpoint != "" {
		if c.StorageBucketName == "" {
			errs = append(errs, ErrMissingStorageBucketName)
		}
		if c.StorageAccessKeyID == "" {
			errs = append(errs, ErrMissingStorageAccessKeyID)
		}
		if c.StorageSecretAccessKey == "" {
			errs = append(errs, ErrMissingStorageSecretAccessKey)
		}
		if c.StorageEndpoint == "" {
			errs = append(errs, ErrMissingStorageEndpoint)
		}
	}

	if c.TracingEnabled {
		switch c.OTLPProtocol {
		case "grpc", "http":
		default:
			errs = append(errs, ErrInvalidOTLPProtocol)
		}
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
		"jwt_secret":                maskSecret(c.JWTSecret),
		"jwt_previous_secret":       maskSecret(c.JWTPreviousSecret),
		"cors_origins":              strings.Join(c.CORSOrigins, ","),
		"redis_addr":                c.RedisAddr,
		"redis_password":            maskSecret(c.RedisPassword),
		"storage_bucket_name":       c.StorageBucketName,
		"storage_access_key_id":     maskSecret(c.StorageAccessKeyID),
		"storage_secret_access_key": maskSecret(c.StorageSecretAccessKey),
		"storage_endpoint":          c.StorageEndpoint,
		"storage_url_ttl_minutes":   fmt.Sprintf("%d", c.StorageURLTTLMinutes),
		"sign_read_limit":           fmt.Sprintf("%d", c.SignReadLimit),
		"sign_write_limit":          fmt.Sprintf("%d", c.SignWriteLimit),
		"tracing_enabled":           fmt.Sprintf("%t", c.TracingEnabled),
		"otlp_endpoint":             c.OTLPEndpoint,
		"otlp_protocol":             c.OTLPProtocol,
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
