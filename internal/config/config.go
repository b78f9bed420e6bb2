// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"cube-sql/internal/scan"
)

// Defaults applied by LoadFromEnv.
const (
	DefaultAPIURL     = "http://localhost:4000/cubejs-api"
	DefaultAPITimeout = 30 * time.Second
	DefaultAPIRPS     = 50
	DefaultAPIBurst   = 100
)

// APIConfig holds the cube REST API connection settings.
type APIConfig struct {
	URL     string        // base URL including the API path prefix
	Token   string        // sent verbatim in the Authorization header
	Timeout time.Duration // per-request timeout (default 30s)

	// Client side rate limiting
	RPS   float64 // sustained requests per second (default 50)
	Burst int     // burst capacity (default 100)
}

// Config holds the configuration for cube scan execution.
type Config struct {
	StreamMode      bool   // stream results for unlimited or large queries
	QueryLimit      int    // cap applied to every outgoing request limit
	FallbackWorkers int    // concurrent one-shot loads for downgraded streams
	LogLevel        string // log level: debug, info, warn, error (default "info")
	LogFormat       string // log format: text (default) or json

	API APIConfig

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// JSONLogs reports whether logs should be written as JSON.
func (c *Config) JSONLogs() bool {
	return strings.EqualFold(c.LogFormat, "json")
}

// ScanConfig returns the knobs consumed by the scan planner.
func (c *Config) ScanConfig() scan.Config {
	return scan.Config{StreamMode: c.StreamMode, QueryLimit: c.QueryLimit}
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	streamMode, err := boolEnv("CUBESQL_STREAM_MODE", false)
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		StreamMode: streamMode,
		LogLevel:   os.Getenv("LOG_LEVEL"),
		LogFormat:  os.Getenv("LOG_FORMAT"),
		API: APIConfig{
			URL:   os.Getenv("CUBE_API_URL"),
			Token: os.Getenv("CUBE_API_TOKEN"),
		},
	}

	if v := os.Getenv("CUBEJS_DB_QUERY_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("CUBEJS_DB_QUERY_LIMIT must be a positive integer, got %q", v)
		}
		cfg.QueryLimit = n
	}
	if v := os.Getenv("CUBESQL_FALLBACK_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("CUBESQL_FALLBACK_WORKERS must be a positive integer, got %q", v)
		}
		cfg.FallbackWorkers = n
	}
	if v := os.Getenv("CUBE_API_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("parse CUBE_API_TIMEOUT: %w", err)
		}
		cfg.API.Timeout = d
	}

	// Rate limiting
	if v := os.Getenv("CUBE_API_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.API.RPS = f
		}
	}
	if v := os.Getenv("CUBE_API_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.API.Burst = n
		}
	}

	// Defaults
	if cfg.QueryLimit == 0 {
		cfg.QueryLimit = scan.DefaultQueryLimit
	}
	if cfg.FallbackWorkers == 0 {
		cfg.FallbackWorkers = scan.DefaultFallbackWorkers
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.API.URL == "" {
		cfg.API.URL = DefaultAPIURL
	}
	cfg.API.URL = strings.TrimRight(cfg.API.URL, "/")
	if cfg.API.Timeout <= 0 {
		cfg.API.Timeout = DefaultAPITimeout
	}
	if cfg.API.RPS <= 0 {
		cfg.API.RPS = DefaultAPIRPS
	}
	if cfg.API.Burst <= 0 {
		cfg.API.Burst = DefaultAPIBurst
	}
	if cfg.API.Token == "" {
		cfg.Warnings = append(cfg.Warnings, "CUBE_API_TOKEN is not set, requests will be sent without Authorization")
	}

	return cfg, nil
}

// boolEnv reads a boolean variable. Unset or empty yields def; anything
// that is not a recognizable boolean is an error naming the variable.
func boolEnv(key string, def bool) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "":
		return def, nil
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}

// LoadDotEnv applies KEY=VALUE lines from a .env file to variables that are
// not set yet. A missing file is not an error. Blank lines, # comments and
// an "export " prefix are accepted; lines without "=" are skipped.
func LoadDotEnv(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		key, raw, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value, err := dotEnvValue(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("%s:%d: %s: %w", path, n, key, err)
		}
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("setenv %s: %w", key, err)
		}
	}
	return scanner.Err()
}

// dotEnvValue unquotes a .env value. Double quotes honor Go escapes, single
// quotes are literal.
func dotEnvValue(raw string) (string, error) {
	if len(raw) < 2 {
		return raw, nil
	}
	switch {
	case raw[0] == '"' && raw[len(raw)-1] == '"':
		return strconv.Unquote(raw)
	case raw[0] == '\'' && raw[len(raw)-1] == '\'':
		return raw[1 : len(raw)-1], nil
	}
	return raw, nil
}
