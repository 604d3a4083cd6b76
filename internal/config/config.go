// Package config provides application configuration management with support for environment variables, command-line flags, and .env files.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Remote store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// Config holds the application configuration.
type Config struct {
	App       AppConfig
	Logger    LoggerConfig
	Local     LocalConfig
	Remote    RemoteConfig
	Sync      SyncConfig
	Blob      BlobConfig
	Migration MigrationConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level    string
	FilePath string // Optional rotated log file
}

// LocalConfig holds the embedded store configuration.
type LocalConfig struct {
	// DataPath is the base directory; the object store lives in {DataPath}/db
	// and the search index in {DataPath}/search.
	DataPath       string
	CacheRetention time.Duration // CachedBlob TTL (default: 168h)
	SearchEnabled  bool          // Maintain the local image search index (default: true)
}

// RemoteConfig holds the authoritative document store configuration.
type RemoteConfig struct {
	Driver       string        // sqlite, postgres or mongo (default: sqlite)
	DSN          string        // File path for sqlite, connection URL otherwise
	Database     string        // Database name (mongo only)
	MaxBatchSize int           // Provider cap on batched writes (default: 500)
	CallTimeout  time.Duration // Bound on every remote call (default: 10s)
}

// SyncConfig holds the background sync loop configuration.
type SyncConfig struct {
	Enabled        bool
	Interval       time.Duration // Cycle period (default: 30s)
	MaxAttempts    int           // Attempts per remote call, including the first (default: 3)
	InitialBackoff time.Duration // First retry delay (default: 500ms)
	MaxBackoff     time.Duration // Retry delay ceiling (default: 10s)
	RatePerSecond  float64       // Remote pushes per second (default: 5)

	// LockURL is a Redis URL. When set, cycles from every process sharing the
	// remote store take a lease first so only one pushes at a time.
	LockURL string
	LockTTL time.Duration // Lease lifetime (default: 2m)
}

// BlobConfig holds the object storage used for image payload uploads.
// Uploads are disabled when Endpoint is empty.
type BlobConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// MigrationConfig holds schema migration configuration.
type MigrationConfig struct {
	// ChunkSize caps operations per committed batch. Zero means the remote
	// store's own cap.
	ChunkSize int
}

// LoadConfig loads configuration from the process arguments.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:])
}

// Load loads configuration from multiple sources with precedence:
// 1. Command-line flags in args (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("gallery", flag.ContinueOnError)

	env := fs.String("env", "", "Environment (development, staging, production)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	logFile := fs.String("log-file", "", "Optional rotated log file")
	dataPath := fs.String("data-path", "", "Base path for the local store")
	cacheRetention := fs.String("cache-retention", "", "Cached blob retention (default: 168h)")
	remoteDriver := fs.String("remote-driver", "", "Remote store driver: sqlite, postgres, mongo")
	remoteDSN := fs.String("remote-dsn", "", "Remote store DSN")
	syncInterval := fs.String("sync-interval", "", "Sync cycle period (default: 30s)")
	envFile := fs.String("env-file", ".env", "Path to .env file")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(*envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level:    getConfigValue(*logLevel, "LOG_LEVEL", "info"),
			FilePath: getConfigValue(*logFile, "LOG_FILE", ""),
		},
		Local: LocalConfig{
			DataPath:      getConfigValue(*dataPath, "DATA_PATH", ""),
			SearchEnabled: getBoolConfigValue("", "SEARCH_ENABLED", true),
		},
		Remote: RemoteConfig{
			Driver:       getConfigValue(*remoteDriver, "REMOTE_DRIVER", DriverSQLite),
			DSN:          getConfigValue(*remoteDSN, "REMOTE_DSN", ""),
			Database:     getConfigValue("", "REMOTE_DATABASE", "gallery"),
			MaxBatchSize: getIntConfigValue("", "REMOTE_MAX_BATCH", 500),
		},
		Sync: SyncConfig{
			Enabled:       getBoolConfigValue("", "SYNC_ENABLED", true),
			MaxAttempts:   getIntConfigValue("", "SYNC_MAX_ATTEMPTS", 3),
			RatePerSecond: getFloatConfigValue("", "SYNC_RATE", 5),
			LockURL:       getConfigValue("", "SYNC_LOCK_URL", ""),
		},
		Blob: BlobConfig{
			Endpoint:  getConfigValue("", "BLOB_ENDPOINT", ""),
			Bucket:    getConfigValue("", "BLOB_BUCKET", "gallery-images"),
			AccessKey: getConfigValue("", "BLOB_ACCESS_KEY", ""),
			SecretKey: getConfigValue("", "BLOB_SECRET_KEY", ""),
			UseSSL:    getBoolConfigValue("", "BLOB_USE_SSL", true),
		},
		Migration: MigrationConfig{
			ChunkSize: getIntConfigValue("", "MIGRATION_CHUNK_SIZE", 0),
		},
	}

	durations := []struct {
		flagValue string
		envKey    string
		def       string
		dest      *time.Duration
	}{
		{*cacheRetention, "CACHE_RETENTION", "168h", &cfg.Local.CacheRetention},
		{"", "REMOTE_CALL_TIMEOUT", "10s", &cfg.Remote.CallTimeout},
		{*syncInterval, "SYNC_INTERVAL", "30s", &cfg.Sync.Interval},
		{"", "SYNC_INITIAL_BACKOFF", "500ms", &cfg.Sync.InitialBackoff},
		{"", "SYNC_MAX_BACKOFF", "10s", &cfg.Sync.MaxBackoff},
		{"", "SYNC_LOCK_TTL", "2m", &cfg.Sync.LockTTL},
	}
	for _, d := range durations {
		raw := getConfigValue(d.flagValue, d.envKey, d.def)
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.envKey, raw, err)
		}
		*d.dest = parsed
	}

	if err := cfg.expandDataPath(); err != nil {
		return nil, fmt.Errorf("invalid data path: %w", err)
	}

	if cfg.Remote.Driver == DriverSQLite && cfg.Remote.DSN == "" {
		cfg.Remote.DSN = filepath.Join(cfg.Local.DataPath, "remote.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %q (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Local.DataPath == "" {
		return errors.New("data path cannot be empty after expansion")
	}
	if c.Local.CacheRetention <= 0 {
		return errors.New("cache retention must be positive")
	}

	switch c.Remote.Driver {
	case DriverSQLite, DriverPostgres, DriverMongo:
	default:
		return fmt.Errorf("invalid remote driver: %s (must be sqlite, postgres, or mongo)", c.Remote.Driver)
	}
	if c.Remote.DSN == "" {
		return errors.New("remote DSN is required")
	}
	if c.Remote.MaxBatchSize <= 0 {
		return errors.New("remote max batch size must be positive")
	}
	if c.Remote.CallTimeout <= 0 {
		return errors.New("remote call timeout must be positive")
	}

	if c.Sync.Interval <= 0 {
		return errors.New("sync interval must be positive")
	}
	if c.Sync.MaxAttempts < 1 {
		return errors.New("sync max attempts must be at least 1")
	}
	if c.Sync.InitialBackoff <= 0 || c.Sync.MaxBackoff < c.Sync.InitialBackoff {
		return errors.New("sync backoff must be positive and max backoff >= initial backoff")
	}
	if c.Sync.LockURL != "" && c.Sync.LockTTL < c.Sync.Interval {
		return errors.New("sync lock TTL must cover at least one sync interval")
	}

	if c.Migration.ChunkSize < 0 {
		return errors.New("migration chunk size cannot be negative")
	}

	return nil
}

// StorePath returns the directory of the embedded object store.
func (c *Config) StorePath() string {
	return filepath.Join(c.Local.DataPath, "db")
}

// SearchPath returns the directory of the local search index.
func (c *Config) SearchPath() string {
	return filepath.Join(c.Local.DataPath, "search")
}

// expandPath expands ~ and makes the path absolute.
// If path is empty and defaultPath is provided, uses the default.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

func (c *Config) expandDataPath() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	defaultPath := filepath.Join(homeDir, "Gallery", "data")

	expanded, err := expandPath(c.Local.DataPath, defaultPath)
	if err != nil {
		return err
	}
	c.Local.DataPath = expanded
	return nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}
	return defaultValue
}

// getBoolConfigValue returns a bool from flag, env var, or default.
// Accepts: "true", "1", "yes" (case-insensitive) as true; anything else is false.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	strValue = strings.ToLower(strValue)
	return strValue == "true" || strValue == "1" || strValue == "yes"
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(strValue)
	if err != nil {
		return defaultValue
	}
	return result
}

// getFloatConfigValue returns a float from flag, env var, or default.
func getFloatConfigValue(flagValue, envKey string, defaultValue float64) float64 {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	result, err := strconv.ParseFloat(strValue, 64)
	if err != nil {
		return defaultValue
	}
	return result
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		// Env vars take precedence over the .env file.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
