// Package config provides configuration management for the application.
//
// Values are resolved in this order, later sources winning:
// built-in defaults, config.yaml (with ${VAR} and ${VAR:-default}
// expansion), then environment variables. A .env file, when present, is
// loaded into the environment first without overriding variables that are
// already set.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environments.
const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

// Storage backends.
const (
	StorageSQLite     = "sqlite"
	StoragePostgreSQL = "postgresql"
	StorageMongoDB    = "mongodb"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Redis     RedisConfig     `yaml:"redis"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Uploads   UploadConfig    `yaml:"uploads"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Storage   StorageConfig   `yaml:"storage"`
	ToolCalls ToolCallsConfig `yaml:"tool_calls"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Admin     AdminConfig     `yaml:"admin"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `yaml:"port"`
	// Env is dev, staging or prod.
	Env string `yaml:"env"`
	// BodySizeLimit uses Echo's size syntax, e.g. "50M".
	BodySizeLimit string `yaml:"body_size_limit"`
	// TempDir is wiped and recreated at startup.
	TempDir string `yaml:"temp_dir"`
}

// LoggingConfig controls log level and format (auto, pretty, json).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RedisConfig holds the shared remote store settings.
type RedisConfig struct {
	Enabled   bool   `yaml:"enabled"`
	URL       string `yaml:"url"`
	KeyPrefix string `yaml:"key_prefix"`
	// TTLSeconds is the lifetime of cached tool results.
	TTLSeconds int `yaml:"ttl_seconds"`
	TimeoutMS  int `yaml:"timeout_ms"`
}

// CacheConfig sizes the in-memory tool caches.
type CacheConfig struct {
	TextToolSize int `yaml:"text_tool_size"`
}

// RateLimitConfig holds per-client ceilings.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	UploadMBPerHour   int `yaml:"upload_mb_per_hour"`
}

// UploadConfig holds per-request size limits.
type UploadConfig struct {
	MaxImageSizeMB int `yaml:"max_image_size_mb"`
	MaxTextInputMB int `yaml:"max_text_input_mb"`
}

// PipelineConfig configures tool-to-tool file hand-off.
type PipelineConfig struct {
	// Dir defaults to a directory under Server.TempDir.
	Dir                  string `yaml:"dir"`
	TTLSeconds           int    `yaml:"ttl_seconds"`
	SweepIntervalSeconds int    `yaml:"sweep_interval_seconds"`
}

// StorageConfig selects the database behind the tool-call log.
type StorageConfig struct {
	Type       string                  `yaml:"type"`
	SQLite     SQLiteStorageConfig     `yaml:"sqlite"`
	PostgreSQL PostgreSQLStorageConfig `yaml:"postgresql"`
	MongoDB    MongoDBStorageConfig    `yaml:"mongodb"`
}

// SQLiteStorageConfig holds SQLite settings.
type SQLiteStorageConfig struct {
	Path string `yaml:"path"`
}

// PostgreSQLStorageConfig holds PostgreSQL settings.
type PostgreSQLStorageConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

// MongoDBStorageConfig holds MongoDB settings.
type MongoDBStorageConfig struct {
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
}

// ToolCallsConfig controls the tool-call log.
type ToolCallsConfig struct {
	Enabled bool `yaml:"enabled"`
	// BufferSize is the number of entries queued before writes are dropped.
	BufferSize int `yaml:"buffer_size"`
	// FlushInterval is in seconds.
	FlushInterval int `yaml:"flush_interval"`
	RetentionDays int `yaml:"retention_days"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// AdminConfig controls the admin API.
type AdminConfig struct {
	// EndpointsEnabled defaults to true in dev and false elsewhere.
	EndpointsEnabled *bool `yaml:"endpoints_enabled"`
	// Key, when set, is required as a bearer token on admin routes.
	Key string `yaml:"key"`
}

// IsDev reports whether the service runs in development mode.
func (c *Config) IsDev() bool {
	return c.Server.Env == EnvDev
}

// IsProd reports whether the service runs in production.
func (c *Config) IsProd() bool {
	return c.Server.Env == EnvProd
}

// AdminEnabled reports whether admin routes are registered.
func (c *Config) AdminEnabled() bool {
	if c.Admin.EndpointsEnabled != nil {
		return *c.Admin.EndpointsEnabled
	}
	return c.IsDev()
}

// RedisTTL returns the cache TTL as a duration.
func (c *Config) RedisTTL() time.Duration {
	return time.Duration(c.Redis.TTLSeconds) * time.Second
}

// RedisTimeout returns the per-call remote timeout.
func (c *Config) RedisTimeout() time.Duration {
	return time.Duration(c.Redis.TimeoutMS) * time.Millisecond
}

// PipelineTTL returns the default pipeline file lifetime.
func (c *Config) PipelineTTL() time.Duration {
	return time.Duration(c.Pipeline.TTLSeconds) * time.Second
}

// PipelineSweepInterval returns the period of the background sweep, or 0
// when the sweep is disabled.
func (c *Config) PipelineSweepInterval() time.Duration {
	return time.Duration(c.Pipeline.SweepIntervalSeconds) * time.Second
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	tempDir := filepath.Join(os.TempDir(), "cakisi")
	return &Config{
		Server: ServerConfig{
			Port:          "8000",
			Env:           EnvDev,
			BodySizeLimit: "50M",
			TempDir:       tempDir,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Redis: RedisConfig{
			Enabled:    true,
			URL:        "redis://localhost:6379/0",
			KeyPrefix:  "isvicre:",
			TTLSeconds: 3600,
			TimeoutMS:  2000,
		},
		Cache: CacheConfig{
			TextToolSize: 100,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			UploadMBPerHour:   100,
		},
		Uploads: UploadConfig{
			MaxImageSizeMB: 10,
			MaxTextInputMB: 1,
		},
		Pipeline: PipelineConfig{
			TTLSeconds:           600,
			SweepIntervalSeconds: 300,
		},
		Storage: StorageConfig{
			Type:       StorageSQLite,
			SQLite:     SQLiteStorageConfig{Path: "data/cakisi.db"},
			PostgreSQL: PostgreSQLStorageConfig{MaxConns: 10},
			MongoDB:    MongoDBStorageConfig{Database: "cakisi"},
		},
		ToolCalls: ToolCallsConfig{
			Enabled:       false,
			BufferSize:    1000,
			FlushInterval: 5,
			RetentionDays: 30,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}

// LoadResult is the outcome of Load.
type LoadResult struct {
	Config *Config
	// ConfigFile is the YAML file that was read, if any.
	ConfigFile string
	// DotEnvLoaded reports whether a .env file was found.
	DotEnvLoaded bool
}

// LoadOptions points Load at its input files.
type LoadOptions struct {
	// ConfigPaths are tried in order; the first that exists is read.
	ConfigPaths []string
	DotEnvPath  string
}

// DefaultLoadOptions looks for config/config.yaml, then config.yaml, and .env
// in the working directory.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		ConfigPaths: []string{"config/config.yaml", "config.yaml"},
		DotEnvPath:  ".env",
	}
}

// Load reads configuration using DefaultLoadOptions.
func Load() (*LoadResult, error) {
	return LoadWithOptions(DefaultLoadOptions())
}

// LoadWithOptions reads configuration from the given files and the
// environment.
func LoadWithOptions(opts LoadOptions) (*LoadResult, error) {
	result := &LoadResult{Config: Defaults()}

	if opts.DotEnvPath != "" {
		err := godotenv.Load(opts.DotEnvPath)
		switch {
		case err == nil:
			result.DotEnvLoaded = true
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("failed to load %s: %w", opts.DotEnvPath, err)
		}
	}

	for _, path := range opts.ConfigPaths {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal([]byte(expandString(string(data))), result.Config); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		result.ConfigFile = path
		break
	}

	if err := applyEnv(result.Config); err != nil {
		return nil, err
	}
	normalize(result.Config)
	if err := result.Config.Validate(); err != nil {
		return nil, err
	}
	return result, nil
}

// envPattern matches ${VAR} and ${VAR:-default}.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// expandString replaces ${VAR} with the variable's value and ${VAR:-default}
// with the value or, when unset or empty, the default. Unresolved variables
// without a default are left as written.
func expandString(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		name := parts[1]
		hasDefault := strings.Contains(match, ":-")

		if val, ok := os.LookupEnv(name); ok && (val != "" || !hasDefault) {
			return val
		}
		if hasDefault {
			return parts[2]
		}
		return match
	})
}

func applyEnv(cfg *Config) error {
	var errs []error
	str := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	num := func(dst *int, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid integer %q", key, v))
				return
			}
			*dst = n
		}
	}
	flag := func(dst *bool, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid boolean %q", key, v))
				return
			}
			*dst = b
		}
	}

	str(&cfg.Server.Port, "PORT")
	str(&cfg.Server.Env, "APP_ENV")
	str(&cfg.Server.BodySizeLimit, "BODY_SIZE_LIMIT")
	str(&cfg.Server.TempDir, "TEMP_DIR")
	str(&cfg.Logging.Level, "LOG_LEVEL")
	str(&cfg.Logging.Format, "LOG_FORMAT")

	flag(&cfg.Redis.Enabled, "REDIS_ENABLED")
	str(&cfg.Redis.URL, "REDIS_URL")
	str(&cfg.Redis.KeyPrefix, "REDIS_KEY_PREFIX")
	num(&cfg.Redis.TTLSeconds, "REDIS_TTL_SECONDS")
	num(&cfg.Redis.TimeoutMS, "REDIS_TIMEOUT_MS")

	num(&cfg.Cache.TextToolSize, "TEXT_TOOL_CACHE_SIZE")
	num(&cfg.RateLimit.RequestsPerMinute, "MAX_REQUESTS_PER_MINUTE")
	num(&cfg.RateLimit.UploadMBPerHour, "MAX_UPLOAD_MB_PER_HOUR")
	num(&cfg.Uploads.MaxImageSizeMB, "MAX_IMAGE_SIZE_MB")
	num(&cfg.Uploads.MaxTextInputMB, "MAX_TEXT_INPUT_MB")

	str(&cfg.Pipeline.Dir, "PIPELINE_DIR")
	num(&cfg.Pipeline.TTLSeconds, "PIPELINE_TTL_SECONDS")
	num(&cfg.Pipeline.SweepIntervalSeconds, "PIPELINE_SWEEP_INTERVAL_SECONDS")

	str(&cfg.Storage.Type, "STORAGE_TYPE")
	str(&cfg.Storage.SQLite.Path, "SQLITE_PATH")
	str(&cfg.Storage.PostgreSQL.URL, "POSTGRES_URL")
	num(&cfg.Storage.PostgreSQL.MaxConns, "POSTGRES_MAX_CONNS")
	str(&cfg.Storage.MongoDB.URL, "MONGODB_URL")
	str(&cfg.Storage.MongoDB.Database, "MONGODB_DATABASE")

	flag(&cfg.ToolCalls.Enabled, "TOOL_CALLS_ENABLED")
	num(&cfg.ToolCalls.BufferSize, "TOOL_CALLS_BUFFER_SIZE")
	num(&cfg.ToolCalls.FlushInterval, "TOOL_CALLS_FLUSH_INTERVAL")
	num(&cfg.ToolCalls.RetentionDays, "TOOL_CALLS_RETENTION_DAYS")

	flag(&cfg.Metrics.Enabled, "METRICS_ENABLED")
	str(&cfg.Metrics.Endpoint, "METRICS_ENDPOINT")

	if v, ok := os.LookupEnv("ADMIN_ENDPOINTS_ENABLED"); ok && v != "" {
		var enabled bool
		flag(&enabled, "ADMIN_ENDPOINTS_ENABLED")
		cfg.Admin.EndpointsEnabled = &enabled
	}
	str(&cfg.Admin.Key, "ADMIN_KEY")

	return errors.Join(errs...)
}

func normalize(cfg *Config) {
	switch strings.ToLower(strings.TrimSpace(cfg.Server.Env)) {
	case "dev", "development", "local":
		cfg.Server.Env = EnvDev
	case "staging", "stage":
		cfg.Server.Env = EnvStaging
	case "prod", "production":
		cfg.Server.Env = EnvProd
	}
	cfg.Storage.Type = strings.ToLower(strings.TrimSpace(cfg.Storage.Type))
	if cfg.Pipeline.Dir == "" {
		cfg.Pipeline.Dir = filepath.Join(cfg.Server.TempDir, "pipeline")
	}
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error

	switch c.Server.Env {
	case EnvDev, EnvStaging, EnvProd:
	default:
		errs = append(errs, fmt.Errorf("APP_ENV must be dev, staging or prod, got %q", c.Server.Env))
	}
	switch c.Storage.Type {
	case StorageSQLite, StoragePostgreSQL, StorageMongoDB:
	default:
		errs = append(errs, fmt.Errorf("STORAGE_TYPE must be sqlite, postgresql or mongodb, got %q", c.Storage.Type))
	}
	if c.Server.TempDir == "" {
		errs = append(errs, errors.New("TEMP_DIR must not be empty"))
	}

	positive := map[string]int{
		"TEXT_TOOL_CACHE_SIZE":    c.Cache.TextToolSize,
		"MAX_REQUESTS_PER_MINUTE": c.RateLimit.RequestsPerMinute,
		"MAX_UPLOAD_MB_PER_HOUR":  c.RateLimit.UploadMBPerHour,
		"MAX_IMAGE_SIZE_MB":       c.Uploads.MaxImageSizeMB,
		"MAX_TEXT_INPUT_MB":       c.Uploads.MaxTextInputMB,
		"PIPELINE_TTL_SECONDS":    c.Pipeline.TTLSeconds,
		"REDIS_TTL_SECONDS":       c.Redis.TTLSeconds,
		"REDIS_TIMEOUT_MS":        c.Redis.TimeoutMS,
	}
	for key, v := range positive {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", key, v))
		}
	}
	if c.Pipeline.SweepIntervalSeconds < 0 {
		errs = append(errs, fmt.Errorf("PIPELINE_SWEEP_INTERVAL_SECONDS must not be negative"))
	}
	if c.ToolCalls.Enabled {
		if c.Storage.Type == StoragePostgreSQL && c.Storage.PostgreSQL.URL == "" {
			errs = append(errs, errors.New("POSTGRES_URL is required when STORAGE_TYPE=postgresql"))
		}
		if c.Storage.Type == StorageMongoDB && c.Storage.MongoDB.URL == "" {
			errs = append(errs, errors.New("MONGODB_URL is required when STORAGE_TYPE=mongodb"))
		}
	}

	return errors.Join(errs...)
}
