// Package config resolves queryctl settings from profile defaults, the
// optional config file and QUERYCTL_* environment variables, in that order.
// Command-line flags are applied on top by the CLI layer.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

// CacheDriver selects the cache store implementation.
type CacheDriver string

const (
	CacheDriverMemory   CacheDriver = "memory"
	CacheDriverSQLite   CacheDriver = "sqlite"
	CacheDriverPostgres CacheDriver = "postgres"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	Remote        RemoteConfig
	Cache         CacheConfig
	Poll          PollConfig
	ObjectStore   ObjectStoreConfig
	Display       DisplayConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

// RemoteConfig locates the managed query service and the default execution
// context sent with each submission.
type RemoteConfig struct {
	Endpoint       string
	APIKey         string
	Database       string
	Workgroup      string
	OutputLocation string
	RequestTimeout time.Duration
}

type CacheConfig struct {
	Enabled         bool
	Driver          CacheDriver
	Path            string
	DSN             string
	FreshnessWindow time.Duration
	MaxOpenConns    int
}

type PollConfig struct {
	IntervalFloor    time.Duration
	IntervalCap      time.Duration
	TransientRetries int
	Timeout          time.Duration
}

type ObjectStoreConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

type DisplayConfig struct {
	MaxRows     int
	HistorySize int
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

// Load resolves the configuration: profile defaults, then the config file
// (if present), then environment overrides.
func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("QUERYCTL_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid QUERYCTL_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	if err := applyFile(lookup, &cfg); err != nil {
		return Config{}, err
	}

	if err := applyString(lookup, "QUERYCTL_SERVICE_NAME", &cfg.Service.Name); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYCTL_REMOTE_ENDPOINT", &cfg.Remote.Endpoint); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYCTL_REMOTE_API_KEY", &cfg.Remote.APIKey); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYCTL_DATABASE", &cfg.Remote.Database); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYCTL_WORKGROUP", &cfg.Remote.Workgroup); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYCTL_OUTPUT_LOCATION", &cfg.Remote.OutputLocation); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYCTL_REMOTE_REQUEST_TIMEOUT", &cfg.Remote.RequestTimeout); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "QUERYCTL_CACHE_ENABLED", &cfg.Cache.Enabled); err != nil {
		return Config{}, err
	}
	if err := applyCacheDriver(lookup, "QUERYCTL_CACHE_DRIVER", &cfg.Cache.Driver); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYCTL_CACHE_PATH", &cfg.Cache.Path); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYCTL_CACHE_DSN", &cfg.Cache.DSN); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYCTL_CACHE_FRESHNESS_WINDOW", &cfg.Cache.FreshnessWindow); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERYCTL_CACHE_MAX_OPEN_CONNS", &cfg.Cache.MaxOpenConns); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYCTL_POLL_INTERVAL_FLOOR", &cfg.Poll.IntervalFloor); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYCTL_POLL_INTERVAL_CAP", &cfg.Poll.IntervalCap); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERYCTL_POLL_TRANSIENT_RETRIES", &cfg.Poll.TransientRetries); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "QUERYCTL_TIMEOUT", &cfg.Poll.Timeout); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYCTL_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYCTL_OBJECTSTORE_REGION", &cfg.ObjectStore.Region); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYCTL_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "QUERYCTL_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "QUERYCTL_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERYCTL_MAX_ROWS", &cfg.Display.MaxRows); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "QUERYCTL_HISTORY_SIZE", &cfg.Display.HistorySize); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "QUERYCTL_LOG_JSON", &cfg.Observability.LogJSON); err != nil {
		return Config{}, err
	}
	if err := applyLogLevel(lookup, "QUERYCTL_LOG_LEVEL", &cfg.Observability.LogLevel); err != nil {
		return Config{}, err
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.Poll.IntervalFloor <= 0 || cfg.Poll.IntervalCap < cfg.Poll.IntervalFloor {
		return Config{}, fmt.Errorf("poll interval floor/cap are inconsistent: floor=%s cap=%s", cfg.Poll.IntervalFloor, cfg.Poll.IntervalCap)
	}
	if cfg.Cache.FreshnessWindow <= 0 {
		return Config{}, fmt.Errorf("cache freshness window must be positive")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "queryctl"},
		Remote: RemoteConfig{
			Endpoint:       "http://localhost:8080",
			Workgroup:      "primary",
			RequestTimeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:         true,
			Driver:          CacheDriverSQLite,
			Path:            defaultCachePath(),
			FreshnessWindow: time.Hour,
			MaxOpenConns:    4,
		},
		Poll: PollConfig{
			IntervalFloor:    200 * time.Millisecond,
			IntervalCap:      2 * time.Second,
			TransientRetries: 3,
			Timeout:          10 * time.Minute,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:        "localhost:9000",
			Region:          "us-east-1",
			AccessKeyID:     "minio",
			SecretAccessKey: "miniostorage",
			UseSSL:          false,
		},
		Display: DisplayConfig{
			MaxRows:     1000,
			HistorySize: 20,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelInfo,
			LogJSON:  false,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.Cache.Driver = CacheDriverMemory
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.ObjectStore.UseSSL = true
		cfg.Observability.LogJSON = true
	}

	return cfg
}

func defaultCachePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "queryctl-cache.db"
	}
	return home + "/.config/queryctl/cache.db"
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyCacheDriver(lookup LookupFunc, key string, dst *CacheDriver) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	driver := CacheDriver(strings.ToLower(strings.TrimSpace(raw)))
	switch driver {
	case CacheDriverMemory, CacheDriverSQLite, CacheDriverPostgres:
		*dst = driver
		return nil
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
