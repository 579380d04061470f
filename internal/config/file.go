package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the yaml layout of ~/.config/queryctl/config.yaml.
// Only fields that are set in the file override the profile defaults.
type fileConfig struct {
	Remote struct {
		Endpoint       string `yaml:"endpoint"`
		APIKey         string `yaml:"api_key"`
		Database       string `yaml:"database"`
		Workgroup      string `yaml:"workgroup"`
		OutputLocation string `yaml:"output_location"`
	} `yaml:"remote"`
	Cache struct {
		Enabled         *bool  `yaml:"enabled"`
		Driver          string `yaml:"driver"`
		Path            string `yaml:"path"`
		DSN             string `yaml:"dsn"`
		FreshnessWindow string `yaml:"freshness_window"`
	} `yaml:"cache"`
	Poll struct {
		IntervalFloor    string `yaml:"interval_floor"`
		IntervalCap      string `yaml:"interval_cap"`
		TransientRetries *int   `yaml:"transient_retries"`
		Timeout          string `yaml:"timeout"`
	} `yaml:"poll"`
	ObjectStore struct {
		Endpoint        string `yaml:"endpoint"`
		Region          string `yaml:"region"`
		AccessKeyID     string `yaml:"access_key"`
		SecretAccessKey string `yaml:"secret_key"`
		UseSSL          *bool  `yaml:"use_ssl"`
	} `yaml:"object_store"`
	Display struct {
		MaxRows     *int `yaml:"max_rows"`
		HistorySize *int `yaml:"history_size"`
	} `yaml:"display"`
}

// DefaultFilePath returns the config file location, honoring an explicit
// QUERYCTL_CONFIG override.
func DefaultFilePath(lookup LookupFunc) string {
	if raw, ok := lookup("QUERYCTL_CONFIG"); ok && strings.TrimSpace(raw) != "" {
		return strings.TrimSpace(raw)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "queryctl", "config.yaml")
}

func applyFile(lookup LookupFunc, cfg *Config) error {
	path := DefaultFilePath(lookup)
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	var file fileConfig
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return mergeFile(cfg, file, path)
}

func mergeFile(cfg *Config, file fileConfig, path string) error {
	setString(&cfg.Remote.Endpoint, file.Remote.Endpoint)
	setString(&cfg.Remote.APIKey, file.Remote.APIKey)
	setString(&cfg.Remote.Database, file.Remote.Database)
	setString(&cfg.Remote.Workgroup, file.Remote.Workgroup)
	setString(&cfg.Remote.OutputLocation, file.Remote.OutputLocation)

	if file.Cache.Enabled != nil {
		cfg.Cache.Enabled = *file.Cache.Enabled
	}
	if file.Cache.Driver != "" {
		driver := CacheDriver(strings.ToLower(strings.TrimSpace(file.Cache.Driver)))
		switch driver {
		case CacheDriverMemory, CacheDriverSQLite, CacheDriverPostgres:
			cfg.Cache.Driver = driver
		default:
			return fmt.Errorf("config file %s: invalid cache driver %q", path, file.Cache.Driver)
		}
	}
	setString(&cfg.Cache.Path, file.Cache.Path)
	setString(&cfg.Cache.DSN, file.Cache.DSN)
	if err := setDuration(&cfg.Cache.FreshnessWindow, file.Cache.FreshnessWindow, path, "cache.freshness_window"); err != nil {
		return err
	}

	if err := setDuration(&cfg.Poll.IntervalFloor, file.Poll.IntervalFloor, path, "poll.interval_floor"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Poll.IntervalCap, file.Poll.IntervalCap, path, "poll.interval_cap"); err != nil {
		return err
	}
	if file.Poll.TransientRetries != nil {
		cfg.Poll.TransientRetries = *file.Poll.TransientRetries
	}
	if err := setDuration(&cfg.Poll.Timeout, file.Poll.Timeout, path, "poll.timeout"); err != nil {
		return err
	}

	setString(&cfg.ObjectStore.Endpoint, file.ObjectStore.Endpoint)
	setString(&cfg.ObjectStore.Region, file.ObjectStore.Region)
	setString(&cfg.ObjectStore.AccessKeyID, file.ObjectStore.AccessKeyID)
	setString(&cfg.ObjectStore.SecretAccessKey, file.ObjectStore.SecretAccessKey)
	if file.ObjectStore.UseSSL != nil {
		cfg.ObjectStore.UseSSL = *file.ObjectStore.UseSSL
	}

	if file.Display.MaxRows != nil {
		cfg.Display.MaxRows = *file.Display.MaxRows
	}
	if file.Display.HistorySize != nil {
		cfg.Display.HistorySize = *file.Display.HistorySize
	}
	return nil
}

func setString(dst *string, value string) {
	if strings.TrimSpace(value) != "" {
		*dst = strings.TrimSpace(value)
	}
}

func setDuration(dst *time.Duration, value, path, field string) error {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("config file %s: invalid %s: %w", path, field, err)
	}
	*dst = parsed
	return nil
}
