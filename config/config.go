// Package config persists local application settings as a JSON file in an
// OS-aware data directory and maps the tunable retention knobs onto storage
// options.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"abit/storage"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "abit"
	// DefaultSyncTimeout is how long a trusted-node synchronization pass may
	// run before the caller gives up, in seconds.
	DefaultSyncTimeout = 120
	// DefaultInventoryGraceMinutes matches storage.DefaultInventoryGrace.
	DefaultInventoryGraceMinutes = 5
	// DefaultNodeMaxAgeDays matches storage.DefaultNodeMaxAge.
	DefaultNodeMaxAgeDays = 7
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
)

// AppConfig contains persistent local settings.
type AppConfig struct {
	// TrustedNode, when set ("host:port"), is the single peer the client
	// synchronizes against instead of gossiping with the open network.
	TrustedNode           string `json:"trusted_node"`
	SyncTimeoutSeconds    int    `json:"sync_timeout_seconds"`
	InventoryGraceMinutes int    `json:"inventory_grace_minutes"`
	NodeMaxAgeDays        int    `json:"node_max_age_days"`
	ObjectCacheSize       int    `json:"object_cache_size"`
}

// StoreOptions maps the retention settings onto storage options.
func (c *AppConfig) StoreOptions() []storage.Option {
	return []storage.Option{
		storage.WithInventoryGrace(time.Duration(c.InventoryGraceMinutes) * time.Minute),
		storage.WithNodeMaxAge(time.Duration(c.NodeMaxAgeDays) * 24 * time.Hour),
		storage.WithObjectCacheSize(c.ObjectCacheSize),
	}
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If ABIT_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv("ABIT_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*AppConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg AppConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *AppConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures the data directory and config exist, then returns the
// config and its path.
func LoadOrCreate() (*AppConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create data directory %q: %w", dataDir, err)
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig()
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}

		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	return cfg, cfgPath, nil
}

func defaultConfig() *AppConfig {
	return &AppConfig{
		SyncTimeoutSeconds:    DefaultSyncTimeout,
		InventoryGraceMinutes: DefaultInventoryGraceMinutes,
		NodeMaxAgeDays:        DefaultNodeMaxAgeDays,
		ObjectCacheSize:       storage.DefaultObjectCacheSize,
	}
}

func normalizeDefaults(cfg *AppConfig) bool {
	updated := false

	if cfg.SyncTimeoutSeconds <= 0 {
		cfg.SyncTimeoutSeconds = DefaultSyncTimeout
		updated = true
	}
	if cfg.InventoryGraceMinutes <= 0 {
		cfg.InventoryGraceMinutes = DefaultInventoryGraceMinutes
		updated = true
	}
	if cfg.NodeMaxAgeDays <= 0 {
		cfg.NodeMaxAgeDays = DefaultNodeMaxAgeDays
		updated = true
	}
	if cfg.ObjectCacheSize <= 0 {
		cfg.ObjectCacheSize = storage.DefaultObjectCacheSize
		updated = true
	}

	return updated
}
