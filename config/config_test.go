package config

import (
	"os"
	"path/filepath"
	"testing"

	"abit/storage"
)

func TestLoadOrCreateWritesDefaults(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("ABIT_DATA_DIR", dataDir)

	cfg, cfgPath, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if cfgPath != filepath.Join(dataDir, "config.json") {
		t.Fatalf("unexpected config path %q", cfgPath)
	}
	if _, err := os.Stat(cfgPath); err != nil {
		t.Fatalf("expected config file on disk: %v", err)
	}

	if cfg.TrustedNode != "" {
		t.Fatalf("expected no trusted node by default, got %q", cfg.TrustedNode)
	}
	if cfg.SyncTimeoutSeconds != DefaultSyncTimeout ||
		cfg.InventoryGraceMinutes != DefaultInventoryGraceMinutes ||
		cfg.NodeMaxAgeDays != DefaultNodeMaxAgeDays ||
		cfg.ObjectCacheSize != storage.DefaultObjectCacheSize {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadOrCreateKeepsExistingSettings(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("ABIT_DATA_DIR", dataDir)

	saved := &AppConfig{
		TrustedNode:           "10.0.0.1:8444",
		SyncTimeoutSeconds:    60,
		InventoryGraceMinutes: 10,
		NodeMaxAgeDays:        14,
		ObjectCacheSize:       512,
	}
	if err := Save(ConfigPath(dataDir), saved); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	cfg, _, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if *cfg != *saved {
		t.Fatalf("loaded config differs: %+v", cfg)
	}
}

func TestLoadOrCreateNormalizesInvalidValues(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("ABIT_DATA_DIR", dataDir)

	broken := &AppConfig{
		TrustedNode:        "10.0.0.1:8444",
		SyncTimeoutSeconds: -1,
	}
	if err := Save(ConfigPath(dataDir), broken); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	cfg, cfgPath, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if cfg.TrustedNode != "10.0.0.1:8444" {
		t.Fatalf("normalization must not touch valid settings")
	}
	if cfg.SyncTimeoutSeconds != DefaultSyncTimeout || cfg.ObjectCacheSize != storage.DefaultObjectCacheSize {
		t.Fatalf("expected normalized defaults, got %+v", cfg)
	}

	// The normalized values are written back.
	reloaded, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if *reloaded != *cfg {
		t.Fatalf("normalized config not persisted: %+v", reloaded)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write malformed file: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error for malformed JSON")
	}
}

func TestResolveDataDirHonorsOverride(t *testing.T) {
	t.Setenv("ABIT_DATA_DIR", "/tmp/abit-test-override")

	dataDir, err := ResolveDataDir()
	if err != nil {
		t.Fatalf("ResolveDataDir failed: %v", err)
	}
	if dataDir != "/tmp/abit-test-override" {
		t.Fatalf("override not honored, got %q", dataDir)
	}
}

func TestStoreOptionsCount(t *testing.T) {
	cfg := defaultConfig()
	if got := len(cfg.StoreOptions()); got != 3 {
		t.Fatalf("expected 3 storage options, got %d", got)
	}
}
