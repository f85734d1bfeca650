package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".tgcollect"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("TGCOLLECT_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := resolveHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("TGCOLLECT_HOME")); h != "" {
		if strings.HasPrefix(h, "~") {
			base, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(base, h[1:]), nil
		}
		return h, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return home, nil
}

// DefaultConfig returns the configuration defaults used when no file or
// environment override is present.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ConfigDir)
	return &Config{
		Paths: PathsConfig{
			DataDir: dataDir,
			DBPath:  filepath.Join(dataDir, "tgcollect.db"),
		},
		Pool: PoolConfig{
			ReconcileInterval: 30 * time.Second,
			RestartBase:       5 * time.Second,
			RestartCap:        5 * time.Minute,
			FailureThreshold:  10,
		},
		Backfill: BackfillConfig{
			BatchSize:     200,
			ConnRetries:   3,
			ConnRetryBase: 2 * time.Second,
		},
		Alerts: AlertsConfig{
			Enabled:      false,
			DedupKeepHrs: 48,
			MaxTextChars: 300,
		},
		Indexing: IndexingConfig{
			Enabled: false,
			Brokers: "localhost:9092",
			Topic:   "tgcollect.index",
		},
		Metadata: MetadataConfig{
			Enabled: false,
			Brokers: "localhost:9092",
			Topic:   "tgcollect.link-metadata",
		},
		Retention: RetentionConfig{
			KeepDays: 0,
		},
	}
}

// Load loads the configuration from file and environment variables.
// Priority: environment > file > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	// Override with environment variables for each group.
	envconfig.Process("TGC_PATHS", &cfg.Paths)
	envconfig.Process("TGC_POOL", &cfg.Pool)
	envconfig.Process("TGC_BACKFILL", &cfg.Backfill)
	envconfig.Process("TGC", &cfg.Alerts)
	envconfig.Process("TGC", &cfg.Indexing)
	envconfig.Process("TGC", &cfg.Metadata)
	envconfig.Process("TGC", &cfg.Retention)
	envconfig.Process("TGC", &cfg.Slack)

	if cfg.Paths.DBPath == "" {
		cfg.Paths.DBPath = filepath.Join(cfg.Paths.DataDir, "tgcollect.db")
	}
	return cfg, nil
}

// Save writes the configuration back to the config file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
