// Package config loads the engine configuration file: store location,
// transcript roots, remote hosts and reconstruction tuning.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/maestro-ai/usage-engine/internal/source"
)

// ReconConfig tunes reconstruction runs.
type ReconConfig struct {
	// RemoteConcurrency bounds how many remote hosts are scanned at once.
	RemoteConcurrency int `yaml:"remote_concurrency"`
	// CacheCapacity bounds the per-run file-content cache.
	CacheCapacity int `yaml:"cache_capacity"`
}

// BillingConfig pins billing modes per agent type instead of auto-detection.
type BillingConfig struct {
	ModeOverrides map[string]string `yaml:"mode_overrides,omitempty"`
	// AccountPath overrides where auto-detection looks for the agent CLI
	// account file.
	AccountPath string `yaml:"account_path,omitempty"`
}

type Config struct {
	// DBPath is the SQLite event store location.
	DBPath string `yaml:"db_path"`
	// TranscriptRoots are the local directories scanned for session logs.
	TranscriptRoots []string `yaml:"transcript_roots"`
	// Remotes are SSH hosts carrying additional transcripts.
	Remotes []source.SSHConfig `yaml:"remotes,omitempty"`

	Recon   ReconConfig   `yaml:"recon"`
	Billing BillingConfig `yaml:"billing"`

	// CheckUpdates enables the release check on version output.
	CheckUpdates bool `yaml:"check_updates"`
}

func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DBPath:          filepath.Join(ConfigDir(), "usage.db"),
		TranscriptRoots: []string{filepath.Join(home, ".claude", "projects")},
		Recon: ReconConfig{
			RemoteConcurrency: 3,
			CacheCapacity:     256,
		},
		CheckUpdates: true,
	}
}

func ConfigDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "usage-engine")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "usage-engine")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

func Load() (Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom reads the config file, applying defaults for absent fields and
// clamping out-of-range values. A missing file yields the defaults.
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if cfg.DBPath == "" {
		cfg.DBPath = DefaultConfig().DBPath
	}
	if cfg.Recon.RemoteConcurrency <= 0 {
		cfg.Recon.RemoteConcurrency = 3
	}
	if cfg.Recon.CacheCapacity <= 0 {
		cfg.Recon.CacheCapacity = 256
	}
	for i, r := range cfg.Remotes {
		if r.Host == "" {
			return DefaultConfig(), fmt.Errorf("config: remote %d has no host", i)
		}
		if r.Root == "" {
			return DefaultConfig(), fmt.Errorf("config: remote %s has no root", r.Host)
		}
	}

	return cfg, nil
}

func Save(cfg Config) error {
	return SaveTo(ConfigPath(), cfg)
}

func SaveTo(path string, cfg Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: creating dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}
