package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFrom_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.DBPath == "" {
		t.Fatalf("default db path empty")
	}
	if cfg.Recon.RemoteConcurrency != 3 {
		t.Fatalf("remote concurrency = %d, want 3", cfg.Recon.RemoteConcurrency)
	}
	if !cfg.CheckUpdates {
		t.Fatalf("check_updates should default on")
	}
}

func TestLoadFrom_ClampsAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
db_path: /var/lib/usage/usage.db
transcript_roots:
  - /home/dev/.claude/projects
remotes:
  - host: build-01
    user: dev
    root: /home/dev/.claude/projects
recon:
  remote_concurrency: -2
billing:
  mode_overrides:
    claude: max
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.DBPath != "/var/lib/usage/usage.db" {
		t.Fatalf("db path = %q", cfg.DBPath)
	}
	if len(cfg.Remotes) != 1 || cfg.Remotes[0].Host != "build-01" {
		t.Fatalf("remotes = %+v", cfg.Remotes)
	}
	if cfg.Recon.RemoteConcurrency != 3 {
		t.Fatalf("negative concurrency not clamped: %d", cfg.Recon.RemoteConcurrency)
	}
	if cfg.Billing.ModeOverrides["claude"] != "max" {
		t.Fatalf("billing overrides = %+v", cfg.Billing.ModeOverrides)
	}
}

func TestLoadFrom_RejectsRemoteWithoutRoot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "remotes:\n  - host: build-01\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Fatalf("expected error for remote without root")
	}
}

func TestSaveTo_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.DBPath = "/tmp/usage.db"
	if err := SaveTo(path, cfg); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if loaded.DBPath != "/tmp/usage.db" {
		t.Fatalf("round-trip db path = %q", loaded.DBPath)
	}
}
