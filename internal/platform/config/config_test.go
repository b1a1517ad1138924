package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("GOATS_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if cfg.StaleBiasWindowDays != 10 {
		t.Fatalf("StaleBiasWindowDays = %d", cfg.StaleBiasWindowDays)
	}
	if cfg.DragonsLogLevel != 21 {
		t.Fatalf("DragonsLogLevel = %d", cfg.DragonsLogLevel)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "goats.yaml")
	body := "media_root: /srv/goats\nbg_task_time_limit: 30m\nstale_bias_window_days: 7\ngoa_url: https://archive.example.edu\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GOATS_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if cfg.MediaRoot != "/srv/goats" {
		t.Fatalf("MediaRoot = %q", cfg.MediaRoot)
	}
	if cfg.BGTaskTimeLimit != 30*time.Minute {
		t.Fatalf("BGTaskTimeLimit = %v", cfg.BGTaskTimeLimit)
	}
	if cfg.StaleBiasWindowDays != 7 {
		t.Fatalf("StaleBiasWindowDays = %d", cfg.StaleBiasWindowDays)
	}
	if cfg.GOAURL != "https://archive.example.edu" {
		t.Fatalf("GOAURL = %q", cfg.GOAURL)
	}
	// Unset keys keep their defaults.
	if cfg.ReduceBin != "reduce" {
		t.Fatalf("ReduceBin = %q", cfg.ReduceBin)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	bad := Default()
	bad.MediaRoot = "relative/path"
	if err := bad.Validate(); err == nil {
		t.Fatal("relative media_root accepted")
	}

	bad = Default()
	bad.BGTaskTimeLimit = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("zero time limit accepted")
	}
}
