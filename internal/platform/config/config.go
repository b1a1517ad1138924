// Package config holds the orchestrator's file-based configuration. The YAML
// file covers knobs operators tune per deployment; connection settings stay
// in the environment (see platform/env, platform/postgres).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gemini-goats/goats-go/internal/platform/env"
)

type Config struct {
	MediaRoot           string        `yaml:"media_root"`
	BGTaskTimeLimit     time.Duration `yaml:"bg_task_time_limit"`
	StaleBiasWindowDays int           `yaml:"stale_bias_window_days"`
	DragonsLogLevel     int           `yaml:"dragons_log_level"`

	GOAURL       string `yaml:"goa_url"`
	GPPURL       string `yaml:"gpp_url"`
	LCOPortalURL string `yaml:"lco_portal_url"`

	// Helper binaries for the external DRAGONS toolkit.
	ReduceBin        string `yaml:"reduce_bin"`
	ShowPrimsBin     string `yaml:"showprims_bin"`
	CalDBBin         string `yaml:"caldb_bin"`
	AstrodataDumpBin string `yaml:"astrodata_dump_bin"`
	DragonsVersion   string `yaml:"dragons_version"`
}

func Default() Config {
	return Config{
		MediaRoot:           "/var/lib/goats/media",
		BGTaskTimeLimit:     4 * time.Hour,
		StaleBiasWindowDays: 10,
		DragonsLogLevel:     21,
		GOAURL:              "https://archive.gemini.edu",
		GPPURL:              "",
		LCOPortalURL:        "https://observe.lco.global",
		ReduceBin:           "reduce",
		ShowPrimsBin:        "showpars",
		CalDBBin:            "caldb",
		AstrodataDumpBin:    "goats-astrodata-dump",
		DragonsVersion:      "3.2",
	}
}

// Load reads the config file named by GOATS_CONFIG (default
// /etc/goats/goats.yaml). A missing file yields the defaults.
func Load() (Config, error) {
	path := env.String("GOATS_CONFIG", "/etc/goats/goats.yaml")
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.Validate()
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.MediaRoot == "" {
		return errors.New("media_root is required")
	}
	if !filepath.IsAbs(c.MediaRoot) {
		return fmt.Errorf("media_root must be absolute: %q", c.MediaRoot)
	}
	if c.BGTaskTimeLimit <= 0 {
		return errors.New("bg_task_time_limit must be positive")
	}
	if c.StaleBiasWindowDays < 0 {
		return errors.New("stale_bias_window_days must be >= 0")
	}
	if c.DragonsLogLevel < 0 {
		return errors.New("dragons_log_level must be >= 0")
	}
	if c.GOAURL == "" {
		return errors.New("goa_url is required")
	}
	if c.ReduceBin == "" {
		return errors.New("reduce_bin is required")
	}
	return nil
}
