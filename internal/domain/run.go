package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var runIDStrip = regexp.MustCompile(`[^a-z0-9_-]+`)

// SanitizeRunID normalizes a user-supplied run id: lowercase, spaces to
// underscores, anything outside [a-z0-9_-] stripped.
func SanitizeRunID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	id = strings.ReplaceAll(id, " ", "_")
	return runIDStrip.ReplaceAllString(id, "")
}

// DefaultRunID returns the run id used when the caller supplies none.
func DefaultRunID(now time.Time) string {
	return fmt.Sprintf("run-%d", now.UTC().Unix())
}

// Run is a per-observation reduction workspace: one configuration, one
// calibration database and one output directory.
type Run struct {
	ID            int64
	ObservationID int64
	RunID         string
	Version       string
	OutputDir     string
	ConfigPath    string
	CalManagerDB  string
	LogPath       string
	CreatedAt     time.Time
	ModifiedAt    time.Time
}

func (r Run) Validate() error {
	if r.ObservationID <= 0 {
		return errors.New("observation id is required")
	}
	if strings.TrimSpace(r.RunID) == "" {
		return errors.New("run id is required")
	}
	if r.RunID != SanitizeRunID(r.RunID) {
		return errors.New("run id is not sanitized")
	}
	if strings.TrimSpace(r.OutputDir) == "" {
		return errors.New("output dir is required")
	}
	if strings.TrimSpace(r.ConfigPath) == "" {
		return errors.New("config path is required")
	}
	if strings.TrimSpace(r.CalManagerDB) == "" {
		return errors.New("cal manager db path is required")
	}
	return nil
}

// RunFile links one data product into a run. Disabled files are excluded
// from reductions but stay listed.
type RunFile struct {
	ID            int64
	RunID         int64
	DataProductID int64
	Enabled       bool
	Descriptors   FileDescriptors
}

func (f RunFile) Validate() error {
	if f.RunID <= 0 {
		return errors.New("run id is required")
	}
	if f.DataProductID <= 0 {
		return errors.New("data product id is required")
	}
	return nil
}

func errRequired(what string) error {
	return errors.New(what + " is required")
}
