// Package workspace manages the on-disk layout of a reduction run inside the
// observation's raw directory.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gemini-goats/goats-go/internal/domain"
)

const (
	configFileName = "dragonsrc"
	calDBFileName  = "cal_manager.db"
	logFileName    = "log.log"
)

// ErrRunExists means the requested run id already has a directory for this
// observation.
var ErrRunExists = errors.New("run directory already exists")

// Paths holds every location a run owns.
type Paths struct {
	OutputDir       string
	ConfigPath      string
	CalManagerDB    string
	LogPath         string
	CalibrationsDir string
	UploadedDir     string
}

type Manager struct {
	MediaRoot string
}

func NewManager(mediaRoot string) (*Manager, error) {
	mediaRoot = strings.TrimSpace(mediaRoot)
	if mediaRoot == "" {
		return nil, errors.New("media root is required")
	}
	return &Manager{MediaRoot: mediaRoot}, nil
}

// PathsFor computes the layout without touching the filesystem.
func (m *Manager) PathsFor(obs domain.Observation, runID string) Paths {
	outputDir := filepath.Join(m.MediaRoot, obs.RawDir(), runID)
	return Paths{
		OutputDir:       outputDir,
		ConfigPath:      filepath.Join(outputDir, configFileName),
		CalManagerDB:    filepath.Join(outputDir, calDBFileName),
		LogPath:         filepath.Join(outputDir, logFileName),
		CalibrationsDir: filepath.Join(outputDir, "calibrations"),
		UploadedDir:     filepath.Join(outputDir, "calibrations", "uploaded"),
	}
}

// Create allocates the run directory tree and writes the config file. It
// fails with ErrRunExists when the directory is already present.
func (m *Manager) Create(obs domain.Observation, runID string) (Paths, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return Paths{}, errors.New("run id is required")
	}

	paths := m.PathsFor(obs, runID)
	if _, err := os.Stat(paths.OutputDir); err == nil {
		return Paths{}, fmt.Errorf("%w: %s", ErrRunExists, runID)
	} else if !errors.Is(err, os.ErrNotExist) {
		return Paths{}, fmt.Errorf("stat output dir: %w", err)
	}

	if err := os.MkdirAll(paths.UploadedDir, 0o755); err != nil {
		return Paths{}, fmt.Errorf("create run dirs: %w", err)
	}

	absCalDB, err := filepath.Abs(paths.CalManagerDB)
	if err != nil {
		return Paths{}, fmt.Errorf("resolve cal manager path: %w", err)
	}
	config := fmt.Sprintf("[calibs]\ndatabases = %s get store\n", absCalDB)
	if err := os.WriteFile(paths.ConfigPath, []byte(config), 0o644); err != nil {
		return Paths{}, fmt.Errorf("write config: %w", err)
	}

	return paths, nil
}

// Delete removes the run directory tree. Best effort; a missing directory is
// not an error.
func (m *Manager) Delete(paths Paths) error {
	if strings.TrimSpace(paths.OutputDir) == "" {
		return nil
	}
	if err := os.RemoveAll(paths.OutputDir); err != nil {
		return fmt.Errorf("remove output dir: %w", err)
	}
	return nil
}

// ProcessedFile is one entry of the processed-files view for a run.
type ProcessedFile struct {
	Name          string `json:"name"`
	Path          string `json:"path"`
	LastModified  string `json:"last_modified"`
	IsDataProduct bool   `json:"is_dataproduct"`
	DataProductID *int64 `json:"dataproduct_id,omitempty"`
	ProductID     string `json:"product_id"`
	URL           string `json:"url"`
}

// ProcessedFiles merges *.fits files found in the output directory with the
// processed data products recorded for the run. Products without a file on
// disk still appear; files on disk without a product record appear with
// is_dataproduct false. Sorted ascending by product id.
func (m *Manager) ProcessedFiles(outputDir string, processed []domain.DataProduct) ([]ProcessedFile, error) {
	byName := make(map[string]domain.DataProduct, len(processed))
	for _, dp := range processed {
		byName[filepath.Base(dp.StoragePath)] = dp
	}

	var out []ProcessedFile
	seen := make(map[string]struct{})

	matches, err := filepath.Glob(filepath.Join(outputDir, "*.fits"))
	if err != nil {
		return nil, fmt.Errorf("scan output dir: %w", err)
	}
	for _, path := range matches {
		name := filepath.Base(path)
		seen[name] = struct{}{}

		entry := ProcessedFile{Name: name, Path: path}
		if info, err := os.Stat(path); err == nil {
			entry.LastModified = info.ModTime().UTC().Format("2006-01-02 15:04:05")
		}

		if dp, ok := byName[name]; ok {
			id := dp.ID
			entry.IsDataProduct = true
			entry.DataProductID = &id
			entry.ProductID = dp.ProductID
		} else if rel, err := filepath.Rel(m.MediaRoot, path); err == nil {
			entry.ProductID = rel
		} else {
			entry.ProductID = name
		}
		entry.URL = "/" + filepath.ToSlash(entry.ProductID)
		out = append(out, entry)
	}

	for _, dp := range processed {
		name := filepath.Base(dp.StoragePath)
		if _, ok := seen[name]; ok {
			continue
		}
		id := dp.ID
		out = append(out, ProcessedFile{
			Name:          name,
			Path:          filepath.Join(m.MediaRoot, dp.StoragePath),
			LastModified:  dp.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			IsDataProduct: true,
			DataProductID: &id,
			ProductID:     dp.ProductID,
			URL:           "/" + filepath.ToSlash(dp.ProductID),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// TouchLog makes sure the run's log file exists so tailing it never races
// run creation.
func TouchLog(paths Paths) error {
	f, err := os.OpenFile(paths.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}
