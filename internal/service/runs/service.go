// Package runs creates and destroys reduction runs: workspace, calibration
// database, file registry and seeded recipes move together.
package runs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/gemini-goats/goats-go/internal/domain"
	"github.com/gemini-goats/goats-go/internal/dragons/caldb"
	"github.com/gemini-goats/goats-go/internal/dragons/recipes"
	"github.com/gemini-goats/goats-go/internal/dragons/workspace"
	"github.com/gemini-goats/goats-go/internal/repo"
)

// ErrRunExists is surfaced when the requested run id is already taken for
// the observation.
var ErrRunExists = errors.New("run id already exists for observation")

type Service struct {
	logger       *slog.Logger
	observations repo.ObservationRepository
	dataProducts repo.DataProductRepository
	runs         repo.RunRepository
	runFiles     repo.RunFileRepository
	recipes      repo.RecipeRepository
	workspaces   *workspace.Manager
	introspector recipes.Introspector

	calDBBin        string
	dragonsVersion  string
	staleBiasWindow int
}

type Config struct {
	Logger          *slog.Logger
	Observations    repo.ObservationRepository
	DataProducts    repo.DataProductRepository
	Runs            repo.RunRepository
	RunFiles        repo.RunFileRepository
	Recipes         repo.RecipeRepository
	Workspaces      *workspace.Manager
	Introspector    recipes.Introspector
	CalDBBin        string
	DragonsVersion  string
	StaleBiasWindow int
}

func New(cfg Config) (*Service, error) {
	if cfg.Observations == nil || cfg.DataProducts == nil || cfg.Runs == nil ||
		cfg.RunFiles == nil || cfg.Recipes == nil || cfg.Workspaces == nil || cfg.Introspector == nil {
		return nil, errors.New("runs service dependencies are incomplete")
	}
	if strings.TrimSpace(cfg.CalDBBin) == "" {
		return nil, errors.New("caldb binary is required")
	}
	window := cfg.StaleBiasWindow
	if window <= 0 {
		window = 10
	}
	return &Service{
		logger:          cfg.Logger,
		observations:    cfg.Observations,
		dataProducts:    cfg.DataProducts,
		runs:            cfg.Runs,
		runFiles:        cfg.RunFiles,
		recipes:         cfg.Recipes,
		workspaces:      cfg.Workspaces,
		introspector:    cfg.Introspector,
		calDBBin:        cfg.CalDBBin,
		dragonsVersion:  cfg.DragonsVersion,
		staleBiasWindow: window,
	}, nil
}

type CreateParams struct {
	ObservationID int64
	RunID         string
	Version       string
}

// Create initializes a run end to end: directory tree, config file,
// calibration database, run files, stale-bias pass and seeded recipes. A
// failure after the workspace exists tears the workspace down again.
func (s *Service) Create(ctx context.Context, params CreateParams) (domain.Run, []domain.Recipe, error) {
	obs, err := s.observations.Get(ctx, params.ObservationID)
	if err != nil {
		return domain.Run{}, nil, fmt.Errorf("load observation %d: %w", params.ObservationID, err)
	}

	runID := domain.SanitizeRunID(params.RunID)
	if runID == "" {
		runID = domain.DefaultRunID(time.Now())
	}

	if _, err := s.runs.GetByRunID(ctx, obs.ID, runID); err == nil {
		return domain.Run{}, nil, fmt.Errorf("%w: %s", ErrRunExists, runID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Run{}, nil, fmt.Errorf("check run id: %w", err)
	}

	paths, err := s.workspaces.Create(obs, runID)
	if err != nil {
		if errors.Is(err, workspace.ErrRunExists) {
			return domain.Run{}, nil, fmt.Errorf("%w: %s", ErrRunExists, runID)
		}
		return domain.Run{}, nil, fmt.Errorf("create workspace: %w", err)
	}

	run, seeded, err := s.initialize(ctx, obs, runID, params.Version, paths)
	if err != nil {
		if cleanupErr := s.workspaces.Delete(paths); cleanupErr != nil && s.logger != nil {
			s.logger.Warn("cleanup workspace after failed create", "run", runID, "error", cleanupErr.Error())
		}
		return domain.Run{}, nil, err
	}
	return run, seeded, nil
}

func (s *Service) initialize(ctx context.Context, obs domain.Observation, runID, version string, paths workspace.Paths) (domain.Run, []domain.Recipe, error) {
	manager, err := caldb.New(s.calDBBin, paths.ConfigPath, paths.UploadedDir, s.logger)
	if err != nil {
		return domain.Run{}, nil, err
	}
	if err := manager.Init(ctx); err != nil {
		return domain.Run{}, nil, err
	}
	if err := workspace.TouchLog(paths); err != nil {
		return domain.Run{}, nil, fmt.Errorf("create run log: %w", err)
	}

	version = strings.TrimSpace(version)
	if version == "" {
		version = s.dragonsVersion
	}

	run, err := s.runs.Create(ctx, domain.Run{
		ObservationID: obs.ID,
		RunID:         runID,
		Version:       version,
		OutputDir:     paths.OutputDir,
		ConfigPath:    paths.ConfigPath,
		CalManagerDB:  paths.CalManagerDB,
		LogPath:       paths.LogPath,
	})
	if err != nil {
		return domain.Run{}, nil, fmt.Errorf("persist run: %w", err)
	}

	products, err := s.dataProducts.List(ctx, repo.DataProductFilter{ObservationID: obs.ID})
	if err != nil {
		return domain.Run{}, nil, fmt.Errorf("list data products: %w", err)
	}
	ids := make([]int64, 0, len(products))
	for _, dp := range products {
		ids = append(ids, dp.ID)
	}
	if err := s.runFiles.BulkInsert(ctx, run.ID, ids); err != nil {
		return domain.Run{}, nil, fmt.Errorf("register run files: %w", err)
	}

	if disabled, err := s.runFiles.DisableOldBiases(ctx, run.ID, s.staleBiasWindow); err != nil {
		return domain.Run{}, nil, fmt.Errorf("disable stale biases: %w", err)
	} else if disabled > 0 && s.logger != nil {
		s.logger.Info("disabled stale bias files", "run", runID, "count", disabled)
	}

	seeded, err := s.seedRecipes(ctx, run, products)
	if err != nil {
		return domain.Run{}, nil, err
	}
	return run, seeded, nil
}

// seedRecipes creates one recipe per distinct (observation_type,
// observation_class, object_name) among the run's enabled files, introspecting
// one representative file per group.
func (s *Service) seedRecipes(ctx context.Context, run domain.Run, products []domain.DataProduct) ([]domain.Recipe, error) {
	enabled := true
	files, err := s.runFiles.List(ctx, repo.RunFileFilter{RunID: run.ID, Enabled: &enabled})
	if err != nil {
		return nil, fmt.Errorf("list enabled files: %w", err)
	}

	productPaths := make(map[int64]string, len(products))
	for _, dp := range products {
		productPaths[dp.ID] = dp.StoragePath
	}

	seen := make(map[domain.GroupKey]bool)
	var seeded []domain.Recipe
	for _, file := range files {
		key := file.Descriptors.Group()
		if seen[key] {
			continue
		}
		seen[key] = true

		storagePath, ok := productPaths[file.DataProductID]
		if !ok {
			continue
		}
		path := filepath.Join(s.workspaces.MediaRoot, storagePath)

		intro, err := s.introspector.Introspect(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("introspect %s: %w", filepath.Base(path), err)
		}

		module, err := s.recipes.EnsureModule(ctx, domain.RecipesModule{
			Name:       moduleName(intro.FullName),
			Version:    run.Version,
			Instrument: file.Descriptors.Instrument,
		})
		if err != nil {
			return nil, fmt.Errorf("ensure recipes module: %w", err)
		}
		base, err := s.recipes.EnsureBaseRecipe(ctx, domain.BaseRecipe{
			RecipesModuleID: module.ID,
			Name:            intro.FullName,
			FunctionBody:    intro.FunctionBody,
			IsDefault:       true,
		})
		if err != nil {
			return nil, fmt.Errorf("ensure base recipe: %w", err)
		}

		recipe, err := s.recipes.Create(ctx, domain.Recipe{
			RunID:            run.ID,
			BaseRecipeID:     base.ID,
			ObservationType:  key.ObservationType,
			ObservationClass: key.ObservationClass,
			ObjectName:       key.ObjectName,
		})
		if err != nil {
			return nil, fmt.Errorf("create recipe: %w", err)
		}
		seeded = append(seeded, recipe)
	}
	return seeded, nil
}

// Delete destroys a run: database row first, then the directory tree.
func (s *Service) Delete(ctx context.Context, id int64) error {
	run, err := s.runs.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.runs.Delete(ctx, id); err != nil {
		return err
	}
	paths := workspace.Paths{OutputDir: run.OutputDir}
	if err := s.workspaces.Delete(paths); err != nil && s.logger != nil {
		s.logger.Warn("remove run directory", "run", run.RunID, "error", err.Error())
	}
	return nil
}

// moduleName is the portion of a full recipe name before "::".
func moduleName(full string) string {
	if idx := strings.LastIndex(full, "::"); idx >= 0 {
		return full[:idx]
	}
	return full
}
