package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/gemini-goats/goats-go/internal/bus"
	"github.com/gemini-goats/goats-go/internal/dragons/astrodata"
	"github.com/gemini-goats/goats-go/internal/dragons/recipes"
	"github.com/gemini-goats/goats-go/internal/dragons/reduce"
	"github.com/gemini-goats/goats-go/internal/dragons/workspace"
	"github.com/gemini-goats/goats-go/internal/goa"
	"github.com/gemini-goats/goats-go/internal/platform/auth"
	"github.com/gemini-goats/goats-go/internal/platform/config"
	"github.com/gemini-goats/goats-go/internal/platform/env"
	"github.com/gemini-goats/goats-go/internal/platform/httpserver"
	"github.com/gemini-goats/goats-go/internal/platform/objectstore"
	"github.com/gemini-goats/goats-go/internal/platform/postgres"
	"github.com/gemini-goats/goats-go/internal/repo"
	repopg "github.com/gemini-goats/goats-go/internal/repo/postgres"
	"github.com/gemini-goats/goats-go/internal/service/runs"
	"github.com/gemini-goats/goats-go/internal/tasks"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("GOATS_HTTP_ADDR", ":8090")
	shutdownTimeout, err := env.Duration("GOATS_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	workers, err := env.Int("GOATS_BG_WORKERS", 4)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := repopg.EnsureSchema(ctx, db); err != nil {
		logger.Error("schema migration failed", "error", err)
		os.Exit(1)
	}

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	storeClient, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(2)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := objectstore.EnsureBucket(startupCtx, storeClient, storeCfg); err != nil {
		cancel()
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}
	cancel()

	workspaces, err := workspace.NewManager(cfg.MediaRoot)
	if err != nil {
		logger.Error("invalid media root", "error", err)
		os.Exit(2)
	}

	introspector, err := recipes.NewCLIIntrospector(cfg.ShowPrimsBin)
	if err != nil {
		logger.Error("invalid showprims binary", "error", err)
		os.Exit(2)
	}
	extractor, err := astrodata.NewCLIExtractor(cfg.AstrodataDumpBin)
	if err != nil {
		logger.Error("invalid astrodata dump binary", "error", err)
		os.Exit(2)
	}
	archive, err := goa.NewClient(cfg.GOAURL, logger)
	if err != nil {
		logger.Error("invalid GOA url", "error", err)
		os.Exit(2)
	}

	observations := repopg.NewObservationStore(db)
	dataProducts := repopg.NewDataProductStore(db)
	runStore := repopg.NewRunStore(db)
	runFiles := repopg.NewRunFileStore(db)
	recipeStore := repopg.NewRecipeStore(db)
	reductions := repopg.NewReductionStore(db)
	downloads := repopg.NewDownloadStore(db)
	credentials := repopg.NewCredentialsStore(db)

	runsService, err := runs.New(runs.Config{
		Logger:          logger,
		Observations:    observations,
		DataProducts:    dataProducts,
		Runs:            runStore,
		RunFiles:        runFiles,
		Recipes:         recipeStore,
		Workspaces:      workspaces,
		Introspector:    introspector,
		CalDBBin:        cfg.CalDBBin,
		DragonsVersion:  cfg.DragonsVersion,
		StaleBiasWindow: cfg.StaleBiasWindowDays,
	})
	if err != nil {
		logger.Error("runs service init failed", "error", err)
		os.Exit(2)
	}

	hub := bus.NewHub(logger)
	runner := tasks.NewRunner(logger, workers, cfg.BGTaskTimeLimit)

	executor := &reduce.Executor{
		Logger:       logger,
		Bus:          hub,
		Reductions:   reductions,
		Recipes:      recipeStore,
		Runs:         runStore,
		Observations: observations,
		Products:     dataProducts,
		Inputs:       &inputLister{files: runFiles, mediaRoot: cfg.MediaRoot},
		Mirror:       &outputMirror{client: storeClient, cfg: storeCfg},
		Events:       db,
		MediaRoot:    cfg.MediaRoot,
		ReduceBin:    cfg.ReduceBin,
		LogLevel:     cfg.DragonsLogLevel,
	}

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}
	authenticator, err := auth.NewAuthenticator(authCfg)
	if err != nil {
		logger.Error("auth init failed", "error", err)
		os.Exit(2)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("orchestrator"))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			"orchestrator",
			httpserver.ReadinessCheck{
				Name: "postgres",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return db.PingContext(checkCtx)
				},
			},
			httpserver.ReadinessCheck{
				Name: "minio",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return objectstore.CheckBucket(checkCtx, storeClient, storeCfg)
				},
			},
		),
	)

	api := &orchestratorAPI{
		logger:       logger,
		db:           db,
		cfg:          cfg,
		observations: observations,
		dataProducts: dataProducts,
		runs:         runStore,
		runFiles:     runFiles,
		recipes:      recipeStore,
		reductions:   reductions,
		downloads:    downloads,
		credentials:  credentials,
		runsService:  runsService,
		workspaces:   workspaces,
		hub:          hub,
		runner:       runner,
		executor:     executor,
		archive:      archive,
		extractor:    extractor,
		removeMirror: func(ctx context.Context, key string) error {
			return objectstore.RemoveMirror(ctx, storeClient, storeCfg, key)
		},
	}
	api.register(mux)

	handler := auth.Middleware{
		Logger:        logger,
		Authenticator: authenticator,
		SkipPrefixes:  []string{"/healthz", "/readyz", "/ws/"},
	}.Wrap(mux)

	serverCfg := httpserver.Config{
		Service:         "orchestrator",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}

	if err := httpserver.Run(ctx, logger, serverCfg, httpserver.Wrap(logger, "orchestrator", handler)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelDrain()
	if err := runner.Shutdown(drainCtx); err != nil {
		logger.Warn("background tasks did not drain", "error", err.Error())
	}
}

// inputLister resolves enabled run files to absolute paths for the reduction
// executor.
type inputLister struct {
	files     repo.RunFileRepository
	mediaRoot string
}

func (l *inputLister) ListEnabledInputs(ctx context.Context, runID int64) ([]reduce.InputFile, error) {
	inputs, err := l.files.ListEnabledInputs(ctx, runID)
	if err != nil {
		return nil, err
	}
	out := make([]reduce.InputFile, 0, len(inputs))
	for _, input := range inputs {
		out = append(out, reduce.InputFile{
			DataProductID:   input.DataProductID,
			Path:            filepath.Join(l.mediaRoot, input.StoragePath),
			ObservationType: input.ObservationType,
		})
	}
	return out, nil
}

// outputMirror copies reduction outputs into the object store bucket.
type outputMirror struct {
	client *minio.Client
	cfg    objectstore.Config
}

func (m *outputMirror) MirrorFile(ctx context.Context, key, path string) error {
	return objectstore.MirrorFile(ctx, m.client, m.cfg, key, path)
}
