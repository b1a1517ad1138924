package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gemini-goats/goats-go/internal/bus"
	"github.com/gemini-goats/goats-go/internal/dragons/astrodata"
	"github.com/gemini-goats/goats-go/internal/dragons/reduce"
	"github.com/gemini-goats/goats-go/internal/dragons/workspace"
	"github.com/gemini-goats/goats-go/internal/filterexpr"
	"github.com/gemini-goats/goats-go/internal/goa"
	"github.com/gemini-goats/goats-go/internal/platform/config"
	"github.com/gemini-goats/goats-go/internal/repo"
	"github.com/gemini-goats/goats-go/internal/service/runs"
	"github.com/gemini-goats/goats-go/internal/tasks"
)

type orchestratorAPI struct {
	logger *slog.Logger
	db     *sql.DB
	cfg    config.Config

	observations repo.ObservationRepository
	dataProducts repo.DataProductRepository
	runs         repo.RunRepository
	runFiles     repo.RunFileRepository
	recipes      repo.RecipeRepository
	reductions   repo.ReductionRepository
	downloads    repo.DownloadRepository
	credentials  repo.CredentialsRepository

	runsService *runs.Service
	workspaces  *workspace.Manager
	hub         *bus.Hub
	runner      *tasks.Runner
	executor    *reduce.Executor
	archive     *goa.Client
	extractor   astrodata.Extractor

	// removeMirror drops the object-store copy of a processed output.
	// Optional; removal is best effort.
	removeMirror func(ctx context.Context, key string) error
}

func (api *orchestratorAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/dragonsruns/", api.handleCreateRun)
	mux.HandleFunc("GET /api/dragonsruns/", api.handleListRuns)
	mux.HandleFunc("GET /api/dragonsruns/{id}/", api.handleGetRun)
	mux.HandleFunc("DELETE /api/dragonsruns/{id}/", api.handleDeleteRun)

	mux.HandleFunc("GET /api/dragonsfiles/", api.handleListFiles)
	mux.HandleFunc("GET /api/dragonsfiles/{id}/", api.handleGetFile)
	mux.HandleFunc("PATCH /api/dragonsfiles/{id}/", api.handlePatchFile)

	mux.HandleFunc("GET /api/dragonsrecipes/", api.handleListRecipes)
	mux.HandleFunc("GET /api/dragonsrecipes/{id}/", api.handleGetRecipe)
	mux.HandleFunc("PATCH /api/dragonsrecipes/{id}/", api.handlePatchRecipe)

	mux.HandleFunc("POST /api/dragonsreduce/", api.handleCreateReduction)
	mux.HandleFunc("GET /api/dragonsreduce/", api.handleListReductions)
	mux.HandleFunc("GET /api/dragonsreduce/{id}/", api.handleGetReduction)
	mux.HandleFunc("PATCH /api/dragonsreduce/{id}/", api.handlePatchReduction)

	mux.HandleFunc("GET /api/dragonscaldb/{run}/", api.handleListCaldb)
	mux.HandleFunc("PATCH /api/dragonscaldb/{run}/", api.handlePatchCaldb)
	mux.HandleFunc("GET /api/dragonsprocessedfiles/{run}/", api.handleListProcessedFiles)
	mux.HandleFunc("PATCH /api/dragonsprocessedfiles/{run}/", api.handlePatchProcessedFiles)
	mux.HandleFunc("GET /api/dragonsdata/{run}/", api.handleRunData)

	mux.HandleFunc("POST /goa_query/{observation_pk}/", api.handleGOAQuery)
	mux.HandleFunc("GET /api/downloads/", api.handleListDownloads)
	mux.HandleFunc("GET /api/events/", api.handleListEvents)

	mux.HandleFunc("GET /ws/updates/", api.handleWSUpdates)
	mux.HandleFunc("GET /ws/dragons/", api.handleWSDragons)
}

func (api *orchestratorAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *orchestratorAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

// writeFilterError surfaces every failed term of a filter expression in one
// 400 response.
func (api *orchestratorAPI) writeFilterError(w http.ResponseWriter, r *http.Request, ferr *filterexpr.Error) {
	api.writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":      "invalid_filter_expression",
		"terms":      ferr.Terms,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

// writeStoreError maps repository errors onto HTTP statuses.
func (api *orchestratorAPI) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		api.writeError(w, r, http.StatusNotFound, "not_found")
	case errors.Is(err, repo.ErrIllegalTransition):
		api.writeError(w, r, http.StatusConflict, "illegal_transition")
	default:
		api.logger.Error("request failed", "path", r.URL.Path, "error", err.Error())
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func pathID(r *http.Request, key string) (int64, error) {
	raw := strings.TrimSpace(r.PathValue(key))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func parseInt64Query(r *http.Request, key string) int64 {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return 0
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}

func clampInt(v int, min int, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// parseCSVQuery splits a comma-separated query value, dropping blanks.
func parseCSVQuery(r *http.Request, key string) []string {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
