package main

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gemini-goats/goats-go/internal/bus"
	"github.com/gemini-goats/goats-go/internal/domain"
	"github.com/gemini-goats/goats-go/internal/service/runs"
)

type runView struct {
	ID           int64     `json:"id"`
	Observation  int64     `json:"observation"`
	RunID        string    `json:"run_id"`
	Version      string    `json:"version"`
	OutputDir    string    `json:"output_directory"`
	ConfigPath   string    `json:"config_file"`
	CalManagerDB string    `json:"cal_manager"`
	LogPath      string    `json:"log_file"`
	Created      time.Time `json:"created"`
	Modified     time.Time `json:"modified"`
}

func viewRun(run domain.Run) runView {
	return runView{
		ID:           run.ID,
		Observation:  run.ObservationID,
		RunID:        run.RunID,
		Version:      run.Version,
		OutputDir:    run.OutputDir,
		ConfigPath:   run.ConfigPath,
		CalManagerDB: run.CalManagerDB,
		LogPath:      run.LogPath,
		Created:      run.CreatedAt,
		Modified:     run.ModifiedAt,
	}
}

type createRunRequest struct {
	Observation int64  `json:"observation"`
	RunID       string `json:"run_id"`
	Version     string `json:"version,omitempty"`
}

func (api *orchestratorAPI) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Observation <= 0 {
		api.writeError(w, r, http.StatusBadRequest, "observation_required")
		return
	}

	run, seeded, err := api.runsService.Create(r.Context(), runs.CreateParams{
		ObservationID: req.Observation,
		RunID:         req.RunID,
		Version:       strings.TrimSpace(req.Version),
	})
	if err != nil {
		if errors.Is(err, runs.ErrRunExists) {
			api.writeError(w, r, http.StatusBadRequest, "run_id_exists")
			return
		}
		api.writeStoreError(w, r, err)
		return
	}

	recipeViews := make([]recipeView, 0, len(seeded))
	for _, recipe := range seeded {
		recipeViews = append(recipeViews, viewRecipe(recipe))
	}

	api.hub.PublishNotification(uuid.NewString(), run.RunID, bus.ColorSuccess, "Run created: "+run.RunID)
	api.writeJSON(w, http.StatusCreated, map[string]any{
		"run":     viewRun(run),
		"recipes": recipeViews,
	})
}

func (api *orchestratorAPI) handleListRuns(w http.ResponseWriter, r *http.Request) {
	observationID := parseInt64Query(r, "observation")
	runsList, err := api.runs.List(r.Context(), observationID)
	if err != nil {
		api.writeStoreError(w, r, err)
		return
	}
	out := make([]runView, 0, len(runsList))
	for _, run := range runsList {
		out = append(out, viewRun(run))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (api *orchestratorAPI) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_id")
		return
	}
	run, err := api.runs.Get(r.Context(), id)
	if err != nil {
		api.writeStoreError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, viewRun(run))
}

func (api *orchestratorAPI) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_id")
		return
	}
	if err := api.runsService.Delete(r.Context(), id); err != nil {
		api.writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
