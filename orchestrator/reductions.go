package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gemini-goats/goats-go/internal/domain"
	"github.com/gemini-goats/goats-go/internal/repo"
)

type reductionView struct {
	ID        int64      `json:"id"`
	Recipe    int64      `json:"recipe"`
	Status    string     `json:"status"`
	TaskID    string     `json:"task_id,omitempty"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Created   time.Time  `json:"created"`
}

func viewReduction(red domain.Reduction) reductionView {
	return reductionView{
		ID:        red.ID,
		Recipe:    red.RecipeID,
		Status:    red.Status,
		TaskID:    red.TaskID,
		StartTime: red.StartTime,
		EndTime:   red.EndTime,
		Created:   red.CreatedAt,
	}
}

type createReductionRequest struct {
	Recipe  int64   `json:"recipe"`
	FileIDs []int64 `json:"file_ids,omitempty"`
}

// handleCreateReduction creates a reduction and hands it to the background
// runner. Only one non-terminal reduction may exist per recipe; the run's
// output directory belongs to a single reduction at a time.
func (api *orchestratorAPI) handleCreateReduction(w http.ResponseWriter, r *http.Request) {
	var req createReductionRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Recipe <= 0 {
		api.writeError(w, r, http.StatusBadRequest, "recipe_required")
		return
	}

	recipe, err := api.recipes.Get(r.Context(), req.Recipe)
	if err != nil {
		api.writeStoreError(w, r, err)
		return
	}

	busy, err := api.reductions.HasNonTerminalForRecipe(r.Context(), recipe.ID)
	if err != nil {
		api.writeStoreError(w, r, err)
		return
	}
	if busy {
		api.writeError(w, r, http.StatusConflict, "reduction_in_progress")
		return
	}

	red, err := api.reductions.Create(r.Context(), domain.Reduction{RecipeID: recipe.ID})
	if err != nil {
		api.writeStoreError(w, r, err)
		return
	}

	reduceID := red.ID
	fileIDs := req.FileIDs
	taskName := fmt.Sprintf("reduce-%d", reduceID)

	// the task waits until the record carries its task id and queued status,
	// so the executor can never race the handler's own writes
	ready := make(chan struct{})
	taskID, err := api.runner.Submit(r.Context(), taskName, func(ctx context.Context) error {
		select {
		case <-ready:
		case <-ctx.Done():
		}
		return api.executor.Execute(ctx, reduceID, fileIDs)
	})
	if err != nil {
		api.writeError(w, r, http.StatusServiceUnavailable, "runner_unavailable")
		return
	}
	defer close(ready)

	if err := api.reductions.SetTaskID(r.Context(), red.ID, taskID); err != nil {
		api.writeStoreError(w, r, err)
		return
	}
	red, err = api.reductions.SetStatus(r.Context(), red.ID, domain.ReductionQueued)
	if err != nil {
		api.writeStoreError(w, r, err)
		return
	}
	api.hub.PublishRecipe(recipe.RunID, recipe.ID, red.ID, red.Status)

	api.writeJSON(w, http.StatusCreated, viewReduction(red))
}

func (api *orchestratorAPI) handleListReductions(w http.ResponseWriter, r *http.Request) {
	filter := repo.ReductionFilter{
		RunID:    parseInt64Query(r, "dragons_run"),
		RecipeID: parseInt64Query(r, "recipe"),
		Status:   strings.TrimSpace(r.URL.Query().Get("status")),
		Limit:    clampInt(parseIntQuery(r, "limit", 100), 1, 1000),
	}
	reductions, err := api.reductions.List(r.Context(), filter)
	if err != nil {
		api.writeStoreError(w, r, err)
		return
	}
	out := make([]reductionView, 0, len(reductions))
	for _, red := range reductions {
		out = append(out, viewReduction(red))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"reductions": out})
}

func (api *orchestratorAPI) handleGetReduction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_id")
		return
	}
	red, err := api.reductions.Get(r.Context(), id)
	if err != nil {
		api.writeStoreError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, viewReduction(red))
}

type patchReductionRequest struct {
	Status string `json:"status"`
}

// handlePatchReduction accepts exactly one update: {"status": "canceled"}.
// The abort signal reaches the background task through the runner; the
// executor marks the terminal state and publishes the warning.
func (api *orchestratorAPI) handlePatchReduction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_id")
		return
	}
	var req patchReductionRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Status != domain.ReductionCanceled {
		api.writeError(w, r, http.StatusBadRequest, "only_cancellation_allowed")
		return
	}

	red, err := api.reductions.Get(r.Context(), id)
	if err != nil {
		api.writeStoreError(w, r, err)
		return
	}
	if red.Terminal() {
		api.writeError(w, r, http.StatusConflict, "reduction_terminal")
		return
	}

	// no task ever got submitted for this record; cancel it directly
	if red.TaskID == "" {
		red, err = api.reductions.SetStatus(r.Context(), red.ID, domain.ReductionCanceled)
		if err != nil {
			api.writeStoreError(w, r, err)
			return
		}
		if recipe, rerr := api.recipes.Get(r.Context(), red.RecipeID); rerr == nil {
			api.hub.PublishRecipe(recipe.RunID, recipe.ID, red.ID, red.Status)
		}
		api.writeJSON(w, http.StatusAccepted, viewReduction(red))
		return
	}

	if err := api.runner.CancelByID(red.TaskID); err != nil {
		api.logger.Warn("cancel reduction task", "reduce_id", red.ID, "task_id", red.TaskID, "error", err.Error())
	}

	api.writeJSON(w, http.StatusAccepted, viewReduction(red))
}
