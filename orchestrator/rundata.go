package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gemini-goats/goats-go/internal/domain"
	"github.com/gemini-goats/goats-go/internal/dragons/caldb"
	"github.com/gemini-goats/goats-go/internal/repo"
)

func (api *orchestratorAPI) runCaldb(run domain.Run) (*caldb.DB, error) {
	uploadedDir := filepath.Join(run.OutputDir, "calibrations", "uploaded")
	return caldb.New(api.cfg.CalDBBin, run.ConfigPath, uploadedDir, api.logger)
}

type caldbEntryView struct {
	Name           string `json:"name"`
	ParentPath     string `json:"parent_path"`
	IsUserUploaded bool   `json:"is_user_uploaded"`
	URL            string `json:"url"`
}

func (api *orchestratorAPI) handleListCaldb(w http.ResponseWriter, r *http.Request) {
	runID, err := pathID(r, "run")
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_id")
		return
	}
	run, err := api.runs.Get(r.Context(), runID)
	if err != nil {
		api.writeStoreError(w, r, err)
		return
	}
	manager, err := api.runCaldb(run)
	if err != nil {
		api.writeStoreError(w, r, err)
		return
	}
	entries, err := manager.List(r.Context())
	if err != nil {
		api.writeStoreError(w, r, err)
		return
	}
	out := make([]caldbEntryView, 0, len(entries))
	for _, entry := range entries {
		out = append(out, caldbEntryView{
			Name:           entry.Name,
			ParentPath:     entry.ParentPath,
			IsUserUploaded: entry.IsUserUploaded,
			URL:            entry.URL,
		})
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"files": out})
}

type patchCaldbRequest struct {
	Action   string `json:"action"`
	File     string `json:"file,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// handlePatchCaldb adds or removes one calibration file on a run's
// calibration database. Add accepts a path relative to the run's output
// directory and handles .bz2 archives.
func (api *orchestratorAPI) handlePatchCaldb(w http.ResponseWriter, r *http.Request) {
	runID, err := pathID(r, "run")
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_id")
		return
	}
	run, err := api.runs.Get(r.Context(), runID)
	if err != nil {
		api.writeStoreError(w, r, err)
		return
	}
	var req patchCaldbRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	manager, err := api.runCaldb(run)
	if err != nil {
		api.writeStoreError(w, r, err)
		return
	}

	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "add":
		name := strings.TrimSpace(req.File)
		if name == "" {
			name = strings.TrimSpace(req.Filename)
		}
		if name == "" || strings.Contains(name, "..") {
			api.writeError(w, r, http.StatusBadRequest, "file_required")
			return
		}
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(run.OutputDir, name)
		}
		if err := manager.Add(r.Context(), path); err != nil {
			api.writeStoreError(w, r, err)
			return
		}
	case "remove":
		name := strings.TrimSpace(req.Filename)
		if name == "" {
			name = strings.TrimSpace(req.File)
		}
		if name == "" {
			api.writeError(w, r, http.StatusBadRequest, "filename_required")
			return
		}
		if err := manager.Remove(r.Context(), filepath.Base(name)); err != nil {
			api.writeStoreError(w, r, err)
			return
		}
	default:
		api.writeError(w, r, http.StatusBadRequest, "unknown_action")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *orchestratorAPI) runProcessedProducts(r *http.Request, run domain.Run) ([]domain.DataProduct, error) {
	processed := true
	filter := repo.DataProductFilter{ObservationID: run.ObservationID, Processed: &processed}
	if rel, err := filepath.Rel(api.workspaces.MediaRoot, run.OutputDir); err == nil {
		filter.PathPrefix = rel
	}
	return api.dataProducts.List(r.Context(), filter)
}

func (api *orchestratorAPI) handleListProcessedFiles(w http.ResponseWriter, r *http.Request) {
	runID, err := pathID(r, "run")
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_id")
		return
	}
	run, err := api.runs.Get(r.Context(), runID)
	if err != nil {
		api.writeStoreError(w, r, err)
		return
	}
	products, err := api.runProcessedProducts(r, run)
	if err != nil {
		api.writeStoreError(w, r, err)
		return
	}
	files, err := api.workspaces.ProcessedFiles(run.OutputDir, products)
	if err != nil {
		api.writeStoreError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

type patchProcessedFilesRequest struct {
	Filename string `json:"filename"`
}

// handlePatchProcessedFiles removes one processed file from a run: the data
// product record when one exists, the file on disk either way, and any
// calibration DB registration it may have.
func (api *orchestratorAPI) handlePatchProcessedFiles(w http.ResponseWriter, r *http.Request) {
	runID, err := pathID(r, "run")
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_id")
		return
	}
	run, err := api.runs.Get(r.Context(), runID)
	if err != nil {
		api.writeStoreError(w, r, err)
		return
	}
	var req patchProcessedFilesRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	name := filepath.Base(strings.TrimSpace(req.Filename))
	if name == "" || name == "." {
		api.writeError(w, r, http.StatusBadRequest, "filename_required")
		return
	}

	path := filepath.Join(run.OutputDir, name)
	if rel, relErr := filepath.Rel(api.workspaces.MediaRoot, path); relErr == nil {
		if dp, err := api.dataProducts.GetByProductID(r.Context(), rel); err == nil {
			if err := api.dataProducts.Delete(r.Context(), dp.ID); err != nil {
				api.writeStoreError(w, r, err)
				return
			}
		} else if !errors.Is(err, repo.ErrNotFound) {
			api.writeStoreError(w, r, err)
			return
		}
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		api.writeStoreError(w, r, err)
		return
	}
	if api.removeMirror != nil {
		key := fmt.Sprintf("%d/%s/%s", run.ObservationID, run.RunID, name)
		if err := api.removeMirror(r.Context(), key); err != nil {
			api.logger.Warn("remove mirrored output", "key", key, "error", err.Error())
		}
	}

	manager, err := api.runCaldb(run)
	if err != nil {
		api.writeStoreError(w, r, err)
		return
	}
	if err := manager.CheckAndRemove(r.Context(), name); err != nil {
		api.logger.Warn("caldb reconcile after file removal", "run", run.RunID, "file", name, "error", err.Error())
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRunData returns the run's files and recipes as a nested map keyed
// observation_type, then observation_class, then object name.
func (api *orchestratorAPI) handleRunData(w http.ResponseWriter, r *http.Request) {
	runID, err := pathID(r, "run")
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_id")
		return
	}
	if _, err := api.runs.Get(r.Context(), runID); err != nil {
		api.writeStoreError(w, r, err)
		return
	}
	files, err := api.runFiles.List(r.Context(), repo.RunFileFilter{RunID: runID})
	if err != nil {
		api.writeStoreError(w, r, err)
		return
	}
	recipes, err := api.recipes.ListByRun(r.Context(), runID)
	if err != nil {
		api.writeStoreError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, buildRunData(files, recipes))
}

type runDataLeaf struct {
	Recipes []recipeView           `json:"recipes"`
	Files   map[string]runDataList `json:"files"`
}

type runDataList struct {
	Count int           `json:"count"`
	Files []runFileView `json:"files"`
}

// buildRunData groups files and recipes by (observation_type,
// observation_class, object_name). Files land under the "All" bucket of
// their leaf.
func buildRunData(files []domain.RunFile, recipes []domain.Recipe) map[string]any {
	out := make(map[string]any)

	leaf := func(obsType, obsClass, object string) *runDataLeaf {
		classLevel, ok := out[obsType].(map[string]any)
		if !ok {
			classLevel = make(map[string]any)
			out[obsType] = classLevel
		}
		objectLevel, ok := classLevel[obsClass].(map[string]any)
		if !ok {
			objectLevel = make(map[string]any)
			classLevel[obsClass] = objectLevel
		}
		node, ok := objectLevel[object].(*runDataLeaf)
		if !ok {
			node = &runDataLeaf{Recipes: []recipeView{}, Files: map[string]runDataList{"All": {Files: []runFileView{}}}}
			objectLevel[object] = node
		}
		return node
	}

	for _, f := range files {
		node := leaf(f.Descriptors.ObservationType, f.Descriptors.ObservationClass, f.Descriptors.ObjectName)
		all := node.Files["All"]
		all.Files = append(all.Files, viewRunFile(f))
		all.Count = len(all.Files)
		node.Files["All"] = all
	}
	for _, recipe := range recipes {
		node := leaf(recipe.ObservationType, recipe.ObservationClass, recipe.ObjectName)
		node.Recipes = append(node.Recipes, viewRecipe(recipe))
	}
	return out
}
