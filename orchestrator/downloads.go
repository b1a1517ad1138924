package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gemini-goats/goats-go/internal/domain"
	"github.com/gemini-goats/goats-go/internal/eventlog"
	"github.com/gemini-goats/goats-go/internal/goa"
	"github.com/gemini-goats/goats-go/internal/repo"
)

type goaQueryRequest struct {
	ObservationID        string `json:"observation_id,omitempty"`
	ObservationClass     string `json:"observation_class,omitempty"`
	ObservationType      string `json:"observation_type,omitempty"`
	RawReduced           string `json:"raw_reduced,omitempty"`
	QAState              string `json:"qa_state,omitempty"`
	FilenamePrefix       string `json:"filename_prefix,omitempty"`
	DownloadCalibrations string `json:"download_calibrations,omitempty"`
	User                 int64  `json:"user,omitempty"`
}

// handleGOAQuery submits an archive query for an observation and enqueues
// the download worker.
func (api *orchestratorAPI) handleGOAQuery(w http.ResponseWriter, r *http.Request) {
	observationID, err := pathID(r, "observation_pk")
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_id")
		return
	}
	var req goaQueryRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	obs, err := api.observations.Get(r.Context(), observationID)
	if err != nil {
		api.writeStoreError(w, r, err)
		return
	}

	params := goa.QueryParams{
		ObservationID:        req.ObservationID,
		ObservationClass:     req.ObservationClass,
		ObservationType:      req.ObservationType,
		RawReduced:           req.RawReduced,
		QAState:              req.QAState,
		FilenamePrefix:       req.FilenamePrefix,
		DownloadCalibrations: req.DownloadCalibrations,
		ProgramID:            obs.ProgramID,
	}.Normalize()

	worker := &downloadWorker{
		logger:       api.logger,
		hub:          api.hub,
		archive:      api.archive,
		credentials:  api.credentials,
		dataProducts: api.dataProducts,
		downloads:    api.downloads,
		extractor:    api.extractor,
		mediaRoot:    api.workspaces.MediaRoot,
		events:       api.db,
	}
	userID := req.User
	taskName := fmt.Sprintf("goa-download-%d", obs.ID)
	taskID, err := api.runner.Submit(r.Context(), taskName, func(ctx context.Context) error {
		return worker.Run(ctx, obs, params, userID)
	})
	if err != nil {
		api.writeError(w, r, http.StatusServiceUnavailable, "runner_unavailable")
		return
	}

	api.writeJSON(w, http.StatusAccepted, map[string]any{
		"observation": obs.ID,
		"task_id":     taskID,
	})
}

type downloadView struct {
	ID                 int64      `json:"id"`
	Observation        int64      `json:"observation"`
	UniqueID           string     `json:"unique_id"`
	Status             string     `json:"status"`
	Done               bool       `json:"done"`
	Error              bool       `json:"error"`
	StartTime          time.Time  `json:"start_time"`
	EndTime            *time.Time `json:"end_time,omitempty"`
	Message            string     `json:"message,omitempty"`
	NumFilesDownloaded int        `json:"num_files_downloaded"`
	NumFilesOmitted    int        `json:"num_files_omitted"`
}

func viewDownload(dl domain.Download) downloadView {
	return downloadView{
		ID:                 dl.ID,
		Observation:        dl.ObservationID,
		UniqueID:           dl.UniqueID,
		Status:             dl.Status,
		Done:               dl.Done,
		Error:              dl.Error,
		StartTime:          dl.StartTime,
		EndTime:            dl.EndTime,
		Message:            dl.Message,
		NumFilesDownloaded: dl.NumFilesDownloaded,
		NumFilesOmitted:    dl.NumFilesOmitted,
	}
}

func (api *orchestratorAPI) handleListDownloads(w http.ResponseWriter, r *http.Request) {
	filter := repo.DownloadFilter{
		ObservationID: parseInt64Query(r, "observation_id"),
		Status:        strings.TrimSpace(r.URL.Query().Get("status")),
		Limit:         clampInt(parseIntQuery(r, "limit", 100), 1, 1000),
	}
	downloads, err := api.downloads.List(r.Context(), filter)
	if err != nil {
		api.writeStoreError(w, r, err)
		return
	}
	out := make([]downloadView, 0, len(downloads))
	for _, dl := range downloads {
		out = append(out, viewDownload(dl))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"downloads": out})
}

func (api *orchestratorAPI) handleListEvents(w http.ResponseWriter, r *http.Request) {
	filter := eventlog.Filter{
		Group: strings.TrimSpace(r.URL.Query().Get("group")),
		Kind:  strings.TrimSpace(r.URL.Query().Get("kind")),
		RunID: strings.TrimSpace(r.URL.Query().Get("run_id")),
		Limit: clampInt(parseIntQuery(r, "limit", 100), 1, 1000),
	}
	events, err := eventlog.List(r.Context(), api.db, filter)
	if err != nil {
		api.writeStoreError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
