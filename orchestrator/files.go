package main

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gemini-goats/goats-go/internal/domain"
	"github.com/gemini-goats/goats-go/internal/filterexpr"
	"github.com/gemini-goats/goats-go/internal/repo"
)

type runFileView struct {
	ID                int64    `json:"id"`
	DragonsRun        int64    `json:"dragons_run"`
	DataProduct       int64    `json:"dataproduct"`
	Enabled           bool     `json:"enabled"`
	FileType          string   `json:"file_type"`
	ObservationType   string   `json:"observation_type"`
	ObservationClass  string   `json:"observation_class"`
	ObjectName        string   `json:"object_name"`
	GroupID           string   `json:"group_id,omitempty"`
	ExposureTime      *float64 `json:"exposure_time,omitempty"`
	CentralWavelength *float64 `json:"central_wavelength,omitempty"`
	WavelengthBand    string   `json:"wavelength_band,omitempty"`
	ObservationDate   string   `json:"observation_date,omitempty"`
	ROISetting        string   `json:"roi_setting,omitempty"`
	Instrument        string   `json:"instrument,omitempty"`
}

func viewRunFile(f domain.RunFile) runFileView {
	view := runFileView{
		ID:                f.ID,
		DragonsRun:        f.RunID,
		DataProduct:       f.DataProductID,
		Enabled:           f.Enabled,
		FileType:          f.Descriptors.FileType,
		ObservationType:   f.Descriptors.ObservationType,
		ObservationClass:  f.Descriptors.ObservationClass,
		ObjectName:        f.Descriptors.ObjectName,
		GroupID:           f.Descriptors.GroupID,
		ExposureTime:      f.Descriptors.ExposureTime,
		CentralWavelength: f.Descriptors.CentralWavelength,
		WavelengthBand:    f.Descriptors.WavelengthBand,
		ROISetting:        f.Descriptors.ROISetting,
		Instrument:        f.Descriptors.Instrument,
	}
	if f.Descriptors.ObservationDate != nil {
		view.ObservationDate = f.Descriptors.ObservationDate.UTC().Format(time.RFC3339)
	}
	return view
}

// descriptorValue resolves a grouping key against the fixed descriptor
// columns first, then the raw astrodata mapping.
func descriptorValue(d domain.FileDescriptors, key string) string {
	switch key {
	case "file_type":
		return d.FileType
	case "observation_type":
		return d.ObservationType
	case "observation_class":
		return d.ObservationClass
	case "object_name":
		return d.ObjectName
	case "group_id":
		return d.GroupID
	case "wavelength_band":
		return d.WavelengthBand
	case "roi_setting":
		return d.ROISetting
	case "instrument":
		return d.Instrument
	case "exposure_time":
		if d.ExposureTime == nil {
			return ""
		}
		return fmt.Sprintf("%g", *d.ExposureTime)
	case "central_wavelength":
		if d.CentralWavelength == nil {
			return ""
		}
		return fmt.Sprintf("%g", *d.CentralWavelength)
	case "observation_date":
		if d.ObservationDate == nil {
			return ""
		}
		return d.ObservationDate.UTC().Format(time.RFC3339)
	}
	if v, ok := d.AstrodataDescriptors[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

// groupFiles builds a nested map keyed by the supplied descriptor order. The
// leaves are flat lists of file views, so the union over all leaves equals
// the ungrouped listing.
func groupFiles(files []domain.RunFile, keys []string) any {
	if len(keys) == 0 {
		out := make([]runFileView, 0, len(files))
		for _, f := range files {
			out = append(out, viewRunFile(f))
		}
		return out
	}

	buckets := make(map[string][]domain.RunFile)
	for _, f := range files {
		value := descriptorValue(f.Descriptors, keys[0])
		buckets[value] = append(buckets[value], f)
	}

	out := make(map[string]any, len(buckets))
	for value, group := range buckets {
		out[value] = groupFiles(group, keys[1:])
	}
	return out
}

// groupableKeys lists the descriptor keys usable for dynamic grouping, based
// on the first file of the listing.
func groupableKeys(files []domain.RunFile) []string {
	keys := []string{
		"file_type", "observation_type", "observation_class", "object_name",
		"group_id", "exposure_time", "central_wavelength", "wavelength_band",
		"observation_date", "roi_setting", "instrument",
	}
	if len(files) == 0 {
		return keys
	}
	extra := make([]string, 0, len(files[0].Descriptors.AstrodataDescriptors))
	for key := range files[0].Descriptors.AstrodataDescriptors {
		extra = append(extra, key)
	}
	sort.Strings(extra)
	return append(keys, extra...)
}

func (api *orchestratorAPI) handleListFiles(w http.ResponseWriter, r *http.Request) {
	filter := repo.RunFileFilter{
		RunID:      parseInt64Query(r, "dragons_run"),
		Expression: r.URL.Query().Get("filter_expression"),
		Strict:     r.URL.Query().Get("filter_strict") == "true",
		Limit:      clampInt(parseIntQuery(r, "limit", 0), 0, 10000),
	}

	files, err := api.runFiles.List(r.Context(), filter)
	if err != nil {
		var ferr *filterexpr.Error
		if errors.As(err, &ferr) {
			api.writeFilterError(w, r, ferr)
			return
		}
		api.writeStoreError(w, r, err)
		return
	}

	groupBy := parseCSVQuery(r, "group_by")
	if len(groupBy) > 0 {
		api.writeJSON(w, http.StatusOK, map[string]any{"groups": groupFiles(files, groupBy)})
		return
	}

	out := make([]runFileView, 0, len(files))
	for _, f := range files {
		out = append(out, viewRunFile(f))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"files": out})
}

func (api *orchestratorAPI) handleGetFile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_id")
		return
	}
	file, err := api.runFiles.Get(r.Context(), id)
	if err != nil {
		api.writeStoreError(w, r, err)
		return
	}

	body := map[string]any{"file": viewRunFile(file)}
	for _, include := range parseCSVQuery(r, "include") {
		switch include {
		case "header":
			body["header"] = file.Descriptors.AstrodataDescriptors
		case "groups":
			body["groups"] = groupableKeys([]domain.RunFile{file})
		}
	}
	api.writeJSON(w, http.StatusOK, body)
}

type patchFileRequest struct {
	Enabled *bool `json:"enabled"`
}

func (api *orchestratorAPI) handlePatchFile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_id")
		return
	}
	var req patchFileRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Enabled == nil {
		api.writeError(w, r, http.StatusBadRequest, "enabled_required")
		return
	}
	if err := api.runFiles.SetEnabled(r.Context(), id, *req.Enabled); err != nil {
		api.writeStoreError(w, r, err)
		return
	}
	file, err := api.runFiles.Get(r.Context(), id)
	if err != nil {
		api.writeStoreError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, viewRunFile(file))
}
