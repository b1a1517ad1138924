package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gemini-goats/goats-go/internal/bus"
	"github.com/gemini-goats/goats-go/internal/domain"
	"github.com/gemini-goats/goats-go/internal/dragons/astrodata"
	"github.com/gemini-goats/goats-go/internal/eventlog"
	"github.com/gemini-goats/goats-go/internal/goa"
	"github.com/gemini-goats/goats-go/internal/repo"
	"github.com/gemini-goats/goats-go/internal/tasks"
)

const credentialServiceGOA = "GOA"

// downloadWorker fetches archive data for one observation in the background
// pool, registers the resulting data products and reports progress on the
// live bus.
type downloadWorker struct {
	logger       *slog.Logger
	hub          *bus.Hub
	archive      *goa.Client
	credentials  repo.CredentialsRepository
	dataProducts repo.DataProductRepository
	downloads    repo.DownloadRepository
	extractor    astrodata.Extractor
	mediaRoot    string
	events       eventlog.Querier
}

// Run drives one archive download end to end. The Download record always
// reaches a terminal state before Run returns an error.
func (wk *downloadWorker) Run(ctx context.Context, obs domain.Observation, params goa.QueryParams, userID int64) error {
	params = params.Normalize()
	label := obs.TargetName
	uniqueID := uuid.NewString()

	dl, err := wk.downloads.Create(context.WithoutCancel(ctx), domain.Download{
		ObservationID: obs.ID,
		UniqueID:      uniqueID,
		Status:        domain.DownloadRunning,
		StartTime:     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("create download record: %w", err)
	}

	// aborted or timed out while queued; the record still goes terminal
	if ctx.Err() != nil {
		return wk.fail(ctx, dl, label, context.Cause(ctx))
	}

	wk.hub.PublishDownload(uniqueID, label, domain.DownloadRunning, nil, "Downloading data...", false, false)
	wk.login(ctx, uniqueID, label, userID)

	dir := filepath.Join(wk.mediaRoot, obs.RawDir())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return wk.fail(ctx, dl, label, fmt.Errorf("create observation directory: %w", err))
	}

	progress := newProgressReporter(wk.hub, uniqueID, label)

	reductionTags := make(map[string]string)
	matching := 0
	var extracted []string

	if params.DownloadCalibrations != goa.CalibrationsOnly {
		list, err := wk.archive.FileList(ctx, params)
		if err != nil {
			return wk.fail(ctx, dl, label, err)
		}
		matching = len(list)
		for _, info := range list {
			reductionTags[goa.StripExtensions(info.BaseName())] = strings.ToLower(info.ReductionTag)
		}

		files, err := wk.archive.DownloadScience(ctx, params, dir, progress.report)
		if err != nil && !errors.Is(err, goa.ErrTarUnpack) {
			return wk.fail(ctx, dl, label, err)
		}
		if errors.Is(err, goa.ErrTarUnpack) {
			wk.notify(ctx, uniqueID, label, bus.ColorWarning, "Some science files could not be unpacked.")
		}
		for _, name := range files {
			extracted = append(extracted, filepath.Join(dir, name))
		}
	}

	if params.DownloadCalibrations != goa.CalibrationsNo && strings.TrimSpace(obs.ProgramID) != "" {
		files, err := wk.archive.DownloadCalibrations(ctx, obs.ProgramID, params, dir, progress.report)
		if err != nil && !errors.Is(err, goa.ErrTarUnpack) {
			return wk.fail(ctx, dl, label, err)
		}
		if errors.Is(err, goa.ErrTarUnpack) {
			wk.notify(ctx, uniqueID, label, bus.ColorWarning, "Some calibration files could not be unpacked.")
		}
		for _, name := range files {
			extracted = append(extracted, filepath.Join(dir, name))
		}
	}

	downloaded, err := wk.registerProducts(ctx, obs, extracted, reductionTags)
	if err != nil {
		return wk.fail(ctx, dl, label, err)
	}

	if logoutErr := wk.archive.Logout(ctx); logoutErr != nil {
		wk.logger.Warn("archive logout", "error", logoutErr.Error())
	}

	omitted := matching - downloaded
	if omitted < 0 {
		omitted = 0
	}
	message := fmt.Sprintf("Downloaded %d files (%d omitted).", downloaded, omitted)
	now := time.Now().UTC()
	dl.Status = domain.DownloadCompleted
	dl.Done = true
	dl.EndTime = &now
	dl.Message = message
	dl.NumFilesDownloaded = downloaded
	dl.NumFilesOmitted = omitted
	if err := wk.downloads.Finalize(ctx, dl); err != nil {
		wk.logger.Error("finalize download", "unique_id", uniqueID, "error", err.Error())
	}
	wk.hub.PublishDownload(uniqueID, label, domain.DownloadCompleted, nil, message, true, false)
	wk.notify(ctx, uniqueID, label, bus.ColorSuccess, message)
	return nil
}

// login resolves the user's archive credentials. Missing or rejected
// credentials degrade to an anonymous session; proprietary data is then
// omitted by the archive.
func (wk *downloadWorker) login(ctx context.Context, uniqueID, label string, userID int64) {
	if userID <= 0 {
		wk.notify(ctx, uniqueID, label, bus.ColorWarning, "No GOA credentials found, proprietary data will not be downloaded.")
		return
	}
	creds, err := wk.credentials.Get(ctx, userID, credentialServiceGOA)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && creds.Empty()) {
		wk.notify(ctx, uniqueID, label, bus.ColorWarning, "No GOA credentials found, proprietary data will not be downloaded.")
		return
	}
	if err != nil {
		wk.logger.Warn("load GOA credentials", "user", userID, "error", err.Error())
		return
	}
	if err := wk.archive.Login(ctx, creds.Username, creds.Password); err != nil {
		if errors.Is(err, goa.ErrBadCredentials) {
			wk.notify(ctx, uniqueID, label, bus.ColorWarning, "GOA rejected the stored credentials, proprietary data will not be downloaded.")
			return
		}
		wk.logger.Warn("archive login", "error", err.Error())
	}
}

// registerProducts upserts one data product per extracted FITS file and
// extracts its descriptors. Files the pipeline already prepared are skipped.
func (wk *downloadWorker) registerProducts(ctx context.Context, obs domain.Observation, paths []string, reductionTags map[string]string) (int, error) {
	seen := make(map[string]struct{}, len(paths))
	count := 0
	for _, path := range paths {
		if !strings.HasSuffix(strings.ToLower(path), ".fits") {
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		count++

		rel, err := filepath.Rel(wk.mediaRoot, path)
		if err != nil {
			return count, fmt.Errorf("resolve product id for %s: %w", path, err)
		}
		typeTag := reductionTags[goa.StripExtensions(filepath.Base(path))]
		if typeTag == "" {
			typeTag = "fits_file"
		}

		dp, err := wk.dataProducts.Upsert(ctx, domain.DataProduct{
			ProductID:     filepath.ToSlash(rel),
			ObservationID: obs.ID,
			TargetName:    obs.TargetName,
			StoragePath:   filepath.ToSlash(rel),
			TypeTag:       typeTag,
		})
		if err != nil {
			return count, fmt.Errorf("upsert data product %s: %w", rel, err)
		}

		descriptors, err := wk.extractor.Extract(ctx, path)
		if err != nil {
			if errors.Is(err, astrodata.ErrSkipPrepared) {
				wk.logger.Debug("skip prepared file", "file", filepath.Base(path))
				continue
			}
			wk.logger.Warn("extract descriptors", "file", filepath.Base(path), "error", err.Error())
			continue
		}
		descriptors.DataProductID = dp.ID
		if err := wk.dataProducts.UpsertDescriptors(ctx, *descriptors); err != nil {
			return count, fmt.Errorf("upsert descriptors for %s: %w", rel, err)
		}
	}
	return count, nil
}

// fail finalizes the download record and reports the failure, then returns
// the original error for the runner's log.
func (wk *downloadWorker) fail(ctx context.Context, dl domain.Download, label string, cause error) error {
	finalizeCtx := context.WithoutCancel(ctx)

	message := "Download failed."
	color := bus.ColorDanger
	switch {
	case tasks.Aborted(ctx):
		message = "Download canceled."
		color = bus.ColorWarning
	case tasks.TimeLimitHit(ctx):
		message = "Background task time limit hit."
		color = bus.ColorWarning
	case errors.Is(cause, goa.ErrConnection), errors.Is(cause, goa.ErrForbidden):
		message = "Connection to GOA failed"
	}

	now := time.Now().UTC()
	dl.Status = domain.DownloadFailed
	dl.Done = true
	dl.Error = true
	dl.EndTime = &now
	dl.Message = message
	if err := wk.downloads.Finalize(finalizeCtx, dl); err != nil {
		wk.logger.Error("finalize failed download", "unique_id", dl.UniqueID, "error", err.Error())
	}

	wk.hub.PublishDownload(dl.UniqueID, label, domain.DownloadFailed, nil, message, true, true)
	wk.notify(finalizeCtx, dl.UniqueID, label, color, message)
	return cause
}

// notify publishes a notification on the live bus and records it in the
// event log so late subscribers can catch up.
func (wk *downloadWorker) notify(ctx context.Context, uniqueID, label, color, message string) {
	wk.hub.PublishNotification(uniqueID, label, color, message)
	if wk.events == nil {
		return
	}
	_, err := eventlog.Insert(context.WithoutCancel(ctx), wk.events, eventlog.Event{
		OccurredAt: time.Now().UTC(),
		Group:      bus.GroupUpdates,
		Kind:       bus.KindNotification,
		Label:      label,
		Color:      color,
		Payload:    map[string]any{"unique_id": uniqueID, "message": message},
	})
	if err != nil {
		wk.logger.Warn("record notification", "error", err.Error())
	}
}

// progressReporter throttles byte-count updates so one large tar stream does
// not flood the bus.
type progressReporter struct {
	hub      *bus.Hub
	uniqueID string
	label    string

	mu     sync.Mutex
	base   int64
	stream int64
	last   time.Time
}

func newProgressReporter(hub *bus.Hub, uniqueID, label string) *progressReporter {
	return &progressReporter{hub: hub, uniqueID: uniqueID, label: label}
}

// report receives the cumulative byte count of the current tar stream. A
// count lower than the last one means a new stream started.
func (p *progressReporter) report(n int64) {
	p.mu.Lock()
	if n < p.stream {
		p.base += p.stream
	}
	p.stream = n
	total := p.base + n
	due := time.Since(p.last) >= time.Second
	if due {
		p.last = time.Now()
	}
	p.mu.Unlock()

	if due {
		p.hub.PublishDownload(p.uniqueID, p.label, domain.DownloadRunning, &total, "", false, false)
	}
}
