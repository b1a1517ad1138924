// Package reduce runs a recipe over the enabled files of a run through the
// DRAGONS reduce command and reports progress on the live bus.
package reduce

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/gemini-goats/goats-go/internal/bus"
	"github.com/gemini-goats/goats-go/internal/domain"
	"github.com/gemini-goats/goats-go/internal/eventlog"
	"github.com/gemini-goats/goats-go/internal/tasks"
)

// InputFile is one enabled run file resolved to its on-disk path.
type InputFile struct {
	DataProductID   int64
	Path            string
	ObservationType string
}

type ReductionStore interface {
	Get(ctx context.Context, id int64) (domain.Reduction, error)
	SetStatus(ctx context.Context, id int64, status string) (domain.Reduction, error)
}

type RecipeStore interface {
	Get(ctx context.Context, id int64) (domain.Recipe, error)
}

type RunStore interface {
	Get(ctx context.Context, id int64) (domain.Run, error)
}

type ObservationStore interface {
	Get(ctx context.Context, id int64) (domain.Observation, error)
}

// ProductStore registers reduced outputs as data products.
type ProductStore interface {
	Upsert(ctx context.Context, dp domain.DataProduct) (domain.DataProduct, error)
}

type InputLister interface {
	ListEnabledInputs(ctx context.Context, runID int64) ([]InputFile, error)
}

// Mirror copies finished outputs to object storage.
type Mirror interface {
	MirrorFile(ctx context.Context, key, path string) error
}

type Executor struct {
	Logger       *slog.Logger
	Bus          *bus.Hub
	Reductions   ReductionStore
	Recipes      RecipeStore
	Runs         RunStore
	Observations ObservationStore
	Products     ProductStore
	Inputs       InputLister
	Mirror       Mirror
	Events       eventlog.Querier
	MediaRoot    string
	ReduceBin    string
	LogLevel     int
}

// Execute drives one reduction end to end. fileIDs narrows the enabled files
// of the run; empty means all. The reduction record always reaches a terminal
// state before Execute returns an error.
func (e *Executor) Execute(ctx context.Context, reduceID int64, fileIDs []int64) error {
	loadCtx := context.WithoutCancel(ctx)
	red, err := e.Reductions.Get(loadCtx, reduceID)
	if err != nil {
		return fmt.Errorf("load reduction %d: %w", reduceID, err)
	}
	recipe, err := e.Recipes.Get(loadCtx, red.RecipeID)
	if err != nil {
		return e.fail(ctx, red, recipe, domain.Run{}, fmt.Errorf("load recipe %d: %w", red.RecipeID, err))
	}
	run, err := e.Runs.Get(loadCtx, recipe.RunID)
	if err != nil {
		return e.fail(ctx, red, recipe, domain.Run{}, fmt.Errorf("load run %d: %w", recipe.RunID, err))
	}

	// the task may be aborted or timed out before a worker ever picked it
	// up; the record still has to leave the queue
	if ctx.Err() != nil {
		return e.finalize(ctx, red, recipe, run, context.Cause(ctx))
	}

	if err := e.transition(ctx, &red, recipe, domain.ReductionInitializing); err != nil {
		return e.finalize(ctx, red, recipe, run, err)
	}

	inputs, err := e.Inputs.ListEnabledInputs(ctx, run.ID)
	if err != nil {
		return e.fail(ctx, red, recipe, run, fmt.Errorf("list inputs: %w", err))
	}
	inputs = selectInputs(inputs, fileIDs)
	if len(inputs) == 0 {
		return e.fail(ctx, red, recipe, run, errors.New("no enabled input files selected"))
	}
	sortInputs(inputs, recipe.ObservationType)

	unit, err := materializeRecipe(run.OutputDir, recipe.EffectiveBody())
	if err != nil {
		return e.fail(ctx, red, recipe, run, err)
	}
	defer unit.cleanup()

	uparms, err := parseUParms(recipe.UParms)
	if err != nil {
		return e.fail(ctx, red, recipe, run, err)
	}

	if err := e.transition(ctx, &red, recipe, domain.ReductionRunning); err != nil {
		return e.finalize(ctx, red, recipe, run, err)
	}

	runErr := e.invoke(ctx, run, recipe, red, unit, uparms, inputs)
	return e.finalize(ctx, red, recipe, run, runErr)
}

func (e *Executor) invoke(ctx context.Context, run domain.Run, recipe domain.Recipe, red domain.Reduction, unit recipeUnit, uparms []string, inputs []InputFile) error {
	args := []string{"--config", run.ConfigPath, "-r", unit.recipeName()}
	for _, pair := range uparms {
		args = append(args, "-p", pair)
	}
	for _, in := range inputs {
		args = append(args, in.Path)
	}

	cmd := exec.CommandContext(ctx, e.ReduceBin, args...)
	cmd.Dir = run.OutputDir

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		e.streamLogs(pr, run, recipe, red)
	}()

	err := cmd.Run()
	_ = pw.Close()
	<-streamDone

	if err != nil {
		// the context cause beats the raw exec error for classification
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return fmt.Errorf("reduce failed: %w", err)
	}
	return nil
}

// streamLogs forwards each output line at or above the configured level to
// the bus and appends everything to the run's log file.
func (e *Executor) streamLogs(r io.Reader, run domain.Run, recipe domain.Recipe, red domain.Reduction) {
	var logFile *os.File
	if f, err := os.OpenFile(run.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
		logFile = f
		defer logFile.Close()
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if logFile != nil {
			fmt.Fprintln(logFile, line)
		}
		if lineLevel(line) >= e.LogLevel {
			e.Bus.PublishLog(run.ID, recipe.ID, red.ID, line)
		}
	}
}

func (e *Executor) finalize(ctx context.Context, red domain.Reduction, recipe domain.Recipe, run domain.Run, runErr error) error {
	if runErr == nil {
		e.transitionBestEffort(ctx, &red, recipe, domain.ReductionDone)
		e.publishOutputs(ctx, run)
		e.notify(ctx, run, bus.ColorSuccess,
			fmt.Sprintf("Recipe %s finished for run %s.", recipe.ShortName(), run.RunID))
		return nil
	}

	switch {
	case tasks.Aborted(ctx):
		e.transitionBestEffort(ctx, &red, recipe, domain.ReductionCanceled)
		e.notify(ctx, run, bus.ColorWarning,
			fmt.Sprintf("Recipe %s was canceled for run %s.", recipe.ShortName(), run.RunID))
		return runErr
	case tasks.TimeLimitHit(ctx):
		e.transitionBestEffort(ctx, &red, recipe, domain.ReductionError)
		e.notify(ctx, run, bus.ColorWarning, "Background task time limit hit.")
		return runErr
	default:
		e.transitionBestEffort(ctx, &red, recipe, domain.ReductionError)
		e.notify(ctx, run, bus.ColorDanger,
			fmt.Sprintf("Recipe %s failed for run %s: %v", recipe.ShortName(), run.RunID, runErr))
		return runErr
	}
}

func (e *Executor) fail(ctx context.Context, red domain.Reduction, recipe domain.Recipe, run domain.Run, cause error) error {
	e.transitionBestEffort(ctx, &red, recipe, domain.ReductionError)
	e.notify(ctx, run, bus.ColorDanger, cause.Error())
	return cause
}

// notify publishes an outcome notification and records it in the event log so
// clients that connect late can still see how the reduction ended.
func (e *Executor) notify(ctx context.Context, run domain.Run, color, message string) {
	uniqueID := uuid.NewString()
	e.Bus.PublishNotification(uniqueID, "DRAGONS reduce", color, message)
	if e.Events == nil {
		return
	}
	_, err := eventlog.Insert(context.WithoutCancel(ctx), e.Events, eventlog.Event{
		Group:   bus.GroupUpdates,
		Kind:    bus.KindNotification,
		Label:   "DRAGONS reduce",
		Color:   color,
		RunID:   run.RunID,
		Payload: map[string]any{"unique_id": uniqueID, "message": message},
	})
	if err != nil && e.Logger != nil {
		e.Logger.Warn("record reduce notification", "run", run.RunID, "error", err.Error())
	}
}

func (e *Executor) transition(ctx context.Context, red *domain.Reduction, recipe domain.Recipe, status string) error {
	updated, err := e.Reductions.SetStatus(ctx, red.ID, status)
	if err != nil {
		return fmt.Errorf("set reduction %d to %s: %w", red.ID, status, err)
	}
	*red = updated
	e.Bus.PublishRecipe(recipe.RunID, recipe.ID, red.ID, status)
	return nil
}

// transitionBestEffort finalizes the record even when the task context is
// already canceled.
func (e *Executor) transitionBestEffort(ctx context.Context, red *domain.Reduction, recipe domain.Recipe, status string) {
	if err := e.transition(context.WithoutCancel(ctx), red, recipe, status); err != nil && e.Logger != nil {
		e.Logger.Error("finalize reduction", "reduce_id", red.ID, "status", status, "error", err.Error())
	}
}

// publishOutputs registers every FITS file in the run's output directory as a
// processed data product and mirrors it to the object store. Failures on
// individual files are logged; a finished reduction never turns into an error
// over bookkeeping.
func (e *Executor) publishOutputs(ctx context.Context, run domain.Run) {
	matches, err := listOutputFits(run.OutputDir)
	if err != nil {
		if e.Logger != nil {
			e.Logger.Warn("scan reduction outputs", "run", run.RunID, "error", err.Error())
		}
		return
	}
	if len(matches) == 0 {
		return
	}
	opCtx := context.WithoutCancel(ctx)

	var targetName string
	if e.Observations != nil {
		if obs, err := e.Observations.Get(opCtx, run.ObservationID); err == nil {
			targetName = obs.TargetName
		} else if e.Logger != nil {
			e.Logger.Warn("load observation for outputs", "observation", run.ObservationID, "error", err.Error())
		}
	}

	for _, path := range matches {
		if e.Products != nil {
			rel, err := filepath.Rel(e.MediaRoot, path)
			if err != nil {
				if e.Logger != nil {
					e.Logger.Warn("resolve output product id", "path", path, "error", err.Error())
				}
			} else {
				_, err := e.Products.Upsert(opCtx, domain.DataProduct{
					ProductID:     filepath.ToSlash(rel),
					ObservationID: run.ObservationID,
					TargetName:    targetName,
					StoragePath:   filepath.ToSlash(rel),
					TypeTag:       "fits_file",
					Processed:     true,
				})
				if err != nil && e.Logger != nil {
					e.Logger.Warn("register reduction output", "path", path, "error", err.Error())
				}
			}
		}
		if e.Mirror != nil {
			key := fmt.Sprintf("%d/%s/%s", run.ObservationID, run.RunID, filepath.Base(path))
			if err := e.Mirror.MirrorFile(opCtx, key, path); err != nil && e.Logger != nil {
				e.Logger.Warn("mirror output", "key", key, "error", err.Error())
			}
		}
	}
}

// selectInputs keeps inputs whose data product id is in ids; empty ids keeps
// everything.
func selectInputs(inputs []InputFile, ids []int64) []InputFile {
	if len(ids) == 0 {
		return inputs
	}
	wanted := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	out := inputs[:0]
	for _, in := range inputs {
		if _, ok := wanted[in.DataProductID]; ok {
			out = append(out, in)
		}
	}
	return out
}

// sortInputs moves files matching the recipe's observation type to the front.
// The pipeline inspects the first input to pick its primitive set, so order
// matters; relative order within each half is preserved.
func sortInputs(inputs []InputFile, observationType string) {
	sort.SliceStable(inputs, func(i, j int) bool {
		iMatch := strings.EqualFold(inputs[i].ObservationType, observationType)
		jMatch := strings.EqualFold(inputs[j].ObservationType, observationType)
		return iMatch && !jMatch
	})
}

func listOutputFits(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "*.fits"))
}

var logLevels = map[string]int{
	"DEBUG":    10,
	"FULLINFO": 15,
	"INFO":     20,
	"STDINFO":  21,
	"STATUS":   25,
	"WARNING":  30,
	"ERROR":    40,
	"CRITICAL": 50,
}

// lineLevel guesses the log level of a reduce output line by its level token.
// Lines without a recognizable token are treated as stdinfo so user-facing
// output is never dropped.
func lineLevel(line string) int {
	for _, field := range strings.Fields(line) {
		field = strings.Trim(field, "-[]:")
		if level, ok := logLevels[strings.ToUpper(field)]; ok {
			return level
		}
	}
	return logLevels["STDINFO"]
}
