package reduce

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gemini-goats/goats-go/internal/bus"
	"github.com/gemini-goats/goats-go/internal/domain"
	"github.com/gemini-goats/goats-go/internal/tasks"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memReductionStore struct {
	mu       sync.Mutex
	red      domain.Reduction
	statuses []string
	failOn   string
}

func (s *memReductionStore) Get(ctx context.Context, id int64) (domain.Reduction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.red, nil
}

func (s *memReductionStore) SetStatus(ctx context.Context, id int64, status string) (domain.Reduction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn != "" && status == s.failOn {
		return domain.Reduction{}, errors.New("store offline")
	}
	s.red.Status = status
	s.statuses = append(s.statuses, status)
	return s.red, nil
}

func (s *memReductionStore) status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.red.Status
}

type stubRecipeStore struct{ recipe domain.Recipe }

func (s stubRecipeStore) Get(ctx context.Context, id int64) (domain.Recipe, error) {
	return s.recipe, nil
}

type stubRunStore struct{ run domain.Run }

func (s stubRunStore) Get(ctx context.Context, id int64) (domain.Run, error) {
	return s.run, nil
}

type stubObservationStore struct{ obs domain.Observation }

func (s stubObservationStore) Get(ctx context.Context, id int64) (domain.Observation, error) {
	return s.obs, nil
}

type memProductStore struct {
	mu      sync.Mutex
	upserts []domain.DataProduct
}

func (s *memProductStore) Upsert(ctx context.Context, dp domain.DataProduct) (domain.DataProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dp.ID = int64(len(s.upserts) + 1)
	s.upserts = append(s.upserts, dp)
	return dp, nil
}

type memMirror struct {
	mu   sync.Mutex
	keys []string
}

func (m *memMirror) MirrorFile(ctx context.Context, key, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, key)
	return nil
}

func TestExecuteFinalizesCanceledBeforeStart(t *testing.T) {
	reds := &memReductionStore{red: domain.Reduction{ID: 1, RecipeID: 2, Status: domain.ReductionQueued}}
	hub := bus.NewHub(discardLogger())
	sub := hub.Subscribe(bus.GroupUpdates)
	defer hub.Unsubscribe(sub)

	e := &Executor{
		Logger:     discardLogger(),
		Bus:        hub,
		Reductions: reds,
		Recipes:    stubRecipeStore{recipe: domain.Recipe{ID: 2, RunID: 3}},
		Runs:       stubRunStore{run: domain.Run{ID: 3, RunID: "run-a"}},
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(tasks.ErrAborted)

	if err := e.Execute(ctx, 1, nil); !errors.Is(err, tasks.ErrAborted) {
		t.Fatalf("err = %v, want abort cause", err)
	}
	if got := reds.status(); got != domain.ReductionCanceled {
		t.Fatalf("status = %q, want canceled", got)
	}

	select {
	case raw := <-sub.C():
		var note bus.Notification
		if err := json.Unmarshal(raw, &note); err != nil {
			t.Fatal(err)
		}
		if note.Color != bus.ColorWarning {
			t.Fatalf("notification color = %q, want warning", note.Color)
		}
	case <-time.After(time.Second):
		t.Fatal("no cancellation notification published")
	}
}

func TestExecuteTransitionFailureFinalizesError(t *testing.T) {
	reds := &memReductionStore{
		red:    domain.Reduction{ID: 1, RecipeID: 2, Status: domain.ReductionQueued},
		failOn: domain.ReductionInitializing,
	}
	e := &Executor{
		Logger:     discardLogger(),
		Bus:        bus.NewHub(discardLogger()),
		Reductions: reds,
		Recipes:    stubRecipeStore{recipe: domain.Recipe{ID: 2, RunID: 3}},
		Runs:       stubRunStore{run: domain.Run{ID: 3, RunID: "run-a"}},
	}

	if err := e.Execute(context.Background(), 1, nil); err == nil {
		t.Fatal("transition failure returned nil")
	}
	if got := reds.status(); got != domain.ReductionError {
		t.Fatalf("status = %q, want error", got)
	}
}

func TestPublishOutputsRegistersProcessedProducts(t *testing.T) {
	media := t.TempDir()
	outDir := filepath.Join(media, "M51", "gemini", "observation-7", "run-a")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(outDir, "stack.fits"), []byte("fits"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(outDir, "reduce.log"), []byte("log"), 0o644); err != nil {
		t.Fatal(err)
	}

	products := &memProductStore{}
	mirror := &memMirror{}
	e := &Executor{
		Logger:       discardLogger(),
		Observations: stubObservationStore{obs: domain.Observation{ID: 7, TargetName: "M51"}},
		Products:     products,
		Mirror:       mirror,
		MediaRoot:    media,
	}

	e.publishOutputs(context.Background(), domain.Run{
		ID: 3, ObservationID: 7, RunID: "run-a", OutputDir: outDir,
	})

	if len(products.upserts) != 1 {
		t.Fatalf("upserts = %d, want 1", len(products.upserts))
	}
	dp := products.upserts[0]
	if !dp.Processed {
		t.Fatal("output not marked processed")
	}
	wantID := "M51/gemini/observation-7/run-a/stack.fits"
	if dp.ProductID != wantID {
		t.Fatalf("product id = %q, want %q", dp.ProductID, wantID)
	}
	if dp.TargetName != "M51" {
		t.Fatalf("target = %q", dp.TargetName)
	}
	if len(mirror.keys) != 1 || mirror.keys[0] != "7/run-a/stack.fits" {
		t.Fatalf("mirror keys = %v", mirror.keys)
	}
}

func TestSortInputsStable(t *testing.T) {
	inputs := []InputFile{
		{DataProductID: 1, ObservationType: "FLAT"},
		{DataProductID: 2, ObservationType: "BIAS"},
		{DataProductID: 3, ObservationType: "FLAT"},
		{DataProductID: 4, ObservationType: "BIAS"},
	}
	sortInputs(inputs, "bias")

	gotIDs := []int64{inputs[0].DataProductID, inputs[1].DataProductID, inputs[2].DataProductID, inputs[3].DataProductID}
	want := []int64{2, 4, 1, 3}
	for i := range want {
		if gotIDs[i] != want[i] {
			t.Fatalf("order = %v, want %v", gotIDs, want)
		}
	}
}

func TestSelectInputs(t *testing.T) {
	inputs := []InputFile{
		{DataProductID: 1},
		{DataProductID: 2},
		{DataProductID: 3},
	}
	if got := selectInputs(inputs, nil); len(got) != 3 {
		t.Fatalf("empty selection = %v", got)
	}
	got := selectInputs(inputs, []int64{3, 1})
	if len(got) != 2 || got[0].DataProductID != 1 || got[1].DataProductID != 3 {
		t.Fatalf("selection = %v", got)
	}
}

func TestLineLevel(t *testing.T) {
	tests := []struct {
		line string
		want int
	}{
		{line: "2024-06-15 08:30:00 INFO prepare: starting", want: 20},
		{line: "STDINFO   Reducing 3 files", want: 21},
		{line: "reduce [WARNING] overscan region truncated", want: 30},
		{line: "ERROR stackBiases failed", want: 40},
		{line: "plain progress output", want: 21},
		{line: "DEBUG internal state", want: 10},
	}
	for _, tc := range tests {
		if got := lineLevel(tc.line); got != tc.want {
			t.Fatalf("lineLevel(%q) = %d, want %d", tc.line, got, tc.want)
		}
	}
}
