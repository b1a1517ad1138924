package runs

import (
	"context"
	"errors"
	"testing"

	"github.com/gemini-goats/goats-go/internal/domain"
	"github.com/gemini-goats/goats-go/internal/dragons/recipes"
	"github.com/gemini-goats/goats-go/internal/dragons/workspace"
	"github.com/gemini-goats/goats-go/internal/repo"
)

type fakeObservations struct{ obs domain.Observation }

func (f *fakeObservations) Upsert(ctx context.Context, obs domain.Observation) (domain.Observation, error) {
	return obs, nil
}
func (f *fakeObservations) Get(ctx context.Context, id int64) (domain.Observation, error) {
	if id != f.obs.ID {
		return domain.Observation{}, repo.ErrNotFound
	}
	return f.obs, nil
}

type fakeDataProducts struct{ products []domain.DataProduct }

func (f *fakeDataProducts) Upsert(ctx context.Context, dp domain.DataProduct) (domain.DataProduct, error) {
	return dp, nil
}
func (f *fakeDataProducts) Get(ctx context.Context, id int64) (domain.DataProduct, error) {
	return domain.DataProduct{}, repo.ErrNotFound
}
func (f *fakeDataProducts) GetByProductID(ctx context.Context, productID string) (domain.DataProduct, error) {
	return domain.DataProduct{}, repo.ErrNotFound
}
func (f *fakeDataProducts) List(ctx context.Context, filter repo.DataProductFilter) ([]domain.DataProduct, error) {
	return f.products, nil
}
func (f *fakeDataProducts) Delete(ctx context.Context, id int64) error { return nil }
func (f *fakeDataProducts) UpsertDescriptors(ctx context.Context, d domain.FileDescriptors) error {
	return nil
}
func (f *fakeDataProducts) GetDescriptors(ctx context.Context, dataProductID int64) (domain.FileDescriptors, error) {
	return domain.FileDescriptors{}, repo.ErrNotFound
}

type fakeRuns struct {
	existing map[string]domain.Run
	created  []domain.Run
}

func (f *fakeRuns) Create(ctx context.Context, run domain.Run) (domain.Run, error) {
	run.ID = int64(len(f.created) + 1)
	f.created = append(f.created, run)
	return run, nil
}
func (f *fakeRuns) Get(ctx context.Context, id int64) (domain.Run, error) {
	for _, run := range f.created {
		if run.ID == id {
			return run, nil
		}
	}
	return domain.Run{}, repo.ErrNotFound
}
func (f *fakeRuns) GetByRunID(ctx context.Context, observationID int64, runID string) (domain.Run, error) {
	if run, ok := f.existing[runID]; ok {
		return run, nil
	}
	return domain.Run{}, repo.ErrNotFound
}
func (f *fakeRuns) List(ctx context.Context, observationID int64) ([]domain.Run, error) {
	return f.created, nil
}
func (f *fakeRuns) Delete(ctx context.Context, id int64) error { return nil }

type fakeRunFiles struct {
	files    []domain.RunFile
	inserted []int64
}

func (f *fakeRunFiles) BulkInsert(ctx context.Context, runID int64, dataProductIDs []int64) error {
	f.inserted = dataProductIDs
	return nil
}
func (f *fakeRunFiles) Get(ctx context.Context, id int64) (domain.RunFile, error) {
	return domain.RunFile{}, repo.ErrNotFound
}
func (f *fakeRunFiles) List(ctx context.Context, filter repo.RunFileFilter) ([]domain.RunFile, error) {
	return f.files, nil
}
func (f *fakeRunFiles) ListEnabledInputs(ctx context.Context, runID int64) ([]repo.RunFileInput, error) {
	return nil, nil
}
func (f *fakeRunFiles) SetEnabled(ctx context.Context, id int64, enabled bool) error { return nil }
func (f *fakeRunFiles) DisableOldBiases(ctx context.Context, runID int64, windowDays int) (int64, error) {
	return 0, nil
}

type fakeRecipes struct {
	created []domain.Recipe
}

func (f *fakeRecipes) EnsureModule(ctx context.Context, module domain.RecipesModule) (domain.RecipesModule, error) {
	module.ID = 1
	return module, nil
}
func (f *fakeRecipes) EnsureBaseRecipe(ctx context.Context, base domain.BaseRecipe) (domain.BaseRecipe, error) {
	base.ID = 1
	return base, nil
}
func (f *fakeRecipes) Create(ctx context.Context, recipe domain.Recipe) (domain.Recipe, error) {
	recipe.ID = int64(len(f.created) + 1)
	recipe.Base = domain.BaseRecipe{ID: recipe.BaseRecipeID, Name: "mod::short", FunctionBody: "def short(p):\n    p.prepare()\n"}
	f.created = append(f.created, recipe)
	return recipe, nil
}
func (f *fakeRecipes) Get(ctx context.Context, id int64) (domain.Recipe, error) {
	return domain.Recipe{}, repo.ErrNotFound
}
func (f *fakeRecipes) ListByRun(ctx context.Context, runID int64) ([]domain.Recipe, error) {
	return f.created, nil
}
func (f *fakeRecipes) UpdateFunctionBody(ctx context.Context, id int64, body *string) (domain.Recipe, error) {
	return domain.Recipe{}, repo.ErrNotFound
}
func (f *fakeRecipes) UpdateUParms(ctx context.Context, id int64, uparms string) (domain.Recipe, error) {
	return domain.Recipe{}, repo.ErrNotFound
}

type fakeIntrospector struct{ calls int }

func (f *fakeIntrospector) Introspect(ctx context.Context, path string) (recipes.Introspection, error) {
	f.calls++
	return recipes.Introspection{
		FullName:     "geminidr.gmos.recipes.sq.recipes_BIAS::makeProcessedBias",
		FunctionBody: "def makeProcessedBias(p):\n    p.prepare()\n",
	}, nil
}

func runFile(dpID int64, obsType, obsClass, object string) domain.RunFile {
	return domain.RunFile{
		ID:            dpID,
		RunID:         1,
		DataProductID: dpID,
		Enabled:       true,
		Descriptors: domain.FileDescriptors{
			DataProductID:    dpID,
			FileType:         domain.FileTypeBias,
			ObservationType:  obsType,
			ObservationClass: obsClass,
			ObjectName:       object,
		},
	}
}

func newTestService(t *testing.T, runsRepo *fakeRuns, files *fakeRunFiles, recipesRepo *fakeRecipes, intro *fakeIntrospector) *Service {
	t.Helper()
	ws, err := workspace.NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	svc, err := New(Config{
		Observations: &fakeObservations{obs: domain.Observation{ID: 7, TargetName: "M51", Facility: "GN"}},
		DataProducts: &fakeDataProducts{products: []domain.DataProduct{
			{ID: 1, ProductID: "a", ObservationID: 7, StoragePath: "M51/GN/observation-7/a.fits"},
			{ID: 2, ProductID: "b", ObservationID: 7, StoragePath: "M51/GN/observation-7/b.fits"},
			{ID: 3, ProductID: "c", ObservationID: 7, StoragePath: "M51/GN/observation-7/c.fits"},
		}},
		Runs:           runsRepo,
		RunFiles:       files,
		Recipes:        recipesRepo,
		Workspaces:     ws,
		Introspector:   intro,
		CalDBBin:       "/bin/true",
		DragonsVersion: "3.2",
	})
	if err != nil {
		t.Fatal(err)
	}
	return svc
}

func TestCreateSeedsOneRecipePerGroup(t *testing.T) {
	runsRepo := &fakeRuns{}
	files := &fakeRunFiles{files: []domain.RunFile{
		runFile(1, "BIAS", "dayCal", ""),
		runFile(2, "FLAT", "dayCal", ""),
		runFile(3, "OBJECT", "science", "M51"),
	}}
	recipesRepo := &fakeRecipes{}
	intro := &fakeIntrospector{}
	svc := newTestService(t, runsRepo, files, recipesRepo, intro)

	run, seeded, err := svc.Create(context.Background(), CreateParams{ObservationID: 7, RunID: "R 1"})
	if err != nil {
		t.Fatalf("Create err = %v", err)
	}
	if run.RunID != "r_1" {
		t.Fatalf("RunID = %q", run.RunID)
	}
	if len(seeded) != 3 {
		t.Fatalf("seeded %d recipes", len(seeded))
	}
	if intro.calls != 3 {
		t.Fatalf("introspected %d times", intro.calls)
	}
	if len(files.inserted) != 3 {
		t.Fatalf("inserted %v", files.inserted)
	}
}

func TestCreateDeduplicatesGroups(t *testing.T) {
	runsRepo := &fakeRuns{}
	files := &fakeRunFiles{files: []domain.RunFile{
		runFile(1, "BIAS", "dayCal", ""),
		runFile(2, "BIAS", "dayCal", ""),
	}}
	recipesRepo := &fakeRecipes{}
	intro := &fakeIntrospector{}
	svc := newTestService(t, runsRepo, files, recipesRepo, intro)

	_, seeded, err := svc.Create(context.Background(), CreateParams{ObservationID: 7, RunID: "r1"})
	if err != nil {
		t.Fatalf("Create err = %v", err)
	}
	if len(seeded) != 1 {
		t.Fatalf("seeded %d recipes, want 1", len(seeded))
	}
}

func TestCreateRejectsDuplicateRunID(t *testing.T) {
	runsRepo := &fakeRuns{existing: map[string]domain.Run{"r1": {ID: 99, RunID: "r1"}}}
	svc := newTestService(t, runsRepo, &fakeRunFiles{}, &fakeRecipes{}, &fakeIntrospector{})

	_, _, err := svc.Create(context.Background(), CreateParams{ObservationID: 7, RunID: "r1"})
	if !errors.Is(err, ErrRunExists) {
		t.Fatalf("err = %v, want ErrRunExists", err)
	}
}
