// Package repo defines the persistence interfaces the service layers depend
// on; the postgres subpackage implements them.
package repo

import (
	"context"
	"errors"

	"github.com/gemini-goats/goats-go/internal/domain"
)

var ErrNotFound = errors.New("not found")

// ErrIllegalTransition is returned when a reduction status update would move
// backward or out of a terminal state.
var ErrIllegalTransition = errors.New("illegal status transition")

type DataProductFilter struct {
	ObservationID int64
	Processed     *bool
	PathPrefix    string
	Limit         int
}

type RunFileFilter struct {
	RunID    int64
	Enabled  *bool
	FileType string
	Limit    int

	// Expression is an astrodata filter expression compiled into SQL by the
	// store; Strict disables partial matching and numeric tolerance.
	Expression string
	Strict     bool
}

type ReductionFilter struct {
	RunID    int64
	RecipeID int64
	Status   string
	Limit    int
}

type DownloadFilter struct {
	ObservationID int64
	Status        string
	Limit         int
}

// RunFileInput is a run file joined with the fields the reduction executor
// needs to build its command line.
type RunFileInput struct {
	RunFileID       int64
	DataProductID   int64
	StoragePath     string
	ObservationType string
}

type ObservationRepository interface {
	Upsert(ctx context.Context, obs domain.Observation) (domain.Observation, error)
	Get(ctx context.Context, id int64) (domain.Observation, error)
}

type DataProductRepository interface {
	Upsert(ctx context.Context, dp domain.DataProduct) (domain.DataProduct, error)
	Get(ctx context.Context, id int64) (domain.DataProduct, error)
	GetByProductID(ctx context.Context, productID string) (domain.DataProduct, error)
	List(ctx context.Context, filter DataProductFilter) ([]domain.DataProduct, error)
	Delete(ctx context.Context, id int64) error
	UpsertDescriptors(ctx context.Context, d domain.FileDescriptors) error
	GetDescriptors(ctx context.Context, dataProductID int64) (domain.FileDescriptors, error)
}

type RunRepository interface {
	Create(ctx context.Context, run domain.Run) (domain.Run, error)
	Get(ctx context.Context, id int64) (domain.Run, error)
	GetByRunID(ctx context.Context, observationID int64, runID string) (domain.Run, error)
	List(ctx context.Context, observationID int64) ([]domain.Run, error)
	Delete(ctx context.Context, id int64) error
}

type RunFileRepository interface {
	BulkInsert(ctx context.Context, runID int64, dataProductIDs []int64) error
	Get(ctx context.Context, id int64) (domain.RunFile, error)
	List(ctx context.Context, filter RunFileFilter) ([]domain.RunFile, error)
	ListEnabledInputs(ctx context.Context, runID int64) ([]RunFileInput, error)
	SetEnabled(ctx context.Context, id int64, enabled bool) error
	DisableOldBiases(ctx context.Context, runID int64, windowDays int) (int64, error)
}

type RecipeRepository interface {
	EnsureModule(ctx context.Context, module domain.RecipesModule) (domain.RecipesModule, error)
	EnsureBaseRecipe(ctx context.Context, base domain.BaseRecipe) (domain.BaseRecipe, error)
	Create(ctx context.Context, recipe domain.Recipe) (domain.Recipe, error)
	Get(ctx context.Context, id int64) (domain.Recipe, error)
	ListByRun(ctx context.Context, runID int64) ([]domain.Recipe, error)
	UpdateFunctionBody(ctx context.Context, id int64, body *string) (domain.Recipe, error)
	UpdateUParms(ctx context.Context, id int64, uparms string) (domain.Recipe, error)
}

type ReductionRepository interface {
	Create(ctx context.Context, red domain.Reduction) (domain.Reduction, error)
	Get(ctx context.Context, id int64) (domain.Reduction, error)
	List(ctx context.Context, filter ReductionFilter) ([]domain.Reduction, error)
	SetStatus(ctx context.Context, id int64, status string) (domain.Reduction, error)
	SetTaskID(ctx context.Context, id int64, taskID string) error
	HasNonTerminalForRecipe(ctx context.Context, recipeID int64) (bool, error)
}

type DownloadRepository interface {
	Create(ctx context.Context, dl domain.Download) (domain.Download, error)
	GetByUniqueID(ctx context.Context, uniqueID string) (domain.Download, error)
	List(ctx context.Context, filter DownloadFilter) ([]domain.Download, error)
	Finalize(ctx context.Context, dl domain.Download) error
}

type CredentialsRepository interface {
	Get(ctx context.Context, userID int64, service string) (domain.Credentials, error)
}
