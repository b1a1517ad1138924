package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/gemini-goats/goats-go/internal/domain"
)

type RecipeStore struct {
	db DB
}

func NewRecipeStore(db DB) *RecipeStore {
	if db == nil {
		return nil
	}
	return &RecipeStore{db: db}
}

// EnsureModule returns the module row for (name, version, instrument),
// creating it on first encounter.
func (s *RecipeStore) EnsureModule(ctx context.Context, module domain.RecipesModule) (domain.RecipesModule, error) {
	if s == nil || s.db == nil {
		return domain.RecipesModule{}, fmt.Errorf("recipe store not initialized")
	}
	if err := module.Validate(); err != nil {
		return domain.RecipesModule{}, err
	}
	row := s.db.QueryRowContext(
		ctx,
		`INSERT INTO recipes_modules (name, version, instrument)
		 VALUES ($1,$2,$3)
		 ON CONFLICT (name, version, instrument) DO UPDATE SET name = EXCLUDED.name
		 RETURNING recipes_module_id, created_at`,
		strings.TrimSpace(module.Name),
		strings.TrimSpace(module.Version),
		strings.TrimSpace(module.Instrument),
	)
	if err := row.Scan(&module.ID, &module.CreatedAt); err != nil {
		return domain.RecipesModule{}, fmt.Errorf("ensure recipes module: %w", err)
	}
	module.CreatedAt = module.CreatedAt.UTC()
	return module, nil
}

// EnsureBaseRecipe returns the base recipe for (module, name), creating it on
// first encounter. An existing row keeps its stored body.
func (s *RecipeStore) EnsureBaseRecipe(ctx context.Context, base domain.BaseRecipe) (domain.BaseRecipe, error) {
	if s == nil || s.db == nil {
		return domain.BaseRecipe{}, fmt.Errorf("recipe store not initialized")
	}
	if err := base.Validate(); err != nil {
		return domain.BaseRecipe{}, err
	}
	row := s.db.QueryRowContext(
		ctx,
		`INSERT INTO base_recipes (recipes_module_id, name, function_body, is_default)
		 VALUES ($1,$2,$3,$4)
		 ON CONFLICT (recipes_module_id, name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING base_recipe_id, function_body, is_default, created_at`,
		base.RecipesModuleID,
		strings.TrimSpace(base.Name),
		base.FunctionBody,
		base.IsDefault,
	)
	if err := row.Scan(&base.ID, &base.FunctionBody, &base.IsDefault, &base.CreatedAt); err != nil {
		return domain.BaseRecipe{}, fmt.Errorf("ensure base recipe: %w", err)
	}
	base.CreatedAt = base.CreatedAt.UTC()
	return base, nil
}

func (s *RecipeStore) Create(ctx context.Context, recipe domain.Recipe) (domain.Recipe, error) {
	if s == nil || s.db == nil {
		return domain.Recipe{}, fmt.Errorf("recipe store not initialized")
	}
	if err := recipe.Validate(); err != nil {
		return domain.Recipe{}, err
	}
	createdAt := normalizeTime(recipe.CreatedAt)
	row := s.db.QueryRowContext(
		ctx,
		`INSERT INTO dragons_recipes (dragons_run_id, base_recipe_id, observation_type, observation_class, object_name, function_body, uparms, created_at, modified_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
		 RETURNING recipe_id`,
		recipe.RunID,
		recipe.BaseRecipeID,
		strings.TrimSpace(recipe.ObservationType),
		strings.TrimSpace(recipe.ObservationClass),
		strings.TrimSpace(recipe.ObjectName),
		nullIfEmpty(recipe.FunctionBody),
		nullIfEmpty(recipe.UParms),
		createdAt,
	)
	if err := row.Scan(&recipe.ID); err != nil {
		return domain.Recipe{}, fmt.Errorf("insert recipe: %w", err)
	}
	recipe.CreatedAt = createdAt
	recipe.ModifiedAt = createdAt
	return s.Get(ctx, recipe.ID)
}

const recipeSelect = `SELECT r.recipe_id, r.dragons_run_id, r.base_recipe_id,
	r.observation_type, r.observation_class, r.object_name, r.function_body, r.uparms,
	r.created_at, r.modified_at,
	b.recipes_module_id, b.name, b.function_body, b.is_default, b.created_at
	FROM dragons_recipes r
	JOIN base_recipes b ON b.base_recipe_id = r.base_recipe_id`

func (s *RecipeStore) Get(ctx context.Context, id int64) (domain.Recipe, error) {
	if s == nil || s.db == nil {
		return domain.Recipe{}, fmt.Errorf("recipe store not initialized")
	}
	row := s.db.QueryRowContext(ctx, recipeSelect+` WHERE r.recipe_id = $1`, id)
	return scanRecipe(row)
}

func (s *RecipeStore) ListByRun(ctx context.Context, runID int64) ([]domain.Recipe, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("recipe store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, recipeSelect+` WHERE r.dragons_run_id = $1 ORDER BY r.recipe_id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list recipes: %w", err)
	}
	defer rows.Close()

	var out []domain.Recipe
	for rows.Next() {
		recipe, err := scanRecipe(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, recipe)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipes: %w", err)
	}
	return out, nil
}

// UpdateFunctionBody sets the user override; a nil body resets to the base
// recipe.
func (s *RecipeStore) UpdateFunctionBody(ctx context.Context, id int64, body *string) (domain.Recipe, error) {
	if s == nil || s.db == nil {
		return domain.Recipe{}, fmt.Errorf("recipe store not initialized")
	}
	var value sql.NullString
	if body != nil {
		value = sql.NullString{String: *body, Valid: true}
	}
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE dragons_recipes SET function_body = $2, modified_at = $3 WHERE recipe_id = $1`,
		id,
		value,
		time.Now().UTC(),
	)
	if err != nil {
		return domain.Recipe{}, fmt.Errorf("update recipe body: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return domain.Recipe{}, handleNotFound(sql.ErrNoRows)
	}
	return s.Get(ctx, id)
}

func (s *RecipeStore) UpdateUParms(ctx context.Context, id int64, uparms string) (domain.Recipe, error) {
	if s == nil || s.db == nil {
		return domain.Recipe{}, fmt.Errorf("recipe store not initialized")
	}
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE dragons_recipes SET uparms = $2, modified_at = $3 WHERE recipe_id = $1`,
		id,
		nullIfEmpty(uparms),
		time.Now().UTC(),
	)
	if err != nil {
		return domain.Recipe{}, fmt.Errorf("update recipe uparms: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return domain.Recipe{}, handleNotFound(sql.ErrNoRows)
	}
	return s.Get(ctx, id)
}

func scanRecipe(row rowScanner) (domain.Recipe, error) {
	var recipe domain.Recipe
	var body, uparms sql.NullString
	if err := row.Scan(&recipe.ID, &recipe.RunID, &recipe.BaseRecipeID,
		&recipe.ObservationType, &recipe.ObservationClass, &recipe.ObjectName, &body, &uparms,
		&recipe.CreatedAt, &recipe.ModifiedAt,
		&recipe.Base.RecipesModuleID, &recipe.Base.Name, &recipe.Base.FunctionBody, &recipe.Base.IsDefault, &recipe.Base.CreatedAt); err != nil {
		return domain.Recipe{}, handleNotFound(err)
	}
	recipe.FunctionBody = body.String
	recipe.UParms = uparms.String
	recipe.Base.ID = recipe.BaseRecipeID
	recipe.CreatedAt = recipe.CreatedAt.UTC()
	recipe.ModifiedAt = recipe.ModifiedAt.UTC()
	recipe.Base.CreatedAt = recipe.Base.CreatedAt.UTC()
	return recipe, nil
}
