package domain

import (
	"errors"
	"strings"
	"time"
)

// RecipesModule identifies one recipe library module for an instrument at a
// specific pipeline version. Unique on (name, version, instrument).
type RecipesModule struct {
	ID         int64
	Name       string
	Version    string
	Instrument string
	CreatedAt  time.Time
}

func (m RecipesModule) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return errors.New("module name is required")
	}
	if strings.TrimSpace(m.Version) == "" {
		return errors.New("module version is required")
	}
	return nil
}

// BaseRecipe is a default recipe discovered by introspecting the pipeline
// library. Name carries the full "<module>::<short>" form. Unique on
// (recipes_module, name).
type BaseRecipe struct {
	ID              int64
	RecipesModuleID int64
	Name            string
	FunctionBody    string
	IsDefault       bool
	CreatedAt       time.Time
}

func (b BaseRecipe) Validate() error {
	if b.RecipesModuleID <= 0 {
		return errors.New("recipes module id is required")
	}
	if strings.TrimSpace(b.Name) == "" {
		return errors.New("base recipe name is required")
	}
	if strings.TrimSpace(b.FunctionBody) == "" {
		return errors.New("function body is required")
	}
	return nil
}

// ShortName is the suffix after "::" in the full recipe name.
func (b BaseRecipe) ShortName() string {
	return RecipeShortName(b.Name)
}

func RecipeShortName(full string) string {
	if idx := strings.LastIndex(full, "::"); idx >= 0 {
		return full[idx+2:]
	}
	return full
}

// Recipe is the per-run editable view over a BaseRecipe, one per distinct
// (observation_type, observation_class, object_name) among the run's enabled
// files. FunctionBody, when set, overrides the base body.
type Recipe struct {
	ID               int64
	RunID            int64
	BaseRecipeID     int64
	ObservationType  string
	ObservationClass string
	ObjectName       string
	FunctionBody     string
	UParms           string
	CreatedAt        time.Time
	ModifiedAt       time.Time

	// Base is the resolved base recipe; repositories populate it on read.
	Base BaseRecipe
}

func (r Recipe) Validate() error {
	if r.RunID <= 0 {
		return errors.New("run id is required")
	}
	if r.BaseRecipeID <= 0 {
		return errors.New("base recipe id is required")
	}
	return nil
}

// EffectiveBody returns the user override when non-empty after trimming,
// otherwise the base recipe body.
func (r Recipe) EffectiveBody() string {
	if strings.TrimSpace(r.FunctionBody) != "" {
		return r.FunctionBody
	}
	return r.Base.FunctionBody
}

func (r Recipe) ShortName() string {
	return r.Base.ShortName()
}
