package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/gemini-goats/goats-go/internal/domain"
)

type recipeView struct {
	ID                 int64     `json:"id"`
	DragonsRun         int64     `json:"dragons_run"`
	Name               string    `json:"name"`
	ShortName          string    `json:"short_name"`
	ObservationType    string    `json:"observation_type"`
	ObservationClass   string    `json:"observation_class"`
	ObjectName         string    `json:"object_name"`
	FunctionDefinition string    `json:"function_definition"`
	UParms             string    `json:"uparms"`
	IsModified         bool      `json:"is_modified"`
	Created            time.Time `json:"created"`
	Modified           time.Time `json:"modified"`
}

func viewRecipe(recipe domain.Recipe) recipeView {
	return recipeView{
		ID:                 recipe.ID,
		DragonsRun:         recipe.RunID,
		Name:               recipe.Base.Name,
		ShortName:          recipe.ShortName(),
		ObservationType:    recipe.ObservationType,
		ObservationClass:   recipe.ObservationClass,
		ObjectName:         recipe.ObjectName,
		FunctionDefinition: recipe.EffectiveBody(),
		UParms:             recipe.UParms,
		IsModified:         strings.TrimSpace(recipe.FunctionBody) != "",
		Created:            recipe.CreatedAt,
		Modified:           recipe.ModifiedAt,
	}
}

func (api *orchestratorAPI) handleListRecipes(w http.ResponseWriter, r *http.Request) {
	runID := parseInt64Query(r, "dragons_run")
	if runID <= 0 {
		api.writeError(w, r, http.StatusBadRequest, "dragons_run_required")
		return
	}
	recipes, err := api.recipes.ListByRun(r.Context(), runID)
	if err != nil {
		api.writeStoreError(w, r, err)
		return
	}
	out := make([]recipeView, 0, len(recipes))
	for _, recipe := range recipes {
		out = append(out, viewRecipe(recipe))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"recipes": out})
}

func (api *orchestratorAPI) handleGetRecipe(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_id")
		return
	}
	recipe, err := api.recipes.Get(r.Context(), id)
	if err != nil {
		api.writeStoreError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, viewRecipe(recipe))
}

type patchRecipeRequest struct {
	FunctionDefinition *string `json:"function_definition"`
	UParms             *string `json:"uparms"`
}

// handlePatchRecipe updates the recipe override or its uparms. A
// whitespace-only function definition resets the override to the base body.
func (api *orchestratorAPI) handlePatchRecipe(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_id")
		return
	}
	var req patchRecipeRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.FunctionDefinition == nil && req.UParms == nil {
		api.writeError(w, r, http.StatusBadRequest, "nothing_to_update")
		return
	}

	var recipe domain.Recipe
	if req.FunctionDefinition != nil {
		body := req.FunctionDefinition
		if strings.TrimSpace(*body) == "" {
			body = nil
		}
		recipe, err = api.recipes.UpdateFunctionBody(r.Context(), id, body)
		if err != nil {
			api.writeStoreError(w, r, err)
			return
		}
	}
	if req.UParms != nil {
		recipe, err = api.recipes.UpdateUParms(r.Context(), id, *req.UParms)
		if err != nil {
			api.writeStoreError(w, r, err)
			return
		}
	}
	api.writeJSON(w, http.StatusOK, viewRecipe(recipe))
}
