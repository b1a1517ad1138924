package domain

import "testing"

func TestRecipeShortName(t *testing.T) {
	tests := []struct {
		name string
		full string
		want string
	}{
		{name: "module qualified", full: "geminidr.gmos.recipes.sq.recipes_BIAS::makeProcessedBias", want: "makeProcessedBias"},
		{name: "no separator", full: "reduceScience", want: "reduceScience"},
		{name: "multiple separators", full: "a::b::c", want: "c"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := RecipeShortName(tc.full); got != tc.want {
				t.Fatalf("RecipeShortName(%q) = %q, want %q", tc.full, got, tc.want)
			}
		})
	}
}

func TestRecipeEffectiveBody(t *testing.T) {
	base := BaseRecipe{
		ID:              1,
		RecipesModuleID: 1,
		Name:            "geminidr.gmos.recipes.sq.recipes_BIAS::makeProcessedBias",
		FunctionBody:    "def makeProcessedBias(p):\n    p.prepare()\n",
		IsDefault:       true,
	}

	recipe := Recipe{RunID: 1, BaseRecipeID: 1, Base: base}
	if got := recipe.EffectiveBody(); got != base.FunctionBody {
		t.Fatalf("expected base body, got %q", got)
	}

	recipe.FunctionBody = "def makeProcessedBias(p):\n    p.prepare()\n    p.stackBiases()\n"
	if got := recipe.EffectiveBody(); got != recipe.FunctionBody {
		t.Fatalf("expected override body, got %q", got)
	}

	recipe.FunctionBody = "   \n\t  "
	if got := recipe.EffectiveBody(); got != base.FunctionBody {
		t.Fatalf("whitespace override should fall back to base, got %q", got)
	}
}
