package reduce

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNoRecipeDefined = errors.New("No recipe was defined in the provided recipe.")
	ErrBadUParms       = errors.New("Failed to parse provided uparms.")
)

var topLevelDefRe = regexp.MustCompile(`(?m)^def\s+([A-Za-z_]\w*)\s*\(`)

// recipeUnit is a materialized recipe body: a uniquely named file the reduce
// command imports, so concurrent reductions never collide.
type recipeUnit struct {
	dir      string
	path     string
	module   string
	function string
}

// recipeName is the "<module>.<function>" form passed to the reduce command.
func (u recipeUnit) recipeName() string {
	return u.module + "." + u.function
}

func (u recipeUnit) cleanup() {
	if u.dir != "" {
		_ = os.RemoveAll(u.dir)
	}
}

// materializeRecipe writes body into a fresh module under dir. Exactly one
// top-level callable must be defined.
func materializeRecipe(dir, body string) (recipeUnit, error) {
	defs := topLevelDefRe.FindAllStringSubmatch(body, -1)
	if len(defs) != 1 {
		return recipeUnit{}, ErrNoRecipeDefined
	}
	function := defs[0][1]

	module := "recipe_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	unitDir := filepath.Join(dir, module)
	if err := os.MkdirAll(unitDir, 0o755); err != nil {
		return recipeUnit{}, fmt.Errorf("create recipe dir: %w", err)
	}

	path := filepath.Join(unitDir, module+".py")
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		_ = os.RemoveAll(unitDir)
		return recipeUnit{}, fmt.Errorf("write recipe: %w", err)
	}

	return recipeUnit{dir: unitDir, path: path, module: module, function: function}, nil
}

// parseUParms turns the stored uparms text into name=value pairs for the
// reduce command. Accepted shapes: "a=1, b=2" or one pair per line. Blank
// input means no parameters.
func parseUParms(text string) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	var pairs []string
	for _, chunk := range strings.FieldsFunc(text, func(r rune) bool { return r == ',' || r == '\n' }) {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		name, value, ok := strings.Cut(chunk, "=")
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if !ok || name == "" || value == "" || strings.ContainsAny(name, " \t") {
			return nil, ErrBadUParms
		}
		pairs = append(pairs, name+"="+value)
	}
	if len(pairs) == 0 {
		return nil, ErrBadUParms
	}
	return pairs, nil
}
