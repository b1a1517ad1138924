// Package recipes discovers which DRAGONS recipe applies to a file and
// renders its primitive sequence as an editable function body.
package recipes

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/gemini-goats/goats-go/internal/domain"
)

var (
	matchedRecipeRe  = regexp.MustCompile(`Matched recipe:\s*(\S+)`)
	primitivesUsedRe = regexp.MustCompile(`Primitives used:\s*((?:\s*p\.[^\n]+\n)+)`)
)

var ErrNoRecipeMatched = errors.New("no recipe matched")

// Introspection is the result of probing one representative file.
type Introspection struct {
	// FullName is "<module>::<short>".
	FullName     string
	FunctionBody string
}

type Introspector interface {
	Introspect(ctx context.Context, path string) (Introspection, error)
}

// Parse extracts the matched recipe and its primitive list from the free-form
// output of the show-primitives facility.
func Parse(output string) (Introspection, error) {
	if !strings.HasSuffix(output, "\n") {
		output += "\n"
	}

	nameMatch := matchedRecipeRe.FindStringSubmatch(output)
	if nameMatch == nil {
		return Introspection{}, ErrNoRecipeMatched
	}
	fullName := strings.TrimSpace(nameMatch[1])

	primsMatch := primitivesUsedRe.FindStringSubmatch(output)
	if primsMatch == nil {
		return Introspection{}, fmt.Errorf("%w: no primitives listed for %s", ErrNoRecipeMatched, fullName)
	}

	short := domain.RecipeShortName(fullName)
	var b strings.Builder
	fmt.Fprintf(&b, "def %s(p):\n", short)
	for _, line := range strings.Split(primsMatch[1], "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fmt.Fprintf(&b, "    %s\n", line)
	}

	return Introspection{FullName: fullName, FunctionBody: b.String()}, nil
}

// CLIIntrospector runs the DRAGONS show-primitives command against a file.
type CLIIntrospector struct {
	Bin string
}

func NewCLIIntrospector(bin string) (*CLIIntrospector, error) {
	bin = strings.TrimSpace(bin)
	if bin == "" {
		return nil, errors.New("show primitives binary is required")
	}
	return &CLIIntrospector{Bin: bin}, nil
}

func (i *CLIIntrospector) Introspect(ctx context.Context, path string) (Introspection, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Introspection{}, errors.New("file path is required")
	}

	cmd := exec.CommandContext(ctx, i.Bin, path)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return Introspection{}, fmt.Errorf("show primitives failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return Parse(string(out))
}
