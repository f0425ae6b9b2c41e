// Package render renders template files and loads rendered configuration
// documents into Go values.
package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrTemplateNotFound is returned when a template cannot be located in any of
// the configured directories.
var ErrTemplateNotFound = errors.New("template not found")

// Renderer produces a document from a template name and its data.
type Renderer interface {
	Render(ctx context.Context, template string, data map[string]any) (string, error)
}

// New returns the renderer registered under the given name, searching
// templates in dirs. An unknown or empty name selects the raw renderer.
func New(name string, dirs ...string) Renderer {
	switch name {
	case "template":
		return NewTemplate(dirs...)
	default:
		return NewRaw(dirs...)
	}
}

// resolve finds the template file in the search directories. Absolute and
// directly reachable paths win over directory lookups.
func resolve(template string, dirs []string) (string, error) {
	candidates := make([]string, 0, len(dirs)+1)
	candidates = append(candidates, template)
	for _, dir := range dirs {
		candidates = append(candidates, filepath.Join(dir, template))
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		return candidate, nil
	}
	return "", fmt.Errorf("%w: %q", ErrTemplateNotFound, template)
}
