package render

import (
	"context"
	"os"

	"github.com/ubuntu/decorate"
)

// Raw returns template files verbatim, without any substitution.
type Raw struct {
	dirs []string
}

// NewRaw creates a raw renderer searching templates in dirs.
func NewRaw(dirs ...string) *Raw {
	return &Raw{dirs: dirs}
}

// Render returns the contents of the template file. The data argument is
// ignored.
func (r *Raw) Render(ctx context.Context, template string, data map[string]any) (out string, err error) {
	defer decorate.OnError(&err, "could not render %q", template)

	path, err := resolve(template, r.dirs)
	if err != nil {
		return "", err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}
