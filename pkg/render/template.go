package render

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/ubuntu/decorate"
	"gopkg.in/yaml.v3"
)

// Template renders text/template files with the sprig function library.
// Referencing a missing key is an error rather than silent empty output.
type Template struct {
	dirs []string
}

// NewTemplate creates a template renderer searching templates in dirs.
func NewTemplate(dirs ...string) *Template {
	return &Template{dirs: dirs}
}

// Render parses and executes the template file with the given data.
func (t *Template) Render(ctx context.Context, name string, data map[string]any) (out string, err error) {
	defer decorate.OnError(&err, "could not render %q", name)

	path, err := resolve(name, t.dirs)
	if err != nil {
		return "", err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	tmpl, err := template.New(filepath.Base(path)).
		Option("missingkey=error").
		Funcs(sprig.TxtFuncMap()).
		Funcs(t.funcs()).
		Parse(string(content))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (t *Template) funcs() template.FuncMap {
	return template.FuncMap{
		"toYaml":     toYaml,
		"readBinary": t.readBinary,
	}
}

// toYaml marshals a value to YAML, indenting every line by indent spaces.
func toYaml(indent int, v any) (string, error) {
	raw, err := yaml.Marshal(v)
	if err != nil {
		return "", err
	}

	prefix := strings.Repeat(" ", indent)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n"), nil
}

// readBinary returns the base64 encoded contents of a file found in the
// template directories, or an empty string when no directory holds it.
func (t *Template) readBinary(path string) string {
	for _, dir := range t.dirs {
		content, err := os.ReadFile(filepath.Join(dir, path))
		if err != nil {
			continue
		}
		return base64.StdEncoding.EncodeToString(content)
	}
	return ""
}
