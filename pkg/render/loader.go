package render

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-viper/mapstructure/v2"
	"github.com/ubuntu/decorate"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// Loader renders configuration templates and decodes the result into Go
// values. The document format is picked from the template file extension.
type Loader struct {
	renderer Renderer
	defaults map[string]any
}

// LoaderOption represents an optional function to override Loader defaults.
type LoaderOption func(*Loader)

// WithDefaults sets default template values, merged under the values of each
// Load call.
func WithDefaults(values map[string]any) LoaderOption {
	return func(l *Loader) {
		l.defaults = values
	}
}

// NewLoader creates a loader on top of the given renderer.
func NewLoader(renderer Renderer, args ...LoaderOption) *Loader {
	l := &Loader{renderer: renderer}
	for _, opt := range args {
		opt(l)
	}
	return l
}

// Load renders the template with data and decodes the document into target,
// which can be a struct pointer or a *map[string]any. The loader defaults are
// deep-merged under data, with the call values winning on conflicts.
func (l *Loader) Load(ctx context.Context, template string, data map[string]any, target any) (err error) {
	defer decorate.OnError(&err, "could not load %q", template)

	doc, err := l.renderer.Render(ctx, template, deepMerge(l.defaults, data))
	if err != nil {
		return err
	}

	values, err := Decode(doc, strings.TrimPrefix(filepath.Ext(template), "."))
	if err != nil {
		return err
	}

	return mapstructure.Decode(values, target)
}

// deepMerge copies base and lays overlay on top, merging nested string maps
// recursively. Overlay values win on conflicts.
func deepMerge(base, overlay map[string]any) map[string]any {
	if len(base) == 0 {
		return overlay
	}

	merged := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		over, okOver := v.(map[string]any)
		under, okUnder := merged[k].(map[string]any)
		if okOver && okUnder {
			merged[k] = deepMerge(under, over)
			continue
		}
		merged[k] = v
	}
	return merged
}

// Decode parses a configuration document in the given format, one of yaml,
// yml, toml or ini.
func Decode(content, format string) (map[string]any, error) {
	values := make(map[string]any)

	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.Unmarshal([]byte(content), &values); err != nil {
			return nil, fmt.Errorf("invalid YAML document: %w", err)
		}
	case "toml":
		if err := toml.Unmarshal([]byte(content), &values); err != nil {
			return nil, fmt.Errorf("invalid TOML document: %w", err)
		}
	case "ini":
		cfg, err := ini.Load([]byte(content))
		if err != nil {
			return nil, fmt.Errorf("invalid INI document: %w", err)
		}
		for _, section := range cfg.Sections() {
			keys := make(map[string]any, len(section.Keys()))
			for _, key := range section.Keys() {
				keys[key.Name()] = key.Value()
			}
			if section.Name() == ini.DefaultSection {
				for k, v := range keys {
					values[k] = v
				}
				continue
			}
			values[section.Name()] = keys
		}
	default:
		return nil, fmt.Errorf("unsupported document format %q", format)
	}

	return values, nil
}
