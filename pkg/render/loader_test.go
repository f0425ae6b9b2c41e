package render_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/greyhorse-org/greyhorse/pkg/render"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		content string
		format  string

		want    map[string]any
		wantErr bool
	}{
		"YAML document": {
			content: "host: db\nport: 5432\n",
			format:  "yaml",
			want:    map[string]any{"host": "db", "port": 5432},
		},
		"YML alias": {
			content: "host: db\n",
			format:  "yml",
			want:    map[string]any{"host": "db"},
		},
		"TOML document": {
			content: "host = \"db\"\nport = 5432\n",
			format:  "toml",
			want:    map[string]any{"host": "db", "port": int64(5432)},
		},
		"INI document with sections": {
			content: "host = db\n[pool]\nsize = 4\n",
			format:  "ini",
			want:    map[string]any{"host": "db", "pool": map[string]any{"size": "4"}},
		},
		"Unsupported format": {
			content: "whatever",
			format:  "properties",
			wantErr: true,
		},
		"Invalid YAML": {
			content: "host: [unclosed",
			format:  "yaml",
			wantErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, err := render.Decode(tc.content, tc.format)
			if tc.wantErr {
				require.Error(t, err, "Decode should have failed")
				return
			}
			require.NoError(t, err, "Decode should not have failed")
			require.Equal(t, tc.want, got, "unexpected decoded values")
		})
	}
}

func TestLoaderIntoStruct(t *testing.T) {
	t.Parallel()

	type dbConfig struct {
		Host string
		Port int
	}

	dir := writeTemplates(t, map[string]string{
		"db.yaml": "host: {{ .host }}\nport: 5432\n",
	})
	loader := render.NewLoader(render.NewTemplate(dir))

	var got dbConfig
	err := loader.Load(t.Context(), "db.yaml", map[string]any{"host": "db.internal"}, &got)
	require.NoError(t, err, "Load should not have failed")
	require.Equal(t, dbConfig{Host: "db.internal", Port: 5432}, got, "unexpected decoded config")
}

func TestLoaderDefaults(t *testing.T) {
	t.Parallel()

	type dbConfig struct {
		Host string
		Port int
		Name string
	}

	dir := writeTemplates(t, map[string]string{
		"db.yaml": "host: {{ .db.host }}\nport: {{ .db.port }}\nname: {{ .db.name }}\n",
	})
	loader := render.NewLoader(render.NewTemplate(dir), render.WithDefaults(map[string]any{
		"db": map[string]any{
			"host": "localhost",
			"port": 5432,
			"name": "greyhorse",
		},
	}))

	// Call values win, untouched defaults survive, including nested ones.
	var got dbConfig
	err := loader.Load(t.Context(), "db.yaml", map[string]any{
		"db": map[string]any{"host": "db.internal"},
	}, &got)
	require.NoError(t, err, "Load should not have failed")
	require.Equal(t, dbConfig{Host: "db.internal", Port: 5432, Name: "greyhorse"}, got, "unexpected merged config")

	// Defaults alone are enough to render.
	err = loader.Load(t.Context(), "db.yaml", nil, &got)
	require.NoError(t, err, "Load with defaults only should not have failed")
	require.Equal(t, dbConfig{Host: "localhost", Port: 5432, Name: "greyhorse"}, got, "unexpected default config")
}

func TestLoaderIntoMap(t *testing.T) {
	t.Parallel()

	dir := writeTemplates(t, map[string]string{
		"app.toml": "name = \"greyhorse\"\n",
	})
	loader := render.NewLoader(render.NewRaw(dir))

	var got map[string]any
	err := loader.Load(t.Context(), "app.toml", nil, &got)
	require.NoError(t, err, "Load should not have failed")
	require.Equal(t, map[string]any{"name": "greyhorse"}, got, "unexpected decoded values")
}

func TestLoaderMissingTemplate(t *testing.T) {
	t.Parallel()

	loader := render.NewLoader(render.NewRaw(t.TempDir()))

	var got map[string]any
	err := loader.Load(t.Context(), "missing.yaml", nil, &got)
	require.ErrorIs(t, err, render.ErrTemplateNotFound)
}
