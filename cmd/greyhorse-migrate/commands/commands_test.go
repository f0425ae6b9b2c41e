package commands_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/greyhorse-org/greyhorse/cmd/greyhorse-migrate/commands"
)

// runMigrate executes the migration tool with the given arguments and returns
// its output.
func runMigrate(t *testing.T, args ...string) (string, error) {
	t.Helper()

	a, err := commands.New()
	require.NoError(t, err, "Setup: New should not have failed")

	var out bytes.Buffer
	a.SetOut(&out)
	a.SetArgs(args...)
	err = a.Run()
	return out.String(), err
}

// writeMigrations creates a small sqlite migration set and returns its dir.
func writeMigrations(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	scripts := map[string]string{
		"0001_create_kv.up.sql":    "CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT);",
		"0001_create_kv.down.sql":  "DROP TABLE kv;",
		"0002_add_index.up.sql":    "CREATE INDEX kv_v ON kv (v);",
		"0002_add_index.down.sql":  "DROP INDEX kv_v;",
	}
	for name, content := range scripts {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600),
			"Setup: could not write migration %q", name)
	}
	return dir
}

func TestUpDownVersionOnSQLite(t *testing.T) {
	t.Parallel()

	migrations := writeMigrations(t)
	db := filepath.Join(t.TempDir(), "test.db")
	base := []string{"--driver", "sqlite", "--db-name", db, "--migrations", migrations}

	// Apply everything.
	_, err := runMigrate(t, append([]string{"up"}, base...)...)
	require.NoError(t, err, "up should not have failed")

	out, err := runMigrate(t, append([]string{"version"}, base...)...)
	require.NoError(t, err, "version should not have failed")
	require.Contains(t, out, "2 (dirty: false)", "both migrations should be applied")

	// Up with nothing to do is not an error.
	_, err = runMigrate(t, append([]string{"up"}, base...)...)
	require.NoError(t, err, "up with no pending migrations should not fail")

	// Roll back one step.
	_, err = runMigrate(t, append([]string{"down"}, base...)...)
	require.NoError(t, err, "down should not have failed")

	out, err = runMigrate(t, append([]string{"version"}, base...)...)
	require.NoError(t, err, "version should not have failed")
	require.Contains(t, out, "1 (dirty: false)", "one migration should remain")

	// Apply a single step forward again.
	_, err = runMigrate(t, append([]string{"up", "--steps", "1"}, base...)...)
	require.NoError(t, err, "up --steps should not have failed")
}

func TestVersionWithoutMigrations(t *testing.T) {
	t.Parallel()

	migrations := writeMigrations(t)
	db := filepath.Join(t.TempDir(), "fresh.db")

	out, err := runMigrate(t, "version", "--driver", "sqlite", "--db-name", db, "--migrations", migrations)
	require.NoError(t, err, "version should not have failed")
	require.Contains(t, out, "no migrations applied")
}

func TestNewCreatesScriptPair(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "migrations")

	out, err := runMigrate(t, "new", "add_users", "--migrations", dir)
	require.NoError(t, err, "new should not have failed")

	ups, err := filepath.Glob(filepath.Join(dir, "*_add_users.up.sql"))
	require.NoError(t, err)
	require.Len(t, ups, 1, "an up script should be created")

	prefix := strings.TrimSuffix(filepath.Base(ups[0]), "_add_users.up.sql")
	ts, err := strconv.ParseInt(prefix, 10, 64)
	require.NoError(t, err, "the script prefix should be a unix timestamp")
	require.InDelta(t, time.Now().Unix(), ts, 60, "the timestamp should be recent")
	downs, err := filepath.Glob(filepath.Join(dir, "*_add_users.down.sql"))
	require.NoError(t, err)
	require.Len(t, downs, 1, "a down script should be created")

	require.Contains(t, out, ups[0], "the created scripts should be printed")
}

func TestUnknownDriverFails(t *testing.T) {
	t.Parallel()

	_, err := runMigrate(t, "up", "--driver", "mongodb", "--migrations", t.TempDir())
	require.Error(t, err, "an unknown driver should fail")
}

func TestUsageErrorOnUnknownFlag(t *testing.T) {
	t.Parallel()

	a, err := commands.New()
	require.NoError(t, err, "New should not have failed")
	a.SetArgs("--unknown-flag")

	require.Error(t, a.Run(), "an unknown flag should fail")
	require.True(t, a.UsageError(), "an unknown flag should be a usage error")
}
