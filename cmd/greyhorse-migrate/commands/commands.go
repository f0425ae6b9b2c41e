// Package commands provides the greyhorse schema migration command line tool.
package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"  // MySQL driver for golang-migrate
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // PGX driver for golang-migrate
	_ "github.com/golang-migrate/migrate/v4/database/sqlite" // SQLite driver for golang-migrate
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/greyhorse-org/greyhorse/internal/cli"
	"github.com/greyhorse-org/greyhorse/internal/constants"
	"github.com/greyhorse-org/greyhorse/pkg/storage/mysql"
	"github.com/greyhorse-org/greyhorse/pkg/storage/postgres"
	"github.com/greyhorse-org/greyhorse/pkg/storage/sqlite"
)

// App represents the application.
type App struct {
	cmd    *cobra.Command
	viper  *viper.Viper
	config appConfig
}

// appConfig holds the configuration for the application.
type appConfig struct {
	Verbosity int
	JSONLogs  bool

	MigrationsDir string
	Driver        string

	// Connection settings. DatabaseURL wins over the individual fields.
	DatabaseURL string
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string

	ConfigPath string
}

// New creates a new App instance with default values.
func New() (*App, error) {
	a := App{}

	a.cmd = &cobra.Command{
		Use:           constants.MigrateCmdName,
		Short:         "Greyhorse schema migration tool",
		Long:          "Greyhorse schema migration tool applies versioned SQL migrations to PostgreSQL, MySQL and SQLite databases.",
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Command parsing has been successful. Returns to not print usage anymore.
			a.cmd.SilenceUsage = true
			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs) // Set verbosity before loading config
			if err := cli.InitViperConfig(constants.MigrateCmdName, a.cmd, a.viper); err != nil {
				return err
			}
			if err := a.viper.Unmarshal(&a.config); err != nil {
				return fmt.Errorf("unable to strictly decode configuration into struct: %w", err)
			}

			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs) // Update logging after loading config if necessary
			return nil
		},
	}
	a.viper = viper.New()
	a.cmd.CompletionOptions.HiddenDefaultCmd = true

	installRootFlags(&a)
	cli.InstallConfigFlag(a.cmd)

	if err := a.viper.BindPFlags(a.cmd.PersistentFlags()); err != nil {
		return nil, err
	}

	a.installUp()
	a.installDown()
	a.installNew()
	a.installVersion()

	return &a, nil
}

func installRootFlags(app *App) {
	cmd := app.cmd

	cmd.PersistentFlags().CountVarP(&app.config.Verbosity, "verbose", "v", "issue INFO (-v), DEBUG (-vv)")
	cmd.PersistentFlags().BoolVar(&app.config.JSONLogs, "json-logs", false, "enable JSON formatted logs")

	cmd.PersistentFlags().StringVarP(&app.config.MigrationsDir, "migrations", "m", "migrations", "directory holding the migration scripts")
	cmd.PersistentFlags().StringVarP(&app.config.Driver, "driver", "d", "postgres", "database driver: postgres, mysql or sqlite")

	cmd.PersistentFlags().StringVar(&app.config.DatabaseURL, "database-url", "", "full database URL, overrides the individual connection flags")
	cmd.PersistentFlags().StringVar(&app.config.Host, "db-host", "", "database host")
	cmd.PersistentFlags().IntVarP(&app.config.Port, "db-port", "p", 0, "database port")
	cmd.PersistentFlags().StringVarP(&app.config.User, "db-user", "u", "", "database user")
	cmd.PersistentFlags().StringVarP(&app.config.Password, "db-password", "P", "", "database password")
	cmd.PersistentFlags().StringVarP(&app.config.Database, "db-name", "n", "", "database name, or file path for sqlite")
	cmd.PersistentFlags().StringVarP(&app.config.SSLMode, "db-sslmode", "s", "", "database SSL mode")

	if err := cmd.MarkPersistentFlagDirname("migrations"); err != nil {
		panic(fmt.Sprintf("failed to mark migrations flag as directory: %v", err))
	}
}

// Run executes the command and associated process, returning an error if any.
func (a App) Run() error {
	return a.cmd.Execute()
}

// UsageError returns if the error is a command parsing or runtime one.
func (a App) UsageError() bool {
	return !a.cmd.SilenceUsage
}

// databaseURL assembles the migration URL for the configured driver.
func (a App) databaseURL() (string, error) {
	if a.config.DatabaseURL != "" {
		return a.config.DatabaseURL, nil
	}

	switch a.config.Driver {
	case "postgres":
		uri, err := postgres.Config{
			Host: a.config.Host, Port: a.config.Port,
			User: a.config.User, Password: a.config.Password,
			Database: a.config.Database, SSLMode: a.config.SSLMode,
		}.URI()
		if err != nil {
			return "", err
		}
		// golang-migrate selects the pgx driver from the URL scheme.
		return "pgx5" + uri[len("postgres"):], nil
	case "mysql":
		dsn, err := mysql.Config{
			Host: a.config.Host, Port: a.config.Port,
			User: a.config.User, Password: a.config.Password,
			Database: a.config.Database,
		}.URI()
		if err != nil {
			return "", err
		}
		return "mysql://" + dsn, nil
	case "sqlite":
		cfg := sqlite.Config{Path: a.config.Database}.WithDefaults()
		return "sqlite://" + cfg.Path, nil
	default:
		return "", fmt.Errorf("unknown driver %q", a.config.Driver)
	}
}

// open creates the migrate instance for the configured source and database.
func (a App) open() (*migrate.Migrate, error) {
	url, err := a.databaseURL()
	if err != nil {
		return nil, err
	}

	m, err := migrate.New(fmt.Sprintf("file://%s", a.config.MigrationsDir), url)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration instance: %v", err)
	}
	return m, nil
}

func closeMigrate(m *migrate.Migrate) {
	if sErr, dbErr := m.Close(); sErr != nil || dbErr != nil {
		if sErr != nil {
			slog.Error("failed to close migration source", "error", sErr)
		}
		if dbErr != nil {
			slog.Error("failed to close database connection", "error", dbErr)
		}
	}
}

func (a *App) installUp() {
	var steps int
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.open()
			if err != nil {
				return err
			}
			defer closeMigrate(m)

			if steps > 0 {
				err = m.Steps(steps)
			} else {
				err = m.Up()
			}
			if errors.Is(err, migrate.ErrNoChange) {
				slog.Info("No new migrations to apply")
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to apply migrations: %v", err)
			}
			slog.Info("Migrations applied successfully")
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "number of migrations to apply, all pending when 0")
	a.cmd.AddCommand(cmd)
}

func (a *App) installDown() {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.open()
			if err != nil {
				return err
			}
			defer closeMigrate(m)

			err = m.Steps(-steps)
			if errors.Is(err, migrate.ErrNoChange) {
				slog.Info("No migrations to roll back")
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to roll back migrations: %v", err)
			}
			slog.Info("Migrations rolled back successfully")
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	a.cmd.AddCommand(cmd)
}

func (a *App) installNew() {
	cmd := &cobra.Command{
		Use:   "new NAME",
		Short: "Create a new pair of timestamped migration scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(a.config.MigrationsDir, 0o750); err != nil {
				return fmt.Errorf("failed to create migrations directory: %v", err)
			}

			version := strconv.FormatInt(time.Now().Unix(), 10)
			for _, direction := range []string{"up", "down"} {
				name := fmt.Sprintf("%s_%s.%s.sql", version, args[0], direction)
				path := filepath.Join(a.config.MigrationsDir, name)
				if err := os.WriteFile(path, nil, 0o640); err != nil {
					return fmt.Errorf("failed to create migration script: %v", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}
	a.cmd.AddCommand(cmd)
}

func (a *App) installVersion() {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.open()
			if err != nil {
				return err
			}
			defer closeMigrate(m)

			version, dirty, err := m.Version()
			if errors.Is(err, migrate.ErrNilVersion) {
				fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to read schema version: %v", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d (dirty: %t)\n", version, dirty)
			return nil
		},
	}
	a.cmd.AddCommand(cmd)
}
