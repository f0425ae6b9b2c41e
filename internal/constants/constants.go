// Package constants is responsible for defining the constants shared by the greyhorse binaries.
package constants

import "log/slog"

const (
	// Version is the version of the application.
	Version = "Dev"

	// AgentCmdName is the name of the health agent command line tool.
	AgentCmdName = "greyhorse-agent"

	// MigrateCmdName is the name of the migration command line tool.
	MigrateCmdName = "greyhorse-migrate"

	// DefaultLogLevel is the default log level selected without any verbosity flags.
	DefaultLogLevel = slog.LevelWarn

	// DefaultMetricsPort is the default port for the Prometheus metrics endpoint.
	DefaultMetricsPort = 2113
)
