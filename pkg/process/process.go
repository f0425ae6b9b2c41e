// Package process runs commands on the local host or over SSH.
package process

import "context"

// Result describes a finished command.
type Result struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}

// Ok reports whether the command exited successfully.
func (r Result) Ok() bool { return r.ExitCode == 0 }

// Runner executes commands and reports their outcome. A non-zero exit code is
// not an error; errors are reserved for commands that could not be run at all.
type Runner interface {
	Run(ctx context.Context, command string, opts ...RunOption) (Result, error)
}

type runOptions struct {
	shell bool
	sudo  bool
	stdin string
}

// RunOption adjusts how a single command is executed.
type RunOption func(*runOptions)

// WithShell runs the command through a shell, enabling pipes and expansions.
func WithShell() RunOption {
	return func(o *runOptions) { o.shell = true }
}

// WithSudo runs the command under sudo, feeding the configured password on
// standard input.
func WithSudo() RunOption {
	return func(o *runOptions) { o.sudo = true }
}

// WithStdin passes input to the command on standard input.
func WithStdin(input string) RunOption {
	return func(o *runOptions) { o.stdin = input }
}
