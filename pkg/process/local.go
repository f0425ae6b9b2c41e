package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/ubuntu/decorate"
)

// Local runs commands on the local host.
type Local struct {
	sudoPassword string
}

// NewLocal creates a local runner. The sudo password may be empty when sudo
// is never requested or passwordless.
func NewLocal(sudoPassword string) *Local {
	return &Local{sudoPassword: sudoPassword}
}

// Run executes the command and captures its output. Trailing whitespace is
// stripped from stdout and stderr.
func (l *Local) Run(ctx context.Context, command string, opts ...RunOption) (r Result, err error) {
	defer decorate.OnError(&err, "could not run %q", command)

	var options runOptions
	for _, opt := range opts {
		opt(&options)
	}

	var argv []string
	if options.shell {
		argv = []string{"sh", "-c", command}
	} else {
		argv = strings.Fields(command)
	}
	if len(argv) == 0 {
		return Result{}, errors.New("empty command")
	}

	if options.sudo {
		if l.sudoPassword == "" {
			slog.Warn("Sudo used without a password", "command", command)
		}
		argv = append([]string{"sudo", "-S"}, argv...)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = strings.NewReader(stdinFor(options, l.sudoPassword))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("Local process starting", "command", command)
	err = cmd.Run()

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Result{}, err
		}
		exitCode = exitErr.ExitCode()
		slog.Debug("Local process failed", "command", command, "code", exitCode)
	} else {
		slog.Debug("Local process done", "command", command)
	}

	return Result{
		Command:  command,
		ExitCode: exitCode,
		Stdout:   strings.TrimRight(stdout.String(), " \t\r\n"),
		Stderr:   strings.TrimRight(stderr.String(), " \t\r\n"),
	}, nil
}

// Sudo is shorthand for Run with the sudo option.
func (l *Local) Sudo(ctx context.Context, command string, opts ...RunOption) (Result, error) {
	return l.Run(ctx, command, append(opts, WithSudo())...)
}

// stdinFor prefixes the command input with the sudo password when sudo asks
// for one on stdin.
func stdinFor(options runOptions, sudoPassword string) string {
	if !options.sudo || sudoPassword == "" {
		return options.stdin
	}
	return fmt.Sprintf("%s\n%s", sudoPassword, options.stdin)
}
