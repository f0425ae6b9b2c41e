package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ubuntu/decorate"
	"golang.org/x/crypto/ssh"
)

// SSHConfig holds the configuration for connecting to a remote host.
type SSHConfig struct {
	Host     string
	Port     int
	User     string
	Password string

	// KeyPath points to a PEM encoded private key. When set, key auth is
	// attempted before password auth.
	KeyPath string

	SudoPassword   string
	ConnectTimeout time.Duration
}

// WithDefaults returns a copy of the configuration with unset fields replaced
// by their defaults.
func (c SSHConfig) WithDefaults() SSHConfig {
	if c.Port == 0 {
		c.Port = 22
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	return c
}

// Addr returns the host:port endpoint of the remote.
func (c SSHConfig) Addr() string {
	c = c.WithDefaults()
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SSHRunner runs commands on a remote host over SSH. The connection is
// established lazily on first use and reused across calls.
type SSHRunner struct {
	cfg SSHConfig

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSH creates a runner for the given remote. No connection is made until
// the first Run call.
func NewSSH(cfg SSHConfig) *SSHRunner {
	return &SSHRunner{cfg: cfg.WithDefaults()}
}

func (s *SSHRunner) connect() (c *ssh.Client, err error) {
	defer decorate.OnError(&err, "could not connect to %s", s.cfg.Addr())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}

	var auth []ssh.AuthMethod
	if s.cfg.KeyPath != "" {
		key, err := os.ReadFile(s.cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if s.cfg.Password != "" {
		auth = append(auth, ssh.Password(s.cfg.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("no authentication method configured")
	}

	client, err := ssh.Dial("tcp", s.cfg.Addr(), &ssh.ClientConfig{
		User:            s.cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         s.cfg.ConnectTimeout,
	})
	if err != nil {
		return nil, err
	}

	s.client = client
	slog.Debug("SSH connection established", "server", s.serverString())
	return client, nil
}

// Run executes the command on the remote host. The remote shell interprets the
// command line, so WithShell is implied.
func (s *SSHRunner) Run(ctx context.Context, command string, opts ...RunOption) (r Result, err error) {
	defer decorate.OnError(&err, "could not run %q on %s", command, s.cfg.Addr())

	var options runOptions
	for _, opt := range opts {
		opt(&options)
	}

	client, err := s.connect()
	if err != nil {
		return Result{}, err
	}

	session, err := client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	remote := command
	if options.sudo {
		if s.cfg.SudoPassword == "" {
			slog.Warn("Sudo used without a password", "command", command, "server", s.serverString())
		}
		// sudo reads the password from the terminal unless one is allocated.
		if err := session.RequestPty("term", 40, 80, ssh.TerminalModes{ssh.ECHO: 0}); err != nil {
			return Result{}, fmt.Errorf("failed to request pty: %w", err)
		}
		remote = "sudo -S " + command
	}

	session.Stdin = strings.NewReader(stdinFor(options, s.cfg.SudoPassword))

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	type done struct{ err error }
	wait := make(chan done, 1)
	slog.Debug("SSH process starting", "command", command, "server", s.serverString())
	go func() { wait <- done{session.Run(remote)} }()

	select {
	case <-ctx.Done():
		session.Close()
		return Result{}, ctx.Err()
	case d := <-wait:
		err = d.err
	}

	exitCode := 0
	if err != nil {
		var exitErr *ssh.ExitError
		if !errors.As(err, &exitErr) {
			return Result{}, err
		}
		exitCode = exitErr.ExitStatus()
		slog.Debug("SSH process failed", "command", command, "server", s.serverString(), "code", exitCode)
	} else {
		slog.Debug("SSH process done", "command", command, "server", s.serverString())
	}

	return Result{
		Command:  command,
		ExitCode: exitCode,
		Stdout:   strings.TrimRight(stdout.String(), " \t\r\n"),
		Stderr:   strings.TrimRight(stderr.String(), " \t\r\n"),
	}, nil
}

// Sudo is shorthand for Run with the sudo option.
func (s *SSHRunner) Sudo(ctx context.Context, command string, opts ...RunOption) (Result, error) {
	return s.Run(ctx, command, append(opts, WithSudo())...)
}

// Close tears down the connection to the remote host.
func (s *SSHRunner) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func (s *SSHRunner) serverString() string {
	return fmt.Sprintf("%s@%s", s.cfg.User, s.cfg.Addr())
}
