package nso

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// CLIRunner executes commands against NSO's SSH CLI. Compliance report
// definitions and templates are only reachable through the CLI northbound,
// not RESTCONF.
type CLIRunner interface {
	// ExecuteRead runs a single operational or show command.
	ExecuteRead(ctx context.Context, command string) (string, error)
	// ExecuteConfig enters configuration mode, applies the commands, and
	// commits. With dryRun the commit is previewed and then aborted.
	ExecuteConfig(ctx context.Context, commands []string, dryRun bool) (string, error)
}

// CLIConfig holds NSO CLI (SSH) connection settings.
type CLIConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SSHRunner runs NSO CLI commands over SSH. A fresh session is opened per
// command batch; NSO CLI sessions are cheap and this keeps the runner
// stateless.
type SSHRunner struct {
	cfg CLIConfig
}

// NewSSHRunner creates a CLI runner for cfg.
func NewSSHRunner(cfg CLIConfig) *SSHRunner {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SSHRunner{cfg: cfg}
}

func (r *SSHRunner) dial(ctx context.Context) (*ssh.Client, error) {
	addr := net.JoinHostPort(r.cfg.Host, fmt.Sprintf("%d", r.cfg.Port))
	conf := &ssh.ClientConfig{
		User:            r.cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(r.cfg.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // lab NSO, keys rotate on rebuild
		Timeout:         r.cfg.Timeout,
	}

	d := net.Dialer{Timeout: r.cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing NSO CLI %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, conf)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("NSO CLI handshake: %w", err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (r *SSHRunner) run(ctx context.Context, script string) (string, error) {
	client, err := r.dial(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("opening CLI session: %w", err)
	}
	defer session.Close()

	var out bytes.Buffer
	session.Stdout = &out
	session.Stderr = &out
	session.Stdin = strings.NewReader(script)

	done := make(chan error, 1)
	if err := session.Shell(); err != nil {
		return "", fmt.Errorf("starting CLI shell: %w", err)
	}
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		session.Close()
		return out.String(), ctx.Err()
	case err := <-done:
		if err != nil {
			// NSO CLI exits nonzero on syntax errors but still writes
			// the diagnostic to the session output.
			return out.String(), fmt.Errorf("CLI command failed: %w", err)
		}
		return out.String(), nil
	}
}

// ExecuteRead runs one operational command and returns its output.
func (r *SSHRunner) ExecuteRead(ctx context.Context, command string) (string, error) {
	return r.run(ctx, command+"\nexit\n")
}

// ExecuteConfig applies configuration commands and commits.
func (r *SSHRunner) ExecuteConfig(ctx context.Context, commands []string, dryRun bool) (string, error) {
	var script strings.Builder
	script.WriteString("configure\n")
	for _, cmd := range commands {
		script.WriteString(cmd)
		script.WriteString("\n")
	}
	if dryRun {
		script.WriteString("commit dry-run\n")
		script.WriteString("rollback\n")
	} else {
		script.WriteString("commit\n")
	}
	script.WriteString("exit\nexit\n")
	return r.run(ctx, script.String())
}
