// Package router provides the remote command channel to OpenWRT devices and
// the per-router execution locks that keep UCI mutations serialized.
package router

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"golang.org/x/crypto/ssh"
)

// CommandResult is the outcome of one remote command.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Channel runs commands on one router. Implementations are not safe for
// concurrent use; the executor serializes access per router anyway.
type Channel interface {
	Run(ctx context.Context, command string) (*CommandResult, error)
	Close() error
}

// Dialer opens a Channel to a router address.
type Dialer interface {
	Dial(ctx context.Context, address string) (Channel, error)
}

// SSHDialer dials routers over SSH with key-based auth. Key trust is
// assumed pre-established per the deployment model, so host keys are not
// verified against a known_hosts file here.
type SSHDialer struct {
	user   string
	port   int
	signer ssh.Signer
}

// NewSSHDialer loads the private key and prepares a dialer.
func NewSSHDialer(user, keyPath string, port int) (*SSHDialer, error) {
	if keyPath == "" {
		return nil, errors.New("ssh key path is required")
	}
	keyBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ssh key: %w", err)
	}
	if user == "" {
		user = "root"
	}
	if port <= 0 {
		port = 22
	}
	return &SSHDialer{user: user, port: port, signer: signer}, nil
}

func (d *SSHDialer) Dial(ctx context.Context, address string) (Channel, error) {
	cfg := &ssh.ClientConfig{
		User:            d.user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(d.signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
	addr := net.JoinHostPort(address, strconv.Itoa(d.port))
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial router %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}

	return &sshChannel{client: ssh.NewClient(sshConn, chans, reqs)}, nil
}

type sshChannel struct {
	client *ssh.Client
}

// Run executes one command in a fresh session. The context deadline bounds
// the whole command; once a command has been dispatched it cannot be safely
// cancelled mid-flight, so a timeout tears the session down and reports an
// error for the caller's rollback path.
func (c *sshChannel) Run(ctx context.Context, command string) (*CommandResult, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		session.Close()
		<-done
		return nil, fmt.Errorf("command timed out: %w", ctx.Err())
	case err := <-done:
		result := &CommandResult{
			Stdout: stdout.String(),
			Stderr: stderr.String(),
		}
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				result.ExitCode = exitErr.ExitStatus()
				return result, nil
			}
			return nil, fmt.Errorf("remote command failed: %w", err)
		}
		return result, nil
	}
}

func (c *sshChannel) Close() error {
	return c.client.Close()
}
