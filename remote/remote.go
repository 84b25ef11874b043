/*
Copyright © 2025 Jayson Grace <jayson.e.grace@gmail.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/

// Package remote runs commands on freshly provisioned instances over SSH.
package remote

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/ssh"
)

// Target is where and as whom to connect.
type Target struct {
	Host   string
	Port   int
	User   string
	Signer ssh.Signer
}

// Address returns host:port.
func (t Target) Address() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

// Executor runs commands on one connected host.
type Executor interface {
	// Run executes cmd and returns its combined output.
	Run(ctx context.Context, cmd string) (string, error)
	Close() error
}

// Dialer opens Executors.
type Dialer interface {
	Dial(ctx context.Context, target Target) (Executor, error)
}

// CommandError is a command that ran and exited non-zero.
type CommandError struct {
	Command string
	Output  string
	Err     error
}

func (e *CommandError) Error() string {
	out := strings.TrimSpace(e.Output)
	if len(out) > 512 {
		out = "..." + out[len(out)-512:]
	}
	return fmt.Sprintf("remote command %q failed: %v: %s", e.Command, e.Err, out)
}

func (e *CommandError) Unwrap() error { return e.Err }

// SSHDialer dials with golang.org/x/crypto/ssh.
type SSHDialer struct {
	// Timeout bounds the TCP connect and the SSH handshake.
	Timeout time.Duration
}

// Dial connects to target and authenticates with its signer.
func (d SSHDialer) Dial(ctx context.Context, target Target) (Executor, error) {
	if target.Signer == nil {
		return nil, errors.New("no ssh signer for target")
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	cfg := &ssh.ClientConfig{
		User: target.User,
		Auth: []ssh.AuthMethod{ssh.PublicKeys(target.Signer)},
		// The instance was created moments ago; its host key cannot be known.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec
		Timeout:         timeout,
	}

	addr := target.Address()
	nd := net.Dialer{Timeout: timeout}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		_ = conn.Close()
		return nil, err
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return &sshExecutor{client: ssh.NewClient(c, chans, reqs)}, nil
}

type sshExecutor struct {
	client *ssh.Client
}

func (e *sshExecutor) Run(ctx context.Context, cmd string) (string, error) {
	session, err := e.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("open ssh session: %w", err)
	}
	defer func() { _ = session.Close() }()

	var out bytes.Buffer
	session.Stdout = &out
	session.Stderr = &out

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return out.String(), context.Cause(ctx)
	case err := <-done:
		if err != nil {
			return out.String(), &CommandError{Command: cmd, Output: out.String(), Err: err}
		}
		return out.String(), nil
	}
}

func (e *sshExecutor) Close() error {
	return e.client.Close()
}

// Probe dials target and runs a no-op command.
func Probe(ctx context.Context, d Dialer, target Target) error {
	exec, err := d.Dial(ctx, target)
	if err != nil {
		return err
	}
	defer func() { _ = exec.Close() }()

	_, err = exec.Run(ctx, "true")
	return err
}

// IsConnectionRefused reports whether err is a refused TCP connection,
// the usual answer from an instance whose sshd has not started yet.
func IsConnectionRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

// KeyPair is an operation-scoped SSH identity.
type KeyPair struct {
	// AuthorizedKey is the public half in authorized_keys format.
	AuthorizedKey string
	Signer        ssh.Signer
}

// GenerateKeyPair creates a fresh ed25519 identity.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("create ssh signer: %w", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("encode ssh public key: %w", err)
	}
	return &KeyPair{
		AuthorizedKey: strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub))),
		Signer:        signer,
	}, nil
}
