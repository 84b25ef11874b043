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

package remote_test

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/cowdogmoo/foundry/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

type MockExecutor struct {
	RunFunc func(ctx context.Context, cmd string) (string, error)
	closed  bool
}

func (m *MockExecutor) Run(ctx context.Context, cmd string) (string, error) {
	if m.RunFunc != nil {
		return m.RunFunc(ctx, cmd)
	}
	return "", nil
}

func (m *MockExecutor) Close() error {
	m.closed = true
	return nil
}

type MockDialer struct {
	DialFunc func(ctx context.Context, target remote.Target) (remote.Executor, error)
}

func (m *MockDialer) Dial(ctx context.Context, target remote.Target) (remote.Executor, error) {
	return m.DialFunc(ctx, target)
}

var (
	_ remote.Executor = (*MockExecutor)(nil)
	_ remote.Dialer   = (*MockDialer)(nil)
)

func TestGenerateKeyPair(t *testing.T) {
	t.Parallel()

	a, err := remote.GenerateKeyPair()
	require.NoError(t, err)
	b, err := remote.GenerateKeyPair()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a.AuthorizedKey, "ssh-ed25519 "))
	assert.NotEqual(t, a.AuthorizedKey, b.AuthorizedKey)

	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(a.AuthorizedKey))
	require.NoError(t, err)
	assert.Equal(t, pub.Marshal(), a.Signer.PublicKey().Marshal())
}

func TestProbe(t *testing.T) {
	t.Parallel()

	exec := &MockExecutor{}
	var gotCmd string
	exec.RunFunc = func(_ context.Context, cmd string) (string, error) {
		gotCmd = cmd
		return "", nil
	}
	d := &MockDialer{DialFunc: func(_ context.Context, target remote.Target) (remote.Executor, error) {
		assert.Equal(t, "10.0.0.5:22", target.Address())
		return exec, nil
	}}

	require.NoError(t, remote.Probe(context.Background(), d, remote.Target{Host: "10.0.0.5", User: "fedora"}))
	assert.Equal(t, "true", gotCmd)
	assert.True(t, exec.closed)
}

func TestProbe_DialError(t *testing.T) {
	t.Parallel()

	refused := &net.OpError{Op: "dial", Err: errors.New("connect: connection refused")}
	d := &MockDialer{DialFunc: func(context.Context, remote.Target) (remote.Executor, error) {
		return nil, refused
	}}

	assert.ErrorIs(t, remote.Probe(context.Background(), d, remote.Target{Host: "h"}), refused)
}

func TestSSHDialer_ConnectionRefused(t *testing.T) {
	t.Parallel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	kp, err := remote.GenerateKeyPair()
	require.NoError(t, err)

	_, err = remote.SSHDialer{Timeout: time.Second}.Dial(context.Background(),
		remote.Target{Host: "127.0.0.1", Port: port, User: "root", Signer: kp.Signer})
	require.Error(t, err)
	assert.True(t, remote.IsConnectionRefused(err))
}

func TestSSHDialer_RequiresSigner(t *testing.T) {
	t.Parallel()

	_, err := remote.SSHDialer{}.Dial(context.Background(), remote.Target{Host: "127.0.0.1"})
	require.Error(t, err)
	assert.False(t, remote.IsConnectionRefused(err))
}

func TestCommandError(t *testing.T) {
	t.Parallel()

	base := errors.New("Process exited with status 1")
	err := &remote.CommandError{Command: "dnf -y install httpd", Output: "  No match for argument: httpd\n", Err: base}

	assert.ErrorIs(t, err, base)
	assert.Equal(t, `remote command "dnf -y install httpd" failed: Process exited with status 1: No match for argument: httpd`, err.Error())
}
