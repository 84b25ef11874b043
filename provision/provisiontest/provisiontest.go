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

// Package provisiontest provides an in-memory cloud for tests of code that
// drives provision.Engine.
package provisiontest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cowdogmoo/foundry/provision"
	"github.com/cowdogmoo/foundry/remote"
)

// Cloud is a fake provision.VolumeProvider. Instances become running after
// RunningAfter describes (never when negative), every other artifact is
// ready at once. Errors set in Fail are returned by the method of that name.
type Cloud struct {
	mu sync.Mutex

	ProviderName string
	Account      string
	Address      string
	RunningAfter int
	// InstanceState, when set, is reported instead of pending/running until
	// the instance is destroyed.
	InstanceState provision.State
	Fail          map[string]error

	// DescribeInstanceFunc replaces the default instance behavior.
	DescribeInstanceFunc func(ctx context.Context, id string) (*provision.Instance, error)

	calls     map[string]int
	trace     []string
	seq       int
	describes map[string]int
	destroyed map[string]bool
	volumes   map[string]provision.State
}

// NewCloud returns a cloud whose instances are running on the first
// describe.
func NewCloud() *Cloud {
	return &Cloud{
		ProviderName: "fake",
		Account:      "123456789012",
		Address:      "203.0.113.10",
	}
}

var _ provision.VolumeProvider = (*Cloud)(nil)

func (c *Cloud) record(method string, arg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[method]++
	c.trace = append(c.trace, method+" "+arg)
	return c.Fail[method]
}

func (c *Cloud) next(prefix string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return fmt.Sprintf("%s-%d", prefix, c.seq)
}

// Calls returns how many times method was called.
func (c *Cloud) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// Trace returns "Method arg" for every call, in order.
func (c *Cloud) Trace() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.trace...)
}

func (c *Cloud) Name() string { return c.ProviderName }

func (c *Cloud) ImportKeyPair(_ context.Context, name, _ string) (string, error) {
	if err := c.record("ImportKeyPair", name); err != nil {
		return "", err
	}
	return name, nil
}

func (c *Cloud) DeleteKeyPair(_ context.Context, id string) error {
	return c.record("DeleteKeyPair", id)
}

func (c *Cloud) CreateFirewall(_ context.Context, name string, port int) (string, error) {
	if err := c.record("CreateFirewall", fmt.Sprintf("%s:%d", name, port)); err != nil {
		return "", err
	}
	return c.next("sg"), nil
}

func (c *Cloud) DeleteFirewall(_ context.Context, id string) error {
	return c.record("DeleteFirewall", id)
}

func (c *Cloud) CreateInstance(_ context.Context, spec provision.InstanceSpec) (string, error) {
	if err := c.record("CreateInstance", spec.BaseImage); err != nil {
		return "", err
	}
	return c.next("i"), nil
}

func (c *Cloud) DescribeInstance(ctx context.Context, id string) (*provision.Instance, error) {
	if err := c.record("DescribeInstance", id); err != nil {
		return nil, err
	}
	if c.DescribeInstanceFunc != nil {
		return c.DescribeInstanceFunc(ctx, id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed[id] {
		return &provision.Instance{ID: id, State: provision.StateTerminated}, nil
	}
	if c.describes == nil {
		c.describes = map[string]int{}
	}
	c.describes[id]++
	if c.InstanceState != "" {
		return &provision.Instance{ID: id, State: c.InstanceState}, nil
	}
	if c.RunningAfter < 0 || c.describes[id] <= c.RunningAfter {
		return &provision.Instance{ID: id, State: provision.StatePending}, nil
	}
	return &provision.Instance{ID: id, State: provision.StateRunning, Address: c.Address, Zone: "zone-a"}, nil
}

func (c *Cloud) DestroyInstance(_ context.Context, id string) error {
	if err := c.record("DestroyInstance", id); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed == nil {
		c.destroyed = map[string]bool{}
	}
	c.destroyed[id] = true
	return nil
}

func (c *Cloud) RegisterImage(_ context.Context, instanceID, _ string) (string, error) {
	if err := c.record("RegisterImage", instanceID); err != nil {
		return "", err
	}
	return c.next("img"), nil
}

func (c *Cloud) DescribeImage(_ context.Context, id string) (provision.State, error) {
	if err := c.record("DescribeImage", id); err != nil {
		return "", err
	}
	return provision.StateAvailable, nil
}

func (c *Cloud) AccountID(context.Context) (string, error) {
	if err := c.record("AccountID", ""); err != nil {
		return "", err
	}
	return c.Account, nil
}

func (c *Cloud) setVolume(id string, s provision.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.volumes == nil {
		c.volumes = map[string]provision.State{}
	}
	c.volumes[id] = s
}

func (c *Cloud) CreateVolume(_ context.Context, spec provision.VolumeSpec) (string, error) {
	if err := c.record("CreateVolume", fmt.Sprintf("%dGiB@%s", spec.SizeGiB, spec.Zone)); err != nil {
		return "", err
	}
	id := c.next("vol")
	c.setVolume(id, provision.StateAvailable)
	return id, nil
}

func (c *Cloud) DescribeVolume(_ context.Context, id string) (provision.State, error) {
	if err := c.record("DescribeVolume", id); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.volumes[id]
	if !ok {
		return "", provision.ErrNotFound
	}
	return s, nil
}

func (c *Cloud) AttachVolume(_ context.Context, volumeID, instanceID, device string) error {
	if err := c.record("AttachVolume", volumeID+"->"+instanceID+":"+device); err != nil {
		return err
	}
	c.setVolume(volumeID, provision.StateInUse)
	return nil
}

func (c *Cloud) DetachVolume(_ context.Context, volumeID string) error {
	if err := c.record("DetachVolume", volumeID); err != nil {
		return err
	}
	c.setVolume(volumeID, provision.StateAvailable)
	return nil
}

func (c *Cloud) DeleteVolume(_ context.Context, id string) error {
	if err := c.record("DeleteVolume", id); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.volumes, id)
	return nil
}

func (c *Cloud) CreateSnapshot(_ context.Context, volumeID, _ string) (string, error) {
	if err := c.record("CreateSnapshot", volumeID); err != nil {
		return "", err
	}
	return c.next("snap"), nil
}

func (c *Cloud) DescribeSnapshot(_ context.Context, id string) (provision.State, error) {
	if err := c.record("DescribeSnapshot", id); err != nil {
		return "", err
	}
	return provision.StateAvailable, nil
}

func (c *Cloud) DeleteSnapshot(_ context.Context, id string) error {
	return c.record("DeleteSnapshot", id)
}

func (c *Cloud) RegisterSnapshotImage(_ context.Context, snapshotID, _ string) (string, error) {
	if err := c.record("RegisterSnapshotImage", snapshotID); err != nil {
		return "", err
	}
	return c.next("img"), nil
}

// BasicProvider exposes only the provision.Provider methods of what it wraps.
type BasicProvider struct{ provision.Provider }

var _ provision.Provider = BasicProvider{}

// Executor is a fake remote.Executor. Outputs maps a command to its output;
// unknown commands succeed with no output.
type Executor struct {
	mu       sync.Mutex
	Outputs  map[string]string
	Fail     map[string]error
	commands []string
	closed   bool
}

var _ remote.Executor = (*Executor)(nil)

func (e *Executor) Run(_ context.Context, cmd string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands = append(e.commands, cmd)
	if err := e.Fail[cmd]; err != nil {
		return "", err
	}
	return e.Outputs[cmd], nil
}

func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Commands returns every command run, in order.
func (e *Executor) Commands() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.commands...)
}

// Dialer hands out Exec. The first FailDials dials fail with DialErr.
type Dialer struct {
	mu        sync.Mutex
	Exec      *Executor
	FailDials int
	DialErr   error
	dials     int
	targets   []remote.Target
}

var _ remote.Dialer = (*Dialer)(nil)

func (d *Dialer) Dial(_ context.Context, target remote.Target) (remote.Executor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.targets = append(d.targets, target)
	if d.dials <= d.FailDials {
		return nil, d.DialErr
	}
	if d.Exec == nil {
		d.Exec = &Executor{}
	}
	return d.Exec, nil
}

// Dials returns how many dials were attempted.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Targets returns every dialed target.
func (d *Dialer) Targets() []remote.Target {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]remote.Target(nil), d.targets...)
}

// Factory opens Provider for every provider name equal to Prefix or
// starting with Prefix + "-". Err, when set, is returned instead.
type Factory struct {
	Prefix   string
	Provider provision.Provider
	Err      error

	mu      sync.Mutex
	opened  []string
	secrets [][]byte
}

var _ provision.Factory = (*Factory)(nil)

func (f *Factory) Handles(provider string) bool {
	return provider == f.Prefix || strings.HasPrefix(provider, f.Prefix+"-")
}

func (f *Factory) New(_ context.Context, provider string, credentials []byte) (provision.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, provider)
	f.secrets = append(f.secrets, credentials)
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Provider, nil
}

// Opened returns every provider name passed to New, in order.
func (f *Factory) Opened() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...)
}

// Credentials returns every credentials blob passed to New, in order.
func (f *Factory) Credentials() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.secrets...)
}
