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

package openstack

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cowdogmoo/foundry/provision"
	"github.com/cowdogmoo/foundry/sharedconn"
)

// Options configures a Provider.
type Options struct {
	Name    string
	Flavor  string
	Network string
	SSHCIDR string
}

// Provider drives one OpenStack cloud. Every method opens its own session
// through the shared scope.
type Provider struct {
	scoped *sharedconn.Scoped[Client]
	opts   Options

	mu      sync.Mutex
	account string
}

var _ provision.Provider = (*Provider)(nil)

// NewProvider creates a provider whose sessions are opened by open and
// serialized by lock.
func NewProvider(lock *sharedconn.Lock, open func(ctx context.Context) (Client, error), opts Options) *Provider {
	if opts.SSHCIDR == "" {
		opts.SSHCIDR = "0.0.0.0/0"
	}
	return &Provider{
		scoped: sharedconn.NewScoped(lock, open, func(c Client) error { return c.Close() }),
		opts:   opts,
	}
}

func (p *Provider) Name() string { return p.opts.Name }

func (p *Provider) ImportKeyPair(ctx context.Context, name, authorizedKey string) (string, error) {
	err := p.scoped.Do(ctx, func(ctx context.Context, c Client) error {
		return c.CreateKeyPair(ctx, name, authorizedKey)
	})
	if err != nil {
		return "", err
	}
	return name, nil
}

func (p *Provider) DeleteKeyPair(ctx context.Context, id string) error {
	return p.scoped.Do(ctx, func(ctx context.Context, c Client) error {
		return c.DeleteKeyPair(ctx, id)
	})
}

func (p *Provider) CreateFirewall(ctx context.Context, name string, port int) (string, error) {
	var id string
	err := p.scoped.Do(ctx, func(ctx context.Context, c Client) error {
		var err error
		id, err = c.CreateSecurityGroup(ctx, name, port, p.opts.SSHCIDR)
		return err
	})
	return id, err
}

func (p *Provider) DeleteFirewall(ctx context.Context, id string) error {
	return p.scoped.Do(ctx, func(ctx context.Context, c Client) error {
		return c.DeleteSecurityGroup(ctx, id)
	})
}

// cloudConfig injects the operation key for the image's default user.
func cloudConfig(user, authorizedKey string) []byte {
	var b strings.Builder
	b.WriteString("#cloud-config\n")
	if user != "" {
		fmt.Fprintf(&b, "system_info:\n  default_user:\n    name: %s\n", user)
	}
	fmt.Fprintf(&b, "ssh_authorized_keys:\n  - %s\n", authorizedKey)
	return []byte(b.String())
}

func (p *Provider) CreateInstance(ctx context.Context, spec provision.InstanceSpec) (string, error) {
	flavor := spec.InstanceType
	if flavor == "" {
		flavor = p.opts.Flavor
	}

	var id string
	err := p.scoped.Do(ctx, func(ctx context.Context, c Client) error {
		var err error
		id, err = c.CreateServer(ctx, ServerOpts{
			Name:          spec.Name,
			ImageRef:      spec.BaseImage,
			FlavorRef:     flavor,
			NetworkID:     p.opts.Network,
			SecurityGroup: spec.FirewallID,
			UserData:      cloudConfig(spec.User, spec.AuthorizedKey),
		})
		return err
	})
	return id, err
}

func (p *Provider) DescribeInstance(ctx context.Context, id string) (*provision.Instance, error) {
	var srv *Server
	err := p.scoped.Do(ctx, func(ctx context.Context, c Client) error {
		var err error
		srv, err = c.GetServer(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &provision.Instance{
		ID:      srv.ID,
		State:   serverState(srv.Status),
		Address: srv.Address,
		Zone:    srv.Zone,
	}, nil
}

func serverState(status string) provision.State {
	switch strings.ToUpper(status) {
	case "ACTIVE":
		return provision.StateRunning
	case "ERROR":
		return provision.StateFailed
	case "DELETED", "SOFT_DELETED":
		return provision.StateTerminated
	case "SHUTOFF", "STOPPED", "SUSPENDED", "PAUSED":
		return provision.StateStopped
	default:
		return provision.StatePending
	}
}

func (p *Provider) DestroyInstance(ctx context.Context, id string) error {
	return p.scoped.Do(ctx, func(ctx context.Context, c Client) error {
		return c.DeleteServer(ctx, id)
	})
}

func (p *Provider) RegisterImage(ctx context.Context, instanceID, name string) (string, error) {
	var id string
	err := p.scoped.Do(ctx, func(ctx context.Context, c Client) error {
		var err error
		id, err = c.CreateServerImage(ctx, instanceID, name)
		return err
	})
	return id, err
}

func (p *Provider) DescribeImage(ctx context.Context, id string) (provision.State, error) {
	var status, owner string
	err := p.scoped.Do(ctx, func(ctx context.Context, c Client) error {
		var err error
		status, owner, err = c.GetImage(ctx, id)
		return err
	})
	if err != nil {
		return "", err
	}
	if owner != "" {
		p.mu.Lock()
		p.account = owner
		p.mu.Unlock()
	}

	switch strings.ToLower(status) {
	case "active":
		return provision.StateAvailable, nil
	case "killed", "deleted", "deactivated":
		return provision.StateFailed, nil
	default:
		return provision.StatePending, nil
	}
}

// AccountID returns the project that owns the registered image.
func (p *Provider) AccountID(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.account == "" {
		return "", fmt.Errorf("project id of %s not known before an image was described", p.opts.Name)
	}
	return p.account, nil
}
