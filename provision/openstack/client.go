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

// Package openstack implements provision.Provider on OpenStack with
// gophercloud. The OpenStack SDK session is treated as a single shared
// connection: every call authenticates, runs and closes inside one
// sharedconn scope.
package openstack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cowdogmoo/foundry/provision"
	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/keypairs"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/servers"
	"github.com/gophercloud/gophercloud/v2/openstack/image/v2/images"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/security/groups"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/security/rules"
)

// Server is what GetServer reports.
type Server struct {
	ID     string
	Status string
	// Address is the first floating, else fixed, IPv4 address.
	Address string
	Zone    string
}

// ServerOpts is what CreateServer needs.
type ServerOpts struct {
	Name          string
	ImageRef      string
	FlavorRef     string
	NetworkID     string
	SecurityGroup string
	UserData      []byte
}

// Client is one authenticated session.
type Client interface {
	CreateKeyPair(ctx context.Context, name, publicKey string) error
	DeleteKeyPair(ctx context.Context, name string) error
	CreateSecurityGroup(ctx context.Context, name string, port int, cidr string) (string, error)
	DeleteSecurityGroup(ctx context.Context, id string) error
	CreateServer(ctx context.Context, opts ServerOpts) (string, error)
	GetServer(ctx context.Context, id string) (*Server, error)
	DeleteServer(ctx context.Context, id string) error
	CreateServerImage(ctx context.Context, serverID, name string) (string, error)
	// GetImage returns the image status and owning project.
	GetImage(ctx context.Context, id string) (status, owner string, err error)
	Close() error
}

// AuthSettings locate and authenticate a session.
type AuthSettings struct {
	AuthURL  string
	Username string
	Password string
	Domain   string
	Tenant   string
	Region   string
}

// gopherClient is the gophercloud-backed Client.
type gopherClient struct {
	provider *gophercloud.ProviderClient
	compute  *gophercloud.ServiceClient
	network  *gophercloud.ServiceClient
	image    *gophercloud.ServiceClient
}

// Dial authenticates against keystone and builds the compute, network and
// image service clients.
func Dial(ctx context.Context, s AuthSettings) (Client, error) {
	if s.AuthURL == "" {
		return nil, errors.New("openstack auth_url is not set")
	}
	pc, err := openstack.AuthenticatedClient(ctx, gophercloud.AuthOptions{
		IdentityEndpoint: s.AuthURL,
		Username:         s.Username,
		Password:         s.Password,
		DomainName:       s.Domain,
		TenantName:       s.Tenant,
	})
	if err != nil {
		return nil, fmt.Errorf("authenticate to %s: %w", s.AuthURL, err)
	}

	eo := gophercloud.EndpointOpts{Region: s.Region}
	c := &gopherClient{provider: pc}
	if c.compute, err = openstack.NewComputeV2(pc, eo); err != nil {
		return nil, fmt.Errorf("compute endpoint: %w", err)
	}
	if c.network, err = openstack.NewNetworkV2(pc, eo); err != nil {
		return nil, fmt.Errorf("network endpoint: %w", err)
	}
	if c.image, err = openstack.NewImageV2(pc, eo); err != nil {
		return nil, fmt.Errorf("image endpoint: %w", err)
	}
	return c, nil
}

func notFound(err error) error {
	if err != nil && gophercloud.ResponseCodeIs(err, http.StatusNotFound) {
		return fmt.Errorf("%w: %v", provision.ErrNotFound, err)
	}
	return err
}

func (c *gopherClient) CreateKeyPair(ctx context.Context, name, publicKey string) error {
	_, err := keypairs.Create(ctx, c.compute, keypairs.CreateOpts{Name: name, PublicKey: publicKey}).Extract()
	return err
}

func (c *gopherClient) DeleteKeyPair(ctx context.Context, name string) error {
	return notFound(keypairs.Delete(ctx, c.compute, name, nil).ExtractErr())
}

func (c *gopherClient) CreateSecurityGroup(ctx context.Context, name string, port int, cidr string) (string, error) {
	sg, err := groups.Create(ctx, c.network, groups.CreateOpts{
		Name:        name,
		Description: "foundry operation access " + name,
	}).Extract()
	if err != nil {
		return "", err
	}

	_, err = rules.Create(ctx, c.network, rules.CreateOpts{
		Direction:      rules.DirIngress,
		EtherType:      rules.EtherType4,
		Protocol:       rules.ProtocolTCP,
		PortRangeMin:   port,
		PortRangeMax:   port,
		RemoteIPPrefix: cidr,
		SecGroupID:     sg.ID,
	}).Extract()
	if err != nil {
		return sg.ID, fmt.Errorf("add ingress rule to %s: %w", sg.ID, err)
	}
	return sg.ID, nil
}

func (c *gopherClient) DeleteSecurityGroup(ctx context.Context, id string) error {
	return notFound(groups.Delete(ctx, c.network, id).ExtractErr())
}

func (c *gopherClient) CreateServer(ctx context.Context, opts ServerOpts) (string, error) {
	create := servers.CreateOpts{
		Name:      opts.Name,
		ImageRef:  opts.ImageRef,
		FlavorRef: opts.FlavorRef,
		UserData:  opts.UserData,
	}
	if opts.SecurityGroup != "" {
		create.SecurityGroups = []string{opts.SecurityGroup}
	}
	if opts.NetworkID != "" {
		create.Networks = []servers.Network{{UUID: opts.NetworkID}}
	}

	srv, err := servers.Create(ctx, c.compute, create, nil).Extract()
	if err != nil {
		return "", err
	}
	return srv.ID, nil
}

func (c *gopherClient) GetServer(ctx context.Context, id string) (*Server, error) {
	srv, err := servers.Get(ctx, c.compute, id).Extract()
	if err != nil {
		return nil, notFound(err)
	}
	return &Server{
		ID:      srv.ID,
		Status:  srv.Status,
		Address: serverAddress(srv.AccessIPv4, srv.Addresses),
		Zone:    srv.AvailabilityZone,
	}, nil
}

// serverAddress prefers accessIPv4, then a floating IPv4, then a fixed IPv4.
func serverAddress(accessIPv4 string, addresses map[string]any) string {
	if accessIPv4 != "" {
		return accessIPv4
	}
	var fixed string
	for _, raw := range addresses {
		list, ok := raw.([]any)
		if !ok {
			continue
		}
		for _, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			addr, _ := m["addr"].(string)
			if addr == "" || strings.Contains(addr, ":") {
				continue
			}
			if kind, _ := m["OS-EXT-IPS:type"].(string); kind == "floating" {
				return addr
			}
			if fixed == "" {
				fixed = addr
			}
		}
	}
	return fixed
}

func (c *gopherClient) DeleteServer(ctx context.Context, id string) error {
	return notFound(servers.Delete(ctx, c.compute, id).ExtractErr())
}

func (c *gopherClient) CreateServerImage(ctx context.Context, serverID, name string) (string, error) {
	return servers.CreateImage(ctx, c.compute, serverID, servers.CreateImageOpts{Name: name}).ExtractImageID()
}

func (c *gopherClient) GetImage(ctx context.Context, id string) (string, string, error) {
	img, err := images.Get(ctx, c.image, id).Extract()
	if err != nil {
		return "", "", notFound(err)
	}
	return string(img.Status), img.Owner, nil
}

// Close drops the session's pooled connections.
func (c *gopherClient) Close() error {
	c.provider.HTTPClient.CloseIdleConnections()
	return nil
}
