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

	"github.com/cowdogmoo/foundry/config"
	"github.com/cowdogmoo/foundry/logging"
	"github.com/cowdogmoo/foundry/provision"
	"github.com/cowdogmoo/foundry/sharedconn"
	"gopkg.in/ini.v1"
)

// ProviderPrefix is the provider string family handled here: "openstack" or
// "openstack-<region>".
const ProviderPrefix = "openstack"

// ParseProvider extracts the region from "openstack-<region>".
func ParseProvider(provider string) (region string, ok bool) {
	switch {
	case provider == ProviderPrefix:
		return "", true
	case strings.HasPrefix(provider, ProviderPrefix+"-"):
		return strings.TrimPrefix(provider, ProviderPrefix+"-"), true
	default:
		return "", false
	}
}

// ParseCredentials overlays an INI blob's [default] section (auth_url,
// username, password, domain, tenant, region) on base.
func ParseCredentials(blob []byte, base AuthSettings) (AuthSettings, error) {
	if len(strings.TrimSpace(string(blob))) == 0 {
		return base, nil
	}
	f, err := ini.Load(blob)
	if err != nil {
		return AuthSettings{}, fmt.Errorf("failed to parse credentials: %s", logging.RedactCredentials(err.Error()))
	}
	sec := f.Section("default")
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(sec.Key(key).String()); v != "" {
			*dst = v
		}
	}
	set(&base.AuthURL, "auth_url")
	set(&base.Username, "username")
	set(&base.Password, "password")
	set(&base.Domain, "domain")
	set(&base.Tenant, "tenant")
	set(&base.Region, "region")
	return base, nil
}

// dial is swapped in tests.
var dial = Dial

// Factory builds OpenStack providers that share one lock.
type Factory struct {
	cfg  config.OpenStackConfig
	lock *sharedconn.Lock
}

var _ provision.Factory = (*Factory)(nil)

// NewFactory creates a factory. Every provider it builds serializes its
// sessions through lock.
func NewFactory(cfg config.OpenStackConfig, lock *sharedconn.Lock) *Factory {
	return &Factory{cfg: cfg, lock: lock}
}

// Handles reports whether provider is "openstack" or "openstack-<region>".
func (f *Factory) Handles(provider string) bool {
	_, ok := ParseProvider(provider)
	return ok
}

// New builds a provider. The region comes from the provider string, then the
// credentials blob, then openstack.region.
func (f *Factory) New(_ context.Context, provider string, blob []byte) (provision.Provider, error) {
	region, ok := ParseProvider(provider)
	if !ok {
		return nil, fmt.Errorf("not an openstack provider: %q", provider)
	}
	settings, err := ParseCredentials(blob, AuthSettings{
		AuthURL:  f.cfg.AuthURL,
		Username: f.cfg.Username,
		Password: f.cfg.Password,
		Domain:   f.cfg.Domain,
		Tenant:   f.cfg.Tenant,
		Region:   f.cfg.Region,
	})
	if err != nil {
		return nil, err
	}
	if region != "" {
		settings.Region = region
	}
	if settings.AuthURL == "" {
		return nil, fmt.Errorf("openstack auth_url not specified (set it in the credentials or openstack.auth_url)")
	}

	name := ProviderPrefix
	if settings.Region != "" {
		name += "-" + settings.Region
	}
	open := func(ctx context.Context) (Client, error) {
		logging.DebugContext(ctx, "opening %s session at %s", name, logging.RedactURL(settings.AuthURL))
		return dial(ctx, settings)
	}
	return NewProvider(f.lock, open, Options{
		Name:    name,
		Flavor:  f.cfg.Flavor,
		Network: f.cfg.Network,
		SSHCIDR: f.cfg.SSHCIDR,
	}), nil
}
