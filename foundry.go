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

// Package foundry wires the collaborators of a process: warehouse, event
// publisher, metrics, provider factories, variant table, job registry and
// dispatcher. Everything is built by New; there is no package state.
package foundry

import (
	"context"
	"fmt"

	"github.com/cowdogmoo/foundry/config"
	"github.com/cowdogmoo/foundry/events"
	"github.com/cowdogmoo/foundry/job"
	"github.com/cowdogmoo/foundry/logging"
	"github.com/cowdogmoo/foundry/plugins"
	"github.com/cowdogmoo/foundry/provision"
	"github.com/cowdogmoo/foundry/provision/ec2"
	"github.com/cowdogmoo/foundry/provision/openstack"
	"github.com/cowdogmoo/foundry/remote"
	"github.com/cowdogmoo/foundry/sharedconn"
	"github.com/cowdogmoo/foundry/variants"
	"github.com/cowdogmoo/foundry/variants/linux"
	"github.com/cowdogmoo/foundry/warehouse"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Foundry is the dependency-injected context of one process.
type Foundry struct {
	Config        *config.Config
	Warehouse     warehouse.Warehouse
	Publisher     events.Publisher
	Prometheus    *prometheus.Registry
	Metrics       *job.Metrics
	OpenStackLock *sharedconn.Lock
	Providers     []provision.Factory
	Table         *plugins.Table
	Registry      *job.Registry
	Dispatcher    *plugins.Dispatcher
	Orchestrator  *job.Orchestrator
}

type settings struct {
	warehouse warehouse.Warehouse
	publisher events.Publisher
	providers []provision.Factory
	dialer    remote.Dialer
}

// Option replaces a collaborator New would otherwise build from config.
type Option func(*settings)

// WithWarehouse uses w instead of the configured warehouse.
func WithWarehouse(w warehouse.Warehouse) Option {
	return func(s *settings) { s.warehouse = w }
}

// WithPublisher uses p instead of the configured event bus.
func WithPublisher(p events.Publisher) Option {
	return func(s *settings) { s.publisher = p }
}

// WithProviders uses fs instead of the EC2 and OpenStack factories.
func WithProviders(fs ...provision.Factory) Option {
	return func(s *settings) { s.providers = fs }
}

// WithDialer uses d to reach provisioned instances.
func WithDialer(d remote.Dialer) Option {
	return func(s *settings) { s.dialer = d }
}

// New validates cfg and builds every collaborator.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Foundry, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	var s settings
	for _, opt := range opts {
		opt(&s)
	}

	f := &Foundry{Config: cfg}

	f.Warehouse = s.warehouse
	if f.Warehouse == nil {
		w, err := warehouse.Open(ctx, cfg.Warehouse)
		if err != nil {
			return nil, fmt.Errorf("open warehouse: %w", err)
		}
		f.Warehouse = w
	}

	f.Publisher = s.publisher
	if f.Publisher == nil {
		p, err := events.Open(ctx, cfg.Events)
		if err != nil {
			return nil, fmt.Errorf("open event bus: %w", err)
		}
		f.Publisher = p
	}

	f.Prometheus = prometheus.NewRegistry()
	f.Prometheus.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f.Metrics = job.NewMetrics(f.Prometheus)

	f.OpenStackLock = sharedconn.NewLock("openstack", cfg.OpenStack.LockTimeout)
	f.Providers = s.providers
	if f.Providers == nil {
		f.Providers = []provision.Factory{
			ec2.NewFactory(cfg.AWS),
			openstack.NewFactory(cfg.OpenStack, f.OpenStackLock),
		}
	}

	f.Table = plugins.NewTable()
	if err := linux.Register(f.Table); err != nil {
		return nil, fmt.Errorf("register variants: %w", err)
	}

	f.Registry = job.NewRegistry(f.Metrics)
	deps := variants.Deps{
		Config:    cfg,
		Warehouse: f.Warehouse,
		Providers: f.Providers,
		Engine: provision.Options{
			Dialer:          s.dialer,
			Policies:        provision.PoliciesFromConfig(cfg.Poll),
			TeardownTimeout: cfg.Jobs.TeardownTimeout,
		},
	}
	f.Dispatcher = plugins.NewDispatcher(f.Table, deps, job.Options{
		Registry:  f.Registry,
		Publisher: f.Publisher,
		Metrics:   f.Metrics,
	})
	f.Orchestrator = job.NewOrchestrator(cfg.Jobs.MaxParallel)

	logging.DebugContext(ctx, "foundry ready: warehouse=%s events=%s variants=%d",
		cfg.Warehouse.Driver, cfg.Events.Driver, len(f.Table.Variants()))
	return f, nil
}

// Close aborts live jobs and closes the event bus.
func (f *Foundry) Close() error {
	if n := f.Registry.AbortAll(); n > 0 {
		logging.Warn("aborted %d running job(s) at close", n)
	}
	if err := f.Publisher.Close(); err != nil {
		return fmt.Errorf("close event bus: %w", err)
	}
	return nil
}
