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

package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cowdogmoo/foundry/builder"
	"github.com/cowdogmoo/foundry/config"
	"github.com/cowdogmoo/foundry/logging"
	"github.com/cowdogmoo/foundry/poll"
	"github.com/cowdogmoo/foundry/remote"
)

// DefaultTeardownTimeout bounds teardown when Options leave it unset.
const DefaultTeardownTimeout = 5 * time.Minute

// Policies holds the budget of every poll loop the engine runs.
type Policies struct {
	Instance poll.Policy
	Remote   poll.Policy
	Image    poll.Policy
	Volume   poll.Policy
	Snapshot poll.Policy
}

// PoliciesFromConfig converts the configured poll budgets.
func PoliciesFromConfig(c config.PollConfig) Policies {
	conv := func(p config.PollPolicy) poll.Policy {
		return poll.Policy{Interval: p.Interval, Attempts: p.Attempts}
	}
	return Policies{
		Instance: conv(c.Instance),
		Remote:   conv(c.Remote),
		Image:    conv(c.Image),
		Volume:   conv(c.Volume),
		Snapshot: conv(c.Snapshot),
	}
}

// Options configures an Engine.
type Options struct {
	Dialer          remote.Dialer
	Policies        Policies
	TeardownTimeout time.Duration
	// KeyGen creates the operation's SSH identity. Defaults to
	// remote.GenerateKeyPair.
	KeyGen func() (*remote.KeyPair, error)
}

// WorkFunc customizes the running instance and returns the descriptor.
type WorkFunc func(ctx context.Context, exec remote.Executor) (string, error)

// VolumePlan switches image registration to the volume flow: a fresh volume
// is attached, filled by Populate, snapshotted and registered.
type VolumePlan struct {
	SizeGiB  int
	Device   string
	Populate func(ctx context.Context, exec remote.Executor, device string) error
}

// Plan describes one provisioning run.
type Plan struct {
	OperationID  string
	BaseImage    string
	InstanceType string
	User         string
	Port         int
	ImageName    string
	Work         WorkFunc
	Volume       *VolumePlan
}

func (p Plan) validate() error {
	switch {
	case p.OperationID == "":
		return errors.New("plan has no operation id")
	case p.BaseImage == "":
		return errors.New("plan has no base image")
	case p.User == "":
		return errors.New("plan has no remote user")
	case p.ImageName == "":
		return errors.New("plan has no image name")
	case p.Work == nil:
		return errors.New("plan has no work")
	case p.Volume != nil && (p.Volume.SizeGiB <= 0 || p.Volume.Device == "" || p.Volume.Populate == nil):
		return errors.New("volume plan needs a size, a device and a populate step")
	}
	return nil
}

// Result is what a run produced.
type Result struct {
	ImageID    string
	Descriptor string
	AccountID  string
	// Warnings are teardown failures. They never change the outcome.
	Warnings []*builder.TeardownWarning
}

// Reporter receives progress. Percent milestones are 10 access, 20 instance
// created, 30 running, 40 reachable, 50 to 70 work, 80 image registered and
// 90 image available.
type Reporter interface {
	Progress(percent int, activity string)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(percent int, activity string)

// Progress calls f.
func (f ReporterFunc) Progress(percent int, activity string) { f(percent, activity) }

type nopReporter struct{}

func (nopReporter) Progress(int, string) {}

// Engine runs plans against one provider.
type Engine struct {
	provider Provider
	opts     Options
}

// NewEngine creates an engine for p.
func NewEngine(p Provider, opts Options) *Engine {
	if opts.Dialer == nil {
		opts.Dialer = remote.SSHDialer{}
	}
	if opts.KeyGen == nil {
		opts.KeyGen = remote.GenerateKeyPair
	}
	if opts.TeardownTimeout <= 0 {
		opts.TeardownTimeout = DefaultTeardownTimeout
	}
	return &Engine{provider: p, opts: opts}
}

// Run executes plan. It always returns a non-nil Result whose Warnings list
// the teardown failures, and a *builder.ProvisioningError when any step
// before teardown failed. Teardown runs on a context detached from ctx so an
// abort still cleans up.
func (e *Engine) Run(ctx context.Context, plan Plan, rep Reporter) (*Result, error) {
	res := &Result{}
	if err := plan.validate(); err != nil {
		return res, &builder.ProvisioningError{Step: "plan", Err: err}
	}
	if rep == nil {
		rep = nopReporter{}
	}

	rs := NewResourceSet()
	r := &run{engine: e, plan: plan, rep: rep, rs: rs, res: res}

	err := r.execute(ctx)
	res.Warnings = e.teardown(ctx, rs)
	if err != nil {
		return res, err
	}
	return res, nil
}

// run is the state of one Run call.
type run struct {
	engine *Engine
	plan   Plan
	rep    Reporter
	rs     *ResourceSet
	res    *Result

	key      *remote.KeyPair
	instance *Instance
}

func (r *run) name() string { return "foundry-" + r.plan.OperationID }

// fail wraps err for step. When ctx has ended, the context cause is kept in
// the chain so an abort is still recognizable.
func (r *run) fail(ctx context.Context, step string, err error) error {
	if ctx.Err() != nil {
		if cause := context.Cause(ctx); !errors.Is(err, cause) {
			err = fmt.Errorf("%w: %w", cause, err)
		}
	}
	logging.ErrorContext(ctx, "op=%s %s on %s failed: %v", r.plan.OperationID, step, r.engine.provider.Name(), err)
	return &builder.ProvisioningError{Step: step, Err: err}
}

func (r *run) execute(ctx context.Context) error {
	p := r.engine.provider

	r.rep.Progress(10, "creating access credentials")
	key, err := r.engine.opts.KeyGen()
	if err != nil {
		return r.fail(ctx, "access", err)
	}
	r.key = key

	keyID, err := p.ImportKeyPair(ctx, r.name(), key.AuthorizedKey)
	if err != nil {
		return r.fail(ctx, "access", err)
	}
	r.rs.Add(KindKeyPair, keyID)

	port := r.plan.Port
	if port == 0 {
		port = 22
	}
	fwID, err := p.CreateFirewall(ctx, r.name(), port)
	if fwID != "" {
		r.rs.Add(KindFirewall, fwID)
	}
	if err != nil {
		return r.fail(ctx, "access", err)
	}

	r.rep.Progress(20, "creating instance")
	instID, err := p.CreateInstance(ctx, InstanceSpec{
		Name:          r.name(),
		BaseImage:     r.plan.BaseImage,
		InstanceType:  r.plan.InstanceType,
		KeyName:       keyID,
		FirewallID:    fwID,
		AuthorizedKey: key.AuthorizedKey,
		User:          r.plan.User,
	})
	if err != nil {
		return r.fail(ctx, "create instance", err)
	}
	r.rs.Add(KindInstance, instID)

	if err := r.waitRunning(ctx, instID); err != nil {
		return r.fail(ctx, "wait for instance", err)
	}
	r.rep.Progress(30, "instance running")

	target := remote.Target{Host: r.instance.Address, Port: port, User: r.plan.User, Signer: key.Signer}
	if err := r.waitReachable(ctx, target); err != nil {
		return r.fail(ctx, "wait for remote shell", err)
	}
	r.rep.Progress(40, "remote shell reachable")

	exec, err := r.engine.opts.Dialer.Dial(ctx, target)
	if err != nil {
		return r.fail(ctx, "connect", err)
	}
	defer func() { _ = exec.Close() }()

	r.rep.Progress(50, "customizing instance")
	descriptor, err := r.plan.Work(ctx, exec)
	if err != nil {
		return r.fail(ctx, "work", err)
	}
	r.res.Descriptor = descriptor
	r.rep.Progress(70, "customization complete")

	var imageID string
	if r.plan.Volume != nil {
		imageID, err = r.volumeImage(ctx, exec)
		if err != nil {
			return r.fail(ctx, "volume image", err)
		}
	} else {
		imageID, err = p.RegisterImage(ctx, instID, r.plan.ImageName)
		if err != nil {
			return r.fail(ctx, "register image", err)
		}
	}
	r.res.ImageID = imageID
	r.rep.Progress(80, "image registered")

	if err := r.waitImage(ctx, imageID); err != nil {
		return r.fail(ctx, "wait for image", err)
	}
	r.rep.Progress(90, "image available")

	account, err := p.AccountID(ctx)
	if err != nil {
		return r.fail(ctx, "account", err)
	}
	r.res.AccountID = account
	return nil
}

// retryable retries every query error except a busy shared connection.
func retryable(err error) bool {
	var contention *builder.ContentionError
	return !errors.As(err, &contention)
}

// waitRunning is loop A: provider errors are retried, a terminated or failed
// instance ends the loop at once.
func (r *run) waitRunning(ctx context.Context, id string) error {
	p := r.engine.provider
	return poll.Until(ctx, "instance "+id, r.engine.opts.Policies.Instance, func(ctx context.Context) (bool, error) {
		inst, err := p.DescribeInstance(ctx, id)
		if err != nil {
			logging.DebugContext(ctx, "describe instance %s: %v", id, err)
			return false, err
		}
		switch inst.State {
		case StateRunning:
			if inst.Address == "" {
				return false, nil
			}
			r.instance = inst
			return true, nil
		case StateTerminated, StateFailed:
			return false, poll.Permanent(fmt.Errorf("instance %s entered state %s", id, inst.State))
		default:
			return false, nil
		}
	}, retryable)
}

// waitReachable is loop B. Every dial or command error is retried.
func (r *run) waitReachable(ctx context.Context, target remote.Target) error {
	return poll.Until(ctx, "remote shell on "+target.Address(), r.engine.opts.Policies.Remote, func(ctx context.Context) (bool, error) {
		if err := remote.Probe(ctx, r.engine.opts.Dialer, target); err != nil {
			if remote.IsConnectionRefused(err) {
				logging.DebugContext(ctx, "%s refused the connection; sshd not up yet", target.Address())
			}
			return false, err
		}
		return true, nil
	}, retryable)
}

func (r *run) waitImage(ctx context.Context, id string) error {
	p := r.engine.provider
	return poll.Until(ctx, "image "+id, r.engine.opts.Policies.Image, func(ctx context.Context) (bool, error) {
		state, err := p.DescribeImage(ctx, id)
		if err != nil {
			return false, err
		}
		if state == StateFailed {
			return false, poll.Permanent(fmt.Errorf("image %s failed", id))
		}
		return state == StateAvailable, nil
	}, retryable)
}

// waitState polls describe until it reports want.
func waitState(ctx context.Context, what string, policy poll.Policy, want State, describe func(context.Context) (State, error)) error {
	return poll.Until(ctx, what, policy, func(ctx context.Context) (bool, error) {
		state, err := describe(ctx)
		if err != nil {
			return false, err
		}
		if state == StateFailed {
			return false, poll.Permanent(fmt.Errorf("%s failed", what))
		}
		return state == want, nil
	}, retryable)
}

// volumeImage copies the customized system into a fresh volume and registers
// an image from its snapshot. The snapshot is released from teardown once an
// image depends on it.
func (r *run) volumeImage(ctx context.Context, exec remote.Executor) (string, error) {
	vp, ok := r.engine.provider.(VolumeProvider)
	if !ok {
		return "", fmt.Errorf("provider %s does not support volume images", r.engine.provider.Name())
	}
	pol := r.engine.opts.Policies
	vol := r.plan.Volume

	volID, err := vp.CreateVolume(ctx, VolumeSpec{Name: r.name(), SizeGiB: vol.SizeGiB, Zone: r.instance.Zone})
	if err != nil {
		return "", fmt.Errorf("create volume: %w", err)
	}
	r.rs.Add(KindVolume, volID)

	describeVol := func(ctx context.Context) (State, error) { return vp.DescribeVolume(ctx, volID) }
	if err := waitState(ctx, "volume "+volID, pol.Volume, StateAvailable, describeVol); err != nil {
		return "", err
	}

	if err := vp.AttachVolume(ctx, volID, r.instance.ID, vol.Device); err != nil {
		return "", fmt.Errorf("attach volume: %w", err)
	}
	r.rs.Add(KindAttachment, volID)
	if err := waitState(ctx, "volume "+volID+" attachment", pol.Volume, StateInUse, describeVol); err != nil {
		return "", err
	}

	r.rep.Progress(60, "copying system to volume")
	if err := vol.Populate(ctx, exec, vol.Device); err != nil {
		return "", fmt.Errorf("populate volume: %w", err)
	}

	if err := vp.DetachVolume(ctx, volID); err != nil {
		return "", fmt.Errorf("detach volume: %w", err)
	}
	r.rs.Release(KindAttachment, volID)
	if err := waitState(ctx, "volume "+volID+" detachment", pol.Volume, StateAvailable, describeVol); err != nil {
		return "", err
	}

	snapID, err := vp.CreateSnapshot(ctx, volID, r.plan.ImageName)
	if err != nil {
		return "", fmt.Errorf("create snapshot: %w", err)
	}
	r.rs.Add(KindSnapshot, snapID)
	describeSnap := func(ctx context.Context) (State, error) { return vp.DescribeSnapshot(ctx, snapID) }
	if err := waitState(ctx, "snapshot "+snapID, pol.Snapshot, StateAvailable, describeSnap); err != nil {
		return "", err
	}

	imageID, err := vp.RegisterSnapshotImage(ctx, snapID, r.plan.ImageName)
	if err != nil {
		return "", fmt.Errorf("register snapshot image: %w", err)
	}
	r.rs.Release(KindSnapshot, snapID)
	return imageID, nil
}
