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

	"github.com/cowdogmoo/foundry/builder"
	"github.com/cowdogmoo/foundry/logging"
	"github.com/cowdogmoo/foundry/poll"
)

// teardown destroys every recorded artifact, newest first, on a context that
// ignores the caller's cancellation but is bounded by the teardown timeout.
// Failures are logged and returned as warnings; teardown never fails.
func (e *Engine) teardown(parent context.Context, rs *ResourceSet) []*builder.TeardownWarning {
	if rs.Len() == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), e.opts.TeardownTimeout)
	defer cancel()

	var warnings []*builder.TeardownWarning
	for _, r := range rs.Drain() {
		err := e.destroy(ctx, r)
		if err == nil || errors.Is(err, ErrNotFound) {
			logging.DebugContext(ctx, "tore down %s %s", r.Kind, r.ID)
			continue
		}
		w := &builder.TeardownWarning{Resource: string(r.Kind), ID: r.ID, Err: err}
		logging.WarnContext(ctx, "%v", w)
		warnings = append(warnings, w)
	}
	return warnings
}

func (e *Engine) destroy(ctx context.Context, r Resource) error {
	p := e.provider
	switch r.Kind {
	case KindKeyPair:
		return p.DeleteKeyPair(ctx, r.ID)
	case KindFirewall:
		return p.DeleteFirewall(ctx, r.ID)
	case KindInstance:
		if err := p.DestroyInstance(ctx, r.ID); err != nil {
			return err
		}
		// Firewalls cannot be deleted while an instance still uses them.
		return poll.Until(ctx, "termination of instance "+r.ID, e.opts.Policies.Instance, func(ctx context.Context) (bool, error) {
			inst, err := p.DescribeInstance(ctx, r.ID)
			if errors.Is(err, ErrNotFound) {
				return true, nil
			}
			if err != nil {
				return false, err
			}
			return inst.State == StateTerminated, nil
		}, retryable)
	}

	vp, ok := p.(VolumeProvider)
	if !ok {
		return fmt.Errorf("provider %s cannot remove a %s", p.Name(), r.Kind)
	}
	switch r.Kind {
	case KindAttachment:
		return vp.DetachVolume(ctx, r.ID)
	case KindVolume:
		// A volume that is still detaching cannot be deleted yet.
		err := waitState(ctx, "volume "+r.ID+" release", e.opts.Policies.Volume, StateAvailable, func(ctx context.Context) (State, error) {
			state, err := vp.DescribeVolume(ctx, r.ID)
			if errors.Is(err, ErrNotFound) {
				return StateAvailable, nil
			}
			return state, err
		})
		if err != nil {
			logging.WarnContext(ctx, "volume %s not released before delete: %v", r.ID, err)
		}
		return vp.DeleteVolume(ctx, r.ID)
	case KindSnapshot:
		return vp.DeleteSnapshot(ctx, r.ID)
	default:
		return fmt.Errorf("unknown resource kind %q", r.Kind)
	}
}
