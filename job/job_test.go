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

package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cowdogmoo/foundry/builder"
	"github.com/cowdogmoo/foundry/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBuilder runs BuildFunc or PushFunc under the entity's operation
// context.
type fakeBuilder struct {
	entity    *builder.Entity
	BuildFunc func(ctx context.Context, e *builder.Entity) error
	PushFunc  func(ctx context.Context, e *builder.Entity) error
}

var _ builder.Builder = (*fakeBuilder)(nil)

func newFake(target string) *fakeBuilder {
	return &fakeBuilder{entity: builder.NewEntity(nil, target)}
}

func (f *fakeBuilder) BuildImage(ctx context.Context, _ string) error {
	ctx, done := f.entity.Begin(ctx)
	defer done()
	return f.BuildFunc(ctx, f.entity)
}

func (f *fakeBuilder) PushImage(ctx context.Context, _, _ string, _ []byte) error {
	ctx, done := f.entity.Begin(ctx)
	defer done()
	return f.PushFunc(ctx, f.entity)
}

func (f *fakeBuilder) Abort() { f.entity.Abort() }

func (f *fakeBuilder) Entity() *builder.Entity { return f.entity }

func succeed(ctx context.Context, e *builder.Entity) error {
	e.SetStatus(builder.StatusBuilding)
	e.SetPercentComplete(50)
	e.SetPercentComplete(100)
	e.SetStatus(builder.StatusCompleted)
	return nil
}

type harness struct {
	registry *Registry
	recorder *events.Recorder
	metrics  *Metrics
	opts     Options
}

func newHarness() *harness {
	m := NewMetrics(prometheus.NewRegistry())
	h := &harness{registry: NewRegistry(m), recorder: &events.Recorder{}, metrics: m}
	h.opts = Options{Registry: h.registry, Publisher: h.recorder, Metrics: m}
	return h
}

func (h *harness) newJob(t *testing.T, b builder.Builder) *Job {
	t.Helper()
	j, err := New(b, "Fake_mock_Builder", h.opts)
	require.NoError(t, err)
	return j
}

func kinds(evs []events.Event) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		if ev.Kind == events.KindFailure {
			out[i] = string(ev.Kind) + " " + ev.FailureType
			continue
		}
		out[i] = string(ev.Kind) + " " + ev.Old + "->" + ev.New
	}
	return out
}

func TestJob_BuildEventsInOrder(t *testing.T) {
	t.Parallel()

	h := newHarness()
	fb := newFake("mock")
	fb.BuildFunc = succeed
	j := h.newJob(t, fb)

	got, ok := h.registry.Get(j.ID())
	require.True(t, ok)
	assert.Same(t, j, got)

	require.NoError(t, j.Build(context.Background(), j.ID()))
	require.NoError(t, j.Wait(context.Background()))

	assert.Equal(t, []string{
		"STATUS NEW->BUILDING",
		"PERCENTAGE 0->50",
		"PERCENTAGE 50->100",
		"STATUS BUILDING->COMPLETED",
	}, kinds(h.recorder.Events(j.ID())))
	assert.Equal(t, OpBuild, j.Operation())
}

func TestJob_TerminalRemovesFromRegistry(t *testing.T) {
	t.Parallel()

	h := newHarness()
	fb := newFake("mock")
	fb.BuildFunc = succeed
	j := h.newJob(t, fb)
	require.Equal(t, 1, h.registry.Len())

	require.NoError(t, j.Build(context.Background(), j.ID()))
	require.NoError(t, j.Wait(context.Background()))

	_, ok := h.registry.Get(j.ID())
	assert.False(t, ok)
	assert.Equal(t, 0, h.registry.Len())
	assert.ErrorIs(t, h.registry.Add(j), ErrRetired)
	assert.Equal(t, 0, h.registry.Len())

	_, err := New(fb, "Fake_mock_Builder", h.opts)
	assert.ErrorIs(t, err, ErrRetired)
}

func TestJob_SecondOperationRejected(t *testing.T) {
	t.Parallel()

	h := newHarness()
	fb := newFake("mock")
	release := make(chan struct{})
	fb.BuildFunc = func(ctx context.Context, e *builder.Entity) error {
		<-release
		return succeed(ctx, e)
	}
	fb.PushFunc = func(context.Context, *builder.Entity) error {
		t.Error("push must not run")
		return nil
	}
	j := h.newJob(t, fb)

	require.NoError(t, j.Build(context.Background(), j.ID()))
	assert.ErrorIs(t, j.Build(context.Background(), j.ID()), ErrAlreadyStarted)
	assert.ErrorIs(t, j.Push(context.Background(), "x", "mock", nil), ErrAlreadyStarted)
	close(release)
	require.NoError(t, j.Wait(context.Background()))
}

func TestJob_WaitBeforeStart(t *testing.T) {
	t.Parallel()

	j := newHarness().newJob(t, newFake("mock"))
	assert.ErrorIs(t, j.Wait(context.Background()), ErrNotStarted)
}

func TestJob_WorkerErrorForcesFailed(t *testing.T) {
	t.Parallel()

	h := newHarness()
	fb := newFake("ec2")
	boom := &builder.ProvisioningError{Step: "create instance", Err: errors.New("InsufficientInstanceCapacity")}
	fb.BuildFunc = func(_ context.Context, e *builder.Entity) error {
		e.SetStatus(builder.StatusBuilding)
		return boom
	}
	j := h.newJob(t, fb)

	require.NoError(t, j.Build(context.Background(), j.ID()))
	err := j.Wait(context.Background())
	assert.ErrorIs(t, err, boom)

	e := j.Entity()
	assert.Equal(t, builder.StatusFailed, e.Status())
	assert.Contains(t, e.Detail().Error, "InsufficientInstanceCapacity")
	assert.Equal(t, []string{
		"STATUS NEW->BUILDING",
		"STATUS BUILDING->FAILED",
		"FAILURE ProvisioningError",
	}, kinds(h.recorder.Events(j.ID())))

	evs := h.recorder.Events(j.ID())
	assert.Contains(t, evs[len(evs)-1].FailureInfo, "create instance")
	assert.Equal(t, 0, h.registry.Len())
}

func TestJob_VariantFailureSingleFailureEvent(t *testing.T) {
	t.Parallel()

	h := newHarness()
	fb := newFake("ec2")
	fb.BuildFunc = func(_ context.Context, e *builder.Entity) error {
		e.SetStatus(builder.StatusBuilding)
		e.SetError("gone")
		e.SetStatus(builder.StatusFailed)
		return errors.New("gone")
	}
	j := h.newJob(t, fb)

	require.NoError(t, j.Build(context.Background(), j.ID()))
	require.Error(t, j.Wait(context.Background()))

	var failures int
	for _, ev := range h.recorder.Events(j.ID()) {
		if ev.Kind == events.KindFailure {
			failures++
			assert.Equal(t, "Error", ev.FailureType)
		}
	}
	assert.Equal(t, 1, failures)
}

func TestJob_NonTerminalReturnIsFailure(t *testing.T) {
	t.Parallel()

	h := newHarness()
	fb := newFake("mock")
	fb.BuildFunc = func(_ context.Context, e *builder.Entity) error {
		e.SetStatus(builder.StatusBuilding)
		return nil
	}
	j := h.newJob(t, fb)

	require.NoError(t, j.Build(context.Background(), j.ID()))
	err := j.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-terminal status BUILDING")
	assert.Equal(t, builder.StatusFailed, j.Entity().Status())
}

func TestJob_PanicRecovered(t *testing.T) {
	t.Parallel()

	h := newHarness()
	fb := newFake("mock")
	fb.BuildFunc = func(context.Context, *builder.Entity) error { panic("nil map") }
	j := h.newJob(t, fb)

	require.NoError(t, j.Build(context.Background(), j.ID()))
	err := j.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked: nil map")
	assert.Equal(t, builder.StatusFailed, j.Entity().Status())
	assert.Equal(t, 0, h.registry.Len())
}

func TestJob_DelegateEnforcesStateMachine(t *testing.T) {
	t.Parallel()

	h := newHarness()
	fb := newFake("mock")
	fb.BuildFunc = func(_ context.Context, e *builder.Entity) error {
		assert.False(t, e.SetStatus(builder.StatusCompleted), "NEW -> COMPLETED is not an edge")
		assert.False(t, e.SetPercentComplete(101))
		assert.False(t, e.SetPercentComplete(-1))
		assert.Equal(t, builder.StatusNew, e.Status())
		assert.Equal(t, 0, e.PercentComplete())
		return succeed(context.Background(), e)
	}
	j := h.newJob(t, fb)

	require.NoError(t, j.Build(context.Background(), j.ID()))
	require.NoError(t, j.Wait(context.Background()))

	e := j.Entity()
	assert.False(t, e.SetStatus(builder.StatusBuilding), "terminal status is final")
	assert.Equal(t, builder.StatusCompleted, e.Status())
}

func TestJob_AbortEndsFailed(t *testing.T) {
	t.Parallel()

	h := newHarness()
	fb := newFake("ec2")
	started := make(chan struct{})
	fb.BuildFunc = func(ctx context.Context, e *builder.Entity) error {
		e.SetStatus(builder.StatusBuilding)
		close(started)
		<-ctx.Done()
		err := context.Cause(ctx)
		e.SetStatus(builder.StatusFailed)
		return err
	}
	j := h.newJob(t, fb)

	require.NoError(t, j.Build(context.Background(), j.ID()))
	<-started
	assert.Equal(t, 1, h.registry.AbortAll())

	err := j.Wait(context.Background())
	assert.ErrorIs(t, err, builder.ErrAborted)
	assert.Equal(t, builder.StatusFailed, j.Entity().Status())

	evs := h.recorder.Events(j.ID())
	assert.Equal(t, "FAILURE AbortRequested", kinds(evs)[len(evs)-1])
}

func TestJob_CompletedWithTeardownWarning(t *testing.T) {
	t.Parallel()

	h := newHarness()
	fb := newFake("ec2")
	fb.BuildFunc = func(ctx context.Context, e *builder.Entity) error {
		e.SetStatus(builder.StatusBuilding)
		e.AddWarning((&builder.TeardownWarning{Resource: "firewall", ID: "sg-1", Err: errors.New("DependencyViolation")}).Error())
		e.SetPercentComplete(100)
		e.SetStatus(builder.StatusCompleted)
		return nil
	}
	j := h.newJob(t, fb)

	require.NoError(t, j.Build(context.Background(), j.ID()))
	require.NoError(t, j.Wait(context.Background()))

	s := j.Summary()
	assert.Equal(t, builder.StatusCompleted, s.Status)
	assert.Equal(t, 100, s.Percent)
	require.Len(t, s.Detail.Warnings, 1)
	assert.Contains(t, s.Detail.Warnings[0], "sg-1")
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.TeardownWarnings), 0)
}

func TestJob_Metrics(t *testing.T) {
	t.Parallel()

	h := newHarness()
	fb := newFake("mock")
	fb.BuildFunc = succeed
	j := h.newJob(t, fb)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.Live), 0)

	require.NoError(t, j.Build(context.Background(), j.ID()))
	require.NoError(t, j.Wait(context.Background()))

	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.Started.WithLabelValues("build", "mock")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.Statuses.WithLabelValues("BUILDING")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.Statuses.WithLabelValues("COMPLETED")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(h.metrics.Live), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(h.metrics.TeardownWarnings), 0)
}

func TestJob_Cascade(t *testing.T) {
	t.Parallel()

	h := newHarness()
	build := newFake("mock")
	build.BuildFunc = succeed
	j := h.newJob(t, build)

	var mu sync.Mutex
	var cascaded []string
	j.Then(func(ctx context.Context, done *Job) (*Job, error) {
		mu.Lock()
		cascaded = append(cascaded, done.ID())
		mu.Unlock()

		push := newFake("mock")
		push.PushFunc = func(_ context.Context, e *builder.Entity) error {
			e.SetStatus(builder.StatusPushing)
			e.SetPercentComplete(100)
			e.SetStatus(builder.StatusCompleted)
			return nil
		}
		next, err := New(push, "Fake_mock_Builder", h.opts)
		if err != nil {
			return nil, err
		}
		return next, next.Push(ctx, done.ID(), "mock", nil)
	})

	require.NoError(t, j.Build(context.Background(), j.ID()))
	require.NoError(t, j.Wait(context.Background()))

	next, err := j.Next()
	require.NoError(t, err)
	require.NotNil(t, next)
	require.NoError(t, next.Wait(context.Background()))
	assert.Equal(t, builder.StatusCompleted, next.Entity().Status())
	assert.Equal(t, OpPush, next.Operation())
	assert.Equal(t, []string{j.ID()}, cascaded)
}

func TestJob_CascadeSkippedOnFailure(t *testing.T) {
	t.Parallel()

	h := newHarness()
	fb := newFake("mock")
	fb.BuildFunc = func(context.Context, *builder.Entity) error { return errors.New("boom") }
	j := h.newJob(t, fb)
	j.Then(func(context.Context, *Job) (*Job, error) {
		t.Error("cascade must not run")
		return nil, nil
	})

	require.NoError(t, j.Build(context.Background(), j.ID()))
	require.Error(t, j.Wait(context.Background()))
	next, err := j.Next()
	assert.Nil(t, next)
	assert.NoError(t, err)
}

func TestJob_CascadeSkippedAfterAbort(t *testing.T) {
	t.Parallel()

	h := newHarness()
	fb := newFake("mock")
	started := make(chan struct{})
	release := make(chan struct{})
	fb.BuildFunc = func(_ context.Context, e *builder.Entity) error {
		e.SetStatus(builder.StatusBuilding)
		e.SetStatus(builder.StatusFinishing)
		close(started)
		<-release
		e.SetPercentComplete(100)
		e.SetStatus(builder.StatusCompleted)
		return nil
	}
	j := h.newJob(t, fb)
	j.Then(func(context.Context, *Job) (*Job, error) {
		t.Error("push must not start for an aborted build")
		return nil, nil
	})

	require.NoError(t, j.Build(context.Background(), j.ID()))
	<-started
	assert.Equal(t, 1, h.registry.AbortAll())
	close(release)
	require.NoError(t, j.Wait(context.Background()))

	assert.Equal(t, builder.StatusCompleted, j.Entity().Status())
	assert.True(t, j.Entity().Aborted())
	next, err := j.Next()
	assert.Nil(t, next)
	assert.NoError(t, err)
}

func TestJob_SameStatusRewriteIsSilent(t *testing.T) {
	t.Parallel()

	h := newHarness()
	fb := newFake("mock")
	fb.BuildFunc = func(ctx context.Context, e *builder.Entity) error {
		e.SetStatus(builder.StatusBuilding)
		e.SetStatus(builder.StatusBuilding)
		return succeed(ctx, e)
	}
	j := h.newJob(t, fb)

	require.NoError(t, j.Build(context.Background(), j.ID()))
	require.NoError(t, j.Wait(context.Background()))

	assert.Equal(t, []string{
		"STATUS NEW->BUILDING",
		"PERCENTAGE 0->50",
		"PERCENTAGE 50->100",
		"STATUS BUILDING->COMPLETED",
	}, kinds(h.recorder.Events(j.ID())))
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.Statuses.WithLabelValues("BUILDING")), 0)
}

func TestJob_RejectedAddKeepsDelegate(t *testing.T) {
	t.Parallel()

	t.Run("retired entity", func(t *testing.T) {
		t.Parallel()

		h := newHarness()
		fb := newFake("mock")
		fb.entity.SetStatus(builder.StatusBuilding)
		fb.entity.SetStatus(builder.StatusCompleted)

		_, err := New(fb, "Fake_mock_Builder", h.opts)
		require.ErrorIs(t, err, ErrRetired)
		assert.Nil(t, fb.Entity().Delegate())
	})

	t.Run("duplicate id", func(t *testing.T) {
		t.Parallel()

		h := newHarness()
		fb := newFake("mock")
		first := h.newJob(t, fb)

		_, err := New(fb, "Fake_mock_Builder", h.opts)
		require.Error(t, err)

		d, ok := fb.Entity().Delegate().(*delegate)
		require.True(t, ok)
		assert.Same(t, first, d.job)
	})
}

func TestJob_WaitHonorsContext(t *testing.T) {
	t.Parallel()

	h := newHarness()
	fb := newFake("mock")
	release := make(chan struct{})
	fb.BuildFunc = func(ctx context.Context, e *builder.Entity) error {
		<-release
		return succeed(ctx, e)
	}
	j := h.newJob(t, fb)
	require.NoError(t, j.Build(context.Background(), j.ID()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, j.Wait(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, j.Wait(context.Background()))
}
