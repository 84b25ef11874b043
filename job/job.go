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

// Package job runs builder operations. A Job owns one builder, drives one
// operation on its own goroutine and, as the builder's delegate, turns every
// status and progress change into events, metrics and registry updates.
package job

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync"

	"github.com/cowdogmoo/foundry/builder"
	"github.com/cowdogmoo/foundry/events"
	"github.com/cowdogmoo/foundry/logging"
)

var (
	// ErrAlreadyStarted is returned when a second operation is started on a
	// Job.
	ErrAlreadyStarted = errors.New("job already started")
	// ErrNotStarted is returned by Wait on a Job that never started.
	ErrNotStarted = errors.New("job not started")
)

// Operation is what a Job does with its builder.
type Operation string

// Operations.
const (
	OpBuild Operation = "build"
	OpPush  Operation = "push"
)

// Options are the collaborators shared by every Job.
type Options struct {
	Registry  *Registry
	Publisher events.Publisher
	Metrics   *Metrics
}

// CascadeFunc creates and starts the follow-up of a completed build.
type CascadeFunc func(ctx context.Context, completed *Job) (*Job, error)

// Job wraps one builder and at most one operation on it.
type Job struct {
	builder builder.Builder
	variant string
	opts    Options
	done    chan struct{}

	mu         sync.Mutex
	op         Operation
	started    bool
	ctx        context.Context
	err        error
	cascade    CascadeFunc
	next       *Job
	cascadeErr error
}

// New wraps b, adds it to the registry and attaches the Job as its
// delegate. A Job the registry rejects leaves the entity untouched.
func New(b builder.Builder, variant string, opts Options) (*Job, error) {
	if opts.Publisher == nil {
		opts.Publisher = events.Discard{}
	}
	j := &Job{builder: b, variant: variant, opts: opts, done: make(chan struct{})}
	if opts.Registry != nil {
		if err := opts.Registry.Add(j); err != nil {
			return nil, err
		}
	}
	b.Entity().SetDelegate(&delegate{job: j})
	return j, nil
}

// ID returns the identifier of the builder's entity.
func (j *Job) ID() string { return j.builder.Entity().ID() }

// Entity returns the observed state.
func (j *Job) Entity() *builder.Entity { return j.builder.Entity() }

// Variant returns the name of the builder variant.
func (j *Job) Variant() string { return j.variant }

// Operation returns the started operation, or "" before start.
func (j *Job) Operation() Operation {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.op
}

// Done is closed when the worker has finished.
func (j *Job) Done() <-chan struct{} { return j.done }

// Then sets the cascade run when a build completes.
func (j *Job) Then(fn CascadeFunc) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cascade = fn
}

// Next returns the job started by the cascade and the error creating it.
// Both are nil when no cascade ran.
func (j *Job) Next() (*Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.next, j.cascadeErr
}

// Build starts BuildImage on a new worker.
func (j *Job) Build(ctx context.Context, buildID string) error {
	return j.start(ctx, OpBuild, func(ctx context.Context) error {
		return j.builder.BuildImage(ctx, buildID)
	})
}

// Push starts PushImage on a new worker.
func (j *Job) Push(ctx context.Context, targetImageID, provider string, credentials []byte) error {
	return j.start(ctx, OpPush, func(ctx context.Context) error {
		return j.builder.PushImage(ctx, targetImageID, provider, credentials)
	})
}

// Abort asks the running operation to stop. It never blocks; the worker
// still tears down whatever it created.
func (j *Job) Abort() { j.builder.Abort() }

// Wait blocks until the worker ends and returns its error, or until ctx
// ends.
func (j *Job) Wait(ctx context.Context) error {
	j.mu.Lock()
	started := j.started
	j.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	select {
	case <-j.done:
		j.mu.Lock()
		defer j.mu.Unlock()
		return j.err
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func (j *Job) start(ctx context.Context, op Operation, fn func(context.Context) error) error {
	j.mu.Lock()
	if j.started {
		j.mu.Unlock()
		return ErrAlreadyStarted
	}
	j.started, j.op, j.ctx = true, op, ctx
	j.mu.Unlock()

	j.opts.Metrics.jobStarted(op, j.Entity().Target())
	logging.DebugContext(ctx, "job=%s starting %s with %s", j.ID(), op, j.variant)
	go j.run(ctx, op, fn)
	return nil
}

func (j *Job) run(ctx context.Context, op Operation, fn func(context.Context) error) {
	defer close(j.done)

	err := j.call(ctx, op, fn)
	e := j.Entity()
	if err == nil && !e.Status().Terminal() {
		err = fmt.Errorf("%s ended in non-terminal status %s", op, e.Status())
	}
	if err != nil {
		if !e.Status().Terminal() {
			e.SetError(err.Error())
			e.SetStatus(builder.StatusFailed)
		}
		ev := events.Event{Kind: events.KindFailure, FailureType: builder.FailureType(err), FailureInfo: err.Error()}
		if perr := j.publish(ctx, ev); perr != nil {
			logging.WarnContext(ctx, "job=%s: %v", j.ID(), perr)
		}
	}

	j.mu.Lock()
	j.err = err
	j.mu.Unlock()
}

func (j *Job) call(ctx context.Context, op Operation, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorContext(ctx, "job=%s %s panicked: %v\n%s", j.ID(), op, r, debug.Stack())
			err = fmt.Errorf("%s panicked: %v", op, r)
		}
	}()
	return fn(ctx)
}

// context returns the context of the started operation, for events and
// logs.
func (j *Job) context() context.Context {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.ctx == nil {
		return context.Background()
	}
	return j.ctx
}

func (j *Job) publish(ctx context.Context, ev events.Event) error {
	ev.JobID = j.ID()
	ev.Time = now()
	return j.opts.Publisher.Publish(ctx, ev)
}

func (j *Job) runCascade(ctx context.Context) {
	j.mu.Lock()
	fn := j.cascade
	op := j.op
	j.mu.Unlock()
	if fn == nil || op != OpBuild {
		return
	}
	// A build can still reach COMPLETED after an abort.
	if j.Entity().Aborted() {
		logging.WarnContext(ctx, "job=%s completed after an abort; follow-up skipped", j.ID())
		return
	}

	next, err := fn(context.WithoutCancel(ctx), j)
	if err != nil {
		logging.ErrorContext(ctx, "job=%s follow-up failed: %v", j.ID(), err)
	}
	j.mu.Lock()
	j.next, j.cascadeErr = next, err
	j.mu.Unlock()
}

// delegate is the builder.Delegate of a Job.
type delegate struct {
	builder.NopDelegate
	job *Job
}

func (d *delegate) ShouldUpdateStatus(e *builder.Entity, old, proposed builder.Status) bool {
	if builder.CanTransition(old, proposed) {
		return true
	}
	logging.WarnContext(d.job.context(), "job=%s rejected status change %s -> %s", e.ID(), old, proposed)
	return false
}

func (d *delegate) DidUpdateStatus(e *builder.Entity, old, current builder.Status) error {
	if old == current {
		return nil
	}
	j := d.job
	ctx := j.context()
	err := j.publish(ctx, events.Event{Kind: events.KindStatus, Old: old.String(), New: current.String()})
	j.opts.Metrics.statusReached(current)

	if current.Terminal() {
		j.opts.Metrics.teardownWarnings(len(e.Detail().Warnings))
		if r := j.opts.Registry; r != nil {
			r.Remove(e.ID())
		}
		if current == builder.StatusCompleted {
			j.runCascade(ctx)
		}
	}
	return err
}

func (d *delegate) ShouldUpdatePercentComplete(_ *builder.Entity, _, proposed int) bool {
	return proposed >= 0 && proposed <= 100
}

func (d *delegate) DidUpdatePercentComplete(_ *builder.Entity, old, current int) error {
	j := d.job
	return j.publish(j.context(), events.Event{
		Kind: events.KindPercentage,
		Old:  strconv.Itoa(old),
		New:  strconv.Itoa(current),
	})
}
