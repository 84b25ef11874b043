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
	stderrors "errors"

	"github.com/cowdogmoo/foundry/errors"
	"github.com/cowdogmoo/foundry/logging"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxParallel is the number of operations run at once when none is
// configured.
const DefaultMaxParallel = 4

// Task is a job and the call that starts its operation.
type Task struct {
	Job   *Job
	Start func(ctx context.Context, j *Job) error
}

// BuildTask builds under the job's own id.
func BuildTask(j *Job) Task {
	return Task{Job: j, Start: func(ctx context.Context, j *Job) error { return j.Build(ctx, j.ID()) }}
}

// PushTask pushes targetImageID to provider.
func PushTask(j *Job, targetImageID, provider string, credentials []byte) Task {
	return Task{Job: j, Start: func(ctx context.Context, j *Job) error {
		return j.Push(ctx, targetImageID, provider, credentials)
	}}
}

// Orchestrator runs tasks with bounded parallelism.
type Orchestrator struct {
	maxParallel int
}

// NewOrchestrator creates an orchestrator running at most maxParallel
// operations at once.
func NewOrchestrator(maxParallel int) *Orchestrator {
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}
	return &Orchestrator{maxParallel: maxParallel}
}

// RunAll starts every task once a slot is free and waits for it and for any
// job its completion cascaded into. Every task runs even when another
// fails; the errors are joined. A task whose slot frees after ctx ended is
// still started so that it reaches a terminal status.
func (o *Orchestrator) RunAll(ctx context.Context, tasks []Task) error {
	logging.DebugContext(ctx, "running %d job(s), %d at a time", len(tasks), o.maxParallel)

	var g errgroup.Group
	g.SetLimit(o.maxParallel)
	errs := make([]error, len(tasks))

	for i, t := range tasks {
		g.Go(func() error {
			errs[i] = o.run(ctx, t)
			return nil
		})
	}
	_ = g.Wait()
	return stderrors.Join(errs...)
}

func (o *Orchestrator) run(ctx context.Context, t Task) error {
	if err := t.Start(ctx, t.Job); err != nil {
		return errors.Wrap("start job", t.Job.ID(), err)
	}
	// Wait is not bound to ctx: an interrupted job still reaches a terminal
	// status after teardown.
	if err := t.Job.Wait(context.WithoutCancel(ctx)); err != nil {
		return errors.Wrap("run "+string(t.Job.Operation()), t.Job.ID(), err)
	}

	next, err := t.Job.Next()
	if err != nil {
		return errors.Wrap("start follow-up", t.Job.ID(), err)
	}
	if next != nil {
		if err := next.Wait(context.WithoutCancel(ctx)); err != nil {
			return errors.Wrap("run "+string(next.Operation()), next.ID(), err)
		}
	}
	return nil
}
