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

// Package events carries job status changes to external observers.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cowdogmoo/foundry/logging"
)

// Kind is the type of an Event.
type Kind string

// Event kinds.
const (
	KindStatus     Kind = "STATUS"
	KindPercentage Kind = "PERCENTAGE"
	KindFailure    Kind = "FAILURE"
)

// Event is one observation of a job. Old and New are set for STATUS and
// PERCENTAGE events, FailureType and FailureInfo for FAILURE events.
type Event struct {
	JobID       string    `json:"job_id" yaml:"job_id"`
	Kind        Kind      `json:"kind" yaml:"kind"`
	Old         string    `json:"old,omitempty" yaml:"old,omitempty"`
	New         string    `json:"new,omitempty" yaml:"new,omitempty"`
	FailureType string    `json:"type,omitempty" yaml:"type,omitempty"`
	FailureInfo string    `json:"info,omitempty" yaml:"info,omitempty"`
	Time        time.Time `json:"time" yaml:"time"`
}

func (e Event) String() string {
	if e.Kind == KindFailure {
		return fmt.Sprintf("job=%s %s %s: %s", e.JobID, e.Kind, e.FailureType, e.FailureInfo)
	}
	return fmt.Sprintf("job=%s %s %s -> %s", e.JobID, e.Kind, e.Old, e.New)
}

// Publisher delivers events. Publish is called from the job's worker, so
// events of one job arrive in mutation order.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// LogPublisher writes events to the context logger.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.Kind == KindFailure {
		logging.WarnContext(ctx, "%s", ev)
		return nil
	}
	logging.DebugContext(ctx, "%s", ev)
	return nil
}

func (LogPublisher) Close() error { return nil }

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }

func (Discard) Close() error { return nil }

// Recorder keeps events in memory in publish order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of the recorded events, optionally restricted to
// one job.
func (r *Recorder) Events(jobID string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if jobID == "" || ev.JobID == jobID {
			out = append(out, ev)
		}
	}
	return out
}

// Values returns the New values of one job's events of kind k.
func (r *Recorder) Values(jobID string, k Kind) []string {
	var out []string
	for _, ev := range r.Events(jobID) {
		if ev.Kind == k {
			out = append(out, ev.New)
		}
	}
	return out
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
