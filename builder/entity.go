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

package builder

import (
	"context"
	"sync"

	"github.com/cowdogmoo/foundry/logging"
	"github.com/google/uuid"
)

// Delegate observes and may intercept writes to an Entity's status and
// percent-complete. Embed NopDelegate to implement only some hooks.
type Delegate interface {
	ShouldUpdateStatus(e *Entity, old, proposed Status) bool
	WillUpdateStatus(e *Entity, old, proposed Status) Status
	DidUpdateStatus(e *Entity, old, current Status) error

	ShouldUpdatePercentComplete(e *Entity, old, proposed int) bool
	WillUpdatePercentComplete(e *Entity, old, proposed int) int
	DidUpdatePercentComplete(e *Entity, old, current int) error
}

// NopDelegate lets every write through unchanged and ignores notifications.
type NopDelegate struct{}

func (NopDelegate) ShouldUpdateStatus(*Entity, Status, Status) bool { return true }

func (NopDelegate) WillUpdateStatus(_ *Entity, _, proposed Status) Status { return proposed }

func (NopDelegate) DidUpdateStatus(*Entity, Status, Status) error { return nil }

func (NopDelegate) ShouldUpdatePercentComplete(*Entity, int, int) bool { return true }

func (NopDelegate) WillUpdatePercentComplete(_ *Entity, _, proposed int) int { return proposed }

func (NopDelegate) DidUpdatePercentComplete(*Entity, int, int) error { return nil }

// StatusDetail annotates the status for humans. It is not part of the state
// machine.
type StatusDetail struct {
	Activity string   `json:"activity" yaml:"activity"`
	Error    string   `json:"error,omitempty" yaml:"error,omitempty"`
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Entity is the state of one build or push operation.
type Entity struct {
	id       string
	template *Template
	target   string

	status  Field[Status]
	percent Field[int]

	mu         sync.RWMutex
	detail     StatusDetail
	descriptor string
	delegate   Delegate

	abortMu sync.Mutex
	aborted bool
	cancel  context.CancelCauseFunc
}

// NewEntity creates an entity in status NEW with a fresh identifier.
func NewEntity(tpl *Template, target string) *Entity {
	e := &Entity{
		id:       uuid.NewString(),
		template: tpl,
		target:   target,
	}
	e.status.value = StatusNew
	return e
}

// ID returns the immutable identifier.
func (e *Entity) ID() string { return e.id }

// Template returns the template the entity was created from. It may be nil
// for push operations whose template is loaded from the warehouse.
func (e *Entity) Template() *Template { return e.template }

// Target returns the requested target platform.
func (e *Entity) Target() string { return e.target }

// Status returns the current status.
func (e *Entity) Status() Status { return e.status.Get() }

// PercentComplete returns the current progress, 0 to 100.
func (e *Entity) PercentComplete() int { return e.percent.Get() }

// SetDelegate attaches d, or detaches the current delegate when d is nil.
func (e *Entity) SetDelegate(d Delegate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delegate = d
}

// Delegate returns the attached delegate, or nil.
func (e *Entity) Delegate() Delegate {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.delegate
}

// SetStatus writes s through the delegate protocol and reports whether it was
// committed.
func (e *Entity) SetStatus(s Status) bool {
	var hooks *Hooks[Status]
	if d := e.Delegate(); d != nil {
		hooks = &Hooks[Status]{
			Should: func(old, proposed Status) bool { return d.ShouldUpdateStatus(e, old, proposed) },
			Will:   func(old, proposed Status) Status { return d.WillUpdateStatus(e, old, proposed) },
			Did:    func(old, current Status) error { return d.DidUpdateStatus(e, old, current) },
		}
	}

	committed, err := e.status.Set(s, hooks)
	if err != nil {
		logging.Warn("job=%s status update to %s: %v", e.id, s, err)
	}
	return committed
}

// SetPercentComplete writes p through the delegate protocol and reports
// whether it was committed.
func (e *Entity) SetPercentComplete(p int) bool {
	var hooks *Hooks[int]
	if d := e.Delegate(); d != nil {
		hooks = &Hooks[int]{
			Should: func(old, proposed int) bool { return d.ShouldUpdatePercentComplete(e, old, proposed) },
			Will:   func(old, proposed int) int { return d.WillUpdatePercentComplete(e, old, proposed) },
			Did:    func(old, current int) error { return d.DidUpdatePercentComplete(e, old, current) },
		}
	}

	committed, err := e.percent.Set(p, hooks)
	if err != nil {
		logging.Warn("job=%s percent update to %d: %v", e.id, p, err)
	}
	return committed
}

// Detail returns a copy of the status detail.
func (e *Entity) Detail() StatusDetail {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d := e.detail
	d.Warnings = append([]string(nil), e.detail.Warnings...)
	return d
}

// SetActivity records what the operation is doing now.
func (e *Entity) SetActivity(activity string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.detail.Activity = activity
}

// SetError records the error that ended the operation.
func (e *Entity) SetError(msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.detail.Error = msg
}

// AddWarning appends a non-fatal problem, such as a failed teardown step.
func (e *Entity) AddWarning(msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.detail.Warnings = append(e.detail.Warnings, msg)
}

// OutputDescriptor returns the descriptor produced by the operation, or ""
// when there is none.
func (e *Entity) OutputDescriptor() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.descriptor
}

// SetOutputDescriptor records the descriptor produced by the operation.
func (e *Entity) SetOutputDescriptor(descriptor string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.descriptor = descriptor
}

// Begin derives the context an operation runs under. Abort cancels it with
// cause ErrAborted; an Abort that arrived before Begin cancels it at once.
// The returned function releases the context when the operation ends.
func (e *Entity) Begin(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)

	e.abortMu.Lock()
	if e.aborted {
		cancel(ErrAborted)
	}
	e.cancel = cancel
	e.abortMu.Unlock()

	return ctx, func() {
		e.abortMu.Lock()
		e.cancel = nil
		e.abortMu.Unlock()
		cancel(context.Canceled)
	}
}

// Abort requests cancellation of the running operation. It never blocks.
func (e *Entity) Abort() {
	e.abortMu.Lock()
	defer e.abortMu.Unlock()
	e.aborted = true
	if e.cancel != nil {
		e.cancel(ErrAborted)
	}
}

// Aborted reports whether Abort has been called.
func (e *Entity) Aborted() bool {
	e.abortMu.Lock()
	defer e.abortMu.Unlock()
	return e.aborted
}
