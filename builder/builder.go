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

// Package builder defines what every image builder variant provides and the
// state each in-flight operation carries.
//
// # Architecture
//
// The package is organized into a few small pieces:
//
//   - Contract (builder.go): the Builder interface implemented by every variant
//   - Entity (entity.go): identity, template, target, status, progress and detail
//   - Observed fields (field.go): the should/will/did-update protocol behind
//     status and percent-complete writes
//   - State machine (status.go): the legal status edges and terminal states
//   - Template and descriptor (template.go, descriptor.go): the XML documents a
//     build consumes and produces
//   - Errors (errors.go): the error taxonomy shared by variants, the
//     provisioning engine and the job layer
//
// # Delegates
//
// An Entity may have one Delegate. Every write to status or percent-complete
// runs four steps in a fixed order:
//
//	veto (Should*) -> transform (Will*) -> commit -> notify (Did*)
//
// The job layer installs itself as the delegate before any worker starts, so
// the state machine is enforced and events are emitted from the first write.
// Without a delegate a write is a plain assignment.
//
// # Import Cycles
//
// Apart from logging, this package imports nothing from the rest of the
// module. Variants, provisioning and jobs all depend on it.
package builder

import "context"

// Builder is the capability every builder variant provides.
//
// BuildImage and PushImage run on the caller's goroutine until the operation
// reaches a terminal status; the job layer runs them on a dedicated worker.
// Abort may be called from any goroutine at any time. It never blocks and
// never frees resources itself: it cancels the operation's context so the
// running provisioning steps stop polling and proceed to teardown.
type Builder interface {
	// BuildImage builds a target image from the entity's template. Failures
	// are returned as *BuildError.
	BuildImage(ctx context.Context, buildID string) error

	// PushImage publishes a previously built target image to provider using
	// the opaque credentials blob. Failures are returned as *PushError.
	PushImage(ctx context.Context, targetImageID, provider string, credentials []byte) error

	// Abort requests cancellation of the in-flight operation.
	Abort()

	// Entity exposes the status, progress and detail fields of the operation.
	Entity() *Entity
}
