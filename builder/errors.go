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
	"errors"
	"fmt"
	"strings"
)

// ErrAborted is the cancellation cause of an aborted operation. It is a
// signal, not a failure of any provider call.
var ErrAborted = errors.New("operation aborted")

// ResolutionError means no builder variant matches the requested OS family
// and target. No resource has been touched when it is returned.
type ResolutionError struct {
	OSName      string
	Target      string
	Reason      string
	Suggestions []string
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("no builder for os %q and target %q: %s", e.OSName, e.Target, e.Reason)
	if len(e.Suggestions) > 0 {
		msg += fmt.Sprintf(" (did you mean %s?)", strings.Join(e.Suggestions, ", "))
	}
	return msg
}

// ProvisioningError is a failure while creating, polling or using remote
// resources. Teardown has still run when it is returned.
type ProvisioningError struct {
	Step string
	Err  error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning failed at %s: %v", e.Step, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// TeardownWarning is a failure to destroy an ephemeral resource. It is
// recorded in the status detail and never changes an operation's outcome.
type TeardownWarning struct {
	Resource string
	ID       string
	Err      error
}

func (e *TeardownWarning) Error() string {
	return fmt.Sprintf("teardown of %s %s failed: %v", e.Resource, e.ID, e.Err)
}

func (e *TeardownWarning) Unwrap() error { return e.Err }

// ContentionError means the shared-resource lock guarding a single-connection
// client could not be acquired. The guarded call did not run.
type ContentionError struct {
	Resource string
	Err      error
}

func (e *ContentionError) Error() string {
	return fmt.Sprintf("could not acquire shared connection to %s: %v", e.Resource, e.Err)
}

func (e *ContentionError) Unwrap() error { return e.Err }

// BuildError is the error returned by Builder.BuildImage.
type BuildError struct {
	BuildID string
	Err     error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build %s failed: %v", e.BuildID, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// PushError is the error returned by Builder.PushImage.
type PushError struct {
	TargetImageID string
	Provider      string
	Err           error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("push of %s to %s failed: %v", e.TargetImageID, e.Provider, e.Err)
}

func (e *PushError) Unwrap() error { return e.Err }

// FailureType names the category of err for FAILURE events and status detail.
func FailureType(err error) string {
	var (
		resolution *ResolutionError
		provision  *ProvisioningError
		contention *ContentionError
	)
	switch {
	case errors.Is(err, ErrAborted):
		return "AbortRequested"
	case errors.As(err, &resolution):
		return "ResolutionError"
	case errors.As(err, &contention):
		return "SharedResourceContention"
	case errors.As(err, &provision):
		return "ProvisioningError"
	default:
		return "Error"
	}
}
