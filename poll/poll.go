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

// Package poll runs bounded readiness loops: a fixed interval, an attempt
// ceiling, a predicate deciding which errors are worth another attempt, and
// a context checked before every attempt.
//
// Every provisioning wait (instance running, remote shell reachable, volume
// or snapshot available, image registered) goes through Until.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is one loop's budget.
type Policy struct {
	Interval time.Duration
	Attempts int
}

// Condition reports whether the awaited state was reached. A non-nil error
// consumes an attempt when the Retryable predicate accepts it, and ends the
// loop otherwise.
type Condition func(ctx context.Context) (done bool, err error)

// Retryable decides whether an error from a Condition is transient.
type Retryable func(err error) bool

// AlwaysRetry treats every error as transient.
func AlwaysRetry(error) bool { return true }

// NeverRetry treats every error as fatal.
func NeverRetry(error) bool { return false }

// errNotReady marks an attempt that succeeded but found the state not yet
// reached.
var errNotReady = errors.New("not ready")

// TimeoutError is returned when the attempt ceiling is reached.
type TimeoutError struct {
	What     string
	Attempts int
	Budget   time.Duration
	// Last is the error of the final attempt, nil when the state simply
	// never became ready.
	Last error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("%s not ready after %d attempts (%s)", e.What, e.Attempts, e.Budget)
	if e.Last != nil {
		msg += fmt.Sprintf(": last error: %v", e.Last)
	}
	return msg
}

func (e *TimeoutError) Unwrap() error { return e.Last }

// PermanentError wraps an error a Condition wants to end the loop with
// regardless of the Retryable predicate, e.g. an instance that went to
// "terminated" while we waited for "running".
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Until stops at once.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Until calls cond every p.Interval until it reports done, at most
// p.Attempts times. The first attempt runs immediately.
//
// It returns nil on success, the context cause when ctx ends first, the
// unwrapped error of a non-retryable or permanent failure, or *TimeoutError
// when the ceiling is reached.
func Until(ctx context.Context, what string, p Policy, cond Condition, retryable Retryable) error {
	if p.Attempts < 1 || p.Interval <= 0 {
		return fmt.Errorf("invalid poll policy for %s: interval %s, attempts %d", what, p.Interval, p.Attempts)
	}
	if retryable == nil {
		retryable = AlwaysRetry
	}

	var (
		attempts int
		last     error
	)
	op := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(context.Cause(ctx))
		}
		attempts++

		done, err := cond(ctx)
		switch {
		case err != nil:
			var perm *PermanentError
			if errors.As(err, &perm) {
				return backoff.Permanent(perm.Err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(context.Cause(ctx))
			}
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			last = err
			return err
		case !done:
			last = nil
			return errNotReady
		default:
			return nil
		}
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Interval), uint64(p.Attempts-1)),
		ctx,
	)

	err := backoff.Retry(op, b)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil && (errors.Is(err, ctx.Err()) || errors.Is(err, context.Cause(ctx))):
		return context.Cause(ctx)
	case attempts >= p.Attempts && (errors.Is(err, errNotReady) || (last != nil && errors.Is(err, last))):
		return &TimeoutError{What: what, Attempts: attempts, Budget: time.Duration(p.Attempts) * p.Interval, Last: last}
	default:
		return err
	}
}
