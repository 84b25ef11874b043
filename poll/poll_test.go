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

package poll_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cowdogmoo/foundry/poll"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fast = poll.Policy{Interval: time.Millisecond, Attempts: 30}

func TestUntil_SucceedsOnThirdAttempt(t *testing.T) {
	t.Parallel()

	var calls int32
	start := time.Now()
	err := poll.Until(context.Background(), "instance", poll.Policy{Interval: 5 * time.Millisecond, Attempts: 30},
		func(context.Context) (bool, error) {
			return atomic.AddInt32(&calls, 1) == 3, nil
		}, nil)

	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Less(t, time.Since(start), 30*5*time.Millisecond, "must not wait for the full ceiling")
}

func TestUntil_TransientErrorsRetriedWithinCeiling(t *testing.T) {
	t.Parallel()

	transient := errors.New("InvalidInstanceID.NotFound")
	var calls int
	err := poll.Until(context.Background(), "instance", fast, func(context.Context) (bool, error) {
		calls++
		if calls < 4 {
			return false, transient
		}
		return true, nil
	}, func(err error) bool { return errors.Is(err, transient) })

	require.NoError(t, err)
	assert.Equal(t, 4, calls)
}

func TestUntil_CeilingReached(t *testing.T) {
	t.Parallel()

	var calls int
	err := poll.Until(context.Background(), "instance running", poll.Policy{Interval: time.Millisecond, Attempts: 5},
		func(context.Context) (bool, error) {
			calls++
			return false, nil
		}, nil)

	var timeout *poll.TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, 5, calls)
	assert.Equal(t, 5, timeout.Attempts)
	assert.Equal(t, "instance running", timeout.What)
	assert.NoError(t, timeout.Last)
}

func TestUntil_CeilingReachedWithTransientError(t *testing.T) {
	t.Parallel()

	flaky := errors.New("throttled")
	err := poll.Until(context.Background(), "image", poll.Policy{Interval: time.Millisecond, Attempts: 3},
		func(context.Context) (bool, error) { return false, flaky }, poll.AlwaysRetry)

	var timeout *poll.TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.ErrorIs(t, err, flaky)
}

func TestUntil_NonRetryableStopsImmediately(t *testing.T) {
	t.Parallel()

	fatal := errors.New("access denied")
	var calls int
	err := poll.Until(context.Background(), "instance", fast, func(context.Context) (bool, error) {
		calls++
		return false, fatal
	}, poll.NeverRetry)

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestUntil_PermanentOverridesPredicate(t *testing.T) {
	t.Parallel()

	terminated := errors.New("instance terminated")
	var calls int
	err := poll.Until(context.Background(), "instance", fast, func(context.Context) (bool, error) {
		calls++
		return false, poll.Permanent(terminated)
	}, poll.AlwaysRetry)

	assert.ErrorIs(t, err, terminated)
	var perm *poll.PermanentError
	assert.False(t, errors.As(err, &perm), "the wrapper is removed")
	assert.Equal(t, 1, calls)
}

func TestUntil_CancellationReturnsCause(t *testing.T) {
	t.Parallel()

	aborted := errors.New("operation aborted")
	ctx, cancel := context.WithCancelCause(context.Background())

	var calls int32
	go func() {
		for atomic.LoadInt32(&calls) < 2 {
			time.Sleep(time.Millisecond)
		}
		cancel(aborted)
	}()

	err := poll.Until(ctx, "instance", poll.Policy{Interval: 2 * time.Millisecond, Attempts: 10000},
		func(context.Context) (bool, error) {
			atomic.AddInt32(&calls, 1)
			return false, nil
		}, nil)

	assert.ErrorIs(t, err, aborted)
	assert.Less(t, atomic.LoadInt32(&calls), int32(10000))
}

func TestUntil_AlreadyCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int
	err := poll.Until(ctx, "instance", fast, func(context.Context) (bool, error) {
		calls++
		return true, nil
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestUntil_InvalidPolicy(t *testing.T) {
	t.Parallel()

	cond := func(context.Context) (bool, error) { return true, nil }
	require.Error(t, poll.Until(context.Background(), "x", poll.Policy{Interval: time.Second}, cond, nil))
	require.Error(t, poll.Until(context.Background(), "x", poll.Policy{Attempts: 3}, cond, nil))
}

func TestUntil_SingleAttempt(t *testing.T) {
	t.Parallel()

	var calls int
	err := poll.Until(context.Background(), "x", poll.Policy{Interval: time.Hour, Attempts: 1},
		func(context.Context) (bool, error) {
			calls++
			return false, nil
		}, nil)

	var timeout *poll.TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, 1, calls)
}
