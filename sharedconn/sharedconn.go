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

// Package sharedconn serializes access to clients that allow only one live
// connection per process.
//
// A Scoped value bundles the lock with how to open and close the connection,
// so every caller goes through the same acquire, open, use, close, release
// sequence:
//
//	err := scoped.Do(ctx, func(ctx context.Context, c *Session) error {
//	    return c.DeleteServer(ctx, id)
//	})
package sharedconn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cowdogmoo/foundry/builder"
	"github.com/cowdogmoo/foundry/logging"
	"golang.org/x/sync/semaphore"
)

// Lock is a mutual-exclusion lock whose acquisition honors a context and a
// timeout.
type Lock struct {
	name    string
	timeout time.Duration
	sem     *semaphore.Weighted
}

// NewLock creates a lock named after the resource it guards. A non-positive
// timeout waits as long as the context allows.
func NewLock(name string, timeout time.Duration) *Lock {
	return &Lock{name: name, timeout: timeout, sem: semaphore.NewWeighted(1)}
}

// Name returns the guarded resource name.
func (l *Lock) Name() string { return l.name }

// Guard is a held lock. Release is idempotent.
type Guard struct {
	once sync.Once
	lock *Lock
}

// Release gives the lock back.
func (g *Guard) Release() {
	g.once.Do(func() { g.lock.sem.Release(1) })
}

// Acquire blocks until the lock is held, ctx ends or the timeout passes.
// Failure returns *builder.ContentionError.
func (l *Lock) Acquire(ctx context.Context) (*Guard, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	// Prefer a context that is already done over a free lock.
	if err := ctx.Err(); err != nil {
		return nil, &builder.ContentionError{Resource: l.name, Err: context.Cause(ctx)}
	}

	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, &builder.ContentionError{Resource: l.name, Err: context.Cause(ctx)}
	}
	return &Guard{lock: l}, nil
}

// Scoped couples a Lock with how to open and close the guarded connection.
type Scoped[C any] struct {
	lock  *Lock
	open  func(ctx context.Context) (C, error)
	close func(C) error
}

// NewScoped creates a scoped connection helper.
func NewScoped[C any](lock *Lock, open func(ctx context.Context) (C, error), close func(C) error) *Scoped[C] {
	return &Scoped[C]{lock: lock, open: open, close: close}
}

// Do acquires the lock, opens a connection, runs fn and closes the
// connection. The lock is released on every path, including a failing close.
// A close error is returned only when fn succeeded.
func (s *Scoped[C]) Do(ctx context.Context, fn func(ctx context.Context, conn C) error) (err error) {
	guard, err := s.lock.Acquire(ctx)
	if err != nil {
		return err
	}
	defer guard.Release()

	conn, err := s.open(ctx)
	if err != nil {
		return fmt.Errorf("open %s connection: %w", s.lock.name, err)
	}

	defer func() {
		if cerr := s.close(conn); cerr != nil {
			logging.WarnContext(ctx, "closing %s connection: %v", s.lock.name, cerr)
			if err == nil {
				err = fmt.Errorf("close %s connection: %w", s.lock.name, cerr)
			}
		}
	}()

	return fn(ctx, conn)
}
