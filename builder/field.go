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
	"fmt"
	"sync"
)

// Hooks are the delegate callbacks consulted by Field.Set. A nil Hooks, or a
// nil member, means "proceed unchanged".
type Hooks[T comparable] struct {
	// Should may veto a write; the field then keeps its value.
	Should func(old, proposed T) bool
	// Will may replace the proposed value before it is committed.
	Will func(old, proposed T) T
	// Did observes a committed write. Its error never undoes the commit.
	Did func(old, current T) error
}

// Field is a value whose writes go through the veto, transform, commit,
// notify protocol. The zero value is ready to use.
//
// Writes are serialized so that Did callbacks observe commits in order; reads
// never wait on a write in progress.
type Field[T comparable] struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	value   T
}

// NewField returns a Field holding initial.
func NewField[T comparable](initial T) *Field[T] {
	return &Field[T]{value: initial}
}

// Get returns the current value.
func (f *Field[T]) Get() T {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.value
}

// Set writes v through hooks. It reports whether a value was committed and
// returns the error raised by the Did hook, if any.
func (f *Field[T]) Set(v T, hooks *Hooks[T]) (committed bool, err error) {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	old := f.Get()
	if hooks == nil {
		f.store(v)
		return true, nil
	}

	if hooks.Should != nil && !hooks.Should(old, v) {
		return false, nil
	}
	if hooks.Will != nil {
		v = hooks.Will(old, v)
	}

	f.store(v)

	if hooks.Did == nil {
		return true, nil
	}
	return true, callDid(hooks.Did, old, v)
}

func (f *Field[T]) store(v T) {
	f.mu.Lock()
	f.value = v
	f.mu.Unlock()
}

func callDid[T comparable](did func(old, current T) error, old, current T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("did-update hook panicked: %v", r)
		}
	}()
	return did(old, current)
}
