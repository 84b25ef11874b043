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
	"fmt"
	"sync"
	"testing"

	"github.com/cowdogmoo/foundry/builder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ListInAddOrder(t *testing.T) {
	t.Parallel()

	h := newHarness()
	var ids []string
	for range 5 {
		j := h.newJob(t, newFake("mock"))
		ids = append(ids, j.ID())
	}

	var listed []string
	for _, j := range h.registry.List() {
		listed = append(listed, j.ID())
	}
	assert.Equal(t, ids, listed)

	assert.True(t, h.registry.Remove(ids[2]))
	assert.False(t, h.registry.Remove(ids[2]))
	assert.Len(t, h.registry.List(), 4)
}

func TestRegistry_DuplicateAdd(t *testing.T) {
	t.Parallel()

	h := newHarness()
	j := h.newJob(t, newFake("mock"))
	err := h.registry.Add(j)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
	assert.Equal(t, 1, h.registry.Len())
}

func TestRegistry_ConcurrentJobs(t *testing.T) {
	t.Parallel()

	h := newHarness()
	const n = 32

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fb := newFake("mock")
			fb.BuildFunc = succeed
			j, err := New(fb, "Fake_mock_Builder", h.opts)
			if err != nil {
				errs <- err
				return
			}
			_ = h.registry.List()
			if err := j.Build(context.Background(), fmt.Sprint(i)); err != nil {
				errs <- err
				return
			}
			errs <- j.Wait(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 0, h.registry.Len())
	assert.Len(t, h.recorder.Events(""), n*4)
}

func TestRegistry_AbortAllSignalsEveryJob(t *testing.T) {
	t.Parallel()

	h := newHarness()
	var fakes []*fakeBuilder
	for range 3 {
		fb := newFake("ec2")
		h.newJob(t, fb)
		fakes = append(fakes, fb)
	}

	assert.Equal(t, 3, h.registry.AbortAll())
	for _, fb := range fakes {
		assert.True(t, fb.Entity().Aborted())
		assert.Equal(t, builder.StatusNew, fb.Entity().Status())
	}
}
