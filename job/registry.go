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
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cowdogmoo/foundry/builder"
)

// ErrRetired is returned when adding a Job whose status is already terminal.
var ErrRetired = errors.New("job already reached a terminal status")

var now = time.Now

type entry struct {
	job   *Job
	added time.Time
	seq   uint64
}

// Registry is the table of live jobs. A job leaves it when its status
// becomes terminal and cannot come back.
type Registry struct {
	mu      sync.RWMutex
	jobs    map[string]entry
	seq     uint64
	metrics *Metrics
}

// NewRegistry creates an empty registry. m may be nil.
func NewRegistry(m *Metrics) *Registry {
	return &Registry{jobs: map[string]entry{}, metrics: m}
}

// Add registers j.
func (r *Registry) Add(j *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s := j.Entity().Status(); s.Terminal() {
		return fmt.Errorf("add job %s: %w (%s)", j.ID(), ErrRetired, s)
	}
	if _, ok := r.jobs[j.ID()]; ok {
		return fmt.Errorf("job %s is already registered", j.ID())
	}
	r.seq++
	r.jobs[j.ID()] = entry{job: j, added: now(), seq: r.seq}
	r.metrics.live(len(r.jobs))
	return nil
}

// Remove drops the job with id and reports whether it was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return false
	}
	delete(r.jobs, id)
	r.metrics.live(len(r.jobs))
	return true
}

// Get returns the live job with id.
func (r *Registry) Get(id string) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.jobs[id]
	return e.job, ok
}

// List returns the live jobs in the order they were added.
func (r *Registry) List() []*Job {
	r.mu.RLock()
	entries := make([]entry, 0, len(r.jobs))
	for _, e := range r.jobs {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(a, b int) bool { return entries[a].seq < entries[b].seq })
	jobs := make([]*Job, len(entries))
	for i, e := range entries {
		jobs[i] = e.job
	}
	return jobs
}

// Len returns the number of live jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// AbortAll aborts every live job and returns how many were signalled.
func (r *Registry) AbortAll() int {
	jobs := r.List()
	for _, j := range jobs {
		j.Abort()
	}
	return len(jobs)
}

// Summary is a snapshot of one job for listings.
type Summary struct {
	ID         string               `json:"id" yaml:"id"`
	Variant    string               `json:"variant" yaml:"variant"`
	Operation  Operation            `json:"operation,omitempty" yaml:"operation,omitempty"`
	Target     string               `json:"target" yaml:"target"`
	Status     builder.Status       `json:"status" yaml:"status"`
	Percent    int                  `json:"percent_complete" yaml:"percent_complete"`
	Detail     builder.StatusDetail `json:"status_detail" yaml:"status_detail"`
	Descriptor string               `json:"descriptor,omitempty" yaml:"descriptor,omitempty"`
}

// Summary returns a snapshot of j.
func (j *Job) Summary() Summary {
	e := j.Entity()
	return Summary{
		ID:         e.ID(),
		Variant:    j.variant,
		Operation:  j.Operation(),
		Target:     e.Target(),
		Status:     e.Status(),
		Percent:    e.PercentComplete(),
		Detail:     e.Detail(),
		Descriptor: e.OutputDescriptor(),
	}
}
