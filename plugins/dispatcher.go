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

package plugins

import (
	"context"
	"fmt"
	"strings"

	"github.com/cowdogmoo/foundry/builder"
	"github.com/cowdogmoo/foundry/job"
	"github.com/cowdogmoo/foundry/variants"
	"github.com/cowdogmoo/foundry/warehouse"
)

// Dispatcher resolves variants and wraps them in registered jobs.
type Dispatcher struct {
	table *Table
	deps  variants.Deps
	jobs  job.Options
}

// NewDispatcher creates a dispatcher over table. deps are handed to every
// variant, jobs to every Job.
func NewDispatcher(table *Table, deps variants.Deps, jobs job.Options) *Dispatcher {
	return &Dispatcher{table: table, deps: deps, jobs: jobs}
}

// Table returns the variant table.
func (d *Dispatcher) Table() *Table { return d.table }

// BuildJob creates a job that builds templateXML for target. Resolution
// errors are returned before any job exists.
func (d *Dispatcher) BuildJob(templateXML, target string) (*job.Job, error) {
	tpl, err := builder.ParseTemplate(templateXML)
	if err != nil {
		return nil, err
	}
	return d.newJob(tpl, target)
}

// PushJob creates a job that pushes targetImageID to provider. The variant
// is resolved from the template the target image was built from and the
// target family of provider ("ec2" for "ec2-us-west-2").
func (d *Dispatcher) PushJob(ctx context.Context, targetImageID, provider string) (*job.Job, error) {
	img, err := d.deps.Warehouse.TargetImage(ctx, targetImageID)
	if err != nil {
		return nil, err
	}
	tpl, err := d.deps.Warehouse.Template(ctx, img.Metadata[warehouse.KeyTemplateID])
	if err != nil {
		return nil, err
	}
	return d.newJob(tpl, TargetOf(provider))
}

// BuildThenPushJob creates a build job that, once COMPLETED, starts a push
// of the built image to provider.
func (d *Dispatcher) BuildThenPushJob(templateXML, target, provider string, credentials []byte) (*job.Job, error) {
	j, err := d.BuildJob(templateXML, target)
	if err != nil {
		return nil, err
	}
	j.Then(func(ctx context.Context, built *job.Job) (*job.Job, error) {
		next, err := d.PushJob(ctx, built.ID(), provider)
		if err != nil {
			return nil, fmt.Errorf("push %s to %s: %w", built.ID(), provider, err)
		}
		return next, next.Push(ctx, built.ID(), provider, credentials)
	})
	return j, nil
}

func (d *Dispatcher) newJob(tpl *builder.Template, target string) (*job.Job, error) {
	v, err := d.table.Resolve(tpl, target)
	if err != nil {
		return nil, err
	}
	b := v.New(tpl, strings.ToLower(strings.TrimSpace(target)), d.deps)
	return job.New(b, v.Name(), d.jobs)
}

// TargetOf returns the target family of a provider string.
func TargetOf(provider string) string {
	family, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(provider)), "-")
	return family
}
