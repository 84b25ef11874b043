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

// Package variants holds what every builder variant shares: the
// collaborators it is constructed with and the bookkeeping around its
// entity.
package variants

import (
	"context"
	"errors"
	"fmt"

	"github.com/cowdogmoo/foundry/builder"
	"github.com/cowdogmoo/foundry/config"
	"github.com/cowdogmoo/foundry/logging"
	"github.com/cowdogmoo/foundry/provision"
	"github.com/cowdogmoo/foundry/warehouse"
)

// Deps are the collaborators handed to every variant constructor.
type Deps struct {
	Config    *config.Config
	Warehouse warehouse.Warehouse
	Providers []provision.Factory
	Engine    provision.Options
}

// Constructor creates a variant for one operation.
type Constructor func(tpl *builder.Template, target string, deps Deps) builder.Builder

// Provider opens the provider named by provider with credentials.
func (d Deps) Provider(ctx context.Context, provider string, credentials []byte) (provision.Provider, error) {
	for _, f := range d.Providers {
		if f.Handles(provider) {
			return f.New(ctx, provider, credentials)
		}
	}
	return nil, fmt.Errorf("no provider handles %q", provider)
}

// Base implements the entity half of builder.Builder.
type Base struct {
	entity *builder.Entity
}

// NewBase creates the entity for tpl and target.
func NewBase(tpl *builder.Template, target string) Base {
	return Base{entity: builder.NewEntity(tpl, target)}
}

// Entity returns the observed state of the operation.
func (b *Base) Entity() *builder.Entity { return b.entity }

// Abort signals the running operation. Teardown still runs in the worker.
func (b *Base) Abort() { b.entity.Abort() }

// Progress returns a provision.Reporter that mirrors engine milestones into
// the entity.
func (b *Base) Progress() provision.Reporter {
	return provision.ReporterFunc(func(percent int, activity string) {
		b.entity.SetActivity(activity)
		b.entity.SetPercentComplete(percent)
	})
}

// Warn records teardown warnings in the status detail.
func (b *Base) Warn(ctx context.Context, warnings []*builder.TeardownWarning) {
	for _, w := range warnings {
		logging.WarnContext(ctx, "job=%s %v", b.entity.ID(), w)
		b.entity.AddWarning(w.Error())
	}
}

// Complete moves the entity to COMPLETED with percent 100.
func (b *Base) Complete() {
	b.entity.SetActivity("done")
	b.entity.SetPercentComplete(100)
	b.entity.SetStatus(builder.StatusCompleted)
}

// Fail records err and moves the entity to FAILED. It returns err.
func (b *Base) Fail(ctx context.Context, err error) error {
	logging.ErrorContext(ctx, "job=%s: %v", b.entity.ID(), err)
	b.entity.SetError(err.Error())
	b.entity.SetStatus(builder.StatusFailed)
	return err
}

// Interrupted returns the cause of a context that already ended, ErrAborted
// for an abort, so a variant can stop before touching any collaborator.
func Interrupted(ctx context.Context) error {
	if err := context.Cause(ctx); err != nil {
		if errors.Is(err, builder.ErrAborted) {
			return builder.ErrAborted
		}
		return err
	}
	return nil
}
