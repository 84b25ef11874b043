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

// Package mock is the no-op builder variant. It records templates and images
// in the warehouse without creating any remote resource, which keeps smoke
// tests independent of any cloud.
package mock

import (
	"context"

	"github.com/cowdogmoo/foundry/builder"
	"github.com/cowdogmoo/foundry/variants"
	"github.com/cowdogmoo/foundry/warehouse"
)

// Target is the target name that always selects this variant.
const Target = "mock"

// Name is the variant name.
const Name = "Mock_mock_Builder"

// Builder is the mock variant.
type Builder struct {
	variants.Base
	warehouse warehouse.Warehouse
}

var _ builder.Builder = (*Builder)(nil)

// New creates a mock builder. It satisfies variants.Constructor.
func New(tpl *builder.Template, target string, deps variants.Deps) builder.Builder {
	return &Builder{Base: variants.NewBase(tpl, target), warehouse: deps.Warehouse}
}

// BuildImage stores the template and a target image record for buildID.
func (b *Builder) BuildImage(ctx context.Context, buildID string) error {
	e := b.Entity()
	ctx, done := e.Begin(ctx)
	defer done()

	if err := variants.Interrupted(ctx); err != nil {
		return b.Fail(ctx, &builder.BuildError{BuildID: buildID, Err: err})
	}
	e.SetStatus(builder.StatusBuilding)
	e.SetActivity("recording template")

	tplID, err := b.warehouse.StoreTemplate(ctx, e.Template())
	if err != nil {
		return b.Fail(ctx, &builder.BuildError{BuildID: buildID, Err: err})
	}
	md := warehouse.Metadata{
		warehouse.KeyTarget:            e.Target(),
		warehouse.KeyTemplateID:        tplID,
		warehouse.KeyIcicleID:          warehouse.NoIcicle,
		warehouse.KeyTargetIdentifier:  "mock-" + buildID,
		warehouse.KeyProviderAccountID: Target,
	}
	if err := b.warehouse.StoreTargetImage(ctx, buildID, md); err != nil {
		return b.Fail(ctx, &builder.BuildError{BuildID: buildID, Err: err})
	}

	b.Complete()
	return nil
}

// PushImage records a provider image for targetImageID without contacting
// the provider.
func (b *Builder) PushImage(ctx context.Context, targetImageID, provider string, _ []byte) error {
	e := b.Entity()
	ctx, done := e.Begin(ctx)
	defer done()

	wrap := func(err error) error {
		return &builder.PushError{TargetImageID: targetImageID, Provider: provider, Err: err}
	}
	if err := variants.Interrupted(ctx); err != nil {
		return b.Fail(ctx, wrap(err))
	}
	e.SetStatus(builder.StatusPushing)
	e.SetActivity("recording provider image")

	img, err := b.warehouse.TargetImage(ctx, targetImageID)
	if err != nil {
		return b.Fail(ctx, wrap(err))
	}
	md := warehouse.Metadata{
		warehouse.KeyTarget:            e.Target(),
		warehouse.KeyTemplateID:        img.Metadata[warehouse.KeyTemplateID],
		warehouse.KeyIcicleID:          img.Metadata[warehouse.KeyIcicleID],
		warehouse.KeyTargetIdentifier:  "mock-" + e.ID(),
		warehouse.KeyProviderAccountID: Target,
		warehouse.KeyTargetImage:       targetImageID,
		warehouse.KeyProvider:          provider,
	}
	if err := b.warehouse.CreateProviderImage(ctx, e.ID(), md); err != nil {
		return b.Fail(ctx, wrap(err))
	}

	b.Complete()
	return nil
}
