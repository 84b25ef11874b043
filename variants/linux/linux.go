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

// Package linux implements snapshot builders for RPM and Debian based
// distributions on EC2 and OpenStack. A build boots the family's base
// image, installs the template packages, runs its commands, inventories the
// result and registers the instance as a new image.
package linux

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/cowdogmoo/foundry/builder"
	"github.com/cowdogmoo/foundry/config"
	"github.com/cowdogmoo/foundry/errors"
	"github.com/cowdogmoo/foundry/logging"
	"github.com/cowdogmoo/foundry/provision"
	"github.com/cowdogmoo/foundry/remote"
	"github.com/cowdogmoo/foundry/variants"
	"github.com/cowdogmoo/foundry/warehouse"
)

// Builder is the snapshot variant for one family and target.
type Builder struct {
	variants.Base
	family Family
	deps   variants.Deps
}

var _ builder.Builder = (*Builder)(nil)

// New returns the constructor for family.
func New(family Family) variants.Constructor {
	return func(tpl *builder.Template, target string, deps variants.Deps) builder.Builder {
		if deps.Config == nil {
			deps.Config = config.Default()
		}
		return &Builder{Base: variants.NewBase(tpl, target), family: family, deps: deps}
	}
}

// BuildImage runs a snapshot build on the entity's target using the ambient
// credentials of that cloud and records the result under buildID.
func (b *Builder) BuildImage(ctx context.Context, buildID string) error {
	e := b.Entity()
	ctx, done := e.Begin(ctx)
	defer done()

	fail := func(err error) error {
		return b.Fail(ctx, &builder.BuildError{BuildID: buildID, Err: err})
	}
	if err := variants.Interrupted(ctx); err != nil {
		return fail(err)
	}
	e.SetStatus(builder.StatusBuilding)

	tpl := e.Template()
	if tpl == nil {
		return fail(fmt.Errorf("build %s has no template", buildID))
	}
	res, providerName, err := b.provision(ctx, e.Target(), nil, tpl, nil)
	if err != nil {
		return fail(err)
	}

	e.SetStatus(builder.StatusFinishing)
	e.SetActivity("recording image")
	tplID, err := b.deps.Warehouse.StoreTemplate(ctx, tpl)
	if err != nil {
		return fail(err)
	}
	icicleID, err := b.deps.Warehouse.StoreIcicle(ctx, res.Descriptor)
	if err != nil {
		return fail(err)
	}
	md := warehouse.Metadata{
		warehouse.KeyTarget:            e.Target(),
		warehouse.KeyTemplateID:        tplID,
		warehouse.KeyIcicleID:          icicleID,
		warehouse.KeyTargetIdentifier:  res.ImageID,
		warehouse.KeyProviderAccountID: res.AccountID,
		warehouse.KeyProvider:          providerName,
	}
	if err := b.deps.Warehouse.StoreTargetImage(ctx, buildID, md); err != nil {
		return fail(err)
	}

	e.SetOutputDescriptor(res.Descriptor)
	b.Complete()
	logging.InfoContext(ctx, "job=%s built %s on %s", e.ID(), res.ImageID, providerName)
	return nil
}

// PushImage replays the template of targetImageID on provider with the given
// credentials and records the provider image under the entity id.
func (b *Builder) PushImage(ctx context.Context, targetImageID, provider string, credentials []byte) error {
	e := b.Entity()
	ctx, done := e.Begin(ctx)
	defer done()

	fail := func(err error) error {
		return b.Fail(ctx, &builder.PushError{TargetImageID: targetImageID, Provider: provider, Err: err})
	}
	if err := variants.Interrupted(ctx); err != nil {
		return fail(err)
	}
	e.SetStatus(builder.StatusPushing)
	e.SetActivity("loading target image")

	img, err := b.deps.Warehouse.TargetImage(ctx, targetImageID)
	if err != nil {
		return fail(err)
	}
	tpl := e.Template()
	if tpl == nil {
		if tpl, err = b.deps.Warehouse.Template(ctx, img.Metadata[warehouse.KeyTemplateID]); err != nil {
			return fail(err)
		}
	}

	res, providerName, err := b.provision(ctx, provider, credentials, tpl, b.volumePlan())
	if err != nil {
		return fail(err)
	}

	e.SetStatus(builder.StatusFinishing)
	e.SetActivity("recording provider image")
	icicleID, err := b.deps.Warehouse.StoreIcicle(ctx, res.Descriptor)
	if err != nil {
		return fail(err)
	}
	md := warehouse.Metadata{
		warehouse.KeyTarget:            e.Target(),
		warehouse.KeyTemplateID:        img.Metadata[warehouse.KeyTemplateID],
		warehouse.KeyIcicleID:          icicleID,
		warehouse.KeyTargetIdentifier:  res.ImageID,
		warehouse.KeyProviderAccountID: res.AccountID,
		warehouse.KeyTargetImage:       targetImageID,
		warehouse.KeyProvider:          providerName,
	}
	if err := b.deps.Warehouse.CreateProviderImage(ctx, e.ID(), md); err != nil {
		return fail(err)
	}

	e.SetOutputDescriptor(res.Descriptor)
	b.Complete()
	logging.InfoContext(ctx, "job=%s pushed %s to %s as %s", e.ID(), targetImageID, providerName, res.ImageID)
	return nil
}

// volumePlan enables the volume flow for EC2 pushes when a size is set.
func (b *Builder) volumePlan() *provision.VolumePlan {
	aws := b.deps.Config.AWS
	if b.Entity().Target() != "ec2" || aws.VolumeSizeGiB <= 0 {
		return nil
	}
	return &provision.VolumePlan{
		SizeGiB: aws.VolumeSizeGiB,
		Device:  aws.VolumeDevice,
		Populate: func(ctx context.Context, exec remote.Executor, device string) error {
			_, err := exec.Run(ctx, copyRootDisk(device))
			return err
		},
	}
}

// settings returns the base image table, instance type and login for the
// entity's target.
func (b *Builder) settings() (images map[string]string, instanceType, user string) {
	cfg := b.deps.Config
	switch b.Entity().Target() {
	case "ec2":
		images, instanceType, user = cfg.AWS.BaseImages, cfg.AWS.InstanceType, cfg.AWS.SSHUser
	case "openstack":
		images, user = cfg.OpenStack.BaseImages, cfg.OpenStack.SSHUser
	}
	if user == "" {
		user = b.family.User
	}
	return images, instanceType, user
}

func (b *Builder) provision(ctx context.Context, provider string, credentials []byte, tpl *builder.Template, vol *provision.VolumePlan) (*provision.Result, string, error) {
	os := tpl.PrimaryOS()
	images, instanceType, user := b.settings()
	base, ok := config.BaseImage(images, os.Name, os.Version, os.Arch)
	if !ok {
		return nil, "", &builder.ProvisioningError{
			Step: "base image",
			Err:  fmt.Errorf("no %s base image configured for %s-%s-%s", b.Entity().Target(), os.Name, os.Version, os.Arch),
		}
	}

	b.Entity().SetActivity("connecting to " + provider)
	p, err := b.deps.Provider(ctx, provider, credentials)
	if err != nil {
		return nil, "", &builder.ProvisioningError{Step: "open provider", Err: errors.WrapWithRemediation(err, "open "+provider)}
	}

	plan := provision.Plan{
		OperationID:  b.Entity().ID(),
		BaseImage:    base,
		InstanceType: instanceType,
		User:         user,
		Port:         22,
		ImageName:    imageName(tpl, b.Entity().ID()),
		Work:         b.work(tpl),
		Volume:       vol,
	}
	res, err := provision.NewEngine(p, b.deps.Engine).Run(ctx, plan, b.Progress())
	b.Warn(ctx, res.Warnings)
	if err != nil {
		return nil, "", errors.WrapWithRemediation(err, "provision on "+p.Name())
	}
	return res, p.Name(), nil
}

// work customizes the instance and returns its descriptor.
func (b *Builder) work(tpl *builder.Template) provision.WorkFunc {
	return func(ctx context.Context, exec remote.Executor) (string, error) {
		e := b.Entity()
		if cmd := b.family.InstallCommand(tpl.PackageNames()); cmd != "" {
			e.SetActivity("installing packages")
			if _, err := exec.Run(ctx, cmd); err != nil {
				return "", errors.Wrap("install packages", strings.Join(tpl.PackageNames(), " "), err)
			}
		}
		for _, c := range tpl.Commands {
			e.SetActivity("running command " + c.Name)
			if _, err := exec.Run(ctx, sudo(c.Body)); err != nil {
				return "", errors.Wrap("run template command", c.Name, err)
			}
		}

		e.SetActivity("inventorying packages")
		out, err := exec.Run(ctx, b.family.InventoryCommand())
		if err != nil {
			return "", errors.Wrap("inventory packages", "", err)
		}
		return builder.ParseInventory(tpl.Description, out).Marshal()
	}
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9-]+`)

func imageName(tpl *builder.Template, id string) string {
	name := strings.Trim(unsafeName.ReplaceAllString(tpl.Name, "-"), "-")
	if name == "" {
		name = "image"
	}
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("foundry-%s-%s", strings.ToLower(name), id)
}
