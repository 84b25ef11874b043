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

package linux

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cowdogmoo/foundry/builder"
	"github.com/cowdogmoo/foundry/config"
	"github.com/cowdogmoo/foundry/poll"
	"github.com/cowdogmoo/foundry/provision"
	"github.com/cowdogmoo/foundry/provision/provisiontest"
	"github.com/cowdogmoo/foundry/variants"
	"github.com/cowdogmoo/foundry/warehouse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webTemplate = `<template>
  <name>web server</name>
  <description>httpd on Fedora</description>
  <os><name>Fedora</name><version>39</version></os>
  <packages><package name="httpd"/><package name="mod_ssl"/></packages>
  <commands><command name="enable">systemctl enable httpd</command></commands>
</template>`

type fixture struct {
	cloud     *provisiontest.Cloud
	dialer    *provisiontest.Dialer
	factories []*provisiontest.Factory
	store     *warehouse.Store
	cfg       *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.AWS.BaseImages = map[string]string{"fedora-39-x86_64": "ami-f39"}
	cfg.OpenStack.BaseImages = map[string]string{"fedora-39-x86_64": "glance-f39"}

	cloud := provisiontest.NewCloud()
	exec := &provisiontest.Executor{Outputs: map[string]string{
		rpmInventory: "mod_ssl 2.4.58-1\nhttpd 2.4.58-1\n",
	}}
	return &fixture{
		cloud:  cloud,
		dialer: &provisiontest.Dialer{Exec: exec},
		factories: []*provisiontest.Factory{
			{Prefix: "ec2", Provider: cloud},
			{Prefix: "openstack", Provider: cloud},
		},
		store: warehouse.New(warehouse.NewMemory()),
		cfg:   cfg,
	}
}

func (f *fixture) deps(attempts int) variants.Deps {
	p := poll.Policy{Interval: time.Millisecond, Attempts: attempts}
	providers := make([]provision.Factory, len(f.factories))
	for i, fac := range f.factories {
		providers[i] = fac
	}
	return variants.Deps{
		Config:    f.cfg,
		Warehouse: f.store,
		Providers: providers,
		Engine: provision.Options{
			Dialer:          f.dialer,
			Policies:        provision.Policies{Instance: p, Remote: p, Image: p, Volume: p, Snapshot: p},
			TeardownTimeout: 5 * time.Second,
		},
	}
}

func fedora(t *testing.T) Family {
	t.Helper()
	for _, fam := range Families {
		if fam.Name == "Fedora" {
			return fam
		}
	}
	t.Fatal("no Fedora family")
	return Family{}
}

func (f *fixture) newBuilder(t *testing.T, tplXML, target string, attempts int) *Builder {
	t.Helper()
	var tpl *builder.Template
	if tplXML != "" {
		var err error
		tpl, err = builder.ParseTemplate(tplXML)
		require.NoError(t, err)
	}
	return New(fedora(t))(tpl, target, f.deps(attempts)).(*Builder)
}

func TestBuildImage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	b := f.newBuilder(t, webTemplate, "ec2", 5)
	e := b.Entity()

	require.NoError(t, b.BuildImage(context.Background(), "build-1"))

	assert.Equal(t, builder.StatusCompleted, e.Status())
	assert.Equal(t, 100, e.PercentComplete())
	assert.Empty(t, e.Detail().Warnings)
	assert.Contains(t, e.OutputDescriptor(), `name="httpd" version="2.4.58-1"`)
	assert.Equal(t, []string{"ec2"}, f.factories[0].Opened())
	assert.Nil(t, f.factories[0].Credentials()[0])

	assert.Contains(t, f.cloud.Trace(), "CreateInstance ami-f39")
	assert.Equal(t, 1, f.cloud.Calls("DestroyInstance"))
	assert.Equal(t, 1, f.cloud.Calls("DeleteKeyPair"))
	assert.Equal(t, 1, f.cloud.Calls("DeleteFirewall"))

	cmds := f.dialer.Exec.Commands()
	fam := fedora(t)
	assert.Contains(t, cmds, fam.InstallCommand([]string{"httpd", "mod_ssl"}))
	assert.Contains(t, cmds, sudo("systemctl enable httpd"))
	assert.Equal(t, rpmInventory, cmds[len(cmds)-1])
	assert.Equal(t, "fedora", f.dialer.Targets()[0].User)

	img, err := f.store.TargetImage(context.Background(), "build-1")
	require.NoError(t, err)
	assert.Equal(t, "ec2", img.Metadata[warehouse.KeyTarget])
	assert.Equal(t, "123456789012", img.Metadata[warehouse.KeyProviderAccountID])
	assert.NotEqual(t, warehouse.NoIcicle, img.Metadata[warehouse.KeyIcicleID])
	assert.Contains(t, img.Metadata[warehouse.KeyTargetIdentifier], "img-")

	doc, err := f.store.Icicle(context.Background(), img.Metadata[warehouse.KeyIcicleID])
	require.NoError(t, err)
	assert.Equal(t, e.OutputDescriptor(), doc)
}

func TestBuildImage_TeardownWarningKeepsCompleted(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cloud.Fail = map[string]error{"DeleteFirewall": errors.New("DependencyViolation")}
	b := f.newBuilder(t, webTemplate, "ec2", 5)

	require.NoError(t, b.BuildImage(context.Background(), "build-1"))

	e := b.Entity()
	assert.Equal(t, builder.StatusCompleted, e.Status())
	require.Len(t, e.Detail().Warnings, 1)
	assert.Contains(t, e.Detail().Warnings[0], "DependencyViolation")
	assert.Empty(t, e.Detail().Error)
}

func TestBuildImage_InstanceNeverRunning(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cloud.RunningAfter = -1
	b := f.newBuilder(t, webTemplate, "ec2", 3)

	err := b.BuildImage(context.Background(), "build-1")

	var buildErr *builder.BuildError
	var provErr *builder.ProvisioningError
	var timeout *poll.TimeoutError
	require.ErrorAs(t, err, &buildErr)
	require.ErrorAs(t, err, &provErr)
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, builder.StatusFailed, b.Entity().Status())
	assert.NotEmpty(t, b.Entity().Detail().Error)
	assert.Equal(t, 1, f.cloud.Calls("DestroyInstance"))

	_, err = f.store.TargetImage(context.Background(), "build-1")
	assert.ErrorIs(t, err, warehouse.ErrNotFound)
}

func TestBuildImage_NoBaseImage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.AWS.BaseImages = nil
	b := f.newBuilder(t, webTemplate, "ec2", 3)

	err := b.BuildImage(context.Background(), "build-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Fedora-39-x86_64")
	assert.Empty(t, f.factories[0].Opened())
	assert.Empty(t, f.cloud.Trace())
	assert.Equal(t, builder.StatusFailed, b.Entity().Status())
}

func TestBuildImage_ProviderOpenFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.factories[0].Err = errors.New("ExpiredToken: the security token has expired")
	b := f.newBuilder(t, webTemplate, "ec2", 3)

	err := b.BuildImage(context.Background(), "build-1")
	var provErr *builder.ProvisioningError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "open provider", provErr.Step)
	assert.Contains(t, err.Error(), "credentials expired")
}

func TestBuildImage_CommandFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.dialer.Exec.Fail = map[string]error{sudo("systemctl enable httpd"): errors.New("exit status 5")}
	b := f.newBuilder(t, webTemplate, "openstack", 3)

	err := b.BuildImage(context.Background(), "build-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enable")
	assert.Equal(t, builder.StatusFailed, b.Entity().Status())
	assert.Equal(t, 1, f.cloud.Calls("DestroyInstance"))
	assert.Contains(t, f.cloud.Trace(), "CreateInstance glance-f39")
}

func seedTargetImage(t *testing.T, f *fixture) {
	t.Helper()
	tpl, err := builder.ParseTemplate(webTemplate)
	require.NoError(t, err)
	tplID, err := f.store.StoreTemplate(context.Background(), tpl)
	require.NoError(t, err)
	require.NoError(t, f.store.StoreTargetImage(context.Background(), "build-1", warehouse.Metadata{
		warehouse.KeyTarget:            "ec2",
		warehouse.KeyTemplateID:        tplID,
		warehouse.KeyIcicleID:          warehouse.NoIcicle,
		warehouse.KeyTargetIdentifier:  "ami-built",
		warehouse.KeyProviderAccountID: "123456789012",
	}))
}

func TestPushImage_VolumeFlow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.AWS.VolumeSizeGiB = 8
	seedTargetImage(t, f)
	b := f.newBuilder(t, "", "ec2", 5)
	creds := []byte("[default]\naccess_key_id = AKIA\nsecret_access_key = s\n")

	require.NoError(t, b.PushImage(context.Background(), "build-1", "ec2-us-west-2", creds))

	e := b.Entity()
	assert.Equal(t, builder.StatusCompleted, e.Status())
	assert.Equal(t, []string{"ec2-us-west-2"}, f.factories[0].Opened())
	assert.Equal(t, creds, f.factories[0].Credentials()[0])
	assert.Equal(t, 1, f.cloud.Calls("CreateVolume"))
	assert.Equal(t, 1, f.cloud.Calls("RegisterSnapshotImage"))
	assert.Equal(t, 0, f.cloud.Calls("RegisterImage"))
	assert.Contains(t, f.dialer.Exec.Commands(), copyRootDisk(f.cfg.AWS.VolumeDevice))

	img, err := f.store.ProviderImage(context.Background(), e.ID())
	require.NoError(t, err)
	assert.Equal(t, "build-1", img.Metadata[warehouse.KeyTargetImage])
	assert.Equal(t, "fake", img.Metadata[warehouse.KeyProvider])
}

func TestPushImage_OpenStackIgnoresVolumeSize(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.AWS.VolumeSizeGiB = 8
	seedTargetImage(t, f)
	b := f.newBuilder(t, "", "openstack", 5)

	require.NoError(t, b.PushImage(context.Background(), "build-1", "openstack-RegionOne", nil))
	assert.Equal(t, 0, f.cloud.Calls("CreateVolume"))
	assert.Equal(t, 1, f.cloud.Calls("RegisterImage"))
	assert.Equal(t, []string{"openstack-RegionOne"}, f.factories[1].Opened())
}

func TestPushImage_UnknownTargetImage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	b := f.newBuilder(t, "", "ec2", 3)

	err := b.PushImage(context.Background(), "missing", "ec2", nil)
	var pushErr *builder.PushError
	require.ErrorAs(t, err, &pushErr)
	assert.ErrorIs(t, err, warehouse.ErrNotFound)
	assert.Empty(t, f.cloud.Trace())
}

func TestBuildImage_AbortTearsDown(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cloud.RunningAfter = -1
	b := f.newBuilder(t, webTemplate, "ec2", 200)

	errCh := make(chan error, 1)
	go func() { errCh <- b.BuildImage(context.Background(), "build-1") }()
	require.Eventually(t, func() bool { return f.cloud.Calls("DescribeInstance") > 0 }, 5*time.Second, time.Millisecond)
	b.Abort()

	err := <-errCh
	assert.ErrorIs(t, err, builder.ErrAborted)
	assert.Equal(t, builder.StatusFailed, b.Entity().Status())
	assert.Equal(t, 1, f.cloud.Calls("DestroyInstance"))
	assert.Equal(t, 1, f.cloud.Calls("DeleteKeyPair"))
}

func TestFamily_InstallCommand(t *testing.T) {
	t.Parallel()

	byName := map[string]Family{}
	for _, fam := range Families {
		byName[fam.Name] = fam
	}

	tests := []struct {
		family string
		pkgs   []string
		want   string
	}{
		{family: "Fedora", pkgs: nil, want: ""},
		{family: "Fedora", pkgs: []string{"httpd"}, want: `sudo sh -c 'dnf -y install '"'"'httpd'"'"''`},
		{family: "CentOS", pkgs: []string{"vim"}, want: `sudo sh -c 'yum -y install '"'"'vim'"'"''`},
		{
			family: "Debian",
			pkgs:   []string{"nginx"},
			want:   `sudo sh -c 'apt-get update && DEBIAN_FRONTEND=noninteractive apt-get -y install '"'"'nginx'"'"''`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.family, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, byName[tt.family].InstallCommand(tt.pkgs))
		})
	}
	assert.Equal(t, dpkgInventory, byName["Ubuntu"].InventoryCommand())
}

func TestImageName(t *testing.T) {
	t.Parallel()

	tpl := &builder.Template{Name: "Web Server!"}
	assert.Equal(t, "foundry-web-server-0123abcd", imageName(tpl, "0123abcd-ffff"))
	assert.Equal(t, "foundry-image-x", imageName(&builder.Template{}, "x"))
}
