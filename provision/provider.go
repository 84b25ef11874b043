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

// Package provision runs the create, poll, work, teardown sequence shared by
// every cloud build and push: operation-scoped SSH access, one instance, an
// optional data volume, a registered image, and a teardown that always runs.
//
// Cloud specifics live behind Provider; the provision/ec2 and
// provision/openstack packages implement it.
package provision

import (
	"context"
	"errors"
)

// ErrNotFound is returned by providers when the addressed artifact no longer
// exists. Teardown treats it as success.
var ErrNotFound = errors.New("resource not found")

// State is a provider-neutral lifecycle state.
type State string

const (
	StatePending    State = "pending"
	StateRunning    State = "running"
	StateAvailable  State = "available"
	StateInUse      State = "in-use"
	StateStopped    State = "stopped"
	StateTerminated State = "terminated"
	StateFailed     State = "failed"
)

// Instance is what DescribeInstance reports.
type Instance struct {
	ID      string
	State   State
	Address string
	// Zone is the availability zone; volumes must be created in it.
	Zone string
}

// InstanceSpec is what CreateInstance needs.
type InstanceSpec struct {
	Name          string
	BaseImage     string
	InstanceType  string
	KeyName       string
	FirewallID    string
	AuthorizedKey string
	User          string
}

// VolumeSpec is what CreateVolume needs.
type VolumeSpec struct {
	Name    string
	SizeGiB int
	Zone    string
}

// Provider creates, inspects and destroys the artifacts of one operation on
// one cloud.
type Provider interface {
	// Name identifies the provider in logs, e.g. "ec2-us-west-2".
	Name() string

	ImportKeyPair(ctx context.Context, name, authorizedKey string) (string, error)
	DeleteKeyPair(ctx context.Context, id string) error

	// CreateFirewall allows inbound TCP on port only. An id returned together
	// with an error names a partly configured firewall that still needs
	// teardown.
	CreateFirewall(ctx context.Context, name string, port int) (string, error)
	DeleteFirewall(ctx context.Context, id string) error

	CreateInstance(ctx context.Context, spec InstanceSpec) (string, error)
	DescribeInstance(ctx context.Context, id string) (*Instance, error)
	DestroyInstance(ctx context.Context, id string) error

	// RegisterImage captures the instance's root disk.
	RegisterImage(ctx context.Context, instanceID, name string) (string, error)
	DescribeImage(ctx context.Context, id string) (State, error)

	// AccountID identifies the owner of registered images.
	AccountID(ctx context.Context) (string, error)
}

// VolumeProvider is implemented by providers that support copying a disk
// into a fresh volume and registering an image from its snapshot.
type VolumeProvider interface {
	Provider

	CreateVolume(ctx context.Context, spec VolumeSpec) (string, error)
	DescribeVolume(ctx context.Context, id string) (State, error)
	AttachVolume(ctx context.Context, volumeID, instanceID, device string) error
	DetachVolume(ctx context.Context, volumeID string) error
	DeleteVolume(ctx context.Context, id string) error

	CreateSnapshot(ctx context.Context, volumeID, name string) (string, error)
	DescribeSnapshot(ctx context.Context, id string) (State, error)
	DeleteSnapshot(ctx context.Context, id string) error

	RegisterSnapshotImage(ctx context.Context, snapshotID, name string) (string, error)
}

// Factory builds a Provider for a provider string such as "ec2-us-east-1"
// from an opaque credentials blob.
type Factory interface {
	// Handles reports whether the factory owns the provider string.
	Handles(provider string) bool
	New(ctx context.Context, provider string, credentials []byte) (Provider, error)
}
