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

package ec2

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/cowdogmoo/foundry/logging"
	"github.com/cowdogmoo/foundry/provision"
)

const tagOperation = "foundry:operation"

// Provider drives one region of EC2.
type Provider struct {
	client  EC2API
	name    string
	sshCIDR string

	mu      sync.Mutex
	account string
}

var _ provision.VolumeProvider = (*Provider)(nil)

// NewProvider wraps client. name is the provider string, e.g. "ec2-us-west-2".
func NewProvider(client EC2API, name, sshCIDR string) *Provider {
	if sshCIDR == "" {
		sshCIDR = "0.0.0.0/0"
	}
	return &Provider{client: client, name: name, sshCIDR: sshCIDR}
}

// Name returns the provider string.
func (p *Provider) Name() string { return p.name }

// notFound maps the EC2 "*.NotFound" error codes to provision.ErrNotFound.
func notFound(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && strings.HasSuffix(apiErr.ErrorCode(), ".NotFound") {
		return fmt.Errorf("%w: %s", provision.ErrNotFound, apiErr.ErrorMessage())
	}
	return err
}

func tags(resource types.ResourceType, name string) []types.TagSpecification {
	return []types.TagSpecification{{
		ResourceType: resource,
		Tags: []types.Tag{
			{Key: aws.String("Name"), Value: aws.String(name)},
			{Key: aws.String(tagOperation), Value: aws.String(name)},
		},
	}}
}

func (p *Provider) ImportKeyPair(ctx context.Context, name, authorizedKey string) (string, error) {
	out, err := p.client.ImportKeyPair(ctx, &ec2.ImportKeyPairInput{
		KeyName:           aws.String(name),
		PublicKeyMaterial: []byte(authorizedKey),
		TagSpecifications: tags(types.ResourceTypeKeyPair, name),
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.KeyName), nil
}

func (p *Provider) DeleteKeyPair(ctx context.Context, id string) error {
	_, err := p.client.DeleteKeyPair(ctx, &ec2.DeleteKeyPairInput{KeyName: aws.String(id)})
	return notFound(err)
}

// CreateFirewall creates a security group with a single TCP ingress rule.
func (p *Provider) CreateFirewall(ctx context.Context, name string, port int) (string, error) {
	out, err := p.client.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:         aws.String(name),
		Description:       aws.String("foundry operation access " + name),
		TagSpecifications: tags(types.ResourceTypeSecurityGroup, name),
	})
	if err != nil {
		return "", err
	}
	groupID := aws.ToString(out.GroupId)

	_, err = p.client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId: aws.String(groupID),
		IpPermissions: []types.IpPermission{{
			IpProtocol: aws.String("tcp"),
			FromPort:   aws.Int32(int32(port)),
			ToPort:     aws.Int32(int32(port)),
			IpRanges:   []types.IpRange{{CidrIp: aws.String(p.sshCIDR)}},
		}},
	})
	if err != nil {
		// The group exists; hand its id back so teardown removes it.
		return groupID, fmt.Errorf("authorize ingress on %s: %w", groupID, err)
	}
	return groupID, nil
}

func (p *Provider) DeleteFirewall(ctx context.Context, id string) error {
	_, err := p.client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: aws.String(id)})
	return notFound(err)
}

func (p *Provider) CreateInstance(ctx context.Context, spec provision.InstanceSpec) (string, error) {
	in := &ec2.RunInstancesInput{
		ImageId:           aws.String(spec.BaseImage),
		InstanceType:      types.InstanceType(spec.InstanceType),
		KeyName:           aws.String(spec.KeyName),
		MinCount:          aws.Int32(1),
		MaxCount:          aws.Int32(1),
		TagSpecifications: tags(types.ResourceTypeInstance, spec.Name),
	}
	if spec.FirewallID != "" {
		in.SecurityGroupIds = []string{spec.FirewallID}
	}

	out, err := p.client.RunInstances(ctx, in)
	if err != nil {
		return "", err
	}
	if len(out.Instances) == 0 {
		return "", errors.New("RunInstances returned no instance")
	}
	return aws.ToString(out.Instances[0].InstanceId), nil
}

func (p *Provider) DescribeInstance(ctx context.Context, id string) (*provision.Instance, error) {
	out, err := p.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		return nil, notFound(err)
	}
	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			if aws.ToString(inst.InstanceId) != id {
				continue
			}
			p.rememberAccount(aws.ToString(res.OwnerId))

			result := &provision.Instance{
				ID:      id,
				State:   instanceState(inst.State),
				Address: aws.ToString(inst.PublicIpAddress),
			}
			if inst.Placement != nil {
				result.Zone = aws.ToString(inst.Placement.AvailabilityZone)
			}
			return result, nil
		}
	}
	return nil, fmt.Errorf("instance %s: %w", id, provision.ErrNotFound)
}

func instanceState(s *types.InstanceState) provision.State {
	if s == nil {
		return provision.StatePending
	}
	switch s.Name {
	case types.InstanceStateNameRunning:
		return provision.StateRunning
	case types.InstanceStateNameStopping, types.InstanceStateNameStopped:
		return provision.StateStopped
	case types.InstanceStateNameShuttingDown, types.InstanceStateNameTerminated:
		return provision.StateTerminated
	default:
		return provision.StatePending
	}
}

func (p *Provider) DestroyInstance(ctx context.Context, id string) error {
	_, err := p.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{id}})
	return notFound(err)
}

func (p *Provider) RegisterImage(ctx context.Context, instanceID, name string) (string, error) {
	out, err := p.client.CreateImage(ctx, &ec2.CreateImageInput{
		InstanceId:        aws.String(instanceID),
		Name:              aws.String(name),
		Description:       aws.String("built by foundry"),
		TagSpecifications: tags(types.ResourceTypeImage, name),
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.ImageId), nil
}

func (p *Provider) DescribeImage(ctx context.Context, id string) (provision.State, error) {
	out, err := p.client.DescribeImages(ctx, &ec2.DescribeImagesInput{ImageIds: []string{id}})
	if err != nil {
		return "", notFound(err)
	}
	if len(out.Images) == 0 {
		// Freshly created images can be invisible for a few seconds.
		return provision.StatePending, nil
	}
	img := out.Images[0]
	p.rememberAccount(aws.ToString(img.OwnerId))

	switch img.State {
	case types.ImageStateAvailable:
		return provision.StateAvailable, nil
	case types.ImageStateFailed, types.ImageStateError, types.ImageStateInvalid, types.ImageStateDeregistered:
		logging.Warn("image %s is %s: %s", id, img.State, stateReason(img.StateReason))
		return provision.StateFailed, nil
	default:
		return provision.StatePending, nil
	}
}

func stateReason(r *types.StateReason) string {
	if r == nil {
		return "no reason given"
	}
	return aws.ToString(r.Message)
}

func (p *Provider) rememberAccount(id string) {
	if id == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.account = id
}

// AccountID returns the owner id seen on the operation's instance or image.
func (p *Provider) AccountID(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.account == "" {
		return "", errors.New("account id not known before an instance or image was described")
	}
	return p.account, nil
}

func (p *Provider) CreateVolume(ctx context.Context, spec provision.VolumeSpec) (string, error) {
	out, err := p.client.CreateVolume(ctx, &ec2.CreateVolumeInput{
		AvailabilityZone:  aws.String(spec.Zone),
		Size:              aws.Int32(int32(spec.SizeGiB)),
		VolumeType:        types.VolumeTypeGp3,
		TagSpecifications: tags(types.ResourceTypeVolume, spec.Name),
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.VolumeId), nil
}

func (p *Provider) DescribeVolume(ctx context.Context, id string) (provision.State, error) {
	out, err := p.client.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{VolumeIds: []string{id}})
	if err != nil {
		return "", notFound(err)
	}
	if len(out.Volumes) == 0 {
		return "", fmt.Errorf("volume %s: %w", id, provision.ErrNotFound)
	}
	switch out.Volumes[0].State {
	case types.VolumeStateAvailable:
		return provision.StateAvailable, nil
	case types.VolumeStateInUse:
		return provision.StateInUse, nil
	case types.VolumeStateError:
		return provision.StateFailed, nil
	case types.VolumeStateDeleted:
		return "", fmt.Errorf("volume %s: %w", id, provision.ErrNotFound)
	default:
		return provision.StatePending, nil
	}
}

func (p *Provider) AttachVolume(ctx context.Context, volumeID, instanceID, device string) error {
	_, err := p.client.AttachVolume(ctx, &ec2.AttachVolumeInput{
		VolumeId:   aws.String(volumeID),
		InstanceId: aws.String(instanceID),
		Device:     aws.String(device),
	})
	return err
}

func (p *Provider) DetachVolume(ctx context.Context, volumeID string) error {
	_, err := p.client.DetachVolume(ctx, &ec2.DetachVolumeInput{VolumeId: aws.String(volumeID)})
	return notFound(err)
}

func (p *Provider) DeleteVolume(ctx context.Context, id string) error {
	_, err := p.client.DeleteVolume(ctx, &ec2.DeleteVolumeInput{VolumeId: aws.String(id)})
	return notFound(err)
}

func (p *Provider) CreateSnapshot(ctx context.Context, volumeID, name string) (string, error) {
	out, err := p.client.CreateSnapshot(ctx, &ec2.CreateSnapshotInput{
		VolumeId:          aws.String(volumeID),
		Description:       aws.String(name),
		TagSpecifications: tags(types.ResourceTypeSnapshot, name),
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.SnapshotId), nil
}

func (p *Provider) DescribeSnapshot(ctx context.Context, id string) (provision.State, error) {
	out, err := p.client.DescribeSnapshots(ctx, &ec2.DescribeSnapshotsInput{SnapshotIds: []string{id}})
	if err != nil {
		return "", notFound(err)
	}
	if len(out.Snapshots) == 0 {
		return "", fmt.Errorf("snapshot %s: %w", id, provision.ErrNotFound)
	}
	switch out.Snapshots[0].State {
	case types.SnapshotStateCompleted:
		return provision.StateAvailable, nil
	case types.SnapshotStateError:
		return provision.StateFailed, nil
	default:
		return provision.StatePending, nil
	}
}

func (p *Provider) DeleteSnapshot(ctx context.Context, id string) error {
	_, err := p.client.DeleteSnapshot(ctx, &ec2.DeleteSnapshotInput{SnapshotId: aws.String(id)})
	return notFound(err)
}

// RegisterSnapshotImage registers an HVM image whose root device is the
// snapshot.
func (p *Provider) RegisterSnapshotImage(ctx context.Context, snapshotID, name string) (string, error) {
	const root = "/dev/xvda"
	out, err := p.client.RegisterImage(ctx, &ec2.RegisterImageInput{
		Name:               aws.String(name),
		Description:        aws.String("built by foundry"),
		Architecture:       types.ArchitectureValuesX8664,
		RootDeviceName:     aws.String(root),
		VirtualizationType: aws.String("hvm"),
		EnaSupport:         aws.Bool(true),
		BlockDeviceMappings: []types.BlockDeviceMapping{{
			DeviceName: aws.String(root),
			Ebs: &types.EbsBlockDevice{
				SnapshotId:          aws.String(snapshotID),
				DeleteOnTermination: aws.Bool(true),
				VolumeType:          types.VolumeTypeGp3,
			},
		}},
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.ImageId), nil
}
