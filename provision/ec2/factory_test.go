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
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/cowdogmoo/foundry/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in         string
		wantRegion string
		wantOK     bool
	}{
		{in: "ec2", wantOK: true},
		{in: "ec2-us-west-2", wantRegion: "us-west-2", wantOK: true},
		{in: "openstack", wantOK: false},
		{in: "ec2x", wantOK: false},
	}
	for _, tt := range tests {
		region, ok := ParseProvider(tt.in)
		assert.Equal(t, tt.wantOK, ok, tt.in)
		assert.Equal(t, tt.wantRegion, region, tt.in)
	}
}

func TestParseCredentials(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		blob    string
		want    Credentials
		wantErr bool
	}{
		{name: "empty uses ambient chain", blob: "  \n"},
		{
			name: "foundry keys",
			blob: "[default]\naccess_key_id = AKIAEXAMPLE\nsecret_access_key = s3cret\nsession_token = tok\nregion = eu-west-1\n",
			want: Credentials{AccessKeyID: "AKIAEXAMPLE", SecretAccessKey: "s3cret", SessionToken: "tok", Region: "eu-west-1"},
		},
		{
			name: "aws credentials file keys",
			blob: "[default]\naws_access_key_id=AKIA2\naws_secret_access_key=two\n",
			want: Credentials{AccessKeyID: "AKIA2", SecretAccessKey: "two"},
		},
		{name: "half a key pair", blob: "[default]\naccess_key_id = AKIA\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseCredentials([]byte(tt.blob))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFactoryNew_RegionPrecedence(t *testing.T) {
	old := loadAWSConfig
	defer func() { loadAWSConfig = old }()

	var captured awsconfig.LoadOptions
	loadAWSConfig = func(_ context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		captured = awsconfig.LoadOptions{}
		for _, fn := range optFns {
			if err := fn(&captured); err != nil {
				return aws.Config{}, err
			}
		}
		return aws.Config{Region: captured.Region}, nil
	}

	f := NewFactory(config.AWSConfig{Region: "us-east-1", Profile: "builder"})
	assert.True(t, f.Handles("ec2-ap-south-1"))
	assert.False(t, f.Handles("openstack"))

	p, err := f.New(context.Background(), "ec2-ap-south-1", []byte("[default]\naccess_key_id=A\nsecret_access_key=B\nregion=eu-west-1\n"))
	require.NoError(t, err)
	assert.Equal(t, "ec2-ap-south-1", p.Name())
	assert.NotNil(t, captured.Credentials)
	assert.Empty(t, captured.SharedConfigProfile, "explicit credentials win over the profile")

	p, err = f.New(context.Background(), "ec2", []byte("[default]\nregion=eu-west-1\n"))
	require.NoError(t, err)
	assert.Equal(t, "ec2-eu-west-1", p.Name())
	assert.Equal(t, "builder", captured.SharedConfigProfile)

	p, err = f.New(context.Background(), "ec2", nil)
	require.NoError(t, err)
	assert.Equal(t, "ec2-us-east-1", p.Name())
}

func TestFactoryNew_Errors(t *testing.T) {
	old := loadAWSConfig
	defer func() { loadAWSConfig = old }()

	loadAWSConfig = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, fmt.Errorf("config load failed: network error")
	}
	f := NewFactory(config.AWSConfig{})

	_, err := f.New(context.Background(), "ec2-us-east-1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load AWS config")

	loadAWSConfig = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, nil
	}
	_, err = f.New(context.Background(), "ec2", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AWS region not specified")

	_, err = f.New(context.Background(), "gce", nil)
	assert.Error(t, err)
}
