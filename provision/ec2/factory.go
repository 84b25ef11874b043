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
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/cowdogmoo/foundry/config"
	"github.com/cowdogmoo/foundry/logging"
	"github.com/cowdogmoo/foundry/provision"
	"gopkg.in/ini.v1"
)

// ProviderPrefix is the provider string family handled here: "ec2" or
// "ec2-<region>".
const ProviderPrefix = "ec2"

// loadAWSConfig is swapped in tests.
var loadAWSConfig = awsconfig.LoadDefaultConfig

// Credentials is a parsed credentials blob.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
}

// ParseCredentials reads an INI blob:
//
//	[default]
//	access_key_id = AKIA...
//	secret_access_key = ...
//	session_token = ...   ; optional
//	region = us-west-2    ; optional
//
// The aws_ prefixed key names of ~/.aws/credentials are accepted too. An
// empty blob yields empty credentials, meaning the ambient AWS chain.
func ParseCredentials(blob []byte) (Credentials, error) {
	if len(strings.TrimSpace(string(blob))) == 0 {
		return Credentials{}, nil
	}

	f, err := ini.Load(blob)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to parse credentials: %s", logging.RedactCredentials(err.Error()))
	}
	sec := f.Section("default")
	get := func(names ...string) string {
		for _, n := range names {
			if v := strings.TrimSpace(sec.Key(n).String()); v != "" {
				return v
			}
		}
		return ""
	}

	c := Credentials{
		AccessKeyID:     get("access_key_id", "aws_access_key_id"),
		SecretAccessKey: get("secret_access_key", "aws_secret_access_key"),
		SessionToken:    get("session_token", "aws_session_token"),
		Region:          get("region"),
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return Credentials{}, fmt.Errorf("credentials need both access_key_id and secret_access_key")
	}
	return c, nil
}

// ParseProvider extracts the region from "ec2-<region>". ok is false for
// provider strings of other families.
func ParseProvider(provider string) (region string, ok bool) {
	switch {
	case provider == ProviderPrefix:
		return "", true
	case strings.HasPrefix(provider, ProviderPrefix+"-"):
		return strings.TrimPrefix(provider, ProviderPrefix+"-"), true
	default:
		return "", false
	}
}

// Factory builds EC2 providers.
type Factory struct {
	cfg config.AWSConfig
}

var _ provision.Factory = (*Factory)(nil)

// NewFactory creates a factory with the configured defaults.
func NewFactory(cfg config.AWSConfig) *Factory {
	return &Factory{cfg: cfg}
}

// Handles reports whether provider is "ec2" or "ec2-<region>".
func (f *Factory) Handles(provider string) bool {
	_, ok := ParseProvider(provider)
	return ok
}

// New builds a provider. The region comes from the provider string, then the
// credentials blob, then aws.region.
func (f *Factory) New(ctx context.Context, provider string, blob []byte) (provision.Provider, error) {
	region, ok := ParseProvider(provider)
	if !ok {
		return nil, fmt.Errorf("not an ec2 provider: %q", provider)
	}
	creds, err := ParseCredentials(blob)
	if err != nil {
		return nil, err
	}
	if region == "" {
		region = creds.Region
	}
	if region == "" {
		region = f.cfg.Region
	}

	var optFns []func(*awsconfig.LoadOptions) error
	if region != "" {
		optFns = append(optFns, awsconfig.WithRegion(region))
	}
	if f.cfg.Profile != "" && creds.AccessKeyID == "" {
		optFns = append(optFns, awsconfig.WithSharedConfigProfile(f.cfg.Profile))
	}
	if creds.AccessKeyID != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken),
		))
	}

	awsCfg, err := loadAWSConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if awsCfg.Region == "" {
		return nil, fmt.Errorf("AWS region not specified (use ec2-<region>, a region in the credentials, or aws.region)")
	}

	name := ProviderPrefix + "-" + awsCfg.Region
	logging.DebugContext(ctx, "using %s", name)
	return NewProvider(ec2.NewFromConfig(awsCfg), name, f.cfg.SSHCIDR), nil
}
