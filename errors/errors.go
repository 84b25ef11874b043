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

// Package errors provides error wrapping utilities for consistent error handling.
package errors

import (
	"fmt"
	"strings"
)

// Wrap wraps an error with a descriptive action and optional detail.
// It returns a formatted error in the form "failed to <action> [(<detail>)]: <error>".
//
// Example usage:
//
//	if err := provider.DestroyInstance(ctx, id); err != nil {
//	    return errors.Wrap("destroy instance", id, err)
//	}
func Wrap(action, detail string, err error) error {
	if err == nil {
		return nil
	}

	if detail != "" {
		return fmt.Errorf("failed to %s (%s): %w", action, detail, err)
	}
	return fmt.Errorf("failed to %s: %w", action, err)
}

// RemediationError is a cloud failure annotated with a hint for the operator.
type RemediationError struct {
	Message     string
	Cause       error
	Remediation string
}

func (e *RemediationError) Error() string {
	if e.Remediation != "" {
		return fmt.Sprintf("%s: %v (remediation: %s)", e.Message, e.Cause, e.Remediation)
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *RemediationError) Unwrap() error {
	return e.Cause
}

type remediationPattern struct {
	all         []string
	any         []string
	msgSuffix   string
	remediation string
}

var remediationPatterns = []remediationPattern{
	{
		any:         []string{"ExpiredToken", "RequestExpired", "token has expired"},
		msgSuffix:   "credentials expired",
		remediation: "Refresh the credentials blob or the AWS profile session and retry the push.",
	},
	{
		any:         []string{"AuthFailure", "UnauthorizedOperation", "AccessDenied", "Authentication failed", "401"},
		msgSuffix:   "permission denied",
		remediation: "Check that the credentials may create key pairs, security groups, instances, volumes and images.",
	},
	{
		all:         []string{"ami-"},
		any:         []string{"InvalidAMIID", "not found", "does not exist"},
		msgSuffix:   "base image not found",
		remediation: "Base image IDs are region specific. Check the base_images table for this region in ~/.foundry/config.yaml.",
	},
	{
		any:         []string{"InstanceLimitExceeded", "VolumeLimitExceeded", "Quota exceeded", "LimitExceeded"},
		msgSuffix:   "provider quota exceeded",
		remediation: "Terminate unused instances or volumes, or request a quota increase.",
	},
	{
		any:         []string{"region not specified", "MissingRegion"},
		msgSuffix:   "region not configured",
		remediation: "Set aws.region in ~/.foundry/config.yaml, FOUNDRY_AWS_REGION, or use a provider name such as ec2-us-west-2.",
	},
	{
		any:         []string{"InvalidKeyPair.Duplicate", "InvalidGroup.Duplicate"},
		msgSuffix:   "leftover access artifact",
		remediation: "A previous run with the same operation id did not tear down; delete the foundry-* key pair or security group.",
	},
}

// WrapWithRemediation wraps err with context and, when the message matches
// a known provider failure, a remediation hint.
func WrapWithRemediation(err error, context string) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	for _, p := range remediationPatterns {
		if p.matches(msg) {
			return &RemediationError{
				Message:     fmt.Sprintf("%s: %s", context, p.msgSuffix),
				Cause:       err,
				Remediation: p.remediation,
			}
		}
	}
	return fmt.Errorf("%s: %w", context, err)
}

func (p remediationPattern) matches(msg string) bool {
	for _, s := range p.all {
		if !strings.Contains(msg, s) {
			return false
		}
	}
	if len(p.any) == 0 {
		return len(p.all) > 0
	}
	for _, s := range p.any {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
