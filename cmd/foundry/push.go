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

package main

import (
	"fmt"

	"github.com/cowdogmoo/foundry/job"
	"github.com/cowdogmoo/foundry/logging"
	"github.com/spf13/cobra"
)

// Push command options
type pushOptions struct {
	provider    string
	credentials string
	output      string
}

var pushOpts = &pushOptions{}

var pushCmd = &cobra.Command{
	Use:   "push TARGET_IMAGE_ID",
	Short: "Push a stored target image to a provider",
	Long: `Push a target image from the warehouse to a provider account. The target is
the provider prefix before the first "-", so ec2-us-east-1 pushes with the
EC2 variant of the image's template.

Examples:
  foundry push 1b4e28ba-2fa1-11d2-883f-0016d3cca427 --provider ec2-us-east-1 --credentials creds.ini`,
	Args: cobra.ExactArgs(1),
	RunE: runPush,
}

func init() {
	pushCmd.Flags().StringVar(&pushOpts.provider, "provider", "", "Provider to push to")
	pushCmd.Flags().StringVar(&pushOpts.credentials, "credentials", "", "Credentials file")
	pushCmd.Flags().StringVarP(&pushOpts.output, "output", "o", "table", "Summary format (table, yaml)")
	_ = pushCmd.MarkFlagRequired("provider")
}

func runPush(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	targetImageID := args[0]

	creds, err := readCredentials(pushOpts.credentials)
	if err != nil {
		return err
	}

	f, err := openFoundry(cmd)
	if err != nil {
		return err
	}
	defer closeFoundry(ctx, f)

	j, err := f.Dispatcher.PushJob(ctx, targetImageID, pushOpts.provider)
	if err != nil {
		return err
	}
	logging.InfoContext(ctx, "job=%s pushing %s to %s with %s", j.ID(), targetImageID, pushOpts.provider, j.Variant())

	runErr := runTasks(cmd, f, []job.Task{job.PushTask(j, targetImageID, pushOpts.provider, creds)})
	if err := writeSummaries(cmd.OutOrStdout(), pushOpts.output, summaries([]*job.Job{j})); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("push failed: %w", runErr)
	}
	return nil
}
