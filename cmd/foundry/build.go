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
	"os"

	"github.com/cowdogmoo/foundry/job"
	"github.com/cowdogmoo/foundry/logging"
	"github.com/spf13/cobra"
)

// Build command options
type buildOptions struct {
	targets     []string
	pushTo      string
	credentials string
	output      string
}

var buildOpts = &buildOptions{}

var buildCmd = &cobra.Command{
	Use:   "build TEMPLATE",
	Short: "Build an image from an XML template",
	Long: `Build an image from an XML template on one or more targets. One job is
created per target; the command returns once every job is terminal.

Examples:
  # Build on the mock target
  foundry build fedora.xml --target mock

  # Build on EC2 and OpenStack at once
  foundry build fedora.xml --target ec2,openstack

  # Build on EC2 and push the result to an account
  foundry build fedora.xml --target ec2 --push-to ec2-us-east-1 --credentials creds.ini`,
	Args: cobra.ExactArgs(1),
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringSliceVar(&buildOpts.targets, "target", nil, "Targets to build on (comma-separated)")
	buildCmd.Flags().StringVar(&buildOpts.pushTo, "push-to", "", "Provider to push each completed build to")
	buildCmd.Flags().StringVar(&buildOpts.credentials, "credentials", "", "Credentials file for --push-to")
	buildCmd.Flags().StringVarP(&buildOpts.output, "output", "o", "table", "Summary format (table, yaml)")
	_ = buildCmd.MarkFlagRequired("target")
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	doc, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read template: %w", err)
	}
	creds, err := readCredentials(buildOpts.credentials)
	if err != nil {
		return err
	}

	f, err := openFoundry(cmd)
	if err != nil {
		return err
	}
	defer closeFoundry(ctx, f)

	// Every target resolves before any job starts.
	var jobs []*job.Job
	var tasks []job.Task
	for _, target := range buildOpts.targets {
		var j *job.Job
		if buildOpts.pushTo != "" {
			j, err = f.Dispatcher.BuildThenPushJob(string(doc), target, buildOpts.pushTo, creds)
		} else {
			j, err = f.Dispatcher.BuildJob(string(doc), target)
		}
		if err != nil {
			for _, created := range jobs {
				f.Registry.Remove(created.ID())
			}
			return err
		}
		logging.InfoContext(ctx, "job=%s building with %s", j.ID(), j.Variant())
		jobs = append(jobs, j)
		tasks = append(tasks, job.BuildTask(j))
	}

	runErr := runTasks(cmd, f, tasks)
	if err := writeSummaries(cmd.OutOrStdout(), buildOpts.output, summaries(jobs)); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("build failed: %w", runErr)
	}
	return nil
}
