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
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/cowdogmoo/foundry"
	"github.com/cowdogmoo/foundry/job"
	"github.com/cowdogmoo/foundry/logging"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// runTasks runs tasks through the orchestrator. SIGINT and SIGTERM abort
// every live job; the call still returns only once each job is terminal.
func runTasks(cmd *cobra.Command, f *foundry.Foundry, tasks []job.Task) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopMetrics, err := serveMetrics(ctx, f.Config.Metrics.Addr, f.Prometheus)
	if err != nil {
		return fmt.Errorf("failed to serve metrics: %w", err)
	}
	defer stopMetrics()

	finished := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			n := f.Registry.AbortAll()
			logging.WarnContext(ctx, "interrupted: aborting %d job(s), waiting for teardown", n)
		case <-finished:
		}
	}()

	err = f.Orchestrator.RunAll(ctx, tasks)
	close(finished)
	return err
}

// summaries collects the summaries of jobs and of the jobs they cascaded
// into.
func summaries(jobs []*job.Job) []job.Summary {
	var out []job.Summary
	for _, j := range jobs {
		out = append(out, j.Summary())
		if next, _ := j.Next(); next != nil {
			out = append(out, next.Summary())
		}
	}
	return out
}

func writeSummaries(w io.Writer, format string, s []job.Summary) error {
	switch format {
	case "yaml":
		return yaml.NewEncoder(w).Encode(s)
	case "", "table":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tOPERATION\tVARIANT\tSTATUS\tPERCENT\tDETAIL")
		for _, sum := range s {
			detail := sum.Detail.Activity
			if sum.Detail.Error != "" {
				detail = sum.Detail.Error
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", sum.ID, sum.Operation, sum.Variant, sum.Status, sum.Percent, detail)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q (supported: table, yaml)", format)
	}
}

func readCredentials(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	return data, nil
}

// closeFoundry releases f and logs instead of masking the command's error.
func closeFoundry(ctx context.Context, f *foundry.Foundry) {
	if err := f.Close(); err != nil {
		logging.WarnContext(ctx, "%v", err)
	}
}
