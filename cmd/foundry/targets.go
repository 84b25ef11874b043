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
	"io"
	"text/tabwriter"

	"github.com/cowdogmoo/foundry/plugins"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var targetsOutput string

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List the registered builder variants",
	Args:  cobra.NoArgs,
	RunE:  runTargets,
}

func init() {
	targetsCmd.Flags().StringVarP(&targetsOutput, "output", "o", "table", "Output format (table, yaml)")
}

type variantRow struct {
	Name     string `yaml:"name"`
	Family   string `yaml:"family"`
	Target   string `yaml:"target"`
	Versions string `yaml:"versions,omitempty"`
}

func runTargets(cmd *cobra.Command, args []string) error {
	f, err := openFoundry(cmd)
	if err != nil {
		return err
	}
	defer closeFoundry(cmd.Context(), f)
	return writeVariants(cmd.OutOrStdout(), targetsOutput, f.Table.Variants())
}

func writeVariants(w io.Writer, format string, vs []plugins.Variant) error {
	rows := make([]variantRow, 0, len(vs))
	for _, v := range vs {
		rows = append(rows, variantRow{Name: v.Name(), Family: v.Family, Target: v.Target, Versions: v.Versions})
	}

	switch format {
	case "yaml":
		return yaml.NewEncoder(w).Encode(rows)
	case "", "table":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "VARIANT\tFAMILY\tTARGET\tVERSIONS")
		for _, r := range rows {
			versions := r.Versions
			if versions == "" {
				versions = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Name, r.Family, r.Target, versions)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q (supported: table, yaml)", format)
	}
}
