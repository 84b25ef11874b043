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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cowdogmoo/foundry/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns its stdout.
// Commands share package-level flag state, so callers must not run in
// parallel.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(os.Stdout)
		rootCmd.SetErr(os.Stderr)
		rootCmd.SetArgs(nil)
		cfgFile = ""
		*buildOpts = buildOptions{}
		*pushOpts = pushOptions{}
		targetsOutput = "table"
		resetChanged(rootCmd)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

// resetChanged clears the Changed mark cobra keeps between executions, so
// required-flag checks see each run fresh.
func resetChanged(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) { f.Changed = false })
	for _, c := range cmd.Commands() {
		resetChanged(c)
	}
}

// writeConfig writes a config file that keeps events off the log.
func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("events:\n  driver: none\nlog:\n  level: error\n"), 0o600))
	return path
}

func TestGetCommandPath(t *testing.T) {
	t.Parallel()

	root := &cobra.Command{Use: "foundry"}
	child := &cobra.Command{Use: "build"}
	nested := &cobra.Command{Use: "list"}
	parent := &cobra.Command{Use: "jobs"}
	root.AddCommand(child, parent)
	parent.AddCommand(nested)

	tests := []struct {
		name string
		cmd  *cobra.Command
		want string
	}{
		{"root returns empty", root, ""},
		{"child returns name", child, "build"},
		{"nested returns dotted path", nested, "jobs.list"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, getCommandPath(tt.cmd))
		})
	}
}

func TestConfigFromContext(t *testing.T) {
	t.Parallel()

	cmd := &cobra.Command{Use: "test"}
	cmd.SetContext(context.Background())
	assert.Nil(t, configFromContext(cmd))

	cfg := config.Default()
	cfg.Log.Level = "debug"
	cmd.SetContext(context.WithValue(context.Background(), configKey, cfg))
	got := configFromContext(cmd)
	require.NotNil(t, got)
	assert.Equal(t, "debug", got.Log.Level)
}

func TestBindFlagsToViper(t *testing.T) {
	t.Parallel()

	v := viper.New()
	cmd := &cobra.Command{Use: "build"}
	cmd.Flags().String("push-to", "", "provider")

	BindFlagsToViper(v, cmd, "build")
	require.NoError(t, cmd.Flags().Set("push-to", "ec2-us-east-1"))
	assert.Equal(t, "ec2-us-east-1", v.GetString("build.push_to"))
}

func TestExecute_HelpAndUnknownFlag(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "Foundry builds virtual-machine images")

	_, err = execute(t, "--unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flag")
}

func TestInitConfig_MissingConfigFile(t *testing.T) {
	_, err := execute(t, "targets", "-c", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "foundry version")
	assert.Contains(t, out, "commit:")
	assert.Contains(t, out, "built:")
}
