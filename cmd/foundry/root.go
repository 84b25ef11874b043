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

// Package main implements the foundry CLI, which builds virtual-machine
// images from XML templates and pushes them to cloud providers.
package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/cowdogmoo/foundry"
	"github.com/cowdogmoo/foundry/config"
	"github.com/cowdogmoo/foundry/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Context key type for storing config
type configKeyType struct{}

var (
	configKey = configKeyType{}

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "foundry",
	Short: "Foundry - virtual-machine image builder",
	Long: `Foundry builds virtual-machine images from XML templates on EC2, OpenStack
or an in-process mock, stores the results in a warehouse and pushes them to
provider accounts.`,
	Version:           version,
	PersistentPreRunE: initConfig,
	SilenceUsage:      true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default is $HOME/.foundry/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (text, json, color)")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Serve Prometheus metrics on this address while the command runs")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "Quiet mode - only show errors")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose mode - show debug output")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(targetsCmd)
	rootCmd.AddCommand(versionCmd)
}

// configFromContext retrieves the config from the command context.
// Returns nil if no config is stored in context.
func configFromContext(cmd *cobra.Command) *config.Config {
	if cfg, ok := cmd.Context().Value(configKey).(*config.Config); ok {
		return cfg
	}
	return nil
}

// initConfig initializes configuration with proper precedence:
// CLI Flags > Environment Variables > Config File > Defaults
func initConfig(cmd *cobra.Command, args []string) error {
	var cfg *config.Config
	var err error
	if cfgFile != "" {
		cfg, err = config.LoadFromPath(cfgFile)
		if err != nil {
			return err
		}
	} else {
		cfg, err = config.Load()
		if err != nil {
			logging.Warn("failed to load config, using defaults: %v", err)
			cfg = config.Default()
		}
	}

	v := viper.New()
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)

	flags := cmd.Root().PersistentFlags()
	for key, name := range map[string]string{
		"log.level":    "log-level",
		"log.format":   "log-format",
		"metrics.addr": "metrics-addr",
	} {
		if f := flags.Lookup(name); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("failed to bind %s flag: %w", name, err)
			}
		}
	}
	BindCommandFlagsToViper(v, cmd)

	quiet, _ := cmd.Flags().GetBool("quiet")
	verbose, _ := cmd.Flags().GetBool("verbose")
	if err := logging.Initialize(v.GetString("log.level"), v.GetString("log.format"), quiet, verbose); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	cfg.Log.Level = v.GetString("log.level")
	cfg.Log.Format = v.GetString("log.format")
	cfg.Metrics.Addr = v.GetString("metrics.addr")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, configKey, cfg)
	ctx = logging.WithLogger(ctx, logging.Default())
	cmd.SetContext(ctx)
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// openFoundry builds the process context from the command's config.
func openFoundry(cmd *cobra.Command) (*foundry.Foundry, error) {
	cfg := configFromContext(cmd)
	if cfg == nil {
		cfg = config.Default()
	}
	return foundry.New(cmd.Context(), cfg)
}

// BindFlagsToViper binds all flags from a command to a Viper instance under
// the viperKey prefix, converting kebab-case names to snake_case keys.
func BindFlagsToViper(v *viper.Viper, cmd *cobra.Command, viperKey string) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if viperKey != "" {
			key = viperKey + "." + key
		}
		if err := v.BindPFlag(key, f); err != nil {
			logging.Warn("failed to bind flag %s to viper: %v", f.Name, err)
		}
	})
}

// BindCommandFlagsToViper binds the current command's local flags under its
// command path.
func BindCommandFlagsToViper(v *viper.Viper, cmd *cobra.Command) {
	BindFlagsToViper(v, cmd, getCommandPath(cmd))
}

// getCommandPath returns the command path for Viper key namespacing.
// For example, "foundry targets" returns "targets".
func getCommandPath(cmd *cobra.Command) string {
	var parts []string
	for current := cmd; current != nil && current.Parent() != nil; current = current.Parent() {
		parts = append([]string{current.Name()}, parts...)
	}
	return strings.Join(parts, ".")
}
