/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Command roamdb migrates and inspects the Roam data store.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/muntasiractive/roamedge-sub001/config"
	"github.com/muntasiractive/roamedge-sub001/database"
	"github.com/muntasiractive/roamedge-sub001/utils"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

type options struct {
	configPath    string
	migrationsDir string
	home          string
	logLevel      string
	logFormat     string
	timeout       time.Duration
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "roamdb",
		Short:        "Roam data store CLI",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.logLevel != "" {
				utils.ConfigureLogLevel(opts.logLevel)
			}
			if opts.logFormat != "" {
				utils.ConfigureLogFormat(opts.logFormat)
			}
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML file with pool and migration settings")
	root.PersistentFlags().StringVar(&opts.migrationsDir, "migrations-dir", "", "Directory of V<version>__<description>.sql scripts (default: embedded)")
	root.PersistentFlags().StringVar(&opts.home, "home", "", "Home directory holding .roam/ (default: current user's home)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format: text, json")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Overall command timeout")

	root.AddCommand(
		newMigrateCmd(opts),
		newInfoCmd(opts),
		newValidateCmd(opts),
		newRepairCmd(opts),
		newBaselineCmd(opts),
		newCheckCmd(opts),
		newConfigCmd(opts),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "roamdb version %s\n", version)
		},
	}
}

func (o *options) defaults() config.Defaults {
	d := config.DefaultsFromEnvironment()
	if o.home != "" {
		d.HomeDir = o.home
	}
	return d
}

func (o *options) resolver() *config.Resolver {
	d := o.defaults()
	logger := utils.NewLogger("CONFIG")
	return config.NewResolver(
		config.WithLogger(logger),
		config.WithDefaults(d),
		config.WithSources(config.NewEnvSource(d), config.NewFileSource(d, logger)),
	)
}

func (o *options) loadConfig() (*database.Config, error) {
	cfg := database.DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = database.LoadConfig(o.configPath); err != nil {
			return nil, err
		}
	}
	if o.migrationsDir != "" {
		cfg.Migration.Dir = o.migrationsDir
	}
	return cfg, nil
}

func (o *options) runner() (*database.Runner, *database.Config, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	return database.NewRunner(cfg), cfg, nil
}
