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

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/muntasiractive/roamedge-sub001/config"
	"github.com/muntasiractive/roamedge-sub001/database"
	"github.com/spf13/cobra"
)

// newCheckCmd runs the full startup path: resolve, migrate, build the
// factory, then ping it.
func newCheckCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Initialize the store the way the application does and report its health",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			m := database.NewManager(cfg, database.WithResolver(opts.resolver()))
			defer func() {
				if serr := m.Shutdown(); serr != nil && err == nil {
					err = serr
				}
			}()

			f, err := m.Factory(ctx)
			if err != nil {
				return err
			}
			status := f.HealthCheck(ctx)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "driver:         %s\n", status.Driver)
			fmt.Fprintf(out, "healthy:        %t\n", status.Healthy)
			fmt.Fprintf(out, "response time:  %s\n", status.ResponseTime)
			fmt.Fprintf(out, "open conns:     %d active, %d idle, %d max\n", status.ActiveConns, status.IdleConns, status.MaxOpenConns)
			if !status.Healthy {
				return fmt.Errorf("store unhealthy: %s", status.LastError)
			}
			return nil
		},
	}
}

func newConfigCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the connection settings",
	}
	cmd.AddCommand(newConfigShowCmd(opts), newConfigInitCmd(opts))
	return cmd
}

func newConfigShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved credentials with the password redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, source := opts.resolver().ResolveWithSource()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "source:      %s\n", source)
			fmt.Fprintf(out, "credentials: %s\n", creds)
			fmt.Fprintf(out, "properties:  %s\n", opts.defaults().PropertiesPath())
			return nil
		},
	}
}

func newConfigInitCmd(opts *options) *cobra.Command {
	var creds config.ConnectionCredentials
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the user-scoped database.properties file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.defaults().PropertiesPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := config.WriteProperties(path, creds); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", filepath.Clean(path))
			return nil
		},
	}
	cmd.Flags().StringVar(&creds.Username, "user", "", "Database user (required)")
	cmd.Flags().StringVar(&creds.Password, "password", "", "Database password")
	cmd.Flags().StringVar(&creds.URL, "url", "", "Connection URL (default: the embedded store)")
	cmd.Flags().StringVar(&creds.Driver, "driver", "", "Driver: sqlite, postgres or mysql")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
