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
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/muntasiractive/roamedge-sub001/database"
	"github.com/muntasiractive/roamedge-sub001/types"
	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations",
		Long:  "Create the history table if needed, repair it once if it is out of sync, then apply every pending script",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			runner, _, err := opts.runner()
			if err != nil {
				return err
			}
			result, err := runner.Migrate(ctx, opts.resolver().Resolve())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			out := cmd.OutOrStdout()
			if result.Baselined {
				fmt.Fprintln(out, "Existing store baselined.")
			}
			if result.Repaired {
				fmt.Fprintln(out, "Migration history repaired.")
			}
			if result.MigrationsExecuted == 0 {
				fmt.Fprintf(out, "Schema is up to date at version %s.\n", displayVersion(result.CurrentVersion))
			} else {
				fmt.Fprintf(out, "Applied %d migration(s), schema now at version %s.\n",
					result.MigrationsExecuted, displayVersion(result.CurrentVersion))
			}
			return nil
		},
	}
}

func newInfoCmd(opts *options) *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show the state of every migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter *database.MigrationState
			if state != "" {
				s, ok := types.ParseEnum(state, database.MigrationStates()...)
				if !ok {
					return fmt.Errorf("unknown state %q", state)
				}
				filter = &s
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			runner, _, err := opts.runner()
			if err != nil {
				return err
			}
			infos, err := runner.Info(ctx, opts.resolver().Resolve())
			if err != nil {
				return fmt.Errorf("failed to get migration info: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "VERSION\tDESCRIPTION\tTYPE\tINSTALLED ON\tSTATE")
			fmt.Fprintln(w, "-------\t-----------\t----\t------------\t-----")
			for _, info := range infos {
				if filter != nil && info.State != *filter {
					continue
				}
				installedOn := "-"
				if info.InstalledOn != nil {
					installedOn = info.InstalledOn.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					info.Version, info.Description, info.Type, installedOn, stateColor(info.State).Sprint(info.State.Name()))
			}
			if err := w.Flush(); err != nil {
				return fmt.Errorf("failed to flush output: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "Only show migrations in this state")
	return cmd
}

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Compare the history table with the scripts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			runner, _, err := opts.runner()
			if err != nil {
				return err
			}
			err = runner.Validate(ctx, opts.resolver().Resolve())
			var verr *database.ValidationError
			if errors.As(err, &verr) {
				out := cmd.OutOrStdout()
				for _, p := range verr.Problems {
					fmt.Fprintf(out, "%s %s\n", color.RedString("x"), p)
				}
				return fmt.Errorf("%d validation problem(s), run `roamdb repair`", len(verr.Problems))
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migration history is valid.")
			return nil
		},
	}
}

func newRepairCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Remove failed or orphaned history rows and realign checksums",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			runner, _, err := opts.runner()
			if err != nil {
				return err
			}
			result, err := runner.Repair(ctx, opts.resolver().Resolve())
			if err != nil {
				return fmt.Errorf("repair failed: %w", err)
			}
			if !result.Changed() {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to repair.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d failed and %d missing row(s), realigned %d.\n",
				result.RemovedFailed, result.RemovedMissing, result.Realigned)
			return nil
		},
	}
}

func newBaselineCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "baseline",
		Short: "Mark an unmanaged store as being at the baseline version",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			runner, cfg, err := opts.runner()
			if err != nil {
				return err
			}
			if err := runner.Baseline(ctx, opts.resolver().Resolve()); err != nil {
				return fmt.Errorf("baseline failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Store baselined at version %s.\n", cfg.Migration.BaselineVersion)
			return nil
		},
	}
}

func displayVersion(v string) string {
	if v == "" {
		return "<none>"
	}
	return v
}

func stateColor(s database.MigrationState) *color.Color {
	switch s {
	case database.MigrationApplied:
		return color.New(color.FgGreen)
	case database.MigrationFailed, database.MigrationMissing:
		return color.New(color.FgRed)
	case database.MigrationPending:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}
