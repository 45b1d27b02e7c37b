package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/bcgp/connectivity-impact/internal/pipeline"
	"github.com/bcgp/connectivity-impact/internal/workspace"
)

var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Inspect or reset the workspace",
}

var workspaceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the latest run and its report",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd.Context(), func(ctx context.Context, st workspace.Store) error {
			return printStatus(ctx, st, os.Stdout)
		})
	},
}

var workspaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored rasters, feature sets and tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd.Context(), func(ctx context.Context, st workspace.Store) error {
			return printObjects(ctx, st, os.Stdout)
		})
	},
}

var workspaceResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete and recreate the workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd.Context(), func(ctx context.Context, st workspace.Store) error {
			if err := st.Reset(ctx); err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, "workspace reset")
			return nil
		})
	},
}

func withWorkspace(ctx context.Context, fn func(context.Context, workspace.Store) error) error {
	if err := cfg.Validate("workspace"); err != nil {
		return err
	}
	st, err := initWorkspace(ctx)
	if err != nil {
		return eris.Wrap(err, "open workspace")
	}
	defer st.Close() //nolint:errcheck
	return fn(ctx, st)
}

func printStatus(ctx context.Context, st workspace.Store, w io.Writer) error {
	run, err := st.LatestRun(ctx)
	if workspace.IsNotFound(err) {
		fmt.Fprintln(w, "no runs recorded")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "run %s: %s %s, started %s\n", run.ID, run.Command, run.Status, run.StartedAt.Format("2006-01-02 15:04:05"))
	if len(run.Report) == 0 {
		return nil
	}
	report, err := pipeline.ParseReport(run.Report)
	if err != nil {
		return err
	}
	for _, s := range report.Stages {
		fmt.Fprintf(w, "  %-10s %-8s %6dms %s\n", s.Name, s.Status, s.DurationMS, s.Error)
	}
	for _, warn := range report.Warnings {
		fmt.Fprintf(w, "  warning %s\n", warn)
	}
	for fam, passes := range report.Passes {
		fmt.Fprintf(w, "  %s zonal passes: %d\n", fam, passes)
	}
	if len(report.Mismatches) > 0 {
		enc := json.NewEncoder(w)
		enc.SetIndent("  ", "  ")
		fmt.Fprint(w, "  region mismatches: ")
		return enc.Encode(report.Mismatches)
	}
	return nil
}

func printObjects(ctx context.Context, st workspace.Store, w io.Writer) error {
	objs, err := st.List(ctx)
	if err != nil {
		return err
	}
	if len(objs) == 0 {
		fmt.Fprintln(w, "workspace is empty")
		return nil
	}
	for _, o := range objs {
		fmt.Fprintf(w, "%-40s %-9s %8d\n", o.Name, o.Kind, o.Rows)
	}
	return nil
}

func init() {
	workspaceCmd.AddCommand(workspaceStatusCmd, workspaceListCmd, workspaceResetCmd)
	rootCmd.AddCommand(workspaceCmd)
}
