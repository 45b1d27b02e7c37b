package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bcgp/connectivity-impact/internal/pipeline"
)

var (
	runCmd = newStageCmd(pipeline.CommandRun,
		"Reset the workspace and run every stage",
		"Deletes and recreates the workspace, normalizes the indicators, aggregates the CII, ranks roads and trails, and exports the results.")
	indexCmd = newStageCmd(pipeline.CommandIndex,
		"Reset the workspace and build the CII rasters",
		"Deletes and recreates the workspace, normalizes the ten indicators into score rasters and aggregates them into the composite and overall CII rasters.")
	roadsCmd = newStageCmd(pipeline.CommandRoads,
		"Rank road segments against the stored CII",
		"Buffers the candidate road segments, resolves the mean CII under each buffer and ranks the segments globally and per region.")
	trailsCmd = newStageCmd(pipeline.CommandTrails,
		"Prepare islands and rank trails against the stored CII",
		"Dissolves and filters low-stress islands, resolves the mean CII under each, joins them to nearby trails and ranks the trails globally and per region.")
	exportCmd = newStageCmd(pipeline.CommandExport,
		"Export stored rankings and the overall CII raster",
		"Writes the stored rankings as XLSX, GeoJSON and shapefiles and the overall CII raster as an ESRI ASCII grid.")
)

func newStageCmd(command, short, long string) *cobra.Command {
	return &cobra.Command{
		Use:   command,
		Short: short,
		Long:  long,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runPipeline(ctx, command, os.Stdout)
		},
	}
}

// runPipeline validates the configuration for command, runs it and prints
// the run report as JSON.
func runPipeline(ctx context.Context, command string, out io.Writer) error {
	if err := cfg.Validate(command); err != nil {
		return err
	}

	catalog, err := loadCatalog()
	if err != nil {
		return eris.Wrap(err, "load indicator catalog")
	}

	st, err := initWorkspace(ctx)
	if err != nil {
		return eris.Wrap(err, "open workspace")
	}
	defer st.Close() //nolint:errcheck

	p := pipeline.New(cfg, st, catalog)
	report, runErr := p.Execute(ctx, command)
	if report != nil {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			zap.L().Warn("print report", zap.Error(err))
		}
	}
	if runErr != nil {
		return eris.Wrapf(runErr, "%s", command)
	}

	zap.L().Info("command complete",
		zap.String("command", command),
		zap.String("run_id", report.RunID),
		zap.Int("warnings", len(report.Warnings)),
	)
	return nil
}

func init() {
	rootCmd.AddCommand(runCmd, indexCmd, roadsCmd, trailsCmd, exportCmd)
}
