package main

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bcgp/connectivity-impact/internal/config"
	"github.com/bcgp/connectivity-impact/internal/indicator"
	"github.com/bcgp/connectivity-impact/internal/workspace"
)

var (
	cfg     *config.Config
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "cii",
	Short: "Community Impact Index and bicycle network ranking",
	Long:  "Builds the Community Impact Index raster from ten socioeconomic and transit indicators, then ranks road segments and trails by the CII under them and their connectivity.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.LoadFile(cfgFile)
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}

		zap.L().Debug("config loaded",
			zap.String("file", cfgFile),
			zap.String("workspace", cfg.Workspace.Driver),
			zap.Strings("regions", cfg.Regions),
		)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml)")
}

func initWorkspace(ctx context.Context) (workspace.Store, error) {
	return workspace.Open(ctx, workspace.Options{
		Driver:      cfg.Workspace.Driver,
		Path:        cfg.Workspace.Path,
		DatabaseURL: cfg.Workspace.DatabaseURL,
		Schema:      cfg.Workspace.Schema,
	})
}

// loadCatalog returns the built-in indicator catalog, overlaid with the
// configured catalog file when there is one.
func loadCatalog() (indicator.Catalog, error) {
	if cfg.Indicators.CatalogPath == "" {
		return indicator.DefaultCatalog(), nil
	}
	return indicator.LoadCatalog(cfg.Indicators.CatalogPath)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
