package main

import (
	"os"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/merra2-cli/internal/config"
)

var (
	cfg   *config.Config
	runID string
)

var rootCmd = &cobra.Command{
	Use:   "merra2",
	Short: "MERRA-2 download and extraction tool",
	Long:  "Downloads the MERRA-2 files listed in per-site manifests, extracts every gridded variable and exports one aggregated table per site and variable.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}

		runID = uuid.NewString()
		zap.ReplaceGlobals(zap.L().With(zap.String("run_id", runID)))

		return applyFlags(cmd, cfg)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
