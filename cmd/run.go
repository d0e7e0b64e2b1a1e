package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Download then process",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("run"); err != nil {
			return err
		}
		groups := selectedGroups(cmd)

		sum, err := runDownload(ctx, cfg, groups)
		if err != nil {
			return err
		}
		printDownloadSummary(os.Stdout, sum)
		if sum.Total.Failed > 0 {
			zap.L().Warn("processing with incomplete downloads", zap.Int("failed", sum.Total.Failed))
		}

		results, err := runProcess(ctx, cfg, groups)
		printProcessResults(os.Stdout, results)
		return err
	},
}

func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}
