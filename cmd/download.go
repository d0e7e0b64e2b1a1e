package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/merra2-cli/internal/config"
	"github.com/sells-group/merra2-cli/internal/download"
	"github.com/sells-group/merra2-cli/internal/manifest"
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download every file listed in the manifests",
	Long:  "Reads <lists>/*.txt, one site group per manifest, and downloads each data URL into <raw>/<group>/. Files already present are skipped.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("download"); err != nil {
			return err
		}
		sum, err := runDownload(ctx, cfg, selectedGroups(cmd))
		if err != nil {
			return err
		}
		printDownloadSummary(os.Stdout, sum)
		return nil
	},
}

// runDownload loads the manifests and runs the download phase.
func runDownload(ctx context.Context, c *config.Config, groups []string) (download.Summary, error) {
	if err := ensureDirs(c.Paths.Lists, c.Paths.Raw); err != nil {
		return download.Summary{}, err
	}

	entries, err := manifest.LoadDir(c.Paths.Lists)
	if err != nil {
		return download.Summary{}, err
	}
	entries = filterEntries(entries, groups)

	coord, err := newCoordinator(c)
	if err != nil {
		return download.Summary{}, err
	}

	start := time.Now()
	sum, err := coord.Run(ctx, entries)
	if err != nil {
		return sum, err
	}
	zap.L().Info("download complete",
		zap.Int("groups", len(sum.Groups)),
		zap.Int("downloaded", sum.Total.Downloaded),
		zap.Int("present", sum.Total.Present),
		zap.Int("skipped", sum.Total.Skipped),
		zap.Int("failed", sum.Total.Failed),
		zap.Duration("elapsed", time.Since(start)),
	)
	return sum, nil
}

// printDownloadSummary writes one line per group, the totals and then every
// failed URL.
func printDownloadSummary(w io.Writer, sum download.Summary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tDOWNLOADED\tPRESENT\tSKIPPED\tFAILED\tELAPSED")
	for _, g := range sum.Groups {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\n",
			g.Group, g.Counts.Downloaded, g.Counts.Present, g.Counts.Skipped, g.Counts.Failed, g.Elapsed.Round(time.Millisecond))
	}
	fmt.Fprintf(tw, "TOTAL\t%d\t%d\t%d\t%d\t\n",
		sum.Total.Downloaded, sum.Total.Present, sum.Total.Skipped, sum.Total.Failed)
	tw.Flush() //nolint:errcheck

	for _, g := range sum.Groups {
		for _, f := range g.Failures {
			fmt.Fprintf(w, "failed: %s %s (attempts=%d status=%d auth=%t)\n", g.Group, f.URL, f.Attempts, f.Status, f.Auth)
		}
	}
}

func init() {
	addRunFlags(downloadCmd)
	rootCmd.AddCommand(downloadCmd)
}
