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

	"github.com/sells-group/merra2-cli/internal/config"
	"github.com/sells-group/merra2-cli/internal/pipeline"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Extract, aggregate and export the downloaded files",
	Long:  "Extracts every variable of <raw>/<group>/*.nc4, averages duplicate timestamps and writes one table per group and variable under <export>/<group>/.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("process"); err != nil {
			return err
		}
		results, err := runProcess(ctx, cfg, selectedGroups(cmd))
		printProcessResults(os.Stdout, results)
		return err
	},
}

// runProcess runs the process phase over the raw tree.
func runProcess(ctx context.Context, c *config.Config, groups []string) ([]pipeline.GroupResult, error) {
	if err := ensureDirs(c.Paths.Raw, c.Paths.Export); err != nil {
		return nil, err
	}
	p, cleanup, err := newProcessor(ctx, c)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	return p.Run(ctx, groups)
}

func printProcessResults(w io.Writer, results []pipeline.GroupResult) {
	if len(results) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tFILES\tFAILED\tVARIABLES\tOUTPUTS\tSINK ERRORS\tELAPSED")
	for _, r := range results {
		if r.Skipped {
			fmt.Fprintf(tw, "%s\t0\t-\t-\t-\t-\tskipped\n", r.Group)
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.Group, r.Files, r.Failed, len(r.Variables), len(r.Outputs), r.SinkErrors, r.Elapsed.Round(time.Millisecond))
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	addRunFlags(processCmd)
	rootCmd.AddCommand(processCmd)
}
