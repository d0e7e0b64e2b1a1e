package main

import (
	"slices"

	"github.com/spf13/cobra"

	"github.com/sells-group/merra2-cli/internal/config"
	"github.com/sells-group/merra2-cli/internal/model"
)

// addRunFlags registers the flags shared by download, process and run.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().Int("workers", 0, "worker pool size (overrides download.workers / extract.workers)")
	cmd.Flags().StringSlice("groups", nil, "only these site groups (manifest stems)")
	cmd.Flags().StringSlice("formats", nil, "export formats: csv, wide_csv, xlsx, sqlite, postgres")
}

// applyFlags copies explicitly set flags over the loaded configuration.
func applyFlags(cmd *cobra.Command, c *config.Config) error {
	flags := cmd.Flags()
	if f := flags.Lookup("workers"); f != nil && f.Changed {
		n, err := flags.GetInt("workers")
		if err != nil {
			return err
		}
		switch cmd.Name() {
		case "download":
			c.Download.Workers = n
		case "process":
			c.Extract.Workers = n
		default:
			c.Download.Workers = n
			c.Extract.Workers = n
		}
	}
	if f := flags.Lookup("formats"); f != nil && f.Changed {
		formats, err := flags.GetStringSlice("formats")
		if err != nil {
			return err
		}
		c.Export.Formats = formats
	}
	return nil
}

// selectedGroups returns the --groups filter, nil when unset.
func selectedGroups(cmd *cobra.Command) []string {
	if cmd.Flags().Lookup("groups") == nil {
		return nil
	}
	groups, _ := cmd.Flags().GetStringSlice("groups")
	return groups
}

// filterEntries keeps the manifest entries of the selected groups.
func filterEntries(entries []model.ManifestEntry, groups []string) []model.ManifestEntry {
	if len(groups) == 0 {
		return entries
	}
	out := make([]model.ManifestEntry, 0, len(entries))
	for _, e := range entries {
		if slices.Contains(groups, e.Group) {
			out = append(out, e)
		}
	}
	return out
}
