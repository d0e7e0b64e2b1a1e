package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sells-group/merra2-cli/internal/config"
	"github.com/sells-group/merra2-cli/internal/fetcher"
	"github.com/sells-group/merra2-cli/internal/manifest"
	"github.com/sells-group/merra2-cli/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show manifest, download and export state per group",
	RunE: func(cmd *cobra.Command, _ []string) error {
		rows, err := collectStatus(cfg)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Fprintln(os.Stderr, "No groups found.")
			return nil
		}
		printStatus(os.Stdout, rows)
		return nil
	},
}

// groupStatus is what is on disk for one group.
type groupStatus struct {
	Group   string
	Listed  int // data URLs in the manifest
	Files   int // downloaded data files
	Bytes   int64
	Partial int // leftover .part files
	Outputs int // files in the export directory
}

func collectStatus(c *config.Config) ([]groupStatus, error) {
	byGroup := make(map[string]*groupStatus)
	get := func(name string) *groupStatus {
		s, ok := byGroup[name]
		if !ok {
			s = &groupStatus{Group: name}
			byGroup[name] = s
		}
		return s
	}

	var entries []model.ManifestEntry
	if _, err := os.Stat(c.Paths.Lists); err == nil {
		entries, err = manifest.LoadDir(c.Paths.Lists)
		if err != nil && !errors.Is(err, manifest.ErrNoManifests) {
			return nil, err
		}
	}
	for _, e := range entries {
		s := get(e.Group)
		if name, err := fetcher.FileName(e.SourceURL); err == nil && strings.HasSuffix(name, c.Download.Extension) {
			s.Listed++
		}
	}

	err := eachFile(c.Paths.Raw, func(group string, info fs.FileInfo) {
		s := get(group)
		switch {
		case strings.HasSuffix(info.Name(), ".part"):
			s.Partial++
		case strings.HasSuffix(info.Name(), c.Download.Extension):
			s.Files++
			s.Bytes += info.Size()
		}
	})
	if err != nil {
		return nil, err
	}

	err = eachFile(c.Paths.Export, func(group string, _ fs.FileInfo) {
		get(group).Outputs++
	})
	if err != nil {
		return nil, err
	}

	rows := make([]groupStatus, 0, len(byGroup))
	for _, s := range byGroup {
		rows = append(rows, *s)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Group < rows[j].Group })
	return rows, nil
}

// eachFile calls fn for every regular file one level below a group directory
// of root. A missing root is not an error.
func eachFile(root string, fn func(group string, info fs.FileInfo)) error {
	groups, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, g := range groups {
		if !g.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(root, g.Name()))
		if err != nil {
			return err
		}
		for _, f := range files {
			if !f.Type().IsRegular() {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			fn(g.Name(), info)
		}
	}
	return nil
}

func printStatus(w io.Writer, rows []groupStatus) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tLISTED\tDOWNLOADED\tSIZE\tPARTIAL\tOUTPUTS")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%d\t%d\n",
			r.Group, r.Listed, r.Files, humanize.Bytes(uint64(r.Bytes)), r.Partial, r.Outputs)
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
