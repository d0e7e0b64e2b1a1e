package main

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/merra2-cli/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return writeConfig(os.Stdout, cfg)
	},
}

const redacted = "<redacted>"

// writeConfig prints c with secrets masked.
func writeConfig(w io.Writer, c *config.Config) error {
	out := *c
	if out.Auth.Token != "" {
		out.Auth.Token = redacted
	}
	if out.Export.DatabaseURL != "" {
		out.Export.DatabaseURL = redacted
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return eris.Wrap(err, "config show")
	}
	return enc.Close()
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
