// Package export writes aggregated tables to their destinations. Every write
// regenerates its output; nothing is appended.
package export

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/sells-group/merra2-cli/internal/db"
	"github.com/sells-group/merra2-cli/internal/model"
)

// Sink writes one (group, variable) table and returns where it went.
type Sink interface {
	Name() string
	Write(ctx context.Context, t *model.AggregatedTable) (string, error)
}

// Format names accepted by Build.
const (
	FormatCSV      = "csv"
	FormatWideCSV  = "wide_csv"
	FormatXLSX     = "xlsx"
	FormatSQLite   = "sqlite"
	FormatPostgres = "postgres"
)

// Options selects and configures the sinks.
type Options struct {
	Root    string
	Formats []string
	Pool    db.Pool // required by the postgres format
	Schema  string
}

// Build returns one sink per requested format, defaulting to long CSV.
func Build(opts Options) ([]Sink, error) {
	formats := opts.Formats
	if len(formats) == 0 {
		formats = []string{FormatCSV}
	}
	sinks := make([]Sink, 0, len(formats))
	for _, f := range formats {
		switch f {
		case FormatCSV:
			sinks = append(sinks, &CSVSink{Root: opts.Root})
		case FormatWideCSV:
			sinks = append(sinks, &WideCSVSink{Root: opts.Root})
		case FormatXLSX:
			sinks = append(sinks, &XLSXSink{Root: opts.Root})
		case FormatSQLite:
			sinks = append(sinks, &SQLiteSink{Root: opts.Root})
		case FormatPostgres:
			if opts.Pool == nil {
				return nil, eris.New("export: postgres format needs a database pool")
			}
			sinks = append(sinks, NewPostgresSink(opts.Pool, opts.Schema))
		default:
			return nil, eris.Errorf("export: unknown format %q", f)
		}
	}
	return sinks, nil
}

// GroupDir is <root>/<group>.
func GroupDir(root, group string) string {
	return filepath.Join(root, group)
}

// TablePath is <root>/<group>/<group>_<variable><suffix>.
func TablePath(root, group, variable, suffix string) string {
	return filepath.Join(GroupDir(root, group), group+"_"+variable+suffix)
}

// create truncates or creates path, making its directory first.
func create(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrapf(err, "export: create dir for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, eris.Wrapf(err, "export: create %s", path)
	}
	return f, nil
}
