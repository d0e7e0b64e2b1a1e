package export

import (
	"context"
	"math"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/merra2-cli/internal/aggregate"
	"github.com/sells-group/merra2-cli/internal/model"
)

// maxXLSXRows is the worksheet row limit, header included.
const maxXLSXRows = 1 << 20

// XLSXSink writes the long layout to a single worksheet.
type XLSXSink struct {
	Root string
}

func (s *XLSXSink) Name() string { return FormatXLSX }

func (s *XLSXSink) Write(ctx context.Context, t *model.AggregatedTable) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if t.Cells()+1 > maxXLSXRows {
		return "", eris.Errorf("export: %s/%s has %d cells, more than a worksheet holds", t.Group, t.Variable, t.Cells())
	}
	recs, err := aggregate.Unpivot(t)
	if err != nil {
		return "", err
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName(t.Variable))
	if err != nil {
		return "", eris.Wrap(err, "export: xlsx add sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{model.IndexLabel, "lat", "lon", "vel"} {
		header.AddCell().SetString(h)
	}
	for _, r := range recs {
		row := sheet.AddRow()
		row.AddCell().SetString(t.Period.Format(r.Timestamp))
		row.AddCell().SetFloatWithFormat(r.Latitude, "0.00")
		row.AddCell().SetFloatWithFormat(r.Longitude, "0.00")
		vel := row.AddCell()
		if !math.IsNaN(r.Value) {
			vel.SetFloat(r.Value)
		}
	}

	path := TablePath(s.Root, t.Group, t.Variable, ".xlsx")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", eris.Wrapf(err, "export: create dir for %s", path)
	}
	if err := f.Save(path); err != nil {
		return "", eris.Wrapf(err, "export: xlsx save %s", path)
	}
	return path, nil
}

// sheetName trims to the 31 characters a sheet name may hold.
func sheetName(s string) string {
	if len(s) > 31 {
		return s[:31]
	}
	if s == "" {
		return "Sheet1"
	}
	return s
}
