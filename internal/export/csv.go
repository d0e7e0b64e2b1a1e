package export

import (
	"context"
	"encoding/csv"
	"math"
	"strconv"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/sells-group/merra2-cli/internal/aggregate"
	"github.com/sells-group/merra2-cli/internal/model"
)

// coord renders with the two decimals of the column labels.
type coord float64

func (c coord) MarshalText() ([]byte, error) {
	return []byte(strconv.FormatFloat(float64(c), 'f', 2, 64)), nil
}

// value renders NaN as an empty field.
type value float64

func (v value) MarshalText() ([]byte, error) {
	if math.IsNaN(float64(v)) {
		return nil, nil
	}
	return []byte(strconv.FormatFloat(float64(v), 'f', -1, 64)), nil
}

type longRow struct {
	Data string `csv:"Data"`
	Lat  coord  `csv:"lat"`
	Lon  coord  `csv:"lon"`
	Vel  value  `csv:"vel"`
}

// CSVSink writes the long layout: Data,lat,lon,vel.
type CSVSink struct {
	Root string
}

func (s *CSVSink) Name() string { return FormatCSV }

func (s *CSVSink) Write(ctx context.Context, t *model.AggregatedTable) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	recs, err := aggregate.Unpivot(t)
	if err != nil {
		return "", err
	}

	path := TablePath(s.Root, t.Group, t.Variable, ".csv")
	f, err := create(path)
	if err != nil {
		return "", err
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	enc := csvutil.NewEncoder(w)
	if err := enc.EncodeHeader(longRow{}); err != nil {
		return "", eris.Wrapf(err, "export: csv header %s", path)
	}
	for _, r := range recs {
		row := longRow{
			Data: t.Period.Format(r.Timestamp),
			Lat:  coord(r.Latitude),
			Lon:  coord(r.Longitude),
			Vel:  value(r.Value),
		}
		if err := enc.Encode(row); err != nil {
			return "", eris.Wrapf(err, "export: csv encode %s", path)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", eris.Wrapf(err, "export: csv flush %s", path)
	}
	if err := f.Close(); err != nil {
		return "", eris.Wrapf(err, "export: close %s", path)
	}
	return path, nil
}

// WideCSVSink writes one row per timestamp and one column per grid cell.
type WideCSVSink struct {
	Root string
}

func (s *WideCSVSink) Name() string { return FormatWideCSV }

func (s *WideCSVSink) Write(ctx context.Context, t *model.AggregatedTable) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := TablePath(s.Root, t.Group, t.Variable, "_wide.csv")
	f, err := create(path)
	if err != nil {
		return "", err
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	header := append([]string{model.IndexLabel}, t.Columns...)
	if err := w.Write(header); err != nil {
		return "", eris.Wrapf(err, "export: wide csv header %s", path)
	}
	rec := make([]string, len(header))
	for i, ts := range t.Index {
		rec[0] = t.Period.Format(ts)
		for j, v := range t.Values[i] {
			b, _ := value(v).MarshalText()
			rec[j+1] = string(b)
		}
		if err := w.Write(rec); err != nil {
			return "", eris.Wrapf(err, "export: wide csv row %s", path)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", eris.Wrapf(err, "export: wide csv flush %s", path)
	}
	if err := f.Close(); err != nil {
		return "", eris.Wrapf(err, "export: close %s", path)
	}
	return path, nil
}
