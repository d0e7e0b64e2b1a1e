package grid

import (
	"math"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/merra2-cli/internal/model"
)

// ErrExtract marks every per-file extraction failure.
var ErrExtract = eris.New("grid: extract failed")

// FileError is an extraction failure of one file. It matches ErrExtract and
// whatever caused it, ErrBadTimeAxis included.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string { return "grid: " + e.Path + ": " + e.Err.Error() }

func (e *FileError) Unwrap() []error { return []error{ErrExtract, e.Err} }

// Composite derives Name as the element-wise magnitude of the U and V
// components.
type Composite struct {
	U    string
	V    string
	Name string
}

// DefaultComposites is the 50 m wind speed.
func DefaultComposites() []Composite {
	return []Composite{{U: "U50M", V: "V50M", Name: "WS50M"}}
}

// TimeVar is the name of the time coordinate variable.
const TimeVar = "time"

// Extractor turns one grid file into a VariableTable per variable.
type Extractor struct {
	Period     model.Period
	Composites []Composite
}

// Extract reads every non-coordinate variable of the file at path. Columns
// are the (lat, lon) labels of the first gridded variable and are reused for
// the others; a variable whose per-step cell count differs is skipped.
func (e *Extractor) Extract(path string) (map[string]*model.VariableTable, error) {
	ds, err := Open(path)
	if err != nil {
		return nil, &FileError{Path: path, Err: err}
	}
	defer ds.Close()

	tables, err := e.extract(ds)
	if err != nil {
		return nil, &FileError{Path: path, Err: err}
	}
	return tables, nil
}

func (e *Extractor) extract(ds *Dataset) (map[string]*model.VariableTable, error) {
	log := zap.L().With(zap.String("component", "grid.extractor"), zap.String("path", ds.path))

	index, err := e.timeIndex(ds)
	if err != nil {
		return nil, err
	}

	useful, err := usefulVariables(ds)
	if err != nil {
		return nil, err
	}

	labels, err := gridLabels(ds, useful)
	if err != nil {
		return nil, err
	}

	tables := make(map[string]*model.VariableTable, len(useful)+len(e.Composites))
	for _, name := range useful {
		vals, shape, err := ds.Floats(name)
		if err != nil {
			return nil, err
		}
		if len(shape) < 2 || shape[0] != len(index) {
			log.Warn("skipping variable without a time x grid layout",
				zap.String("variable", name), zap.Ints("shape", shape))
			continue
		}
		cells := 1
		for _, n := range shape[1:] {
			cells *= n
		}
		if cells != len(labels) {
			log.Warn("skipping variable on a different grid",
				zap.String("variable", name),
				zap.Int("cells", cells),
				zap.Int("labels", len(labels)),
			)
			continue
		}
		tables[name] = newTable(name, labels, index, vals)
	}

	for _, c := range e.Composites {
		u, okU := tables[c.U]
		v, okV := tables[c.V]
		if !okU || !okV {
			continue
		}
		tables[c.Name] = magnitude(c.Name, u, v)
	}

	log.Debug("file extracted", zap.Int("variables", len(tables)), zap.Int("steps", len(index)))
	return tables, nil
}

func (e *Extractor) timeIndex(ds *Dataset) ([]time.Time, error) {
	if !ds.Has(TimeVar) {
		return nil, eris.Wrap(ErrBadTimeAxis, "grid: no time variable")
	}
	raw, _, err := ds.Floats(TimeVar)
	if err != nil {
		return nil, err
	}
	units, _ := ds.StringAttr(TimeVar, "units")
	calendar, _ := ds.StringAttr(TimeVar, "calendar")

	index, err := DecodeTimes(raw, units, calendar)
	if err != nil {
		return nil, err
	}
	for i, t := range index {
		index[i] = e.Period.Truncate(t)
	}
	return index, nil
}

// usefulVariables drops coordinate variables, those named after one of
// their own dimensions.
func usefulVariables(ds *Dataset) ([]string, error) {
	var out []string
	for _, name := range ds.Variables() {
		dims, err := ds.Dims(name)
		if err != nil {
			return nil, err
		}
		if slices.Contains(dims, name) {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

// gridLabels builds the column labels from the second and third dimensions
// of the first gridded variable.
func gridLabels(ds *Dataset, useful []string) ([]string, error) {
	for _, name := range useful {
		dims, err := ds.Dims(name)
		if err != nil {
			return nil, err
		}
		if len(dims) < 3 {
			continue
		}
		lats, _, err := ds.Floats(dims[1])
		if err != nil {
			return nil, eris.Wrapf(err, "grid: latitude axis of %s", name)
		}
		lons, _, err := ds.Floats(dims[2])
		if err != nil {
			return nil, eris.Wrapf(err, "grid: longitude axis of %s", name)
		}
		return model.GridLabels(lats, lons), nil
	}
	return nil, eris.New("grid: no variable on a time x lat x lon grid")
}

func newTable(name string, labels []string, index []time.Time, vals []float64) *model.VariableTable {
	cells := len(labels)
	rows := make([][]float64, len(index))
	for i := range rows {
		rows[i] = vals[i*cells : (i+1)*cells : (i+1)*cells]
	}
	return &model.VariableTable{Variable: name, Columns: labels, Index: index, Values: rows}
}

func magnitude(name string, u, v *model.VariableTable) *model.VariableTable {
	rows := make([][]float64, len(u.Values))
	for i := range rows {
		row := make([]float64, len(u.Values[i]))
		for j := range row {
			row[j] = math.Hypot(u.Values[i][j], v.Values[i][j])
		}
		rows[i] = row
	}
	return &model.VariableTable{Variable: name, Columns: u.Columns, Index: u.Index, Values: rows}
}
