// Package aggregate merges per-file variable tables into one table per
// (group, variable) and unpivots it into long records.
package aggregate

import (
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/merra2-cli/internal/model"
)

// Aggregate stacks the rows of every table, reduces rows sharing a timestamp
// to their per-column mean (NaN cells ignored) and sorts by timestamp.
// Columns are the union of the input columns in first-seen order.
func Aggregate(group, variable string, tables []*model.VariableTable) *model.AggregatedTable {
	out := &model.AggregatedTable{Group: group, Variable: variable, Period: model.PeriodNone}

	colIdx := make(map[string]int)
	for _, t := range tables {
		for _, c := range t.Columns {
			if _, ok := colIdx[c]; !ok {
				colIdx[c] = len(out.Columns)
				out.Columns = append(out.Columns, c)
			}
		}
	}
	width := len(out.Columns)

	type acc struct {
		sum []float64
		n   []int
	}
	rows := make(map[time.Time]*acc)

	for _, t := range tables {
		pos := make([]int, len(t.Columns))
		for j, c := range t.Columns {
			pos[j] = colIdx[c]
		}
		for i, ts := range t.Index {
			key := ts.UTC()
			a, ok := rows[key]
			if !ok {
				a = &acc{sum: make([]float64, width), n: make([]int, width)}
				rows[key] = a
				out.Index = append(out.Index, key)
			}
			for j, v := range t.Values[i] {
				if math.IsNaN(v) {
					continue
				}
				a.sum[pos[j]] += v
				a.n[pos[j]]++
			}
		}
	}

	sort.Slice(out.Index, func(i, j int) bool { return out.Index[i].Before(out.Index[j]) })

	out.Values = make([][]float64, len(out.Index))
	for i, ts := range out.Index {
		a := rows[ts]
		row := make([]float64, width)
		for j := range row {
			if a.n[j] == 0 {
				row[j] = math.NaN()
				continue
			}
			row[j] = a.sum[j] / float64(a.n[j])
		}
		out.Values[i] = row
	}
	return out
}

// Unpivot emits one record per (timestamp, column) cell, row by row.
func Unpivot(t *model.AggregatedTable) ([]model.LongRecord, error) {
	lats := make([]float64, len(t.Columns))
	lons := make([]float64, len(t.Columns))
	for j, c := range t.Columns {
		lat, lon, err := model.ParseCoordLabel(c)
		if err != nil {
			return nil, eris.Wrapf(err, "aggregate: unpivot %s/%s", t.Group, t.Variable)
		}
		lats[j], lons[j] = lat, lon
	}

	out := make([]model.LongRecord, 0, t.Cells())
	for i, ts := range t.Index {
		for j := range t.Columns {
			out = append(out, model.LongRecord{
				Timestamp: ts,
				Latitude:  lats[j],
				Longitude: lons[j],
				Value:     t.Values[i][j],
			})
		}
	}
	return out, nil
}

// ByVariable regroups per-file extraction results into per-variable table
// lists, variables sorted by name.
func ByVariable(files []map[string]*model.VariableTable) ([]string, map[string][]*model.VariableTable) {
	byVar := make(map[string][]*model.VariableTable)
	for _, f := range files {
		for name, t := range f {
			byVar[name] = append(byVar[name], t)
		}
	}
	names := make([]string, 0, len(byVar))
	for name := range byVar {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, byVar
}
