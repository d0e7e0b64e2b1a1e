package model

import "time"

// IndexLabel is the name of the time axis in every export.
const IndexLabel = "Data"

// VariableTable holds one variable extracted from one grid file. Rows follow
// Index (one per time step, not necessarily unique), columns follow Columns
// (one per grid cell).
type VariableTable struct {
	Variable string
	Columns  []string
	Index    []time.Time
	Values   [][]float64
}

// Rows returns the number of time steps.
func (t *VariableTable) Rows() int { return len(t.Index) }

// AggregatedTable is the merge of every VariableTable of one variable within
// a group. Index is unique and sorted ascending.
type AggregatedTable struct {
	Group    string
	Variable string
	Period   Period
	Columns  []string
	Index    []time.Time
	Values   [][]float64
}

// Rows returns the number of distinct timestamps.
func (t *AggregatedTable) Rows() int { return len(t.Index) }

// Cells returns rows x columns, the number of long records the table unpivots to.
func (t *AggregatedTable) Cells() int { return len(t.Index) * len(t.Columns) }

// LongRecord is one (time, grid cell) value.
type LongRecord struct {
	Timestamp time.Time
	Latitude  float64
	Longitude float64
	Value     float64
}
