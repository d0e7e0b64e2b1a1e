package export

import (
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/merra2-cli/internal/model"
)

// VariableSummary describes one exported table.
type VariableSummary struct {
	Name    string   `yaml:"name"`
	Rows    int      `yaml:"rows"`
	Columns int      `yaml:"columns"`
	Missing int      `yaml:"missing"`
	First   string   `yaml:"first,omitempty"`
	Last    string   `yaml:"last,omitempty"`
	Min     *float64 `yaml:"min,omitempty"`
	Max     *float64 `yaml:"max,omitempty"`
	Mean    *float64 `yaml:"mean,omitempty"`
}

// GroupSummary is the run report of one group.
type GroupSummary struct {
	Group       string            `yaml:"group"`
	RunID       string            `yaml:"run_id,omitempty"`
	GeneratedAt time.Time         `yaml:"generated_at"`
	Files       int               `yaml:"files"`
	Failed      int               `yaml:"failed"`
	FailedFiles []string          `yaml:"failed_files,omitempty"`
	Variables   []VariableSummary `yaml:"variables"`
	Outputs     []string          `yaml:"outputs,omitempty"`
	SinkErrors  int               `yaml:"sink_errors"`
}

// Summarize computes the statistics of a table, NaN cells counted as missing.
func Summarize(t *model.AggregatedTable) VariableSummary {
	s := VariableSummary{Name: t.Variable, Rows: t.Rows(), Columns: len(t.Columns)}
	if t.Rows() > 0 {
		s.First = t.Period.Format(t.Index[0])
		s.Last = t.Period.Format(t.Index[t.Rows()-1])
	}

	vals := make([]float64, 0, t.Cells())
	for _, row := range t.Values {
		for _, v := range row {
			if math.IsNaN(v) {
				s.Missing++
				continue
			}
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return s
	}
	lo, hi := floats.Min(vals), floats.Max(vals)
	mean := floats.Sum(vals) / float64(len(vals))
	s.Min, s.Max, s.Mean = &lo, &hi, &mean
	return s
}

// SummaryPath is <root>/<group>/<group>_summary.yaml.
func SummaryPath(root, group string) string {
	return filepath.Join(GroupDir(root, group), group+"_summary.yaml")
}

// WriteSummary writes the group report as YAML.
func WriteSummary(root string, s GroupSummary) (string, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return "", eris.Wrap(err, "export: encode summary")
	}
	path := SummaryPath(root, s.Group)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", eris.Wrapf(err, "export: create dir for %s", path)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", eris.Wrapf(err, "export: write %s", path)
	}
	return path, nil
}
