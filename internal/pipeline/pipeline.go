// Package pipeline runs the process phase: extract every grid file of a
// group, aggregate per variable and hand the tables to the export sinks.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/merra2-cli/internal/aggregate"
	"github.com/sells-group/merra2-cli/internal/export"
	"github.com/sells-group/merra2-cli/internal/model"
	"github.com/sells-group/merra2-cli/internal/progress"
)

// Extractor reads one grid file into per-variable tables.
type Extractor interface {
	Extract(path string) (map[string]*model.VariableTable, error)
}

// Options configures a Processor.
type Options struct {
	RawRoot    string
	ExportRoot string
	Extension  string // data file suffix, default ".nc4"
	Workers    int    // extraction pool size, 0 means one per CPU
	Period     model.Period
	Sinks      []export.Sink
	Grid       *export.GridWriter
	Summary    bool
	RunID      string
	Progress   progress.Factory
}

// Processor runs the process phase group by group.
type Processor struct {
	extractor Extractor
	opts      Options
}

// New creates a Processor.
func New(ex Extractor, opts Options) *Processor {
	if opts.Extension == "" {
		opts.Extension = ".nc4"
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Period == "" {
		opts.Period = model.PeriodNone
	}
	if opts.Progress == nil {
		opts.Progress = progress.NopFactory
	}
	return &Processor{extractor: ex, opts: opts}
}

// GroupResult is the outcome of one group.
type GroupResult struct {
	Group       string
	Files       int
	Failed      int
	FailedFiles []string
	Variables   []string
	Outputs     []string
	SinkErrors  int
	Skipped     bool // no data files in the group directory
	Elapsed     time.Duration
}

// Groups lists the group directories under the raw root, sorted. When only
// is non-empty the result is restricted to those names.
func (p *Processor) Groups(only []string) ([]string, error) {
	entries, err := os.ReadDir(p.opts.RawRoot)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read raw root %s", p.opts.RawRoot)
	}
	var groups []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if len(only) > 0 && !slices.Contains(only, e.Name()) {
			continue
		}
		groups = append(groups, e.Name())
	}
	sort.Strings(groups)
	return groups, nil
}

// Run processes the selected groups one after another.
func (p *Processor) Run(ctx context.Context, only []string) ([]GroupResult, error) {
	groups, err := p.Groups(only)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		zap.L().Warn("pipeline: no groups to process", zap.String("raw_root", p.opts.RawRoot))
	}

	results := make([]GroupResult, 0, len(groups))
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := p.RunGroup(ctx, g)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// dataFiles lists the data files of a group directory in name order.
func (p *Processor) dataFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read group dir %s", dir)
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), p.opts.Extension) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// RunGroup extracts, aggregates and exports one group. Per-file and per-sink
// failures are counted in the result; the error is reserved for setup
// failures.
func (p *Processor) RunGroup(ctx context.Context, group string) (GroupResult, error) {
	log := zap.L().With(zap.String("component", "pipeline.processor"), zap.String("group", group))
	start := time.Now()
	res := GroupResult{Group: group}

	files, err := p.dataFiles(filepath.Join(p.opts.RawRoot, group))
	if err != nil {
		return res, err
	}
	res.Files = len(files)
	if len(files) == 0 {
		log.Warn("pipeline: group has no data files, skipping", zap.String("extension", p.opts.Extension))
		res.Skipped = true
		return res, nil
	}

	extracted := p.extractAll(ctx, log, group, files, &res)

	names, byVar := aggregate.ByVariable(extracted)
	res.Variables = names
	if len(names) == 0 {
		log.Warn("pipeline: no variables extracted", zap.Int("failed", res.Failed))
	}

	var (
		summaries []export.VariableSummary
		columns   []string
	)
	for _, name := range names {
		agg := aggregate.Aggregate(group, name, byVar[name])
		agg.Period = p.opts.Period
		if columns == nil {
			columns = agg.Columns
		}
		summaries = append(summaries, export.Summarize(agg))

		for _, sink := range p.opts.Sinks {
			out, err := sink.Write(ctx, agg)
			if err != nil {
				res.SinkErrors++
				log.Error("pipeline: export failed",
					zap.String("sink", sink.Name()),
					zap.String("variable", name),
					zap.Error(err),
				)
				continue
			}
			res.Outputs = append(res.Outputs, out)
		}
	}

	if p.opts.Grid != nil && columns != nil {
		paths, err := p.opts.Grid.Write(group, columns)
		res.Outputs = append(res.Outputs, paths...)
		if err != nil {
			res.SinkErrors++
			log.Error("pipeline: grid export failed", zap.Error(err))
		}
	}

	if p.opts.Summary {
		path, err := export.WriteSummary(p.opts.ExportRoot, export.GroupSummary{
			Group:       group,
			RunID:       p.opts.RunID,
			GeneratedAt: time.Now().UTC(),
			Files:       res.Files,
			Failed:      res.Failed,
			FailedFiles: res.FailedFiles,
			Variables:   summaries,
			Outputs:     res.Outputs,
			SinkErrors:  res.SinkErrors,
		})
		if err != nil {
			res.SinkErrors++
			log.Error("pipeline: summary failed", zap.Error(err))
		} else {
			res.Outputs = append(res.Outputs, path)
		}
	}

	res.Elapsed = time.Since(start)
	log.Info("pipeline: group complete",
		zap.Int("files", res.Files),
		zap.Int("failed", res.Failed),
		zap.Int("variables", len(res.Variables)),
		zap.Int("outputs", len(res.Outputs)),
		zap.Int("sink_errors", res.SinkErrors),
		zap.Int64("duration_ms", res.Elapsed.Milliseconds()),
	)
	return res, nil
}

// extractAll runs the extractor over files on the worker pool. Results keep
// file order; failed files are left out.
func (p *Processor) extractAll(ctx context.Context, log *zap.Logger, group string, files []string, res *GroupResult) []map[string]*model.VariableTable {
	rep := p.opts.Progress("extract "+group, len(files))
	results := make([]map[string]*model.VariableTable, len(files))

	var mu sync.Mutex
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for i, path := range files {
		g.Go(func() error {
			defer rep.Advance()
			tables, err := p.extractor.Extract(path)
			if err != nil {
				log.Error("pipeline: extract failed", zap.String("path", path), zap.Error(err))
				mu.Lock()
				res.Failed++
				res.FailedFiles = append(res.FailedFiles, filepath.Base(path))
				mu.Unlock()
				return nil // one bad file never stops the rest
			}
			results[i] = tables
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(res.FailedFiles)
	out := make([]map[string]*model.VariableTable, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}
