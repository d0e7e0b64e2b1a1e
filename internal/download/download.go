// Package download runs the manifest-driven download phase: groups one after
// another, a bounded worker pool within each group.
package download

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/merra2-cli/internal/fetcher"
	"github.com/sells-group/merra2-cli/internal/manifest"
	"github.com/sells-group/merra2-cli/internal/model"
	"github.com/sells-group/merra2-cli/internal/progress"
)

// DefaultWorkers is the per-group concurrency when none is configured.
const DefaultWorkers = 4

// Options configures a Coordinator.
type Options struct {
	RawRoot  string
	Workers  int
	Progress progress.Factory
}

// Coordinator fans manifest entries out to a Fetcher.
type Coordinator struct {
	fetcher  fetcher.Fetcher
	rawRoot  string
	workers  int
	progress progress.Factory
}

// New creates a Coordinator.
func New(f fetcher.Fetcher, opts Options) *Coordinator {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Progress == nil {
		opts.Progress = progress.NopFactory
	}
	return &Coordinator{
		fetcher:  f,
		rawRoot:  opts.RawRoot,
		workers:  opts.Workers,
		progress: opts.Progress,
	}
}

// Counts tallies item outcomes.
type Counts struct {
	Downloaded int `json:"downloaded" yaml:"downloaded"`
	Skipped    int `json:"skipped" yaml:"skipped"`
	Present    int `json:"present" yaml:"present"`
	Failed     int `json:"failed" yaml:"failed"`
}

// Items returns the number of items counted.
func (c Counts) Items() int { return c.Downloaded + c.Skipped + c.Present + c.Failed }

func (c *Counts) add(o Counts) {
	c.Downloaded += o.Downloaded
	c.Skipped += o.Skipped
	c.Present += o.Present
	c.Failed += o.Failed
}

// Failure records one URL that could not be fetched.
type Failure struct {
	URL      string `json:"url" yaml:"url"`
	Attempts int    `json:"attempts" yaml:"attempts"`
	Status   int    `json:"status,omitempty" yaml:"status,omitempty"`
	Auth     bool   `json:"auth,omitempty" yaml:"auth,omitempty"`
	Error    string `json:"error" yaml:"error"`
}

// GroupSummary is the outcome of one group.
type GroupSummary struct {
	Group    string        `json:"group" yaml:"group"`
	Counts   Counts        `json:"counts" yaml:"counts"`
	Failures []Failure     `json:"failures,omitempty" yaml:"failures,omitempty"`
	Elapsed  time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Summary is the outcome of a run.
type Summary struct {
	Groups []GroupSummary `json:"groups" yaml:"groups"`
	Total  Counts         `json:"total" yaml:"total"`
}

// Run downloads every entry. Per-item failures are counted, not returned; the
// error is reserved for setup failures such as an uncreatable group directory.
func (c *Coordinator) Run(ctx context.Context, entries []model.ManifestEntry) (Summary, error) {
	var sum Summary
	for _, g := range manifest.Groups(entries) {
		gs, err := c.runGroup(ctx, g)
		if err != nil {
			return sum, err
		}
		sum.Groups = append(sum.Groups, gs)
		sum.Total.add(gs.Counts)
	}
	return sum, nil
}

func (c *Coordinator) runGroup(ctx context.Context, g manifest.Group) (GroupSummary, error) {
	dir := filepath.Join(c.rawRoot, g.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return GroupSummary{}, eris.Wrapf(err, "download: create group dir %s", dir)
	}

	log := zap.L().With(zap.String("component", "download.coordinator"), zap.String("group", g.Name))
	log.Info("starting group", zap.Int("urls", len(g.Entries)), zap.Int("workers", c.workers))
	start := time.Now()

	rep := c.progress("download "+g.Name, len(g.Entries))
	gs := GroupSummary{Group: g.Name}
	var mu sync.Mutex

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(c.workers)
	for _, e := range g.Entries {
		eg.Go(func() error {
			defer rep.Advance()

			out, err := c.fetchOne(gctx, dir, e.SourceURL)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				gs.Counts.Failed++
				gs.Failures = append(gs.Failures, failureOf(e.SourceURL, err))
				log.Error("download failed", zap.String("url", e.SourceURL), zap.Error(err))
				return nil // siblings carry on
			}
			switch out {
			case fetcher.Downloaded:
				gs.Counts.Downloaded++
			case fetcher.SkippedNonData:
				gs.Counts.Skipped++
			case fetcher.AlreadyPresent:
				gs.Counts.Present++
			}
			return nil
		})
	}
	_ = eg.Wait()

	gs.Elapsed = time.Since(start)
	log.Info("group complete",
		zap.Int("downloaded", gs.Counts.Downloaded),
		zap.Int("skipped", gs.Counts.Skipped),
		zap.Int("present", gs.Counts.Present),
		zap.Int("failed", gs.Counts.Failed),
		zap.Duration("elapsed", gs.Elapsed),
	)
	return gs, nil
}

func (c *Coordinator) fetchOne(ctx context.Context, dir, rawURL string) (fetcher.Outcome, error) {
	name, err := fetcher.FileName(rawURL)
	if err != nil {
		return 0, err
	}
	return c.fetcher.Fetch(ctx, rawURL, filepath.Join(dir, name))
}

func failureOf(rawURL string, err error) Failure {
	f := Failure{URL: rawURL, Error: err.Error()}
	var fe *fetcher.FetchError
	if errors.As(err, &fe) {
		f.Attempts = fe.Attempts
		f.Status = fe.Status
		f.Auth = errors.Is(fe.Kind, fetcher.ErrAuth)
	}
	return f
}
