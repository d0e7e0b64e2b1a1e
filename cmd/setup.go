package main

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/merra2-cli/internal/auth"
	"github.com/sells-group/merra2-cli/internal/config"
	"github.com/sells-group/merra2-cli/internal/db"
	"github.com/sells-group/merra2-cli/internal/download"
	"github.com/sells-group/merra2-cli/internal/export"
	"github.com/sells-group/merra2-cli/internal/fetcher"
	"github.com/sells-group/merra2-cli/internal/grid"
	"github.com/sells-group/merra2-cli/internal/model"
	"github.com/sells-group/merra2-cli/internal/pipeline"
	"github.com/sells-group/merra2-cli/internal/progress"
	"github.com/sells-group/merra2-cli/internal/resilience"
)

// ensureDirs creates the working directories. Failure here aborts the command.
func ensureDirs(paths ...string) error {
	for _, p := range paths {
		if err := os.MkdirAll(p, 0o755); err != nil {
			return eris.Wrapf(err, "create directory %s", p)
		}
	}
	return nil
}

func retryConfig(d config.DownloadConfig) resilience.RetryConfig {
	return resilience.FromConfig(d.MaxAttempts, d.InitialBackoffMs, d.MaxBackoffMs, d.Multiplier)
}

// newCoordinator wires the credential store, the shared HTTP client and the
// fetcher into a download coordinator.
func newCoordinator(c *config.Config) (*download.Coordinator, error) {
	store, err := auth.Load(auth.Options{
		Token:     c.Auth.Token,
		NetrcPath: c.Auth.NetrcPath,
		Host:      c.Auth.Host,
		Required:  c.Auth.Required,
	})
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(c.Download.TimeoutSecs) * time.Second
	client, err := auth.NewClient(store, auth.ClientOptions{
		Timeout:  timeout,
		MaxConns: c.Download.Workers,
	})
	if err != nil {
		return nil, err
	}

	f := fetcher.New(client, store, fetcher.Options{
		Extension:  c.Download.Extension,
		BufferSize: c.Download.BufferBytes,
		UserAgent:  c.Download.UserAgent,
		RatePerSec: c.Download.RatePerSec,
		FTPTimeout: timeout,
		Retry:      retryConfig(c.Download),
	})

	return download.New(f, download.Options{
		RawRoot:  c.Paths.Raw,
		Workers:  c.Download.Workers,
		Progress: progress.LogFactory,
	}), nil
}

// newProcessor builds the export sinks and the extraction pipeline. The
// returned func releases the database pool when one was opened.
func newProcessor(ctx context.Context, c *config.Config) (*pipeline.Processor, func(), error) {
	period, err := model.ParsePeriod(c.Extract.Period)
	if err != nil {
		return nil, nil, err
	}

	composites := make([]grid.Composite, 0, len(c.Extract.Composites))
	for _, cc := range c.Extract.Composites {
		composites = append(composites, grid.Composite{U: cc.U, V: cc.V, Name: cc.Name})
	}

	cleanup := func() {}
	opts := export.Options{Root: c.Paths.Export, Formats: c.Export.Formats, Schema: c.Export.Schema}
	for _, f := range c.Export.Formats {
		if f != export.FormatPostgres {
			continue
		}
		pool, err := db.Connect(ctx, c.Export.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		opts.Pool = pool
		cleanup = pool.Close
		zap.L().Info("postgres export enabled", zap.String("schema", c.Export.Schema))
		break
	}

	sinks, err := export.Build(opts)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	var gw *export.GridWriter
	if len(c.Export.Grid) > 0 {
		gw = &export.GridWriter{Root: c.Paths.Export, Formats: c.Export.Grid}
	}

	p := pipeline.New(&grid.Extractor{Period: period, Composites: composites}, pipeline.Options{
		RawRoot:    c.Paths.Raw,
		ExportRoot: c.Paths.Export,
		Extension:  c.Extract.Extension,
		Workers:    c.Extract.Workers,
		Period:     period,
		Sinks:      sinks,
		Grid:       gw,
		Summary:    c.Export.Summary,
		RunID:      runID,
		Progress:   progress.LogFactory,
	})
	return p, cleanup, nil
}
