// Package progress reports per-item completion of the download and extract
// phases.
package progress

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Reporter receives exactly one Advance per finished item, whatever its
// outcome. Implementations must be safe for concurrent use.
type Reporter interface {
	Advance()
}

// Factory creates a reporter for a labelled phase of known size.
type Factory func(label string, total int) Reporter

// Nop discards progress.
type Nop struct{}

func (Nop) Advance() {}

// NopFactory returns Nop reporters.
func NopFactory(string, int) Reporter { return Nop{} }

// LogReporter logs a progress line roughly every tenth of the total and when
// the last item completes.
type LogReporter struct {
	label string
	total int
	step  int
	start time.Time
	done  atomic.Int64
	log   *zap.Logger
	once  sync.Once
}

// NewLogReporter creates a LogReporter on the global logger.
func NewLogReporter(label string, total int) *LogReporter {
	step := total / 10
	if step < 1 {
		step = 1
	}
	return &LogReporter{
		label: label,
		total: total,
		step:  step,
		start: time.Now(),
		log:   zap.L().With(zap.String("component", "progress"), zap.String("phase", label)),
	}
}

// LogFactory is a Factory producing LogReporters.
func LogFactory(label string, total int) Reporter { return NewLogReporter(label, total) }

// Advance records one finished item.
func (r *LogReporter) Advance() {
	n := int(r.done.Add(1))
	if n >= r.total {
		r.once.Do(func() {
			r.log.Info("phase complete",
				zap.Int("total", r.total),
				zap.Duration("elapsed", time.Since(r.start)),
			)
		})
		return
	}
	if n%r.step == 0 {
		r.log.Info("progress",
			zap.Int("processed", n),
			zap.Int("total", r.total),
		)
	}
}

// Done returns the number of items advanced so far.
func (r *LogReporter) Done() int { return int(r.done.Load()) }

// Counter counts Advance calls. It is used where only the tally matters.
type Counter struct {
	n atomic.Int64
}

func (c *Counter) Advance() { c.n.Add(1) }

// Count returns the number of Advance calls.
func (c *Counter) Count() int { return int(c.n.Load()) }
