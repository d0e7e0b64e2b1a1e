package fetcher

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// pacer spaces out requests to one host. A 429 halves its rate, each
// success raises it by a fifth; the rate stays within [base/4, base*2].
type pacer struct {
	host string
	base rate.Limit

	mu  sync.Mutex
	lim *rate.Limiter
}

func newPacer(host string, perSec float64) *pacer {
	burst := max(int(perSec), 1)
	return &pacer{host: host, base: rate.Limit(perSec), lim: rate.NewLimiter(rate.Limit(perSec), burst)}
}

func (p *pacer) wait(ctx context.Context) error {
	return p.lim.Wait(ctx)
}

// adjust scales the current rate by factor and clamps it.
func (p *pacer) adjust(factor float64) rate.Limit {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := min(max(p.lim.Limit()*rate.Limit(factor), p.base/4), p.base*2)
	p.lim.SetLimit(next)
	return next
}

func (p *pacer) succeeded() { p.adjust(1.2) }

func (p *pacer) throttled() {
	next := p.adjust(0.5)
	zap.L().Warn("fetcher: host throttled, slowing down",
		zap.String("host", p.host),
		zap.Float64("rate_per_sec", float64(next)),
	)
}

func (p *pacer) limit() rate.Limit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lim.Limit()
}

// pacers hands out one pacer per host, created on first use.
type pacers struct {
	perSec float64

	mu     sync.Mutex
	byHost map[string]*pacer
}

func newPacers(perSec float64) *pacers {
	return &pacers{perSec: perSec, byHost: make(map[string]*pacer)}
}

// get returns nil when pacing is disabled.
func (ps *pacers) get(host string) *pacer {
	if ps.perSec <= 0 {
		return nil
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	p, ok := ps.byHost[host]
	if !ok {
		p = newPacer(host, ps.perSec)
		ps.byHost[host] = p
	}
	return p
}
