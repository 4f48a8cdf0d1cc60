package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// pacer spaces requests to each source by that source's delay.
type pacer struct {
	defaultDelay time.Duration
	delays       map[string]time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newPacer(defaultDelay time.Duration, delays map[string]time.Duration) *pacer {
	normalized := make(map[string]time.Duration, len(delays))
	for name, d := range delays {
		normalized[strings.ToLower(name)] = d
	}
	return &pacer{
		defaultDelay: defaultDelay,
		delays:       normalized,
		limiters:     make(map[string]*rate.Limiter),
	}
}

func (p *pacer) delayFor(src string) time.Duration {
	if d, ok := p.delays[src]; ok && d > 0 {
		return d
	}
	return p.defaultDelay
}

func (p *pacer) limiter(src string, advertised time.Duration) *rate.Limiter {
	src = strings.ToLower(src)
	delay := max(p.delayFor(src), advertised)
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.limiters[src]
	if !ok {
		l = rate.NewLimiter(limit, 1)
		p.limiters[src] = l
	} else if l.Limit() != limit {
		l.SetLimit(limit)
	}
	return l
}

// Wait blocks until src may be called again or ctx is done. The spacing is
// the configured delay or the source's advertised crawl delay, whichever
// is longer.
func (p *pacer) Wait(ctx context.Context, src string, advertised time.Duration) error {
	return p.limiter(src, advertised).Wait(ctx)
}
