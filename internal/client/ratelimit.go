package client

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer enforces a fixed minimum delay between requests. The harvester
// deliberately does not adapt its rate; concurrency is bounded by the worker
// pools and this delay is an operator knob that defaults to off.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer returns a pacer for the given delay, or nil for no pacing.
func NewPacer(delay time.Duration) *Pacer {
	if delay <= 0 {
		return nil
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Every(delay), 1)}
}

// Wait blocks until the next request may proceed. A nil pacer never blocks.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}
