package reconcile

import (
	"context"
	"time"
)

// Policy bounds retries and sizes the worker pool.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// AttemptTimeout caps a single attempt; expiry counts as a transient failure.
	AttemptTimeout time.Duration
	Workers        int
	QueueSize      int
	BcryptCost     int
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    5,
		BaseDelay:      time.Second,
		MaxDelay:       2 * time.Minute,
		AttemptTimeout: 30 * time.Second,
		Workers:        4,
		QueueSize:      64,
		BcryptCost:     12,
	}
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = def.AttemptTimeout
	}
	if p.Workers <= 0 {
		p.Workers = def.Workers
	}
	if p.QueueSize < 0 {
		p.QueueSize = def.QueueSize
	}
	if p.BcryptCost <= 0 {
		p.BcryptCost = def.BcryptCost
	}
	return p
}

// Backoff returns the delay after the given failed attempt (1-based):
// BaseDelay doubled per attempt, capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return min(p.BaseDelay, p.MaxDelay)
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay || d <= 0 {
			return p.MaxDelay
		}
	}
	return d
}

// wait blocks for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
