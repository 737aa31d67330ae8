package pace

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Pacer gates outbound sends so the traffic pattern resembles a human
// operator instead of a burst the provider would flag.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Options tunes the jittered cadence. Zero values fall back to the
// conservative defaults the Gmail limits were measured against.
type Options struct {
	MinDelay  time.Duration // shortest gap between consecutive sends
	MaxDelay  time.Duration // longest gap between consecutive sends
	BatchSize int           // sends before a long break
	BreakMin  time.Duration // shortest long break
	BreakMax  time.Duration // longest long break
}

func (o Options) withDefaults() Options {
	if o.MinDelay <= 0 {
		o.MinDelay = 20 * time.Second
	}
	if o.MaxDelay < o.MinDelay {
		o.MaxDelay = 60 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.BreakMin <= 0 {
		o.BreakMin = 5 * time.Minute
	}
	if o.BreakMax < o.BreakMin {
		o.BreakMax = 10 * time.Minute
	}
	return o
}

// JitterPacer sleeps a randomized delay before every send after the first,
// and a longer break after every BatchSize sends.
type JitterPacer struct {
	opts  Options
	rng   *rand.Rand
	sleep func(context.Context, time.Duration) error
	calls int
}

// NewJitterPacer returns a pacer with opts applied over the defaults.
func NewJitterPacer(opts Options) *JitterPacer {
	return &JitterPacer{
		opts:  opts.withDefaults(),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep: sleepCtx,
	}
}

// Wait blocks for the next delay or until the context is canceled.
// The first call returns immediately so a fresh run starts sending at once.
func (p *JitterPacer) Wait(ctx context.Context) error {
	call := p.calls
	p.calls++
	if call == 0 {
		return nil
	}
	var d time.Duration
	if call%p.opts.BatchSize == 0 {
		d = p.between(p.opts.BreakMin, p.opts.BreakMax)
	} else {
		d = p.between(p.opts.MinDelay, p.opts.MaxDelay)
	}
	return p.sleep(ctx, d)
}

func (p *JitterPacer) between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(p.rng.Int63n(int64(max-min)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pace wait canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

var _ Pacer = (*JitterPacer)(nil)
