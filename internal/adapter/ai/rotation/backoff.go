package rotation

import (
	"context"
	"math/rand/v2"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/config"
)

// Backoff is the delay schedule between failed credential attempts:
// min(Base*Multiplier^i, Max) plus a uniform jitter in [0, Jitter).
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	Jitter     time.Duration
	Multiplier float64

	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64

	attempt int
}

var _ backoff.BackOff = (*Backoff)(nil)

// NewBackoff builds the schedule from configuration.
func NewBackoff(cfg config.BackoffConfig) *Backoff {
	return &Backoff{Base: cfg.Base, Max: cfg.Max, Jitter: cfg.Jitter, Multiplier: 2}
}

// BaseDelay is the jitter-free delay after failure i (0-indexed).
func (b *Backoff) BaseDelay(i int) time.Duration {
	mult := b.Multiplier
	if mult < 1 {
		mult = 2
	}
	d := float64(b.Base)
	for n := 0; n < i; n++ {
		d *= mult
		if b.Max > 0 && d >= float64(b.Max) {
			return b.Max
		}
	}
	if b.Max > 0 && time.Duration(d) > b.Max {
		return b.Max
	}
	return time.Duration(d)
}

// NextBackOff returns the next delay. It never returns backoff.Stop; the
// number of attempts is bounded by the candidate list.
func (b *Backoff) NextBackOff() time.Duration {
	d := b.BaseDelay(b.attempt)
	b.attempt++
	if b.Jitter > 0 {
		r := b.Rand
		if r == nil {
			r = rand.Float64
		}
		d += time.Duration(r() * float64(b.Jitter))
	}
	return d
}

// Reset restarts the schedule.
func (b *Backoff) Reset() { b.attempt = 0 }

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
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
