package rotation

import (
	"context"
	"testing"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/config"
)

func TestBackoff_BaseDelaySchedule(t *testing.T) {
	b := NewBackoff(config.BackoffConfig{Base: 200 * time.Millisecond, Max: 2 * time.Second, Jitter: 100 * time.Millisecond})
	want := []time.Duration{200, 400, 800, 1600, 2000, 2000, 2000}
	prev := time.Duration(0)
	for i, ms := range want {
		got := b.BaseDelay(i)
		assert.Equal(t, ms*time.Millisecond, got, "attempt %d", i)
		assert.GreaterOrEqual(t, got, prev)
		prev = got
	}
}

func TestBackoff_JitterBounds(t *testing.T) {
	b := NewBackoff(config.BackoffConfig{Base: 200 * time.Millisecond, Max: 2 * time.Second, Jitter: 100 * time.Millisecond})
	for i := 0; i < 6; i++ {
		base := b.BaseDelay(i)
		d := b.NextBackOff()
		assert.GreaterOrEqual(t, d, base)
		assert.Less(t, d, base+100*time.Millisecond)
	}
}

func TestBackoff_InjectedRandAndReset(t *testing.T) {
	b := NewBackoff(config.BackoffConfig{Base: 200 * time.Millisecond, Max: 2 * time.Second, Jitter: 100 * time.Millisecond})
	b.Rand = func() float64 { return 0.5 }
	assert.Equal(t, 250*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 450*time.Millisecond, b.NextBackOff())
	b.Reset()
	assert.Equal(t, 250*time.Millisecond, b.NextBackOff())
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBackoff_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	schedule := backoff.WithContext(NewBackoff(config.BackoffConfig{Base: 10 * time.Millisecond}), ctx)
	assert.Equal(t, 10*time.Millisecond, schedule.NextBackOff())
	cancel()
	assert.Equal(t, backoff.Stop, schedule.NextBackOff())
}
