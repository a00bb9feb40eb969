package app

import (
	"context"
	"math/rand"
	"time"
)

// backoff implements exponential backoff with jitter for failures the
// dispatcher cannot classify.
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(initial, max time.Duration) *backoff {
	return &backoff{
		initial: initial,
		max:     max,
		current: initial,
	}
}

// Sleep waits for the current backoff duration (±20% jitter) and doubles it
// for next time. Returns early when the context is canceled.
func (b *backoff) Sleep(ctx context.Context) {
	jitter := float64(b.current) * 0.2 * (rand.Float64()*2 - 1)
	sleep := time.Duration(float64(b.current) + jitter)

	timer := time.NewTimer(sleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}

	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
}

// Reset returns the backoff to its initial duration.
func (b *backoff) Reset() {
	b.current = b.initial
}
