package engine

import (
	"context"
	"math/rand"
	"time"
)

const (
	initialBackoffSec = 1.0
	maxBackoffSec     = 12.0
)

// nextBackoff doubles the delay, capped at maxBackoffSec.
func nextBackoff(current float64) float64 {
	next := current * 2
	if next > maxBackoffSec {
		return maxBackoffSec
	}
	return next
}

// sleepBackoff waits for the delay plus a small random jitter so parallel
// workers do not retry in lockstep. Returns early with the context error
// when the context is cancelled.
func sleepBackoff(ctx context.Context, seconds float64) error {
	jitter := 0.05 + rand.Float64()*0.35
	timer := time.NewTimer(time.Duration((seconds + jitter) * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
