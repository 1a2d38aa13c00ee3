package util

import (
	"context"
	"sync"
	"time"
)

// RateLimiter enforces a minimum interval between calls per target. Each
// target is throttled independently from a requests-per-second ceiling; an
// unlisted target falls back to the default rate.
//
// The check-then-record sequence for a target runs under that target's own
// lock, so two goroutines hitting the same target cannot both observe a stale
// last-call time and burst above the configured rate. Different targets never
// contend.
type RateLimiter struct {
	defaultRate float64
	rates       map[string]float64

	mu      sync.Mutex
	targets map[string]*targetGate
}

type targetGate struct {
	mu       sync.Mutex
	interval time.Duration
	lastCall time.Time
}

// NewRateLimiter creates a RateLimiter with per-target requests/sec ceilings.
// defaultPerSec applies to any target absent from rates.
func NewRateLimiter(defaultPerSec float64, rates map[string]float64) *RateLimiter {
	return &RateLimiter{
		defaultRate: defaultPerSec,
		rates:       rates,
		targets:     make(map[string]*targetGate),
	}
}

// Wait blocks until the target's minimum inter-call interval has elapsed
// since its last permitted call, then records the current time as the new
// last-call time. Returns early with the context error on cancellation, in
// which case no call is recorded.
func (rl *RateLimiter) Wait(ctx context.Context, target string) error {
	gate := rl.gate(target)

	gate.mu.Lock()
	defer gate.mu.Unlock()

	if !gate.lastCall.IsZero() {
		remaining := gate.interval - time.Since(gate.lastCall)
		if remaining > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(remaining):
			}
		}
	}

	gate.lastCall = time.Now()
	return nil
}

// gate returns the per-target gate, creating it on first use.
func (rl *RateLimiter) gate(target string) *targetGate {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if g, ok := rl.targets[target]; ok {
		return g
	}

	perSec := rl.defaultRate
	if r, ok := rl.rates[target]; ok && r > 0 {
		perSec = r
	}
	if perSec <= 0 {
		perSec = 1
	}

	g := &targetGate{interval: time.Duration(float64(time.Second) / perSec)}
	rl.targets[target] = g
	return g
}
