package util

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFailReturnsLastError(t *testing.T) {
	attempts := 0
	maxAttempts := 3
	sentinel := errors.New("persistent error")

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return sentinel
	})

	if !errors.Is(err, sentinel) {
		t.Fatalf("Retry returned %v, want the last error unmodified", err)
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want exactly %d", attempts, maxAttempts)
	}
}

func TestRetryBackoffDoubles(t *testing.T) {
	base := 20 * time.Millisecond
	var stamps []time.Time

	_ = Retry(context.Background(), 3, base, func() error {
		stamps = append(stamps, time.Now())
		return errors.New("always fails")
	})

	if len(stamps) != 3 {
		t.Fatalf("fn called %d times, want 3", len(stamps))
	}
	// Delays should be >= base and >= 2*base respectively.
	if d := stamps[1].Sub(stamps[0]); d < base {
		t.Errorf("first backoff %v, want >= %v", d, base)
	}
	if d := stamps[2].Sub(stamps[1]); d < 2*base {
		t.Errorf("second backoff %v, want >= %v", d, 2*base)
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, 3, time.Hour, func() error {
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry returned %v, want context.Canceled", err)
	}
}

func TestRateLimiterSpacing(t *testing.T) {
	// 20 req/s -> 50ms minimum spacing.
	rl := NewRateLimiter(10, map[string]float64{"Tradier": 20})
	ctx := context.Background()

	var last time.Time
	for i := 0; i < 4; i++ {
		if err := rl.Wait(ctx, "Tradier"); err != nil {
			t.Fatalf("Wait returned unexpected error: %v", err)
		}
		now := time.Now()
		if i > 0 {
			if gap := now.Sub(last); gap < 45*time.Millisecond {
				t.Errorf("calls %d and %d separated by %v, want >= 50ms", i-1, i, gap)
			}
		}
		last = now
	}
}

func TestRateLimiterSpacingUnderConcurrency(t *testing.T) {
	rl := NewRateLimiter(10, map[string]float64{"X": 50}) // 20ms interval

	var mu sync.Mutex
	var stamps []time.Time

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rl.Wait(context.Background(), "X"); err != nil {
				t.Errorf("Wait returned unexpected error: %v", err)
				return
			}
			mu.Lock()
			stamps = append(stamps, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(stamps) != 5 {
		t.Fatalf("recorded %d calls, want 5", len(stamps))
	}
	for i := 1; i < len(stamps); i++ {
		// Permitted-call times are recorded under the gate lock, so the
		// append order matches the permit order.
		if gap := stamps[i].Sub(stamps[i-1]); gap < 15*time.Millisecond {
			t.Errorf("permits %d and %d separated by %v, want >= 20ms", i-1, i, gap)
		}
	}
}

func TestRateLimiterIndependentTargets(t *testing.T) {
	rl := NewRateLimiter(1, nil) // 1 req/s default: second call on same target would block ~1s

	ctx := context.Background()
	start := time.Now()
	if err := rl.Wait(ctx, "A"); err != nil {
		t.Fatalf("Wait(A) error: %v", err)
	}
	if err := rl.Wait(ctx, "B"); err != nil {
		t.Fatalf("Wait(B) error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("calls to distinct targets took %v, should not throttle each other", elapsed)
	}
}

func TestResponseCacheTTL(t *testing.T) {
	c := NewResponseCache(10, 30*time.Millisecond)

	c.Set("profile:Robinhood", "cached")
	if v, ok := c.Get("profile:Robinhood"); !ok || v != "cached" {
		t.Fatalf("Get = %v, %v; want cached, true", v, ok)
	}

	time.Sleep(40 * time.Millisecond)
	if _, ok := c.Get("profile:Robinhood"); ok {
		t.Error("Get should report an expired entry as absent")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should be removed on read, Len = %d", c.Len())
	}
}

func TestResponseCacheEvictsSingleOldest(t *testing.T) {
	c := NewResponseCache(2, time.Minute)

	c.Set("a", 1)
	time.Sleep(2 * time.Millisecond)
	c.Set("b", 2)
	time.Sleep(2 * time.Millisecond)
	c.Set("c", 3) // at capacity: evicts "a" only

	if _, ok := c.Get("a"); ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("second-oldest entry should survive eviction")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("newly inserted entry should be present")
	}
}

func TestResponseCacheSetExistingKeyDoesNotEvict(t *testing.T) {
	c := NewResponseCache(2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 3) // overwrite, no eviction

	if v, ok := c.Get("b"); !ok || v != 2 {
		t.Errorf("Get(b) = %v, %v; overwriting an existing key must not evict", v, ok)
	}
	if v, _ := c.Get("a"); v != 3 {
		t.Errorf("Get(a) = %v, want overwritten value 3", v)
	}
}

func TestResponseCacheClear(t *testing.T) {
	c := NewResponseCache(4, time.Minute)
	c.Set("a", 1)
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len after Clear = %d, want 0", c.Len())
	}
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		if NewLogger(level) == nil {
			t.Fatalf("NewLogger(%q) returned nil", level)
		}
	}
}
