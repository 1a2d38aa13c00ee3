package target

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tradecast/internal/domain"
	"tradecast/internal/util"
)

// FetchAllPositions gathers holdings from every registered target that
// implements PositionFetcher, concurrently and each under its own timeout.
// Results are memoized in cache (keyed per target) so a refreshing UI does
// not hammer authenticated endpoints, and each live fetch goes through the
// rate limiter first. The returned slice follows registry order; targets
// without the capability are omitted.
func FetchAllPositions(ctx context.Context, reg *Registry, cache *util.ResponseCache, limiter *util.RateLimiter, timeout time.Duration, log *slog.Logger) []domain.Holdings {
	if log == nil {
		log = slog.Default()
	}

	names := reg.Names()
	results := make(map[string]domain.Holdings, len(names))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, name := range names {
		client, _ := reg.Get(name)
		fetcher, ok := client.(PositionFetcher)
		if !ok {
			continue
		}

		wg.Add(1)
		go func(name string, fetcher PositionFetcher) {
			defer wg.Done()

			h := fetchPositions(ctx, name, fetcher, cache, limiter, timeout, log)

			mu.Lock()
			results[name] = h
			mu.Unlock()
		}(name, fetcher)
	}
	wg.Wait()

	out := make([]domain.Holdings, 0, len(results))
	for _, name := range names {
		if h, ok := results[name]; ok {
			out = append(out, h)
		}
	}
	return out
}

func fetchPositions(ctx context.Context, name string, fetcher PositionFetcher, cache *util.ResponseCache, limiter *util.RateLimiter, timeout time.Duration, log *slog.Logger) (h domain.Holdings) {
	h.Target = name

	defer func() {
		if p := recover(); p != nil {
			log.Error("positions fetch panicked", "target", name, "panic", p)
			h.Positions = nil
			h.Err = fmt.Sprintf("internal error: %v", p)
		}
	}()

	cacheKey := "positions:" + name
	if cache != nil {
		if v, ok := cache.Get(cacheKey); ok {
			h.Positions = v.([]domain.Position)
			return h
		}
	}

	if limiter != nil {
		if err := limiter.Wait(ctx, name); err != nil {
			h.Err = err.Error()
			return h
		}
	}

	fetchCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	positions, err := fetcher.Positions(fetchCtx)
	if err != nil {
		log.Warn("positions fetch failed", "target", name, "error", err)
		h.Err = firstLine(err.Error())
		return h
	}

	if cache != nil {
		cache.Set(cacheKey, positions)
	}
	h.Positions = positions
	return h
}

// firstLine truncates multi-line errors to their first line for display.
func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
