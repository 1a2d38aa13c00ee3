package engine

import (
	"fmt"
	"log/slog"
	"strings"

	"tradecast/internal/domain"
)

// orderHeaderLine renders the progress header for one order, e.g.
// "[2/5] BUY 10 AAPL @ market via 3 brokers".
func orderHeaderLine(o *domain.Order, idx, total int) string {
	return fmt.Sprintf("[%d/%d] %s %d %s @ %s via %d brokers",
		idx, total, strings.ToUpper(string(o.Action)), o.Quantity, o.Ticker, o.PriceLabel(), len(o.Targets))
}

// orderSummaryLine renders the per-order tally.
func orderSummaryLine(res *domain.OrderResult, idx int) string {
	var parts []string
	if n := len(res.Successful); n > 0 {
		parts = append(parts, fmt.Sprintf("%d succeeded", n))
	}
	if n := len(res.Failed); n > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", n))
	}
	if n := len(res.Skipped); n > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", n))
	}
	if len(parts) == 0 {
		parts = append(parts, "no brokers")
	}
	return fmt.Sprintf("   order %d results: %s", idx, strings.Join(parts, ", "))
}

// batchSummaryLine renders the whole-submission tally.
func batchSummaryLine(res *domain.BatchResult) string {
	return fmt.Sprintf("total results: %d succeeded, %d failed, %d skipped",
		res.Successful, res.Failed, res.Skipped)
}

// safeReport wraps a ReportFunc so a nil or panicking callback cannot break
// order processing.
func safeReport(fn ReportFunc, log *slog.Logger) ReportFunc {
	return func(msg string, forceRedraw bool) {
		if fn == nil {
			return
		}
		defer func() {
			if p := recover(); p != nil {
				log.Warn("report callback panicked", "panic", p)
			}
		}()
		fn(msg, forceRedraw)
	}
}

// safeStatus wraps a StatusFunc the same way.
func safeStatus(fn StatusFunc, log *slog.Logger) StatusFunc {
	return func(targetName string, status domain.BrokerStatus) {
		if fn == nil {
			return
		}
		defer func() {
			if p := recover(); p != nil {
				log.Warn("status callback panicked", "panic", p)
			}
		}()
		fn(targetName, status)
	}
}

// firstLine truncates a multi-line message to its first line so broker stack
// traces stay off the progress display.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
