// Package engine is the order batch processor: it fans each order out to its
// targets concurrently, with optional pre-flight validation, per-target
// timeouts, live status reporting, and partial-failure aggregation. One
// target's slowness or failure never affects another, and nothing that goes
// wrong inside a target escapes ProcessOrders.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tradecast/internal/domain"
	"tradecast/internal/target"
)

// ReportFunc receives human-readable progress lines. forceRedraw hints the UI
// to repaint immediately. Must tolerate high call frequency.
type ReportFunc func(msg string, forceRedraw bool)

// StatusFunc receives every per-target status transition for live UI display.
type StatusFunc func(targetName string, status domain.BrokerStatus)

// Options configures an Engine. Zero values fall back to defaults.
type Options struct {
	// BatchSize is how many orders run concurrently per sequential batch.
	BatchSize int

	// ValidateTimeout bounds one target's pre-flight check.
	ValidateTimeout time.Duration

	// ExecuteTimeout bounds one target's execution attempt.
	ExecuteTimeout time.Duration

	// TargetTimeouts overrides ExecuteTimeout per target; browser-automation
	// targets need a longer window.
	TargetTimeouts map[string]time.Duration
}

// Engine processes order batches against a target registry.
type Engine struct {
	batchSize       int
	validateTimeout time.Duration
	executeTimeout  time.Duration
	targetTimeouts  map[string]time.Duration
	log             *slog.Logger
}

// New creates an Engine with the given options.
func New(opts Options, log *slog.Logger) *Engine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	if opts.ValidateTimeout <= 0 {
		opts.ValidateTimeout = 15 * time.Second
	}
	if opts.ExecuteTimeout <= 0 {
		opts.ExecuteTimeout = 25 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		batchSize:       opts.BatchSize,
		validateTimeout: opts.ValidateTimeout,
		executeTimeout:  opts.ExecuteTimeout,
		targetTimeouts:  opts.TargetTimeouts,
		log:             log.With("component", "engine"),
	}
}

// ProcessOrders runs every order to completion and returns the aggregated
// result. Batches are sequential; orders within a batch and targets within an
// order run concurrently. Partial success is an expected outcome, not an
// error: the caller always receives a complete BatchResult.
func (e *Engine) ProcessOrders(ctx context.Context, orders []domain.Order, reg *target.Registry, report ReportFunc, status StatusFunc) domain.BatchResult {
	report = safeReport(report, e.log)
	status = safeStatus(status, e.log)

	var result domain.BatchResult
	total := len(orders)

	for start := 0; start < total; start += e.batchSize {
		end := start + e.batchSize
		if end > total {
			end = total
		}
		batch := orders[start:end]

		orderResults := make([]domain.OrderResult, len(batch))
		var wg sync.WaitGroup
		for i := range batch {
			wg.Add(1)
			go func(slot int, o domain.Order, idx int) {
				defer wg.Done()
				orderResults[slot] = e.processOrder(ctx, o, reg, report, status, idx, total)
			}(i, batch[i], start+i+1)
		}
		wg.Wait()

		for i := range orderResults {
			result.Successful += len(orderResults[i].Successful)
			result.Failed += len(orderResults[i].Failed)
			result.Skipped += len(orderResults[i].Skipped)
			result.Orders = append(result.Orders, orderResults[i])
		}
	}

	report(batchSummaryLine(&result), false)
	return result
}

// RetryTimedOut re-submits exactly the targets last marked timed-out, using
// the original order parameters. Targets that succeeded, failed outright, or
// were skipped are not re-involved. The bool is false when there was nothing
// to retry.
func (e *Engine) RetryTimedOut(ctx context.Context, prev domain.BatchResult, orders []domain.Order, reg *target.Registry, report ReportFunc, status StatusFunc) (domain.BatchResult, bool) {
	report = safeReport(report, e.log)
	status = safeStatus(status, e.log)

	timedOut := make(map[string]struct{})
	for _, name := range prev.TimedOutTargets() {
		timedOut[name] = struct{}{}
	}
	if len(timedOut) == 0 {
		report("No timed-out brokers to retry.", false)
		return domain.BatchResult{}, false
	}

	var retryOrders []domain.Order
	var retryNames []string
	seen := make(map[string]struct{})
	for _, o := range orders {
		var selected []string
		for _, name := range o.Targets {
			if _, ok := timedOut[name]; !ok {
				continue
			}
			selected = append(selected, name)
			if _, dup := seen[name]; !dup {
				seen[name] = struct{}{}
				retryNames = append(retryNames, name)
			}
		}
		if len(selected) == 0 {
			continue
		}
		reduced := o
		reduced.Targets = selected
		retryOrders = append(retryOrders, reduced)
	}
	if len(retryOrders) == 0 {
		report("No matching timed-out brokers in last submission.", false)
		return domain.BatchResult{}, false
	}

	report(fmt.Sprintf("Retrying timed-out brokers: %s", strings.Join(retryNames, ", ")), false)
	for _, name := range retryNames {
		status(name, domain.StatusQueued)
	}

	return e.ProcessOrders(ctx, retryOrders, reg, report, status), true
}

// ---------------------------------------------------------------------------
// Per-order processing
// ---------------------------------------------------------------------------

// processOrder runs validation then execution for one order. It never panics:
// a bookkeeping failure marks every unresolved target failed instead.
func (e *Engine) processOrder(ctx context.Context, o domain.Order, reg *target.Registry, report ReportFunc, status StatusFunc, idx, total int) (res domain.OrderResult) {
	res.Reasons = make(map[string]string)

	defer func() {
		if p := recover(); p != nil {
			e.log.Error("order processing panicked", "ticker", o.Ticker, "panic", p)
			resolved := make(map[string]struct{}, res.Total())
			for _, lists := range [][]string{res.Successful, res.Failed, res.Skipped} {
				for _, name := range lists {
					resolved[name] = struct{}{}
				}
			}
			for _, name := range o.Targets {
				if _, ok := resolved[name]; !ok {
					res.Failed = append(res.Failed, name)
					res.Reasons[name] = fmt.Sprintf("internal error: %v", p)
					status(name, domain.StatusFailed)
				}
			}
		}
	}()

	report(orderHeaderLine(&o, idx, total), false)
	for _, name := range o.Targets {
		status(name, domain.StatusQueued)
	}

	active := e.validationPhase(ctx, &o, reg, report, status, &res)

	if len(active) == 0 {
		report(fmt.Sprintf("   order %d skipped: no brokers passed validation", idx), false)
	} else {
		e.executionPhase(ctx, &o, active, reg, report, status, &res)
	}

	report(orderSummaryLine(&res, idx), false)
	if idx < total {
		report("", true)
	}
	return res
}

// validationPhase runs the pre-flight checks concurrently and returns the
// targets that proceed to execution. Targets without a validate capability
// pass through untouched; a rejection, error, panic, or timeout records the
// target as skipped and excludes it.
func (e *Engine) validationPhase(ctx context.Context, o *domain.Order, reg *target.Registry, report ReportFunc, status StatusFunc, res *domain.OrderResult) []string {
	type validation struct {
		name    string
		outcome domain.ValidationOutcome
		err     error
		timeout bool
	}

	validators := make(map[string]target.Validator)
	for _, name := range o.Targets {
		client, ok := reg.Get(name)
		if !ok {
			continue // surfaces as a failure in the execution phase
		}
		if v, ok := client.(target.Validator); ok {
			validators[name] = v
		}
	}
	if len(validators) == 0 {
		return o.Targets
	}

	ch := make(chan validation, len(validators))
	for name, v := range validators {
		go func(name string, v target.Validator) {
			vctx, cancel := context.WithTimeout(ctx, e.validateTimeout)
			defer cancel()

			done := make(chan validation, 1)
			go func() {
				var out validation
				out.name = name
				defer func() {
					if p := recover(); p != nil {
						out.err = fmt.Errorf("validation panicked: %v", p)
					}
					done <- out
				}()
				out.outcome, out.err = v.Validate(vctx, o.Action, o.Quantity, o.Ticker, o.Price)
			}()

			select {
			case out := <-done:
				if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil {
					out.timeout = true
				}
				ch <- out
			case <-vctx.Done():
				ch <- validation{name: name, timeout: ctx.Err() == nil, err: vctx.Err()}
			}
		}(name, v)
	}

	excluded := make(map[string]string)
	for i := 0; i < len(validators); i++ {
		v := <-ch
		switch {
		case v.timeout:
			excluded[v.name] = fmt.Sprintf("validation timed out after %s", e.validateTimeout)
		case v.err != nil:
			excluded[v.name] = firstLine(v.err.Error())
		case v.outcome.Code == domain.ValidationRejected:
			reason := v.outcome.Reason
			if reason == "" {
				reason = "validation rejected"
			}
			excluded[v.name] = reason
		}
		// ValidationOK and ValidationUnavailable both proceed: the execute
		// op reports unavailability itself.
	}

	var active []string
	for _, name := range o.Targets {
		if reason, skip := excluded[name]; skip {
			res.Skipped = append(res.Skipped, name)
			res.Reasons[name] = reason
			status(name, domain.StatusSkipped)
			report(fmt.Sprintf("   %s: skipped (%s)", name, reason), false)
			continue
		}
		active = append(active, name)
	}
	return active
}

// executionPhase fans the order out to the surviving targets, each under its
// own timeout, and drains completions as they arrive so status updates reach
// the caller the moment each target finishes.
func (e *Engine) executionPhase(ctx context.Context, o *domain.Order, active []string, reg *target.Registry, report ReportFunc, status StatusFunc, res *domain.OrderResult) {
	type execution struct {
		name    string
		outcome domain.TradeOutcome
		err     error
		timeout bool
	}

	ch := make(chan execution, len(active))
	for _, name := range active {
		status(name, domain.StatusAuthenticating)

		go func(name string) {
			client, ok := reg.Get(name)
			if !ok {
				ch <- execution{name: name, err: errors.New("no trade handler registered")}
				return
			}

			timeout := e.timeoutFor(name)
			ectx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan execution, 1)
			go func() {
				var out execution
				out.name = name
				defer func() {
					if p := recover(); p != nil {
						out.err = fmt.Errorf("execution panicked: %v", p)
					}
					done <- out
				}()
				out.outcome, out.err = client.Execute(ectx, o.Action, o.Quantity, o.Ticker, o.Price)
			}()

			// Do not wait past the deadline even if the client ignores its
			// context: the order's wall time is bounded by the slowest
			// target's own timeout.
			select {
			case out := <-done:
				if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil {
					out.timeout = true
				}
				ch <- out
			case <-ectx.Done():
				ch <- execution{name: name, timeout: ctx.Err() == nil, err: ectx.Err()}
			}
		}(name)
	}

	for i := 0; i < len(active); i++ {
		x := <-ch
		switch {
		case x.timeout:
			timeout := e.timeoutFor(x.name)
			res.Failed = append(res.Failed, x.name)
			res.TimedOut = append(res.TimedOut, x.name)
			res.Reasons[x.name] = fmt.Sprintf("timed out after %s", timeout)
			status(x.name, domain.StatusTimedOut)
			report(fmt.Sprintf("   %s: timed out after %s (order state unknown, retry available)", x.name, timeout), false)

		case x.err != nil:
			res.Failed = append(res.Failed, x.name)
			res.Reasons[x.name] = firstLine(x.err.Error())
			status(x.name, domain.StatusFailed)
			report(fmt.Sprintf("   %s: failed (%s)", x.name, firstLine(x.err.Error())), false)

		case x.outcome.Code == domain.OutcomeSuccess:
			res.Successful = append(res.Successful, x.name)
			status(x.name, domain.StatusReady)
			report(fmt.Sprintf("   %s: success", x.name), false)

		case x.outcome.Code == domain.OutcomeUnavailable:
			res.Skipped = append(res.Skipped, x.name)
			res.Reasons[x.name] = "no credentials"
			status(x.name, domain.StatusSkipped)
			report(fmt.Sprintf("   %s: skipped (no credentials)", x.name), false)

		default:
			reason := x.outcome.Reason
			if reason == "" {
				reason = "rejected by broker"
			}
			res.Failed = append(res.Failed, x.name)
			res.Reasons[x.name] = reason
			status(x.name, domain.StatusFailed)
			report(fmt.Sprintf("   %s: failed (%s)", x.name, reason), false)
		}
	}
}

// timeoutFor returns the execution timeout for a target, honouring per-target
// overrides.
func (e *Engine) timeoutFor(name string) time.Duration {
	if t, ok := e.targetTimeouts[name]; ok && t > 0 {
		return t
	}
	return e.executeTimeout
}
