// Package domain defines the shared types for orders, per-target outcomes,
// broker status lifecycle, and aggregated batch results.
package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// Action is the side of an order.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// Order is a single buy/sell instruction routed to one or more targets.
// It is immutable once handed to the engine.
type Order struct {
	Action   Action
	Quantity int
	Ticker   string
	Price    *decimal.Decimal // nil = market order
	Targets  []string
}

// Validate checks the order's structural invariants.
func (o *Order) Validate() error {
	if o.Action != ActionBuy && o.Action != ActionSell {
		return fmt.Errorf("invalid action %q", o.Action)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %d", o.Quantity)
	}
	if o.Ticker == "" {
		return errors.New("ticker must not be empty")
	}
	if len(o.Targets) == 0 {
		return errors.New("at least one target is required")
	}
	seen := make(map[string]struct{}, len(o.Targets))
	for _, t := range o.Targets {
		if t == "" {
			return errors.New("target name must not be empty")
		}
		if _, dup := seen[t]; dup {
			return fmt.Errorf("duplicate target %q", t)
		}
		seen[t] = struct{}{}
	}
	if o.Price != nil && !o.Price.IsPositive() {
		return fmt.Errorf("limit price must be positive, got %s", o.Price)
	}
	return nil
}

// PriceLabel renders the price for progress lines ("market" for nil).
func (o *Order) PriceLabel() string {
	if o.Price == nil {
		return "market"
	}
	return "$" + o.Price.String()
}

// ---------------------------------------------------------------------------
// Per-target outcomes
// ---------------------------------------------------------------------------

// OutcomeCode is the tri-state result of an execute operation.
type OutcomeCode int

const (
	OutcomeSuccess OutcomeCode = iota
	OutcomeFailure
	OutcomeUnavailable // no credentials or target disabled; not an error
)

// TradeOutcome is what a target's execute operation reports.
type TradeOutcome struct {
	Code   OutcomeCode
	Reason string
}

// ValidationCode is the tri-state result of a validate operation.
type ValidationCode int

const (
	ValidationOK ValidationCode = iota
	ValidationRejected
	ValidationUnavailable
)

// ValidationOutcome is what a target's pre-flight check reports. Reason is
// set when the validation is rejected.
type ValidationOutcome struct {
	Code   ValidationCode
	Reason string
}

// ---------------------------------------------------------------------------
// Broker status lifecycle
// ---------------------------------------------------------------------------

// BrokerStatus tracks one (order, target) pair through its lifecycle:
// Queued → Authenticating → {Ready | Failed | TimedOut | Skipped}.
// Terminal states never self-transition; an explicit retry resets exactly
// the TimedOut subset back to Queued.
type BrokerStatus string

const (
	StatusQueued         BrokerStatus = "queued"
	StatusAuthenticating BrokerStatus = "authenticating"
	StatusReady          BrokerStatus = "ready"
	StatusFailed         BrokerStatus = "failed"
	StatusTimedOut       BrokerStatus = "timed-out"
	StatusSkipped        BrokerStatus = "skipped"
)

// Terminal reports whether the status is an end state.
func (s BrokerStatus) Terminal() bool {
	switch s {
	case StatusReady, StatusFailed, StatusTimedOut, StatusSkipped:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Results
// ---------------------------------------------------------------------------

// OrderResult partitions one order's targets by outcome. Every target of the
// order lands in exactly one of the three slices; validation-skipped targets
// are folded into Skipped alongside execution-phase unavailables.
type OrderResult struct {
	Successful []string
	Failed     []string
	Skipped    []string

	// Reasons holds the short single-line reason per failed/skipped/timed-out
	// target, keyed by target name.
	Reasons map[string]string

	// TimedOut is the subset of Failed-adjacent targets that hit their
	// execution deadline; remote state is unknown and they are eligible for
	// an explicit retry.
	TimedOut []string
}

// Total returns the number of targets accounted for by this result.
func (r *OrderResult) Total() int {
	return len(r.Successful) + len(r.Failed) + len(r.Skipped)
}

// BatchResult aggregates per-order results across a whole submission.
type BatchResult struct {
	Successful int
	Failed     int
	Skipped    int
	Orders     []OrderResult
}

// Total returns successful+failed+skipped; for a well-formed run it equals
// the number of (order, target) pairs submitted.
func (b *BatchResult) Total() int {
	return b.Successful + b.Failed + b.Skipped
}

// TimedOutTargets returns the deduplicated set of targets last marked
// timed-out anywhere in the batch.
func (b *BatchResult) TimedOutTargets() []string {
	seen := make(map[string]struct{})
	var out []string
	for i := range b.Orders {
		for _, t := range b.Orders[i].TimedOut {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Holdings
// ---------------------------------------------------------------------------

// Position is one holding reported by a target.
type Position struct {
	Ticker   string
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// Holdings is the per-target result of a positions fan-out. Err carries a
// single-line reason when the fetch failed.
type Holdings struct {
	Target    string
	Positions []Position
	Err       string
}
