// Package target defines the Client interface that brokerage integrations
// implement, the caller-built registry that maps target names to clients, and
// the in-memory simulated client used for paper trading and tests.
package target

import (
	"context"

	"github.com/shopspring/decimal"

	"tradecast/internal/domain"
)

// Client abstracts one brokerage target's trade execution. Implementations
// live outside this module (HTTP, OAuth, browser automation); the engine
// treats them as opaque capabilities.
type Client interface {
	// Name returns the target's display name (e.g. "Robinhood").
	Name() string

	// Execute submits the order to the brokerage. The tri-state outcome
	// distinguishes failure from unavailability (no credentials); a returned
	// error counts as failure.
	Execute(ctx context.Context, action domain.Action, quantity int, ticker string, price *decimal.Decimal) (domain.TradeOutcome, error)
}

// Validator is the optional pre-flight capability. Targets implementing it
// get a validation pass before execution so a doomed order is skipped rather
// than attempted.
type Validator interface {
	Validate(ctx context.Context, action domain.Action, quantity int, ticker string, price *decimal.Decimal) (domain.ValidationOutcome, error)
}

// PositionFetcher is the optional holdings capability.
type PositionFetcher interface {
	Positions(ctx context.Context) ([]domain.Position, error)
}
