package target

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradecast/internal/domain"
)

// Compile-time interface checks.
var _ Client = (*SimClient)(nil)
var _ Validator = (*SimClient)(nil)
var _ PositionFetcher = (*SimClient)(nil)

// SimClient simulates a brokerage target in memory for paper trading and
// tests. Outcome, validation behaviour, and latency are scriptable; executed
// orders accumulate as positions.
type SimClient struct {
	name string

	// Latency is applied to every Execute and Validate call.
	Latency time.Duration

	// Outcome is returned from Execute. Defaults to success.
	Outcome domain.TradeOutcome

	// ExecuteErr, when set, is returned from Execute instead of an outcome.
	ExecuteErr error

	// Validation is returned from Validate. Defaults to OK.
	Validation domain.ValidationOutcome

	mu        sync.Mutex
	positions map[string]domain.Position
}

// NewSimClient creates a SimClient that succeeds immediately.
func NewSimClient(name string) *SimClient {
	return &SimClient{
		name:      name,
		Outcome:   domain.TradeOutcome{Code: domain.OutcomeSuccess},
		positions: make(map[string]domain.Position),
	}
}

// Name returns the simulated target's name.
func (s *SimClient) Name() string { return s.name }

// Execute waits out the scripted latency, then reports the scripted outcome.
// Successful buys and sells adjust the simulated positions.
func (s *SimClient) Execute(ctx context.Context, action domain.Action, quantity int, ticker string, price *decimal.Decimal) (domain.TradeOutcome, error) {
	if err := s.sleep(ctx); err != nil {
		return domain.TradeOutcome{}, err
	}
	if s.ExecuteErr != nil {
		return domain.TradeOutcome{}, s.ExecuteErr
	}

	if s.Outcome.Code == domain.OutcomeSuccess {
		s.applyFill(action, quantity, ticker, price)
	}
	return s.Outcome, nil
}

// Validate waits out the scripted latency, then reports the scripted
// validation outcome.
func (s *SimClient) Validate(ctx context.Context, _ domain.Action, _ int, _ string, _ *decimal.Decimal) (domain.ValidationOutcome, error) {
	if err := s.sleep(ctx); err != nil {
		return domain.ValidationOutcome{}, err
	}
	return s.Validation, nil
}

// Positions returns the simulated holdings.
func (s *SimClient) Positions(_ context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out, nil
}

func (s *SimClient) applyFill(action domain.Action, quantity int, ticker string, price *decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	qty := decimal.NewFromInt(int64(quantity))
	if action == domain.ActionSell {
		qty = qty.Neg()
	}

	pos := s.positions[ticker]
	pos.Ticker = ticker
	pos.Quantity = pos.Quantity.Add(qty)
	if price != nil {
		pos.Price = *price
	}
	if pos.Quantity.IsZero() {
		delete(s.positions, ticker)
		return
	}
	s.positions[ticker] = pos
}

func (s *SimClient) sleep(ctx context.Context) error {
	if s.Latency <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.Latency):
		return nil
	}
}
