package target

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradecast/internal/domain"
	"tradecast/internal/util"
)

func TestRegistryAddAndResolve(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Add(NewSimClient("Robinhood")); err != nil {
		t.Fatalf("Add returned unexpected error: %v", err)
	}
	if err := reg.Add(NewSimClient("Tradier")); err != nil {
		t.Fatalf("Add returned unexpected error: %v", err)
	}
	if err := reg.Add(NewSimClient("Robinhood")); err == nil {
		t.Error("Add should reject a duplicate target name")
	}

	if _, ok := reg.Get("Robinhood"); !ok {
		t.Error("Get should resolve a registered target")
	}
	if _, ok := reg.Get("Fidelity"); ok {
		t.Error("Get should not resolve an unknown target")
	}

	names := reg.Names()
	if len(names) != 2 || names[0] != "Robinhood" || names[1] != "Tradier" {
		t.Errorf("Names() = %v, want registration order [Robinhood Tradier]", names)
	}
}

func TestSimClientExecuteTracksPositions(t *testing.T) {
	sim := NewSimClient("Public")
	ctx := context.Background()
	price := decimal.NewFromInt(100)

	if _, err := sim.Execute(ctx, domain.ActionBuy, 10, "AAPL", &price); err != nil {
		t.Fatalf("Execute returned unexpected error: %v", err)
	}
	if _, err := sim.Execute(ctx, domain.ActionSell, 4, "AAPL", nil); err != nil {
		t.Fatalf("Execute returned unexpected error: %v", err)
	}

	positions, err := sim.Positions(ctx)
	if err != nil {
		t.Fatalf("Positions returned unexpected error: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(positions))
	}
	if !positions[0].Quantity.Equal(decimal.NewFromInt(6)) {
		t.Errorf("AAPL quantity = %s, want 6", positions[0].Quantity)
	}

	// Selling the rest flattens the position.
	if _, err := sim.Execute(ctx, domain.ActionSell, 6, "AAPL", nil); err != nil {
		t.Fatalf("Execute returned unexpected error: %v", err)
	}
	positions, _ = sim.Positions(ctx)
	if len(positions) != 0 {
		t.Errorf("got %d positions after flattening, want 0", len(positions))
	}
}

func TestSimClientScriptedOutcomes(t *testing.T) {
	ctx := context.Background()

	failing := NewSimClient("Webull")
	failing.Outcome = domain.TradeOutcome{Code: domain.OutcomeFailure, Reason: "insufficient funds"}
	out, err := failing.Execute(ctx, domain.ActionBuy, 1, "TSLA", nil)
	if err != nil {
		t.Fatalf("Execute returned unexpected error: %v", err)
	}
	if out.Code != domain.OutcomeFailure || out.Reason != "insufficient funds" {
		t.Errorf("outcome = %+v, want scripted failure", out)
	}
	if positions, _ := failing.Positions(ctx); len(positions) != 0 {
		t.Error("failed execution must not create positions")
	}

	erroring := NewSimClient("Chase")
	erroring.ExecuteErr = errors.New("gateway exploded")
	if _, err := erroring.Execute(ctx, domain.ActionBuy, 1, "TSLA", nil); err == nil {
		t.Error("Execute should surface the scripted error")
	}
}

func TestSimClientLatencyHonoursContext(t *testing.T) {
	sim := NewSimClient("SoFi")
	sim.Latency = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := sim.Execute(ctx, domain.ActionBuy, 1, "AAPL", nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Execute returned %v, want context.DeadlineExceeded", err)
	}
}

type countingFetcher struct {
	*SimClient
	calls atomic.Int32
}

func (c *countingFetcher) Positions(ctx context.Context) ([]domain.Position, error) {
	c.calls.Add(1)
	return c.SimClient.Positions(ctx)
}

func TestFetchAllPositionsMemoizes(t *testing.T) {
	reg := NewRegistry()
	cf := &countingFetcher{SimClient: NewSimClient("Tradier")}
	if err := reg.Add(cf); err != nil {
		t.Fatalf("Add returned unexpected error: %v", err)
	}

	price := decimal.NewFromInt(50)
	if _, err := cf.SimClient.Execute(context.Background(), domain.ActionBuy, 3, "MSFT", &price); err != nil {
		t.Fatalf("seeding position: %v", err)
	}

	cache := util.NewResponseCache(10, time.Minute)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	first := FetchAllPositions(context.Background(), reg, cache, nil, time.Second, log)
	second := FetchAllPositions(context.Background(), reg, cache, nil, time.Second, log)

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("holdings lengths = %d, %d; want 1, 1", len(first), len(second))
	}
	if len(second[0].Positions) != 1 {
		t.Fatalf("cached holdings lost positions: %+v", second[0])
	}
	if cf.calls.Load() != 1 {
		t.Errorf("fetcher called %d times, want 1 (second read served from cache)", cf.calls.Load())
	}
}

type failingFetcher struct{ *SimClient }

func (f *failingFetcher) Positions(context.Context) ([]domain.Position, error) {
	return nil, errors.New("session expired\nstack detail")
}

func TestFetchAllPositionsIsolatesFailures(t *testing.T) {
	reg := NewRegistry()
	good := NewSimClient("Public")
	if err := reg.Add(good); err != nil {
		t.Fatal(err)
	}
	if err := reg.Add(&failingFetcher{NewSimClient("BBAE")}); err != nil {
		t.Fatal(err)
	}

	holdings := FetchAllPositions(context.Background(), reg, nil, nil, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if len(holdings) != 2 {
		t.Fatalf("got %d holdings entries, want 2", len(holdings))
	}

	byTarget := make(map[string]domain.Holdings)
	for _, h := range holdings {
		byTarget[h.Target] = h
	}
	if byTarget["Public"].Err != "" {
		t.Errorf("Public should succeed, got err %q", byTarget["Public"].Err)
	}
	if byTarget["BBAE"].Err != "session expired" {
		t.Errorf("BBAE err = %q, want first line of the failure", byTarget["BBAE"].Err)
	}
}
