package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestOrderValidate(t *testing.T) {
	price := decimal.NewFromFloat(187.50)

	valid := Order{
		Action:   ActionBuy,
		Quantity: 10,
		Ticker:   "AAPL",
		Price:    &price,
		Targets:  []string{"Robinhood", "Tradier"},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate returned unexpected error: %v", err)
	}

	cases := []struct {
		name  string
		order Order
	}{
		{"bad action", Order{Action: "hold", Quantity: 1, Ticker: "AAPL", Targets: []string{"A"}}},
		{"zero quantity", Order{Action: ActionBuy, Quantity: 0, Ticker: "AAPL", Targets: []string{"A"}}},
		{"negative quantity", Order{Action: ActionSell, Quantity: -5, Ticker: "AAPL", Targets: []string{"A"}}},
		{"empty ticker", Order{Action: ActionBuy, Quantity: 1, Ticker: "", Targets: []string{"A"}}},
		{"no targets", Order{Action: ActionBuy, Quantity: 1, Ticker: "AAPL"}},
		{"empty target name", Order{Action: ActionBuy, Quantity: 1, Ticker: "AAPL", Targets: []string{""}}},
		{"duplicate target", Order{Action: ActionBuy, Quantity: 1, Ticker: "AAPL", Targets: []string{"A", "A"}}},
	}
	for _, tc := range cases {
		if err := tc.order.Validate(); err == nil {
			t.Errorf("%s: Validate should have failed", tc.name)
		}
	}

	zero := decimal.Zero
	bad := valid
	bad.Price = &zero
	if err := bad.Validate(); err == nil {
		t.Error("Validate should reject a non-positive limit price")
	}
}

func TestOrderPriceLabel(t *testing.T) {
	o := Order{Action: ActionBuy, Quantity: 1, Ticker: "AAPL", Targets: []string{"A"}}
	if got := o.PriceLabel(); got != "market" {
		t.Errorf("PriceLabel() = %q, want %q", got, "market")
	}

	price := decimal.NewFromFloat(42.5)
	o.Price = &price
	if got := o.PriceLabel(); got != "$42.5" {
		t.Errorf("PriceLabel() = %q, want %q", got, "$42.5")
	}
}

func TestBrokerStatusTerminal(t *testing.T) {
	terminal := []BrokerStatus{StatusReady, StatusFailed, StatusTimedOut, StatusSkipped}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}
	for _, s := range []BrokerStatus{StatusQueued, StatusAuthenticating} {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
}

func TestBatchResultTotals(t *testing.T) {
	b := BatchResult{
		Successful: 2,
		Failed:     1,
		Skipped:    1,
		Orders: []OrderResult{
			{
				Successful: []string{"A", "B"},
				Failed:     []string{"C"},
				Skipped:    []string{"D"},
				TimedOut:   []string{"C"},
			},
		},
	}
	if b.Total() != 4 {
		t.Errorf("Total() = %d, want 4", b.Total())
	}
	if b.Orders[0].Total() != 4 {
		t.Errorf("OrderResult.Total() = %d, want 4", b.Orders[0].Total())
	}
}

func TestBatchResultTimedOutTargets(t *testing.T) {
	b := BatchResult{
		Orders: []OrderResult{
			{TimedOut: []string{"E", "F"}},
			{TimedOut: []string{"E"}},
		},
	}
	got := b.TimedOutTargets()
	if len(got) != 2 {
		t.Fatalf("TimedOutTargets() = %v, want 2 deduplicated entries", got)
	}
	if got[0] != "E" || got[1] != "F" {
		t.Errorf("TimedOutTargets() = %v, want [E F]", got)
	}
}
