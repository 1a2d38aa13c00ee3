package journal

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"tradecast/internal/domain"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Open(%q) returned error: %v", path, err)
	}
	t.Cleanup(func() {
		if cerr := j.Close(); cerr != nil {
			t.Errorf("Close() returned error: %v", cerr)
		}
	})
	return j
}

func TestRecordBatchAndList(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	orders := []domain.Order{
		{Action: domain.ActionBuy, Quantity: 10, Ticker: "AAPL", Targets: []string{"A", "B", "C", "E"}},
	}
	result := domain.BatchResult{
		Successful: 1, Failed: 2, Skipped: 1,
		Orders: []domain.OrderResult{{
			Successful: []string{"A"},
			Failed:     []string{"B", "E"},
			Skipped:    []string{"C"},
			TimedOut:   []string{"E"},
			Reasons: map[string]string{
				"B": "insufficient funds",
				"C": "no credentials",
				"E": "timed out after 25s",
			},
		}},
	}

	if err := j.RecordBatch(ctx, orders, result); err != nil {
		t.Fatalf("RecordBatch: %v", err)
	}

	entries, err := j.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("List returned %d entries, want 4 (one per order-target pair)", len(entries))
	}

	byTarget := make(map[string]Entry, len(entries))
	for _, e := range entries {
		byTarget[e.Target] = e
		if e.Ticker != "AAPL" || e.Quantity != 10 || e.Action != domain.ActionBuy {
			t.Errorf("entry %s carries wrong order fields: %+v", e.Target, e)
		}
		if e.Price != "market" {
			t.Errorf("entry %s price = %q, want market", e.Target, e.Price)
		}
		if e.SubmittedAt.IsZero() {
			t.Errorf("entry %s has zero submitted_at", e.Target)
		}
	}

	if byTarget["A"].Status != "success" {
		t.Errorf("A status = %q, want success", byTarget["A"].Status)
	}
	if byTarget["B"].Status != "failed" || byTarget["B"].Reason != "insufficient funds" {
		t.Errorf("B entry = %+v", byTarget["B"])
	}
	if byTarget["C"].Status != "skipped" {
		t.Errorf("C status = %q, want skipped", byTarget["C"].Status)
	}
	// Timed-out targets are failures in the tally but journal as timed-out.
	if byTarget["E"].Status != "timed-out" {
		t.Errorf("E status = %q, want timed-out", byTarget["E"].Status)
	}
}

func TestListNewestFirstWithLimit(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	tickers := []string{"AAPL", "MSFT", "TSLA"}
	for _, ticker := range tickers {
		orders := []domain.Order{{Action: domain.ActionSell, Quantity: 1, Ticker: ticker, Targets: []string{"A"}}}
		result := domain.BatchResult{
			Successful: 1,
			Orders:     []domain.OrderResult{{Successful: []string{"A"}, Reasons: map[string]string{}}},
		}
		if err := j.RecordBatch(ctx, orders, result); err != nil {
			t.Fatalf("RecordBatch(%s): %v", ticker, err)
		}
	}

	entries, err := j.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("List returned %d entries, want 2", len(entries))
	}
	if entries[0].Ticker != "TSLA" || entries[1].Ticker != "MSFT" {
		t.Errorf("List order = [%s %s], want newest first [TSLA MSFT]", entries[0].Ticker, entries[1].Ticker)
	}
}

func TestRecordBatchLengthMismatch(t *testing.T) {
	j := openTestJournal(t)

	orders := []domain.Order{{Action: domain.ActionBuy, Quantity: 1, Ticker: "AAPL", Targets: []string{"A"}}}
	if err := j.RecordBatch(context.Background(), orders, domain.BatchResult{}); err == nil {
		t.Error("RecordBatch should reject mismatched orders and results")
	}
}
