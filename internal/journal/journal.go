// Package journal persists per-target execution outcomes to SQLite so a run's
// fills and failures survive the process. It is append-plus-read: rows are
// never updated, and List exists for post-run inspection.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"tradecast/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	submitted_at TEXT NOT NULL,
	action       TEXT NOT NULL,
	quantity     INTEGER NOT NULL,
	ticker       TEXT NOT NULL,
	price        TEXT NOT NULL,
	target       TEXT NOT NULL,
	status       TEXT NOT NULL,
	reason       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_ticker ON executions (ticker);
`

// Entry is one persisted order-target outcome.
type Entry struct {
	ID          int64
	SubmittedAt time.Time
	Action      domain.Action
	Quantity    int
	Ticker      string
	Price       string // "market" when no limit price was set
	Target      string
	Status      string // "success", "failed", "timed-out", or "skipped"
	Reason      string
}

// Journal records execution outcomes in a SQLite database.
type Journal struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (or creates) the journal database at path.
func Open(path string, log *slog.Logger) (*Journal, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return &Journal{db: db, log: log.With("component", "journal")}, nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordBatch writes one row per order-target pair of a completed submission.
// orders and result.Orders are matched by position, the order the engine
// processed them in.
func (j *Journal) RecordBatch(ctx context.Context, orders []domain.Order, result domain.BatchResult) error {
	if len(orders) != len(result.Orders) {
		return fmt.Errorf("journal: %d orders but %d results", len(orders), len(result.Orders))
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin journal tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO executions (submitted_at, action, quantity, ticker, price, target, status, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare journal insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	rows := 0
	for i := range orders {
		o := &orders[i]
		or := &result.Orders[i]
		for target, status := range targetStatuses(or) {
			_, err := stmt.ExecContext(ctx, now, string(o.Action), o.Quantity, o.Ticker,
				o.PriceLabel(), target, status, or.Reasons[target])
			if err != nil {
				return fmt.Errorf("insert journal row: %w", err)
			}
			rows++
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit journal tx: %w", err)
	}
	j.log.Info("journaled execution outcomes", "rows", rows)
	return nil
}

// List returns the most recent entries, newest first, up to limit.
func (j *Journal) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, submitted_at, action, quantity, ticker, price, target, status, reason
		 FROM executions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var submitted, action string
		if err := rows.Scan(&e.ID, &submitted, &action, &e.Quantity, &e.Ticker,
			&e.Price, &e.Target, &e.Status, &e.Reason); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		e.Action = domain.Action(action)
		if ts, perr := time.Parse(time.RFC3339, submitted); perr == nil {
			e.SubmittedAt = ts
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// targetStatuses flattens one order result into a target to status map.
// Timed-out targets appear in both the failed and timed-out lists; the
// timed-out label wins.
func targetStatuses(or *domain.OrderResult) map[string]string {
	statuses := make(map[string]string, or.Total())
	for _, name := range or.Successful {
		statuses[name] = "success"
	}
	for _, name := range or.Failed {
		statuses[name] = "failed"
	}
	for _, name := range or.Skipped {
		statuses[name] = "skipped"
	}
	for _, name := range or.TimedOut {
		statuses[name] = "timed-out"
	}
	return statuses
}
