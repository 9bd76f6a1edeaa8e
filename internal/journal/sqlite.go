package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS journal (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    ts          TEXT     NOT NULL,
    kind        TEXT     NOT NULL,
    position_id TEXT     NOT NULL,
    token       TEXT     NOT NULL,
    symbol      TEXT,
    reason      TEXT,
    tx          TEXT,
    entry_price TEXT     NOT NULL DEFAULT '0',
    exit_price  TEXT     NOT NULL DEFAULT '0',
    trigger_price TEXT   NOT NULL DEFAULT '0',
    size        TEXT     NOT NULL DEFAULT '0',
    pnl         TEXT     NOT NULL DEFAULT '0',
    attempts    INTEGER  NOT NULL DEFAULT 0,
    latency_ms  INTEGER  NOT NULL DEFAULT 0,
    error       TEXT
);

CREATE INDEX IF NOT EXISTS idx_journal_ts    ON journal(ts DESC);
CREATE INDEX IF NOT EXISTS idx_journal_token ON journal(token);
`

// tsLayout sorts lexically in time order.
const tsLayout = "2006-01-02 15:04:05.000000000"

// SQLiteStore keeps the journal in a SQLite database (pure Go, no cgo).
type SQLiteStore struct {
	db      *sql.DB
	timeout time.Duration
}

// NewSQLiteStore opens (or creates) the database at path and applies the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal.NewSQLiteStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal.NewSQLiteStore: apply schema: %w", err)
	}
	return &SQLiteStore{db: db, timeout: 5 * time.Second}, nil
}

func (s *SQLiteStore) Record(e Entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO journal (ts, kind, position_id, token, symbol, reason, tx,
		    entry_price, exit_price, trigger_price, size, pnl, attempts, latency_ms, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Time.UTC().Format(tsLayout), string(e.Kind), e.PositionID, e.TokenID, e.Symbol, e.Reason, e.TxID,
		e.EntryPrice.String(), e.ExitPrice.String(), e.TriggerPrice.String(), e.Size.String(), e.PnL.String(),
		e.Attempts, e.LatencyMs, e.Error,
	)
	if err != nil {
		return fmt.Errorf("journal.Record: insert: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, kind, position_id, token, symbol, reason, tx,
		        entry_price, exit_price, trigger_price, size, pnl, attempts, latency_ms, error
		 FROM journal ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal.Recent: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                        Entry
			ts, kind                 string
			symbol, reason, tx, errs sql.NullString
			entry, exit, trigger     string
			size, pnl                string
		)
		if err := rows.Scan(&ts, &kind, &e.PositionID, &e.TokenID, &symbol, &reason, &tx,
			&entry, &exit, &trigger, &size, &pnl, &e.Attempts, &e.LatencyMs, &errs); err != nil {
			return nil, fmt.Errorf("journal.Recent: scan: %w", err)
		}
		if e.Time, err = time.Parse(tsLayout, ts); err != nil {
			return nil, fmt.Errorf("journal.Recent: parse ts %q: %w", ts, err)
		}
		e.Kind = Kind(kind)
		e.Symbol, e.Reason, e.TxID, e.Error = symbol.String, reason.String, tx.String, errs.String
		e.EntryPrice = parseDecimal(entry)
		e.ExitPrice = parseDecimal(exit)
		e.TriggerPrice = parseDecimal(trigger)
		e.Size = parseDecimal(size)
		e.PnL = parseDecimal(pnl)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RealizedPnL sums the PnL of every closed entry.
func (s *SQLiteStore) RealizedPnL(ctx context.Context) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT pnl FROM journal WHERE kind = ?`, string(KindClosed))
	if err != nil {
		return decimal.Zero, fmt.Errorf("journal.RealizedPnL: query: %w", err)
	}
	defer rows.Close()
	total := decimal.Zero
	for rows.Next() {
		var pnl string
		if err := rows.Scan(&pnl); err != nil {
			return decimal.Zero, fmt.Errorf("journal.RealizedPnL: scan: %w", err)
		}
		total = total.Add(parseDecimal(pnl))
	}
	return total, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
