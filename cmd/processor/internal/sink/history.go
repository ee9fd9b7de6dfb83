package sink

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/amr-shafiq/live-stock-market/pkg/models"
)

const historyDDL = `
CREATE TABLE IF NOT EXISTS quote_history (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol         TEXT    NOT NULL,
	price          REAL    NOT NULL,
	change         REAL    NOT NULL,
	change_percent REAL    NOT NULL,
	timestamp      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_quote_history_symbol_ts
	ON quote_history (symbol, timestamp);
`

// HistoryStore is the append-only history sink, backed by SQLite.
// Rows are only ever inserted; ordering is by timestamp.
type HistoryStore struct {
	db *sql.DB
}

func OpenHistory(path string) (*HistoryStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}

	// WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if _, err := db.Exec(historyDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("history schema migration: %w", err)
	}

	return &HistoryStore{db: db}, nil
}

func (s *HistoryStore) Close() error {
	return s.db.Close()
}

// Insert appends one throttle-gated quote snapshot. Timestamps are stored
// as UnixNano so ORDER BY compares numerically; a textual format would sort
// lexicographically and misorder mixed-precision fractional seconds.
func (s *HistoryStore) Insert(ctx context.Context, q models.Quote) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quote_history (symbol, price, change, change_percent, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		q.Symbol, q.Price, q.Change, q.ChangePercent, q.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("history insert for %s: %w", q.Symbol, err)
	}
	return nil
}

// RecentBySymbol returns the newest rows for a symbol, most recent first.
func (s *HistoryStore) RecentBySymbol(ctx context.Context, symbol string, limit int) ([]models.Quote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, price, change, change_percent, timestamp
		FROM quote_history
		WHERE symbol = ?
		ORDER BY timestamp DESC
		LIMIT ?`, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.Quote
	for rows.Next() {
		var q models.Quote
		var ts int64
		if err := rows.Scan(&q.Symbol, &q.Price, &q.Change, &q.ChangePercent, &ts); err != nil {
			return nil, err
		}
		q.Timestamp = time.Unix(0, ts).UTC()
		results = append(results, q)
	}
	return results, rows.Err()
}

// Count returns the total number of history rows. Used by tests and the
// processor's shutdown log line.
func (s *HistoryStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM quote_history`).Scan(&n)
	return n, err
}
