// Package dispatchlog keeps an optional on-disk record of sink outcomes.
// It is an operator aid, not engine state: the poll loop works identically
// with it disabled.
package dispatchlog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/pollclaw/internal/bus"
)

const schema = `
CREATE TABLE IF NOT EXISTS dispatches (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id INTEGER NOT NULL,
	intent     TEXT    NOT NULL,
	sink       TEXT    NOT NULL,
	success    INTEGER NOT NULL,
	error      TEXT,
	latency_ms INTEGER NOT NULL,
	created_at TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dispatches_created ON dispatches(created_at);
`

// Log writes dispatch outcomes to a SQLite file.
type Log struct {
	db *sql.DB
}

// Open creates (or reuses) the dispatch log at path.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open dispatch log: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init dispatch log schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Close releases the database handle.
func (l *Log) Close() error {
	return l.db.Close()
}

// Record inserts one row per sink result. Logging must never break the poll
// loop, so failures are logged and swallowed here.
func (l *Log) Record(ctx context.Context, msgID int64, intent string, results []bus.DispatchResult) {
	now := time.Now().UTC().Format(time.RFC3339)
	for _, res := range results {
		errText := ""
		if res.Err != nil {
			errText = res.Err.Error()
		}
		_, err := l.db.ExecContext(ctx,
			`INSERT INTO dispatches (message_id, intent, sink, success, error, latency_ms, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			msgID, intent, res.Sink, boolToInt(res.Success), errText, res.Latency.Milliseconds(), now,
		)
		if err != nil {
			slog.Warn("dispatch log insert failed", "message_id", msgID, "sink", res.Sink, "error", err)
		}
	}
}

// FailureCount returns how many sink invocations failed within the window.
// Used by the doctor command.
func (l *Log) FailureCount(ctx context.Context, window time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-window).Format(time.RFC3339)
	var n int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dispatches WHERE success = 0 AND created_at >= ?`, cutoff,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count failures: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
