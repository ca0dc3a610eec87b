// Package journal records which Slack deliveries have already been handled.
// It is an intake guard, not a record store: the knowledge store remains the
// source of truth for archived threads.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS processed_events (
	key          TEXT PRIMARY KEY,
	processed_at TEXT NOT NULL
);
`

type Journal struct {
	db    *sql.DB
	nowFn func() time.Time
}

type Options struct {
	// DSN is the sqlite path. ":memory:" is accepted for tests.
	DSN string
	Now func() time.Time
}

func Open(opts Options) (*Journal, error) {
	dsn := strings.TrimSpace(opts.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("journal dsn is required")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// modernc sqlite serializes writes per connection; a single connection
	// avoids SQLITE_BUSY under concurrent intake.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Journal{db: db, nowFn: nowFn}, nil
}

// MarkProcessed records key and reports whether it was newly recorded.
// A false return means the delivery was seen before and must not be
// processed again.
func (j *Journal) MarkProcessed(ctx context.Context, key string) (bool, error) {
	if j == nil || j.db == nil {
		return false, fmt.Errorf("journal is not initialized")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("journal key is required")
	}
	res, err := j.db.ExecContext(ctx,
		`INSERT INTO processed_events (key, processed_at) VALUES (?, ?) ON CONFLICT (key) DO NOTHING`,
		key, j.nowFn().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("mark processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark processed: %w", err)
	}
	return n > 0, nil
}

// Seen reports whether key has been recorded without recording it.
func (j *Journal) Seen(ctx context.Context, key string) (bool, error) {
	if j == nil || j.db == nil {
		return false, fmt.Errorf("journal is not initialized")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("journal key is required")
	}
	var one int
	err := j.db.QueryRowContext(ctx, `SELECT 1 FROM processed_events WHERE key = ?`, key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query journal: %w", err)
	}
	return true, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}
