package counter_stores

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/aryangodara/rate_limiter_gate"
	_ "modernc.org/sqlite" // SQLite driver
)

var (
	_ rate_limiter_gate.CounterStore = &SQLiteStore{}
	_ Sweepable                      = &SQLiteStore{}
	_ Pinger                         = &SQLiteStore{}
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS rate_counters (
	limit_key    TEXT    NOT NULL,
	window_index INTEGER NOT NULL,
	count        INTEGER NOT NULL,
	created_at   INTEGER NOT NULL,
	expires_at   INTEGER NOT NULL,
	PRIMARY KEY (limit_key, window_index)
);
CREATE INDEX IF NOT EXISTS idx_rate_counters_expires_at ON rate_counters(expires_at);
`

const sqliteIncrement = `
INSERT INTO rate_counters (limit_key, window_index, count, created_at, expires_at)
VALUES (?, ?, 1, ?, ?)
ON CONFLICT (limit_key, window_index) DO UPDATE SET count = count + 1
RETURNING count`

// SQLiteStore persists counters in a local SQLite database so a single
// instance keeps its counts across restarts.
type SQLiteStore struct {
	db        *sql.DB
	retention int64
	now       func() time.Time
	closeOnce sync.Once
}

// SQLiteConfig configures a SQLiteStore.
type SQLiteConfig struct {
	// Path is the database file.
	Path string

	// BusyTimeout is how long to wait for the database lock.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// RetentionWindows is how many windows a counter row is kept, counting its own.
	// Default: 2
	RetentionWindows int64
}

// NewSQLiteStore opens (and if needed creates) the database at cfg.Path.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.RetentionWindows <= 0 {
		cfg.RetentionWindows = DefaultRetentionWindows
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{
		db:        db,
		retention: cfg.RetentionWindows,
		now:       time.Now,
	}, nil
}

// IncrementAndGet upserts the bucket row and returns its new count.
func (s *SQLiteStore) IncrementAndGet(ctx context.Context, key rate_limiter_gate.LimitKey, w rate_limiter_gate.Window) (int64, error) {
	expiresAt := w.End().Add(time.Duration(s.retention-1) * w.Length)

	var count int64
	err := s.db.QueryRowContext(ctx, sqliteIncrement,
		string(key), w.Index, s.now().UnixMilli(), expiresAt.UnixMilli(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter for key %v: %w", key, err)
	}
	return count, nil
}

// Reset deletes every window of key.
func (s *SQLiteStore) Reset(ctx context.Context, key rate_limiter_gate.LimitKey) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM rate_counters WHERE limit_key = ?`, string(key)); err != nil {
		return fmt.Errorf("failed to reset key %v: %w", key, err)
	}
	return nil
}

// Sweep deletes rows that expired before now.
func (s *SQLiteStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rate_counters WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired counters: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count swept counters: %w", err)
	}
	return int(n), nil
}

// Ping checks that the database is usable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.db.Close() })
	return err
}
