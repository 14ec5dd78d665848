package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// tsLayout is fixed width so stored timestamps sort lexicographically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// Store is the SQLite Job Store, durable dispatch queue and runtime config
// table. Open it at process start and Close it at shutdown.
type Store struct {
	DB  *sql.DB
	now func() time.Time
}

func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// A single connection serializes writers, so claims and transitions
	// never race on SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("busy timeout: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{DB: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

func runMigrations(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS jobs (
  id TEXT PRIMARY KEY,
  case_id TEXT NOT NULL,
  state TEXT NOT NULL CHECK (state IN ('created','queued','running','awaiting_human_input','done','failed')),
  attempt INTEGER NOT NULL DEFAULT 0 CHECK (attempt >= 0),
  payload TEXT NOT NULL,
  session_state_ref TEXT NOT NULL DEFAULT '',
  interrupt_artifact_ref TEXT NOT NULL DEFAULT '',
  result TEXT,
  last_error TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);

CREATE TABLE IF NOT EXISTS dispatch_queue (
  job_id TEXT PRIMARY KEY,
  payload TEXT NOT NULL,
  not_before INTEGER NOT NULL,
  owner TEXT NOT NULL DEFAULT '',
  token TEXT NOT NULL DEFAULT '',
  lease_until INTEGER NOT NULL DEFAULT 0,
  deliveries INTEGER NOT NULL DEFAULT 0,
  pending_payload TEXT,
  pending_not_before INTEGER
);

CREATE INDEX IF NOT EXISTS idx_dispatch_ready ON dispatch_queue(not_before);

CREATE TABLE IF NOT EXISTS config (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);

INSERT OR IGNORE INTO config(key,value) VALUES ('max_attempts','5');
INSERT OR IGNORE INTO config(key,value) VALUES ('backoff_base_ms','60000');
INSERT OR IGNORE INTO config(key,value) VALUES ('exec_timeout_seconds','300');
`
	_, err := db.Exec(schema)
	return err
}

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) time.Time {
	t, _ := time.Parse(tsLayout, s)
	return t
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
