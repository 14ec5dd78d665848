package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"
)

// Runtime knobs kept in the config table. They are read when a worker starts,
// so `filingctl config set` takes effect on the next start.
const (
	KeyMaxAttempts   = "max_attempts"
	KeyBackoffBaseMS = "backoff_base_ms"
	KeyExecTimeout   = "exec_timeout_seconds"
)

func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value
	`, key, value)
	return err
}

func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	var val string
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM config WHERE key=?`, key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return val, err
}

func (s *Store) AllConfig(ctx context.Context) (map[string]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT key, value FROM config ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		result[k] = v
	}
	return result, rows.Err()
}

// IntOr returns the integer stored under key, or def when the key is missing
// or not a positive integer.
func (s *Store) IntOr(ctx context.Context, key string, def int) int {
	val, err := s.GetConfig(ctx, key)
	if err != nil || val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// DurationOr reads an integer key and scales it by unit.
func (s *Store) DurationOr(ctx context.Context, key string, unit, def time.Duration) time.Duration {
	n := s.IntOr(ctx, key, -1)
	if n < 0 {
		return def
	}
	return time.Duration(n) * unit
}
