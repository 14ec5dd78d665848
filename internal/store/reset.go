package store

import (
	"context"
	"fmt"
	"time"
)

// PruneTerminal deletes done and failed jobs last updated before the cutoff,
// together with any queue unit left for them.
func (s *Store) PruneTerminal(ctx context.Context, before time.Time) (int, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	cutoff := formatTS(before)
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM dispatch_queue WHERE job_id IN (
			SELECT id FROM jobs WHERE state IN ('done','failed') AND updated_at < ?
		)
	`, cutoff); err != nil {
		return 0, fmt.Errorf("prune queue: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM jobs WHERE state IN ('done','failed') AND updated_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("tx commit: %w", err)
	}
	return int(n), nil
}
