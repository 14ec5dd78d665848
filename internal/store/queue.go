package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"filingctl/internal/dispatch"
)

var _ dispatch.Queue = (*Store)(nil)

// Enqueue inserts the unit for its job. An idle unit is replaced; a leased one
// keeps running and the new run is parked in the pending columns until the
// holder acks or releases it.
func (s *Store) Enqueue(ctx context.Context, u dispatch.Unit) error {
	payload, err := json.Marshal(u.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO dispatch_queue (job_id, payload, not_before)
		VALUES (?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
		  payload            = CASE WHEN token = '' THEN excluded.payload ELSE payload END,
		  not_before         = CASE WHEN token = '' THEN excluded.not_before ELSE not_before END,
		  deliveries         = CASE WHEN token = '' THEN 0 ELSE deliveries END,
		  pending_payload    = CASE WHEN token = '' THEN NULL ELSE excluded.payload END,
		  pending_not_before = CASE WHEN token = '' THEN NULL ELSE excluded.not_before END
	`, u.JobID, string(payload), millis(u.NotBefore))
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", u.JobID, err)
	}
	return nil
}

// Claim leases the ready unit with the oldest not_before. Units whose lease
// has expired are ready again; their delivery count keeps growing.
func (s *Store) Claim(ctx context.Context, owner string, now time.Time, ttl time.Duration) (*dispatch.Lease, error) {
	tx, err := s.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	nowMS := millis(now)
	row := tx.QueryRowContext(ctx, `
		SELECT job_id, payload, not_before, token, deliveries
		FROM dispatch_queue
		WHERE not_before <= ?
		  AND (token = '' OR lease_until <= ?)
		ORDER BY not_before ASC
		LIMIT 1
	`, nowMS, nowMS)

	var (
		l          dispatch.Lease
		payload    string
		notBefore  int64
		oldToken   string
		deliveries int
	)
	err = row.Scan(&l.JobID, &payload, &notBefore, &oldToken, &deliveries)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select unit: %w", err)
	}

	l.Owner = owner
	l.Token = uuid.NewString()
	l.Deliveries = deliveries + 1
	l.Until = now.Add(ttl)
	l.NotBefore = fromMillis(notBefore)

	res, err := tx.ExecContext(ctx, `
		UPDATE dispatch_queue
		SET owner=?, token=?, lease_until=?, deliveries=?
		WHERE job_id=? AND token=?
	`, l.Owner, l.Token, millis(l.Until), l.Deliveries, l.JobID, oldToken)
	if err != nil {
		return nil, fmt.Errorf("lease unit: %w", err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		// lost the race
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("tx commit: %w", err)
	}

	if err := json.Unmarshal([]byte(payload), &l.Payload); err != nil {
		return nil, fmt.Errorf("decode payload of %s: %w", l.JobID, err)
	}
	return &l, nil
}

func (s *Store) Ack(ctx context.Context, l *dispatch.Lease) error {
	return s.release(ctx, l, nil)
}

func (s *Store) Retry(ctx context.Context, l *dispatch.Lease, notBefore time.Time) error {
	return s.release(ctx, l, &notBefore)
}

// release ends a lease. A pending run always takes the unit's place. With no
// pending run an ack deletes the unit and a retry makes it ready at notBefore.
// A stale token is a no-op.
func (s *Store) release(ctx context.Context, l *dispatch.Lease, notBefore *time.Time) error {
	tx, err := s.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var hasPending bool
	err = tx.QueryRowContext(ctx, `
		SELECT pending_payload IS NOT NULL
		FROM dispatch_queue WHERE job_id=? AND token=?
	`, l.JobID, l.Token).Scan(&hasPending)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load unit %s: %w", l.JobID, err)
	}

	switch {
	case hasPending:
		_, err = tx.ExecContext(ctx, `
			UPDATE dispatch_queue
			SET payload=pending_payload, not_before=pending_not_before,
			    owner='', token='', lease_until=0, deliveries=0,
			    pending_payload=NULL, pending_not_before=NULL
			WHERE job_id=?
		`, l.JobID)
	case notBefore == nil:
		_, err = tx.ExecContext(ctx, `DELETE FROM dispatch_queue WHERE job_id=?`, l.JobID)
	default:
		// A voluntary release is not a failed delivery.
		_, err = tx.ExecContext(ctx, `
			UPDATE dispatch_queue
			SET not_before=?, owner='', token='', lease_until=0,
			    deliveries=MAX(deliveries-1, 0)
			WHERE job_id=?
		`, millis(*notBefore), l.JobID)
	}
	if err != nil {
		return fmt.Errorf("release %s: %w", l.JobID, err)
	}

	return tx.Commit()
}

func (s *Store) Has(ctx context.Context, jobID string) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM dispatch_queue WHERE job_id=?`, jobID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("lookup unit %s: %w", jobID, err)
	}
	return n > 0, nil
}

// QueueDepth returns the number of units in the queue, leased or not.
func (s *Store) QueueDepth(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM dispatch_queue`).Scan(&n)
	return n, err
}
