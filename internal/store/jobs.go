package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"filingctl/internal/model"
)

var (
	_ model.JobStore = (*Store)(nil)
	_ model.Lister   = (*Store)(nil)
	_ model.Pruner   = (*Store)(nil)
)

const jobColumns = `id, case_id, state, attempt, payload, session_state_ref,
	interrupt_artifact_ref, result, last_error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var (
		j                    model.Job
		state, payload       string
		result               sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&j.ID, &j.CaseID, &state, &j.Attempt, &payload, &j.SessionStateRef,
		&j.InterruptArtifactRef, &result, &j.LastError, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	j.State = model.State(state)
	if err := json.Unmarshal([]byte(payload), &j.Payload); err != nil {
		return nil, fmt.Errorf("decode payload of job %s: %w", j.ID, err)
	}
	if result.Valid {
		j.Result = json.RawMessage(result.String)
	}
	j.CreatedAt = parseTS(createdAt)
	j.UpdatedAt = parseTS(updatedAt)
	return &j, nil
}

func nullableResult(r json.RawMessage) any {
	if r == nil {
		return nil
	}
	return string(r)
}

func (s *Store) Create(ctx context.Context, j *model.Job) error {
	payload, err := json.Marshal(j.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	_, err = s.DB.ExecContext(ctx, `
INSERT INTO jobs (`+jobColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, j.ID, j.CaseID, string(j.State), j.Attempt, string(payload), j.SessionStateRef,
		j.InterruptArtifactRef, nullableResult(j.Result), j.LastError,
		formatTS(j.CreatedAt), formatTS(j.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create job %s: %w", j.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*model.Job, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{JobID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

// Update applies one transition in a serializable transaction. The final
// UPDATE is guarded on the expected state, so a lost race leaves the row
// untouched.
func (s *Store) Update(ctx context.Context, id string, u model.Update) (*model.Job, error) {
	tx, err := s.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	cur, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{JobID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}

	next, err := u.Apply(cur, s.now())
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(next.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET state=?, attempt=?, payload=?, session_state_ref=?, interrupt_artifact_ref=?,
		    result=?, last_error=?, updated_at=?
		WHERE id=? AND state=?
	`, string(next.State), next.Attempt, string(payload), next.SessionStateRef,
		next.InterruptArtifactRef, nullableResult(next.Result), next.LastError,
		formatTS(next.UpdatedAt), id, string(u.From))
	if err != nil {
		return nil, fmt.Errorf("update job %s: %w", id, err)
	}

	rows, _ := res.RowsAffected()
	if rows != 1 {
		return nil, fmt.Errorf("%w: job %s", model.ErrStateConflict, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("tx commit: %w", err)
	}
	return next, nil
}
