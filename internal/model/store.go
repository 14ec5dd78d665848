package model

import (
	"context"
	"time"
)

// JobStore is the durable record of job state. Implementations hold exactly
// one record per id and apply each Update atomically: a concurrent Get
// returns either the record before or after it, never a mix.
type JobStore interface {
	// Create persists a new record. The id must not exist yet.
	Create(ctx context.Context, j *Job) error

	// Get returns a copy of the record or an error wrapping ErrNotFound.
	Get(ctx context.Context, id string) (*Job, error)

	// Update applies u if the stored state equals u.From and returns the new
	// record. Otherwise it returns ErrStateConflict (or ErrTerminal) and the
	// record is untouched.
	Update(ctx context.Context, id string, u Update) (*Job, error)
}

// ListOpts filters job listings.
type ListOpts struct {
	State State
	Limit int
}

// Lister is implemented by stores that back the operator tooling.
type Lister interface {
	List(ctx context.Context, opts ListOpts) ([]*Job, error)
	CountByState(ctx context.Context) (map[State]int, error)
}

// Pruner removes terminal jobs older than the cutoff. It is retention
// tooling run by operators; the orchestrator never deletes records.
type Pruner interface {
	PruneTerminal(ctx context.Context, before time.Time) (int, error)
}
