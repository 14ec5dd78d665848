// Package dispatch executes queued units of work on a bounded pool of workers
// with at most one in-flight execution per job id.
//
// A unit stays in its Queue until the worker that claimed it acknowledges it,
// so a unit whose worker dies becomes claimable again once its lease expires.
package dispatch

import (
	"context"
	"time"

	"filingctl/internal/model"
)

// Unit is one schedulable execution of a job.
type Unit struct {
	JobID     string
	Payload   model.Payload
	NotBefore time.Time
}

// Lease is a claimed Unit. Token identifies this particular claim; Ack and
// Retry with a stale token are no-ops.
type Lease struct {
	Unit
	Owner      string
	Token      string
	Deliveries int
	Until      time.Time
}

// Redelivered reports whether an earlier claim of the unit expired without
// being acknowledged.
func (l *Lease) Redelivered() bool { return l.Deliveries > 1 }

// Queue is the durable store of units. Implementations hold at most one unit
// per job id.
type Queue interface {
	// Enqueue schedules the job. An idle unit for the same job is replaced.
	// If the job's unit is currently leased the new run is recorded and
	// becomes ready once that lease is acknowledged.
	Enqueue(ctx context.Context, u Unit) error

	// Claim leases the ready unit with the oldest NotBefore, treating units
	// with an expired lease as ready. It returns nil, nil when nothing is due.
	Claim(ctx context.Context, owner string, now time.Time, ttl time.Duration) (*Lease, error)

	// Ack removes the unit, or releases it when a run was enqueued while it
	// was leased.
	Ack(ctx context.Context, l *Lease) error

	// Retry releases the lease and makes the unit ready again at notBefore.
	Retry(ctx context.Context, l *Lease, notBefore time.Time) error

	// Has reports whether a unit exists for the job, leased or not.
	Has(ctx context.Context, jobID string) (bool, error)
}

// DispositionKind tells the pool what to do with a lease after Handle.
type DispositionKind int

const (
	// DispositionAck removes the unit.
	DispositionAck DispositionKind = iota
	// DispositionRetry makes the unit ready again at NotBefore.
	DispositionRetry
	// DispositionAbandon leaves the lease to expire so the unit is
	// redelivered. Used when the handler could not record the outcome.
	DispositionAbandon
)

type Disposition struct {
	Kind      DispositionKind
	NotBefore time.Time
}

func Ack() Disposition { return Disposition{Kind: DispositionAck} }

func RetryAt(t time.Time) Disposition { return Disposition{Kind: DispositionRetry, NotBefore: t} }

func Abandon() Disposition { return Disposition{Kind: DispositionAbandon} }

// Handler executes a leased unit and classifies the result into a
// Disposition. It is the pool's completion callback into the orchestrator.
type Handler interface {
	Handle(ctx context.Context, l *Lease) Disposition
}

type HandlerFunc func(ctx context.Context, l *Lease) Disposition

func (f HandlerFunc) Handle(ctx context.Context, l *Lease) Disposition { return f(ctx, l) }
