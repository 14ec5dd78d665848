// Package engine is the job lifecycle orchestrator. It owns every write to
// the job store: the control operations Submit and Resume, and Handle, the
// dispatcher callback that runs a job and records its outcome.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"filingctl/internal/dispatch"
	"filingctl/internal/model"
	"filingctl/internal/notify"
	"filingctl/internal/retry"
	"filingctl/internal/runner"
)

const DefaultExecTimeout = 5 * time.Minute

var errLostExecution = errors.New("execution lost before its outcome was recorded")

type Orchestrator struct {
	jobs     model.JobStore
	queue    dispatch.Queue
	runner   runner.Runner
	notifier notify.Sink
	policy   retry.Policy

	execTimeout time.Duration
	notifyWait  time.Duration
	validator   Validator
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string
}

type Option func(*Orchestrator)

func WithRunner(r runner.Runner) Option {
	return func(o *Orchestrator) { o.runner = r }
}

func WithNotifier(n notify.Sink) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

func WithPolicy(p retry.Policy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithExecTimeout bounds a single execution. Exceeding it counts as a
// transient failure.
func WithExecTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.execTimeout = d
		}
	}
}

func WithValidator(v Validator) Option {
	return func(o *Orchestrator) { o.validator = v }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithIDGenerator(f func() string) Option {
	return func(o *Orchestrator) { o.newID = f }
}

// New builds an Orchestrator over an opened job store and queue. Without
// WithRunner every execution fails fatally.
func New(jobs model.JobStore, queue dispatch.Queue, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		jobs:        jobs,
		queue:       queue,
		notifier:    notify.Log{},
		policy:      retry.Default(),
		execTimeout: DefaultExecTimeout,
		notifyWait:  15 * time.Second,
		logger:      slog.Default(),
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.runner == nil {
		o.runner = runner.Func(func(context.Context, runner.Request) runner.Outcome {
			return runner.Fatal{Err: errors.New("no workflow runner configured")}
		})
	}
	return o
}

func (o *Orchestrator) ExecTimeout() time.Duration { return o.execTimeout }

// ──────────────────────────────────────────────────
// Control plane
// ──────────────────────────────────────────────────

// Submit records a new job and schedules its first execution. An invalid
// payload is rejected before anything is written.
func (o *Orchestrator) Submit(ctx context.Context, caseID string, payload model.Payload) (string, error) {
	if err := o.validator.Validate(caseID, payload); err != nil {
		return "", err
	}

	now := o.now()
	job := &model.Job{
		ID:        o.newID(),
		CaseID:    caseID,
		State:     model.StateCreated,
		Payload:   payload.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.jobs.Create(ctx, job); err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}

	queued, err := o.jobs.Update(ctx, job.ID, model.Update{From: model.StateCreated, To: model.StateQueued})
	if err != nil {
		return "", fmt.Errorf("submit %s: %w", job.ID, err)
	}
	if err := o.queue.Enqueue(ctx, dispatch.Unit{JobID: job.ID, Payload: queued.Payload, NotBefore: now}); err != nil {
		return "", fmt.Errorf("submit %s: %w", job.ID, err)
	}

	o.logger.Info("job submitted",
		slog.String("job_id", job.ID),
		slog.String("case_id", caseID),
	)
	return job.ID, nil
}

// Resume merges the human input into an interrupted job's payload and
// schedules it again. Any state other than awaiting_human_input is rejected
// and the record is left as it was.
func (o *Orchestrator) Resume(ctx context.Context, jobID string, input model.Payload) error {
	if err := o.validator.ValidateInput(input); err != nil {
		return err
	}

	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State != model.StateAwaiting {
		return &model.InvalidStateError{JobID: jobID, Op: "resume", State: job.State}
	}

	queued, err := o.jobs.Update(ctx, jobID, model.Update{
		From:    model.StateAwaiting,
		To:      model.StateQueued,
		Payload: job.Payload.Merge(input),
	})
	if errors.Is(err, model.ErrStateConflict) || errors.Is(err, model.ErrTerminal) {
		// Lost to a concurrent resume.
		cur, gerr := o.jobs.Get(ctx, jobID)
		if gerr != nil {
			return gerr
		}
		return &model.InvalidStateError{JobID: jobID, Op: "resume", State: cur.State}
	}
	if err != nil {
		return fmt.Errorf("resume %s: %w", jobID, err)
	}

	if err := o.queue.Enqueue(ctx, dispatch.Unit{JobID: jobID, Payload: queued.Payload, NotBefore: o.now()}); err != nil {
		return fmt.Errorf("resume %s: %w", jobID, err)
	}

	o.logger.Info("job resumed",
		slog.String("job_id", jobID),
		slog.Int("attempt", queued.Attempt),
		slog.Int("input_fields", len(input)),
	)
	return nil
}

func (o *Orchestrator) GetStatus(ctx context.Context, jobID string) (model.JobView, error) {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return model.JobView{}, err
	}
	return job.View(), nil
}

// Job returns the full record, including refs that JobView leaves out.
func (o *Orchestrator) Job(ctx context.Context, jobID string) (*model.Job, error) {
	return o.jobs.Get(ctx, jobID)
}

// Recover schedules jobs whose queue unit went missing, e.g. after a crash
// between a state write and the enqueue or when the queue is not durable.
// Created jobs are moved to queued first. Running jobs without a unit are
// scheduled so their lost execution is classified by Handle.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	lister, ok := o.jobs.(model.Lister)
	if !ok {
		return 0, errors.New("recover: job store cannot list jobs")
	}

	n := 0
	for _, state := range []model.State{model.StateCreated, model.StateQueued, model.StateRunning} {
		jobs, err := lister.List(ctx, model.ListOpts{State: state})
		if err != nil {
			return n, fmt.Errorf("recover: list %s: %w", state, err)
		}
		for _, job := range jobs {
			has, err := o.queue.Has(ctx, job.ID)
			if err != nil {
				return n, fmt.Errorf("recover: %w", err)
			}
			if has {
				continue
			}
			if job.State == model.StateCreated {
				if job, err = o.jobs.Update(ctx, job.ID, model.Update{From: model.StateCreated, To: model.StateQueued}); err != nil {
					return n, fmt.Errorf("recover %s: %w", job.ID, err)
				}
			}
			if err := o.queue.Enqueue(ctx, dispatch.Unit{JobID: job.ID, Payload: job.Payload, NotBefore: o.now()}); err != nil {
				return n, fmt.Errorf("recover %s: %w", job.ID, err)
			}
			o.logger.Info("job recovered", slog.String("job_id", job.ID), slog.String("state", string(job.State)))
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Execution
// ──────────────────────────────────────────────────

var _ dispatch.Handler = (*Orchestrator)(nil)

// Handle runs one leased unit. It is only ever called by the dispatcher, which
// guarantees a single live lease per job.
func (o *Orchestrator) Handle(ctx context.Context, l *dispatch.Lease) dispatch.Disposition {
	log := o.logger.With(slog.String("job_id", l.JobID), slog.Int("delivery", l.Deliveries))

	job, err := o.jobs.Get(ctx, l.JobID)
	if errors.Is(err, model.ErrNotFound) {
		log.Warn("unit for unknown job dropped")
		return dispatch.Ack()
	}
	if err != nil {
		log.Error("load job failed", slog.String("error", err.Error()))
		return dispatch.Abandon()
	}

	switch job.State {
	case model.StateQueued:
	case model.StateRunning:
		// The previous holder died or its lease ran out mid-execution.
		log.Warn("recovering lost execution", slog.Int("attempt", job.Attempt))
		return o.settle(ctx, log, job, runner.Transient{Err: errLostExecution})
	default:
		log.Warn("stale unit acknowledged", slog.String("state", string(job.State)))
		return dispatch.Ack()
	}

	job, err = o.jobs.Update(ctx, job.ID, model.Update{From: model.StateQueued, To: model.StateRunning})
	if err != nil {
		return o.storeFailure(log, "mark running", err)
	}
	log.Info("job running", slog.Int("attempt", job.Attempt))

	out := o.execute(ctx, job)
	return o.settle(ctx, log, job, out)
}

func (o *Orchestrator) execute(ctx context.Context, job *model.Job) (out runner.Outcome) {
	ctx, cancel := context.WithTimeout(ctx, o.execTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			out = runner.Transient{Err: fmt.Errorf("runner panic: %v", r)}
		}
	}()

	out = o.runner.Execute(ctx, runner.Request{
		JobID:      job.ID,
		Attempt:    job.Attempt,
		Payload:    job.Payload.Clone(),
		SessionRef: job.SessionStateRef,
	})

	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
	switch out.(type) {
	case nil:
		if timedOut {
			return runner.Transient{Err: fmt.Errorf("execution exceeded %s", o.execTimeout)}
		}
		return runner.Transient{Err: errors.New("runner returned no outcome")}
	case runner.Fatal:
		if timedOut {
			return runner.Transient{Err: fmt.Errorf("execution exceeded %s", o.execTimeout)}
		}
	}
	return out
}

// settle persists the outcome of a running job first and then performs its
// side effects.
func (o *Orchestrator) settle(ctx context.Context, log *slog.Logger, job *model.Job, out runner.Outcome) dispatch.Disposition {
	switch out := out.(type) {
	case runner.Completed:
		result, err := json.Marshal(out.Result)
		if err != nil {
			return o.fail(ctx, log, job, fmt.Errorf("encode result: %w", err))
		}
		if out.Result == nil {
			result = json.RawMessage(`{}`)
		}
		if _, err := o.jobs.Update(ctx, job.ID, model.Update{
			From:            model.StateRunning,
			To:              model.StateDone,
			Result:          result,
			SessionStateRef: out.SessionRef,
		}); err != nil {
			return o.storeFailure(log, "mark done", err)
		}
		log.Info("job done", slog.Int("attempt", job.Attempt))
		return dispatch.Ack()

	case runner.Interrupted:
		if out.ArtifactRef == "" {
			return o.fail(ctx, log, job, errors.New("interruption reported without an artifact"))
		}
		if _, err := o.jobs.Update(ctx, job.ID, model.Update{
			From:                 model.StateRunning,
			To:                   model.StateAwaiting,
			InterruptArtifactRef: out.ArtifactRef,
			SessionStateRef:      out.SessionRef,
		}); err != nil {
			return o.storeFailure(log, "mark awaiting", err)
		}
		log.Info("job awaiting human input", slog.String("artifact", out.ArtifactRef))

		nctx, cancel := context.WithTimeout(ctx, o.notifyWait)
		defer cancel()
		if err := o.notifier.Notify(nctx, job.ID, out.ArtifactRef); err != nil {
			log.Warn("notification failed", slog.String("error", err.Error()))
		}
		return dispatch.Ack()

	case runner.Transient:
		decision := o.policy.After(job.Attempt)
		if !decision.Retry {
			log.Warn("retries exhausted", slog.Int("attempt", job.Attempt), slog.String("error", out.Error()))
			return o.fail(ctx, log, job, out)
		}
		if _, err := o.jobs.Update(ctx, job.ID, model.Update{
			From:      model.StateRunning,
			To:        model.StateQueued,
			LastError: out.Error(),
		}); err != nil {
			return o.storeFailure(log, "requeue", err)
		}
		at := o.now().Add(decision.Delay)
		log.Info("job retry scheduled",
			slog.Int("attempt", job.Attempt),
			slog.Duration("delay", decision.Delay),
			slog.String("error", out.Error()),
		)
		return dispatch.RetryAt(at)

	case runner.Fatal:
		return o.fail(ctx, log, job, out)

	default:
		return o.fail(ctx, log, job, fmt.Errorf("unknown outcome %T", out))
	}
}

func (o *Orchestrator) fail(ctx context.Context, log *slog.Logger, job *model.Job, cause error) dispatch.Disposition {
	if _, err := o.jobs.Update(ctx, job.ID, model.Update{
		From:      model.StateRunning,
		To:        model.StateFailed,
		Result:    model.ErrorResult(cause.Error(), job.Attempt),
		LastError: cause.Error(),
	}); err != nil {
		return o.storeFailure(log, "mark failed", err)
	}
	log.Error("job failed", slog.Int("attempt", job.Attempt), slog.String("error", cause.Error()))
	return dispatch.Ack()
}

// storeFailure decides what to do with the lease when a transition could not
// be written. A conflict means the record already moved on; anything else
// leaves the lease to expire so the unit is redelivered.
func (o *Orchestrator) storeFailure(log *slog.Logger, op string, err error) dispatch.Disposition {
	if errors.Is(err, model.ErrStateConflict) || errors.Is(err, model.ErrTerminal) {
		log.Warn(op+" skipped", slog.String("error", err.Error()))
		return dispatch.Ack()
	}
	log.Error(op+" failed", slog.String("error", err.Error()))
	return dispatch.Abandon()
}
