package tests

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"filingctl/internal/model"
	"filingctl/internal/store"
)

func TestStoreCreateAndGet(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	if err := insertTestJob(st, "job1", model.StateCreated, model.Payload{"applicant_name": "Ana"}); err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}

	job, err := st.Get(ctx, "job1")
	if err != nil {
		t.Fatalf("Failed to get job: %v", err)
	}
	if job.State != model.StateCreated {
		t.Errorf("Expected state 'created', got '%s'", job.State)
	}
	if job.Attempt != 0 {
		t.Errorf("Expected attempt 0, got %d", job.Attempt)
	}
	if job.Payload["applicant_name"] != "Ana" {
		t.Errorf("Expected payload to round-trip, got %v", job.Payload)
	}
	if job.CreatedAt.IsZero() {
		t.Error("Expected CreatedAt to be set")
	}
	if job.Result != nil {
		t.Errorf("Expected no result, got %s", job.Result)
	}
}

func TestStoreGetMissing(t *testing.T) {
	st := newStore(t)

	_, err := st.Get(context.Background(), "nope")
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	var nf *model.NotFoundError
	if !errors.As(err, &nf) || nf.JobID != "nope" {
		t.Errorf("Expected NotFoundError for 'nope', got %v", err)
	}
}

func TestStoreCreateDuplicateRejected(t *testing.T) {
	st := newStore(t)

	if err := insertTestJob(st, "dup", model.StateCreated, model.Payload{"a": 1}); err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	if err := insertTestJob(st, "dup", model.StateCreated, model.Payload{"a": 2}); err == nil {
		t.Fatal("Expected duplicate id to be rejected")
	}
}

func TestStoreUpdateIncrementsAttemptOnRunning(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	if err := insertTestJob(st, "job1", model.StateQueued, model.Payload{"a": 1}); err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}

	job, err := st.Update(ctx, "job1", model.Update{From: model.StateQueued, To: model.StateRunning})
	if err != nil {
		t.Fatalf("Failed to update job: %v", err)
	}
	if job.Attempt != 1 {
		t.Errorf("Expected attempt 1, got %d", job.Attempt)
	}

	stored, err := st.Get(ctx, "job1")
	if err != nil {
		t.Fatalf("Failed to get job: %v", err)
	}
	if stored.State != model.StateRunning || stored.Attempt != 1 {
		t.Errorf("Expected running/1, got %s/%d", stored.State, stored.Attempt)
	}
}

func TestStoreUpdateCompareAndSet(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	if err := insertTestJob(st, "job1", model.StateQueued, model.Payload{"a": 1}); err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	before, err := rawJobRow(st, "job1")
	if err != nil {
		t.Fatalf("Failed to read row: %v", err)
	}

	_, err = st.Update(ctx, "job1", model.Update{From: model.StateAwaiting, To: model.StateQueued})
	if !errors.Is(err, model.ErrStateConflict) {
		t.Fatalf("Expected ErrStateConflict, got %v", err)
	}

	after, err := rawJobRow(st, "job1")
	if err != nil {
		t.Fatalf("Failed to read row: %v", err)
	}
	if before != after {
		t.Errorf("Expected row unchanged\nbefore: %s\nafter:  %s", before, after)
	}
}

func TestStoreInterruptAndResumeRefs(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	if err := insertTestJob(st, "job1", model.StateRunning, model.Payload{"a": 1}); err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}

	job, err := st.Update(ctx, "job1", model.Update{
		From:                 model.StateRunning,
		To:                   model.StateAwaiting,
		InterruptArtifactRef: "jobs/job1/captcha.png",
		SessionStateRef:      "jobs/job1/session.json",
	})
	if err != nil {
		t.Fatalf("Failed to interrupt job: %v", err)
	}
	if job.InterruptArtifactRef != "jobs/job1/captcha.png" {
		t.Errorf("Expected artifact ref, got '%s'", job.InterruptArtifactRef)
	}

	job, err = st.Update(ctx, "job1", model.Update{
		From:    model.StateAwaiting,
		To:      model.StateQueued,
		Payload: model.Payload{"a": 1, "captcha_solution": "x7k"},
	})
	if err != nil {
		t.Fatalf("Failed to resume job: %v", err)
	}

	stored, err := st.Get(ctx, "job1")
	if err != nil {
		t.Fatalf("Failed to get job: %v", err)
	}
	if stored.InterruptArtifactRef != "" {
		t.Errorf("Expected artifact ref cleared, got '%s'", stored.InterruptArtifactRef)
	}
	if stored.SessionStateRef != "jobs/job1/session.json" {
		t.Errorf("Expected session ref kept, got '%s'", stored.SessionStateRef)
	}
	if stored.Payload["captcha_solution"] != "x7k" {
		t.Errorf("Expected merged payload, got %v", stored.Payload)
	}
	if job.State != model.StateQueued {
		t.Errorf("Expected state 'queued', got '%s'", job.State)
	}
}

func TestStoreTerminalIsFinal(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	if err := insertTestJob(st, "job1", model.StateRunning, model.Payload{"a": 1}); err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	if _, err := st.Update(ctx, "job1", model.Update{
		From:   model.StateRunning,
		To:     model.StateDone,
		Result: json.RawMessage(`{"receipt":"R-1"}`),
	}); err != nil {
		t.Fatalf("Failed to complete job: %v", err)
	}

	before, _ := rawJobRow(st, "job1")
	for _, to := range []model.State{model.StateQueued, model.StateRunning, model.StateFailed} {
		_, err := st.Update(ctx, "job1", model.Update{From: model.StateDone, To: to})
		if !errors.Is(err, model.ErrTerminal) {
			t.Errorf("done -> %s: expected ErrTerminal, got %v", to, err)
		}
	}
	after, _ := rawJobRow(st, "job1")
	if before != after {
		t.Errorf("Expected terminal row unchanged\nbefore: %s\nafter:  %s", before, after)
	}
}

func TestStoreListAndCount(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	seed := map[string]model.State{
		"a": model.StateQueued,
		"b": model.StateQueued,
		"c": model.StateAwaiting,
		"d": model.StateDone,
	}
	for id, state := range seed {
		if err := insertTestJob(st, id, state, model.Payload{"id": id}); err != nil {
			t.Fatalf("Failed to create job %s: %v", id, err)
		}
	}

	queued, err := st.List(ctx, model.ListOpts{State: model.StateQueued})
	if err != nil {
		t.Fatalf("Failed to list jobs: %v", err)
	}
	if len(queued) != 2 {
		t.Errorf("Expected 2 queued jobs, got %d", len(queued))
	}

	all, err := st.List(ctx, model.ListOpts{Limit: 3})
	if err != nil {
		t.Fatalf("Failed to list jobs: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected limit of 3, got %d", len(all))
	}

	counts, err := st.CountByState(ctx)
	if err != nil {
		t.Fatalf("Failed to count jobs: %v", err)
	}
	if counts[model.StateQueued] != 2 || counts[model.StateAwaiting] != 1 || counts[model.StateDone] != 1 {
		t.Errorf("Unexpected counts: %v", counts)
	}
	if n, ok := counts[model.StateFailed]; !ok || n != 0 {
		t.Errorf("Expected failed bucket present with 0, got %v", counts)
	}
}

func TestStorePruneTerminal(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	for id, state := range map[string]model.State{"old-done": model.StateDone, "queued": model.StateQueued} {
		if err := insertTestJob(st, id, state, model.Payload{"id": id}); err != nil {
			t.Fatalf("Failed to create job %s: %v", id, err)
		}
	}

	n, err := st.PruneTerminal(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("Failed to prune: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 pruned job, got %d", n)
	}
	if _, err := st.Get(ctx, "old-done"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Expected pruned job to be gone, got %v", err)
	}
	if _, err := st.Get(ctx, "queued"); err != nil {
		t.Errorf("Expected queued job to survive, got %v", err)
	}
}

func TestStoreConfigDefaults(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	if got := st.IntOr(ctx, store.KeyMaxAttempts, 0); got != 5 {
		t.Errorf("Expected seeded max_attempts 5, got %d", got)
	}
	if got := st.DurationOr(ctx, store.KeyBackoffBaseMS, time.Millisecond, 0); got != time.Minute {
		t.Errorf("Expected seeded backoff 1m, got %v", got)
	}

	if err := st.SetConfig(ctx, store.KeyMaxAttempts, "3"); err != nil {
		t.Fatalf("Failed to set config: %v", err)
	}
	if got := st.IntOr(ctx, store.KeyMaxAttempts, 0); got != 3 {
		t.Errorf("Expected max_attempts 3, got %d", got)
	}

	if err := st.SetConfig(ctx, store.KeyMaxAttempts, "lots"); err != nil {
		t.Fatalf("Failed to set config: %v", err)
	}
	if got := st.IntOr(ctx, store.KeyMaxAttempts, 7); got != 7 {
		t.Errorf("Expected fallback 7 for junk value, got %d", got)
	}

	all, err := st.AllConfig(ctx)
	if err != nil {
		t.Fatalf("Failed to read config: %v", err)
	}
	if _, ok := all[store.KeyExecTimeout]; !ok {
		t.Errorf("Expected %s in config, got %v", store.KeyExecTimeout, all)
	}
}
