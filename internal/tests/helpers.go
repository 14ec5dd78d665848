package tests

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"filingctl/internal/model"
	"filingctl/internal/store"

	_ "modernc.org/sqlite"
)

// newStore creates a fresh test database in a temporary file
func newStore(t testingT) *store.Store {
	tmpDir := os.TempDir()
	tmpFile := filepath.Join(tmpDir, fmt.Sprintf("filingctl_test_%d.db", time.Now().UnixNano()))

	st, err := store.NewStore(tmpFile)
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}

	t.Cleanup(func() {
		st.Close()
		os.Remove(tmpFile)
		os.Remove(tmpFile + "-shm")
		os.Remove(tmpFile + "-wal")
	})

	return st
}

// insertTestJob writes a record directly in the given state, bypassing the
// orchestrator.
func insertTestJob(st *store.Store, id string, state model.State, payload model.Payload) error {
	now := time.Now().UTC()
	return st.Create(context.Background(), &model.Job{
		ID:        id,
		CaseID:    "case-" + id,
		State:     state,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// rawJobRow reads the stored row as text so tests can compare it byte for byte.
func rawJobRow(st *store.Store, id string) (string, error) {
	var (
		state, payload, session, artifact, lastErr, created, updated string
		attempt                                                      int
		result                                                       *string
	)
	err := st.DB.QueryRowContext(context.Background(), `
		SELECT state, attempt, payload, session_state_ref, interrupt_artifact_ref,
		       result, last_error, created_at, updated_at
		FROM jobs WHERE id=?
	`, id).Scan(&state, &attempt, &payload, &session, &artifact, &result, &lastErr, &created, &updated)
	if err != nil {
		return "", err
	}
	res := "<nil>"
	if result != nil {
		res = *result
	}
	return fmt.Sprintf("%s|%d|%s|%s|%s|%s|%s|%s|%s",
		state, attempt, payload, session, artifact, res, lastErr, created, updated), nil
}

func decodeResult(j *model.Job) (map[string]any, error) {
	var out map[string]any
	err := json.Unmarshal(j.Result, &out)
	return out, err
}

// manualClock is a settable time source shared by the orchestrator and pool.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// testingT is a minimal interface for testing.T to allow for easier testing
type testingT interface {
	Fatalf(format string, args ...interface{})
	Cleanup(func())
	Errorf(format string, args ...interface{})
	FailNow()
}
