package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Update is a single lifecycle transition of one job. It names the expected
// current state, the target state and only the fields that transition may
// write. Stores apply it as a compare-and-set on From.
type Update struct {
	From State
	To   State

	Payload              Payload
	SessionStateRef      string
	InterruptArtifactRef string
	Result               json.RawMessage
	LastError            string
}

type fieldSet uint8

const (
	fPayload fieldSet = 1 << iota
	fSession
	fArtifact
	fResult
	fLastError
)

// allowed and required fields per edge.
var contracts = map[[2]State]struct{ allowed, required fieldSet }{
	{StateCreated, StateQueued}:   {},
	{StateQueued, StateRunning}:   {},
	{StateRunning, StateDone}:     {allowed: fResult | fSession, required: fResult},
	{StateRunning, StateFailed}:   {allowed: fResult | fLastError, required: fResult},
	{StateRunning, StateAwaiting}: {allowed: fSession | fArtifact, required: fArtifact},
	{StateRunning, StateQueued}:   {allowed: fLastError},
	{StateAwaiting, StateQueued}:  {allowed: fPayload},
}

func (u Update) fields() fieldSet {
	var f fieldSet
	if u.Payload != nil {
		f |= fPayload
	}
	if u.SessionStateRef != "" {
		f |= fSession
	}
	if u.InterruptArtifactRef != "" {
		f |= fArtifact
	}
	if u.Result != nil {
		f |= fResult
	}
	if u.LastError != "" {
		f |= fLastError
	}
	return f
}

// Validate checks the edge against the lifecycle and the field contract of
// that edge without looking at any stored record.
func (u Update) Validate() error {
	if err := ValidateTransition(u.From, u.To); err != nil {
		return err
	}
	c := contracts[[2]State{u.From, u.To}]
	got := u.fields()
	if extra := got &^ c.allowed; extra != 0 {
		return fmt.Errorf("%w: %s -> %s writes %s", ErrFieldNotAllowed, u.From, u.To, extra)
	}
	if missing := c.required &^ got; missing != 0 {
		return fmt.Errorf("%w: %s -> %s requires %s", ErrFieldNotAllowed, u.From, u.To, missing)
	}
	return nil
}

// Apply returns the record that results from applying u to j. j is not
// modified. A terminal job never changes and a job whose state differs from
// u.From yields ErrStateConflict.
func (u Update) Apply(j *Job, now time.Time) (*Job, error) {
	if j.State.Terminal() {
		return nil, fmt.Errorf("%w: job %s is %s", ErrTerminal, j.ID, j.State)
	}
	if j.State != u.From {
		return nil, fmt.Errorf("%w: job %s is %s, expected %s", ErrStateConflict, j.ID, j.State, u.From)
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}

	next := j.Clone()
	next.State = u.To
	next.UpdatedAt = now

	if u.To == StateRunning {
		next.Attempt++
	}
	if u.Payload != nil {
		next.Payload = u.Payload.Clone()
	}
	// Session continuity is only ever overwritten, never cleared.
	if u.SessionStateRef != "" {
		next.SessionStateRef = u.SessionStateRef
	}
	if u.To == StateAwaiting {
		next.InterruptArtifactRef = u.InterruptArtifactRef
	} else {
		next.InterruptArtifactRef = ""
	}
	if u.Result != nil {
		next.Result = append(json.RawMessage(nil), u.Result...)
	}
	if u.LastError != "" {
		next.LastError = u.LastError
	}
	return next, nil
}

func (f fieldSet) String() string {
	names := []string{"payload", "session_state_ref", "interrupt_artifact_ref", "result", "last_error"}
	out := ""
	for i, n := range names {
		if f&(1<<i) == 0 {
			continue
		}
		if out != "" {
			out += ","
		}
		out += n
	}
	return out
}
