package model

import (
	"encoding/json"
	"time"
)

// Payload is the form data a job files on the portal. Human input supplied on
// resume is merged into it.
type Payload map[string]any

// Clone returns a shallow copy so callers can merge without aliasing the
// stored record.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge returns a copy of p with every key of in written over it.
func (p Payload) Merge(in Payload) Payload {
	out := p.Clone()
	for k, v := range in {
		out[k] = v
	}
	return out
}

type Job struct {
	ID                   string
	CaseID               string
	State                State
	Attempt              int
	Payload              Payload
	SessionStateRef      string
	InterruptArtifactRef string
	Result               json.RawMessage
	LastError            string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Clone deep-copies the fields a caller could mutate through shared memory.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Payload != nil {
		c.Payload = j.Payload.Clone()
	}
	if j.Result != nil {
		c.Result = append(json.RawMessage(nil), j.Result...)
	}
	return &c
}

// JobView is the read-only snapshot returned by GetStatus.
type JobView struct {
	ID                   string          `json:"job_id"`
	CaseID               string          `json:"case_id"`
	State                State           `json:"state"`
	Attempt              int             `json:"attempt"`
	InterruptArtifactRef string          `json:"interrupt_artifact_ref,omitempty"`
	Result               json.RawMessage `json:"result,omitempty"`
	LastError            string          `json:"last_error,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

func (j *Job) View() JobView {
	v := JobView{
		ID:                   j.ID,
		CaseID:               j.CaseID,
		State:                j.State,
		Attempt:              j.Attempt,
		InterruptArtifactRef: j.InterruptArtifactRef,
		LastError:            j.LastError,
		CreatedAt:            j.CreatedAt,
		UpdatedAt:            j.UpdatedAt,
	}
	if j.State.Terminal() {
		v.Result = j.Result
	}
	return v
}

// ErrorResult is the terminal payload recorded for failed jobs.
func ErrorResult(msg string, attempt int) json.RawMessage {
	b, _ := json.Marshal(map[string]any{"error": msg, "attempt": attempt})
	return b
}
