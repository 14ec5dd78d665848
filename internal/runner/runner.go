// Package runner defines the boundary to the workflow that drives the
// external portal. The orchestrator treats a Runner as opaque: it hands over
// a payload and an optional session snapshot and gets back exactly one
// Outcome.
package runner

import (
	"context"

	"filingctl/internal/model"
)

// Request is one execution of a job.
type Request struct {
	JobID   string
	Attempt int
	Payload model.Payload
	// SessionRef is the last continuity snapshot, empty on a first run.
	SessionRef string
}

type Runner interface {
	Execute(ctx context.Context, req Request) Outcome
}

// Func adapts a plain function to Runner.
type Func func(ctx context.Context, req Request) Outcome

func (f Func) Execute(ctx context.Context, req Request) Outcome { return f(ctx, req) }

// Outcome is one of Completed, Interrupted, Transient or Fatal.
type Outcome interface {
	outcome()
}

// Completed means the filing went through. Result is JSON encodable.
type Completed struct {
	Result     any
	SessionRef string
}

// Interrupted means the portal asked for human verification. Both refs point
// at blobs the runner has already written to the artifact store.
type Interrupted struct {
	ArtifactRef string
	SessionRef  string
}

// Transient is a failure worth retrying: timeouts, network trouble, crashes.
type Transient struct {
	Err error
}

// Fatal is a failure retrying cannot fix, such as a rejected form.
type Fatal struct {
	Err error
}

func (Completed) outcome()   {}
func (Interrupted) outcome() {}
func (Transient) outcome()   {}
func (Fatal) outcome()       {}

func (t Transient) Error() string { return errString("transient execution error", t.Err) }
func (t Transient) Unwrap() error { return t.Err }

func (f Fatal) Error() string { return errString("fatal execution error", f.Err) }
func (f Fatal) Unwrap() error { return f.Err }

func errString(kind string, err error) string {
	if err == nil {
		return kind
	}
	return kind + ": " + err.Error()
}
