package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"filingctl/internal/artifact"
)

// Environment passed to the workflow command.
const (
	EnvJobID     = "FILINGCTL_JOB_ID"
	EnvAttempt   = "FILINGCTL_ATTEMPT"
	EnvSessionIn = "FILINGCTL_SESSION_IN"
	EnvWorkDir   = "FILINGCTL_WORK_DIR"
)

// Report statuses a workflow command may print.
const (
	StatusCompleted   = "completed"
	StatusInterrupted = "interrupted"
	StatusFatal       = "fatal"
)

// report is the last JSON line a workflow command writes to stdout.
type report struct {
	Status   string          `json:"status"`
	Result   json.RawMessage `json:"result,omitempty"`
	Artifact string          `json:"artifact,omitempty"`
	Session  string          `json:"session,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Exec runs the workflow as an external command through a shell. The payload
// is written to stdin as JSON. A restored session snapshot is placed in the
// work dir and its path exported as FILINGCTL_SESSION_IN. Files named in the
// report are copied into the artifact store under the job's prefix.
//
// A non-zero exit or a timeout is transient. Exit 0 with a missing or
// unreadable report is fatal, since running the same script again will not
// make it speak the protocol.
type Exec struct {
	Command   string
	Shell     []string
	WorkRoot  string
	Artifacts artifact.Store
	Logger    *slog.Logger
}

func NewExec(command, workRoot string, artifacts artifact.Store, logger *slog.Logger) *Exec {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exec{
		Command:   command,
		Shell:     []string{"bash", "-lc"},
		WorkRoot:  workRoot,
		Artifacts: artifacts,
		Logger:    logger,
	}
}

func (e *Exec) Execute(ctx context.Context, req Request) Outcome {
	workDir := filepath.Join(e.WorkRoot, req.JobID, "attempt-"+strconv.Itoa(req.Attempt))
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return Transient{Err: fmt.Errorf("create work dir: %w", err)}
	}

	env := append(os.Environ(),
		EnvJobID+"="+req.JobID,
		EnvAttempt+"="+strconv.Itoa(req.Attempt),
		EnvWorkDir+"="+workDir,
	)

	if req.SessionRef != "" {
		snap, err := e.Artifacts.Get(ctx, req.SessionRef)
		if err != nil {
			return Transient{Err: fmt.Errorf("restore session %s: %w", req.SessionRef, err)}
		}
		in := filepath.Join(workDir, "session.in")
		if err := os.WriteFile(in, snap, 0o600); err != nil {
			return Transient{Err: fmt.Errorf("write session snapshot: %w", err)}
		}
		env = append(env, EnvSessionIn+"="+in)
	}

	stdin, err := json.Marshal(req.Payload)
	if err != nil {
		return Fatal{Err: fmt.Errorf("encode payload: %w", err)}
	}

	args := append(append([]string{}, e.Shell[1:]...), e.Command)
	cmd := exec.CommandContext(ctx, e.Shell[0], args...)
	cmd.Dir = workDir
	cmd.Env = env
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.Logger.Info("workflow started",
		slog.String("job_id", req.JobID),
		slog.Int("attempt", req.Attempt),
		slog.String("work_dir", workDir),
	)

	err = cmd.Run()
	if ctx.Err() != nil {
		return Transient{Err: fmt.Errorf("workflow aborted: %w", ctx.Err())}
	}
	if err != nil {
		return Transient{Err: fmt.Errorf("workflow exited: %w%s", err, tail(stderr.String()))}
	}

	rep, err := parseReport(stdout.Bytes())
	if err != nil {
		return Fatal{Err: err}
	}

	switch rep.Status {
	case StatusCompleted:
		out := Completed{Result: json.RawMessage(`{}`)}
		if len(rep.Result) > 0 {
			out.Result = rep.Result
		}
		if rep.Session != "" {
			ref, err := e.keep(ctx, req, workDir, rep.Session)
			if err != nil {
				return Transient{Err: err}
			}
			out.SessionRef = ref
		}
		return out

	case StatusInterrupted:
		if rep.Artifact == "" {
			return Fatal{Err: errors.New("interrupted report without artifact")}
		}
		artRef, err := e.keep(ctx, req, workDir, rep.Artifact)
		if err != nil {
			return Transient{Err: err}
		}
		out := Interrupted{ArtifactRef: artRef}
		if rep.Session != "" {
			if out.SessionRef, err = e.keep(ctx, req, workDir, rep.Session); err != nil {
				return Transient{Err: err}
			}
		}
		return out

	case StatusFatal:
		msg := rep.Error
		if msg == "" {
			msg = "workflow reported fatal error"
		}
		return Fatal{Err: errors.New(msg)}

	default:
		return Fatal{Err: fmt.Errorf("unknown workflow status %q", rep.Status)}
	}
}

// keep copies a file produced by the workflow into the artifact store and
// returns its ref. Relative paths are resolved against the work dir.
func (e *Exec) keep(ctx context.Context, req Request, workDir, p string) (string, error) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(workDir, p)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return "", fmt.Errorf("read workflow output %s: %w", p, err)
	}
	ref := artifact.Key(req.JobID, fmt.Sprintf("a%d-%s", req.Attempt, filepath.Base(p)))
	if err := e.Artifacts.Put(ctx, ref, b); err != nil {
		return "", fmt.Errorf("store %s: %w", ref, err)
	}
	return ref, nil
}

// parseReport reads the last non-empty stdout line, so workflows may log
// freely before reporting.
func parseReport(stdout []byte) (report, error) {
	lines := strings.Split(strings.TrimSpace(string(stdout)), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return report{}, errors.New("workflow printed no report")
	}
	var rep report
	if err := json.Unmarshal([]byte(last), &rep); err != nil {
		return report{}, fmt.Errorf("decode workflow report: %w", err)
	}
	return rep, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	const limit = 512
	if len(s) > limit {
		s = "..." + s[len(s)-limit:]
	}
	return ": " + s
}
