package runner

import (
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"filingctl/internal/artifact"
	"filingctl/internal/model"
)

func newTestExec(t *testing.T, script string) (*Exec, *artifact.FS) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	arts, err := artifact.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	e := NewExec(script, t.TempDir(), arts, nil)
	e.Shell = []string{"sh", "-c"}
	return e, arts
}

func TestExecCompleted(t *testing.T) {
	e, _ := newTestExec(t, `
cat > payload.json
echo "filling form for $FILINGCTL_JOB_ID attempt $FILINGCTL_ATTEMPT"
printf '{"status":"completed","result":{"filing_id":"F-%s"}}\n' "$FILINGCTL_ATTEMPT"
`)

	out := e.Execute(context.Background(), Request{JobID: "j1", Attempt: 2, Payload: model.Payload{"mark": "ACME"}})
	c, ok := out.(Completed)
	if !ok {
		t.Fatalf("outcome = %#v, want Completed", out)
	}
	raw, _ := json.Marshal(c.Result)
	if string(raw) != `{"filing_id":"F-2"}` {
		t.Fatalf("result = %s", raw)
	}
}

func TestExecInterruptedStoresArtifacts(t *testing.T) {
	e, arts := newTestExec(t, `
printf 'png-bytes' > captcha.png
printf 'cookies' > state.json
echo '{"status":"interrupted","artifact":"captcha.png","session":"state.json"}'
`)

	out := e.Execute(context.Background(), Request{JobID: "j1", Attempt: 1, Payload: model.Payload{}})
	in, ok := out.(Interrupted)
	if !ok {
		t.Fatalf("outcome = %#v, want Interrupted", out)
	}
	if !strings.HasPrefix(in.ArtifactRef, "jobs/j1/") || !strings.HasPrefix(in.SessionRef, "jobs/j1/") {
		t.Fatalf("refs not under job prefix: %+v", in)
	}

	shot, err := arts.Get(context.Background(), in.ArtifactRef)
	if err != nil || string(shot) != "png-bytes" {
		t.Fatalf("artifact = %q, %v", shot, err)
	}
	sess, err := arts.Get(context.Background(), in.SessionRef)
	if err != nil || string(sess) != "cookies" {
		t.Fatalf("session = %q, %v", sess, err)
	}
}

func TestExecRestoresSession(t *testing.T) {
	e, arts := newTestExec(t, `
test -f "$FILINGCTL_SESSION_IN" || exit 3
printf '{"status":"completed","result":{"session":"%s"}}\n' "$(cat "$FILINGCTL_SESSION_IN")"
`)
	ctx := context.Background()
	ref := artifact.Key("j1", "a1-state.json")
	if err := arts.Put(ctx, ref, []byte("resumed")); err != nil {
		t.Fatal(err)
	}

	out := e.Execute(ctx, Request{JobID: "j1", Attempt: 2, Payload: model.Payload{}, SessionRef: ref})
	c, ok := out.(Completed)
	if !ok {
		t.Fatalf("outcome = %#v, want Completed", out)
	}
	raw, _ := json.Marshal(c.Result)
	if string(raw) != `{"session":"resumed"}` {
		t.Fatalf("result = %s", raw)
	}
}

func TestExecClassification(t *testing.T) {
	cases := []struct {
		name   string
		script string
		want   string
	}{
		{"non-zero exit", `echo boom >&2; exit 2`, "transient"},
		{"no report", `true`, "fatal"},
		{"garbage report", `echo not-json`, "fatal"},
		{"fatal status", `echo '{"status":"fatal","error":"form rejected"}'`, "fatal"},
		{"unknown status", `echo '{"status":"maybe"}'`, "fatal"},
		{"interrupt without artifact", `echo '{"status":"interrupted"}'`, "fatal"},
		{"missing artifact file", `echo '{"status":"interrupted","artifact":"gone.png"}'`, "transient"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, _ := newTestExec(t, tc.script)
			out := e.Execute(context.Background(), Request{JobID: "j", Attempt: 1, Payload: model.Payload{}})

			var got string
			switch out.(type) {
			case Transient:
				got = "transient"
			case Fatal:
				got = "fatal"
			default:
				got = "other"
			}
			if got != tc.want {
				t.Fatalf("outcome = %#v, want %s", out, tc.want)
			}
		})
	}
}

func TestExecTimeoutIsTransient(t *testing.T) {
	e, _ := newTestExec(t, `sleep 5`)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	out := e.Execute(ctx, Request{JobID: "j", Attempt: 1, Payload: model.Payload{}})
	tr, ok := out.(Transient)
	if !ok {
		t.Fatalf("outcome = %#v, want Transient", out)
	}
	if !errors.Is(tr, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", tr.Err)
	}
}
