// Package notify tells an operator that a job is waiting for a human to solve
// a verification challenge. Delivery is best effort: callers log a failed
// Notify and move on.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

type Sink interface {
	Notify(ctx context.Context, jobID, artifactRef string) error
}

// Webhook posts a JSON message to an operator endpoint, e.g. a chat
// incoming-webhook URL.
type Webhook struct {
	URL    string
	Client *http.Client
	// ArtifactURL turns a ref into something a human can open. When nil the
	// raw ref is sent.
	ArtifactURL func(jobID, ref string) string
}

type webhookMessage struct {
	Text       string `json:"text"`
	JobID      string `json:"job_id"`
	Screenshot string `json:"screenshot"`
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *Webhook) Notify(ctx context.Context, jobID, artifactRef string) error {
	shot := artifactRef
	if w.ArtifactURL != nil {
		shot = w.ArtifactURL(jobID, artifactRef)
	}

	body, err := json.Marshal(webhookMessage{
		Text:       fmt.Sprintf("Job %s awaiting CAPTCHA. Screenshot: %s", jobID, shot),
		JobID:      jobID,
		Screenshot: shot,
	})
	if err != nil {
		return fmt.Errorf("encode webhook message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// Log writes the notification to a logger. It is the default sink when no
// webhook is configured.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(_ context.Context, jobID, artifactRef string) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("job awaiting human input",
		slog.String("job_id", jobID),
		slog.String("artifact", artifactRef),
	)
	return nil
}

// Multi fans out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, jobID, artifactRef string) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, jobID, artifactRef); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, string, string) error { return nil }
