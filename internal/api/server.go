// Package api is the HTTP gateway. It is a thin pass-through: every handler
// decodes the request, calls the orchestrator and maps the result.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"filingctl/internal/artifact"
	"filingctl/internal/model"
)

const maxBody = 1 << 20

// Service is the slice of the orchestrator the gateway needs.
type Service interface {
	Submit(ctx context.Context, caseID string, payload model.Payload) (string, error)
	Resume(ctx context.Context, jobID string, input model.Payload) error
	GetStatus(ctx context.Context, jobID string) (model.JobView, error)
	Job(ctx context.Context, jobID string) (*model.Job, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	svc       Service
	artifacts artifact.Store
	health    []Pinger
	logger    *slog.Logger
}

func NewServer(svc Service, artifacts artifact.Store, logger *slog.Logger, health ...Pinger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{svc: svc, artifacts: artifacts, health: health, logger: logger}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/cases", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleStatus)
			r.Post("/resume", s.handleResume)
			r.Get("/artifact", s.handleArtifact)
		})
	})
	return r
}

type acceptedResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// POST /cases: the body is the form payload plus a case_id field.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := decodeObject(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	caseID, _ := body["case_id"].(string)
	delete(body, "case_id")

	id, err := s.svc.Submit(r.Context(), caseID, body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{JobID: id, Status: string(model.StateQueued)})
}

// POST /cases/{id}/resume: the body is the human input, e.g.
// {"captcha_solution": "x7k2"}.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	input, err := decodeObject(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.svc.Resume(r.Context(), id, input); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{JobID: id, Status: string(model.StateQueued)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GET /cases/{id}/artifact serves the challenge screenshot while the job
// waits for a human.
func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.Job(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if job.InterruptArtifactRef == "" {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "job has no pending challenge"})
		return
	}

	b, err := s.artifacts.Get(r.Context(), job.InterruptArtifactRef)
	if errors.Is(err, artifact.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "artifact missing"})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(b))
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(b)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, p := range s.health {
		if err := p.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error string `json:"error"`
}

var errBadBody = errors.New("request body must be a JSON object")

func decodeObject(r *http.Request) (model.Payload, error) {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		return nil, &model.ValidationError{Reason: "cannot read body"}
	}
	if len(b) > maxBody {
		return nil, &model.ValidationError{Reason: "body too large"}
	}
	if len(b) == 0 {
		return model.Payload{}, nil
	}
	var p model.Payload
	if err := json.Unmarshal(b, &p); err != nil || p == nil {
		return nil, &model.ValidationError{Reason: errBadBody.Error()}
	}
	return p, nil
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrInvalidState):
		status = http.StatusConflict
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", msg),
		)
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// ArtifactURL links a job's challenge through this gateway, for use in
// notifications.
func ArtifactURL(base string) func(jobID, ref string) string {
	return func(jobID, _ string) string {
		return fmt.Sprintf("%s/cases/%s/artifact", base, jobID)
	}
}
