// Package adminapi implements the operator-facing HTTP surface: process
// liveness/readiness, Prometheus metrics exposition, source
// listing/triggering, and queue/DLQ inspection. Grounded on the
// teacher's internal/api/server.go router and middleware chain shape
// (request id, structured logging, panic recovery, timeout, optional
// bearer auth), generalized from job-submission endpoints to the
// read-mostly operator surface a background pipeline needs instead.
package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ingestlane/pipeline/internal/id/uuid"
	"go.uber.org/zap"

	"github.com/ingestlane/pipeline/internal/jobqueue"
	"github.com/ingestlane/pipeline/internal/metrics"
	"github.com/ingestlane/pipeline/internal/pipeline"
)

// SourceRegistry is the collaborator backing the /v1/sources endpoints.
type SourceRegistry interface {
	List() []pipeline.SourceDescriptor
	TriggerNow(sourceID string) (string, error)
}

// HealthProber is implemented by each external collaborator client whose
// reachability gates readiness.
type HealthProber interface {
	HealthProbe(ctx context.Context) error
}

// Config configures the admin API server.
type Config struct {
	RequestTimeout time.Duration
	BearerToken    string
}

// Server is the chi-routed admin HTTP surface.
type Server struct {
	router  chi.Router
	queue   *jobqueue.Store
	sources SourceRegistry
	probes  []HealthProber
	logger  *zap.Logger
}

// New constructs a Server with middleware and routes wired.
func New(cfg Config, queue *jobqueue.Store, sources SourceRegistry, probes []HealthProber, logger *zap.Logger) *Server {
	s := &Server{queue: queue, sources: sources, probes: probes, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	r.Use(timeoutMiddleware(timeout))
	if cfg.BearerToken != "" {
		r.Use(bearerAuthMiddleware(cfg.BearerToken))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/metrics", s.metrics)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/sources", s.listSources)
		r.Post("/sources/{id}/trigger", s.triggerSource)
		r.Get("/queues/{queue}/counts", s.queueCounts)
		r.Get("/dlq/{queue}", s.listDeadLetters)
		r.Post("/dlq/{queue}/{job_id}/redrive", s.redrive)
	})

	s.router = r
	return s
}

// Handler returns the Server's router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	for _, probe := range s.probes {
		if err := probe.HealthProbe(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "reason": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	metrics.Handler().ServeHTTP(w, r)
}

func (s *Server) listSources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sources.List())
}

func (s *Server) triggerSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	jobID, err := s.sources.TriggerNow(id)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) queueCounts(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")
	counts := s.queue.Counts(r.Context(), queue)
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")
	writeJSON(w, http.StatusOK, s.queue.DeadLetters(queue))
}

func (s *Server) redrive(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")
	jobID := chi.URLParam(r, "job_id")

	payload, ok := s.queue.JobPayload(queue, jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown job id")
		return
	}

	index := -1
	for i, dl := range s.queue.DeadLetters(queue) {
		if dl.OriginalJobID == jobID {
			index = i
			break
		}
	}
	if index < 0 {
		writeError(w, http.StatusNotFound, "job is not dead-lettered")
		return
	}

	newJobID, err := s.queue.Redrive(r.Context(), queue, index, payload, jobqueue.EnqueueOptions{Priority: 10, AttemptsMax: 3})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": newJobID})
}

var idGen = uuid.NewUUIDGenerator()

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID, err := idGen.NewID()
		if err != nil {
			reqID = time.Now().UTC().Format("20060102T150405.000000000Z")
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = r.URL.Path
			}
			metrics.ObserveHTTPRequest(r.Method, route, ww.status, time.Since(start))
			logger.Info("admin api request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered in admin api", zap.Any("recovered", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func bearerAuthMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+expected {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
