// Package controller contains the controller-specific logic for the HTTP API.
package controller

import (
	"context"
	"net/http"
	"time"

	"fastlane/internal/controller/handlers"
	"fastlane/internal/controller/middleware"
	"fastlane/internal/monitor"
	"fastlane/internal/redact"
	"fastlane/internal/runtime"
	"fastlane/internal/scheduler"
	"fastlane/internal/store"
)

// Server is the HTTP server for the controller API.
type Server struct {
	httpServer *http.Server
}

// New creates a new controller server. apiToken gates every /tasks route
// behind a single system-wide bearer token; metricsHandler is mounted
// unauthenticated at /metrics for the scrape target.
func New(addr string, s store.Store, sched *scheduler.Scheduler, mon *monitor.Monitor, rt runtime.Runtime, bl *redact.Blacklist, apiToken string, metricsHandler http.Handler) *Server {
	h := handlers.New(s, sched, mon, rt, bl)
	authMW := middleware.RequireAuth(apiToken)
	rateMW := middleware.NewRateLimiter().Middleware()
	authenticated := func(next http.HandlerFunc) http.Handler {
		return authMW(rateMW(http.HandlerFunc(next)))
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	mux.Handle("GET /tasks", authenticated(h.ListTasks))
	mux.Handle("GET /tasks/{task_id}", authenticated(h.GetTask))
	mux.Handle("POST /tasks/{task_id}/", authenticated(h.CreateJob))
	mux.Handle("GET /tasks/{task_id}/jobs", authenticated(h.ListJobsByTask))
	mux.Handle("PUT /tasks/{task_id}/jobs/{job_id}", authenticated(h.UpdateJob))
	mux.Handle("GET /tasks/{task_id}/jobs/{job_id}", authenticated(h.GetJob))
	mux.Handle("POST /tasks/{task_id}/jobs/{job_id}/stop", authenticated(h.StopJob))
	mux.Handle("POST /tasks/{task_id}/jobs/{job_id}/retry", authenticated(h.RetryJob))
	mux.Handle("GET /tasks/{task_id}/jobs/{job_id}/stdout", authenticated(h.GetStdout))
	mux.Handle("GET /tasks/{task_id}/jobs/{job_id}/stderr", authenticated(h.GetStderr))
	mux.Handle("GET /tasks/{task_id}/jobs/{job_id}/logs", authenticated(h.GetLogs))
	mux.Handle("GET /tasks/{task_id}/jobs/{job_id}/stream", authenticated(h.StreamLogs))

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0, // /stream holds the connection open indefinitely
		},
	}
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
