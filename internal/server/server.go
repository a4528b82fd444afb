// Package server exposes pipeline runs and their approval gates over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/imamik/shipgate/internal/config"
	"github.com/imamik/shipgate/internal/pipeline"
)

// RecordReader serves snapshots of runs that finished before this process
// started. *artifact.Store implements it.
type RecordReader interface {
	GetRecord(ctx context.Context, runID string) (pipeline.Snapshot, error)
	Records(ctx context.Context) ([]pipeline.Snapshot, error)
}

// Server is the approval API for one pipeline.
type Server struct {
	manager *pipeline.Manager
	outputs []config.Output
	records RecordReader
	log     logr.Logger

	// runCtx parents every run the API starts, so runs outlive requests.
	runCtx context.Context
	router chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and error logger.
func WithLogger(log logr.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithOutputs sets the stack outputs served on /outputs.
func WithOutputs(outputs []config.Output) Option {
	return func(s *Server) { s.outputs = outputs }
}

// WithRecords serves finished runs from a record store.
func WithRecords(r RecordReader) Option {
	return func(s *Server) { s.records = r }
}

// WithRunContext sets the context runs started through the API execute in.
func WithRunContext(ctx context.Context) Option {
	return func(s *Server) { s.runCtx = ctx }
}

// New creates a server for manager.
func New(manager *pipeline.Manager, opts ...Option) *Server {
	s := &Server{
		manager: manager,
		log:     logr.Discard(),
		runCtx:  context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/healthz", http.StripPrefix("/healthz",
		&healthz.Handler{Checks: map[string]healthz.Checker{"ping": healthz.Ping}}))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	r.Get("/outputs", s.handleOutputs)

	r.Route("/runs", func(r chi.Router) {
		r.Post("/", s.handleStartRun)
		r.Get("/", s.handleListRuns)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetRun)
			r.Post("/abort", s.handleAbort)
			r.Get("/gates", s.handlePendingGates)
			r.Post("/gates/{gate}/{decision}", s.handleDecision)
		})
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down and
// aborts the runs that are still active.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", addr, "pipeline", s.manager.Pipeline())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	s.manager.AbortAll("server shutting down")
	s.manager.Wait()
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.V(1).Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).Round(time.Millisecond).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
