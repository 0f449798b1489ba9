// Package server exposes upload, search and manifest endpoints over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/panjf2000/ants/v2"

	"github.com/brensch/siardsearch/internal/config"
	"github.com/brensch/siardsearch/internal/orchestrator"
	"github.com/brensch/siardsearch/internal/search"
)

const (
	maxUploadMemory = 32 << 20
	shutdownTimeout = 10 * time.Second
)

// Server serves the HTTP API. Uploaded archives are ingested in the background on a
// bounded pool; their progress is tracked as jobs.
type Server struct {
	cfg      config.Config
	pipeline *orchestrator.Pipeline
	engine   *search.Engine
	logger   *slog.Logger

	uploads *ants.Pool
	running sync.WaitGroup
	jobs    *jobStore
	baseCtx context.Context
	cancel  context.CancelFunc

	router *chi.Mux
}

// New creates a Server. Close must be called to stop background ingestion.
func New(cfg config.Config, pipeline *orchestrator.Pipeline, engine *search.Engine, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := ants.NewPool(cfg.UploadWorkers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) {
			logger.Error("Ingestion job panicked.", "panic", p)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create upload pool: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		pipeline: pipeline,
		engine:   engine,
		logger:   logger,
		uploads:  pool,
		jobs:     newJobStore(),
		baseCtx:  ctx,
		cancel:   cancel,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Post("/upload", s.handleUpload)
	r.Get("/jobs/{id}", s.handleJob)
	r.Post("/search", s.handleSearch)
	r.Post("/detailed_search", s.handleDetailedSearch)
	r.Get("/manifest", s.handleManifest)
	s.router = r
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Wait blocks until every accepted upload has been ingested.
func (s *Server) Wait() { s.running.Wait() }

// Close cancels running ingestion jobs, waits for them and releases the pool.
func (s *Server) Close() {
	s.cancel()
	s.running.Wait()
	s.uploads.Release()
}

// ListenAndServe serves on the configured address until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening.", slog.String("addr", s.cfg.ListenAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server.")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
