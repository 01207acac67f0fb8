// Package api exposes the pipeline's observability surface: health, metrics
// and the latest run report.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/govnewsbr/pipeline/internal/metrics"
	"github.com/govnewsbr/pipeline/internal/pipeline"
)

// Config holds HTTP server settings.
type Config struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// ReportSource supplies the latest run report, if one exists.
type ReportSource interface {
	LastReport() (pipeline.Report, bool)
}

// Server serves the observability endpoints.
type Server struct {
	reports ReportSource
	logger  *zap.Logger
	srv     *http.Server
}

// NewServer builds the server. Start must be called to begin listening.
func NewServer(cfg Config, reports ReportSource, logger *zap.Logger) *Server {
	s := &Server{reports: reports, logger: logger}
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/report", s.handleReport)
	return r
}

func (s *Server) handleReport(w http.ResponseWriter, _ *http.Request) {
	report, ok := s.reports.LastReport()
	if !ok {
		http.Error(w, "no run has finished yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		s.logger.Error("Failed to encode report response", zap.Error(err))
	}
}

// Start listens in a background goroutine and reports fatal listen errors on
// the returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server started", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
