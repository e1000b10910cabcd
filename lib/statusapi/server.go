// Package statusapi serves the progress and partial results of a run over
// HTTP while it is in progress.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/onkernel/pageperf/lib/collector"
	"github.com/onkernel/pageperf/lib/logger"
)

// ResultSource yields partial results.
type ResultSource interface {
	Snapshot() []collector.Overview
}

// NewRouter returns the status routes. slogger is put in every request
// context.
func NewRouter(slogger *slog.Logger, progress *Progress, results ResultSource) http.Handler {
	r := chi.NewRouter()
	r.Use(
		chiMiddleware.RequestID,
		chiMiddleware.Recoverer,
		logger.Middleware(slogger),
	)
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, progress.Snapshot())
	})
	r.Get("/results", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, results.Snapshot())
	})
	return r
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		logger.FromContext(r.Context()).Error("failed to encode response", "path", r.URL.Path, "err", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// Server runs the status routes on a port.
type Server struct {
	logger *slog.Logger
	srv    *http.Server
	ln     net.Listener
}

// Listen binds addr. Port 0 picks a free port; Addr reports it.
func Listen(addr string, handler http.Handler, logger *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &Server{
		logger: logger,
		srv:    &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second},
		ln:     ln,
	}, nil
}

func (s *Server) Addr() string { return s.ln.Addr().String() }

// Serve blocks until Shutdown.
func (s *Server) Serve() error {
	s.logger.Info("status server starting", "addr", s.Addr())
	if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
