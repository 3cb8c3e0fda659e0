// Package server exposes a read-only status endpoint for a running batch.
//
// The endpoint exists for operators watching long batches; it serves the
// live ledger summary and never mutates batch state.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/gridbatch/gridbatch/pkg/ledger"
)

// StatusFunc reports the current batch-level state.
type StatusFunc func() string

// StatusServer serves batch status over HTTP while a run is in flight.
type StatusServer struct {
	srv    *http.Server
	logger *zap.Logger
}

type batchResponse struct {
	BatchID string          `json:"batch_id"`
	Status  string          `json:"status"`
	Summary ledger.Summary  `json:"summary"`
	Results []ledger.Result `json:"results"`
}

// New creates a status server bound to addr.
func New(addr string, lg *ledger.Ledger, status StatusFunc, logger *zap.Logger) *StatusServer {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	r.Get("/v1/batch", func(w http.ResponseWriter, _ *http.Request) {
		resp := batchResponse{
			BatchID: lg.BatchID(),
			Status:  status(),
			Summary: lg.Summary(),
			Results: lg.Results(),
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Warn("write status response", zap.Error(err))
		}
	})

	return &StatusServer{
		srv: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the server's HTTP handler. Intended for tests.
func (s *StatusServer) Handler() http.Handler {
	return s.srv.Handler
}

// Start serves in a background goroutine until Shutdown.
func (s *StatusServer) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("status server stopped", zap.Error(err))
		}
	}()
	s.logger.Info("status server listening", zap.String("addr", s.srv.Addr))
}

// Shutdown stops the server, waiting briefly for in-flight requests.
func (s *StatusServer) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
}
