// v1
// internal/httpapi/server.go
package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/tsromanox/FarmTech/internal/controller"
	"github.com/tsromanox/FarmTech/internal/metrics"
)

// StatusSource is the controller view the API reads.
type StatusSource interface {
	Snapshot() controller.Snapshot
}

type Server struct {
	bind string
	lg   *slog.Logger
	src  StatusSource
	m    *metrics.Metrics
	http *http.Server
}

// NewServer wires the routes. accessLog receives one Apache-style line per request.
func NewServer(bind string, lg *slog.Logger, src StatusSource, m *metrics.Metrics, accessLog io.Writer) *Server {
	s := &Server{bind: bind, lg: lg, src: src, m: m}
	r := mux.NewRouter()
	r.Handle("/health", m.WrapHandler("health", http.HandlerFunc(s.getHealth))).Methods(http.MethodGet)
	r.Handle("/status", m.WrapHandler("status", http.HandlerFunc(s.getStatus))).Methods(http.MethodGet)
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:              bind,
		Handler:           handlers.LoggingHandler(accessLog, r),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start blocks serving until Stop. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.lg.Info("http server starting", "bind", s.bind)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.lg.Info("http server stopping")
	return s.http.Shutdown(ctx)
}

func (s *Server) getHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	b, err := json.Marshal(s.src.Snapshot())
	if err != nil {
		s.lg.Error("status encode failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}
