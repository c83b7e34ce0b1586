// v2
// internal/httpapi/server.go
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the administrative HTTP surface: health, status, model control
// and summary readback. The engine itself is driven by its scheduler, not by
// inbound requests.
type Server struct {
	http *http.Server
	lg   *slog.Logger
}

func newRouter(h *Handlers) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/v1/status", h.Status).Methods(http.MethodGet)
	r.HandleFunc("/v1/model/info", h.ModelInfo).Methods(http.MethodGet)
	r.HandleFunc("/v1/model/reload", h.ModelReload).Methods(http.MethodPost)
	r.HandleFunc("/v1/config/reload", h.ConfigReload).Methods(http.MethodPost)
	r.HandleFunc("/v1/debug/score", h.DebugScore).Methods(http.MethodPost)
	r.HandleFunc("/v1/sessions/{id}/summary", h.SessionSummary).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

func NewServer(addr string, lg *slog.Logger, h *Handlers) *Server {
	hs := &http.Server{
		Addr:              addr,
		Handler:           handlers.CombinedLoggingHandler(os.Stdout, newRouter(h)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return &Server{http: hs, lg: lg}
}

func (s *Server) Start() error {
	s.lg.Info("http server starting", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.lg.Info("http server stopping")
	return s.http.Shutdown(ctx)
}
