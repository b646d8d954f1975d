package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lorehub/internal/config"
	"lorehub/internal/logging"
)

// HealthChecker reports whether a dependency is ready to serve.
type HealthChecker func(ctx context.Context) error

// OpsServer serves /healthz, /readyz, and /metrics.
type OpsServer struct {
	server   *http.Server
	checkers map[string]HealthChecker
	logger   logging.Logger
}

// NewOpsServer builds the operational endpoint. checkers gate /readyz;
// /healthz only reports process liveness.
func NewOpsServer(cfg config.OpsConfig, metrics *Metrics, checkers map[string]HealthChecker) *OpsServer {
	s := &OpsServer{
		checkers: checkers,
		logger:   logging.WithComponent("ops"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until Shutdown. It blocks, returning nil on clean close.
func (s *OpsServer) Start() error {
	s.logger.Info("ops server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *OpsServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *OpsServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *OpsServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *OpsServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(s.checkers))
	for name, check := range s.checkers {
		if err := check(r.Context()); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	body := map[string]any{"checks": checks}
	if status == http.StatusOK {
		body["status"] = "ready"
	} else {
		body["status"] = "not ready"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
