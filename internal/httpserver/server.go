package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wisbric/aegis/internal/version"
)

// ServerConfig configures the shared HTTP scaffolding. Each mode
// (provisioner, gateway, reaper) builds its own Server and mounts its own
// domain routes on Router.
type ServerConfig struct {
	CORSAllowedOrigins []string
}

// ReadyChecker reports whether a dependency is reachable. Each mode registers
// the checks relevant to it (both gateway and provisioner check the upstream
// router; the provisioner also checks Redis, the gateway also checks Postgres).
type ReadyChecker func() error

// Server holds the HTTP scaffolding shared by every mode: routing, logging,
// metrics, health, and readiness endpoints.
type Server struct {
	Router    *chi.Mux
	Logger    *slog.Logger
	Metrics   *prometheus.Registry
	startedAt time.Time

	readyChecks map[string]ReadyChecker

	// StatusExtra, when set, is merged into the /status response under the
	// "detail" key — used by modes (e.g. the reaper) that expose richer
	// state than version/uptime.
	StatusExtra func() any
}

// NewServer creates an HTTP server with standard middleware and
// health/readiness/metrics endpoints mounted. Mode-specific handlers should
// be mounted on Router after calling NewServer.
func NewServer(cfg ServerConfig, logger *slog.Logger, metricsReg *prometheus.Registry) *Server {
	s := &Server{
		Router:      chi.NewRouter(),
		Logger:      logger,
		Metrics:     metricsReg,
		startedAt:   time.Now(),
		readyChecks: make(map[string]ReadyChecker),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Get("/status", s.HandleStatus)
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	return s
}

// RegisterReadyCheck adds a named dependency check consulted by /readyz.
func (s *Server) RegisterReadyCheck(name string, check ReadyChecker) {
	s.readyChecks[name] = check
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	for name, check := range s.readyChecks {
		if err := check(); err != nil {
			s.Logger.Error("readiness check failed", "dependency", name, "error", err)
			RespondError(w, http.StatusServiceUnavailable, "unavailable", name+" not ready")
			return
		}
	}
	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}

// statusResponse is the JSON shape returned by HandleStatus.
type statusResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	CommitSHA     string `json:"commit_sha"`
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Detail        any    `json:"detail,omitempty"`
}

// HandleStatus returns process uptime and build version information, plus
// any mode-specific detail registered via StatusExtra.
func (s *Server) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	uptime := time.Since(s.startedAt)

	status := "ok"
	for name, check := range s.readyChecks {
		if err := check(); err != nil {
			s.Logger.Error("status check failed", "dependency", name, "error", err)
			status = "degraded"
		}
	}

	var detail any
	if s.StatusExtra != nil {
		detail = s.StatusExtra()
	}

	Respond(w, http.StatusOK, statusResponse{
		Status:        status,
		Version:       version.Version,
		CommitSHA:     version.Commit,
		Uptime:        uptime.Truncate(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		Detail:        detail,
	})
}
