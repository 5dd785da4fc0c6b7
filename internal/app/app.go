package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wisbric/aegis/internal/config"
	"github.com/wisbric/aegis/internal/httpserver"
	"github.com/wisbric/aegis/internal/platform"
	"github.com/wisbric/aegis/internal/telemetry"
	"github.com/wisbric/aegis/internal/version"
	"github.com/wisbric/aegis/pkg/enforcement"
	"github.com/wisbric/aegis/pkg/gateway"
	"github.com/wisbric/aegis/pkg/guardrails"
	"github.com/wisbric/aegis/pkg/patterns"
	"github.com/wisbric/aegis/pkg/pipeline"
	"github.com/wisbric/aegis/pkg/provisioner"
	"github.com/wisbric/aegis/pkg/reaper"
	"github.com/wisbric/aegis/pkg/upstream"
	"github.com/wisbric/aegis/pkg/usage"
	"github.com/wisbric/aegis/pkg/workspacehost"
)

// Run is the main application entry point. It reads config and starts the
// run mode selected by cfg.Mode: provisioner, gateway, or reaper. A single
// Config and Logger are shared across all three; each mode wires only the
// infrastructure it needs.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting aegis",
		"mode", cfg.Mode,
		"listen", cfg.ListenAddr(),
		"version", version.Version,
	)

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, "aegis-"+cfg.Mode, version.Version)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	metricsReg := telemetry.NewRegistry(telemetry.All()...)

	if cfg.Mode != "reaper" && cfg.LiteLLMMasterKey == "" {
		logger.Warn("upstream master credential not set (LITELLM_MASTER_KEY)")
	}

	switch cfg.Mode {
	case "provisioner":
		return runProvisioner(ctx, cfg, logger, metricsReg)
	case "gateway":
		return runGateway(ctx, cfg, logger, metricsReg)
	case "reaper":
		return runReaper(ctx, cfg, logger, metricsReg)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// runProvisioner serves the Key Provisioner's issuance/reset/info endpoints.
func runProvisioner(ctx context.Context, cfg *config.Config, logger *slog.Logger, metricsReg *prometheus.Registry) error {
	upstreamClient := upstream.New(cfg.LiteLLMURL, cfg.LiteLLMMasterKey)
	hostClient := workspacehost.New(cfg.CoderURL)

	var limiter *provisioner.RateLimiter
	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("connecting to redis, self-service rate limiting disabled", "error", err)
	} else {
		limiter = provisioner.NewRateLimiter(rdb, cfg.SelfServiceRateLimitMax, time.Duration(cfg.SelfServiceRateLimitWindowMin)*time.Minute)
	}

	service := provisioner.NewService(upstreamClient, logger)
	handler := provisioner.NewHandler(logger, service, upstreamClient, hostClient, cfg.ProvisionerSecret, limiter)

	srv := httpserver.NewServer(httpserver.ServerConfig{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}, logger, metricsReg)

	srv.RegisterReadyCheck("litellm", func() error {
		checkCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return upstreamClient.Ping(checkCtx)
	})
	if rdb != nil {
		srv.RegisterReadyCheck("redis", func() error {
			checkCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return rdb.Ping(checkCtx).Err()
		})
	}

	handler.Mount(srv.Router)

	return serve(ctx, cfg, logger, srv)
}

// runGateway serves the pre-call pipeline (Guardrails then Enforcement) in
// front of the upstream model router, recording usage as it goes.
func runGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger, metricsReg *prometheus.Registry) error {
	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	upstreamClient := upstream.New(cfg.LiteLLMURL, cfg.LiteLLMMasterKey)

	overlay := patterns.NewOverlay(cfg.GuardrailsDir, logger)
	library := patterns.NewLibrary(overlay)
	guardrailsHook := guardrails.New(library, logger, guardrails.Config{
		Enabled:       cfg.GuardrailsEnabled,
		DefaultLevel:  cfg.DefaultGuardrailLevel,
		DefaultAction: cfg.DefaultGuardrailAction,
	})
	enforcementHook := enforcement.New(cfg.EnforcementPromptsDir, cfg.DefaultEnforcementLevel, logger)
	pl := pipeline.New(guardrailsHook, enforcementHook)

	recorder := usage.NewRecorder(db, logger)
	recorder.Start(ctx)
	defer recorder.Close()

	handler := gateway.NewHandler(logger, pl, upstreamClient, recorder, cfg.LiteLLMURL)

	srv := httpserver.NewServer(httpserver.ServerConfig{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}, logger, metricsReg)

	srv.RegisterReadyCheck("litellm", func() error {
		checkCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return upstreamClient.Ping(checkCtx)
	})
	srv.RegisterReadyCheck("database", func() error {
		checkCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return db.Ping(checkCtx)
	})

	handler.Mount(srv.Router)

	return serve(ctx, cfg, logger, srv)
}

// runReaper runs the idle-workspace scanning loop and exposes its health,
// status, and config surface. A missing workspace-host session token does
// not abort the process — the loop simply never runs, and /health reports
// unhealthy so the failure is observable.
func runReaper(ctx context.Context, cfg *config.Config, logger *slog.Logger, metricsReg *prometheus.Registry) error {
	hostClient := workspacehost.New(cfg.CoderURL)
	state := reaper.NewState()

	sessionPresent := cfg.CoderSessionToken != ""
	if !sessionPresent {
		logger.Error("workspace host session token missing, reaper loop disabled (CODER_SESSION_TOKEN)")
	}

	idleTimeout := time.Duration(cfg.IdleTimeoutMinutes) * time.Minute
	gracePeriod := time.Duration(cfg.GracePeriodMinutes) * time.Minute

	excluded := make(map[string]bool, len(cfg.ExcludedOwners))
	for owner := range cfg.ExcludedOwnerSet() {
		excluded[owner] = true
	}

	engine := reaper.NewEngine(hostClient, logger, state, reaper.Config{
		IdleTimeout:    idleTimeout,
		GracePeriod:    gracePeriod,
		DryRun:         cfg.DryRun,
		ExcludedOwners: excluded,
	})

	if sessionPresent {
		go engine.Run(ctx, time.Duration(cfg.CheckIntervalSeconds)*time.Second)
	}

	handler := reaper.NewHandler(state, func() bool { return sessionPresent }, idleTimeout, gracePeriod, cfg.DryRun, cfg.ExcludedOwners)

	srv := httpserver.NewServer(httpserver.ServerConfig{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}, logger, metricsReg)
	srv.Router.Get("/health", handler.HandleHealth)
	srv.Router.Get("/config", handler.HandleConfig)
	srv.StatusExtra = handler.StatusDetail

	return serve(ctx, cfg, logger, srv)
}

// serve runs the shared HTTP server until ctx is cancelled, then shuts it
// down gracefully.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, srv *httpserver.Server) error {
	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.ListenAddr(), "mode", cfg.Mode)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down", "mode", cfg.Mode)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
