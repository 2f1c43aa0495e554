// Package main is the orchestrator's entry point: it loads configuration,
// wires every application service together, and serves the Control API
// until it receives a shutdown signal.
package main

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ventiapi/orchestrator/applications/auth"
	"github.com/ventiapi/orchestrator/applications/httpapi"
	"github.com/ventiapi/orchestrator/applications/queue"
	"github.com/ventiapi/orchestrator/applications/ratelimitpolicy"
	"github.com/ventiapi/orchestrator/applications/scanengine"
	"github.com/ventiapi/orchestrator/applications/specstore"
	"github.com/ventiapi/orchestrator/applications/workerctl"
	"github.com/ventiapi/orchestrator/domain/principal"
	"github.com/ventiapi/orchestrator/infrastructure/cache"
	"github.com/ventiapi/orchestrator/infrastructure/logging"
	"github.com/ventiapi/orchestrator/infrastructure/metrics"
	"github.com/ventiapi/orchestrator/infrastructure/middleware"
	"github.com/ventiapi/orchestrator/infrastructure/worker"
	"github.com/ventiapi/orchestrator/pkg/config"
	"github.com/ventiapi/orchestrator/pkg/version"
)

func main() {
	log.Printf("orchestrator %s", version.FullVersion())

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := logging.New("orchestrator", cfg.Logging.Level, cfg.Logging.Format)
	m := metrics.Init("orchestrator")

	authMgr, err := auth.NewManager(cfg.Auth.TokenSigningSecret, cfg.Auth.TokenTTL)
	if err != nil {
		log.Fatalf("failed to build auth manager: %v", err)
	}
	if err := seedPrincipals(authMgr, cfg); err != nil {
		log.Fatalf("failed to seed principals: %v", err)
	}

	q := queue.New(cfg.Queue.Capacity)

	registry := worker.NewRegistry()
	if cfg.Worker.ProfileRegistryFile != "" {
		if err := registry.LoadFile(cfg.Worker.ProfileRegistryFile); err != nil {
			logger.WithContext(context.Background()).WithError(err).Warn("worker profile registry file not loaded, using built-in defaults")
		}
	}
	launcher := worker.NewProcessLauncher()

	mergeCache := cache.NewTTLCache(10 * time.Minute)
	engine := scanengine.New(q, cfg.Artifact.Root, mergeCache, logger)
	retention := time.Duration(cfg.Artifact.RetentionDays) * 24 * time.Hour
	if err := engine.StartRetentionSweep("*/15 * * * *"); err != nil {
		logger.WithContext(context.Background()).WithError(err).Warn("retention sweep not started")
	}
	defer engine.StopRetentionSweep()

	controller := workerctl.New(q, launcher, registry, engine, engine, logger, cfg.Worker.MaxParallelWorkers)
	controllerCtx, stopController := context.WithCancel(context.Background())
	go controller.Run(controllerCtx)
	defer stopController()

	specs := specstore.New(cfg.Artifact.Root)

	svc := httpapi.NewService(authMgr, specs, engine, q, registry, logger,
		cfg.Worker.DefaultChunkSize, cfg.Worker.MaxParallelWorkers, retention)

	policy := ratelimitpolicy.New(logger)
	defer policy.Shutdown()

	handler := middleware.MetricsMiddleware("orchestrator", m)(httpapi.NewRouter(svc, authMgr, policy, logger))

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsAddr := cfg.Server.Host + ":" + strconv.Itoa(cfg.Metrics.Port)
	metricsHandler := middleware.InternalGateMiddleware(cfg.Metrics.SharedSecret)(metricsMux)
	go func() {
		log.Printf("orchestrator metrics listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, metricsHandler); err != nil && err != http.ErrServerClosed {
			logger.WithContext(context.Background()).WithError(err).Warn("metrics listener stopped")
		}
	}()

	server := &http.Server{
		Addr:              cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	shutdown := middleware.NewGracefulShutdown(server, cfg.Server.ShutdownTimeout)
	shutdown.OnShutdown(func() {
		stopController()
		policy.Shutdown()
		engine.StopRetentionSweep()
	})
	shutdown.ListenForSignals()

	go func() {
		log.Printf("orchestrator listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	shutdown.Wait()
	log.Println("orchestrator stopped")
}

// seedPrincipals registers the configured admin principal and any
// additional users from AuthConfig (§6.7).
func seedPrincipals(authMgr *auth.Manager, cfg *config.Config) error {
	if cfg.Auth.AdminSeedLogin != "" && cfg.Auth.AdminSeedPassword != "" {
		admin, err := principal.New("admin", cfg.Auth.AdminSeedLogin, cfg.Auth.AdminSeedPassword, principal.RoleAdmin)
		if err != nil {
			return err
		}
		authMgr.Register(admin)
	}
	for i, u := range cfg.Auth.Users {
		role := principal.Role(u.Role)
		if !role.IsValid() {
			role = principal.RoleUser
		}
		p, err := principal.New(userID(i), u.Login, u.Password, role)
		if err != nil {
			return err
		}
		authMgr.Register(p)
	}
	return nil
}

func userID(i int) string {
	return "user-" + strconv.Itoa(i)
}
