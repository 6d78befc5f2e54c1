// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/smartqueue/smartqueue/internal/admission"
	"github.com/smartqueue/smartqueue/internal/api/middleware"
	"github.com/smartqueue/smartqueue/internal/audit"
	"github.com/smartqueue/smartqueue/internal/config"
	xglog "github.com/smartqueue/smartqueue/internal/log"
	"github.com/smartqueue/smartqueue/internal/ratelimit"
	"github.com/smartqueue/smartqueue/internal/telemetry"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	configPath := flag.String("config", "", "path to admission config file (YAML)")
	auditDB := flag.String("audit-db", "smartqueue-demo-audit.db", "path to the SQLite decision-audit database")
	defaultWait := flag.Duration("work-sleep", 50*time.Millisecond, "default sleep duration for the synthetic /work handler")
	logLevel := flag.String("log-level", "info", "log level")
	tracingEnabled := flag.Bool("tracing", false, "enable OpenTelemetry tracing (otlp http exporter)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("smartqueue-demo %s (commit %s)\n", version, commit)
		os.Exit(0)
	}

	xglog.Configure(xglog.Config{Level: *logLevel, Service: "smartqueue-demo", Version: version})
	logger := xglog.WithComponent("demo")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        *tracingEnabled,
		ServiceName:    "smartqueue-demo",
		ServiceVersion: version,
		Exporter:       telemetry.ExporterHTTP,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise telemetry provider")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", *configPath).Msg("failed to load admission config")
	}
	holder := config.NewHolder(cfg, *configPath)
	if err := holder.Watch(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start config watcher")
	}

	store, err := audit.Open(*auditDB)
	if err != nil {
		logger.Fatal().Err(err).Str("db", *auditDB).Msg("failed to open audit store")
	}
	defer func() { _ = store.Close() }()

	controller := admission.New(ctx, holder.Get(), admission.WithRecorder(store))
	defer controller.Close()

	reloads := make(chan config.Resolved, 1)
	holder.RegisterListener(reloads)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case next := <-reloads:
				controller.UpdateConfig(next)
			}
		}
	}()

	doc, docJSON, err := loadOpenAPI()
	if err != nil {
		logger.Fatal().Err(err).Msg("embedded OpenAPI document failed validation")
	}
	logger.Info().Int("paths", len(doc.Paths.Map())).Msg("openapi document validated")

	limiter := ratelimit.New(ratelimit.DefaultConfig())

	stackCfg := middleware.StackConfig{
		EnableCORS:            true,
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		TracingService:        "smartqueue-demo",
		EnableLogging:         true,
	}
	router := middleware.NewRouter(stackCfg)

	// The rate limiter bounds arrival rate; the admission controller,
	// mounted behind it, bounds concurrent execution. Each middleware
	// handles a distinct failure mode.
	router.Use(limiter.Middleware())
	router.Use(controller.Middleware())

	srv := &server{
		controller:  controller,
		auditStore:  store,
		holder:      holder,
		configPath:  *configPath,
		defaultWait: *defaultWait,
		openapiDoc:  docJSON,
	}
	srv.routes(router)

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           h2c.NewHandler(router, &http2.Server{}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info().Msg("shutting down demo server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("graceful shutdown failed")
		}
	}()

	logger.Info().
		Str("addr", *addr).
		Int("cpu_threshold", cfg.CPUThreshold).
		Int("memory_threshold", cfg.MemoryThreshold).
		Int("max_queue_size", cfg.MaxQueueSize).
		Int("max_concurrent_requests", cfg.MaxConcurrentRequests).
		Msg("smartqueue demo server starting")

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("demo server failed")
	}

	logger.Info().Msg("demo server exited")
}
