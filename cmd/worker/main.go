// Package main is the entry point for the flowplane worker.
// The worker executes pending jobs and finalizes them through the completion engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"flowplane/internal/bootstrap"
	"flowplane/internal/config"
	"flowplane/internal/logger"
	"flowplane/internal/observability"
	"flowplane/internal/worker"
	"flowplane/internal/worker/runtime"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: flowplane.yaml in current directory)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "wk-" + uuid.NewString()[:8]
	}

	log := logger.New(cfg.LogLevel, cfg.LogJSON).With("service", "flowplane-worker")
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, "flowplane-worker", cfg.OTELEndpoint)
	if err != nil {
		log.Fatalw("Failed to init tracing", "error", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warnw("Failed to shutdown tracer", "error", err)
		}
	}()

	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalw("Failed to init metrics", "error", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Warnw("Failed to shutdown metrics", "error", err)
		}
	}()

	engine, err := bootstrap.OpenEngine(ctx, cfg, log)
	if err != nil {
		log.Fatalw("Failed to open engine", "error", err)
	}
	defer engine.Close()

	var rt runtime.Runtime
	switch cfg.Runtime {
	case "docker":
		dockerRT, err := runtime.NewDockerRuntime(log)
		if err != nil {
			log.Fatalw("Failed to create Docker runtime", "error", err)
		}
		defer dockerRT.Close()
		rt = dockerRT
		log.Info("Using docker runtime")
	default:
		execRT := runtime.NewExecRuntime(cfg.RuntimeWorkDir)
		rt = execRT
		log.Infow("Using exec runtime", "workdir", execRT.WorkDir)
	}

	agent := worker.New(engine.Store, engine.Store, engine.Recorder, rt, worker.AgentConfig{
		ID:                  cfg.WorkerID,
		Concurrency:         cfg.WorkerConcurrency,
		PollInterval:        cfg.WorkerPollInterval,
		MaxBackoff:          cfg.WorkerMaxBackoff,
		HeartbeatInterval:   cfg.WorkerHeartbeatInterval,
		VisibilityExtension: cfg.WorkerVisibilityExtension,
		JobTimeout:          cfg.WorkerJobTimeout,
		Tags:                cfg.WorkerTags,
		DequeueRate:         cfg.WorkerDequeueRate,
		FinalizeMaxRetries:  cfg.FinalizeMaxRetries,
		Images:              cfg.RuntimeImages,
	}, log)

	metricsSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.WorkerMetricsPort)}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsHandler)
	metricsSrv.Handler = mux
	go func() {
		log.Infow("Worker metrics listening", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("Metrics server error", "error", err)
		}
	}()

	// Run returns once in-flight jobs have drained.
	_ = agent.Run(ctx)
	log.Info("Shutting down worker")
	_ = metricsSrv.Shutdown(context.Background())
}
