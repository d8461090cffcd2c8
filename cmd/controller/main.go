// Package main is the entry point for the flowplane controller.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"flowplane/internal/bootstrap"
	"flowplane/internal/config"
	"flowplane/internal/controller"
	"flowplane/internal/controller/handlers"
	"flowplane/internal/logger"
	"flowplane/internal/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: flowplane.yaml in current directory)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogJSON).With("service", "flowplane-controller")
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, "flowplane-controller", cfg.OTELEndpoint)
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

	// Observed only when scraped.
	meter := otel.Meter("flowplane-controller")
	_, err = meter.Int64ObservableGauge("flowplane.queue.depth",
		metric.WithDescription("Current number of jobs in the pending queue"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			count, err := engine.Store.CountPending(ctx)
			if err != nil {
				log.Warnw("Failed to count queue depth", "error", err)
				return nil
			}
			obs.Observe(count)
			return nil
		}),
	)
	if err != nil {
		log.Warnw("Failed to register queue depth metric", "error", err)
	}

	deps := handlers.Deps{Store: engine.Store, Engine: engine.Recorder, Logger: log}
	if engine.Mirror != nil {
		deps.QueueMirror = engine.Mirror
	}
	if cfg.InternalSecret == "" {
		log.Warn("internal_secret is not set, internal endpoints are disabled")
	}

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(controller.Options{
		Addr:           addr,
		InternalSecret: cfg.InternalSecret,
		InternalRate:   cfg.ControllerRateLimit,
		InternalBurst:  cfg.ControllerRateBurst,
		Metrics:        metricsHandler,
	}, deps, log)

	log.Infow("Controller starting", "addr", addr)
	if err := srv.Run(ctx); err != nil {
		log.Errorw("Server stopped", "error", err)
		return
	}
	log.Info("Controller exited properly")
}
