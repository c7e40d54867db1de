// Package main is the entry point for the fastlane controller: the HTTP API
// plus the Scheduler loop that arms Jobs onto the jobs queue.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"fastlane/internal/config"
	"fastlane/internal/controller"
	"fastlane/internal/dispatch"
	"fastlane/internal/logger"
	"fastlane/internal/monitor"
	"fastlane/internal/observability"
	"fastlane/internal/redact"
	"fastlane/internal/runtime"
	"fastlane/internal/scheduler"
	"fastlane/internal/store"
	"fastlane/internal/store/postgres"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logg := logger.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logg.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if *migrateFlag {
		logg.Info("running database migrations")
		if err := postgres.Migrate(db.DB()); err != nil {
			logg.Error("migration failed", "error", err)
			os.Exit(1)
		}
		logg.Info("migrations completed")
	}

	shutdownTracer, err := observability.InitTracer(ctx, "fastlane-controller", cfg.OTELEndpoint)
	if err != nil {
		logg.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logg.Error("failed to shutdown tracer", "error", err)
		}
	}()

	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		logg.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			logg.Error("failed to shutdown metrics", "error", err)
		}
	}()

	meter := otel.Meter("fastlane-controller")
	_, err = meter.Int64ObservableGauge("fastlane.queue.depth",
		metric.WithDescription("current depth of the jobs queue"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			depth, err := db.Len(ctx, store.QueueJobs)
			if err != nil {
				logg.Error("failed to read queue depth", "error", err)
				return nil
			}
			obs.Observe(depth)
			return nil
		}),
	)
	if err != nil {
		logg.Error("failed to register queue depth metric", "error", err)
	}

	blacklist := redact.Default()
	for _, name := range cfg.RedactBlacklist {
		blacklist.Add(name)
	}

	pools, err := dispatch.ParsePools(cfg.DockerHostsJSON)
	if err != nil {
		logg.Error("failed to parse DOCKER_HOSTS", "error", err)
		os.Exit(1)
	}

	rt, err := buildRuntime(cfg, pools)
	if err != nil {
		logg.Error("failed to build runtime", "error", err)
		os.Exit(1)
	}

	sched := scheduler.New(db, scheduler.DefaultConfig(), logg)
	mon := monitor.New(db, rt, dispatch.NewCircuitBreaker(db), monitor.DefaultConfig())

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(addr, db, sched, mon, rt, blacklist, cfg.APIToken, metricsHandler)

	go func() {
		if err := sched.Run(ctx); err != nil && err != context.Canceled {
			logg.Error("scheduler stopped", "error", err)
		}
	}()

	go func() {
		logg.Info("fastlane controller starting", "addr", addr)
		if err := srv.Run(ctx); err != nil {
			logg.Error("server stopped", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logg.Info("shutting down controller")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error("server forced to shutdown", "error", err)
	}
}

// buildRuntime selects the container backend named by cfg.Runtime. The
// controller only needs a Runtime to serve StopJob and StreamLogs directly
// against the host a Job's latest Execution already landed on; dispatch and
// log capture happen in the worker process against the same backend.
func buildRuntime(cfg *config.Config, pools []dispatch.PoolConfig) (runtime.Runtime, error) {
	switch cfg.Runtime {
	case "exec":
		return runtime.NewExecRuntime(), nil
	case "kubernetes":
		return runtime.NewKubernetesRuntime(runtime.KubernetesConfig{ServiceAccount: cfg.KubernetesServiceAccount})
	case "docker":
		fallthrough
	default:
		return runtime.NewDockerRuntime(dockerEndpoints(pools)), nil
	}
}

// dockerEndpoints flattens the pool configuration's host identifiers into
// the host -> endpoint map DockerRuntime dials lazily. Hosts are named by
// their DOCKER_HOST-style endpoint directly, so the map is the identity of
// every host named across every pool.
func dockerEndpoints(pools []dispatch.PoolConfig) map[string]string {
	endpoints := make(map[string]string)
	for _, p := range pools {
		for _, host := range p.Hosts {
			endpoints[host] = host
		}
	}
	return endpoints
}
