// Package main is the entry point for the fastlane worker: the process that
// drains the jobs/monitor/notify/webhooks queues and owns every Docker/
// Kubernetes/exec container it creates.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"fastlane/internal/config"
	"fastlane/internal/dispatch"
	"fastlane/internal/healer"
	"fastlane/internal/logger"
	"fastlane/internal/monitor"
	"fastlane/internal/notify"
	"fastlane/internal/observability"
	"fastlane/internal/redact"
	"fastlane/internal/runner"
	"fastlane/internal/runtime"
	"fastlane/internal/store/postgres"
	"fastlane/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logg := logger.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := observability.InitTracer(ctx, "fastlane-worker", cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logg.Error("failed to shutdown tracer", "error", err)
		}
	}()

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	pools, err := dispatch.ParsePools(cfg.DockerHostsJSON)
	if err != nil {
		log.Fatalf("failed to parse DOCKER_HOSTS: %v", err)
	}

	rt, err := buildRuntime(cfg, pools)
	if err != nil {
		log.Fatalf("failed to build runtime: %v", err)
	}

	blacklist := redact.Default()
	for _, name := range cfg.RedactBlacklist {
		blacklist.Add(name)
	}

	dispatcher := dispatch.New(db, pools)
	breaker := dispatch.NewCircuitBreaker(db)
	run := runner.New(db, rt, blacklist, breaker, runner.DefaultConfig(), logg)
	mon := monitor.New(db, rt, breaker, monitor.DefaultConfig())
	notifier := buildNotifier()

	hosts := flattenHosts(pools)
	h := healer.New(db, rt, hosts, healer.Config{
		PruneInterval:        cfg.PruneInterval,
		ProcessedLabelFilter: healer.DefaultConfig().ProcessedLabelFilter,
	}, logg)

	if err := h.Reconcile(ctx); err != nil {
		logg.Error("startup reconciliation failed", "error", err)
	}
	go h.RunPruner(ctx)

	w := worker.New(db, dispatcher, run, mon, notifier, worker.Config{
		PollInterval:       cfg.WorkerPollInterval,
		MaxPollBackoff:     cfg.WorkerMaxBackoff,
		VisibilityTimeout:  worker.DefaultConfig().VisibilityTimeout,
		HeartbeatInterval:  cfg.WorkerHeartbeatInterval,
		DefaultConcurrency: cfg.WorkerConcurrency,
		HandlerTimeout:     worker.DefaultConfig().HandlerTimeout,
	}, logg)

	go func() {
		logg.Info("fastlane worker starting", "concurrency", cfg.WorkerConcurrency, "runtime", cfg.Runtime)
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logg.Error("worker stopped", "error", err)
		}
	}()

	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			logg.Error("failed to shutdown metrics", "error", err)
		}
	}()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		logg.Info("worker metrics listening", "addr", ":6162")
		if err := http.ListenAndServe(":6162", mux); err != nil {
			logg.Error("metrics server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logg.Info("shutting down worker")
	cancel()
}

func buildRuntime(cfg *config.Config, pools []dispatch.PoolConfig) (runtime.Runtime, error) {
	switch cfg.Runtime {
	case "exec":
		return runtime.NewExecRuntime(), nil
	case "kubernetes":
		return runtime.NewKubernetesRuntime(runtime.KubernetesConfig{ServiceAccount: cfg.KubernetesServiceAccount})
	case "docker":
		fallthrough
	default:
		endpoints := make(map[string]string)
		for _, p := range pools {
			for _, host := range p.Hosts {
				endpoints[host] = host
			}
		}
		return runtime.NewDockerRuntime(endpoints), nil
	}
}

// buildNotifier fans terminal-state events out to both delivery channels.
// Targets are per-Job (Job.Spec.Notify), so an Event with no webhooks or no
// emails set is a silent no-op on the corresponding Notifier rather than an
// error, letting one Multi correctly serve every Job regardless of which
// targets it configured.
func buildNotifier() notify.Notifier {
	return notify.Multi{
		Notifiers: []notify.Notifier{
			notify.NewEmailNotifier(notify.EmailConfig{
				Host:     os.Getenv("SMTP_HOST"),
				Port:     os.Getenv("SMTP_PORT"),
				From:     os.Getenv("SMTP_FROM"),
				Username: os.Getenv("SMTP_USERNAME"),
				Password: os.Getenv("SMTP_PASSWORD"),
			}),
			notify.NewWebhookNotifier(notify.DefaultWebhookConfig(), logger.New()),
		},
	}
}

func flattenHosts(pools []dispatch.PoolConfig) []string {
	seen := make(map[string]struct{})
	var hosts []string
	for _, p := range pools {
		for _, host := range p.Hosts {
			if _, ok := seen[host]; ok {
				continue
			}
			seen[host] = struct{}{}
			hosts = append(hosts, host)
		}
	}
	return hosts
}
