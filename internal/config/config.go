// Package config handles environment variable loading for ports, database
// strings, pool topology, and runtime selection.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values for the application.
type Config struct {
	// Database connection string.
	DatabaseURL string

	// HTTP server port for the controller.
	HTTPPort int

	// APIToken is the single bearer token every request to the controller
	// must present. An empty value does not switch the check off: the
	// controller still wraps its /tasks routes in RequireAuth, and since an
	// empty bearer token cannot be presented, every such request is rejected.
	APIToken string

	// DockerHostsJSON is the raw DOCKER_HOSTS pool configuration, decoded by
	// dispatch.ParsePools.
	DockerHostsJSON []byte

	// Runtime selects the container backend: docker, kubernetes, or exec.
	Runtime string

	// RuntimeWorkDir is loaded from RUNTIME_WORKDIR; no runtime reads it (the
	// exec runtime is built without a working directory).
	RuntimeWorkDir string

	// KubernetesServiceAccount is passed to the kubernetes runtime.
	// KubernetesNamespace is loaded from KUBERNETES_NAMESPACE but not passed
	// on: the kubernetes runtime uses the pool host as the namespace.
	KubernetesNamespace      string
	KubernetesServiceAccount string

	// RedactBlacklist names additional environment variable names to mask
	// on top of redact.Default's built-in set.
	RedactBlacklist []string

	// PruneInterval is how often the Healer sweeps hosts for processed
	// containers.
	PruneInterval time.Duration

	// Worker-specific configuration.
	WorkerConcurrency       int
	WorkerPollInterval      time.Duration
	WorkerMaxBackoff        time.Duration
	WorkerHeartbeatInterval time.Duration

	// OTELEndpoint is the OTLP collector address for traces and metrics.
	OTELEndpoint string

	// ControllerURL is loaded from CONTROLLER_URL (default
	// http://localhost:6161). Neither fastlanectl, which reads its own api_url
	// setting, nor the worker reads it.
	ControllerURL string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	port, err := intEnv("PORT", 6161)
	if err != nil {
		return nil, err
	}

	concurrency, err := intEnv("WORKER_CONCURRENCY", 1)
	if err != nil {
		return nil, err
	}

	pollInterval, err := durationEnv("WORKER_POLL_INTERVAL", 1*time.Second)
	if err != nil {
		return nil, err
	}
	maxBackoff, err := durationEnv("WORKER_MAX_BACKOFF", 30*time.Second)
	if err != nil {
		return nil, err
	}
	heartbeatInterval, err := durationEnv("WORKER_HEARTBEAT_INTERVAL", 2*time.Minute)
	if err != nil {
		return nil, err
	}
	pruneInterval, err := durationEnv("PRUNE_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	runtimeKind := os.Getenv("FASTLANE_RUNTIME")
	if runtimeKind == "" {
		runtimeKind = "docker"
	}
	switch runtimeKind {
	case "docker", "kubernetes", "exec":
	default:
		return nil, fmt.Errorf("invalid FASTLANE_RUNTIME %q: must be docker, kubernetes, or exec", runtimeKind)
	}

	controllerURL := os.Getenv("CONTROLLER_URL")
	if controllerURL == "" {
		controllerURL = "http://localhost:6161"
	}

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "localhost:4317"
	}

	return &Config{
		DatabaseURL:              dbURL,
		HTTPPort:                 port,
		APIToken:                 os.Getenv("FASTLANE_API_TOKEN"),
		DockerHostsJSON:          []byte(os.Getenv("DOCKER_HOSTS")),
		Runtime:                  runtimeKind,
		RuntimeWorkDir:           os.Getenv("RUNTIME_WORKDIR"),
		KubernetesNamespace:      os.Getenv("KUBERNETES_NAMESPACE"),
		KubernetesServiceAccount: os.Getenv("KUBERNETES_SERVICE_ACCOUNT"),
		RedactBlacklist:          splitCSV(os.Getenv("REDACT_BLACKLIST")),
		PruneInterval:            pruneInterval,
		WorkerConcurrency:        concurrency,
		WorkerPollInterval:       pollInterval,
		WorkerMaxBackoff:         maxBackoff,
		WorkerHeartbeatInterval:  heartbeatInterval,
		OTELEndpoint:             otelEndpoint,
		ControllerURL:            controllerURL,
	}, nil
}

func intEnv(name string, def int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return v, nil
}

func durationEnv(name string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return v, nil
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
