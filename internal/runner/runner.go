// Package runner takes a dispatched Execution from "pulling" through
// "running": pull the image, create the container, start it, and hand off
// to the Monitor queue.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"fastlane/internal/dispatch"
	"fastlane/internal/ferrors"
	"fastlane/internal/redact"
	"fastlane/internal/runtime"
	"fastlane/internal/store"
)

// Config tunes the Runner's handoff to the Monitor.
type Config struct {
	// MonitorInitialDelay is how long after Start the first Monitor poll is
	// scheduled.
	MonitorInitialDelay time.Duration
}

// DefaultConfig returns the Runner's default tuning.
func DefaultConfig() Config {
	return Config{MonitorInitialDelay: 1 * time.Second}
}

// Runner drives one Execution from pulling through running.
type Runner struct {
	store     store.Store
	runtime   runtime.Runtime
	blacklist *redact.Blacklist
	breaker   *dispatch.CircuitBreaker
	cfg       Config
	log       *slog.Logger
}

// New builds a Runner.
func New(s store.Store, rt runtime.Runtime, bl *redact.Blacklist, breaker *dispatch.CircuitBreaker, cfg Config, log *slog.Logger) *Runner {
	return &Runner{store: s, runtime: rt, blacklist: bl, breaker: breaker, cfg: cfg, log: log}
}

// Run executes the five-step Runner sequence for the given Execution.
func (r *Runner) Run(ctx context.Context, executionID uuid.UUID) error {
	execution, err := r.store.GetExecutionByID(ctx, executionID)
	if err != nil {
		return fmt.Errorf("runner: get execution %s: %w", executionID, err)
	}
	if execution == nil {
		return fmt.Errorf("runner: execution %s not found", executionID)
	}

	job, err := r.store.GetJobByID(ctx, execution.JobID)
	if err != nil {
		return fmt.Errorf("runner: get job %s: %w", execution.JobID, err)
	}
	if job == nil {
		return fmt.Errorf("runner: job %s not found", execution.JobID)
	}

	r.log.Debug("runner: starting execution", "execution_id", execution.ID, "image", execution.Image, "envs", job.Spec.RedactedEnvs(r.blacklist.Contains))

	if err := r.runtime.Pull(ctx, execution.ContainerHost, execution.Image); err != nil {
		// A permanent classification (not-found, unauthorized) means the host
		// answered definitively; only a transient one reflects on the host's
		// own availability.
		if ferrors.ClassOf(err) == ferrors.KindTransient {
			r.recordFailure(ctx, execution.ContainerHost)
		} else {
			r.recordSuccess(ctx, execution.ContainerHost)
		}
		return r.failPull(ctx, execution, err)
	}
	r.recordSuccess(ctx, execution.ContainerHost)

	containerID, err := r.runtime.Create(ctx, execution.ContainerHost, runtime.CreateOptions{
		Image:   execution.Image,
		Command: execution.Command,
		Env:     job.Spec.Envs,
	})
	if err != nil {
		r.recordFailure(ctx, execution.ContainerHost)
		return r.failPermanent(ctx, execution, fmt.Errorf("create container: %w", err))
	}
	if err := r.store.SetExecutionContainer(ctx, nil, execution.ID, execution.ContainerHost, containerID); err != nil {
		return fmt.Errorf("runner: persist container id: %w", err)
	}
	if _, err := r.store.CompareAndSetExecutionStatus(ctx, nil, execution.ID, store.ExecutionStatusPulling, store.ExecutionStatusCreated); err != nil {
		return fmt.Errorf("runner: cas to created: %w", err)
	}

	if err := r.runtime.Start(ctx, execution.ContainerHost, containerID); err != nil {
		r.recordFailure(ctx, execution.ContainerHost)
		return r.failPermanent(ctx, execution, fmt.Errorf("start container: %w", err))
	}
	r.recordSuccess(ctx, execution.ContainerHost)

	startedAt := time.Now().UTC()
	if err := r.store.SetExecutionStarted(ctx, nil, execution.ID, startedAt); err != nil {
		return fmt.Errorf("runner: stamp started: %w", err)
	}

	payload, err := json.Marshal(monitorPayload{ExecutionID: execution.ID})
	if err != nil {
		return err
	}
	if _, err := r.store.Push(ctx, nil, store.QueueMonitor, execution.ID, payload, time.Now().UTC().Add(r.cfg.MonitorInitialDelay)); err != nil {
		return fmt.Errorf("runner: enqueue monitor: %w", err)
	}

	return nil
}

type monitorPayload struct {
	ExecutionID uuid.UUID `json:"execution_id"`
}

// failPull distinguishes a transient pull failure (network, registry rate
// limit) from a permanent one (image not found, unauthorized): transient
// failures are left in place for the Worker loop to release-and-retry the
// same pulling Execution without creating a new attempt; permanent failures
// fail the Execution outright.
func (r *Runner) failPull(ctx context.Context, execution *store.Execution, cause error) error {
	classified := ferrors.ClassOf(cause)
	if classified == ferrors.KindTransient {
		return fmt.Errorf("runner: transient pull failure for %s: %w", execution.ID, cause)
	}
	return r.failPermanent(ctx, execution, fmt.Errorf("pull image: %w", cause))
}

// recordFailure and recordSuccess report a host-level outcome to the
// CircuitBreaker so a host repeatedly failing Pull/Create/Start gets excluded
// from future Dispatch selection. A nil breaker (tests that don't care about
// circuit behavior) is a no-op.
func (r *Runner) recordFailure(ctx context.Context, host string) {
	if r.breaker == nil {
		return
	}
	if err := r.breaker.RecordFailure(ctx, host); err != nil {
		r.log.Error("runner: record host failure", "host", host, "error", err)
	}
}

func (r *Runner) recordSuccess(ctx context.Context, host string) {
	if r.breaker == nil {
		return
	}
	if err := r.breaker.RecordSuccess(ctx, host); err != nil {
		r.log.Error("runner: record host success", "host", host, "error", err)
	}
}

func (r *Runner) failPermanent(ctx context.Context, execution *store.Execution, cause error) error {
	errMsg := cause.Error()
	if err := r.store.FinishExecution(ctx, nil, execution.ID, store.ExecutionStatusFailed, nil, &errMsg, nil, nil); err != nil {
		return fmt.Errorf("runner: finish execution after permanent failure: %w", err)
	}
	return nil
}
