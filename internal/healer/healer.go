// Package healer recovers from crash/restart and prunes finished containers
// left behind once the Monitor has renamed them processed.
package healer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"fastlane/internal/runtime"
	"fastlane/internal/store"
)

// Config tunes the Pruner's sweep cadence.
type Config struct {
	PruneInterval time.Duration
	ProcessedLabelFilter string
}

// DefaultConfig returns the Healer's default tuning. ProcessedLabelFilter
// matches the "fastlane-<status>-<execution_id>" rename the Monitor applies
// to every container it finalizes (see monitor.handleExited/finalize).
func DefaultConfig() Config {
	return Config{PruneInterval: 5 * time.Minute, ProcessedLabelFilter: "fastlane-"}
}

// Healer reconciles Store state against reality on startup, and periodically
// prunes containers the Monitor has already finalized.
type Healer struct {
	store store.Store
	rt    runtime.Runtime
	hosts []string
	cfg   Config
	log   *slog.Logger
}

// New builds a Healer. hosts is every host the Pruner should sweep.
func New(s store.Store, rt runtime.Runtime, hosts []string, cfg Config, log *slog.Logger) *Healer {
	return &Healer{store: s, rt: rt, hosts: hosts, cfg: cfg, log: log}
}

// Reconcile re-enqueues every non-terminal Execution on startup: Executions
// with a container already assigned resume at Monitor, everything else
// already exist as an Execution row (just stuck before a container was
// created) and resume at the Runner, not a fresh Dispatch. Idempotent —
// re-enqueuing an Execution whose handler already finished just re-observes
// its now-terminal state on the next poll.
func (h *Healer) Reconcile(ctx context.Context) error {
	executions, err := h.store.ListNonTerminalExecutions(ctx)
	if err != nil {
		return fmt.Errorf("healer: list non-terminal executions: %w", err)
	}

	for _, execution := range executions {
		if execution.ContainerID != "" {
			if err := h.enqueueMonitor(ctx, execution.ID); err != nil {
				return err
			}
			continue
		}
		if err := h.enqueueRunner(ctx, execution.ID); err != nil {
			return err
		}
	}

	h.log.Info("healer reconciled non-terminal executions", "count", len(executions))
	return nil
}

func (h *Healer) enqueueMonitor(ctx context.Context, executionID uuid.UUID) error {
	payload, err := json.Marshal(monitorPayload{ExecutionID: executionID})
	if err != nil {
		return err
	}
	_, err = h.store.Push(ctx, nil, store.QueueMonitor, executionID, payload, time.Time{})
	return err
}

// enqueueRunner resumes an Execution that was created but never got as far
// as a container: pushing its execution_id routes the Worker to the Runner
// (Dispatcher.Dispatch only ever runs for a job_id payload, and would create
// a second Execution rather than resuming this one).
func (h *Healer) enqueueRunner(ctx context.Context, executionID uuid.UUID) error {
	payload, err := json.Marshal(runnerPayload{ExecutionID: executionID})
	if err != nil {
		return err
	}
	_, err = h.store.Push(ctx, nil, store.QueueJobs, executionID, payload, time.Time{})
	return err
}

// Prune runs one sweep over every configured host, removing containers the
// Monitor has already labeled processed.
func (h *Healer) Prune(ctx context.Context) error {
	for _, host := range h.hosts {
		ids, err := h.rt.List(ctx, host, h.cfg.ProcessedLabelFilter)
		if err != nil {
			h.log.Error("healer: list containers for prune", "host", host, "error", err)
			continue
		}
		for _, id := range ids {
			if err := h.rt.Remove(ctx, host, id); err != nil {
				h.log.Error("healer: remove container", "host", host, "container_id", id, "error", err)
			}
		}
	}
	return nil
}

// RunPruner blocks, sweeping every PruneInterval until ctx is cancelled.
func (h *Healer) RunPruner(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.Prune(ctx); err != nil {
				h.log.Error("healer: prune sweep failed", "error", err)
			}
		}
	}
}

type monitorPayload struct {
	ExecutionID uuid.UUID `json:"execution_id"`
}

type runnerPayload struct {
	ExecutionID uuid.UUID `json:"execution_id"`
}
