// Package monitor polls a running Execution's container to completion: on
// each tick it inspects the container, re-enqueues itself with back-off
// while running (subject to a wall-clock timeout), and on exit captures
// logs, finalizes status, and renames the container to mark it processed.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fastlane/internal/backoff"
	"fastlane/internal/dispatch"
	"fastlane/internal/ferrors"
	"fastlane/internal/runtime"
	"fastlane/internal/store"
)

// Config tunes the Monitor's log capture.
type Config struct {
	// LogTailBytes is how much of stdout/stderr to persist at terminal
	// transition.
	LogTailBytes int64
}

// DefaultConfig returns the Monitor's default tuning: 2MiB tail per stream.
func DefaultConfig() Config {
	return Config{LogTailBytes: 2 * 1024 * 1024}
}

// Monitor polls one Execution per invocation, called once per queued
// monitor message.
type Monitor struct {
	store   store.Store
	runtime runtime.Runtime
	breaker *dispatch.CircuitBreaker
	cfg     Config
}

// New builds a Monitor.
func New(s store.Store, rt runtime.Runtime, breaker *dispatch.CircuitBreaker, cfg Config) *Monitor {
	return &Monitor{store: s, runtime: rt, breaker: breaker, cfg: cfg}
}

// recordFailure and recordSuccess report a host-level outcome to the
// CircuitBreaker, mirroring the Runner's wiring. A nil breaker is a no-op.
func (m *Monitor) recordFailure(ctx context.Context, host string) {
	if m.breaker == nil {
		return
	}
	_ = m.breaker.RecordFailure(ctx, host)
}

func (m *Monitor) recordSuccess(ctx context.Context, host string) {
	if m.breaker == nil {
		return
	}
	_ = m.breaker.RecordSuccess(ctx, host)
}

// Poll runs one inspection cycle for the given Execution.
func (m *Monitor) Poll(ctx context.Context, executionID uuid.UUID) error {
	execution, err := m.store.GetExecutionByID(ctx, executionID)
	if err != nil {
		return fmt.Errorf("monitor: get execution %s: %w", executionID, err)
	}
	if execution == nil {
		return fmt.Errorf("monitor: execution %s not found", executionID)
	}
	if execution.Status.Terminal() {
		return nil // already finalized by a concurrent poll or a /stop
	}

	job, err := m.store.GetJobByID(ctx, execution.JobID)
	if err != nil {
		return fmt.Errorf("monitor: get job %s: %w", execution.JobID, err)
	}
	if job == nil {
		return fmt.Errorf("monitor: job %s not found", execution.JobID)
	}

	insp, err := m.runtime.Inspect(ctx, execution.ContainerHost, execution.ContainerID)
	if err != nil {
		// A permanent classification (e.g. the container got stuck in
		// ErrImagePull/ImagePullBackOff and never reached a terminal exit
		// state) means the host answered definitively; only a transient one
		// reflects on the host's own availability.
		if ferrors.ClassOf(err) == ferrors.KindPermanent {
			m.recordSuccess(ctx, execution.ContainerHost)
			return m.finalize(ctx, execution, job, store.ExecutionStatusFailed, nil, err.Error())
		}
		m.recordFailure(ctx, execution.ContainerHost)
		return fmt.Errorf("monitor: inspect %s: %w", execution.ContainerID, err)
	}
	m.recordSuccess(ctx, execution.ContainerHost)

	if insp.Running {
		return m.handleRunning(ctx, execution, job)
	}
	return m.handleExited(ctx, execution, job, insp)
}

func (m *Monitor) handleRunning(ctx context.Context, execution *store.Execution, job *store.Job) error {
	if job.Spec.Timeout > 0 && execution.StartedAt != nil {
		if time.Since(*execution.StartedAt) >= job.Spec.Timeout {
			if err := m.runtime.Stop(ctx, execution.ContainerHost, execution.ContainerID); err != nil {
				return fmt.Errorf("monitor: stop timed-out container: %w", err)
			}
			return m.finalize(ctx, execution, job, store.ExecutionStatusTimedOut, nil, "execution exceeded its configured timeout")
		}
	}

	pollCount, err := m.store.IncrementPollCount(ctx, nil, execution.ID)
	if err != nil {
		return fmt.Errorf("monitor: increment poll count: %w", err)
	}

	delay := backoff.MonitorPoll.Delay(pollCount)
	payload, err := json.Marshal(monitorPayload{ExecutionID: execution.ID})
	if err != nil {
		return err
	}
	if _, err := m.store.Push(ctx, nil, store.QueueMonitor, execution.ID, payload, time.Now().UTC().Add(delay)); err != nil {
		return fmt.Errorf("monitor: re-enqueue: %w", err)
	}
	return nil
}

func (m *Monitor) handleExited(ctx context.Context, execution *store.Execution, job *store.Job, insp runtime.Inspection) error {
	stdout, stderr, err := m.runtime.Logs(ctx, execution.ContainerHost, execution.ContainerID, m.cfg.LogTailBytes)
	if err != nil {
		return fmt.Errorf("monitor: capture logs: %w", err)
	}

	status := store.ExecutionStatusDone
	var errMsg string
	if insp.ExitCode != 0 {
		status = store.ExecutionStatusFailed
		errMsg = fmt.Sprintf("container exited with code %d", insp.ExitCode)
	}

	if err := m.store.FinishExecution(ctx, nil, execution.ID, status, &insp.ExitCode, nonEmptyPtr(errMsg), stdout, stderr); err != nil {
		return fmt.Errorf("monitor: finish execution: %w", err)
	}

	renamed := fmt.Sprintf("fastlane-%s-%s", status, execution.ID)
	if err := m.runtime.Rename(ctx, execution.ContainerHost, execution.ContainerID, renamed); err != nil {
		return fmt.Errorf("monitor: rename container: %w", err)
	}

	return m.afterTerminal(ctx, execution, job, status)
}

// finalize is the shortcut to a terminal state for a timed-out container or
// a permanent Inspect failure, recording the given message instead of an
// exit-code-derived one (Logs is still called, but the exit code is not
// meaningful).
func (m *Monitor) finalize(ctx context.Context, execution *store.Execution, job *store.Job, status store.ExecutionStatus, exitCode *int, errMsg string) error {
	stdout, stderr, _ := m.runtime.Logs(ctx, execution.ContainerHost, execution.ContainerID, m.cfg.LogTailBytes)
	if err := m.store.FinishExecution(ctx, nil, execution.ID, status, exitCode, &errMsg, stdout, stderr); err != nil {
		return fmt.Errorf("monitor: finish execution: %w", err)
	}

	renamed := fmt.Sprintf("fastlane-%s-%s", status, execution.ID)
	_ = m.runtime.Rename(ctx, execution.ContainerHost, execution.ContainerID, renamed)

	return m.afterTerminal(ctx, execution, job, status)
}

// afterTerminal decides retry vs. terminal-notify once an Execution has
// reached done/failed/timedout.
func (m *Monitor) afterTerminal(ctx context.Context, execution *store.Execution, job *store.Job, status store.ExecutionStatus) error {
	if status == store.ExecutionStatusDone {
		return m.notifyAndFinish(ctx, job, store.JobStatusDone)
	}

	if execution.Attempt < job.Spec.Retries+1 && job.Status != store.JobStatusExpired {
		delay := backoff.RetryOnFailure.Delay(execution.Attempt - 1)
		payload, err := json.Marshal(dispatchPayload{JobID: job.ID})
		if err != nil {
			return err
		}
		if _, err := m.store.Push(ctx, nil, store.QueueJobs, job.ID, payload, time.Now().UTC().Add(delay)); err != nil {
			return fmt.Errorf("monitor: enqueue retry: %w", err)
		}
		return m.store.SetJobStatus(ctx, nil, job.ID, store.JobStatusEnqueued)
	}

	return m.notifyAndFinish(ctx, job, store.JobStatusFailed)
}

func (m *Monitor) notifyAndFinish(ctx context.Context, job *store.Job, finalStatus store.JobStatus) error {
	if err := m.store.SetJobStatus(ctx, nil, job.ID, finalStatus); err != nil {
		return fmt.Errorf("monitor: set job status: %w", err)
	}

	payload, err := json.Marshal(notifyPayload{JobID: job.ID, Event: string(finalStatus)})
	if err != nil {
		return err
	}
	if _, err := m.store.Push(ctx, nil, store.QueueNotify, job.ID, payload, time.Time{}); err != nil {
		return fmt.Errorf("monitor: push notify: %w", err)
	}

	if job.Schedule.Kind == store.ScheduleKindCron {
		return m.store.SetJobStatus(ctx, nil, job.ID, store.JobStatusScheduled)
	}
	return nil
}

// Stop asks the runtime to stop the container, captures its log tail, marks
// the Execution and Job stopped, and pushes a notify message. A later poll
// of the Execution finds it terminal and does nothing.
func (m *Monitor) Stop(ctx context.Context, executionID uuid.UUID) error {
	execution, err := m.store.GetExecutionByID(ctx, executionID)
	if err != nil {
		return fmt.Errorf("monitor: get execution %s: %w", executionID, err)
	}
	if execution == nil || execution.Status.Terminal() {
		return nil
	}

	if err := m.runtime.Stop(ctx, execution.ContainerHost, execution.ContainerID); err != nil {
		return fmt.Errorf("monitor: stop container: %w", err)
	}

	job, err := m.store.GetJobByID(ctx, execution.JobID)
	if err != nil {
		return fmt.Errorf("monitor: get job %s: %w", execution.JobID, err)
	}

	stdout, stderr, _ := m.runtime.Logs(ctx, execution.ContainerHost, execution.ContainerID, m.cfg.LogTailBytes)
	errMsg := "stopped by operator"
	if err := m.store.FinishExecution(ctx, nil, execution.ID, store.ExecutionStatusStopped, nil, &errMsg, stdout, stderr); err != nil {
		return fmt.Errorf("monitor: finish stopped execution: %w", err)
	}
	if job == nil {
		return nil
	}
	if err := m.store.SetJobStatus(ctx, nil, job.ID, store.JobStatusStopped); err != nil {
		return fmt.Errorf("monitor: set job status: %w", err)
	}
	payload, err := json.Marshal(notifyPayload{JobID: job.ID, Event: string(store.JobStatusStopped)})
	if err != nil {
		return err
	}
	if _, err := m.store.Push(ctx, nil, store.QueueNotify, job.ID, payload, time.Time{}); err != nil {
		return fmt.Errorf("monitor: push notify: %w", err)
	}
	return nil
}

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type monitorPayload struct {
	ExecutionID uuid.UUID `json:"execution_id"`
}

type dispatchPayload struct {
	JobID uuid.UUID `json:"job_id"`
}

type notifyPayload struct {
	JobID uuid.UUID `json:"job_id"`
	Event string    `json:"event"`
}
