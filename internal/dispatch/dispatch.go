package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"fastlane/internal/backoff"
	"fastlane/internal/store"
)

// Dispatcher assigns a due Job to a host within its matching pool and
// creates the Job's next Execution row, handing off to the Runner queue.
type Dispatcher struct {
	store   store.Store
	breaker *CircuitBreaker
	pools   []PoolConfig
}

// New builds a Dispatcher over the given pool configuration.
func New(s store.Store, pools []PoolConfig) *Dispatcher {
	return &Dispatcher{store: s, breaker: NewCircuitBreaker(s), pools: pools}
}

// ErrNoAvailableHosts is returned when no pool matches a Job and there is no
// default pool, or when every host in the matching pool is disabled or
// circuit-broken.
type ErrNoAvailableHosts struct{ TaskID string }

func (e *ErrNoAvailableHosts) Error() string {
	return fmt.Sprintf("dispatch: no available hosts for task %s", e.TaskID)
}

// ErrPoolSaturated is returned when a pool's aggregate running count is
// already at MaxRunning; the caller should requeue with back-off rather
// than fail the Job.
type ErrPoolSaturated struct{ TaskID string }

func (e *ErrPoolSaturated) Error() string {
	return fmt.Sprintf("dispatch: pool saturated for task %s", e.TaskID)
}

// Dispatch assigns jobID to a host and creates its next Execution, or
// returns ErrPoolSaturated / ErrNoAvailableHosts for the Worker loop to
// requeue with the appropriate back-off.
//
// The whole decision — existing-Execution check, saturation check, host
// selection, and the Execution insert itself — runs inside one transaction
// holding a pg_advisory_xact_lock keyed on the pool, so two concurrent
// deliveries of the same Job (or two Jobs racing for a pool's last slot)
// serialize instead of both reading a stale count and both committing.
func (d *Dispatcher) Dispatch(ctx context.Context, jobID uuid.UUID) error {
	job, err := d.store.GetJobByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("dispatch: get job %s: %w", jobID, err)
	}
	if job == nil {
		return fmt.Errorf("dispatch: job %s not found", jobID)
	}

	pool, ok := SelectPool(d.pools, job.TaskID)
	if !ok {
		return &ErrNoAvailableHosts{TaskID: job.TaskID}
	}

	tx, err := d.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("dispatch: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := lockPool(ctx, tx, pool); err != nil {
		return fmt.Errorf("dispatch: lock pool: %w", err)
	}

	execs, err := d.store.ListExecutionsByJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("dispatch: list executions: %w", err)
	}
	for _, e := range execs {
		if e.Status.Terminal() {
			continue
		}
		// A non-terminal Execution already exists for this Job — a duplicate
		// jobs-queue delivery, or a retry racing the Healer. Resume it rather
		// than creating a second Execution alongside it.
		if err := d.resumeExisting(ctx, tx, e); err != nil {
			return err
		}
		return tx.Commit()
	}

	if pool.MaxRunning > 0 {
		running, err := d.store.CountRunningByPool(ctx, pool.Hosts)
		if err != nil {
			return fmt.Errorf("dispatch: count running for pool: %w", err)
		}
		if running >= int64(pool.MaxRunning) {
			return &ErrPoolSaturated{TaskID: job.TaskID}
		}
	}

	host, err := d.selectHost(ctx, pool)
	if err != nil {
		if _, ok := err.(*ErrNoAvailableHosts); ok {
			return &ErrNoAvailableHosts{TaskID: job.TaskID}
		}
		return err
	}

	executionID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("dispatch: generate execution id: %w", err)
	}

	execution := &store.Execution{
		ID:            executionID,
		JobID:         job.ID,
		Attempt:       len(execs) + 1,
		ContainerHost: host,
		Image:         job.Spec.Image,
		Command:       job.Spec.Command,
		Status:        store.ExecutionStatusPulling,
		CreatedAt:     time.Now().UTC(),
	}

	if err := d.store.CreateExecution(ctx, tx, execution); err != nil {
		return fmt.Errorf("dispatch: create execution: %w", err)
	}
	if err := d.store.SetJobStatus(ctx, tx, job.ID, store.JobStatusRunning); err != nil {
		return fmt.Errorf("dispatch: set job status: %w", err)
	}

	payload, err := json.Marshal(runnerPayload{ExecutionID: execution.ID})
	if err != nil {
		return err
	}
	if _, err := d.store.Push(ctx, tx, store.QueueJobs, execution.ID, payload, time.Time{}); err != nil {
		return fmt.Errorf("dispatch: enqueue runner step: %w", err)
	}

	return tx.Commit()
}

// resumeExisting requeues a non-terminal Execution at whichever stage it
// already reached: the Monitor if it has a container, the Runner otherwise.
// Mirrors the Healer's own Reconcile branching for the same situation.
func (d *Dispatcher) resumeExisting(ctx context.Context, tx store.Tx, e store.Execution) error {
	if e.ContainerID != "" {
		payload, err := json.Marshal(monitorPayload{ExecutionID: e.ID})
		if err != nil {
			return err
		}
		if _, err := d.store.Push(ctx, tx, store.QueueMonitor, e.ID, payload, time.Time{}); err != nil {
			return fmt.Errorf("dispatch: requeue existing execution %s at monitor: %w", e.ID, err)
		}
		return nil
	}

	payload, err := json.Marshal(runnerPayload{ExecutionID: e.ID})
	if err != nil {
		return err
	}
	if _, err := d.store.Push(ctx, tx, store.QueueJobs, e.ID, payload, time.Time{}); err != nil {
		return fmt.Errorf("dispatch: requeue existing execution %s at runner: %w", e.ID, err)
	}
	return nil
}

// lockPool blocks until it holds the transaction-scoped advisory lock for
// pool, releasing automatically on commit or rollback. Keyed on the pool's
// sorted host set, which is stable across the pool's lifetime and shared by
// every Job that resolves to this pool, so it serializes exactly the
// selection/count decisions that race against each other.
func lockPool(ctx context.Context, tx store.Tx, pool PoolConfig) error {
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, poolLockKey(pool))
	return err
}

func poolLockKey(pool PoolConfig) string {
	hosts := append([]string(nil), pool.Hosts...)
	sort.Strings(hosts)
	return "dispatch-pool:" + strings.Join(hosts, ",")
}

type runnerPayload struct {
	ExecutionID uuid.UUID `json:"execution_id"`
}

type monitorPayload struct {
	ExecutionID uuid.UUID `json:"execution_id"`
}

// selectHost picks the enabled, non-circuit-broken host in pool with the
// fewest running Executions, breaking ties lexicographically.
func (d *Dispatcher) selectHost(ctx context.Context, pool PoolConfig) (string, error) {
	type candidate struct {
		host    string
		running int64
	}

	var candidates []candidate
	for _, host := range pool.Hosts {
		available, err := d.breaker.Available(ctx, host)
		if err != nil {
			return "", fmt.Errorf("dispatch: breaker check %s: %w", host, err)
		}
		if !available {
			continue
		}
		running, err := d.store.CountRunningByHost(ctx, host)
		if err != nil {
			return "", fmt.Errorf("dispatch: count running on %s: %w", host, err)
		}
		candidates = append(candidates, candidate{host: host, running: running})
	}

	if len(candidates) == 0 {
		return "", &ErrNoAvailableHosts{}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].running != candidates[j].running {
			return candidates[i].running < candidates[j].running
		}
		return candidates[i].host < candidates[j].host
	})

	return candidates[0].host, nil
}

// BackoffForSaturation is the requeue delay used by the Worker loop when
// Dispatch returns ErrPoolSaturated.
func BackoffForSaturation(attempt int) time.Duration {
	return backoff.PoolSaturated.Delay(attempt)
}
