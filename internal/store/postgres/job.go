package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"fastlane/internal/store"
)

// CreateJob inserts a new Job, implicitly ensuring its Task row exists.
func (s *Store) CreateJob(ctx context.Context, tx store.DBTransaction, job *store.Job) error {
	if err := s.EnsureTask(ctx, tx, job.TaskID); err != nil {
		return fmt.Errorf("create job: ensure task %s: %w", job.TaskID, err)
	}

	specJSON, err := json.Marshal(job.Spec)
	if err != nil {
		return fmt.Errorf("create job: marshal spec: %w", err)
	}
	scheduleJSON, err := json.Marshal(job.Schedule)
	if err != nil {
		return fmt.Errorf("create job: marshal schedule: %w", err)
	}

	executor := s.getExecutor(tx)
	_, err = executor.ExecContext(ctx, `
		INSERT INTO jobs (id, task_id, spec, schedule, status, created_at, last_modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, job.ID, job.TaskID, specJSON, scheduleJSON, job.Status, job.CreatedAt, job.LastModifiedAt)
	return err
}

// UpdateJobSpec replaces the spec/schedule of a Job.
func (s *Store) UpdateJobSpec(ctx context.Context, tx store.DBTransaction, jobID uuid.UUID, spec store.JobSpec, schedule store.Schedule) error {
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("update job spec: marshal spec: %w", err)
	}
	scheduleJSON, err := json.Marshal(schedule)
	if err != nil {
		return fmt.Errorf("update job spec: marshal schedule: %w", err)
	}

	executor := s.getExecutor(tx)
	_, err = executor.ExecContext(ctx, `
		UPDATE jobs SET spec = $1, schedule = $2, last_modified_at = now()
		WHERE id = $3
	`, specJSON, scheduleJSON, jobID)
	return err
}

func scanJob(row interface {
	Scan(dest ...interface{}) error
}) (*store.Job, error) {
	var job store.Job
	var specJSON, scheduleJSON []byte

	if err := row.Scan(&job.ID, &job.TaskID, &specJSON, &scheduleJSON, &job.Status, &job.CreatedAt, &job.LastModifiedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(specJSON, &job.Spec); err != nil {
		return nil, fmt.Errorf("scan job: unmarshal spec: %w", err)
	}
	if err := json.Unmarshal(scheduleJSON, &job.Schedule); err != nil {
		return nil, fmt.Errorf("scan job: unmarshal schedule: %w", err)
	}
	return &job, nil
}

func (s *Store) GetJobByID(ctx context.Context, id uuid.UUID) (*store.Job, error) {
	query := `SELECT id, task_id, spec, schedule, status, created_at, last_modified_at FROM jobs WHERE id = $1`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return job, nil
}

func (s *Store) ListJobsByTask(ctx context.Context, taskID string) ([]store.Job, error) {
	query := `
		SELECT id, task_id, spec, schedule, status, created_at, last_modified_at
		FROM jobs WHERE task_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []store.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (s *Store) SetJobStatus(ctx context.Context, tx store.DBTransaction, jobID uuid.UUID, status store.JobStatus) error {
	executor := s.getExecutor(tx)
	_, err := executor.ExecContext(ctx, `
		UPDATE jobs SET status = $1, last_modified_at = now() WHERE id = $2
	`, status, jobID)
	return err
}

// CreateExecution inserts the initial state of a new Execution.
func (s *Store) CreateExecution(ctx context.Context, tx store.DBTransaction, execution *store.Execution) error {
	cmdJSON, err := json.Marshal(execution.Command)
	if err != nil {
		return fmt.Errorf("create execution: marshal command: %w", err)
	}

	executor := s.getExecutor(tx)
	_, err = executor.ExecContext(ctx, `
		INSERT INTO executions (id, job_id, attempt, container_id, container_host, image, command, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, execution.ID, execution.JobID, execution.Attempt, execution.ContainerID, execution.ContainerHost,
		execution.Image, cmdJSON, execution.Status, execution.CreatedAt)
	return err
}

const executionColumns = `id, job_id, attempt, container_id, container_host, image, command, status,
	started_at, finished_at, exit_code, stdout, stderr, error, poll_count, created_at`

func scanExecution(row interface {
	Scan(dest ...interface{}) error
}) (*store.Execution, error) {
	var e store.Execution
	var cmdJSON []byte

	if err := row.Scan(
		&e.ID, &e.JobID, &e.Attempt, &e.ContainerID, &e.ContainerHost, &e.Image, &cmdJSON, &e.Status,
		&e.StartedAt, &e.FinishedAt, &e.ExitCode, &e.Stdout, &e.Stderr, &e.Error, &e.PollCount, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(cmdJSON, &e.Command); err != nil {
		return nil, fmt.Errorf("scan execution: unmarshal command: %w", err)
	}
	return &e, nil
}

func (s *Store) GetExecutionByID(ctx context.Context, id uuid.UUID) (*store.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`

	e, err := scanExecution(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

func (s *Store) ListExecutionsByJob(ctx context.Context, jobID uuid.UUID) ([]store.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE job_id = $1 ORDER BY attempt ASC`

	rows, err := s.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *Store) GetLatestExecution(ctx context.Context, jobID uuid.UUID) (*store.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE job_id = $1 ORDER BY attempt DESC LIMIT 1`

	e, err := scanExecution(s.db.QueryRowContext(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

// CompareAndSetExecutionStatus is the store's compare-and-set primitive: the
// UPDATE's WHERE clause pins the expected current status, so a losing writer
// affects zero rows rather than clobbering a status set by a faster racer.
func (s *Store) CompareAndSetExecutionStatus(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID, fromStatus, toStatus store.ExecutionStatus) (bool, error) {
	executor := s.getExecutor(tx)
	result, err := executor.ExecContext(ctx, `
		UPDATE executions SET status = $1 WHERE id = $2 AND status = $3
	`, toStatus, executionID, fromStatus)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) SetExecutionContainer(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID, host, containerID string) error {
	executor := s.getExecutor(tx)
	_, err := executor.ExecContext(ctx, `
		UPDATE executions SET container_host = $1, container_id = $2 WHERE id = $3
	`, host, containerID, executionID)
	return err
}

func (s *Store) SetExecutionStarted(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID, startedAt time.Time) error {
	executor := s.getExecutor(tx)
	_, err := executor.ExecContext(ctx, `
		UPDATE executions SET status = $1, started_at = $2 WHERE id = $3
	`, store.ExecutionStatusRunning, startedAt, executionID)
	return err
}

func (s *Store) IncrementPollCount(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID) (int, error) {
	executor := s.getExecutor(tx)
	var count int
	err := executor.QueryRowContext(ctx, `
		UPDATE executions SET poll_count = poll_count + 1 WHERE id = $1 RETURNING poll_count
	`, executionID).Scan(&count)
	return count, err
}

func (s *Store) CountRunningByHost(ctx context.Context, host string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM executions WHERE container_host = $1 AND status = $2
	`, host, store.ExecutionStatusRunning).Scan(&count)
	return count, err
}

func (s *Store) CountRunningByPool(ctx context.Context, hosts []string) (int64, error) {
	if len(hosts) == 0 {
		return 0, nil
	}
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM executions WHERE container_host = ANY($1) AND status = $2
	`, pq.Array(hosts), store.ExecutionStatusRunning).Scan(&count)
	return count, err
}

func (s *Store) ListNonTerminalExecutions(ctx context.Context) ([]store.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions
		WHERE status NOT IN ($1, $2, $3, $4, $5)
		ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query,
		store.ExecutionStatusDone, store.ExecutionStatusFailed, store.ExecutionStatusTimedOut,
		store.ExecutionStatusStopped, store.ExecutionStatusExpired)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *Store) FinishExecution(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID, status store.ExecutionStatus, exitCode *int, errMsg *string, stdout, stderr []byte) error {
	executor := s.getExecutor(tx)
	_, err := executor.ExecContext(ctx, `
		UPDATE executions
		SET status = $1, exit_code = $2, error = $3, stdout = $4, stderr = $5, finished_at = now()
		WHERE id = $6
	`, status, exitCode, errMsg, stdout, stderr, executionID)
	return err
}
