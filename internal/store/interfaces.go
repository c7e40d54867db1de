package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx. This
// allows repository methods to accept either a connection pool or an active
// transaction.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Tx is a DBTransaction that can be committed or rolled back.
type Tx interface {
	DBTransaction
	Commit() error
	Rollback() error
}

// TaskStore handles persistence of Tasks.
type TaskStore interface {
	// EnsureTask creates the Task row if it does not already exist. Tasks are
	// created implicitly by the first Job that references a given TaskID.
	EnsureTask(ctx context.Context, tx DBTransaction, taskID string) error

	// GetTaskByID returns a Task by its ID.
	GetTaskByID(ctx context.Context, id string) (*Task, error)

	// ListTasks returns all known Tasks.
	ListTasks(ctx context.Context) ([]Task, error)
}

// JobStore handles persistence of Job definitions and their Execution
// history.
type JobStore interface {
	// CreateJob inserts a new Job.
	CreateJob(ctx context.Context, tx DBTransaction, job *Job) error

	// UpdateJobSpec replaces the spec/schedule of a Job that has not yet
	// started running.
	UpdateJobSpec(ctx context.Context, tx DBTransaction, jobID uuid.UUID, spec JobSpec, schedule Schedule) error

	// GetJobByID returns a Job by its ID.
	GetJobByID(ctx context.Context, id uuid.UUID) (*Job, error)

	// ListJobsByTask returns all Jobs for a Task, most recent first.
	ListJobsByTask(ctx context.Context, taskID string) ([]Job, error)

	// SetJobStatus transitions a Job's derived status.
	SetJobStatus(ctx context.Context, tx DBTransaction, jobID uuid.UUID, status JobStatus) error

	// ListExecutionsByJob returns a Job's Executions in attempt order.
	ListExecutionsByJob(ctx context.Context, jobID uuid.UUID) ([]Execution, error)

	// CreateExecution inserts the initial (pulling) state of a new
	// Execution.
	CreateExecution(ctx context.Context, tx DBTransaction, execution *Execution) error

	// GetExecutionByID returns an Execution by its ID.
	GetExecutionByID(ctx context.Context, id uuid.UUID) (*Execution, error)

	// GetLatestExecution returns the most recent Execution for a Job.
	GetLatestExecution(ctx context.Context, jobID uuid.UUID) (*Execution, error)

	// CompareAndSetExecutionStatus performs the compare-and-set described in
	// the concurrency model: it transitions an Execution from fromStatus to
	// toStatus only if its current stored status still equals fromStatus,
	// and reports whether the write won the race.
	CompareAndSetExecutionStatus(ctx context.Context, tx DBTransaction, executionID uuid.UUID, fromStatus, toStatus ExecutionStatus) (bool, error)

	// SetExecutionContainer records the host/container assignment made by
	// the Dispatcher and Runner.
	SetExecutionContainer(ctx context.Context, tx DBTransaction, executionID uuid.UUID, host, containerID string) error

	// SetExecutionStarted stamps StartedAt and transitions to running.
	SetExecutionStarted(ctx context.Context, tx DBTransaction, executionID uuid.UUID, startedAt time.Time) error

	// FinishExecution stamps the terminal state of an Execution: status,
	// exit code, error message, and tail-truncated logs.
	FinishExecution(ctx context.Context, tx DBTransaction, executionID uuid.UUID, status ExecutionStatus, exitCode *int, errMsg *string, stdout, stderr []byte) error

	// IncrementPollCount bumps an Execution's poll counter, used to compute
	// the monitor back-off delay.
	IncrementPollCount(ctx context.Context, tx DBTransaction, executionID uuid.UUID) (int, error)

	// CountRunningByHost returns the number of running Executions currently
	// assigned to a given host.
	CountRunningByHost(ctx context.Context, host string) (int64, error)

	// CountRunningByPool returns the number of running Executions currently
	// assigned to any of the given hosts.
	CountRunningByPool(ctx context.Context, hosts []string) (int64, error)

	// ListNonTerminalExecutions returns every Execution not yet in a
	// terminal state, for Healer startup reconciliation.
	ListNonTerminalExecutions(ctx context.Context) ([]Execution, error)
}

// LogEntry is one chunk of streamed Execution output.
type LogEntry struct {
	ID          int64
	ExecutionID uuid.UUID
	Stream      string // "stdout" or "stderr"
	Content     string
	CreatedAt   time.Time
}

// LogStore handles the live log feed, distinct from the terminal
// stdout/stderr tail persisted on the Execution row.
type LogStore interface {
	AppendLog(ctx context.Context, executionID uuid.UUID, stream, content string) error
	GetLogs(ctx context.Context, executionID uuid.UUID, afterID int64, limit int) ([]LogEntry, error)
}

// HostState is the Dispatcher's circuit-breaker bookkeeping for one host.
type HostState struct {
	Host                string
	Disabled            bool
	ConsecutiveFailures int
	CircuitOpenUntil    *time.Time
}

// HostStore persists host administrative state (disabled flag) and circuit
// breaker bookkeeping, so they survive process restarts and are shared
// across worker processes.
type HostStore interface {
	GetHostState(ctx context.Context, host string) (HostState, error)
	RecordHostFailure(ctx context.Context, host string, openUntil *time.Time) error
	RecordHostSuccess(ctx context.Context, host string) error
	SetHostDisabled(ctx context.Context, host string, disabled bool) error
}

// Pinger reports whether the underlying store connection is healthy.
type Pinger interface {
	Ping(ctx context.Context) error
}

// TxBeginner starts a new transaction against the store.
type TxBeginner interface {
	BeginTx(ctx context.Context) (Tx, error)
}

// Store is the full persistence surface the core consumes: Task/Job/
// Execution model, logs, and host state, plus the Queue primitive (defined
// in queue.go).
type Store interface {
	TxBeginner
	Pinger
	TaskStore
	JobStore
	LogStore
	HostStore
	Queue
}
