package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"fastlane/internal/monitor"
	"fastlane/internal/redact"
	"fastlane/internal/runtime"
	"fastlane/internal/scheduler"
	"fastlane/internal/store"
)

// mockTx is a no-op store.Tx.
type mockTx struct{}

func (m *mockTx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return nil, nil
}
func (m *mockTx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return nil, nil
}
func (m *mockTx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return nil
}
func (m *mockTx) Commit() error   { return nil }
func (m *mockTx) Rollback() error { return nil }

// mockStore is a hand-rolled store.Store with per-call error injection and a
// handful of spy fields, sized to what the handlers package exercises.
type mockStore struct {
	beginTxErr error
	pingErr    error

	ensureTaskErr  error
	createJobErr   error
	getJobByIDResp *store.Job
	getJobByIDErr  error

	updateJobSpecErr error
	capturedSpec     store.JobSpec
	capturedSchedule store.Schedule

	listJobsByTaskResp []store.Job
	listJobsByTaskErr  error

	setJobStatusErr error

	listExecutionsByJobResp []store.Execution
	listExecutionsByJobErr  error

	getLatestExecutionResp *store.Execution
	getLatestExecutionErr  error

	listTasksResp []store.Task
	listTasksErr  error

	getTaskByIDResp *store.Task
	getTaskByIDErr  error

	getLogsResp []store.LogEntry
	getLogsErr  error

	appendLogErr error

	capturedAfterID int64
	capturedLimit   int
}

func (m *mockStore) BeginTx(ctx context.Context) (store.Tx, error) {
	if m.beginTxErr != nil {
		return nil, m.beginTxErr
	}
	return &mockTx{}, nil
}
func (m *mockStore) Ping(ctx context.Context) error { return m.pingErr }

func (m *mockStore) EnsureTask(ctx context.Context, tx store.DBTransaction, taskID string) error {
	return m.ensureTaskErr
}
func (m *mockStore) GetTaskByID(ctx context.Context, id string) (*store.Task, error) {
	return m.getTaskByIDResp, m.getTaskByIDErr
}
func (m *mockStore) ListTasks(ctx context.Context) ([]store.Task, error) {
	return m.listTasksResp, m.listTasksErr
}

func (m *mockStore) CreateJob(ctx context.Context, tx store.DBTransaction, job *store.Job) error {
	return m.createJobErr
}
func (m *mockStore) UpdateJobSpec(ctx context.Context, tx store.DBTransaction, jobID uuid.UUID, spec store.JobSpec, schedule store.Schedule) error {
	m.capturedSpec = spec
	m.capturedSchedule = schedule
	return m.updateJobSpecErr
}
func (m *mockStore) GetJobByID(ctx context.Context, id uuid.UUID) (*store.Job, error) {
	return m.getJobByIDResp, m.getJobByIDErr
}
func (m *mockStore) ListJobsByTask(ctx context.Context, taskID string) ([]store.Job, error) {
	return m.listJobsByTaskResp, m.listJobsByTaskErr
}
func (m *mockStore) SetJobStatus(ctx context.Context, tx store.DBTransaction, jobID uuid.UUID, status store.JobStatus) error {
	return m.setJobStatusErr
}
func (m *mockStore) ListExecutionsByJob(ctx context.Context, jobID uuid.UUID) ([]store.Execution, error) {
	return m.listExecutionsByJobResp, m.listExecutionsByJobErr
}
func (m *mockStore) CreateExecution(ctx context.Context, tx store.DBTransaction, execution *store.Execution) error {
	return nil
}
func (m *mockStore) GetExecutionByID(ctx context.Context, id uuid.UUID) (*store.Execution, error) {
	return m.getLatestExecutionResp, m.getLatestExecutionErr
}
func (m *mockStore) GetLatestExecution(ctx context.Context, jobID uuid.UUID) (*store.Execution, error) {
	return m.getLatestExecutionResp, m.getLatestExecutionErr
}
func (m *mockStore) CompareAndSetExecutionStatus(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID, fromStatus, toStatus store.ExecutionStatus) (bool, error) {
	return true, nil
}
func (m *mockStore) SetExecutionContainer(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID, host, containerID string) error {
	return nil
}
func (m *mockStore) SetExecutionStarted(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID, startedAt time.Time) error {
	return nil
}
func (m *mockStore) FinishExecution(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID, status store.ExecutionStatus, exitCode *int, errMsg *string, stdout, stderr []byte) error {
	return nil
}
func (m *mockStore) IncrementPollCount(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID) (int, error) {
	return 0, nil
}
func (m *mockStore) CountRunningByHost(ctx context.Context, host string) (int64, error) {
	return 0, nil
}
func (m *mockStore) CountRunningByPool(ctx context.Context, hosts []string) (int64, error) {
	return 0, nil
}
func (m *mockStore) ListNonTerminalExecutions(ctx context.Context) ([]store.Execution, error) {
	return nil, nil
}

func (m *mockStore) AppendLog(ctx context.Context, executionID uuid.UUID, stream, content string) error {
	return m.appendLogErr
}
func (m *mockStore) GetLogs(ctx context.Context, executionID uuid.UUID, afterID int64, limit int) ([]store.LogEntry, error) {
	m.capturedAfterID = afterID
	m.capturedLimit = limit
	return m.getLogsResp, m.getLogsErr
}

func (m *mockStore) GetHostState(ctx context.Context, host string) (store.HostState, error) {
	return store.HostState{Host: host}, nil
}
func (m *mockStore) RecordHostFailure(ctx context.Context, host string, openUntil *time.Time) error {
	return nil
}
func (m *mockStore) RecordHostSuccess(ctx context.Context, host string) error { return nil }
func (m *mockStore) SetHostDisabled(ctx context.Context, host string, disabled bool) error {
	return nil
}

func (m *mockStore) Push(ctx context.Context, tx store.DBTransaction, queue store.QueueName, referenceID uuid.UUID, payload json.RawMessage, visibleAfter time.Time) (int64, error) {
	return 1, nil
}
func (m *mockStore) PopBatch(ctx context.Context, queue store.QueueName, limit int, vt time.Duration) ([]store.QueueItem, error) {
	return nil, nil
}
func (m *mockStore) Ack(ctx context.Context, messageID int64) error { return nil }
func (m *mockStore) Release(ctx context.Context, messageID int64, delay time.Duration) error {
	return nil
}
func (m *mockStore) ExtendVisibility(ctx context.Context, messageID int64, visibleAfter time.Time) error {
	return nil
}
func (m *mockStore) Len(ctx context.Context, queue store.QueueName) (int64, error) { return 0, nil }

// mockRuntime is a no-op runtime.Runtime, sized to exercise the stream
// handler happy path.
type mockRuntime struct {
	streamReader io.ReadCloser
	streamErr    error
}

func (r *mockRuntime) Pull(ctx context.Context, host, image string) error { return nil }
func (r *mockRuntime) Create(ctx context.Context, host string, opts runtime.CreateOptions) (string, error) {
	return "container-1", nil
}
func (r *mockRuntime) Start(ctx context.Context, host, containerID string) error { return nil }
func (r *mockRuntime) Stop(ctx context.Context, host, containerID string) error  { return nil }
func (r *mockRuntime) Inspect(ctx context.Context, host, containerID string) (runtime.Inspection, error) {
	return runtime.Inspection{}, nil
}
func (r *mockRuntime) Logs(ctx context.Context, host, containerID string, tailBytes int64) ([]byte, []byte, error) {
	return nil, nil, nil
}
func (r *mockRuntime) Rename(ctx context.Context, host, containerID, name string) error { return nil }
func (r *mockRuntime) List(ctx context.Context, host, labelFilter string) ([]string, error) {
	return nil, nil
}
func (r *mockRuntime) Remove(ctx context.Context, host, containerID string) error { return nil }
func (r *mockRuntime) StreamLogs(ctx context.Context, host, containerID string) (io.ReadCloser, error) {
	return r.streamReader, r.streamErr
}

func newTestHandlers(mock *mockStore) *Handlers {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sched := scheduler.New(mock, scheduler.DefaultConfig(), log)
	mon := monitor.New(mock, &mockRuntime{}, nil, monitor.DefaultConfig())
	return New(mock, sched, mon, &mockRuntime{}, redact.Default())
}
