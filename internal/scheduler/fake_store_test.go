package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"fastlane/internal/store"
)

// fakeStore is an in-memory stand-in for store.Store, sized to exactly what
// the Scheduler touches. It is not a general-purpose mock.
type fakeStore struct {
	mu     sync.Mutex
	tasks  map[string]store.Task
	jobs   map[uuid.UUID]store.Job
	execs  map[uuid.UUID][]store.Execution
	pushed []pushedMessage
}

type pushedMessage struct {
	Queue   store.QueueName
	RefID   uuid.UUID
	Payload json.RawMessage
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks: make(map[string]store.Task),
		jobs:  make(map[uuid.UUID]store.Job),
		execs: make(map[uuid.UUID][]store.Execution),
	}
}

func (f *fakeStore) addJob(job store.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[job.TaskID] = store.Task{ID: job.TaskID}
	f.jobs[job.ID] = job
}

func (f *fakeStore) setLatestExecution(jobID uuid.UUID, e store.Execution) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs[jobID] = append(f.execs[jobID], e)
}

func (f *fakeStore) BeginTx(ctx context.Context) (store.Tx, error) { return &fakeTx{}, nil }
func (f *fakeStore) Ping(ctx context.Context) error                { return nil }

type fakeTx struct{}

func (t *fakeTx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return nil, nil
}
func (t *fakeTx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return nil, nil
}
func (t *fakeTx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return nil
}
func (t *fakeTx) Commit() error   { return nil }
func (t *fakeTx) Rollback() error { return nil }

func (f *fakeStore) EnsureTask(ctx context.Context, tx store.DBTransaction, taskID string) error {
	return nil
}
func (f *fakeStore) GetTaskByID(ctx context.Context, id string) (*store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}
func (f *fakeStore) ListTasks(ctx context.Context) ([]store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Task
	for _, t := range f.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeStore) CreateJob(ctx context.Context, tx store.DBTransaction, job *store.Job) error {
	f.addJob(*job)
	return nil
}
func (f *fakeStore) UpdateJobSpec(ctx context.Context, tx store.DBTransaction, jobID uuid.UUID, spec store.JobSpec, schedule store.Schedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[jobID]
	job.Spec = spec
	job.Schedule = schedule
	f.jobs[jobID] = job
	return nil
}
func (f *fakeStore) GetJobByID(ctx context.Context, id uuid.UUID) (*store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, nil
	}
	return &j, nil
}
func (f *fakeStore) ListJobsByTask(ctx context.Context, taskID string) ([]store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Job
	for _, j := range f.jobs {
		if j.TaskID == taskID {
			out = append(out, j)
		}
	}
	return out, nil
}
func (f *fakeStore) SetJobStatus(ctx context.Context, tx store.DBTransaction, jobID uuid.UUID, status store.JobStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[jobID]
	job.Status = status
	f.jobs[jobID] = job
	return nil
}
func (f *fakeStore) ListExecutionsByJob(ctx context.Context, jobID uuid.UUID) ([]store.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.execs[jobID], nil
}
func (f *fakeStore) CreateExecution(ctx context.Context, tx store.DBTransaction, execution *store.Execution) error {
	f.setLatestExecution(execution.JobID, *execution)
	return nil
}
func (f *fakeStore) GetExecutionByID(ctx context.Context, id uuid.UUID) (*store.Execution, error) {
	return nil, nil
}
func (f *fakeStore) GetLatestExecution(ctx context.Context, jobID uuid.UUID) (*store.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	execs := f.execs[jobID]
	if len(execs) == 0 {
		return nil, nil
	}
	latest := execs[len(execs)-1]
	return &latest, nil
}
func (f *fakeStore) CompareAndSetExecutionStatus(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID, fromStatus, toStatus store.ExecutionStatus) (bool, error) {
	return true, nil
}
func (f *fakeStore) SetExecutionContainer(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID, host, containerID string) error {
	return nil
}
func (f *fakeStore) SetExecutionStarted(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID, startedAt time.Time) error {
	return nil
}
func (f *fakeStore) FinishExecution(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID, status store.ExecutionStatus, exitCode *int, errMsg *string, stdout, stderr []byte) error {
	return nil
}
func (f *fakeStore) IncrementPollCount(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID) (int, error) {
	return 0, nil
}
func (f *fakeStore) CountRunningByHost(ctx context.Context, host string) (int64, error) {
	return 0, nil
}
func (f *fakeStore) CountRunningByPool(ctx context.Context, hosts []string) (int64, error) {
	return 0, nil
}
func (f *fakeStore) ListNonTerminalExecutions(ctx context.Context) ([]store.Execution, error) {
	return nil, nil
}

func (f *fakeStore) AppendLog(ctx context.Context, executionID uuid.UUID, stream, content string) error {
	return nil
}
func (f *fakeStore) GetLogs(ctx context.Context, executionID uuid.UUID, afterID int64, limit int) ([]store.LogEntry, error) {
	return nil, nil
}

func (f *fakeStore) GetHostState(ctx context.Context, host string) (store.HostState, error) {
	return store.HostState{Host: host}, nil
}
func (f *fakeStore) RecordHostFailure(ctx context.Context, host string, openUntil *time.Time) error {
	return nil
}
func (f *fakeStore) RecordHostSuccess(ctx context.Context, host string) error { return nil }
func (f *fakeStore) SetHostDisabled(ctx context.Context, host string, disabled bool) error {
	return nil
}

func (f *fakeStore) Push(ctx context.Context, tx store.DBTransaction, queue store.QueueName, referenceID uuid.UUID, payload json.RawMessage, visibleAfter time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, pushedMessage{Queue: queue, RefID: referenceID, Payload: payload})
	return int64(len(f.pushed)), nil
}
func (f *fakeStore) PopBatch(ctx context.Context, queue store.QueueName, limit int, vt time.Duration) ([]store.QueueItem, error) {
	return nil, nil
}
func (f *fakeStore) Ack(ctx context.Context, messageID int64) error                     { return nil }
func (f *fakeStore) Release(ctx context.Context, messageID int64, delay time.Duration) error { return nil }
func (f *fakeStore) ExtendVisibility(ctx context.Context, messageID int64, visibleAfter time.Time) error {
	return nil
}
func (f *fakeStore) Len(ctx context.Context, queue store.QueueName) (int64, error) { return 0, nil }
