package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"fastlane/internal/store"
)

// fakeStore is an in-memory stand-in for store.Store, sized to what the
// Dispatcher, Runner, and Monitor touch when driven through the Worker.
type fakeStore struct {
	mu            sync.Mutex
	jobs          map[uuid.UUID]store.Job
	execs         map[uuid.UUID]store.Execution
	execsByJob    map[uuid.UUID][]uuid.UUID
	runningByHost map[string]int64
	hostStates    map[string]store.HostState
	pollCounts    map[uuid.UUID]int
	pushed        []pushedMessage
}

type pushedMessage struct {
	Queue   store.QueueName
	RefID   uuid.UUID
	Payload json.RawMessage
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:          make(map[uuid.UUID]store.Job),
		execs:         make(map[uuid.UUID]store.Execution),
		execsByJob:    make(map[uuid.UUID][]uuid.UUID),
		runningByHost: make(map[string]int64),
		hostStates:    make(map[string]store.HostState),
		pollCounts:    make(map[uuid.UUID]int),
	}
}

func (f *fakeStore) addJob(job store.Job) { f.jobs[job.ID] = job }
func (f *fakeStore) addExecution(execution store.Execution) {
	f.execs[execution.ID] = execution
	f.execsByJob[execution.JobID] = append(f.execsByJob[execution.JobID], execution.ID)
}
func (f *fakeStore) setRunning(host string, count int64) { f.runningByHost[host] = count }

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
func (f *fakeStore) GetTaskByID(ctx context.Context, id string) (*store.Task, error) { return nil, nil }
func (f *fakeStore) ListTasks(ctx context.Context) ([]store.Task, error)             { return nil, nil }

func (f *fakeStore) CreateJob(ctx context.Context, tx store.DBTransaction, job *store.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = *job
	return nil
}
func (f *fakeStore) UpdateJobSpec(ctx context.Context, tx store.DBTransaction, jobID uuid.UUID, spec store.JobSpec, schedule store.Schedule) error {
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
	return nil, nil
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
	var out []store.Execution
	for _, id := range f.execsByJob[jobID] {
		out = append(out, f.execs[id])
	}
	return out, nil
}
func (f *fakeStore) CreateExecution(ctx context.Context, tx store.DBTransaction, execution *store.Execution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs[execution.ID] = *execution
	f.execsByJob[execution.JobID] = append(f.execsByJob[execution.JobID], execution.ID)
	return nil
}
func (f *fakeStore) GetExecutionByID(ctx context.Context, id uuid.UUID) (*store.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.execs[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}
func (f *fakeStore) GetLatestExecution(ctx context.Context, jobID uuid.UUID) (*store.Execution, error) {
	return nil, nil
}
func (f *fakeStore) CompareAndSetExecutionStatus(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID, fromStatus, toStatus store.ExecutionStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.execs[executionID]
	if !ok || e.Status != fromStatus {
		return false, nil
	}
	e.Status = toStatus
	f.execs[executionID] = e
	return true, nil
}
func (f *fakeStore) SetExecutionContainer(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID, host, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.execs[executionID]
	e.ContainerHost = host
	e.ContainerID = containerID
	f.execs[executionID] = e
	return nil
}
func (f *fakeStore) SetExecutionStarted(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID, startedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.execs[executionID]
	e.StartedAt = &startedAt
	f.execs[executionID] = e
	return nil
}
func (f *fakeStore) FinishExecution(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID, status store.ExecutionStatus, exitCode *int, errMsg *string, stdout, stderr []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.execs[executionID]
	e.Status = status
	f.execs[executionID] = e
	return nil
}
func (f *fakeStore) IncrementPollCount(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCounts[executionID]++
	return f.pollCounts[executionID], nil
}
func (f *fakeStore) CountRunningByHost(ctx context.Context, host string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runningByHost[host], nil
}
func (f *fakeStore) CountRunningByPool(ctx context.Context, hosts []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total int64
	for _, h := range hosts {
		total += f.runningByHost[h]
	}
	return total, nil
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
	f.mu.Lock()
	defer f.mu.Unlock()
	hs, ok := f.hostStates[host]
	if !ok {
		return store.HostState{Host: host}, nil
	}
	return hs, nil
}
func (f *fakeStore) RecordHostFailure(ctx context.Context, host string, openUntil *time.Time) error {
	return nil
}
func (f *fakeStore) RecordHostSuccess(ctx context.Context, host string) error { return nil }
func (f *fakeStore) SetHostDisabled(ctx context.Context, host string, disabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	hs := f.hostStates[host]
	hs.Host = host
	hs.Disabled = disabled
	f.hostStates[host] = hs
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
func (f *fakeStore) Ack(ctx context.Context, messageID int64) error { return nil }
func (f *fakeStore) Release(ctx context.Context, messageID int64, delay time.Duration) error {
	return nil
}
func (f *fakeStore) ExtendVisibility(ctx context.Context, messageID int64, visibleAfter time.Time) error {
	return nil
}
func (f *fakeStore) Len(ctx context.Context, queue store.QueueName) (int64, error) { return 0, nil }
