package monitor

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
// Monitor touches.
type fakeStore struct {
	mu         sync.Mutex
	jobs       map[uuid.UUID]store.Job
	execs      map[uuid.UUID]store.Execution
	pollCounts map[uuid.UUID]int
	pushed     []pushedMessage
	hostStates map[string]store.HostState
}

type pushedMessage struct {
	Queue        store.QueueName
	RefID        uuid.UUID
	Payload      json.RawMessage
	VisibleAfter time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:       make(map[uuid.UUID]store.Job),
		execs:      make(map[uuid.UUID]store.Execution),
		pollCounts: make(map[uuid.UUID]int),
		hostStates: make(map[string]store.HostState),
	}
}

func (f *fakeStore) addJob(job store.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = job
}

func (f *fakeStore) addExecution(e store.Execution) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs[e.ID] = e
}

func (f *fakeStore) getExecution(id uuid.UUID) store.Execution {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.execs[id]
}

func (f *fakeStore) getJob(id uuid.UUID) store.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[id]
}

func (f *fakeStore) BeginTx(ctx context.Context) (store.Tx, error) { return nil, sql.ErrTxDone }
func (f *fakeStore) Ping(ctx context.Context) error                { return nil }

func (f *fakeStore) EnsureTask(ctx context.Context, tx store.DBTransaction, taskID string) error {
	return nil
}
func (f *fakeStore) GetTaskByID(ctx context.Context, id string) (*store.Task, error) { return nil, nil }
func (f *fakeStore) ListTasks(ctx context.Context) ([]store.Task, error)             { return nil, nil }

func (f *fakeStore) CreateJob(ctx context.Context, tx store.DBTransaction, job *store.Job) error {
	f.addJob(*job)
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
	return nil, nil
}
func (f *fakeStore) CreateExecution(ctx context.Context, tx store.DBTransaction, execution *store.Execution) error {
	f.addExecution(*execution)
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
	return nil
}
func (f *fakeStore) SetExecutionStarted(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID, startedAt time.Time) error {
	return nil
}
func (f *fakeStore) FinishExecution(ctx context.Context, tx store.DBTransaction, executionID uuid.UUID, status store.ExecutionStatus, exitCode *int, errMsg *string, stdout, stderr []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.execs[executionID]
	if !ok {
		return nil
	}
	e.Status = status
	e.ExitCode = exitCode
	e.Error = errMsg
	e.Stdout = stdout
	e.Stderr = stderr
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
	f.mu.Lock()
	defer f.mu.Unlock()
	hs, ok := f.hostStates[host]
	if !ok {
		return store.HostState{Host: host}, nil
	}
	return hs, nil
}
func (f *fakeStore) RecordHostFailure(ctx context.Context, host string, openUntil *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	hs := f.hostStates[host]
	hs.Host = host
	hs.ConsecutiveFailures++
	hs.CircuitOpenUntil = openUntil
	f.hostStates[host] = hs
	return nil
}
func (f *fakeStore) RecordHostSuccess(ctx context.Context, host string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hostStates[host] = store.HostState{Host: host}
	return nil
}
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
	f.pushed = append(f.pushed, pushedMessage{Queue: queue, RefID: referenceID, Payload: payload, VisibleAfter: visibleAfter})
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
