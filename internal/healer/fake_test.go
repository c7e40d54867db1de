package healer

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"fastlane/internal/runtime"
	"fastlane/internal/store"
)

type fakeStore struct {
	mu         sync.Mutex
	nonTerminal []store.Execution
	pushed     []pushedMessage
}

type pushedMessage struct {
	Queue   store.QueueName
	RefID   uuid.UUID
	Payload json.RawMessage
}

func newFakeStore(nonTerminal []store.Execution) *fakeStore {
	return &fakeStore{nonTerminal: nonTerminal}
}

func (f *fakeStore) BeginTx(ctx context.Context) (store.Tx, error) { return nil, sql.ErrTxDone }
func (f *fakeStore) Ping(ctx context.Context) error                { return nil }

func (f *fakeStore) EnsureTask(ctx context.Context, tx store.DBTransaction, taskID string) error {
	return nil
}
func (f *fakeStore) GetTaskByID(ctx context.Context, id string) (*store.Task, error) { return nil, nil }
func (f *fakeStore) ListTasks(ctx context.Context) ([]store.Task, error)             { return nil, nil }

func (f *fakeStore) CreateJob(ctx context.Context, tx store.DBTransaction, job *store.Job) error {
	return nil
}
func (f *fakeStore) UpdateJobSpec(ctx context.Context, tx store.DBTransaction, jobID uuid.UUID, spec store.JobSpec, schedule store.Schedule) error {
	return nil
}
func (f *fakeStore) GetJobByID(ctx context.Context, id uuid.UUID) (*store.Job, error) {
	return nil, nil
}
func (f *fakeStore) ListJobsByTask(ctx context.Context, taskID string) ([]store.Job, error) {
	return nil, nil
}
func (f *fakeStore) SetJobStatus(ctx context.Context, tx store.DBTransaction, jobID uuid.UUID, status store.JobStatus) error {
	return nil
}
func (f *fakeStore) ListExecutionsByJob(ctx context.Context, jobID uuid.UUID) ([]store.Execution, error) {
	return nil, nil
}
func (f *fakeStore) CreateExecution(ctx context.Context, tx store.DBTransaction, execution *store.Execution) error {
	return nil
}
func (f *fakeStore) GetExecutionByID(ctx context.Context, id uuid.UUID) (*store.Execution, error) {
	return nil, nil
}
func (f *fakeStore) GetLatestExecution(ctx context.Context, jobID uuid.UUID) (*store.Execution, error) {
	return nil, nil
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
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonTerminal, nil
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
func (f *fakeStore) Ack(ctx context.Context, messageID int64) error { return nil }
func (f *fakeStore) Release(ctx context.Context, messageID int64, delay time.Duration) error {
	return nil
}
func (f *fakeStore) ExtendVisibility(ctx context.Context, messageID int64, visibleAfter time.Time) error {
	return nil
}
func (f *fakeStore) Len(ctx context.Context, queue store.QueueName) (int64, error) { return 0, nil }

type fakeRuntime struct {
	mu        sync.Mutex
	listing   map[string][]string
	removed   []string
}

func (r *fakeRuntime) Pull(ctx context.Context, host, image string) error { return nil }
func (r *fakeRuntime) Create(ctx context.Context, host string, opts runtime.CreateOptions) (string, error) {
	return "", nil
}
func (r *fakeRuntime) Start(ctx context.Context, host, containerID string) error { return nil }
func (r *fakeRuntime) Stop(ctx context.Context, host, containerID string) error  { return nil }
func (r *fakeRuntime) Inspect(ctx context.Context, host, containerID string) (runtime.Inspection, error) {
	return runtime.Inspection{}, nil
}
func (r *fakeRuntime) Logs(ctx context.Context, host, containerID string, tailBytes int64) ([]byte, []byte, error) {
	return nil, nil, nil
}
func (r *fakeRuntime) Rename(ctx context.Context, host, containerID, name string) error { return nil }
func (r *fakeRuntime) List(ctx context.Context, host, labelFilter string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listing[host], nil
}
func (r *fakeRuntime) Remove(ctx context.Context, host, containerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, containerID)
	return nil
}
func (r *fakeRuntime) StreamLogs(ctx context.Context, host, containerID string) (io.ReadCloser, error) {
	return nil, nil
}
