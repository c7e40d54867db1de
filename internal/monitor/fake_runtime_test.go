package monitor

import (
	"context"
	"io"
	"sync"

	"fastlane/internal/runtime"
)

// fakeRuntime is an in-memory stand-in for runtime.Runtime, configurable per
// test via its function fields.
type fakeRuntime struct {
	mu sync.Mutex

	inspectFn func(host, containerID string) (runtime.Inspection, error)
	logsFn    func(host, containerID string) (stdout, stderr []byte, err error)

	stopCalls   []string
	renameCalls []string
}

func (r *fakeRuntime) Pull(ctx context.Context, host, image string) error { return nil }

func (r *fakeRuntime) Create(ctx context.Context, host string, opts runtime.CreateOptions) (string, error) {
	return "", nil
}

func (r *fakeRuntime) Start(ctx context.Context, host, containerID string) error { return nil }

func (r *fakeRuntime) Stop(ctx context.Context, host, containerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopCalls = append(r.stopCalls, containerID)
	return nil
}

func (r *fakeRuntime) Inspect(ctx context.Context, host, containerID string) (runtime.Inspection, error) {
	if r.inspectFn != nil {
		return r.inspectFn(host, containerID)
	}
	return runtime.Inspection{Running: true}, nil
}

func (r *fakeRuntime) Logs(ctx context.Context, host, containerID string, tailBytes int64) ([]byte, []byte, error) {
	if r.logsFn != nil {
		return r.logsFn(host, containerID)
	}
	return nil, nil, nil
}

func (r *fakeRuntime) Rename(ctx context.Context, host, containerID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renameCalls = append(r.renameCalls, name)
	return nil
}

func (r *fakeRuntime) List(ctx context.Context, host, labelFilter string) ([]string, error) {
	return nil, nil
}

func (r *fakeRuntime) Remove(ctx context.Context, host, containerID string) error { return nil }

func (r *fakeRuntime) StreamLogs(ctx context.Context, host, containerID string) (io.ReadCloser, error) {
	return nil, nil
}
