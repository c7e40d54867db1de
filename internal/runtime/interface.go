// Package runtime provides the ContainerRuntime contract the Runner and
// Monitor consume, plus the implementations fastlane ships: Docker hosts
// (the primary target), an exec-based runtime for local development, and an
// optional Kubernetes Job backend for pools that map a "host" onto a
// namespace instead of a daemon.
package runtime

import (
	"context"
	"io"
	"time"
)

// CreateOptions are the parameters for creating a container.
type CreateOptions struct {
	Image   string
	Command []string
	Env     map[string]string
}

// Inspection is the subset of container state the Monitor needs each poll.
type Inspection struct {
	Running    bool
	ExitCode   int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Runtime is the container host driver contract: any implementation
// (Docker, Kubernetes, a raw process) must provide these ten operations.
// Every method takes the host identifier the Dispatcher chose; an
// implementation that can address a container from its ID alone may ignore
// it.
type Runtime interface {
	Pull(ctx context.Context, host, image string) error
	Create(ctx context.Context, host string, opts CreateOptions) (containerID string, err error)
	Start(ctx context.Context, host, containerID string) error
	Stop(ctx context.Context, host, containerID string) error
	Inspect(ctx context.Context, host, containerID string) (Inspection, error)
	Logs(ctx context.Context, host, containerID string, tailBytes int64) (stdout, stderr []byte, err error)
	Rename(ctx context.Context, host, containerID, name string) error
	List(ctx context.Context, host, labelFilter string) ([]string, error)
	Remove(ctx context.Context, host, containerID string) error

	// StreamLogs returns a live-tailing reader for a running container,
	// used by the API's log-stream/WebSocket surface. It is independent of
	// the bounded Logs capture taken at terminal transition.
	StreamLogs(ctx context.Context, host, containerID string) (io.ReadCloser, error)
}

// Registry maps a configured runtime name to its constructor. cmd/worker
// does not use it: its buildRuntime picks the Runtime from FASTLANE_RUNTIME
// with a switch.
type Registry struct {
	constructors map[string]func() (Runtime, error)
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]func() (Runtime, error))}
}

// Register adds a named constructor.
func (r *Registry) Register(name string, ctor func() (Runtime, error)) {
	r.constructors[name] = ctor
}

// Build constructs the Runtime registered under name.
func (r *Registry) Build(name string) (Runtime, error) {
	ctor, ok := r.constructors[name]
	if !ok {
		return nil, &UnknownRuntimeError{Name: name}
	}
	return ctor()
}

// UnknownRuntimeError reports a request for an unregistered runtime name.
type UnknownRuntimeError struct{ Name string }

func (e *UnknownRuntimeError) Error() string {
	return "runtime: unknown runtime " + e.Name
}
