package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"

	"fastlane/internal/ferrors"
)

// DockerRuntime implements Runtime against a pool of Docker daemons, one
// client per configured host. Hosts are addressed by the same identifiers
// the Dispatcher's pool configuration names.
type DockerRuntime struct {
	mu      sync.RWMutex
	clients map[string]*client.Client
	// endpoints maps a host identifier to its DOCKER_HOST-style endpoint
	// (e.g. "tcp://10.0.0.5:2375"); used to lazily connect.
	endpoints map[string]string
}

// NewDockerRuntime builds a DockerRuntime over the given host -> endpoint
// map, taken from the DOCKER_HOSTS pool configuration.
func NewDockerRuntime(endpoints map[string]string) *DockerRuntime {
	return &DockerRuntime{
		clients:   make(map[string]*client.Client),
		endpoints: endpoints,
	}
}

func (d *DockerRuntime) clientFor(host string) (*client.Client, error) {
	d.mu.RLock()
	cli, ok := d.clients[host]
	d.mu.RUnlock()
	if ok {
		return cli, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if cli, ok := d.clients[host]; ok {
		return cli, nil
	}

	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if endpoint, ok := d.endpoints[host]; ok && endpoint != "" {
		opts = append(opts, client.WithHost(endpoint))
	} else {
		opts = append(opts, client.FromEnv)
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker runtime: connect to host %s: %w", host, err)
	}
	d.clients[host] = cli
	return cli, nil
}

func mapToEnvList(m map[string]string) []string {
	env := make([]string, 0, len(m))
	for k, v := range m {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

func (d *DockerRuntime) Pull(ctx context.Context, host, img string) error {
	cli, err := d.clientFor(host)
	if err != nil {
		return err
	}

	if _, _, err := cli.ImageInspectWithRaw(ctx, img); err == nil {
		return nil // already present locally
	}

	reader, err := cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		wrapped := fmt.Errorf("docker runtime: pull %s on %s: %w", img, host, err)
		if errdefs.IsNotFound(err) || errdefs.IsUnauthorized(err) || errdefs.IsForbidden(err) {
			return ferrors.Permanent(wrapped)
		}
		return ferrors.Transient(wrapped)
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

func (d *DockerRuntime) Create(ctx context.Context, host string, opts CreateOptions) (string, error) {
	cli, err := d.clientFor(host)
	if err != nil {
		return "", err
	}

	cfg := &container.Config{
		Image: opts.Image,
		Cmd:   opts.Command,
		Env:   mapToEnvList(opts.Env),
	}
	resp, err := cli.ContainerCreate(ctx, cfg, nil, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("docker runtime: create on %s: %w", host, err)
	}
	return resp.ID, nil
}

func (d *DockerRuntime) Start(ctx context.Context, host, containerID string) error {
	cli, err := d.clientFor(host)
	if err != nil {
		return err
	}
	if err := cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("docker runtime: start %s on %s: %w", containerID, host, err)
	}
	return nil
}

func (d *DockerRuntime) Stop(ctx context.Context, host, containerID string) error {
	cli, err := d.clientFor(host)
	if err != nil {
		return err
	}
	timeout := 5
	if err := cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("docker runtime: stop %s on %s: %w", containerID, host, err)
	}
	return nil
}

func (d *DockerRuntime) Inspect(ctx context.Context, host, containerID string) (Inspection, error) {
	cli, err := d.clientFor(host)
	if err != nil {
		return Inspection{}, err
	}
	info, err := cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return Inspection{}, fmt.Errorf("docker runtime: inspect %s on %s: %w", containerID, host, err)
	}

	insp := Inspection{Running: info.State.Running, ExitCode: info.State.ExitCode}
	if t, err := time.Parse(time.RFC3339Nano, info.State.StartedAt); err == nil {
		insp.StartedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, info.State.FinishedAt); err == nil {
		insp.FinishedAt = t
	}
	return insp, nil
}

func (d *DockerRuntime) Logs(ctx context.Context, host, containerID string, tailBytes int64) (stdout, stderr []byte, err error) {
	cli, err := d.clientFor(host)
	if err != nil {
		return nil, nil, err
	}

	rc, err := cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, nil, fmt.Errorf("docker runtime: logs %s on %s: %w", containerID, host, err)
	}
	defer rc.Close()

	var out, errBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &errBuf, rc); err != nil && err != io.EOF {
		return nil, nil, fmt.Errorf("docker runtime: demux logs %s: %w", containerID, err)
	}

	return tailN(out.Bytes(), tailBytes), tailN(errBuf.Bytes(), tailBytes), nil
}

func (d *DockerRuntime) Rename(ctx context.Context, host, containerID, name string) error {
	cli, err := d.clientFor(host)
	if err != nil {
		return err
	}
	if err := cli.ContainerRename(ctx, containerID, name); err != nil {
		return fmt.Errorf("docker runtime: rename %s on %s: %w", containerID, host, err)
	}
	return nil
}

func (d *DockerRuntime) List(ctx context.Context, host, labelFilter string) ([]string, error) {
	cli, err := d.clientFor(host)
	if err != nil {
		return nil, err
	}
	containers, err := cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("docker runtime: list on %s: %w", host, err)
	}

	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		for _, n := range c.Names {
			if labelFilter == "" || containsSubstring(n, labelFilter) {
				ids = append(ids, c.ID)
				break
			}
		}
	}
	return ids, nil
}

func (d *DockerRuntime) Remove(ctx context.Context, host, containerID string) error {
	cli, err := d.clientFor(host)
	if err != nil {
		return err
	}
	if err := cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("docker runtime: remove %s on %s: %w", containerID, host, err)
	}
	return nil
}

func (d *DockerRuntime) StreamLogs(ctx context.Context, host, containerID string) (io.ReadCloser, error) {
	cli, err := d.clientFor(host)
	if err != nil {
		return nil, err
	}
	rc, err := cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true, Follow: true})
	if err != nil {
		return nil, fmt.Errorf("docker runtime: stream logs %s on %s: %w", containerID, host, err)
	}
	return rc, nil
}

func containsSubstring(haystack, needle string) bool {
	return len(needle) == 0 || (len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func tailN(b []byte, n int64) []byte {
	if n <= 0 || int64(len(b)) <= n {
		return b
	}
	return b[int64(len(b))-n:]
}
