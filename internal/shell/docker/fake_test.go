package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/docker/pkg/stdcopy"
)

// fakeClient is an in-memory Client for controller tests.
type fakeClient struct {
	mu sync.Mutex

	images     map[string]bool
	containers map[string]*ContainerInfo
	logs       map[string]string
	execResult *ExecResult
	nextID     int

	buildErr  error
	createErr error
	startErr  error
	stopErr   error
	listErr   error

	builds  []BuildSpec
	created []ContainerSpec
	stopped []string
	removed []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		images:     map[string]bool{},
		containers: map[string]*ContainerInfo{},
		logs:       map[string]string{},
	}
}

// addRunning registers a running container publishing hostPort.
func (f *fakeClient) addRunning(id, name string, hostPort int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[id] = &ContainerInfo{
		ID:     id,
		Name:   name,
		Status: ContainerStatusRunning,
		Ports:  []PortBinding{{ContainerPort: hostPort, HostPort: hostPort, Protocol: "tcp"}},
	}
}

func (f *fakeClient) CreateContainer(_ context.Context, spec ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextID++
	id := fmt.Sprintf("container%04d0000000000", f.nextID)
	f.created = append(f.created, spec)
	f.containers[id] = &ContainerInfo{
		ID:     id,
		Name:   spec.Name,
		Image:  spec.Image,
		Status: ContainerStatusCreated,
		Labels: spec.Labels,
		Ports:  spec.Ports,
	}
	return id, nil
}

func (f *fakeClient) StartContainer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	c, ok := f.containers[id]
	if !ok {
		return NewDockerError("StartContainer", "container", id, "container not found", ErrContainerNotFound)
	}
	c.Status = ContainerStatusRunning
	now := time.Now()
	c.StartedAt = &now
	return nil
}

func (f *fakeClient) StopContainer(_ context.Context, id string, _ *time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return f.stopErr
	}
	c, ok := f.containers[id]
	if !ok {
		return NewDockerError("StopContainer", "container", id, "container not found", ErrContainerNotFound)
	}
	if c.Status != ContainerStatusRunning {
		return NewDockerError("StopContainer", "container", id, "container is not running", ErrContainerNotRunning)
	}
	c.Status = ContainerStatusExited
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeClient) RemoveContainer(_ context.Context, id string, _ RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[id]; !ok {
		return NewDockerError("RemoveContainer", "container", id, "container not found", ErrContainerNotFound)
	}
	delete(f.containers, id)
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeClient) InspectContainer(_ context.Context, id string) (*ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return nil, NewDockerError("InspectContainer", "container", id, "container not found", ErrContainerNotFound)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeClient) ListContainers(_ context.Context, opts ListOptions) ([]ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []ContainerInfo
	for _, c := range f.containers {
		if !opts.All && c.Status != ContainerStatusRunning {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakeClient) ContainerLogs(_ context.Context, id string, _ LogOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[id]; !ok {
		return nil, NewDockerError("ContainerLogs", "container", id, "container not found", ErrContainerNotFound)
	}
	var buf bytes.Buffer
	w := stdcopy.NewStdWriter(&buf, stdcopy.Stdout)
	_, _ = w.Write([]byte(f.logs[id]))
	return io.NopCloser(&buf), nil
}

func (f *fakeClient) Exec(_ context.Context, id string, _ []string) (*ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[id]; !ok {
		return nil, NewDockerError("Exec", "container", id, "container not found", ErrContainerNotFound)
	}
	if f.execResult == nil {
		return &ExecResult{}, nil
	}
	return f.execResult, nil
}

func (f *fakeClient) BuildImage(_ context.Context, spec BuildSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds = append(f.builds, spec)
	if f.buildErr != nil {
		return f.buildErr
	}
	for _, tag := range spec.Tags {
		f.images[tag] = true
	}
	return nil
}

func (f *fakeClient) ImageExists(_ context.Context, image string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.images[image], nil
}

func (f *fakeClient) Ping(context.Context) error { return nil }
func (f *fakeClient) Close() error                { return nil }
