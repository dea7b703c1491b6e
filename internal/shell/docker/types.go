// Package docker provides a Docker client and the container controller used
// to build, start, inspect and stop the instance under verification.
package docker

import (
	"context"
	"io"
	"time"
)

// =============================================================================
// Container Types
// =============================================================================

// ContainerSpec defines the specification for creating a container.
type ContainerSpec struct {
	Name     string
	Image    string
	Command  []string
	Env      map[string]string
	Labels   map[string]string
	Ports    []PortBinding
	Platform string // e.g., "linux/amd64"
}

// PortBinding defines a port mapping.
type PortBinding struct {
	ContainerPort int
	HostPort      int    // 0 for auto-assign
	Protocol      string // "tcp" or "udp"
	HostIP        string // "" for 0.0.0.0
}

// =============================================================================
// Container Info
// =============================================================================

// ContainerStatus represents the container status.
type ContainerStatus string

const (
	ContainerStatusCreated    ContainerStatus = "created"
	ContainerStatusRunning    ContainerStatus = "running"
	ContainerStatusPaused     ContainerStatus = "paused"
	ContainerStatusRestarting ContainerStatus = "restarting"
	ContainerStatusRemoving   ContainerStatus = "removing"
	ContainerStatusExited     ContainerStatus = "exited"
	ContainerStatusDead       ContainerStatus = "dead"
)

// ContainerInfo contains information about a container.
type ContainerInfo struct {
	ID        string
	Name      string
	Image     string
	Status    ContainerStatus
	Health    string // "healthy", "unhealthy", "starting", ""
	CreatedAt time.Time
	StartedAt *time.Time
	Ports     []PortBinding
	Labels    map[string]string
	ExitCode  int
}

// PublishesHostPort reports whether the container binds the given host port.
func (c ContainerInfo) PublishesHostPort(port int) bool {
	for _, p := range c.Ports {
		if p.HostPort == port {
			return true
		}
	}
	return false
}

// ShortID returns the 12 character form of the container ID.
func ShortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// =============================================================================
// Image Types
// =============================================================================

// BuildSpec defines an image build from a local context directory.
type BuildSpec struct {
	ContextDir string
	Dockerfile string // relative to ContextDir, default "Dockerfile"
	Tags       []string
	Platform   string
	NoCache    bool
	Output     io.Writer // build progress, nil to discard
}

// =============================================================================
// Exec Types
// =============================================================================

// ExecResult is the outcome of a command run inside a container.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// =============================================================================
// Options
// =============================================================================

// RemoveOptions defines options for removing containers.
type RemoveOptions struct {
	Force         bool
	RemoveVolumes bool
}

// ListOptions defines options for listing containers.
type ListOptions struct {
	All     bool              // Include stopped containers
	Filters map[string]string // e.g., {"label": "com.deploycheck.managed=true"}
}

// LogOptions defines options for container logs.
type LogOptions struct {
	Follow     bool
	Tail       string // "all" or number
	Timestamps bool
}

// =============================================================================
// Client Interface
// =============================================================================

// Client defines the Docker client interface.
type Client interface {
	// Container operations
	CreateContainer(ctx context.Context, spec ContainerSpec) (containerID string, err error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, timeout *time.Duration) error
	RemoveContainer(ctx context.Context, containerID string, opts RemoveOptions) error
	InspectContainer(ctx context.Context, containerID string) (*ContainerInfo, error)
	ListContainers(ctx context.Context, opts ListOptions) ([]ContainerInfo, error)
	ContainerLogs(ctx context.Context, containerID string, opts LogOptions) (io.ReadCloser, error)
	Exec(ctx context.Context, containerID string, cmd []string) (*ExecResult, error)

	// Image operations
	BuildImage(ctx context.Context, spec BuildSpec) error
	ImageExists(ctx context.Context, image string) (bool, error)

	// Health operations
	Ping(ctx context.Context) error
	Close() error
}

// =============================================================================
// Label Constants
// =============================================================================

const (
	LabelManaged = "com.deploycheck.managed"
	LabelPort    = "com.deploycheck.port"
)
