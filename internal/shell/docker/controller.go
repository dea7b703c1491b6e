package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/artpar/deploycheck/internal/core/domain"
)

// =============================================================================
// Controller
// =============================================================================

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	Client      Client
	Logger      *slog.Logger
	StopTimeout time.Duration
}

// Controller builds the application image, owns the lifecycle of the single
// instance under verification, and exposes its logs.
type Controller struct {
	docker      Client
	logger      *slog.Logger
	stopTimeout time.Duration

	mu      sync.Mutex
	session *domain.DeploymentSession
}

// NewController creates a new Controller.
func NewController(cfg ControllerConfig) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.StopTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Controller{
		docker:      cfg.Client,
		logger:      logger.With("component", "controller"),
		stopTimeout: timeout,
	}
}

// BuildRequest describes how to obtain the application image.
type BuildRequest struct {
	ImageRef     string
	ForceRebuild bool
	ContextDir   string
	Dockerfile   string
	GitURL       string // when set, the context is cloned from here
	GitRef       string
	Platform     string
	Output       io.Writer
}

// ImageHandle identifies a built or reused image.
type ImageHandle struct {
	Ref   string
	Built bool
}

// StartRequest describes the instance to launch.
type StartRequest struct {
	Name          string
	ImageRef      string
	HostPort      int
	ContainerPort int // defaults to HostPort
	EnvFile       string
	Env           map[string]string // merged over the env file
	Platform      string
}

// Session returns the current deployment session, or nil before Start.
func (c *Controller) Session() *domain.DeploymentSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// MarkSession moves the current session to status. It is a no-op when no
// session exists.
func (c *Controller) MarkSession(status domain.SessionStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.session.Status == status {
		return nil
	}
	return c.session.Transition(status)
}

// BuildOrReuse returns a handle to req.ImageRef, building it when it is
// absent locally or when a rebuild is forced.
func (c *Controller) BuildOrReuse(ctx context.Context, req BuildRequest) (ImageHandle, error) {
	handle := ImageHandle{Ref: req.ImageRef}

	c.mu.Lock()
	c.session = domain.NewSession(req.ImageRef, 0)
	c.mu.Unlock()

	platform, err := NormalizePlatform(req.Platform)
	if err != nil {
		return handle, fmt.Errorf("%w: %w", domain.ErrBuild, err)
	}
	req.Platform = platform

	if !req.ForceRebuild {
		exists, err := c.docker.ImageExists(ctx, req.ImageRef)
		if err != nil {
			return handle, fmt.Errorf("%w: %w", domain.ErrBuild, err)
		}
		if exists {
			c.logger.Info("reusing existing image", "image", req.ImageRef)
			return handle, nil
		}
	}

	contextDir := req.ContextDir
	if req.GitURL != "" {
		dir, cleanup, err := CloneBuildContext(ctx, req.GitURL, req.GitRef, req.Output)
		if err != nil {
			return handle, fmt.Errorf("%w: %w", domain.ErrBuild, err)
		}
		defer cleanup()
		contextDir = dir
	}

	c.logger.Info("building image", "image", req.ImageRef, "context", contextDir, "platform", req.Platform)
	start := time.Now()

	err = c.docker.BuildImage(ctx, BuildSpec{
		ContextDir: contextDir,
		Dockerfile: req.Dockerfile,
		Tags:       []string{req.ImageRef},
		Platform:   req.Platform,
		NoCache:    req.ForceRebuild,
		Output:     req.Output,
	})
	if err != nil {
		return handle, fmt.Errorf("%w: %w", domain.ErrBuild, err)
	}

	c.logger.Info("image built", "image", req.ImageRef, "duration", time.Since(start).Round(time.Millisecond))
	handle.Built = true
	return handle, nil
}

// StopConflicting stops every running container publishing hostPort.
// Failures are logged and skipped; the returned IDs are those stopped.
func (c *Controller) StopConflicting(ctx context.Context, hostPort int) []string {
	containers, err := c.docker.ListContainers(ctx, ListOptions{})
	if err != nil {
		c.logger.Warn("failed to list containers", "error", err)
		return nil
	}

	var stopped []string
	for _, info := range containers {
		if !info.PublishesHostPort(hostPort) {
			continue
		}
		timeout := c.stopTimeout
		if err := c.docker.StopContainer(ctx, info.ID, &timeout); err != nil && !errors.Is(err, ErrContainerNotRunning) {
			c.logger.Warn("failed to stop conflicting container", "container", ShortID(info.ID), "port", hostPort, "error", err)
			continue
		}
		c.logger.Info("stopped conflicting container", "container", ShortID(info.ID), "name", info.Name, "port", hostPort)
		stopped = append(stopped, info.ID)
	}
	return stopped
}

// Start launches a detached instance of req.ImageRef with hostPort mapped.
// Any container already publishing the port is stopped first, and a stale
// container with the same name is removed.
func (c *Controller) Start(ctx context.Context, req StartRequest) (*domain.DeploymentSession, error) {
	platform, err := NormalizePlatform(req.Platform)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStart, err)
	}
	req.Platform = platform

	env := map[string]string{}
	if req.EnvFile != "" {
		fileEnv, err := ReadEnvFile(req.EnvFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrStart, err)
		}
		for k, v := range fileEnv {
			env[k] = v
		}
	}
	for k, v := range req.Env {
		env[k] = v
	}

	c.StopConflicting(ctx, req.HostPort)
	if req.Name != "" {
		c.removeStale(ctx, req.Name)
	}

	containerPort := req.ContainerPort
	if containerPort == 0 {
		containerPort = req.HostPort
	}

	c.mu.Lock()
	if c.session == nil || c.session.ImageRef != req.ImageRef || c.session.Status != domain.SessionBuilding {
		c.session = domain.NewSession(req.ImageRef, req.HostPort)
	}
	c.session.Port = req.HostPort
	c.mu.Unlock()

	id, err := c.docker.CreateContainer(ctx, ContainerSpec{
		Name:  req.Name,
		Image: req.ImageRef,
		Env:   env,
		Labels: map[string]string{
			LabelManaged: "true",
			LabelPort:    strconv.Itoa(req.HostPort),
		},
		Ports:    []PortBinding{{ContainerPort: containerPort, HostPort: req.HostPort}},
		Platform: req.Platform,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStart, err)
	}

	if err := c.docker.StartContainer(ctx, id); err != nil {
		_ = c.docker.RemoveContainer(ctx, id, RemoveOptions{Force: true})
		return nil, fmt.Errorf("%w: %w", domain.ErrStart, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.session.Attach(id); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStart, err)
	}

	c.logger.Info("instance started", "container", ShortID(id), "image", req.ImageRef, "port", req.HostPort)
	return c.session, nil
}

// removeStale force-removes a previously managed container named name.
func (c *Controller) removeStale(ctx context.Context, name string) {
	containers, err := c.docker.ListContainers(ctx, ListOptions{
		All:     true,
		Filters: map[string]string{"name": "^/" + name + "$"},
	})
	if err != nil {
		c.logger.Warn("failed to look up stale container", "name", name, "error", err)
		return
	}
	for _, info := range containers {
		if info.Name != name {
			continue
		}
		if err := c.docker.RemoveContainer(ctx, info.ID, RemoveOptions{Force: true}); err != nil && !errors.Is(err, ErrContainerNotFound) {
			c.logger.Warn("failed to remove stale container", "container", ShortID(info.ID), "error", err)
			continue
		}
		c.logger.Debug("removed stale container", "container", ShortID(info.ID), "name", name)
	}
}

// Inspect returns the runtime state of an instance.
func (c *Controller) Inspect(ctx context.Context, instanceID string) (*ContainerInfo, error) {
	return c.docker.InspectContainer(ctx, instanceID)
}

// Exec runs cmd inside the instance.
func (c *Controller) Exec(ctx context.Context, instanceID string, cmd []string) (*ExecResult, error) {
	return c.docker.Exec(ctx, instanceID, cmd)
}

// Logs returns the combined stdout and stderr of the instance. tail <= 0
// returns the full log.
func (c *Controller) Logs(ctx context.Context, instanceID string, tail int) (string, error) {
	opts := LogOptions{Tail: "all"}
	if tail > 0 {
		opts.Tail = strconv.Itoa(tail)
	}

	rc, err := c.docker.ContainerLogs(ctx, instanceID, opts)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if err := DemuxLogs(&buf, &buf, rc); err != nil {
		return "", NewDockerError("Logs", "container", instanceID, err.Error(), err)
	}
	return buf.String(), nil
}

// FollowLogs streams the instance log until ctx is cancelled or the
// instance exits.
func (c *Controller) FollowLogs(ctx context.Context, instanceID string, stdout, stderr io.Writer) error {
	rc, err := c.docker.ContainerLogs(ctx, instanceID, LogOptions{Follow: true, Tail: "all"})
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := DemuxLogs(stdout, stderr, rc); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// Stop stops the instance. Stopping an instance that is already stopped or
// gone is not an error.
func (c *Controller) Stop(ctx context.Context, instanceID string) error {
	timeout := c.stopTimeout
	err := c.docker.StopContainer(ctx, instanceID, &timeout)
	if err != nil && !errors.Is(err, ErrContainerNotRunning) && !errors.Is(err, ErrContainerNotFound) {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil && c.session.InstanceID == instanceID && c.session.Status != domain.SessionStopped {
		if terr := c.session.Transition(domain.SessionStopped); terr != nil {
			c.logger.Warn("session transition failed", "error", terr)
		}
	}

	c.logger.Info("instance stopped", "container", ShortID(instanceID))
	return nil
}
