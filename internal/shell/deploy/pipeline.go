// Package deploy wires the controller, the probes and the credential reader
// into the ordered verification run.
package deploy

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/artpar/deploycheck/internal/core/domain"
	"github.com/artpar/deploycheck/internal/core/monitoring"
	"github.com/artpar/deploycheck/internal/core/verification"
	"github.com/artpar/deploycheck/internal/shell/docker"
)

// =============================================================================
// Collaborators
// =============================================================================

// Controller is the container lifecycle the pipeline drives.
type Controller interface {
	BuildOrReuse(ctx context.Context, req docker.BuildRequest) (docker.ImageHandle, error)
	Start(ctx context.Context, req docker.StartRequest) (*domain.DeploymentSession, error)
	Inspect(ctx context.Context, instanceID string) (*docker.ContainerInfo, error)
	Exec(ctx context.Context, instanceID string, cmd []string) (*docker.ExecResult, error)
	Logs(ctx context.Context, instanceID string, tail int) (string, error)
	Stop(ctx context.Context, instanceID string) error
	MarkSession(status domain.SessionStatus) error
	Session() *domain.DeploymentSession
}

// HealthChecker probes the instance over HTTP.
type HealthChecker interface {
	WaitUntilHealthy(ctx context.Context, baseURL, path string, maxAttempts int, interval time.Duration) (domain.HealthResult, error)
	CheckAsset(ctx context.Context, url, marker string) error
}

// CredentialReader lists integrations from the credential stores.
type CredentialReader interface {
	ListAll(paths []string) ([]domain.IntegrationRecord, error)
}

// HistoryStore persists finished reports.
type HistoryStore interface {
	SaveReport(ctx context.Context, report *domain.DeploymentReport) error
	DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// =============================================================================
// Options
// =============================================================================

// Options is the resolved run configuration.
type Options struct {
	Image       ImageOptions
	Container   ContainerOptions
	Startup     StartupOptions
	Credentials CredentialOptions
	EnvCheck    EnvCheckOptions
	Health      HealthOptions
	Assets      AssetOptions
	Logs        LogOptions

	ForceRebuild bool
	StopAfter    bool          // stop the instance even when the run succeeds
	Retention    time.Duration // prune history older than this, 0 keeps everything
	BuildOutput  io.Writer
}

// ImageOptions selects and builds the application image.
type ImageOptions struct {
	Name       string
	Tag        string
	Platform   string
	ContextDir string
	Dockerfile string
	GitURL     string
	GitRef     string
}

// Ref returns name:tag.
func (o ImageOptions) Ref() string {
	if o.Tag == "" {
		return o.Name
	}
	return o.Name + ":" + o.Tag
}

// ContainerOptions describes the instance to launch.
type ContainerOptions struct {
	Name          string
	HostPort      int
	ContainerPort int
	EnvFile       string
	StopTimeout   time.Duration
}

// StartupOptions configures the in-container startup check.
type StartupOptions struct {
	Command []string
}

// CredentialOptions configures the credential inspection.
type CredentialOptions struct {
	Paths    []string
	Expected []string
}

// EnvCheckOptions configures the environment pass-through check.
type EnvCheckOptions struct {
	Variable string
	Expected string // read from the env file when empty
	Severity domain.Severity
}

// HealthOptions configures the readiness wait.
type HealthOptions struct {
	BaseURL     string
	Path        string
	MaxAttempts int
	Interval    time.Duration
	Severity    domain.Severity
}

// AssetOptions configures the static asset check.
type AssetOptions struct {
	Path   string
	Marker string
}

// LogOptions configures log collection.
type LogOptions struct {
	Tail        int // 0 reads the full log
	ExcerptSize int
}

// =============================================================================
// Pipeline
// =============================================================================

// Config configures a Pipeline.
type Config struct {
	Controller  Controller
	Health      HealthChecker
	Credentials CredentialReader
	History     HistoryStore // optional
	Logger      *slog.Logger
	Options     Options

	// Orchestrator overrides are for tests.
	Now   func() time.Time
	NewID func() string
}

// Pipeline runs one verification of the application image.
type Pipeline struct {
	ctrl    Controller
	health  HealthChecker
	creds   CredentialReader
	history HistoryStore
	logger  *slog.Logger
	opts    Options
	orch    *verification.Orchestrator

	integrations []domain.IntegrationRecord
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := cfg.Options
	if opts.Logs.ExcerptSize <= 0 {
		opts.Logs.ExcerptSize = 20
	}
	if opts.Container.StopTimeout <= 0 {
		opts.Container.StopTimeout = 10 * time.Second
	}

	p := &Pipeline{
		ctrl:    cfg.Controller,
		health:  cfg.Health,
		creds:   cfg.Credentials,
		history: cfg.History,
		logger:  logger.With("component", "pipeline"),
		opts:    opts,
	}
	p.orch = verification.NewOrchestrator(verification.Config{
		Logger:  logger,
		Excerpt: p.excerpt,
		Now:     cfg.Now,
		NewID:   cfg.NewID,
	})
	return p
}

// Run executes every stage and returns the finished report. On a fatal
// failure, or when StopAfter is set, a still active instance is stopped
// before returning. The report is saved to history when a store is configured.
func (p *Pipeline) Run(ctx context.Context) *domain.DeploymentReport {
	report := p.orch.Run(ctx, p.Stages())

	report.ImageRef = p.opts.Image.Ref()
	report.Integrations = p.integrations
	session := p.ctrl.Session()
	if session != nil {
		report.InstanceID = session.InstanceID
		report.Port = session.Port
	}

	// Cleanup must still run after the caller's context was cancelled.
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.Container.StopTimeout+10*time.Second)
	defer cancel()

	if session != nil && session.Active() && (!report.Succeeded() || p.opts.StopAfter) {
		if err := p.ctrl.Stop(cleanupCtx, report.InstanceID); err != nil {
			p.logger.Error("failed to stop instance", "container", docker.ShortID(report.InstanceID), "error", err)
		}
	}

	p.record(cleanupCtx, report)
	return report
}

// record saves the report; failures never affect the run outcome.
func (p *Pipeline) record(ctx context.Context, report *domain.DeploymentReport) {
	if p.history == nil {
		return
	}
	if err := p.history.SaveReport(ctx, report); err != nil {
		p.logger.Warn("failed to save run history", "run_id", report.RunID, "error", err)
		return
	}
	if p.opts.Retention > 0 {
		cutoff := report.StartedAt.Add(-p.opts.Retention)
		if n, err := p.history.DeleteRunsBefore(ctx, cutoff); err != nil {
			p.logger.Warn("failed to prune run history", "error", err)
		} else if n > 0 {
			p.logger.Debug("pruned run history", "deleted", n)
		}
	}
}

// instanceID returns the running instance handle, or "" before start.
func (p *Pipeline) instanceID() string {
	if s := p.ctrl.Session(); s != nil {
		return s.InstanceID
	}
	return ""
}

// excerpt returns the tail of the instance log for failure display.
func (p *Pipeline) excerpt(ctx context.Context) []string {
	id := p.instanceID()
	if id == "" {
		return nil
	}

	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	text, err := p.ctrl.Logs(logCtx, id, p.opts.Logs.ExcerptSize)
	if err != nil {
		p.logger.Warn("failed to fetch log excerpt", "error", err)
		return nil
	}
	return monitoring.Excerpt(text, p.opts.Logs.ExcerptSize)
}
