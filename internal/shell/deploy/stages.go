package deploy

import (
	"context"
	"fmt"
	"strings"

	"github.com/artpar/deploycheck/internal/core/domain"
	"github.com/artpar/deploycheck/internal/core/monitoring"
	"github.com/artpar/deploycheck/internal/core/verification"
	"github.com/artpar/deploycheck/internal/shell/docker"
	"github.com/artpar/deploycheck/internal/shell/workers"
)

// =============================================================================
// Stage Labels and Exit Codes
// =============================================================================

const (
	StageBuild       = "build"
	StageStart       = "start"
	StageStartup     = "startup"
	StageCredentials = "credentials"
	StageEnv         = "env"
	StageHealth      = "health"
	StageAssets      = "assets"
	StageLogs        = "logs"
)

// Exit codes of fatal stage failures.
const (
	ExitBuild       = 10
	ExitStart       = 11
	ExitStartup     = 12
	ExitCredentials = 13
	ExitEnv         = 14
	ExitHealth      = 15
	ExitAssets      = 16
	ExitLogs        = 17
)

// detailLines caps how many output lines a failed check carries.
const detailLines = 10

// Stages returns the run's stages in execution order.
func (p *Pipeline) Stages() []verification.Stage {
	return []verification.Stage{
		{Label: StageBuild, Severity: domain.SeverityFatal, ExitCode: ExitBuild, Check: p.checkBuild},
		{Label: StageStart, Severity: domain.SeverityFatal, ExitCode: ExitStart, ContainerScoped: true, Check: p.checkStart},
		{Label: StageStartup, Severity: domain.SeverityFatal, ExitCode: ExitStartup, ContainerScoped: true, Check: p.checkStartup},
		{Label: StageCredentials, Severity: domain.SeverityWarning, ExitCode: ExitCredentials, Check: p.checkCredentials},
		{Label: StageEnv, Severity: severityOr(p.opts.EnvCheck.Severity, domain.SeverityWarning), ExitCode: ExitEnv, ContainerScoped: true, Check: p.checkEnv},
		{Label: StageHealth, Severity: severityOr(p.opts.Health.Severity, domain.SeverityFatal), ExitCode: ExitHealth, ContainerScoped: true, Check: p.checkHealth},
		{Label: StageAssets, Severity: domain.SeverityFatal, ExitCode: ExitAssets, ContainerScoped: true, Check: p.checkAssets},
		{Label: StageLogs, Severity: domain.SeverityFatal, ExitCode: ExitLogs, ContainerScoped: true, Check: p.checkLogs},
	}
}

func severityOr(s, fallback domain.Severity) domain.Severity {
	if s == "" {
		return fallback
	}
	return s
}

// =============================================================================
// Checks
// =============================================================================

func (p *Pipeline) checkBuild(ctx context.Context) error {
	img := p.opts.Image
	_, err := p.ctrl.BuildOrReuse(ctx, docker.BuildRequest{
		ImageRef:     img.Ref(),
		ForceRebuild: p.opts.ForceRebuild,
		ContextDir:   img.ContextDir,
		Dockerfile:   img.Dockerfile,
		GitURL:       img.GitURL,
		GitRef:       img.GitRef,
		Platform:     img.Platform,
		Output:       p.opts.BuildOutput,
	})
	return err
}

func (p *Pipeline) checkStart(ctx context.Context) error {
	c := p.opts.Container
	_, err := p.ctrl.Start(ctx, docker.StartRequest{
		Name:          c.Name,
		ImageRef:      p.opts.Image.Ref(),
		HostPort:      c.HostPort,
		ContainerPort: c.ContainerPort,
		EnvFile:       c.EnvFile,
		Platform:      p.opts.Image.Platform,
	})
	return err
}

// checkStartup runs the configured command inside the instance, or, with no
// command, requires the instance to still be running.
func (p *Pipeline) checkStartup(ctx context.Context) error {
	id := p.instanceID()
	if id == "" {
		return fmt.Errorf("%w: %w", domain.ErrStartupCheck, domain.ErrNoInstance)
	}

	if len(p.opts.Startup.Command) > 0 {
		res, err := p.ctrl.Exec(ctx, id, p.opts.Startup.Command)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrStartupCheck, err)
		}
		if res.ExitCode != 0 {
			output := strings.TrimSpace(res.Stderr + "\n" + res.Stdout)
			return domain.NewVerifyError(StageStartup,
				fmt.Sprintf("%q exited with code %d", strings.Join(p.opts.Startup.Command, " "), res.ExitCode),
				domain.ErrStartupCheck,
			).WithDetails(monitoring.Excerpt(output, detailLines))
		}
	} else {
		info, err := p.ctrl.Inspect(ctx, id)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrStartupCheck, err)
		}
		if info.Status != docker.ContainerStatusRunning {
			if info.Status == docker.ContainerStatusExited {
				if merr := p.ctrl.MarkSession(domain.SessionStopped); merr != nil {
					p.logger.Warn("session transition failed", "error", merr)
				}
			}
			return domain.NewVerifyError(StageStartup,
				fmt.Sprintf("instance is %s (exit code %d)", info.Status, info.ExitCode),
				domain.ErrStartupCheck,
			)
		}
	}

	return p.ctrl.MarkSession(domain.SessionRunning)
}

// checkCredentials lists integrations and reports expected ones that are
// absent or disconnected.
func (p *Pipeline) checkCredentials(ctx context.Context) error {
	records, err := p.creds.ListAll(p.opts.Credentials.Paths)
	if err != nil {
		return err
	}
	p.integrations = records

	names := make([]string, 0, len(records))
	for _, r := range records {
		names = append(names, r.Name)
	}
	p.logger.Info("integrations found", "count", len(records), "names", names)

	missing := domain.MissingIntegrations(records, p.opts.Credentials.Expected)
	if len(missing) > 0 {
		return domain.NewVerifyError(StageCredentials,
			fmt.Sprintf("%d expected integration(s) not connected", len(missing)),
			domain.ErrIntegrationMissing,
		).WithDetails(missing)
	}
	return nil
}

// checkEnv confirms the designated variable reached the instance unchanged.
func (p *Pipeline) checkEnv(ctx context.Context) error {
	name := p.opts.EnvCheck.Variable
	if name == "" {
		return nil
	}

	expected := p.opts.EnvCheck.Expected
	if expected == "" {
		if p.opts.Container.EnvFile == "" {
			return domain.NewVerifyError(StageEnv, "no env file and no expected value configured", domain.ErrEnvPassthrough)
		}
		env, err := docker.ReadEnvFile(p.opts.Container.EnvFile)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrEnvPassthrough, err)
		}
		v, ok := env[name]
		if !ok {
			return domain.NewVerifyError(StageEnv, fmt.Sprintf("%s is not defined in %s", name, p.opts.Container.EnvFile), domain.ErrEnvPassthrough)
		}
		expected = v
	}

	id := p.instanceID()
	if id == "" {
		return fmt.Errorf("%w: %w", domain.ErrEnvPassthrough, domain.ErrNoInstance)
	}

	res, err := p.ctrl.Exec(ctx, id, []string{"printenv", name})
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrEnvPassthrough, err)
	}
	if res.ExitCode != 0 {
		return domain.NewVerifyError(StageEnv, fmt.Sprintf("%s is not set inside the instance", name), domain.ErrEnvPassthrough)
	}

	got := strings.TrimRight(res.Stdout, "\r\n")
	if got != expected {
		return domain.NewVerifyError(StageEnv, fmt.Sprintf("%s differs inside the instance", name), domain.ErrEnvPassthrough).
			WithDetails([]string{"expected: " + expected, "actual: " + got})
	}
	return nil
}

// checkHealth waits for the readiness endpoint and records the session's
// health.
func (p *Pipeline) checkHealth(ctx context.Context) error {
	h := p.opts.Health
	if err := p.ctrl.MarkSession(domain.SessionHealthUnknown); err != nil {
		p.logger.Debug("session transition skipped", "error", err)
	}

	result, err := p.health.WaitUntilHealthy(ctx, h.BaseURL, h.Path, h.MaxAttempts, h.Interval)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrHealthTimeout, err)
	}

	if merr := p.ctrl.MarkSession(monitoring.SessionStatusFor(result)); merr != nil {
		p.logger.Debug("session transition skipped", "error", merr)
	}

	if !result.Ready {
		details := make([]string, 0, len(result.Attempts))
		for _, a := range result.Attempts {
			details = append(details, monitoring.DescribeAttempt(a))
		}
		return domain.NewVerifyError(StageHealth,
			fmt.Sprintf("%s %s", workers.JoinURL(h.BaseURL, h.Path), monitoring.SummarizeHealth(result, h.MaxAttempts)),
			domain.ErrHealthTimeout,
		).WithDetails(details)
	}
	return nil
}

func (p *Pipeline) checkAssets(ctx context.Context) error {
	url := workers.JoinURL(p.opts.Health.BaseURL, p.opts.Assets.Path)
	return p.health.CheckAsset(ctx, url, p.opts.Assets.Marker)
}

// checkLogs classifies the instance output and fails on critical or
// exception entries. Plain errors are only logged.
func (p *Pipeline) checkLogs(ctx context.Context) error {
	id := p.instanceID()
	if id == "" {
		return fmt.Errorf("%w: %w", domain.ErrLogFetch, domain.ErrNoInstance)
	}

	text, err := p.ctrl.Logs(ctx, id, p.opts.Logs.Tail)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrLogFetch, err)
	}

	c := monitoring.Classify(text)
	if !monitoring.IsAcceptable(c) {
		return domain.NewVerifyError(StageLogs,
			fmt.Sprintf("%d critical and %d exception entries", c.CriticalCount, c.ExceptionCount),
			domain.ErrLogSeverity,
		).WithDetails(monitoring.BlockingLines(c))
	}
	if c.ErrorCount > 0 {
		p.logger.Warn("instance logged errors", "count", c.ErrorCount)
	}
	return nil
}
