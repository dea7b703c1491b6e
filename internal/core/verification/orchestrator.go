package verification

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/artpar/deploycheck/internal/core/domain"
	"github.com/google/uuid"
)

// =============================================================================
// Stage Definitions
// =============================================================================

// CheckFunc performs one verification step. A nil return passes the stage.
type CheckFunc func(ctx context.Context) error

// Stage declares one step of a run.
type Stage struct {
	Label    string
	Severity domain.Severity
	ExitCode int // Process exit code when this stage fails fatally

	// ContainerScoped stages get a log excerpt attached on fatal failure.
	ContainerScoped bool

	Check CheckFunc
}

// ExcerptFunc fetches recent instance output for a failed stage.
type ExcerptFunc func(ctx context.Context) []string

// =============================================================================
// Orchestrator
// =============================================================================

// Config configures an Orchestrator.
type Config struct {
	Logger  *slog.Logger
	Excerpt ExcerptFunc
	Now     func() time.Time
	NewID   func() string
}

// Orchestrator executes stage sequences.
type Orchestrator struct {
	logger  *slog.Logger
	excerpt ExcerptFunc
	now     func() time.Time
	newID   func() string
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.New().String() }
	}
	return &Orchestrator{
		logger:  cfg.Logger.With("component", "orchestrator"),
		excerpt: cfg.Excerpt,
		now:     cfg.Now,
		newID:   cfg.NewID,
	}
}

// Run executes stages in order and returns the finished report.
func (o *Orchestrator) Run(ctx context.Context, stages []Stage) *domain.DeploymentReport {
	report := &domain.DeploymentReport{
		RunID:     o.newID(),
		State:     domain.RunNotStarted,
		Outcome:   domain.OutcomeSuccess,
		Stages:    make([]domain.VerificationStage, len(stages)),
		StartedAt: o.now().UTC(),
	}
	for i, s := range stages {
		report.Stages[i] = domain.VerificationStage{
			Label:    s.Label,
			Severity: s.Severity,
			Result:   domain.ResultPending,
		}
	}

	report.State = domain.RunRunning
	o.logger.Info("verification started", "run_id", report.RunID, "stages", len(stages))

	for i, stage := range stages {
		if err := ctx.Err(); err != nil {
			o.logger.Warn("verification cancelled", "run_id", report.RunID, "next_stage", stage.Label)
			report.State = domain.RunCancelled
			break
		}

		result := &report.Stages[i]
		o.runStage(ctx, stage, result)

		if !result.Failed() {
			continue
		}

		// A check cut short by cancellation did not fail on its own merits.
		if ctx.Err() != nil {
			o.logger.Warn("verification cancelled", "run_id", report.RunID, "stage", stage.Label)
			markCancelled(result)
			report.State = domain.RunCancelled
			break
		}

		if stage.Severity == domain.SeverityWarning {
			o.logger.Warn("stage failed, continuing",
				"stage", stage.Label,
				"error", result.Message,
			)
			continue
		}

		o.logger.Error("fatal stage failed, halting",
			"stage", stage.Label,
			"error", result.Message,
			"exit_code", stage.ExitCode,
		)
		if stage.ContainerScoped && o.excerpt != nil {
			result.LogExcerpt = o.excerpt(ctx)
		}
		report.State = domain.RunHaltedFatal
		report.Outcome = domain.OutcomeFailure
		report.ExitCode = stage.ExitCode
		break
	}

	switch report.State {
	case domain.RunRunning:
		report.State = domain.RunCompleted
	case domain.RunCancelled:
		report.Outcome = domain.OutcomeFailure
		report.ExitCode = ExitCancelled
	}
	report.FinishedAt = o.now().UTC()

	o.logger.Info("verification finished",
		"run_id", report.RunID,
		"outcome", report.Outcome,
		"exit_code", report.ExitCode,
		"warnings", len(report.Warnings()),
	)
	return report
}

// runStage executes one check and records its result.
func (o *Orchestrator) runStage(ctx context.Context, stage Stage, result *domain.VerificationStage) {
	started := o.now().UTC()
	result.StartedAt = &started

	o.logger.Debug("stage started", "stage", stage.Label, "severity", stage.Severity)

	var err error
	if stage.Check == nil {
		err = errors.New("stage has no check")
	} else {
		err = safeCheck(ctx, stage.Check)
	}
	result.Duration = o.now().Sub(started)

	if err == nil {
		result.Result = domain.ResultPassed
		o.logger.Info("stage passed", "stage", stage.Label, "duration", result.Duration)
		return
	}

	result.Result = domain.ResultFailed
	result.Message = err.Error()
	result.ErrorKind = domain.ErrorKind(err)
	result.Details = domain.ErrorDetails(err)
	if stage.Severity == domain.SeverityFatal {
		result.ExitCode = stage.ExitCode
	}
}

// safeCheck runs a check and turns a panic into a stage failure.
func safeCheck(ctx context.Context, check CheckFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return check(ctx)
}

// markCancelled turns a failure caused by cancellation into a cancelled
// result.
func markCancelled(result *domain.VerificationStage) {
	result.Result = domain.ResultCancelled
	result.ExitCode = 0
	result.ErrorKind = ""
	result.Details = nil
}
