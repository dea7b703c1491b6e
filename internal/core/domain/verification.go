package domain

import (
	"strings"
	"time"
)

// =============================================================================
// Stage Types
// =============================================================================

// Severity decides whether a failed stage halts the run.
type Severity string

const (
	SeverityFatal   Severity = "fatal"
	SeverityWarning Severity = "warning"
)

// ParseSeverity maps a config value to a Severity, ignoring case. Anything
// other than "warning" or "warn" is fatal; use ValidSeverity to reject
// unknown values first.
func ParseSeverity(s string) Severity {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, string(SeverityWarning)) || strings.EqualFold(s, "warn") {
		return SeverityWarning
	}
	return SeverityFatal
}

// ValidSeverity reports whether s names a severity. Empty means fatal.
func ValidSeverity(s string) bool {
	s = strings.TrimSpace(s)
	switch {
	case s == "",
		strings.EqualFold(s, string(SeverityFatal)),
		strings.EqualFold(s, string(SeverityWarning)),
		strings.EqualFold(s, "warn"):
		return true
	}
	return false
}

// StageResult is the per-stage outcome.
type StageResult string

const (
	ResultPending   StageResult = "pending"
	ResultPassed    StageResult = "passed"
	ResultFailed    StageResult = "failed"
	ResultCancelled StageResult = "cancelled" // interrupted while running
)

// VerificationStage is one executed (or skipped) step of a run.
type VerificationStage struct {
	Label      string        `json:"label" yaml:"label"`
	Severity   Severity      `json:"severity" yaml:"severity"`
	Result     StageResult   `json:"result" yaml:"result"`
	ExitCode   int           `json:"exit_code,omitempty" yaml:"exit_code,omitempty"`
	ErrorKind  string        `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Message    string        `json:"message,omitempty" yaml:"message,omitempty"`
	Details    []string      `json:"details,omitempty" yaml:"details,omitempty"`
	LogExcerpt []string      `json:"log_excerpt,omitempty" yaml:"log_excerpt,omitempty"`
	StartedAt  *time.Time    `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	Duration   time.Duration `json:"duration_ns,omitempty" yaml:"duration,omitempty"`
}

// Failed reports whether the stage ran and failed.
func (s VerificationStage) Failed() bool {
	return s.Result == ResultFailed
}

// =============================================================================
// Report Types
// =============================================================================

// Outcome is the overall result of a run.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// RunState is the orchestrator state machine.
type RunState string

const (
	RunNotStarted  RunState = "not_started"
	RunRunning     RunState = "running"
	RunCompleted   RunState = "completed"
	RunHaltedFatal RunState = "halted_fatal"
	RunCancelled   RunState = "cancelled"
)

// DeploymentReport is the aggregate output of one run. It is not modified
// once the run has returned it.
type DeploymentReport struct {
	RunID        string              `json:"run_id" yaml:"run_id"`
	ImageRef     string              `json:"image_ref,omitempty" yaml:"image_ref,omitempty"`
	InstanceID   string              `json:"instance_id,omitempty" yaml:"instance_id,omitempty"`
	Port         int                 `json:"port,omitempty" yaml:"port,omitempty"`
	State        RunState            `json:"state" yaml:"state"`
	Outcome      Outcome             `json:"outcome" yaml:"outcome"`
	ExitCode     int                 `json:"exit_code" yaml:"exit_code"`
	Stages       []VerificationStage `json:"stages" yaml:"stages"`
	Integrations []IntegrationRecord `json:"integrations,omitempty" yaml:"integrations,omitempty"`
	StartedAt    time.Time           `json:"started_at" yaml:"started_at"`
	FinishedAt   time.Time           `json:"finished_at" yaml:"finished_at"`
}

// Stage returns the stage with the given label.
func (r *DeploymentReport) Stage(label string) (VerificationStage, bool) {
	for _, s := range r.Stages {
		if s.Label == label {
			return s, true
		}
	}
	return VerificationStage{}, false
}

// Warnings returns the failed warning-severity stages.
func (r *DeploymentReport) Warnings() []VerificationStage {
	var out []VerificationStage
	for _, s := range r.Stages {
		if s.Failed() && s.Severity == SeverityWarning {
			out = append(out, s)
		}
	}
	return out
}

// FirstFatal returns the fatal stage that halted the run, if any.
func (r *DeploymentReport) FirstFatal() (VerificationStage, bool) {
	for _, s := range r.Stages {
		if s.Failed() && s.Severity == SeverityFatal {
			return s, true
		}
	}
	return VerificationStage{}, false
}

// Succeeded reports whether the run finished without a fatal failure.
func (r *DeploymentReport) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}
