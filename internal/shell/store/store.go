package store

import (
	"context"
	"time"

	"github.com/artpar/deploycheck/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for run history.
type Store interface {
	// Run operations
	SaveReport(ctx context.Context, report *domain.DeploymentReport) error
	GetRun(ctx context.Context, id string) (*domain.DeploymentReport, error)
	ListRuns(ctx context.Context, opts ListOptions) ([]RunSummary, error)
	DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Close() error
}

// RunSummary is one row of the history listing.
type RunSummary struct {
	ID          string         `json:"run_id" yaml:"run_id"`
	ImageRef    string         `json:"image_ref" yaml:"image_ref"`
	Outcome     domain.Outcome `json:"outcome" yaml:"outcome"`
	ExitCode    int            `json:"exit_code" yaml:"exit_code"`
	FailedStage string         `json:"failed_stage,omitempty" yaml:"failed_stage,omitempty"`
	Warnings    int            `json:"warnings" yaml:"warnings"`
	StartedAt   time.Time      `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time      `json:"finished_at" yaml:"finished_at"`
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination and filtering options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  20,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
