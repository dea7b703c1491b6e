package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/artpar/deploycheck/internal/core/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens the history database at dsn and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}
	// SQLite serializes writers; one connection also keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Run Operations
// =============================================================================

// runRow represents a run row in the database.
type runRow struct {
	ID           string `db:"id"`
	ImageRef     string `db:"image_ref"`
	InstanceID   string `db:"instance_id"`
	Port         int    `db:"port"`
	State        string `db:"state"`
	Outcome      string `db:"outcome"`
	ExitCode     int    `db:"exit_code"`
	Integrations string `db:"integrations"`
	StartedAt    string `db:"started_at"`
	FinishedAt   string `db:"finished_at"`
}

// stageRow represents one stage result of a run.
type stageRow struct {
	RunID      string  `db:"run_id"`
	Position   int     `db:"position"`
	Label      string  `db:"label"`
	Severity   string  `db:"severity"`
	Result     string  `db:"result"`
	ExitCode   int     `db:"exit_code"`
	ErrorKind  string  `db:"error_kind"`
	Message    string  `db:"message"`
	Details    string  `db:"details"`
	LogExcerpt string  `db:"log_excerpt"`
	StartedAt  *string `db:"started_at"`
	DurationNS int64   `db:"duration_ns"`
}

// summaryRow is the history listing projection.
type summaryRow struct {
	ID          string `db:"id"`
	ImageRef    string `db:"image_ref"`
	Outcome     string `db:"outcome"`
	ExitCode    int    `db:"exit_code"`
	FailedStage string `db:"failed_stage"`
	Warnings    int    `db:"warnings"`
	StartedAt   string `db:"started_at"`
	FinishedAt  string `db:"finished_at"`
}

// SaveReport stores a run and its stages atomically.
func (s *SQLiteStore) SaveReport(ctx context.Context, report *domain.DeploymentReport) error {
	return s.WithTx(ctx, func(tx Store) error {
		return tx.SaveReport(ctx, report)
	})
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*domain.DeploymentReport, error) {
	return getRun(ctx, s.db, id)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts ListOptions) ([]RunSummary, error) {
	return listRuns(ctx, s.db, opts)
}

func (s *SQLiteStore) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return deleteRunsBefore(ctx, s.db, cutoff)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) SaveReport(ctx context.Context, report *domain.DeploymentReport) error {
	return saveReport(ctx, s.tx, report)
}

func (s *txSQLiteStore) GetRun(ctx context.Context, id string) (*domain.DeploymentReport, error) {
	return getRun(ctx, s.tx, id)
}

func (s *txSQLiteStore) ListRuns(ctx context.Context, opts ListOptions) ([]RunSummary, error) {
	return listRuns(ctx, s.tx, opts)
}

func (s *txSQLiteStore) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return deleteRunsBefore(ctx, s.tx, cutoff)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just run the function
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	// No-op for tx store
	return nil
}

// =============================================================================
// Shared Implementation Functions
// =============================================================================

func saveReport(ctx context.Context, exec executor, report *domain.DeploymentReport) error {
	if report == nil || report.RunID == "" {
		return NewStoreError("SaveReport", "run", "", "report has no run ID", ErrInvalidData)
	}

	integrationsJSON, err := json.Marshal(report.Integrations)
	if err != nil {
		return NewStoreError("SaveReport", "run", report.RunID, "failed to serialize integrations", ErrInvalidData)
	}

	query := `
		INSERT INTO runs (
			id, image_ref, instance_id, port, state, outcome, exit_code,
			integrations, started_at, finished_at
		) VALUES (
			:id, :image_ref, :instance_id, :port, :state, :outcome, :exit_code,
			:integrations, :started_at, :finished_at
		)`

	row := runRow{
		ID:           report.RunID,
		ImageRef:     report.ImageRef,
		InstanceID:   report.InstanceID,
		Port:         report.Port,
		State:        string(report.State),
		Outcome:      string(report.Outcome),
		ExitCode:     report.ExitCode,
		Integrations: string(integrationsJSON),
		StartedAt:    formatTime(report.StartedAt),
		FinishedAt:   formatTime(report.FinishedAt),
	}

	if _, err := exec.NamedExecContext(ctx, query, row); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return NewStoreError("SaveReport", "run", report.RunID, "run with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("SaveReport", "run", report.RunID, err.Error(), err)
	}

	stageQuery := `
		INSERT INTO stage_results (
			run_id, position, label, severity, result, exit_code, error_kind,
			message, details, log_excerpt, started_at, duration_ns
		) VALUES (
			:run_id, :position, :label, :severity, :result, :exit_code, :error_kind,
			:message, :details, :log_excerpt, :started_at, :duration_ns
		)`

	for i, stage := range report.Stages {
		sr, err := stageToRow(report.RunID, i, stage)
		if err != nil {
			return err
		}
		if _, err := exec.NamedExecContext(ctx, stageQuery, sr); err != nil {
			return NewStoreError("SaveReport", "stage", stage.Label, err.Error(), err)
		}
	}

	return nil
}

func getRun(ctx context.Context, exec executor, id string) (*domain.DeploymentReport, error) {
	var row runRow
	err := exec.GetContext(ctx, &row, `SELECT * FROM runs WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetRun", "run", id, "run not found", ErrNotFound)
		}
		return nil, NewStoreError("GetRun", "run", id, err.Error(), err)
	}

	var stages []stageRow
	err = exec.SelectContext(ctx, &stages, `SELECT * FROM stage_results WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, NewStoreError("GetRun", "stage", id, err.Error(), err)
	}

	return rowToReport(&row, stages)
}

func listRuns(ctx context.Context, exec executor, opts ListOptions) ([]RunSummary, error) {
	opts = opts.Normalize()

	query := `
		SELECT
			r.id, r.image_ref, r.outcome, r.exit_code, r.started_at, r.finished_at,
			COALESCE((
				SELECT s.label FROM stage_results s
				WHERE s.run_id = r.id AND s.result = 'failed' AND s.severity = 'fatal'
				ORDER BY s.position LIMIT 1
			), '') AS failed_stage,
			(
				SELECT COUNT(*) FROM stage_results s
				WHERE s.run_id = r.id AND s.result = 'failed' AND s.severity = 'warning'
			) AS warnings
		FROM runs r
		ORDER BY r.started_at DESC, r.id DESC
		LIMIT ? OFFSET ?`

	var rows []summaryRow
	if err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset); err != nil {
		return nil, NewStoreError("ListRuns", "run", "", err.Error(), err)
	}

	summaries := make([]RunSummary, 0, len(rows))
	for _, r := range rows {
		summaries = append(summaries, RunSummary{
			ID:          r.ID,
			ImageRef:    r.ImageRef,
			Outcome:     domain.Outcome(r.Outcome),
			ExitCode:    r.ExitCode,
			FailedStage: r.FailedStage,
			Warnings:    r.Warnings,
			StartedAt:   parseTime(r.StartedAt),
			FinishedAt:  parseTime(r.FinishedAt),
		})
	}
	return summaries, nil
}

func deleteRunsBefore(ctx context.Context, exec executor, cutoff time.Time) (int64, error) {
	res, err := exec.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, NewStoreError("DeleteRunsBefore", "run", "", err.Error(), err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// =============================================================================
// Row Conversion
// =============================================================================

func stageToRow(runID string, position int, stage domain.VerificationStage) (stageRow, error) {
	details, err := json.Marshal(nonNil(stage.Details))
	if err != nil {
		return stageRow{}, NewStoreError("SaveReport", "stage", stage.Label, "failed to serialize details", ErrInvalidData)
	}
	excerpt, err := json.Marshal(nonNil(stage.LogExcerpt))
	if err != nil {
		return stageRow{}, NewStoreError("SaveReport", "stage", stage.Label, "failed to serialize log excerpt", ErrInvalidData)
	}

	var startedAt *string
	if stage.StartedAt != nil {
		s := formatTime(*stage.StartedAt)
		startedAt = &s
	}

	return stageRow{
		RunID:      runID,
		Position:   position,
		Label:      stage.Label,
		Severity:   string(stage.Severity),
		Result:     string(stage.Result),
		ExitCode:   stage.ExitCode,
		ErrorKind:  stage.ErrorKind,
		Message:    stage.Message,
		Details:    string(details),
		LogExcerpt: string(excerpt),
		StartedAt:  startedAt,
		DurationNS: int64(stage.Duration),
	}, nil
}

func rowToReport(row *runRow, stages []stageRow) (*domain.DeploymentReport, error) {
	report := &domain.DeploymentReport{
		RunID:      row.ID,
		ImageRef:   row.ImageRef,
		InstanceID: row.InstanceID,
		Port:       row.Port,
		State:      domain.RunState(row.State),
		Outcome:    domain.Outcome(row.Outcome),
		ExitCode:   row.ExitCode,
		StartedAt:  parseTime(row.StartedAt),
		FinishedAt: parseTime(row.FinishedAt),
	}

	if err := json.Unmarshal([]byte(row.Integrations), &report.Integrations); err != nil {
		return nil, NewStoreError("GetRun", "run", row.ID, "failed to parse integrations", ErrInvalidData)
	}
	if len(report.Integrations) == 0 {
		report.Integrations = nil
	}

	for _, sr := range stages {
		stage := domain.VerificationStage{
			Label:     sr.Label,
			Severity:  domain.Severity(sr.Severity),
			Result:    domain.StageResult(sr.Result),
			ExitCode:  sr.ExitCode,
			ErrorKind: sr.ErrorKind,
			Message:   sr.Message,
			Duration:  time.Duration(sr.DurationNS),
		}
		if err := json.Unmarshal([]byte(sr.Details), &stage.Details); err != nil {
			return nil, NewStoreError("GetRun", "stage", sr.Label, "failed to parse details", ErrInvalidData)
		}
		if err := json.Unmarshal([]byte(sr.LogExcerpt), &stage.LogExcerpt); err != nil {
			return nil, NewStoreError("GetRun", "stage", sr.Label, "failed to parse log excerpt", ErrInvalidData)
		}
		if len(stage.Details) == 0 {
			stage.Details = nil
		}
		if len(stage.LogExcerpt) == 0 {
			stage.LogExcerpt = nil
		}
		if sr.StartedAt != nil {
			t := parseTime(*sr.StartedAt)
			stage.StartedAt = &t
		}
		report.Stages = append(report.Stages, stage)
	}

	return report, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
