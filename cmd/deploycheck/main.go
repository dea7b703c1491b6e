// Command deploycheck builds the application image, starts it in a local
// container and runs the verification stages against it.
//
// Usage:
//
//	deploycheck [--rebuild] [--logs] [--stop] [--config path] [--output text|json|yaml]
//	deploycheck history [--limit N]
//	deploycheck history show <run-id>
//	deploycheck version
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/artpar/deploycheck/internal/core/domain"
	"github.com/artpar/deploycheck/internal/shell/credstore"
	"github.com/artpar/deploycheck/internal/shell/deploy"
	"github.com/artpar/deploycheck/internal/shell/docker"
	"github.com/artpar/deploycheck/internal/shell/store"
	"github.com/artpar/deploycheck/internal/shell/workers"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// =============================================================================
// Exit Codes
// =============================================================================

// Fatal stage failures exit with the stage's own code (10-17).
const (
	ExitSuccess           = 0
	ExitConfigError       = 1
	ExitDockerUnavailable = 2
	ExitHistoryError      = 3
)

var errVerificationFailed = errors.New("verification failed")

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

// execute runs the command line and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	return exitCode(root.ExecuteContext(ctx), stderr)
}

// exitCode maps a command error onto the process exit code and reports it
// on stderr. A failed verification has already been rendered.
func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return ExitSuccess
	}

	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		if !errors.Is(cmdErr, errVerificationFailed) {
			fmt.Fprintf(stderr, "%s: %v\n", cmdErr.Op, cmdErr.Err)
		}
		return cmdErr.ExitCode
	}

	// Flag parsing and other usage errors
	fmt.Fprintf(stderr, "error: %v\n", err)
	return ExitConfigError
}

// =============================================================================
// Commands
// =============================================================================

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "deploycheck",
		Short: "Build, start and verify the application container",
		Long: `Build (or reuse) the application image, start it on the configured port
and run the verification stages: startup, credentials, environment
pass-through, health, static assets and logs.

The process exits 0 when every fatal stage passes. Otherwise it exits with
the code of the first fatal stage that failed.`,
		Example: `  # Verify using the cached image
  deploycheck

  # Force a rebuild and follow the logs afterwards
  deploycheck --rebuild --logs`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(configPath, cmd.Flags())
			if err != nil {
				return &CommandError{Op: "load config", Err: err, ExitCode: ExitConfigError}
			}
			return verify(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringP("output", "o", "text", "Output format: text, json or yaml")
	cmd.Flags().Bool("rebuild", false, "Rebuild the image even if it exists")
	cmd.Flags().Bool("logs", false, "Follow the instance logs after a successful run")
	cmd.Flags().Bool("stop", false, "Stop the instance after a successful run")

	cmd.AddCommand(newHistoryCmd(&configPath), newVersionCmd())
	return cmd
}

func newHistoryCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded verification runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(*configPath, cmd.Flags())
			if err != nil {
				return &CommandError{Op: "load config", Err: err, ExitCode: ExitConfigError}
			}

			s, err := openHistory(cfg)
			if err != nil {
				return &CommandError{Op: "open history", Err: err, ExitCode: ExitHistoryError}
			}
			defer s.Close()

			opts := store.DefaultListOptions()
			if cfg.History.Limit > 0 {
				opts.Limit = cfg.History.Limit
			}
			runs, err := s.ListRuns(cmd.Context(), opts)
			if err != nil {
				return &CommandError{Op: "list runs", Err: err, ExitCode: ExitHistoryError}
			}
			return renderHistory(cmd.OutOrStdout(), runs, cfg.Output.Format)
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum number of runs to list")
	cmd.AddCommand(newHistoryShowCmd(configPath))
	return cmd
}

func newHistoryShowCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the full report of a recorded run",
		Long: `Show the full report of a recorded run. The run ID may be shortened to
any unique prefix, such as the one printed by 'deploycheck history'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(*configPath, cmd.Flags())
			if err != nil {
				return &CommandError{Op: "load config", Err: err, ExitCode: ExitConfigError}
			}

			s, err := openHistory(cfg)
			if err != nil {
				return &CommandError{Op: "open history", Err: err, ExitCode: ExitHistoryError}
			}
			defer s.Close()

			report, err := findRun(cmd.Context(), s, args[0])
			if err != nil {
				return &CommandError{Op: "show run", Err: err, ExitCode: ExitHistoryError}
			}
			out := cmd.OutOrStdout()
			return renderReport(out, report, cfg.Output.Format, writerColor(out))
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "deploycheck %s (built %s)\n", Version, BuildTime)
		},
	}
}

// =============================================================================
// Verification
// =============================================================================

// verify runs the pipeline once and renders the report to stdout.
func verify(ctx context.Context, cfg *Config, stdout, stderr io.Writer) error {
	logger := SetupLogger(cfg, stderr)
	logger.Debug("starting deploycheck", "version", Version, "image", cfg.Image.Name+":"+cfg.Image.Tag)

	dockerClient, err := docker.NewDockerClient(cfg.Docker.Host)
	if err != nil {
		return &CommandError{Op: "connect to docker", Err: err, ExitCode: ExitDockerUnavailable}
	}
	defer dockerClient.Close()

	if err := dockerClient.Ping(ctx); err != nil {
		return &CommandError{Op: "connect to docker", Err: err, ExitCode: ExitDockerUnavailable}
	}

	ctrl := docker.NewController(docker.ControllerConfig{
		Client:      dockerClient,
		Logger:      logger,
		StopTimeout: cfg.Container.StopTimeout,
	})
	checkerCfg := workers.DefaultHealthCheckerConfig()
	if cfg.Health.ProbeTimeout > 0 {
		checkerCfg.ProbeTimeout = cfg.Health.ProbeTimeout
	}
	checker := workers.NewHealthChecker(checkerCfg, logger)

	pipelineCfg := deploy.Config{
		Controller:  ctrl,
		Health:      checker,
		Credentials: credstore.NewReader(nil, logger),
		Logger:      logger,
		Options:     cfg.PipelineOptions(stderr),
	}

	if cfg.History.Enabled {
		s, err := openHistory(cfg)
		if err != nil {
			logger.Warn("run history disabled", "error", err)
		} else {
			defer s.Close()
			pipelineCfg.History = s
		}
	}

	report := deploy.New(pipelineCfg).Run(ctx)

	if err := renderReport(stdout, report, cfg.Output.Format, writerColor(stdout)); err != nil {
		logger.Error("failed to render report", "error", err)
	}

	if !report.Succeeded() {
		return &CommandError{Op: "verify", Err: errVerificationFailed, ExitCode: report.ExitCode}
	}

	if cfg.Run.FollowLogs && report.InstanceID != "" && !cfg.Run.Stop {
		fmt.Fprintf(stderr, "Following logs of %s, press Ctrl+C to stop\n", docker.ShortID(report.InstanceID))
		if err := ctrl.FollowLogs(ctx, report.InstanceID, stdout, stderr); err != nil {
			logger.Warn("log stream ended", "error", err)
		}
	}
	return nil
}

// findRun looks a run up by its full ID, then by a unique ID prefix among
// the most recent runs.
func findRun(ctx context.Context, s store.Store, id string) (*domain.DeploymentReport, error) {
	report, err := s.GetRun(ctx, id)
	if err == nil || !errors.Is(err, store.ErrNotFound) || id == "" {
		return report, err
	}

	runs, lerr := s.ListRuns(ctx, store.ListOptions{Limit: 1000})
	if lerr != nil {
		return nil, lerr
	}
	var match string
	for _, r := range runs {
		if !strings.HasPrefix(r.ID, id) {
			continue
		}
		if match != "" {
			return nil, fmt.Errorf("run ID prefix %q is ambiguous", id)
		}
		match = r.ID
	}
	if match == "" {
		return nil, err
	}
	return s.GetRun(ctx, match)
}

// openHistory opens the history database, creating its directory.
func openHistory(cfg *Config) (*store.SQLiteStore, error) {
	if dir := filepath.Dir(cfg.History.DSN); dir != "." && cfg.History.DSN != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}
	return store.NewSQLiteStore(cfg.History.DSN)
}

// =============================================================================
// Command Error
// =============================================================================

// CommandError carries the process exit code of a failed command.
type CommandError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *CommandError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
