package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/artpar/deploycheck/internal/core/domain"
	"github.com/artpar/deploycheck/internal/shell/deploy"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Image       ImageConfig       `mapstructure:"image"`
	Container   ContainerConfig   `mapstructure:"container"`
	Docker      DockerConfig      `mapstructure:"docker"`
	Startup     StartupConfig     `mapstructure:"startup"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	EnvCheck    EnvCheckConfig    `mapstructure:"env_check"`
	Health      HealthConfig      `mapstructure:"health"`
	Assets      AssetsConfig      `mapstructure:"assets"`
	Logs        LogsConfig        `mapstructure:"logs"`
	History     HistoryConfig     `mapstructure:"history"`
	Log         LogConfig         `mapstructure:"log"`
	Output      OutputConfig      `mapstructure:"output"`
	Run         RunConfig         `mapstructure:"run"`
}

// ImageConfig selects the application image and how to build it.
type ImageConfig struct {
	Name       string `mapstructure:"name"`
	Tag        string `mapstructure:"tag"`
	Platform   string `mapstructure:"platform"`
	Context    string `mapstructure:"context"`
	Dockerfile string `mapstructure:"dockerfile"`
	GitURL     string `mapstructure:"git_url"` // Build from a shallow clone instead of Context
	GitRef     string `mapstructure:"git_ref"`
}

// ContainerConfig describes the instance under verification.
type ContainerConfig struct {
	Name          string        `mapstructure:"name"`
	Port          int           `mapstructure:"port"`
	ContainerPort int           `mapstructure:"container_port"` // 0 means same as Port
	EnvFile       string        `mapstructure:"env_file"`
	StopTimeout   time.Duration `mapstructure:"stop_timeout"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// StartupConfig holds the in-container startup check.
type StartupConfig struct {
	// Command runs inside the instance and must exit 0. When empty the
	// instance only has to be running.
	Command []string `mapstructure:"command"`
}

// CredentialsConfig lists the credential stores to inspect.
type CredentialsConfig struct {
	Paths    []string `mapstructure:"paths"`
	Expected []string `mapstructure:"expected"`
}

// EnvCheckConfig holds the environment pass-through check.
type EnvCheckConfig struct {
	Variable string `mapstructure:"variable"`
	Expected string `mapstructure:"expected"`
	Severity string `mapstructure:"severity"`
}

// HealthConfig holds the readiness wait.
type HealthConfig struct {
	BaseURL      string        `mapstructure:"base_url"` // Derived from container.port when empty
	Path         string        `mapstructure:"path"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	Interval     time.Duration `mapstructure:"interval"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	Severity     string        `mapstructure:"severity"`
}

// AssetsConfig holds the static asset check.
type AssetsConfig struct {
	Path   string `mapstructure:"path"`
	Marker string `mapstructure:"marker"`
}

// LogsConfig holds log collection settings.
type LogsConfig struct {
	Tail        int `mapstructure:"tail"`
	ExcerptSize int `mapstructure:"excerpt_size"`
}

// HistoryConfig holds run history persistence.
type HistoryConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	DSN       string        `mapstructure:"dsn"`
	Limit     int           `mapstructure:"limit"`
	Retention time.Duration `mapstructure:"retention"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// OutputConfig selects how the report is printed.
type OutputConfig struct {
	Format string `mapstructure:"format"` // text, json or yaml
}

// RunConfig holds per-invocation switches, usually set from flags.
type RunConfig struct {
	Rebuild    bool `mapstructure:"rebuild"`
	FollowLogs bool `mapstructure:"follow_logs"`
	Stop       bool `mapstructure:"stop"`
}

// =============================================================================
// Config Loading
// =============================================================================

var errInvalidOutput = errors.New("output format must be text, json or yaml")
var errInvalidSeverity = errors.New("severity must be fatal or warning")

// flagKeys maps CLI flags onto config keys.
var flagKeys = map[string]string{
	"rebuild": "run.rebuild",
	"logs":    "run.follow_logs",
	"stop":    "run.stop",
	"output":  "output.format",
	"limit":   "history.limit",
}

// LoadConfig loads configuration from file, environment and flags, in
// increasing precedence. flags may be nil.
func LoadConfig(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("image.name", "digital-being")
	v.SetDefault("image.tag", "latest")
	v.SetDefault("image.platform", "linux/amd64")
	v.SetDefault("image.context", ".")
	v.SetDefault("image.dockerfile", "Dockerfile")
	v.SetDefault("image.git_url", "")
	v.SetDefault("image.git_ref", "")
	v.SetDefault("container.name", "digital-being")
	v.SetDefault("container.port", 8000)
	v.SetDefault("container.container_port", 0)
	v.SetDefault("container.env_file", ".env")
	v.SetDefault("container.stop_timeout", "10s")
	v.SetDefault("docker.host", "")
	v.SetDefault("startup.command", []string{})
	v.SetDefault("credentials.paths", []string{
		"my_digital_being/storage/composio_oauth.json",
		"my_digital_being/storage/oauth_tokens.json",
	})
	v.SetDefault("credentials.expected", []string{})
	v.SetDefault("env_check.variable", "DEPLOYCHECK_TEST_VAR")
	v.SetDefault("env_check.expected", "")
	v.SetDefault("env_check.severity", "warning")
	v.SetDefault("health.base_url", "")
	v.SetDefault("health.path", "/health")
	v.SetDefault("health.max_attempts", 10)
	v.SetDefault("health.interval", "3s")
	v.SetDefault("health.probe_timeout", "5s")
	v.SetDefault("health.severity", "fatal")
	v.SetDefault("assets.path", "/")
	v.SetDefault("assets.marker", "Digital Being")
	v.SetDefault("logs.tail", 0)
	v.SetDefault("logs.excerpt_size", 20)
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.dsn", "./data/deploycheck.db")
	v.SetDefault("history.limit", 20)
	v.SetDefault("history.retention", "0s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("output.format", "text")
	v.SetDefault("run.rebuild", false)
	v.SetDefault("run.follow_logs", false)
	v.SetDefault("run.stop", false)

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// A missing file falls back to defaults
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("DEPLOYCHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Output.Format) {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("%w: %q", errInvalidOutput, c.Output.Format)
	}
	if c.Image.Name == "" {
		return errors.New("image.name must not be empty")
	}
	if c.Container.Port <= 0 || c.Container.Port > 65535 {
		return fmt.Errorf("container.port %d is out of range", c.Container.Port)
	}
	if c.Health.MaxAttempts < 1 {
		return fmt.Errorf("health.max_attempts must be at least 1, got %d", c.Health.MaxAttempts)
	}
	if c.Health.Interval < 0 {
		return fmt.Errorf("health.interval must not be negative, got %s", c.Health.Interval)
	}
	if !domain.ValidSeverity(c.EnvCheck.Severity) {
		return fmt.Errorf("%w: env_check.severity %q", errInvalidSeverity, c.EnvCheck.Severity)
	}
	if !domain.ValidSeverity(c.Health.Severity) {
		return fmt.Errorf("%w: health.severity %q", errInvalidSeverity, c.Health.Severity)
	}
	return nil
}

// BaseURL returns the configured probe base URL, or localhost on the
// published port.
func (c *Config) BaseURL() string {
	if c.Health.BaseURL != "" {
		return strings.TrimRight(c.Health.BaseURL, "/")
	}
	return fmt.Sprintf("http://localhost:%d", c.Container.Port)
}

// PipelineOptions maps the configuration onto the verification run.
func (c *Config) PipelineOptions(buildOutput io.Writer) deploy.Options {
	return deploy.Options{
		Image: deploy.ImageOptions{
			Name:       c.Image.Name,
			Tag:        c.Image.Tag,
			Platform:   c.Image.Platform,
			ContextDir: c.Image.Context,
			Dockerfile: c.Image.Dockerfile,
			GitURL:     c.Image.GitURL,
			GitRef:     c.Image.GitRef,
		},
		Container: deploy.ContainerOptions{
			Name:          c.Container.Name,
			HostPort:      c.Container.Port,
			ContainerPort: c.Container.ContainerPort,
			EnvFile:       c.Container.EnvFile,
			StopTimeout:   c.Container.StopTimeout,
		},
		Startup: deploy.StartupOptions{
			Command: c.Startup.Command,
		},
		Credentials: deploy.CredentialOptions{
			Paths:    c.Credentials.Paths,
			Expected: c.Credentials.Expected,
		},
		EnvCheck: deploy.EnvCheckOptions{
			Variable: c.EnvCheck.Variable,
			Expected: c.EnvCheck.Expected,
			Severity: domain.ParseSeverity(c.EnvCheck.Severity),
		},
		Health: deploy.HealthOptions{
			BaseURL:     c.BaseURL(),
			Path:        c.Health.Path,
			MaxAttempts: c.Health.MaxAttempts,
			Interval:    c.Health.Interval,
			Severity:    domain.ParseSeverity(c.Health.Severity),
		},
		Assets: deploy.AssetOptions{
			Path:   c.Assets.Path,
			Marker: c.Assets.Marker,
		},
		Logs: deploy.LogOptions{
			Tail:        c.Logs.Tail,
			ExcerptSize: c.Logs.ExcerptSize,
		},
		ForceRebuild: c.Run.Rebuild,
		StopAfter:    c.Run.Stop,
		Retention:    c.History.Retention,
		BuildOutput:  buildOutput,
	}
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format. Logs go
// to w so stdout stays reserved for the report.
func SetupLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
