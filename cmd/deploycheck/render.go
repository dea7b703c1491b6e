package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"github.com/artpar/deploycheck/internal/core/domain"
	"github.com/artpar/deploycheck/internal/shell/docker"
	"github.com/artpar/deploycheck/internal/shell/store"
)

// =============================================================================
// Styles
// =============================================================================

var (
	colorSuccess = lipgloss.Color("#2CD7C7")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#6C7A89")
)

// styles holds the text styles for one output stream. The zero-value styles
// render text unchanged.
type styles struct {
	title   lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
	muted   lipgloss.Style
}

func newStyles(color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{title: plain, success: plain, warning: plain, failure: plain, muted: plain}
	}
	return styles{
		title:   lipgloss.NewStyle().Bold(true),
		success: lipgloss.NewStyle().Foreground(colorSuccess),
		warning: lipgloss.NewStyle().Foreground(colorWarning),
		failure: lipgloss.NewStyle().Foreground(colorError).Bold(true),
		muted:   lipgloss.NewStyle().Foreground(colorMuted),
	}
}

// colorEnabled reports whether f is a terminal that should get colors.
func colorEnabled(f *os.File) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func writerColor(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && colorEnabled(f)
}

// =============================================================================
// Report Rendering
// =============================================================================

// renderReport writes the report in the requested format.
func renderReport(w io.Writer, report *domain.DeploymentReport, format string, color bool) error {
	switch strings.ToLower(format) {
	case "json":
		return writeJSON(w, report)
	case "yaml":
		return writeYAML(w, report)
	default:
		return writeReportText(w, report, newStyles(color))
	}
}

func writeReportText(w io.Writer, report *domain.DeploymentReport, st styles) error {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n", st.title.Render("Verifying "+report.ImageRef), st.muted.Render("(run "+report.RunID+")"))

	for _, s := range report.Stages {
		icon, label := stageMarker(s, st)
		fmt.Fprintf(&b, "  %s %-12s %s\n", icon, s.Label, label)

		if !s.Failed() {
			continue
		}
		if s.Message != "" {
			fmt.Fprintf(&b, "      %s\n", s.Message)
		}
		for _, d := range s.Details {
			fmt.Fprintf(&b, "      %s %s\n", st.muted.Render("-"), d)
		}
		if len(s.LogExcerpt) > 0 {
			fmt.Fprintf(&b, "      %s\n", st.muted.Render("last log lines:"))
			for _, line := range s.LogExcerpt {
				fmt.Fprintf(&b, "        %s %s\n", st.muted.Render("|"), line)
			}
		}
	}

	if len(report.Integrations) > 0 {
		names := make([]string, 0, len(report.Integrations))
		for _, r := range report.Integrations {
			state := "connected"
			if !r.Connected {
				state = "not connected"
			}
			names = append(names, fmt.Sprintf("%s (%s)", r.Name, state))
		}
		fmt.Fprintf(&b, "\nIntegrations: %s\n", strings.Join(names, ", "))
	}

	b.WriteString("\n")
	warnings := len(report.Warnings())
	if report.Succeeded() {
		fmt.Fprintf(&b, "%s", st.success.Render("PASSED"))
	} else if report.State == domain.RunCancelled {
		fmt.Fprintf(&b, "%s", st.warning.Render(fmt.Sprintf("CANCELLED (exit %d)", report.ExitCode)))
	} else {
		fmt.Fprintf(&b, "%s", st.failure.Render(fmt.Sprintf("FAILED (exit %d)", report.ExitCode)))
	}
	if warnings > 0 {
		fmt.Fprintf(&b, " %s", st.warning.Render(fmt.Sprintf("with %d warning(s)", warnings)))
	}
	fmt.Fprintf(&b, " in %s\n", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))

	if report.Succeeded() && report.InstanceID != "" {
		fmt.Fprintf(&b, "Instance %s is listening on port %d\n", docker.ShortID(report.InstanceID), report.Port)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// stageMarker returns the status icon and trailing text of a stage line.
func stageMarker(s domain.VerificationStage, st styles) (string, string) {
	switch {
	case s.Result == domain.ResultPassed:
		return st.success.Render("✓"), st.muted.Render(s.Duration.Round(time.Millisecond).String())
	case s.Failed() && s.Severity == domain.SeverityWarning:
		return st.warning.Render("!"), st.warning.Render("warning: " + kindOr(s))
	case s.Failed():
		return st.failure.Render("✗"), st.failure.Render(kindOr(s))
	case s.Result == domain.ResultCancelled:
		return st.warning.Render("○"), st.warning.Render("cancelled")
	default:
		return st.muted.Render("○"), st.muted.Render("skipped")
	}
}

func kindOr(s domain.VerificationStage) string {
	if s.ErrorKind != "" {
		return s.ErrorKind
	}
	return "failed"
}

// =============================================================================
// History Rendering
// =============================================================================

// renderHistory writes the run listing in the requested format.
func renderHistory(w io.Writer, runs []store.RunSummary, format string) error {
	switch strings.ToLower(format) {
	case "json":
		if runs == nil {
			runs = []store.RunSummary{}
		}
		return writeJSON(w, runs)
	case "yaml":
		return writeYAML(w, runs)
	}

	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSTARTED\tIMAGE\tOUTCOME\tEXIT\tFAILED STAGE\tWARNINGS\tDURATION")
	for _, r := range runs {
		failed := r.FailedStage
		if failed == "" {
			failed = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%d\t%s\n",
			shortRunID(r.ID),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.ImageRef,
			r.Outcome,
			r.ExitCode,
			failed,
			r.Warnings,
			r.FinishedAt.Sub(r.StartedAt).Round(time.Second),
		)
	}
	return tw.Flush()
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// =============================================================================
// Encoders
// =============================================================================

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
