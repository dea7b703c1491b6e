package monitoring

import (
	"strings"
)

// =============================================================================
// Log Classification (Pure Functions)
// =============================================================================

// Keywords scanned for, matched case-insensitively as substrings.
const (
	KeywordError     = "error"
	KeywordCritical  = "critical"
	KeywordException = "exception"
)

// LogClassification holds the keyword counts for a block of log output.
// A line containing several keywords counts once in each category.
type LogClassification struct {
	ErrorCount     int      `json:"error_count" yaml:"error_count"`
	CriticalCount  int      `json:"critical_count" yaml:"critical_count"`
	ExceptionCount int      `json:"exception_count" yaml:"exception_count"`
	MatchedLines   []string `json:"matched_lines,omitempty" yaml:"matched_lines,omitempty"`
}

// Classify scans log text line by line for severity keywords.
func Classify(logText string) LogClassification {
	var c LogClassification
	for _, line := range splitLines(logText) {
		lower := strings.ToLower(line)
		matched := false
		if strings.Contains(lower, KeywordError) {
			c.ErrorCount++
			matched = true
		}
		if strings.Contains(lower, KeywordCritical) {
			c.CriticalCount++
			matched = true
		}
		if strings.Contains(lower, KeywordException) {
			c.ExceptionCount++
			matched = true
		}
		if matched {
			c.MatchedLines = append(c.MatchedLines, line)
		}
	}
	return c
}

// IsAcceptable reports whether the classification passes the clean-logs check.
// Plain errors are tolerated; any critical or exception entry is not.
func IsAcceptable(c LogClassification) bool {
	return c.CriticalCount == 0 && c.ExceptionCount == 0
}

// BlockingLines returns the matched lines that make a classification unacceptable.
func BlockingLines(c LogClassification) []string {
	var out []string
	for _, line := range c.MatchedLines {
		lower := strings.ToLower(line)
		if strings.Contains(lower, KeywordCritical) || strings.Contains(lower, KeywordException) {
			out = append(out, line)
		}
	}
	return out
}

// Excerpt returns the last n non-blank lines of log text.
func Excerpt(logText string, n int) []string {
	if n <= 0 {
		return nil
	}
	lines := splitLines(logText)
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// splitLines splits on newlines, drops carriage returns and blank lines.
func splitLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}
