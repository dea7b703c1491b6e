package monitoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Classify Tests
// =============================================================================

func TestClassify_Empty(t *testing.T) {
	c := Classify("")

	assert.Zero(t, c.ErrorCount)
	assert.Zero(t, c.CriticalCount)
	assert.Zero(t, c.ExceptionCount)
	assert.Empty(t, c.MatchedLines)
	assert.True(t, IsAcceptable(c))
}

func TestClassify_CountsPerCategory(t *testing.T) {
	logs := "INFO starting server\n" +
		"ERROR could not reach cache, retrying\n" +
		"error: second one\n" +
		"CRITICAL worker died\n" +
		"Traceback: ValueError exception raised\n" +
		"INFO listening on 0.0.0.0:8000\n"

	c := Classify(logs)

	// "ValueError" also matches the error keyword.
	assert.Equal(t, 3, c.ErrorCount)
	assert.Equal(t, 1, c.CriticalCount)
	assert.Equal(t, 1, c.ExceptionCount)
	assert.Len(t, c.MatchedLines, 4)
	assert.Equal(t, "ERROR could not reach cache, retrying", c.MatchedLines[0])
}

func TestClassify_LineWithSeveralKeywords(t *testing.T) {
	c := Classify("CRITICAL error: unhandled Exception\n")

	assert.Equal(t, 1, c.ErrorCount)
	assert.Equal(t, 1, c.CriticalCount)
	assert.Equal(t, 1, c.ExceptionCount)
	assert.Len(t, c.MatchedLines, 1)
}

func TestClassify_CRLF(t *testing.T) {
	c := Classify("ok\r\nError here\r\n")

	assert.Equal(t, []string{"Error here"}, c.MatchedLines)
}

// =============================================================================
// IsAcceptable Tests
// =============================================================================

func TestIsAcceptable(t *testing.T) {
	tests := []struct {
		name     string
		logs     string
		expected bool
	}{
		{"clean", "INFO all good\n", true},
		{"only errors", "ERROR transient failure\nerror again\n", true},
		{"errors substring", "0 errors found\n", true},
		{"exception lowercase", "an exception occurred\n", false},
		{"exception mixed case", "java.lang.NullPointerEXCEPTION\n", false},
		{"critical", "Critical: disk full\n", false},
		{"error and critical", "ERROR x\nCRITICAL y\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsAcceptable(Classify(tt.logs)))
		})
	}
}

func TestBlockingLines(t *testing.T) {
	c := Classify("ERROR a\nCRITICAL b\nException c\n")

	assert.Equal(t, []string{"CRITICAL b", "Exception c"}, BlockingLines(c))
}

// =============================================================================
// Excerpt Tests
// =============================================================================

func TestExcerpt(t *testing.T) {
	logs := "one\n\ntwo\nthree\nfour\n"

	assert.Equal(t, []string{"three", "four"}, Excerpt(logs, 2))
	assert.Equal(t, []string{"one", "two", "three", "four"}, Excerpt(logs, 10))
	assert.Nil(t, Excerpt(logs, 0))
}
