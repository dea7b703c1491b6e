package domain

import "time"

// =============================================================================
// Health Check Types
// =============================================================================

// StatusUnreachable is the HTTPStatus sentinel for a probe that got no response.
const StatusUnreachable = -1

// HealthCheckAttempt is one readiness probe.
type HealthCheckAttempt struct {
	AttemptNumber int       `json:"attempt" yaml:"attempt"`
	Timestamp     time.Time `json:"timestamp" yaml:"timestamp"`
	HTTPStatus    int       `json:"http_status" yaml:"http_status"`
	Error         string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// Unreachable reports whether the probe got no HTTP response.
func (a HealthCheckAttempt) Unreachable() bool {
	return a.HTTPStatus == StatusUnreachable
}

// HealthResult is the outcome of a readiness wait.
type HealthResult struct {
	Ready        bool                 `json:"ready" yaml:"ready"`
	AttemptsUsed int                  `json:"attempts_used" yaml:"attempts_used"`
	Attempts     []HealthCheckAttempt `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	Waited       time.Duration        `json:"waited_ns" yaml:"waited"`
}

// LastAttempt returns the final probe, if any was made.
func (r HealthResult) LastAttempt() (HealthCheckAttempt, bool) {
	if len(r.Attempts) == 0 {
		return HealthCheckAttempt{}, false
	}
	return r.Attempts[len(r.Attempts)-1], true
}
