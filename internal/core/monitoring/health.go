// Package monitoring provides pure functions for readiness and log evaluation.
// This package contains NO I/O.
package monitoring

import (
	"fmt"
	"net/http"

	"github.com/artpar/deploycheck/internal/core/domain"
)

// =============================================================================
// Readiness Evaluation (Pure Functions)
// =============================================================================

// IsReady reports whether a probe status code means the service is ready.
// Only an exact 200 counts; redirects and other 2xx codes do not.
func IsReady(httpStatus int) bool {
	return httpStatus == http.StatusOK
}

// SessionStatusFor maps a readiness result to the session status it implies.
func SessionStatusFor(result domain.HealthResult) domain.SessionStatus {
	if result.Ready {
		return domain.SessionHealthy
	}
	return domain.SessionUnhealthy
}

// DescribeAttempt renders one probe for logs and reports.
func DescribeAttempt(a domain.HealthCheckAttempt) string {
	if a.Unreachable() {
		if a.Error != "" {
			return fmt.Sprintf("attempt %d: unreachable (%s)", a.AttemptNumber, a.Error)
		}
		return fmt.Sprintf("attempt %d: unreachable", a.AttemptNumber)
	}
	return fmt.Sprintf("attempt %d: HTTP %d", a.AttemptNumber, a.HTTPStatus)
}

// SummarizeHealth renders the outcome of a readiness wait.
func SummarizeHealth(result domain.HealthResult, maxAttempts int) string {
	if result.Ready {
		return fmt.Sprintf("ready after %d/%d attempts", result.AttemptsUsed, maxAttempts)
	}
	last, ok := result.LastAttempt()
	if !ok {
		return fmt.Sprintf("not ready after %d/%d attempts", result.AttemptsUsed, maxAttempts)
	}
	return fmt.Sprintf("not ready after %d/%d attempts, last %s",
		result.AttemptsUsed, maxAttempts, DescribeAttempt(last))
}
