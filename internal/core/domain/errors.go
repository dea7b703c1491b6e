package domain

import (
	"errors"
	"fmt"
)

// =============================================================================
// Verification Errors
// =============================================================================

var (
	ErrBuild           = errors.New("image build failed")
	ErrStart           = errors.New("instance failed to start")
	ErrStartupCheck    = errors.New("startup check failed")
	ErrHealthTimeout   = errors.New("service did not become ready")
	ErrCredentialParse = errors.New("credential store is malformed")
	ErrEnvPassthrough  = errors.New("environment variable was not passed through")
	ErrLogSeverity     = errors.New("logs contain critical or exception entries")
	ErrLogFetch        = errors.New("instance logs could not be read")
	ErrAssetServing    = errors.New("static assets are not served")

	ErrIntegrationMissing = errors.New("expected integration is not connected")
)

// errorKinds maps taxonomy sentinels to the names shown in reports.
var errorKinds = []struct {
	err  error
	name string
}{
	{ErrBuild, "BuildError"},
	{ErrStart, "StartError"},
	{ErrStartupCheck, "StartupCheckError"},
	{ErrHealthTimeout, "HealthTimeoutError"},
	{ErrCredentialParse, "CredentialParseError"},
	{ErrEnvPassthrough, "EnvPassthroughError"},
	{ErrLogSeverity, "LogSeverityError"},
	{ErrLogFetch, "LogFetchError"},
	{ErrAssetServing, "AssetServingError"},
	{ErrIntegrationMissing, "IntegrationMissingError"},
}

// ErrorKind returns the taxonomy name of err, or "" if err is not one of the
// verification sentinels.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return ""
}

// VerifyError wraps a verification failure with the operation and condition.
type VerifyError struct {
	Op      string   // Operation that failed
	Message string   // Underlying condition
	Details []string // Supporting lines (matched log lines, missing names)
	Err     error
}

func (e *VerifyError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *VerifyError) Unwrap() error {
	return e.Err
}

// NewVerifyError creates a new VerifyError.
func NewVerifyError(op, message string, err error) *VerifyError {
	return &VerifyError{
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// WithDetails attaches supporting lines to the error.
func (e *VerifyError) WithDetails(details []string) *VerifyError {
	e.Details = details
	return e
}

// ErrorDetails returns the supporting lines carried by err, if any.
func ErrorDetails(err error) []string {
	var vErr *VerifyError
	if errors.As(err, &vErr) {
		return vErr.Details
	}
	return nil
}
