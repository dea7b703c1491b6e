// Package verification runs an ordered sequence of verification stages and
// aggregates their outcomes into a DeploymentReport.
//
// Stages run strictly in declared order on the calling goroutine. A failed
// fatal stage halts the run and its exit code becomes the run's exit code; a
// failed warning stage is recorded and the run continues. Stages after a fatal
// halt are left pending in the report. A stage interrupted by cancellation of
// the run's context is recorded as cancelled, not failed, and the run exits
// with ExitCancelled.
//
// The orchestrator does no I/O itself: all side effects happen inside the
// stage check functions supplied by the caller.
package verification
