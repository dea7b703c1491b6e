package verification

import "fmt"

// ExitCancelled is the exit code of a run interrupted before all stages ran.
const ExitCancelled = 130

// PanicError is recorded when a stage check panics.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("stage panicked: %v", e.Value)
}
