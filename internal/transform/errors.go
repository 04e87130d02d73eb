package transform

import "fmt"

// ValidationError reports a structurally invalid [Config]. It is surfaced
// immediately to the caller; no job record exists for a request that failed
// validation.
type ValidationError struct {
	err error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return "transform: invalid config: " + e.err.Error()
}

// Unwrap exposes the joined field errors.
func (e *ValidationError) Unwrap() error { return e.err }

// ExecutionError reports a failure during derived-document computation or
// persistence. The same message is recorded on the job's error field; the job
// ends in the failed status and no partially written document exists.
type ExecutionError struct {
	JobID string
	Err   error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("transform: job %s: %v", e.JobID, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *ExecutionError) Unwrap() error { return e.Err }
