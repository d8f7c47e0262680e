package execution

import "fmt"

// NotFoundError is returned by Status for an unknown execution id,
// mapped to HTTP 404 by the API facade.
type NotFoundError struct {
	ExecutionID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("execution: %q not found", e.ExecutionID)
}

// NotRunningError is returned by Cancel whenever id is not currently
// Running: unknown, still queued, or already terminal. spec.md §4.6
// says cancelling a Queued execution is indistinguishable from
// cancelling an unknown one.
type NotRunningError struct {
	ExecutionID string
}

func (e *NotRunningError) Error() string {
	return fmt.Sprintf("execution: %q is not found or not running", e.ExecutionID)
}

const cancelledReason = "cancelled"
