package task

import "fmt"

// The §7 error taxonomy. Sentinel errors compared with errors.Is, matching
// the teacher's control_plane/resilience/errors.go style rather than reaching
// for an error-wrapping library the teacher itself never imports.
var (
	ErrNotFound          = fmt.Errorf("task: not found")
	ErrIllegalTransition = fmt.Errorf("task: illegal status transition")
	ErrTimeout           = fmt.Errorf("task: execution timed out")
	ErrCancelled         = fmt.Errorf("task: cancelled")
	ErrHandlerError      = fmt.Errorf("task: handler error")
	ErrStoreError        = fmt.Errorf("task: store error")
	ErrMissingHandler    = fmt.Errorf("task: no handler registered for type")
	ErrPolicyDenied      = fmt.Errorf("task: policy denied")
)

// PolicyDeniedError carries the human-readable denial reason required by
// §4.3 and §7 ("every rejection carries a human-readable reason").
type PolicyDeniedError struct {
	Reason string
}

func (e *PolicyDeniedError) Error() string {
	return fmt.Sprintf("policy denied: %s", e.Reason)
}

func (e *PolicyDeniedError) Unwrap() error {
	return ErrPolicyDenied
}

// NewPolicyDenied wraps a human-readable reason into a PolicyDeniedError.
func NewPolicyDenied(reason string) error {
	return &PolicyDeniedError{Reason: reason}
}

// IllegalTransitionError names the attempted transition for diagnostics.
type IllegalTransitionError struct {
	From, To Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("task: illegal transition %s -> %s", e.From, e.To)
}

func (e *IllegalTransitionError) Unwrap() error {
	return ErrIllegalTransition
}
