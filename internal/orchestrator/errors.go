package orchestrator

// activeConflictError signals an attempt to start a container while another
// one is still tracked as active.
type activeConflictError struct{ active, requested string }

func (e activeConflictError) Error() string {
	return "container " + e.active + " still active; refusing to start " + e.requested
}

// IsActiveConflict reports whether err came from the active-container guard.
func IsActiveConflict(err error) bool {
	_, ok := err.(activeConflictError)
	return ok
}

// invalidSpecsError wraps a spec validation failure.
type invalidSpecsError struct{ err error }

func (e invalidSpecsError) Error() string { return e.err.Error() }
func (e invalidSpecsError) Unwrap() error { return e.err }

// IsInvalidSpecs reports whether Run rejected its input before any attempt.
func IsInvalidSpecs(err error) bool {
	_, ok := err.(invalidSpecsError)
	return ok
}
