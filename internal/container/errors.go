package container

import "errors"

// LaunchError reports that the engine refused to create or start a
// container. It is distinct from a container that started and then failed to
// load its model.
type LaunchError struct {
	Model string
	Op    string
	Err   error
}

func (e *LaunchError) Error() string {
	return "launch " + e.Model + ": " + e.Op + ": " + e.Err.Error()
}

func (e *LaunchError) Unwrap() error { return e.Err }

// IsLaunchError reports whether err is or wraps a *LaunchError.
func IsLaunchError(err error) bool {
	var le *LaunchError
	return errors.As(err, &le)
}
