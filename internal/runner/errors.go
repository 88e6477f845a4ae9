package runner

import (
	"errors"
	"fmt"
)

var (
	// ErrAccessDenied is returned when an action invokes an operation its
	// role was not granted.
	ErrAccessDenied = errors.New("access denied")

	// ErrMissingArtifact is returned when an input artifact is not in the
	// execution's store or an executor fails to produce a declared output.
	ErrMissingArtifact = errors.New("missing artifact")

	// ErrNotTriggered is returned by HandlePush for events the source action
	// does not listen to.
	ErrNotTriggered = errors.New("event does not trigger the pipeline")

	// ErrNoExecutor is returned when no executor is registered for a provider.
	ErrNoExecutor = errors.New("no executor for provider")

	// ErrBuildFailed is returned by builders when the build procedure fails.
	ErrBuildFailed = errors.New("build failed")
)

// StageError records which stage and action failed an execution.
type StageError struct {
	Stage  string
	Action string
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s action %s failed: %v", e.Stage, e.Action, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
