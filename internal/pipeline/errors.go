package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrAborted is returned by Execute when an operator aborted the run.
	ErrAborted = errors.New("pipeline run aborted")

	// ErrGateNotFound is returned when resolving a gate the run has not reached.
	ErrGateNotFound = errors.New("approval gate not pending")

	// ErrGateResolved is returned when resolving a gate that already has a decision.
	ErrGateResolved = errors.New("approval gate already resolved")

	// ErrRunFinished is returned when acting on a run in a terminal state.
	ErrRunFinished = errors.New("pipeline run already finished")

	// ErrInvalidTransition is returned when a state change is not allowed.
	ErrInvalidTransition = errors.New("invalid run state transition")

	// ErrRunNotFound is returned by the Manager for unknown run IDs.
	ErrRunNotFound = errors.New("pipeline run not found")
)

// ConfigError reports invalid input detected before a run starts. Runs that
// fail validation never enter the running state.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid pipeline configuration: " + e.Reason
}

func configErrorf(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// StageError reports a failed stage. The run is terminal in the failed state.
type StageError struct {
	Stage string
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage %q failed: %v", e.Kind, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// RejectedError reports a rejected approval gate. It is distinct from
// StageError: the change was refused, not broken.
type RejectedError struct {
	Gate    string
	Actor   string
	Comment string
}

func (e *RejectedError) Error() string {
	msg := fmt.Sprintf("approval gate %q rejected", e.Gate)
	if e.Actor != "" {
		msg += " by " + e.Actor
	}
	if e.Comment != "" {
		msg += ": " + e.Comment
	}
	return msg
}

// IsConfigError reports whether err is a ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

// IsRejected reports whether err is a RejectedError.
func IsRejected(err error) bool {
	var rejErr *RejectedError
	return errors.As(err, &rejErr)
}

// FailedStage returns the name of the failed stage, if err is a StageError.
func FailedStage(err error) (string, bool) {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage, true
	}
	return "", false
}
