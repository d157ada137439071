package walker

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrArgument is returned when a stage is given the wrong number of
	// argument fields or a field that cannot be used.
	ErrArgument = errors.New("walker: bad argument")

	// ErrUnknownStage is returned when a pipeline names a stage that is not
	// in the registry.
	ErrUnknownStage = errors.New("walker: unknown stage")

	// ErrProtocolViolation is returned when a stage descriptor does not
	// satisfy the registration contract.
	ErrProtocolViolation = errors.New("walker: stage protocol violation")

	// ErrDuplicateStage is returned when two descriptors share a name.
	// It wraps ErrProtocolViolation.
	ErrDuplicateStage = fmt.Errorf("%w: duplicate stage name", ErrProtocolViolation)

	// ErrPosition is returned when a stage is placed where its input or
	// output requirements cannot be met.
	ErrPosition = errors.New("walker: stage misplaced in pipeline")

	// ErrTypeResolution is returned when a type cannot be sized by the backend.
	ErrTypeResolution = errors.New("walker: cannot resolve type")

	// ErrUnsupported is returned when a stage needs a backend capability
	// the configured backend does not provide.
	ErrUnsupported = errors.New("walker: backend capability not available")
)

// ArgumentError reports an arity or parse failure in a stage's arguments.
type ArgumentError struct {
	Stage string
	Msg   string
}

func (e *ArgumentError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("%s: %s", ErrArgument, e.Msg)
	}
	return fmt.Sprintf("%s: stage %q: %s", ErrArgument, e.Stage, e.Msg)
}

func (e *ArgumentError) Unwrap() error { return ErrArgument }

func argumentf(stage, format string, args ...any) error {
	return &ArgumentError{Stage: stage, Msg: fmt.Sprintf(format, args...)}
}

// Argumentf builds an ArgumentError for the named stage. Stage factories
// outside this package use it to report unusable fields.
func Argumentf(stage, format string, args ...any) error {
	return argumentf(stage, format, args...)
}

// UnknownStageError names the missing stage and the closest registered names.
type UnknownStageError struct {
	Name        string
	Suggestions []string
}

func (e *UnknownStageError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("%s %q", ErrUnknownStage, e.Name)
	}
	return fmt.Sprintf("%s %q (did you mean %s?)", ErrUnknownStage, e.Name, strings.Join(e.Suggestions, ", "))
}

func (e *UnknownStageError) Unwrap() error { return ErrUnknownStage }

// PositionError reports a stage that needs input but is first, or needs a
// follower but is last.
type PositionError struct {
	Stage string
	Msg   string
}

func (e *PositionError) Error() string {
	return fmt.Sprintf("%s: stage %q %s", ErrPosition, e.Stage, e.Msg)
}

func (e *PositionError) Unwrap() error { return ErrPosition }

// TypeResolutionError reports a type name the backend could not size.
type TypeResolutionError struct {
	Type string
	Err  error
}

func (e *TypeResolutionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %q", ErrTypeResolution, e.Type)
	}
	return fmt.Sprintf("%s %q: %v", ErrTypeResolution, e.Type, e.Err)
}

// Unwrap exposes both the sentinel and the backend cause.
func (e *TypeResolutionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTypeResolution}
	}
	return []error{ErrTypeResolution, e.Err}
}

// StageError wraps a runtime failure with the name of the stage that hit it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Fail wraps err with the stage name unless it is already attributed.
func Fail(stage string, err error) error {
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}
