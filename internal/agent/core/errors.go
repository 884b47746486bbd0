package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a failed run.
type ErrorKind string

const (
	KindPlanning     ErrorKind = "PlanningError"
	KindResearch     ErrorKind = "ResearchError"
	KindSynthesis    ErrorKind = "SynthesisError"
	KindCancellation ErrorKind = "CancellationError"
)

// StageError is the terminal error of a run. Gateway and tool errors are
// wrapped into the kind of the stage that hit them.
type StageError struct {
	Kind  ErrorKind
	Phase Phase
	Err   error
}

func (e *StageError) Error() string {
	if e.Phase == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Kind, e.Phase, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Is lets errors.Is match on kind: errors.Is(err, &StageError{Kind: KindResearch}).
func (e *StageError) Is(target error) bool {
	t, ok := target.(*StageError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Phase == "" || t.Phase == e.Phase)
}

// KindOf returns the kind of a *StageError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

func stageErr(kind ErrorKind, phase Phase, format string, args ...any) *StageError {
	return &StageError{Kind: kind, Phase: phase, Err: fmt.Errorf(format, args...)}
}

// classify turns a stage failure into the run's terminal error. A failure
// observed after ctx was cancelled is reported as cancellation.
func classify(ctx context.Context, phase Phase, kind ErrorKind, err error) *StageError {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &StageError{Kind: KindCancellation, Phase: phase, Err: ctxErr}
	}
	if errors.Is(err, context.Canceled) {
		return &StageError{Kind: KindCancellation, Phase: phase, Err: err}
	}
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	return &StageError{Kind: kind, Phase: phase, Err: err}
}
