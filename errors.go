package sagaflow

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine's failure taxonomy. Callers match them with
// errors.Is; everything the engine returns wraps exactly one of these.
var (
	// ErrValidation indicates a bad saga definition or a mismatched input:
	// missing step, unresolved dependency, dependency cycle, inconsistent
	// step input types.
	ErrValidation = errors.New("invalid saga definition")

	// ErrNotFound indicates an unknown definition or execution id.
	ErrNotFound = errors.New("not found")

	// ErrStepFailed indicates a step action exhausted its retries (or failed
	// with a non-retryable error).
	ErrStepFailed = errors.New("step execution failed")

	// ErrStepTimeout indicates a step attempt exceeded its timeout. Timeouts
	// are retryable by default.
	ErrStepTimeout = errors.New("step timed out")

	// ErrCompensation indicates a compensation call itself failed. It is
	// recorded against the execution but never aborts the remaining unwind.
	ErrCompensation = errors.New("compensation failed")

	// ErrAlreadyCompleted indicates a cancel request against a terminal
	// execution.
	ErrAlreadyCompleted = errors.New("execution already completed")

	// ErrAborted is the result surfaced to waiters of a cancelled execution.
	ErrAborted = errors.New("execution aborted")

	// ErrConflict indicates an operation that is invalid in the execution's
	// current state, such as purging an in-flight execution.
	ErrConflict = errors.New("conflict")

	// ErrClosed indicates the orchestrator has been shut down.
	ErrClosed = errors.New("orchestrator closed")
)

// Any reports whether target matches any of the given errors, in either
// direction.
func Any(target error, errs ...error) bool {
	for _, e := range errs {
		if errors.Is(e, target) || errors.Is(target, e) {
			return true
		}
	}
	return false
}

// ErrorKind classifies a step failure for retry-eligibility matching. Kinds
// form an open vocabulary: actions may tag their errors with any kind and
// list it in a RetryPolicy's RetryableKinds.
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindUnavailable ErrorKind = "unavailable"
	KindConflict    ErrorKind = "conflict"
)

type kindError struct {
	kind ErrorKind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }

func (e *kindError) Unwrap() error { return e.err }

// WithKind tags err with an ErrorKind so a RetryPolicy with an explicit
// RetryableKinds list can match it.
func WithKind(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// KindOf extracts the ErrorKind from err, if any. Timeout errors produced by
// the step executor always carry KindTimeout.
func KindOf(err error) (ErrorKind, bool) {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind, true
	}
	if errors.Is(err, ErrStepTimeout) {
		return KindTimeout, true
	}
	return "", false
}

type recoverableError struct {
	err error
}

func (e *recoverableError) Error() string { return e.err.Error() }

func (e *recoverableError) Unwrap() error { return e.err }

// Recoverable marks err as transient. A policy without an explicit
// RetryableKinds list retries a failed attempt iff its error is marked
// recoverable.
func Recoverable(err error) error {
	if err == nil {
		return nil
	}
	return &recoverableError{err: err}
}

// IsRecoverable reports whether err was marked with Recoverable. Step
// timeouts count as recoverable.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStepTimeout) {
		return true
	}
	var re *recoverableError
	return errors.As(err, &re)
}

// StepError wraps the terminal failure of a single step.
type StepError struct {
	StepID   string
	Attempts int
	Err      error
}

func (e *StepError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("step %q failed after %d attempt(s): %v", e.StepID, e.Attempts, e.Err)
	}
	return fmt.Sprintf("step %q failed: %v", e.StepID, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrStepFailed) match without losing the underlying
// chain (timeout kind, recoverable marking).
func (e *StepError) Is(target error) bool { return target == ErrStepFailed }
