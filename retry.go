package sagaflow

import (
	"fmt"
	"math"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// RetryPolicy controls how a step's attempts are spaced and which failures
// are worth retrying. The zero value is not valid; use DefaultRetryPolicy or
// construct explicitly and Validate.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// BaseDelay is the backoff before the second attempt.
	BaseDelay time.Duration `yaml:"base_delay" json:"base_delay"`

	// Multiplier grows the delay per failed attempt. 1 means a fixed delay.
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`

	// MaxDelay caps the computed backoff.
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`

	// RetryableKinds, when set, restricts retries to failures tagged with one
	// of these kinds. When empty, a failure is retried iff it is marked
	// recoverable.
	RetryableKinds []ErrorKind `yaml:"retryable_kinds,omitempty" json:"retryable_kinds,omitempty"`
}

// DefaultRetryPolicy returns the engine-wide default: three attempts with a
// doubling backoff from 100ms, capped at 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    5 * time.Second,
	}
}

// Validate checks the policy's field invariants.
func (p RetryPolicy) Validate() error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.MaxAttempts, validation.Required, validation.Min(1)),
		validation.Field(&p.BaseDelay, validation.Required, validation.Min(time.Nanosecond)),
		validation.Field(&p.Multiplier, validation.Required, validation.Min(1.0)),
		validation.Field(&p.MaxDelay, validation.Required, validation.Min(p.BaseDelay)),
	)
	if err != nil {
		return fmt.Errorf("%w: retry policy: %v", ErrValidation, err)
	}
	return nil
}

// Delay returns the backoff to sleep after the given failed attempt
// (1-based): min(BaseDelay * Multiplier^(attempt-1), MaxDelay).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// ShouldRetry reports whether a failed attempt with this error is eligible
// for another attempt under this policy.
func (p RetryPolicy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if len(p.RetryableKinds) > 0 {
		kind, ok := KindOf(err)
		if !ok {
			return false
		}
		for _, k := range p.RetryableKinds {
			if k == kind {
				return true
			}
		}
		return false
	}
	return IsRecoverable(err)
}
