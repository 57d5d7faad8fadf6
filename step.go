package sagaflow

import (
	"context"
	"fmt"
	"reflect"
	"time"
)

type (
	actionFunc     func(ctx context.Context, tc *TransactionContext, input any) (any, error)
	compensateFunc func(ctx context.Context, tc *TransactionContext, output any) error
	validateFunc   func(ctx context.Context, tc *TransactionContext, input any) error
)

// Step is one node of a saga: an action, its compensation, and the metadata
// the orchestrator needs to schedule it. Steps are built with NewStep so the
// typed action and compensation signatures are checked at construction.
type Step struct {
	ID        string
	Name      string
	DependsOn []string

	// Retry overrides the orchestrator's default policy when non-nil.
	Retry *RetryPolicy

	// Timeout bounds each attempt of the action. Zero falls back to the
	// orchestrator default; a zero default means no timeout.
	Timeout time.Duration

	action     actionFunc
	compensate compensateFunc
	validate   validateFunc
	inputType  reflect.Type
}

// StepOption customizes a Step at construction time.
type StepOption func(*Step)

// WithDependencies declares the step ids this step must run after.
func WithDependencies(ids ...string) StepOption {
	return func(s *Step) { s.DependsOn = append(s.DependsOn, ids...) }
}

// WithRetryPolicy overrides the orchestrator's default retry policy for this
// step.
func WithRetryPolicy(p RetryPolicy) StepOption {
	return func(s *Step) { s.Retry = &p }
}

// WithTimeout bounds each attempt of the step's action.
func WithTimeout(d time.Duration) StepOption {
	return func(s *Step) { s.Timeout = d }
}

// WithValidate attaches a pre-flight check that runs before the first
// attempt. A validation failure is never retried.
func WithValidate[I any](fn func(ctx context.Context, tc *TransactionContext, input I) error) StepOption {
	return func(s *Step) {
		s.validate = func(ctx context.Context, tc *TransactionContext, input any) error {
			typed, err := assertInput[I](s.ID, input)
			if err != nil {
				return err
			}
			return fn(ctx, tc, typed)
		}
	}
}

// NewStep builds a step from a typed action and compensation pair, erasing
// the types for storage while recording the input type for registration-time
// checking. The compensation may be nil when the action needs no undo.
func NewStep[I, O any](
	id, name string,
	action func(ctx context.Context, tc *TransactionContext, input I) (O, error),
	compensation func(ctx context.Context, tc *TransactionContext, output O) error,
	opts ...StepOption,
) *Step {
	s := &Step{
		ID:        id,
		Name:      name,
		inputType: reflect.TypeOf((*I)(nil)).Elem(),
	}
	if action != nil {
		s.action = func(ctx context.Context, tc *TransactionContext, input any) (any, error) {
			typed, err := assertInput[I](id, input)
			if err != nil {
				return nil, err
			}
			return action(ctx, tc, typed)
		}
	}
	if compensation != nil {
		s.compensate = func(ctx context.Context, tc *TransactionContext, output any) error {
			typed, ok := output.(O)
			if !ok {
				return fmt.Errorf("%w: step %q compensation expects output of type %s, got %T",
					ErrCompensation, id, reflect.TypeOf((*O)(nil)).Elem(), output)
			}
			return compensation(ctx, tc, typed)
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func assertInput[I any](stepID string, input any) (I, error) {
	typed, ok := input.(I)
	if ok {
		return typed, nil
	}
	var zero I
	// A nil input is acceptable when the step takes an interface.
	if input == nil && reflect.TypeOf((*I)(nil)).Elem().Kind() == reflect.Interface {
		return zero, nil
	}
	return zero, fmt.Errorf("%w: step %q expects input of type %s, got %T",
		ErrValidation, stepID, reflect.TypeOf((*I)(nil)).Elem(), input)
}
