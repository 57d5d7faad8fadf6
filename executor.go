package sagaflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
)

// stepExecutor runs a single step's action with validation, a per-attempt
// timeout race, and policy-driven retries. Every attempt, success or
// failure, is written to the transaction log with its number and elapsed
// time.
type stepExecutor struct {
	txlog          *TransactionLog
	logger         zerolog.Logger
	defaultRetry   RetryPolicy
	defaultTimeout time.Duration
}

// run executes the step and returns its output and the number of attempts
// made. The returned error is always a *StepError.
func (e *stepExecutor) run(ctx context.Context, step *Step, input any, tc *TransactionContext) (any, int, error) {
	logger := e.logger.With().
		Str("execution_id", tc.ExecutionID).
		Str("step_id", step.ID).
		Logger()

	if step.validate != nil {
		if err := step.validate(ctx, tc, input); err != nil {
			// Validation failures are never retried.
			e.txlog.Append(tc.ExecutionID, LevelError, "step validation failed", step.ID,
				map[string]any{"error": err.Error()})
			logger.Error().Err(err).Msg("step validation failed")
			return nil, 0, &StepError{StepID: step.ID, Err: err}
		}
	}

	policy := e.defaultRetry
	if step.Retry != nil {
		policy = *step.Retry
	}

	attempts := 0
	output, err := retry.DoWithData(
		func() (any, error) {
			attempts++
			start := time.Now()
			out, err := e.attempt(ctx, step, input, tc)
			elapsed := time.Since(start)

			data := map[string]any{"attempt": attempts, "elapsed_ms": elapsed.Milliseconds()}
			if err != nil {
				data["error"] = err.Error()
				e.txlog.Append(tc.ExecutionID, LevelWarn, "step attempt failed", step.ID, data)
				logger.Warn().Int("attempt", attempts).Dur("elapsed", elapsed).Err(err).Msg("step attempt failed")
				return nil, err
			}
			e.txlog.Append(tc.ExecutionID, LevelInfo, "step attempt succeeded", step.ID, data)
			logger.Debug().Int("attempt", attempts).Dur("elapsed", elapsed).Msg("step attempt succeeded")
			return out, nil
		},
		retry.Attempts(uint(policy.MaxAttempts)),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			// n is 0-based: the delay after attempt n+1.
			return policy.Delay(int(n) + 1)
		}),
		retry.RetryIf(policy.ShouldRetry),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		return nil, attempts, &StepError{StepID: step.ID, Attempts: attempts, Err: err}
	}
	return output, attempts, nil
}

// attempt races one invocation of the action against the step's timeout.
// The action receives a context that is cancelled on timeout; an action that
// ignores it keeps its goroutine until it returns on its own.
func (e *stepExecutor) attempt(ctx context.Context, step *Step, input any, tc *TransactionContext) (any, error) {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	if timeout <= 0 {
		return step.action(ctx, tc, input)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type attemptResult struct {
		output any
		err    error
	}
	done := make(chan attemptResult, 1)
	go func() {
		output, err := step.action(attemptCtx, tc, input)
		done <- attemptResult{output: output, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() == nil {
			// The action surfaced the attempt deadline itself.
			return nil, WithKind(KindTimeout, fmt.Errorf("%w after %s", ErrStepTimeout, timeout))
		}
		return r.output, r.err
	case <-attemptCtx.Done():
		if err := ctx.Err(); err != nil {
			// The parent was cancelled; this is not a step timeout.
			return nil, err
		}
		return nil, WithKind(KindTimeout, fmt.Errorf("%w after %s", ErrStepTimeout, timeout))
	}
}
