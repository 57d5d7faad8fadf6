package sagaflow

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// compensationEntry pairs a completed step with the output its action
// produced, which is what the compensation handler receives.
type compensationEntry struct {
	step   *Step
	output any
}

// CompensationResult records the outcome of one compensation handler.
type CompensationResult struct {
	StepID string
	Err    error
}

// CompensationReport summarizes an unwind pass over the compensation stack.
type CompensationReport struct {
	Attempted   int
	Compensated int
	Failed      int
	Results     []CompensationResult
	Err         error
}

// compensationCoordinator unwinds completed steps in reverse completion
// order. Compensation runs under a fresh context so that the cancellation
// that triggered the unwind cannot also abort it.
type compensationCoordinator struct {
	txlog   *TransactionLog
	logger  zerolog.Logger
	timeout time.Duration
}

// unwind compensates every entry on the stack from top to bottom. A failing
// handler is recorded and the unwind continues; all failures are aggregated
// into the report's Err. mark is called with each step's resulting status as
// the unwind progresses.
func (c *compensationCoordinator) unwind(tc *TransactionContext, stack []compensationEntry, mark func(stepID string, status StepStatus)) CompensationReport {
	report := CompensationReport{Attempted: len(stack)}
	var merr *multierror.Error

	for i := len(stack) - 1; i >= 0; i-- {
		entry := stack[i]
		stepID := entry.step.ID
		mark(stepID, StepCompensating)

		if entry.step.compensate == nil {
			report.Compensated++
			report.Results = append(report.Results, CompensationResult{StepID: stepID})
			mark(stepID, StepCompensated)
			continue
		}

		c.txlog.Append(tc.ExecutionID, LevelInfo, "compensating step", stepID, nil)

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		err := entry.step.compensate(ctx, tc, entry.output)
		cancel()

		if err != nil {
			wrapped := fmt.Errorf("%w: step %q: %v", ErrCompensation, stepID, err)
			merr = multierror.Append(merr, wrapped)
			report.Failed++
			report.Results = append(report.Results, CompensationResult{StepID: stepID, Err: wrapped})
			c.txlog.Append(tc.ExecutionID, LevelError, "step compensation failed", stepID,
				map[string]any{"error": err.Error()})
			c.logger.Error().
				Str("execution_id", tc.ExecutionID).
				Str("step_id", stepID).
				Err(err).
				Msg("step compensation failed")
			mark(stepID, StepFailed)
			continue
		}

		report.Compensated++
		report.Results = append(report.Results, CompensationResult{StepID: stepID})
		c.txlog.Append(tc.ExecutionID, LevelInfo, "step compensated", stepID, nil)
		mark(stepID, StepCompensated)
	}

	report.Err = merr.ErrorOrNil()
	return report
}
