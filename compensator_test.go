package sagaflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCompensator() (*compensationCoordinator, *TransactionLog) {
	txlog := NewTransactionLog(nil, zerolog.Nop())
	return &compensationCoordinator{
		txlog:   txlog,
		logger:  zerolog.Nop(),
		timeout: time.Second,
	}, txlog
}

func compStep(id string, fn func(output string) error) *Step {
	return NewStep(id, id,
		func(_ context.Context, _ *TransactionContext, _ any) (string, error) {
			return id + "-out", nil
		},
		func(_ context.Context, _ *TransactionContext, output string) error {
			return fn(output)
		},
	)
}

func TestUnwindReverseOrder(t *testing.T) {
	c, _ := newTestCompensator()
	tc := newTransactionContext("s", ContextOverrides{})

	var undone []string
	record := func(id string) func(string) error {
		return func(output string) error {
			undone = append(undone, id)
			return nil
		}
	}

	stack := []compensationEntry{
		{step: compStep("a", record("a")), output: "a-out"},
		{step: compStep("b", record("b")), output: "b-out"},
		{step: compStep("c", record("c")), output: "c-out"},
	}

	report := c.unwind(tc, stack, func(string, StepStatus) {})
	require.NoError(t, report.Err)
	assert.Equal(t, []string{"c", "b", "a"}, undone)
	assert.Equal(t, 3, report.Attempted)
	assert.Equal(t, 3, report.Compensated)
	assert.Equal(t, 0, report.Failed)
}

func TestUnwindReceivesStepOutput(t *testing.T) {
	c, _ := newTestCompensator()
	tc := newTransactionContext("s", ContextOverrides{})

	var got string
	stack := []compensationEntry{
		{
			step: compStep("reserve_inventory", func(output string) error {
				got = output
				return nil
			}),
			output: "rsv-123",
		},
	}

	report := c.unwind(tc, stack, func(string, StepStatus) {})
	require.NoError(t, report.Err)
	assert.Equal(t, "rsv-123", got)
}

func TestUnwindContinuesPastFailure(t *testing.T) {
	c, txlog := newTestCompensator()
	tc := newTransactionContext("s", ContextOverrides{})

	var undone []string
	stack := []compensationEntry{
		{step: compStep("a", func(string) error {
			undone = append(undone, "a")
			return nil
		}), output: ""},
		{step: compStep("b", func(string) error {
			return errors.New("refund rejected")
		}), output: ""},
		{step: compStep("c", func(string) error {
			undone = append(undone, "c")
			return nil
		}), output: ""},
	}

	statuses := map[string]StepStatus{}
	report := c.unwind(tc, stack, func(id string, st StepStatus) {
		statuses[id] = st
	})

	require.Error(t, report.Err)
	assert.ErrorIs(t, report.Err, ErrCompensation)
	assert.Contains(t, report.Err.Error(), "refund rejected")

	// The failure on b does not stop a and c from being compensated.
	assert.Equal(t, []string{"c", "a"}, undone)
	assert.Equal(t, 3, report.Attempted)
	assert.Equal(t, 2, report.Compensated)
	assert.Equal(t, 1, report.Failed)

	assert.Equal(t, StepCompensated, statuses["a"])
	assert.Equal(t, StepFailed, statuses["b"])
	assert.Equal(t, StepCompensated, statuses["c"])

	var failureLogged bool
	for _, entry := range txlog.Entries(tc.ExecutionID) {
		if entry.Message == "step compensation failed" && entry.StepID == "b" {
			failureLogged = true
		}
	}
	assert.True(t, failureLogged)
}

func TestUnwindNilCompensation(t *testing.T) {
	c, _ := newTestCompensator()
	tc := newTransactionContext("s", ContextOverrides{})

	step := NewStep[any, string]("read_only", "Read only",
		func(_ context.Context, _ *TransactionContext, _ any) (string, error) {
			return "", nil
		},
		nil,
	)

	report := c.unwind(tc, []compensationEntry{{step: step}}, func(string, StepStatus) {})
	require.NoError(t, report.Err)
	assert.Equal(t, 1, report.Attempted)
	assert.Equal(t, 1, report.Compensated)
}

func TestUnwindEmptyStack(t *testing.T) {
	c, _ := newTestCompensator()
	tc := newTransactionContext("s", ContextOverrides{})

	report := c.unwind(tc, nil, func(string, StepStatus) {})
	require.NoError(t, report.Err)
	assert.Equal(t, 0, report.Attempted)
	assert.Empty(t, report.Results)
}

func TestUnwindExactlyOnce(t *testing.T) {
	c, _ := newTestCompensator()
	tc := newTransactionContext("s", ContextOverrides{})

	calls := map[string]int{}
	mk := func(id string) compensationEntry {
		return compensationEntry{step: compStep(id, func(string) error {
			calls[id]++
			return nil
		})}
	}

	stack := []compensationEntry{mk("a"), mk("b"), mk("c")}
	report := c.unwind(tc, stack, func(string, StepStatus) {})
	require.NoError(t, report.Err)
	for id, n := range calls {
		assert.Equal(t, 1, n, "step %s compensated more than once", id)
	}
	assert.Len(t, calls, 3)
}
