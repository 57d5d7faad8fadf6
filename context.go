package sagaflow

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/btree"
)

// ContextOverrides carries caller-supplied fields for a new execution's
// TransactionContext.
type ContextOverrides struct {
	ActorID  string
	OrgID    string
	Metadata map[string]any
	// Deadline, when non-zero, bounds the whole execution and takes
	// precedence over the definition's deadline.
	Deadline time.Time
}

// TransactionContext is shared by every action and compensation call of one
// execution. It identifies the execution and accumulates the outputs of
// completed steps so dependent steps can look them up.
type TransactionContext struct {
	ExecutionID string
	SagaID      string
	ActorID     string
	OrgID       string
	Metadata    map[string]any
	StartedAt   time.Time
	Deadline    time.Time

	mu      sync.RWMutex
	outputs *btree.Map[string, any]
}

func newTransactionContext(sagaID string, ov ContextOverrides) *TransactionContext {
	tc := &TransactionContext{
		ExecutionID: uuid.NewString(),
		SagaID:      sagaID,
		ActorID:     ov.ActorID,
		OrgID:       ov.OrgID,
		Metadata:    make(map[string]any, len(ov.Metadata)),
		StartedAt:   time.Now(),
		Deadline:    ov.Deadline,
		outputs:     btree.NewMap[string, any](8),
	}
	for k, v := range ov.Metadata {
		tc.Metadata[k] = v
	}
	return tc
}

func (tc *TransactionContext) setOutput(stepID string, output any) {
	tc.mu.Lock()
	tc.outputs.Set(stepID, output)
	tc.mu.Unlock()
}

// Output returns the raw output of a previously completed step.
func (tc *TransactionContext) Output(stepID string) (any, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.outputs.Get(stepID)
}

// StepOutput retrieves the output of a previously completed step with a type
// assertion. It returns the zero value and false when the step has not
// completed or its output is not an O.
func StepOutput[O any](tc *TransactionContext, stepID string) (O, bool) {
	var zero O
	value, ok := tc.Output(stepID)
	if !ok {
		return zero, false
	}
	typed, ok := value.(O)
	if !ok {
		return zero, false
	}
	return typed, true
}
