package sagaflow

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderInput struct {
	OrderID string
	Amount  float64
}

func noopStep(id string, deps ...string) *Step {
	return NewStep(id, id,
		func(_ context.Context, _ *TransactionContext, _ orderInput) (string, error) {
			return id + "-done", nil
		},
		nil,
		WithDependencies(deps...),
	)
}

func TestDefinitionValidate(t *testing.T) {
	def := &SagaDefinition{
		ID:   "order_fulfillment",
		Name: "Order Fulfillment",
		Steps: []*Step{
			noopStep("reserve_inventory"),
			noopStep("charge_payment", "reserve_inventory"),
			noopStep("schedule_shipping", "charge_payment"),
		},
	}
	require.NoError(t, def.Validate())
}

func TestDefinitionValidateRejects(t *testing.T) {
	cases := map[string]*SagaDefinition{
		"missing id": {
			Name:  "x",
			Steps: []*Step{noopStep("a")},
		},
		"missing name": {
			ID:    "x",
			Steps: []*Step{noopStep("a")},
		},
		"no steps": {
			ID:   "x",
			Name: "x",
		},
		"duplicate step ids": {
			ID:   "x",
			Name: "x",
			Steps: []*Step{
				noopStep("a"),
				noopStep("a"),
			},
		},
		"unknown dependency": {
			ID:   "x",
			Name: "x",
			Steps: []*Step{
				noopStep("a", "missing"),
			},
		},
		"self dependency": {
			ID:   "x",
			Name: "x",
			Steps: []*Step{
				noopStep("a", "a"),
			},
		},
		"dependency cycle": {
			ID:   "x",
			Name: "x",
			Steps: []*Step{
				noopStep("a", "c"),
				noopStep("b", "a"),
				noopStep("c", "b"),
			},
		},
		"step with no action": {
			ID:   "x",
			Name: "x",
			Steps: []*Step{
				NewStep[orderInput, string]("a", "a", nil, nil),
			},
		},
		"invalid step retry policy": {
			ID:   "x",
			Name: "x",
			Steps: []*Step{
				NewStep("a", "a",
					func(_ context.Context, _ *TransactionContext, _ orderInput) (string, error) {
						return "", nil
					},
					nil,
					WithRetryPolicy(RetryPolicy{MaxAttempts: -1}),
				),
			},
		},
		"mixed input types": {
			ID:   "x",
			Name: "x",
			Steps: []*Step{
				noopStep("a"),
				NewStep("b", "b",
					func(_ context.Context, _ *TransactionContext, input int) (string, error) {
						return "", nil
					},
					nil,
				),
			},
		},
	}

	for name, def := range cases {
		t.Run(name, func(t *testing.T) {
			err := def.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestExecutionOrderRespectsDependencies(t *testing.T) {
	def := &SagaDefinition{
		ID:   "diamond",
		Name: "Diamond",
		Steps: []*Step{
			noopStep("join", "left", "right"),
			noopStep("left", "root"),
			noopStep("right", "root"),
			noopStep("root"),
		},
	}
	require.NoError(t, def.Validate())

	order, err := def.executionOrder()
	require.NoError(t, err)
	require.Len(t, order, 4)

	pos := make(map[string]int, len(order))
	for i, s := range order {
		pos[s.ID] = i
	}
	assert.Less(t, pos["root"], pos["left"])
	assert.Less(t, pos["root"], pos["right"])
	assert.Less(t, pos["left"], pos["join"])
	assert.Less(t, pos["right"], pos["join"])

	// Declaration order breaks ties, so the order is stable across calls.
	again, err := def.executionOrder()
	require.NoError(t, err)
	assert.Equal(t, order, again)
}

func TestDefinitionGraphExport(t *testing.T) {
	def := &SagaDefinition{
		ID:   "chain",
		Name: "Chain",
		Steps: []*Step{
			noopStep("first"),
			noopStep("second", "first"),
		},
	}
	require.NoError(t, def.Validate())

	out, err := def.Graph().ExportToDot()
	require.NoError(t, err)
	assert.Contains(t, out, "first")
	assert.Contains(t, out, "second")
}

func TestCheckInput(t *testing.T) {
	def := &SagaDefinition{
		ID:   "typed",
		Name: "Typed",
		Steps: []*Step{
			noopStep("only"),
		},
	}
	require.NoError(t, def.Validate())

	assert.NoError(t, def.checkInput(orderInput{OrderID: "o-1"}))
	assert.ErrorIs(t, def.checkInput("wrong"), ErrValidation)
	assert.ErrorIs(t, def.checkInput(nil), ErrValidation)
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewDefinitionRegistry(zerolog.Nop())

	def := &SagaDefinition{
		ID:    "order_fulfillment",
		Name:  "Order Fulfillment",
		Steps: []*Step{noopStep("reserve_inventory")},
	}
	require.NoError(t, r.Register(def))

	got, err := r.Lookup("order_fulfillment")
	require.NoError(t, err)
	assert.Same(t, def, got)

	_, err = r.Lookup("unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryOverwrite(t *testing.T) {
	r := NewDefinitionRegistry(zerolog.Nop())

	v1 := &SagaDefinition{ID: "s", Name: "v1", Steps: []*Step{noopStep("a")}}
	v2 := &SagaDefinition{ID: "s", Name: "v2", Steps: []*Step{noopStep("a"), noopStep("b", "a")}}
	require.NoError(t, r.Register(v1))
	require.NoError(t, r.Register(v2))

	got, err := r.Lookup("s")
	require.NoError(t, err)
	assert.Same(t, v2, got)
}

func TestRegistryRejectsInvalid(t *testing.T) {
	r := NewDefinitionRegistry(zerolog.Nop())

	require.Error(t, r.Register(nil))

	bad := &SagaDefinition{ID: "bad", Name: "bad", Steps: []*Step{noopStep("a", "ghost")}}
	require.ErrorIs(t, r.Register(bad), ErrValidation)

	// Nothing is stored on a failed registration.
	_, err := r.Lookup("bad")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDefinitionDeadlineField(t *testing.T) {
	def := &SagaDefinition{
		ID:       "bounded",
		Name:     "Bounded",
		Steps:    []*Step{noopStep("a")},
		Deadline: 2 * time.Second,
	}
	require.NoError(t, def.Validate())
}
