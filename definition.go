package sagaflow

import (
	"fmt"
	"reflect"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/fortessa/sagaflow/dag"
)

// SagaDefinition is an immutable template for executions: an identifier, a
// human name, and a dependency-ordered set of steps. Definitions are
// validated at registration and never mutated afterwards.
type SagaDefinition struct {
	ID    string
	Name  string
	Steps []*Step

	// Deadline, when non-zero, bounds every execution of this saga.
	Deadline time.Duration
}

// Validate checks the definition: at least one step, unique step ids, every
// dependency resolving to a step in the definition, an acyclic dependency
// graph, valid per-step retry policies, and a single input type across steps.
func (d *SagaDefinition) Validate() error {
	err := validation.ValidateStruct(d,
		validation.Field(&d.ID, validation.Required),
		validation.Field(&d.Name, validation.Required),
		validation.Field(&d.Steps, validation.Required),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	ids := mapset.NewSet[string]()
	var inputType reflect.Type
	var inputStepID string
	for _, s := range d.Steps {
		if s == nil {
			return fmt.Errorf("%w: saga %q contains a nil step", ErrValidation, d.ID)
		}
		if s.ID == "" {
			return fmt.Errorf("%w: saga %q contains a step with an empty id", ErrValidation, d.ID)
		}
		if s.action == nil {
			return fmt.Errorf("%w: step %q has no action", ErrValidation, s.ID)
		}
		if !ids.Add(s.ID) {
			return fmt.Errorf("%w: duplicate step id %q", ErrValidation, s.ID)
		}
		if s.Retry != nil {
			if err := s.Retry.Validate(); err != nil {
				return fmt.Errorf("step %q: %w", s.ID, err)
			}
		}
		if s.inputType == nil {
			continue
		}
		if inputType == nil {
			inputType, inputStepID = s.inputType, s.ID
		} else if s.inputType != inputType {
			return fmt.Errorf("%w: step %q expects input %s but step %q expects %s",
				ErrValidation, s.ID, s.inputType, inputStepID, inputType)
		}
	}

	for _, s := range d.Steps {
		for _, dep := range s.DependsOn {
			if dep == s.ID {
				return fmt.Errorf("%w: step %q depends on itself", ErrValidation, s.ID)
			}
			if !ids.Contains(dep) {
				return fmt.Errorf("%w: step %q depends on unknown step %q", ErrValidation, s.ID, dep)
			}
		}
	}

	if _, err := d.executionOrder(); err != nil {
		return err
	}
	return nil
}

// Graph builds the dependency graph of the definition, for inspection or DOT
// export. Edges point from a dependency to its dependent.
func (d *SagaDefinition) Graph() *dag.Graph {
	g, _ := d.buildGraph()
	return g
}

func (d *SagaDefinition) buildGraph() (*dag.Graph, map[int64]*Step) {
	g := dag.New()
	byID := make(map[string]int64, len(d.Steps))
	byIndex := make(map[int64]*Step, len(d.Steps))
	for _, s := range d.Steps {
		idx := g.AddNode(s.ID)
		byID[s.ID] = idx
		byIndex[idx] = s
	}
	for _, s := range d.Steps {
		for _, dep := range s.DependsOn {
			if err := g.AddEdge(byID[dep], byID[s.ID]); err != nil {
				panic(fmt.Sprintf("sagaflow: adding validated edge %q -> %q failed: %v; this is a bug in the framework", dep, s.ID, err))
			}
		}
	}
	return g, byIndex
}

// executionOrder returns the steps in topological order. Since node ids are
// assigned in declaration order, ties break toward the earlier-declared step.
func (d *SagaDefinition) executionOrder() ([]*Step, error) {
	g, byIndex := d.buildGraph()
	order, err := g.TopoSort()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	steps := make([]*Step, len(order))
	for i, idx := range order {
		steps[i] = byIndex[idx]
	}
	return steps, nil
}

// checkInput verifies a start input against the input types the definition's
// steps were constructed with.
func (d *SagaDefinition) checkInput(input any) error {
	t := reflect.TypeOf(input)
	for _, s := range d.Steps {
		st := s.inputType
		if st == nil {
			continue
		}
		if t == nil {
			if st.Kind() == reflect.Interface {
				continue
			}
			return fmt.Errorf("%w: saga %q step %q expects input %s, got nil", ErrValidation, d.ID, s.ID, st)
		}
		if !t.AssignableTo(st) {
			return fmt.Errorf("%w: saga %q step %q expects input %s, got %s", ErrValidation, d.ID, s.ID, st, t)
		}
	}
	return nil
}
