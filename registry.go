package sagaflow

import (
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
)

// DefinitionRegistry validates and stores saga definitions.
//
// Definitions are identified by their ID. Registration is the single point
// where a definition's step graph is validated; everything downstream
// (ordering, input checks) can therefore treat a registered definition as
// well formed. Re-registering an ID atomically replaces the previous
// definition without affecting executions already driving the old one.
type DefinitionRegistry struct {
	defs   *xsync.MapOf[string, *SagaDefinition]
	logger zerolog.Logger
}

// NewDefinitionRegistry creates an empty registry.
func NewDefinitionRegistry(logger zerolog.Logger) *DefinitionRegistry {
	return &DefinitionRegistry{
		defs:   xsync.NewMapOf[string, *SagaDefinition](),
		logger: logger,
	}
}

// Register validates the definition and stores it. Nothing is stored on a
// validation failure.
func (r *DefinitionRegistry) Register(def *SagaDefinition) error {
	if def == nil {
		return fmt.Errorf("%w: nil definition", ErrValidation)
	}
	if err := def.Validate(); err != nil {
		return err
	}
	r.defs.Store(def.ID, def)
	r.logger.Debug().Str("saga_id", def.ID).Int("steps", len(def.Steps)).Msg("saga definition registered")
	return nil
}

// Lookup retrieves a definition by id.
func (r *DefinitionRegistry) Lookup(id string) (*SagaDefinition, error) {
	def, ok := r.defs.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: saga definition %q", ErrNotFound, id)
	}
	return def, nil
}
