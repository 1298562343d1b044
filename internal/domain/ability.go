package domain

import "context"

// Ability is a named capability the generation step may invoke.
type Ability interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// AbilityDefinition describes an ability to a model.
type AbilityDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}
