// Package swarm is the agent's ability registry: a name to capability map
// handed to the generation step.
//
// Registering a name twice replaces the earlier ability (last registration
// wins). Replacements are logged at WARN and flagged in the registration log
// so a silent override can always be traced.
package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"persona/internal/domain"
)

// Source enumerates abilities to register under their declared names.
type Source interface {
	Abilities() []domain.Ability
}

// Registration is one entry in the insertion-order log.
type Registration struct {
	Seq       int    `json:"seq"`
	Name      string `json:"name"`
	Overwrote bool   `json:"overwrote"`
}

// Registry holds the abilities the generator may call.
type Registry struct {
	mu        sync.RWMutex
	abilities map[string]domain.Ability
	log       []Registration
	logger    *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		abilities: make(map[string]domain.Ability),
		logger:    logger,
	}
}

// Register adds a single ability, replacing any ability with the same name.
func (r *Registry) Register(a domain.Ability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registerLocked(a)
}

// Use registers every ability a source declares.
func (r *Registry) Use(src Source) int {
	abilities := src.Abilities()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range abilities {
		r.registerLocked(a)
	}
	return len(abilities)
}

func (r *Registry) registerLocked(a domain.Ability) {
	name := a.Name()
	_, exists := r.abilities[name]
	r.abilities[name] = a
	r.log = append(r.log, Registration{Seq: len(r.log) + 1, Name: name, Overwrote: exists})
	if exists {
		r.logger.Warn("ability overwritten", "name", name)
		return
	}
	r.logger.Debug("registered ability", "name", name)
}

// Resolve returns the ability registered under name.
func (r *Registry) Resolve(name string) (domain.Ability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.abilities[name]
	if !ok {
		return nil, fmt.Errorf("ability %q: %w", name, domain.ErrNotFound)
	}
	return a, nil
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.abilities[name]
	return ok
}

// Execute resolves and runs an ability.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	a, err := r.Resolve(name)
	if err != nil {
		return "", err
	}
	if r.logger.Enabled(ctx, slog.LevelDebug) {
		if b, err := json.Marshal(args); err == nil {
			r.logger.Debug("executing ability", "name", name, "args", string(b))
		}
	}
	return a.Execute(ctx, args)
}

// Definitions describes every ability, sorted by name.
func (r *Registry) Definitions() []domain.AbilityDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]domain.AbilityDefinition, 0, len(r.abilities))
	for _, a := range r.abilities {
		defs = append(defs, domain.AbilityDefinition{
			Name:        a.Name(),
			Description: a.Description(),
			Parameters:  a.Parameters(),
		})
	}
	slices.SortFunc(defs, func(a, b domain.AbilityDefinition) int {
		return strings.Compare(a.Name, b.Name)
	})
	return defs
}

// Names returns registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.abilities))
	for n := range r.abilities {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Log returns a copy of the registration log in insertion order.
func (r *Registry) Log() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.log)
}

// Param describes a single ability parameter.
type Param struct {
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
}

// Parameters builds a JSON Schema "parameters" object.
func Parameters(properties map[string]Param, required []string) map[string]any {
	props := make(map[string]any, len(properties))
	for name, p := range properties {
		props[name] = map[string]any{"type": p.Type, "description": p.Description}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ArgString reads a string argument, encoding non-strings as JSON.
func ArgString(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return string(b)
}
