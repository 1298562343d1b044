package domain

import "context"

// GenerationContext is everything the generation step sees for one reply.
type GenerationContext struct {
	AgentName string
	Preamble  string
	Event     InboundEvent
	History   []InternalMessage
	Examples  []string
	Knowledge []Snippet
	Abilities []AbilityDefinition
}

// Generator produces the agent's reply for a context.
type Generator interface {
	Name() string
	Generate(ctx context.Context, gc GenerationContext) (InternalMessage, error)
}
