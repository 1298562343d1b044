// Package translator provides ordered transformation chains applied to the
// generation context before a reply is generated and to the reply after.
package translator

import (
	"context"
	"fmt"
	"sync"

	"persona/internal/domain"
)

// Stage transforms a payload. Stages receive the previous stage's output.
type Stage[T any] interface {
	Name() string
	Apply(ctx context.Context, in T) (T, error)
}

// StageFunc adapts a function into a Stage.
type StageFunc[T any] struct {
	Label string
	Fn    func(ctx context.Context, in T) (T, error)
}

func (s StageFunc[T]) Name() string { return s.Label }

func (s StageFunc[T]) Apply(ctx context.Context, in T) (T, error) { return s.Fn(ctx, in) }

// TransformError wraps the failure of a single stage.
type TransformError struct {
	Stage string
	Err   error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("translator stage %s: %v", e.Stage, e.Err)
}

func (e *TransformError) Unwrap() []error { return []error{domain.ErrTransform, e.Err} }

// Chain runs stages in registration order. A chain with no stages returns
// its input unchanged. Stages can only be appended.
type Chain[T any] struct {
	mu     sync.RWMutex
	stages []Stage[T]
}

func NewChain[T any](stages ...Stage[T]) *Chain[T] {
	c := &Chain[T]{}
	for _, s := range stages {
		c.Add(s)
	}
	return c
}

func (c *Chain[T]) Add(s Stage[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stages = append(c.stages, s)
}

// Apply runs every stage. On the first failure the partially transformed
// value is discarded and the zero value is returned with the error.
func (c *Chain[T]) Apply(ctx context.Context, in T) (T, error) {
	c.mu.RLock()
	stages := make([]Stage[T], len(c.stages))
	copy(stages, c.stages)
	c.mu.RUnlock()

	cur := in
	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, &TransformError{Stage: s.Name(), Err: err}
		}
		out, err := s.Apply(ctx, cur)
		if err != nil {
			var zero T
			return zero, &TransformError{Stage: s.Name(), Err: err}
		}
		cur = out
	}
	return cur, nil
}

func (c *Chain[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.stages)
}

func (c *Chain[T]) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.Name()
	}
	return names
}

// Pre is the chain applied to the generation context.
type Pre = Chain[domain.GenerationContext]

// Post is the chain applied to the generated reply.
type Post = Chain[domain.Reply]
