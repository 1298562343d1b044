package provider

import (
	"context"

	"golang.org/x/time/rate"

	"persona/internal/domain"
)

// Throttled limits how often the wrapped generator is called.
type Throttled struct {
	next    domain.Generator
	limiter *rate.Limiter
}

// NewThrottled allows perMinute calls on average with bursts of burst.
func NewThrottled(next domain.Generator, perMinute float64, burst int) *Throttled {
	if burst < 1 {
		burst = 1
	}
	return &Throttled{next: next, limiter: rate.NewLimiter(rate.Limit(perMinute/60), burst)}
}

func (t *Throttled) Name() string { return t.next.Name() }

func (t *Throttled) Generate(ctx context.Context, gc domain.GenerationContext) (domain.InternalMessage, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return domain.InternalMessage{}, generationError(t.Name(), err)
	}
	return t.next.Generate(ctx, gc)
}
