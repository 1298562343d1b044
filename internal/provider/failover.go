package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"persona/internal/domain"
)

// Failover tries generators in order and returns the first reply.
type Failover struct {
	generators []domain.Generator
	logger     *slog.Logger
}

func NewFailover(generators []domain.Generator, logger *slog.Logger) *Failover {
	if logger == nil {
		logger = slog.Default()
	}
	return &Failover{generators: generators, logger: logger}
}

func (f *Failover) Name() string {
	names := make([]string, len(f.generators))
	for i, g := range f.generators {
		names[i] = g.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

func (f *Failover) Generate(ctx context.Context, gc domain.GenerationContext) (domain.InternalMessage, error) {
	if len(f.generators) == 0 {
		return domain.InternalMessage{}, generationError("failover", errors.New("no generators configured"))
	}
	var lastErr error
	for i, g := range f.generators {
		msg, err := g.Generate(ctx, gc)
		if err == nil {
			if i > 0 {
				f.logger.Info("failover: used fallback generator", "generator", g.Name(), "attempt", i+1)
			}
			return msg, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		f.logger.Warn("failover: generator failed, trying next", "generator", g.Name(), "attempt", i+1, "err", err)
	}
	return domain.InternalMessage{}, fmt.Errorf("all generators failed: %w", lastErr)
}
