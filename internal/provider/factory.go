package provider

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"persona/internal/config"
	"persona/internal/domain"
)

// Constructor builds a generator from its config entry.
type Constructor func(gc config.GeneratorConfig, exec Executor, logger *slog.Logger) (domain.Generator, error)

// Factory builds generators by kind.
type Factory struct {
	logger       *slog.Logger
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewFactory creates a factory with the built-in kinds registered.
func NewFactory(logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{logger: logger, constructors: make(map[string]Constructor)}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds or replaces the constructor for kind.
func (f *Factory) RegisterConstructor(kind string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[kind] = ctor
}

func (f *Factory) Kinds() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	kinds := make([]string, 0, len(f.constructors))
	for k := range f.constructors {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

func (f *Factory) registerDefaults() {
	f.constructors["echo"] = func(config.GeneratorConfig, Executor, *slog.Logger) (domain.Generator, error) {
		return Echo{}, nil
	}
	f.constructors["openai"] = func(gc config.GeneratorConfig, exec Executor, logger *slog.Logger) (domain.Generator, error) {
		return NewOpenAI(OpenAIConfig{
			APIKey:      gc.APIKey,
			APIBase:     gc.APIBase,
			Model:       gc.Model,
			Temperature: gc.Temperature,
			MaxTokens:   int64(gc.MaxTokens),
			Timeout:     time.Duration(gc.TimeoutSeconds) * time.Second,
			Executor:    exec,
			Logger:      logger,
		}), nil
	}
	// Ollama serves an OpenAI-compatible API.
	f.constructors["ollama"] = func(gc config.GeneratorConfig, exec Executor, logger *slog.Logger) (domain.Generator, error) {
		if gc.APIBase == "" {
			gc.APIBase = "http://localhost:11434/v1"
		}
		if gc.Model == "" {
			return nil, fmt.Errorf("ollama: model is required")
		}
		return f.constructors["openai"](gc, exec, logger)
	}
	f.constructors["anthropic"] = func(gc config.GeneratorConfig, exec Executor, logger *slog.Logger) (domain.Generator, error) {
		return NewAnthropic(AnthropicConfig{
			APIKey:      gc.APIKey,
			APIBase:     gc.APIBase,
			Model:       gc.Model,
			Temperature: gc.Temperature,
			MaxTokens:   int64(gc.MaxTokens),
			Timeout:     time.Duration(gc.TimeoutSeconds) * time.Second,
			Executor:    exec,
			Logger:      logger,
		}), nil
	}
}

// Build creates the configured generator, chaining fallbacks behind it
// and applying the rate limit when one is set.
func (f *Factory) Build(gc config.GeneratorConfig, exec Executor) (domain.Generator, error) {
	primary, err := f.build(gc, exec)
	if err != nil {
		return nil, err
	}
	if len(gc.Fallbacks) == 0 {
		return primary, nil
	}
	chain := []domain.Generator{primary}
	for _, fb := range gc.Fallbacks {
		g, err := f.build(fb, exec)
		if err != nil {
			return nil, fmt.Errorf("fallback: %w", err)
		}
		chain = append(chain, g)
	}
	return NewFailover(chain, f.logger), nil
}

func (f *Factory) build(gc config.GeneratorConfig, exec Executor) (domain.Generator, error) {
	f.mu.RLock()
	ctor, ok := f.constructors[gc.Kind]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown generator kind: %q", gc.Kind)
	}
	g, err := ctor(gc, exec, f.logger)
	if err != nil {
		return nil, err
	}
	if gc.RatePerMinute > 0 {
		g = NewThrottled(g, gc.RatePerMinute, gc.Burst)
	}
	return g, nil
}
