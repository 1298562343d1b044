// Package agent holds the agent context object and the reply orchestrator
// that turns admitted events into edited placeholder replies.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"persona/internal/activator"
	"persona/internal/domain"
	"persona/internal/knowledge"
	"persona/internal/memory"
	"persona/internal/metrics"
	"persona/internal/swarm"
	"persona/internal/translator"
)

type Config struct {
	Name           string
	Preamble       string
	LoadingMessage string
	ConfirmEmoji   string
	// HistoryWindow is how many stored messages of the context are read
	// back into the generation context.
	HistoryWindow int
	KnowledgeTopK int

	// SelfReplyChance in [0,1] enables replying to the agent's own replies
	// after SelfReplyDelay.
	SelfReplyChance float64
	SelfReplyDelay  time.Duration
	Roll            func() float64

	Transport domain.Transport
	Generator domain.Generator
	Store     *memory.Store
	Examples  *memory.ExampleSet
	Loader    *knowledge.Loader
	Ranker    domain.Ranker
	// Abilities is shared with generators that call abilities.
	Abilities *swarm.Registry
	Tasks     TaskGroupConfig
	Logger    *slog.Logger
	Metrics   *metrics.Agent
}

// Agent is the context object every part of the reply pipeline reads from.
type Agent struct {
	cfg     Config
	name    string
	logger  *slog.Logger
	metrics *metrics.Agent

	transport    domain.Transport
	generator    domain.Generator
	activator    *activator.Activator
	pre          *translator.Pre
	post         *translator.Post
	formatter    translator.Formatter
	abilities    *swarm.Registry
	interactions *memory.Interactions
	examples     *memory.ExampleSet
	feedback     *memory.Feedback
	collection   *knowledge.Collection
	queue        *knowledge.Queue
	loader       *knowledge.Loader
	tasks        *TaskGroup

	mu     sync.RWMutex
	ranker domain.Ranker
	owner  domain.Identity
	seq    uint64
}

func New(cfg Config) (*Agent, error) {
	switch {
	case cfg.Transport == nil:
		return nil, errors.New("agent: transport is required")
	case cfg.Generator == nil:
		return nil, errors.New("agent: generator is required")
	case cfg.Store == nil:
		return nil, errors.New("agent: store is required")
	}
	if cfg.Name == "" {
		cfg.Name = "Persona"
	}
	if cfg.LoadingMessage == "" {
		cfg.LoadingMessage = "Thinking..."
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 12
	}
	if cfg.KnowledgeTopK <= 0 {
		cfg.KnowledgeTopK = 3
	}
	if cfg.Roll == nil {
		cfg.Roll = rand.Float64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewAgent(metrics.NewCollector("persona"))
	}
	if cfg.Examples == nil {
		cfg.Examples = memory.NewExampleSet("")
	}
	if cfg.Loader == nil {
		cfg.Loader = knowledge.NewLoader(knowledge.LoaderConfig{Logger: cfg.Logger})
	}
	if cfg.Ranker == nil {
		cfg.Ranker = knowledge.NewCosineRanker(cfg.Loader.Embedder(), 0)
	}
	if cfg.Abilities == nil {
		cfg.Abilities = swarm.NewRegistry(cfg.Logger)
	}
	cfg.Tasks.Logger = cfg.Logger
	cfg.Tasks.Metrics = cfg.Metrics

	a := &Agent{
		cfg:          cfg,
		name:         cfg.Name,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		transport:    cfg.Transport,
		generator:    cfg.Generator,
		pre:          translator.NewChain[domain.GenerationContext](),
		post:         translator.NewChain[domain.Reply](),
		abilities:    cfg.Abilities,
		interactions: memory.NewInteractions(cfg.Store),
		examples:     cfg.Examples,
		collection:   knowledge.NewCollection(),
		queue:        knowledge.NewQueue(cfg.Logger),
		loader:       cfg.Loader,
		ranker:       cfg.Ranker,
		tasks:        NewTaskGroup(cfg.Tasks),
	}
	a.activator = activator.Default(activator.Config{AgentName: cfg.Name, Logger: cfg.Logger}, a.selfID)
	a.feedback = memory.NewFeedback(memory.FeedbackConfig{
		Interactions: a.interactions,
		Examples:     a.examples,
		Emoji:        cfg.ConfirmEmoji,
		OwnerID:      a.ownerID,
		SelfID:       a.selfID,
		Logger:       cfg.Logger,
	})
	return a, nil
}

func (a *Agent) Name() string { return a.name }

func (a *Agent) selfID() string { return a.transport.Self().ID }

func (a *Agent) ownerID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.owner.ID
}

// Connected refreshes platform identities after the transport opens. An
// unknown owner disables feedback until the next connect.
func (a *Agent) Connected(ctx context.Context) {
	owner, err := a.transport.Owner(ctx)
	if err != nil {
		a.logger.Warn("owner unknown, feedback disabled", "err", err)
		return
	}
	a.mu.Lock()
	a.owner = owner
	a.mu.Unlock()
	a.logger.Info("agent connected", "self", a.transport.Self().Name, "owner", owner.ID)
}

// AddActivator registers an admission check.
func (a *Agent) AddActivator(c activator.Check) error { return a.activator.Add(c) }

// AddPreTranslator appends a stage run on the generation context.
func (a *Agent) AddPreTranslator(s translator.Stage[domain.GenerationContext]) { a.pre.Add(s) }

// AddPostTranslator appends a stage run on the generated reply.
func (a *Agent) AddPostTranslator(s translator.Stage[domain.Reply]) { a.post.Add(s) }

func (a *Agent) SetFormatter(f translator.Formatter) { a.formatter = f }

func (a *Agent) AddAbility(ab domain.Ability) { a.abilities.Register(ab) }

// AddAbilities registers every ability of src and returns how many.
func (a *Agent) AddAbilities(src swarm.Source) int { return a.abilities.Use(src) }

// UseExamples loads the examples persisted at path into the agent's set.
func (a *Agent) UseExamples(path string) error {
	set := memory.NewExampleSet(path)
	if err := set.Load(); err != nil {
		return fmt.Errorf("use examples: %w", err)
	}
	a.examples.Add(set.All()...)
	a.logger.Info("examples loaded", "path", path, "count", set.Len())
	return nil
}

// AddExamples adds examples in memory only.
func (a *Agent) AddExamples(examples ...string) { a.examples.Add(examples...) }

// AddKnowledge queues a source for loading on the next connect. kind is
// "json" (pre-embedded), "text" or "url".
func (a *Agent) AddKnowledge(source, kind string) error {
	switch kind {
	case "json":
		a.queue.Push(source, a.loader.PreEmbedded(source))
	case "text":
		a.queue.Push(source, a.loader.Text(source))
	case "url":
		a.queue.Push(source, a.loader.URL(source))
	default:
		return fmt.Errorf("knowledge %s: unknown kind %q", source, kind)
	}
	return nil
}

// AddKnowledgeDirectory queues every supported file in dir.
func (a *Agent) AddKnowledgeDirectory(dir string) (knowledge.ScanResult, error) {
	return a.loader.ScanDirectory(dir, a.queue)
}

func (a *Agent) SetRanker(r domain.Ranker) {
	a.mu.Lock()
	a.ranker = r
	a.mu.Unlock()
}

func (a *Agent) currentRanker() domain.Ranker {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ranker
}

func (a *Agent) Transport() domain.Transport        { return a.transport }
func (a *Agent) Activator() *activator.Activator    { return a.activator }
func (a *Agent) Abilities() *swarm.Registry         { return a.abilities }
func (a *Agent) Interactions() *memory.Interactions { return a.interactions }
func (a *Agent) Examples() *memory.ExampleSet       { return a.examples }
func (a *Agent) Feedback() *memory.Feedback         { return a.feedback }
func (a *Agent) Collection() *knowledge.Collection  { return a.collection }
func (a *Agent) Queue() *knowledge.Queue            { return a.queue }
func (a *Agent) Loader() *knowledge.Loader          { return a.loader }
func (a *Agent) Tasks() *TaskGroup                  { return a.tasks }
func (a *Agent) Metrics() *metrics.Agent            { return a.metrics }

// Shutdown cancels in-flight replies and stops the task workers.
func (a *Agent) Shutdown() { a.tasks.Shutdown() }
