// Package activator decides which inbound events the agent replies to.
//
// An Activator holds named checks. Mandatory checks must all pass; advisory
// checks are combined with "any one passes". An activator with no checks
// rejects everything; register a check with the "always" condition to opt
// in to accepting every event.
package activator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"persona/internal/domain"
)

// Predicate is a check evaluated directly against an event. It may read
// captured state but must not modify it.
type Predicate func(domain.InboundEvent) bool

// Check is one admission rule. Exactly one of Predicate or Condition is set.
type Check struct {
	Name      string
	Predicate Predicate
	Condition string
	Mandatory bool
	Topic     string
	Sides     int
}

// CheckError reports a check that cannot be registered.
type CheckError struct {
	Name   string
	Reason string
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("activator check %q: %s", e.Name, e.Reason)
}

func (e *CheckError) Unwrap() error { return domain.ErrAdmission }

// evaluator is the compiled form of a check.
type evaluator interface {
	evaluate(ev domain.InboundEvent) bool
}

type predicateEvaluator struct {
	fn Predicate
}

func (p predicateEvaluator) evaluate(ev domain.InboundEvent) bool { return p.fn(ev) }

type compiled struct {
	name      string
	mandatory bool
	eval      evaluator
}

// Stats counts admission decisions.
type Stats struct {
	Accepted int64 `json:"accepted"`
	Rejected int64 `json:"rejected"`
}

// Activator is the admission gate.
type Activator struct {
	mu        sync.RWMutex
	checks    []compiled
	names     map[string]struct{}
	agentName string
	roll      func(sides int) int
	logger    *slog.Logger

	accepted atomic.Int64
	rejected atomic.Int64
}

// Config configures an Activator.
type Config struct {
	// AgentName is used by the "mention" condition.
	AgentName string
	// Roll returns a value in [0, sides). Defaults to math/rand.
	Roll   func(sides int) int
	Logger *slog.Logger
}

func New(cfg Config) *Activator {
	if cfg.Roll == nil {
		cfg.Roll = func(sides int) int { return rand.IntN(sides) }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Activator{
		names:     make(map[string]struct{}),
		agentName: cfg.AgentName,
		roll:      cfg.Roll,
		logger:    cfg.Logger,
	}
}

// Add validates and registers a check. Malformed checks fail here, never
// during evaluation.
func (a *Activator) Add(c Check) error {
	if c.Name == "" {
		return &CheckError{Name: c.Name, Reason: "name is required"}
	}

	var eval evaluator
	switch {
	case c.Predicate != nil && c.Condition != "":
		return &CheckError{Name: c.Name, Reason: "predicate and condition are mutually exclusive"}
	case c.Predicate != nil:
		eval = predicateEvaluator{fn: c.Predicate}
	case c.Condition != "":
		ce, err := compileCondition(c, a.agentName, a.roll)
		if err != nil {
			return err
		}
		eval = ce
	default:
		return &CheckError{Name: c.Name, Reason: "either predicate or condition is required"}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, dup := a.names[c.Name]; dup {
		return &CheckError{Name: c.Name, Reason: "already registered"}
	}
	a.names[c.Name] = struct{}{}
	a.checks = append(a.checks, compiled{name: c.Name, mandatory: c.Mandatory, eval: eval})
	a.logger.Debug("activator check added", "name", c.Name, "condition", c.Condition, "mandatory", c.Mandatory)
	return nil
}

// MustAdd is Add for checks built in code; it panics on a malformed check.
func (a *Activator) MustAdd(c Check) {
	if err := a.Add(c); err != nil {
		panic(err)
	}
}

// Accepts reports whether ev may proceed to reply generation.
func (a *Activator) Accepts(ctx context.Context, ev domain.InboundEvent) bool {
	ok, reason := a.decide(ev)
	if ok {
		a.accepted.Add(1)
	} else {
		a.rejected.Add(1)
		a.logger.DebugContext(ctx, "event rejected", "event_id", ev.ID, "reason", reason)
	}
	return ok
}

func (a *Activator) decide(ev domain.InboundEvent) (bool, string) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if len(a.checks) == 0 {
		return false, "no checks registered"
	}

	advisory := 0
	for _, c := range a.checks {
		if !c.mandatory {
			advisory++
			continue
		}
		if !c.eval.evaluate(ev) {
			return false, "mandatory check failed: " + c.name
		}
	}
	if advisory == 0 {
		return true, ""
	}
	for _, c := range a.checks {
		if c.mandatory {
			continue
		}
		if c.eval.evaluate(ev) {
			return true, ""
		}
	}
	return false, "no advisory check matched"
}

// Checks returns the registered check names in registration order.
func (a *Activator) Checks() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, len(a.checks))
	for i, c := range a.checks {
		names[i] = c.name
	}
	return names
}

func (a *Activator) Stats() Stats {
	return Stats{Accepted: a.accepted.Load(), Rejected: a.rejected.Load()}
}
