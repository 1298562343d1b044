package agent

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"persona/internal/channel"
)

// Commands serves the transport commands. Transports are built before the
// agent, so the agent is bound afterwards.
type Commands struct {
	version string
	started time.Time

	mu sync.RWMutex
	a  *Agent
}

func NewCommands(version string) *Commands {
	return &Commands{version: version, started: time.Now()}
}

func (c *Commands) Bind(a *Agent) {
	c.mu.Lock()
	c.a = a
	c.mu.Unlock()
}

func (c *Commands) agent() *Agent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.a
}

// List returns the commands in the order they are shown by help.
func (c *Commands) List() []channel.Command {
	return []channel.Command{
		{Name: "help", Description: "Show the available commands", Run: c.bound(c.help)},
		{Name: "status", Description: "Show agent status", Run: c.bound(c.status)},
		{Name: "uptime", Description: "Show how long the agent has run", Run: c.bound(c.uptime)},
		{Name: "version", Description: "Show version info", Run: c.bound(c.versionText)},
		{Name: "abilities", Description: "List registered abilities", Run: c.bound(c.abilities)},
		{Name: "examples", Description: "Show how many examples the agent knows", Run: c.bound(c.examples)},
	}
}

func (c *Commands) bound(fn func(ctx context.Context, a *Agent, args string) string) func(context.Context, string) string {
	return func(ctx context.Context, args string) string {
		a := c.agent()
		if a == nil {
			return "agent is starting, try again shortly"
		}
		return fn(ctx, a, args)
	}
}

func (c *Commands) help(context.Context, *Agent, string) string {
	var sb strings.Builder
	sb.WriteString("**Commands**\n\n")
	for _, cmd := range c.List() {
		fmt.Fprintf(&sb, "/%s: %s\n", cmd.Name, cmd.Description)
	}
	return sb.String()
}

func (c *Commands) status(_ context.Context, a *Agent, _ string) string {
	stats := a.activator.Stats()
	var sb strings.Builder
	fmt.Fprintf(&sb, "**%s v%s**\n\n", a.name, c.version)
	fmt.Fprintf(&sb, "Transport: %s\n", a.transport.Name())
	fmt.Fprintf(&sb, "Generator: %s\n", a.generator.Name())
	fmt.Fprintf(&sb, "Abilities: %d registered\n", len(a.abilities.Names()))
	fmt.Fprintf(&sb, "Examples: %d\n", a.examples.Len())
	fmt.Fprintf(&sb, "Documents: %d (%d chunks)\n", a.collection.Len(), a.collection.Chunks())
	fmt.Fprintf(&sb, "Admitted: %d, rejected: %d\n", stats.Accepted, stats.Rejected)
	fmt.Fprintf(&sb, "Tasks in flight: %d\n", len(a.tasks.Active()))
	fmt.Fprintf(&sb, "Uptime: %s\n", time.Since(c.started).Round(time.Second))
	return sb.String()
}

func (c *Commands) uptime(context.Context, *Agent, string) string {
	return fmt.Sprintf("Uptime: %s", time.Since(c.started).Round(time.Second))
}

func (c *Commands) versionText(_ context.Context, a *Agent, _ string) string {
	return fmt.Sprintf("%s v%s (%s/%s, Go %s)", a.name, c.version, runtime.GOOS, runtime.GOARCH, runtime.Version())
}

func (c *Commands) abilities(_ context.Context, a *Agent, _ string) string {
	defs := a.abilities.Definitions()
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Abilities** (%d)\n\n", len(defs))
	for _, d := range defs {
		fmt.Fprintf(&sb, "• **%s**: %s\n", d.Name, d.Description)
	}
	return sb.String()
}

func (c *Commands) examples(_ context.Context, a *Agent, _ string) string {
	if path := a.examples.Path(); path != "" {
		return fmt.Sprintf("%d examples, saved to %s", a.examples.Len(), path)
	}
	return fmt.Sprintf("%d examples (not persisted)", a.examples.Len())
}
