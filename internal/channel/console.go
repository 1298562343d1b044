package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"persona/internal/domain"
)

const consoleContext = "console"

type ConsoleConfig struct {
	AgentName    string
	OwnerName    string
	ConfirmEmoji string
	Commands     []Command
	In           io.Reader
	Out          io.Writer
	// OnQuit is called on /quit or end of input.
	OnQuit func()
	Logger *slog.Logger
}

// Console is an interactive terminal transport. Every line is a direct
// message from the owner; ":react <id>" confirms an agent reply.
type Console struct {
	cfg     ConsoleConfig
	logger  *slog.Logger
	session session

	messages  listeners[domain.InboundEvent]
	reactions listeners[domain.Reaction]

	outMu sync.Mutex

	mu      sync.Mutex
	authors map[string]string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lines   chan string
}

func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.AgentName == "" {
		cfg.AgentName = "agent"
	}
	if cfg.OwnerName == "" {
		cfg.OwnerName = "you"
	}
	if cfg.ConfirmEmoji == "" {
		cfg.ConfirmEmoji = "✅"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Console{
		cfg:     cfg,
		logger:  logger,
		authors: make(map[string]string),
		lines:   make(chan string),
	}
	// The reader outlives sessions; stdin cannot be reopened.
	go c.read()
	return c
}

func (c *Console) Name() string { return "console" }

func (c *Console) read() {
	scanner := bufio.NewScanner(c.cfg.In)
	for scanner.Scan() {
		c.lines <- scanner.Text()
	}
	if err := scanner.Err(); err != nil {
		c.logger.Warn("console input failed", "err", err)
	}
	close(c.lines)
}

func (c *Console) Open(context.Context) error {
	c.session.begin()
	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.printf("%s console. Type a message and press Enter. :react <id> confirms a reply, /quit exits.\n", c.cfg.AgentName)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.loop(runCtx)
	}()
	return nil
}

func (c *Console) loop(ctx context.Context) {
	for {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return
		case line, ok = <-c.lines:
		}
		if !ok {
			c.quit()
			return
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case line == "/quit" || line == "/exit":
			c.quit()
			return
		case strings.HasPrefix(line, ":react "):
			c.react(strings.TrimSpace(strings.TrimPrefix(line, ":react ")))
		case strings.HasPrefix(line, "/"):
			name, args, _ := strings.Cut(line[1:], " ")
			if cmd, ok := findCommand(c.cfg.Commands, name); ok {
				c.printf("%s\n", cmd.Run(ctx, strings.TrimSpace(args)))
			} else {
				c.printf("unknown command /%s\n", name)
			}
		default:
			id := uuid.NewString()
			c.remember(id, consoleOwnerID)
			c.messages.emit(domain.InboundEvent{
				ID:          id,
				AuthorID:    consoleOwnerID,
				AuthorName:  c.cfg.OwnerName,
				Content:     line,
				ContextID:   consoleContext,
				ContextKind: domain.ContextDirect,
				Timestamp:   time.Now(),
			})
		}
	}
}

func (c *Console) react(id string) {
	c.mu.Lock()
	author, ok := c.authors[id]
	c.mu.Unlock()
	if !ok {
		c.printf("no message %s\n", id)
		return
	}
	c.reactions.emit(domain.Reaction{
		MessageID:       id,
		ContextID:       consoleContext,
		UserID:          consoleOwnerID,
		Emoji:           c.cfg.ConfirmEmoji,
		MessageAuthorID: author,
	})
}

func (c *Console) quit() {
	c.logger.Info("console closed by user")
	if c.cfg.OnQuit != nil {
		c.cfg.OnQuit()
	}
}

func (c *Console) remember(id, author string) {
	c.mu.Lock()
	c.authors[id] = author
	c.mu.Unlock()
}

func (c *Console) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprintf(c.cfg.Out, format, args...)
}

func (c *Console) Done() <-chan struct{} { return c.session.Done() }

func (c *Console) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	c.session.end()
	return nil
}

func (c *Console) Self() domain.Identity {
	return domain.Identity{ID: consoleSelfID, Name: c.cfg.AgentName}
}

func (c *Console) Owner(context.Context) (domain.Identity, error) {
	return domain.Identity{ID: consoleOwnerID, Name: c.cfg.OwnerName}, nil
}

func (c *Console) OnMessage(fn func(domain.InboundEvent)) func() { return c.messages.add(fn) }

func (c *Console) OnReaction(fn func(domain.Reaction)) func() { return c.reactions.add(fn) }

func (c *Console) SendLoading(_ context.Context, contextID, text string) (domain.Handle, error) {
	id := uuid.NewString()
	c.remember(id, consoleSelfID)
	c.printf("[%s] %s: %s\n", id, c.cfg.AgentName, text)
	return domain.Handle{ContextID: contextID, MessageID: id, Editable: true}, nil
}

func (c *Console) Edit(_ context.Context, h domain.Handle, msg domain.OutboundMessage) error {
	if !h.Editable {
		return domain.ErrNotEditable
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s:", h.MessageID, c.cfg.AgentName)
	if msg.Embed != nil && msg.Embed.Title != "" {
		fmt.Fprintf(&b, " %s\n", msg.Embed.Title)
	} else {
		b.WriteString(" ")
	}
	b.WriteString(msg.Text())
	b.WriteString("\n")
	if msg.Embed != nil && msg.Embed.Footer != "" {
		fmt.Fprintf(&b, "  -- %s\n", msg.Embed.Footer)
	}
	c.printf("%s", b.String())
	return nil
}

func (c *Console) ClearRegistrations(context.Context) error { return nil }

const (
	consoleSelfID  = "console-agent"
	consoleOwnerID = "console-owner"
)
