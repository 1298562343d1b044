package channel

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"persona/internal/domain"
)

// Sent is a placeholder posted through a Memory transport.
type Sent struct {
	Handle domain.Handle
	Text   string
}

// Edited is an edit applied through a Memory transport.
type Edited struct {
	Handle  domain.Handle
	Message domain.OutboundMessage
}

// Memory is an in-process transport. It records every send and edit and
// lets callers inject events, reactions and dropped sessions.
type Memory struct {
	session   session
	messages  listeners[domain.InboundEvent]
	reactions listeners[domain.Reaction]

	mu          sync.Mutex
	self        domain.Identity
	owner       domain.Identity
	sent        []Sent
	edits       []Edited
	opens       int
	closes      int
	clears      int
	openErr     error
	sendErr     error
	editErr     error
	notEditable bool
	afterEdit   func(Edited)
}

func NewMemory(self, owner domain.Identity) *Memory {
	return &Memory{self: self, owner: owner}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	if m.openErr != nil {
		return m.openErr
	}
	m.session.begin()
	return nil
}

func (m *Memory) Done() <-chan struct{} { return m.session.Done() }

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closes++
	m.mu.Unlock()
	m.session.end()
	return nil
}

func (m *Memory) Self() domain.Identity { return m.self }

func (m *Memory) Owner(context.Context) (domain.Identity, error) {
	if m.owner.ID == "" {
		return domain.Identity{}, fmt.Errorf("memory owner: %w", domain.ErrNotFound)
	}
	return m.owner, nil
}

func (m *Memory) OnMessage(fn func(domain.InboundEvent)) func() { return m.messages.add(fn) }

func (m *Memory) OnReaction(fn func(domain.Reaction)) func() { return m.reactions.add(fn) }

func (m *Memory) SendLoading(_ context.Context, contextID, text string) (domain.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return domain.Handle{}, fmt.Errorf("%w: %w", domain.ErrDelivery, m.sendErr)
	}
	h := domain.Handle{ContextID: contextID, MessageID: uuid.NewString(), Editable: !m.notEditable}
	m.sent = append(m.sent, Sent{Handle: h, Text: text})
	return h, nil
}

func (m *Memory) Edit(_ context.Context, h domain.Handle, msg domain.OutboundMessage) error {
	if !h.Editable {
		return domain.ErrNotEditable
	}
	m.mu.Lock()
	if m.editErr != nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %w", domain.ErrDelivery, m.editErr)
	}
	e := Edited{Handle: h, Message: msg}
	m.edits = append(m.edits, e)
	hook := m.afterEdit
	m.mu.Unlock()
	if hook != nil {
		hook(e)
	}
	return nil
}

func (m *Memory) ClearRegistrations(context.Context) error {
	m.mu.Lock()
	m.clears++
	m.mu.Unlock()
	return nil
}

// Emit delivers ev to every message listener on the calling goroutine.
func (m *Memory) Emit(ev domain.InboundEvent) { m.messages.emit(ev) }

// React delivers r to every reaction listener on the calling goroutine.
func (m *Memory) React(r domain.Reaction) { m.reactions.emit(r) }

// Drop ends the current session as if the platform disconnected.
func (m *Memory) Drop() { m.session.end() }

// Connected reports whether a session is open.
func (m *Memory) Connected() bool { return m.session.open() }

func (m *Memory) FailOpen(err error) {
	m.mu.Lock()
	m.openErr = err
	m.mu.Unlock()
}

func (m *Memory) FailSend(err error) {
	m.mu.Lock()
	m.sendErr = err
	m.mu.Unlock()
}

func (m *Memory) FailEdit(err error) {
	m.mu.Lock()
	m.editErr = err
	m.mu.Unlock()
}

// AfterEdit runs fn on the editing goroutine once each edit has landed,
// before Edit returns.
func (m *Memory) AfterEdit(fn func(Edited)) {
	m.mu.Lock()
	m.afterEdit = fn
	m.mu.Unlock()
}

// SetEditable controls whether new placeholders can be edited.
func (m *Memory) SetEditable(ok bool) {
	m.mu.Lock()
	m.notEditable = !ok
	m.mu.Unlock()
}

func (m *Memory) Sent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.sent)
}

func (m *Memory) Edits() []Edited {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.edits)
}

// Counts returns how many times Open, Close and ClearRegistrations ran.
func (m *Memory) Counts() (opens, closes, clears int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens, m.closes, m.clears
}

// Listeners returns the number of registered message and reaction listeners.
func (m *Memory) Listeners() (messages, reactions int) {
	return m.messages.len(), m.reactions.len()
}
