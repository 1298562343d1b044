package domain

import "context"

// Identity names a platform account.
type Identity struct {
	ID   string
	Name string
}

// Handle points at a message the agent posted and may later edit.
type Handle struct {
	ContextID string
	MessageID string
	Editable  bool
}

// Transport is the chat platform the agent lives on. Implementations own the
// connection; the supervisor drives Open/Close and the orchestrator uses the
// send/edit primitives.
type Transport interface {
	Name() string

	// Open connects and returns once the session is established. Done is
	// closed when the platform drops the session on its own.
	Open(ctx context.Context) error
	Done() <-chan struct{}
	Close() error

	Self() Identity
	Owner(ctx context.Context) (Identity, error)

	// OnMessage and OnReaction register listeners and return a function that
	// removes them. Listeners survive Close/Open cycles.
	OnMessage(fn func(InboundEvent)) (remove func())
	OnReaction(fn func(Reaction)) (remove func())

	SendLoading(ctx context.Context, contextID, text string) (Handle, error)
	Edit(ctx context.Context, h Handle, msg OutboundMessage) error

	// ClearRegistrations removes platform-side command registrations made
	// during the last session.
	ClearRegistrations(ctx context.Context) error
}
