package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"persona/internal/domain"
)

// DefaultConfirmEmoji is the reaction that marks a reply as a good example.
const DefaultConfirmEmoji = "✅"

// MetaConfirmed is set to "true" on agent messages recorded as examples.
const MetaConfirmed = "confirmed"

type State int

const (
	StateIdle State = iota
	StateAwaiting
	StateConfirmed
	StateRecorded
	StateIgnored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaiting:
		return "awaiting_confirmation"
	case StateConfirmed:
		return "confirmed"
	case StateRecorded:
		return "recorded"
	case StateIgnored:
		return "ignored"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type FeedbackConfig struct {
	Interactions *Interactions
	Examples     *ExampleSet
	Emoji        string
	// OwnerID and SelfID are read on every reaction; both are only known
	// once the transport has connected.
	OwnerID func() string
	SelfID  func() string
	Logger  *slog.Logger
}

// Feedback turns owner confirmations on agent replies into examples.
type Feedback struct {
	cfg    FeedbackConfig
	logger *slog.Logger

	mu     sync.Mutex
	states map[string]State
}

func NewFeedback(cfg FeedbackConfig) *Feedback {
	if cfg.Emoji == "" {
		cfg.Emoji = DefaultConfirmEmoji
	}
	if cfg.OwnerID == nil {
		cfg.OwnerID = func() string { return "" }
	}
	if cfg.SelfID == nil {
		cfg.SelfID = func() string { return "" }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Feedback{cfg: cfg, logger: logger, states: make(map[string]State)}
}

// MarkAwaiting is called once the agent message msgID has been delivered
// and stored.
func (f *Feedback) MarkAwaiting(msgID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.states[msgID] == StateRecorded {
		return
	}
	f.states[msgID] = StateAwaiting
}

func (f *Feedback) State(msgID string) State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[msgID]
}

// HandleReaction processes one reaction. Reactions that fail a guard
// return StateIgnored and leave the message state unchanged.
func (f *Feedback) HandleReaction(ctx context.Context, r domain.Reaction) (State, error) {
	if r.Emoji != f.cfg.Emoji {
		return StateIgnored, nil
	}
	owner := f.cfg.OwnerID()
	if owner == "" || r.UserID != owner {
		f.logger.Debug("reaction from non-owner ignored", "message_id", r.MessageID, "user_id", r.UserID)
		return StateIgnored, nil
	}
	if self := f.cfg.SelfID(); self != "" && r.MessageAuthorID != "" && r.MessageAuthorID != self {
		return StateIgnored, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.states[r.MessageID] == StateRecorded {
		return StateRecorded, nil
	}

	agentMsg, err := f.cfg.Interactions.Get(ctx, r.MessageID)
	if errors.Is(err, domain.ErrNotFound) {
		f.logger.Debug("confirmed message not in memory", "message_id", r.MessageID)
		return StateIgnored, nil
	}
	if err != nil {
		return StateIgnored, err
	}
	if agentMsg.Role != domain.RoleAgent {
		return StateIgnored, nil
	}
	if agentMsg.Metadata[MetaConfirmed] == "true" {
		f.states[r.MessageID] = StateRecorded
		return StateRecorded, nil
	}

	userMsg, err := f.cfg.Interactions.Get(ctx, agentMsg.ReplyTo)
	if errors.Is(err, domain.ErrNotFound) {
		f.logger.Debug("confirmed reply has no stored prompt", "message_id", r.MessageID, "reply_to", agentMsg.ReplyTo)
		return StateIgnored, nil
	}
	if err != nil {
		return StateIgnored, err
	}

	prev := f.states[r.MessageID]
	f.states[r.MessageID] = StateConfirmed

	// The durable mark goes first: a crash between the two writes loses
	// one example instead of recording it twice after a restart.
	if err := f.setConfirmed(ctx, r.MessageID, true); err != nil {
		f.states[r.MessageID] = prev
		return StateIgnored, fmt.Errorf("mark %s confirmed: %w", r.MessageID, err)
	}
	example := userMsg.String() + "\n" + agentMsg.String()
	if err := f.cfg.Examples.Append(ctx, example); err != nil {
		f.states[r.MessageID] = prev
		if uerr := f.setConfirmed(ctx, r.MessageID, false); uerr != nil {
			f.logger.Warn("cannot clear confirmed mark", "message_id", r.MessageID, "err", uerr)
		}
		return StateIgnored, fmt.Errorf("record example %s: %w", r.MessageID, err)
	}

	f.states[r.MessageID] = StateRecorded
	f.logger.Info("example recorded", "message_id", r.MessageID, "examples", f.cfg.Examples.Len())
	return StateRecorded, nil
}

func (f *Feedback) setConfirmed(ctx context.Context, msgID string, confirmed bool) error {
	return f.cfg.Interactions.Update(ctx, msgID, func(m domain.InternalMessage) domain.InternalMessage {
		if confirmed {
			return m.WithMetadata(MetaConfirmed, "true")
		}
		md := maps.Clone(m.Metadata)
		delete(md, MetaConfirmed)
		m.Metadata = md
		return m
	})
}
