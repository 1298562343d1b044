package domain

import (
	"maps"
	"time"
)

// InboundEvent is a platform message as seen by the agent. Transports build
// it once per received message; nothing downstream modifies it.
type InboundEvent struct {
	ID          string
	AuthorID    string
	AuthorName  string
	AuthorIsBot bool
	Content     string
	ContextID   string
	ContextKind ContextKind
	ReplyToID   string
	Timestamp   time.Time
}

// ContextKind classifies the place an event was posted in.
type ContextKind string

const (
	ContextText   ContextKind = "text"
	ContextDirect ContextKind = "direct"
	ContextThread ContextKind = "thread"
	ContextOther  ContextKind = "other"
)

// Replyable reports whether the agent can post a placeholder in this context.
func (k ContextKind) Replyable() bool {
	switch k {
	case ContextText, ContextDirect, ContextThread:
		return true
	}
	return false
}

// Reaction is an emoji added to a message by a user.
type Reaction struct {
	MessageID       string
	ContextID       string
	UserID          string
	Emoji           string
	MessageAuthorID string
}

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// InternalMessage is the durable record of a user or agent message.
type InternalMessage struct {
	ID        string            `json:"id"`
	ReplyTo   string            `json:"reply_to,omitempty"`
	ContextID string            `json:"context_id,omitempty"`
	Role      Role              `json:"role"`
	Author    string            `json:"author"`
	Content   string            `json:"content"`
	Footer    string            `json:"footer,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// String renders the message the way it appears in example transcripts.
func (m InternalMessage) String() string {
	return m.Author + ": " + m.Content
}

// WithMetadata returns a copy of m with key set to value. Existing entries
// are kept.
func (m InternalMessage) WithMetadata(key, value string) InternalMessage {
	md := make(map[string]string, len(m.Metadata)+1)
	maps.Copy(md, m.Metadata)
	md[key] = value
	m.Metadata = md
	return m
}

// Reply is the platform-neutral reply that flows through the post chain.
type Reply struct {
	Title   string
	Content string
	Footer  string
}

// OutboundMessage is a reply in the shape a transport delivers.
type OutboundMessage struct {
	Content string
	Embed   *Embed
}

type Embed struct {
	Title       string
	Description string
	Footer      string
}

// Text returns the user-visible body regardless of shape.
func (o OutboundMessage) Text() string {
	if o.Embed != nil {
		return o.Embed.Description
	}
	return o.Content
}
