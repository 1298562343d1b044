package provider

import (
	"fmt"
	"strings"

	"persona/internal/domain"
)

// Frame renders a GenerationContext into a system prompt and a user turn.
// The user turn is a transcript ending in "<AgentName>:" so completion
// style models continue as the agent.
func Frame(gc domain.GenerationContext) (system, user string) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s, taking part in a group conversation.", gc.AgentName)
	if p := strings.TrimSpace(gc.Preamble); p != "" {
		sb.WriteString("\n\n")
		sb.WriteString(p)
	}
	if len(gc.Examples) > 0 {
		sb.WriteString("\n\nExamples of replies that went well:\n")
		for _, ex := range gc.Examples {
			sb.WriteString("\n")
			sb.WriteString(ex)
			sb.WriteString("\n")
		}
	}
	if len(gc.Knowledge) > 0 {
		sb.WriteString("\n\nThings you know that may be relevant:\n")
		for _, s := range gc.Knowledge {
			fmt.Fprintf(&sb, "- %s\n", s.Text)
		}
	}
	if len(gc.Abilities) > 0 {
		sb.WriteString("\n\nYou can use these abilities when they help:\n")
		for _, a := range gc.Abilities {
			fmt.Fprintf(&sb, "- %s: %s\n", a.Name, a.Description)
		}
	}
	fmt.Fprintf(&sb, "\n\nReply as %s only, without prefixing your name.", gc.AgentName)

	var ub strings.Builder
	for _, m := range gc.History {
		if m.ID == gc.Event.ID {
			continue
		}
		ub.WriteString(m.String())
		ub.WriteString("\n")
	}
	fmt.Fprintf(&ub, "%s: %s\n%s:", gc.Event.AuthorName, gc.Event.Content, gc.AgentName)
	return strings.TrimSpace(sb.String()), ub.String()
}

// reply wraps generated text into the agent's InternalMessage.
func reply(gc domain.GenerationContext, text string) domain.InternalMessage {
	return domain.InternalMessage{
		ReplyTo:   gc.Event.ID,
		Role:      domain.RoleAgent,
		Author:    gc.AgentName,
		Content:   strings.TrimSpace(text),
		ContextID: gc.Event.ContextID,
	}
}

func generationError(name string, err error) error {
	return fmt.Errorf("%s: %w: %w", name, domain.ErrGeneration, err)
}
