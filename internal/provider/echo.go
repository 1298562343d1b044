package provider

import (
	"context"
	"fmt"
	"strings"

	"persona/internal/domain"
)

// Echo is an offline generator for local runs. It answers with the
// best-ranked snippet when there is one and otherwise echoes the message.
type Echo struct{}

func (Echo) Name() string { return "echo" }

func (Echo) Generate(ctx context.Context, gc domain.GenerationContext) (domain.InternalMessage, error) {
	if err := ctx.Err(); err != nil {
		return domain.InternalMessage{}, generationError("echo", err)
	}
	text := strings.TrimSpace(gc.Event.Content)
	if len(gc.Knowledge) > 0 {
		text = fmt.Sprintf("%s (from %s)", gc.Knowledge[0].Text, gc.Knowledge[0].Source)
	} else if text == "" {
		text = "..."
	} else {
		text = fmt.Sprintf("%s, you said: %s", gc.Event.AuthorName, text)
	}
	return reply(gc, text), nil
}
