package translator

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"persona/internal/domain"
)

// DefaultTrimLimit fits a Discord embed description.
const DefaultTrimLimit = 4096

const ellipsis = "…"

// HistoryWindow keeps the most recent n history messages.
func HistoryWindow(n int) Stage[domain.GenerationContext] {
	return StageFunc[domain.GenerationContext]{
		Label: "history-window",
		Fn: func(_ context.Context, gc domain.GenerationContext) (domain.GenerationContext, error) {
			gc.History = lastN(gc.History, n)
			return gc, nil
		},
	}
}

// ExampleLimit keeps the most recent n examples.
func ExampleLimit(n int) Stage[domain.GenerationContext] {
	return StageFunc[domain.GenerationContext]{
		Label: "example-limit",
		Fn: func(_ context.Context, gc domain.GenerationContext) (domain.GenerationContext, error) {
			gc.Examples = lastN(gc.Examples, n)
			return gc, nil
		},
	}
}

// KnowledgeLimit keeps the n best snippets. Snippets arrive ranked.
func KnowledgeLimit(n int) Stage[domain.GenerationContext] {
	return StageFunc[domain.GenerationContext]{
		Label: "knowledge-limit",
		Fn: func(_ context.Context, gc domain.GenerationContext) (domain.GenerationContext, error) {
			if n >= 0 && len(gc.Knowledge) > n {
				gc.Knowledge = gc.Knowledge[:n]
			}
			return gc, nil
		},
	}
}

// MentionStripper removes a leading mention of the agent from the event
// content ("@name", "<@id>").
func MentionStripper(name string) Stage[domain.GenerationContext] {
	re := regexp.MustCompile(`^\s*(<@!?\d+>|@` + regexp.QuoteMeta(name) + `\b)[,:]?\s*`)
	return StageFunc[domain.GenerationContext]{
		Label: "mention-stripper",
		Fn: func(_ context.Context, gc domain.GenerationContext) (domain.GenerationContext, error) {
			gc.Event.Content = re.ReplaceAllString(gc.Event.Content, "")
			return gc, nil
		},
	}
}

func lastN[T any](s []T, n int) []T {
	if n < 0 || len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// Trimmer truncates overlong content to limit runes, ending with an ellipsis.
func Trimmer(limit int) Stage[domain.Reply] {
	if limit <= 0 {
		limit = DefaultTrimLimit
	}
	return StageFunc[domain.Reply]{
		Label: "trimmer",
		Fn: func(_ context.Context, r domain.Reply) (domain.Reply, error) {
			r.Content = trim(r.Content, limit)
			return r, nil
		},
	}
}

func trim(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	keep := limit - utf8.RuneCountInString(ellipsis)
	if keep < 0 {
		keep = 0
	}
	return string(runes[:keep]) + ellipsis
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

// WhitespaceNormalizer trims the reply and collapses long runs of blank lines.
func WhitespaceNormalizer() Stage[domain.Reply] {
	return StageFunc[domain.Reply]{
		Label: "whitespace",
		Fn: func(_ context.Context, r domain.Reply) (domain.Reply, error) {
			r.Content = blankRuns.ReplaceAllString(strings.TrimSpace(r.Content), "\n\n")
			return r, nil
		},
	}
}

// NameStripper drops a "<name>:" speaker label echoed by the model.
func NameStripper(name string) Stage[domain.Reply] {
	label := name + ":"
	return StageFunc[domain.Reply]{
		Label: "name-stripper",
		Fn: func(_ context.Context, r domain.Reply) (domain.Reply, error) {
			trimmed := strings.TrimLeft(r.Content, " \t\n")
			if strings.HasPrefix(trimmed, label) {
				r.Content = strings.TrimLeft(trimmed[len(label):], " \t")
			}
			return r, nil
		},
	}
}

// Formatter maps the generic reply into the delivery shape. Replies with a
// footer or title become embeds; the rest are plain content.
type Formatter struct {
	// PlainLimit bounds plain content (Discord allows 2000 characters).
	PlainLimit int
}

func (f Formatter) Name() string { return "formatter" }

func (f Formatter) Format(r domain.Reply) domain.OutboundMessage {
	if r.Footer != "" || r.Title != "" {
		return domain.OutboundMessage{Embed: &domain.Embed{
			Title:       r.Title,
			Description: r.Content,
			Footer:      r.Footer,
		}}
	}
	limit := f.PlainLimit
	if limit <= 0 {
		limit = 2000
	}
	return domain.OutboundMessage{Content: trim(r.Content, limit)}
}
