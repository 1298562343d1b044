package translator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"persona/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendStage(label, suffix string) Stage[domain.Reply] {
	return StageFunc[domain.Reply]{Label: label, Fn: func(_ context.Context, r domain.Reply) (domain.Reply, error) {
		r.Content += suffix
		return r, nil
	}}
}

func TestChain_EmptyIsIdentity(t *testing.T) {
	in := domain.Reply{Content: "hello", Footer: "f"}
	out, err := NewChain[domain.Reply]().Apply(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestChain_RegistrationOrder(t *testing.T) {
	c := NewChain(appendStage("a", "A"), appendStage("b", "B"))
	c.Add(appendStage("c", "C"))
	out, err := c.Apply(context.Background(), domain.Reply{Content: ">"})
	require.NoError(t, err)
	assert.Equal(t, ">ABC", out.Content)
	assert.Equal(t, []string{"a", "b", "c"}, c.Names())
	assert.Equal(t, 3, c.Len())
}

func TestChain_CompositionIsAssociative(t *testing.T) {
	ctx := context.Background()
	a, b, c := appendStage("a", "1"), Trimmer(5), NameStripper("Bot")
	inputs := []string{"Bot: hi", "a much longer reply", "", "Bot:"}

	for _, in := range inputs {
		whole, err := NewChain(a, b, c).Apply(ctx, domain.Reply{Content: in})
		require.NoError(t, err)

		mid, err := NewChain(a, b).Apply(ctx, domain.Reply{Content: in})
		require.NoError(t, err)
		split, err := NewChain(c).Apply(ctx, mid)
		require.NoError(t, err)

		assert.Equal(t, whole, split, "input %q", in)
	}
}

func TestChain_StageFailureAborts(t *testing.T) {
	boom := errors.New("boom")
	var ranAfter bool
	c := NewChain(
		appendStage("a", "A"),
		StageFunc[domain.Reply]{Label: "bad", Fn: func(_ context.Context, r domain.Reply) (domain.Reply, error) {
			return r, boom
		}},
		StageFunc[domain.Reply]{Label: "after", Fn: func(_ context.Context, r domain.Reply) (domain.Reply, error) {
			ranAfter = true
			return r, nil
		}},
	)

	out, err := c.Apply(context.Background(), domain.Reply{Content: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransform)
	assert.ErrorIs(t, err, boom)
	var te *TransformError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "bad", te.Stage)
	assert.Empty(t, out.Content, "partial output is never returned")
	assert.False(t, ranAfter)
}

func TestChain_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewChain(appendStage("a", "A")).Apply(ctx, domain.Reply{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, domain.ErrTransform)
}

func TestTrimmer(t *testing.T) {
	ctx := context.Background()
	out, err := Trimmer(10).Apply(ctx, domain.Reply{Content: "short"})
	require.NoError(t, err)
	assert.Equal(t, "short", out.Content)

	out, err = Trimmer(10).Apply(ctx, domain.Reply{Content: strings.Repeat("é", 50)})
	require.NoError(t, err)
	assert.Equal(t, 10, utf8.RuneCountInString(out.Content))
	assert.True(t, strings.HasSuffix(out.Content, "…"))

	out, err = Trimmer(0).Apply(ctx, domain.Reply{Content: strings.Repeat("a", DefaultTrimLimit+1)})
	require.NoError(t, err)
	assert.Equal(t, DefaultTrimLimit, utf8.RuneCountInString(out.Content))
}

func TestWhitespaceNormalizer(t *testing.T) {
	out, err := WhitespaceNormalizer().Apply(context.Background(), domain.Reply{Content: "  a\n\n\n\n\nb  \n"})
	require.NoError(t, err)
	assert.Equal(t, "a\n\nb", out.Content)
}

func TestNameStripper(t *testing.T) {
	s := NameStripper("Ada")
	out, err := s.Apply(context.Background(), domain.Reply{Content: "\nAda: hello there"})
	require.NoError(t, err)
	assert.Equal(t, "hello there", out.Content)

	out, err = s.Apply(context.Background(), domain.Reply{Content: "Adam: hi"})
	require.NoError(t, err)
	assert.Equal(t, "Adam: hi", out.Content)
}

func TestPreStages(t *testing.T) {
	gc := domain.GenerationContext{
		Event:     domain.InboundEvent{Content: "<@123> what is go?"},
		History:   []domain.InternalMessage{{ID: "1"}, {ID: "2"}, {ID: "3"}},
		Examples:  []string{"a", "b", "c"},
		Knowledge: []domain.Snippet{{Text: "x"}, {Text: "y"}},
	}
	pre := NewChain(HistoryWindow(2), ExampleLimit(1), KnowledgeLimit(1), MentionStripper("Ada"))
	out, err := pre.Apply(context.Background(), gc)
	require.NoError(t, err)

	assert.Equal(t, "what is go?", out.Event.Content)
	require.Len(t, out.History, 2)
	assert.Equal(t, "2", out.History[0].ID)
	assert.Equal(t, []string{"c"}, out.Examples)
	assert.Equal(t, []domain.Snippet{{Text: "x"}}, out.Knowledge)

	out, err = MentionStripper("Ada").Apply(context.Background(), domain.GenerationContext{Event: domain.InboundEvent{Content: "@Ada, hi"}})
	require.NoError(t, err)
	assert.Equal(t, "hi", out.Event.Content)
}

func TestFormatter(t *testing.T) {
	f := Formatter{PlainLimit: 5}
	plain := f.Format(domain.Reply{Content: "hello world"})
	assert.Nil(t, plain.Embed)
	assert.Equal(t, "hell…", plain.Content)

	embed := f.Format(domain.Reply{Content: "hello world", Footer: "ada"})
	require.NotNil(t, embed.Embed)
	assert.Equal(t, "hello world", embed.Embed.Description)
	assert.Equal(t, "ada", embed.Embed.Footer)
	assert.Equal(t, "hello world", embed.Text())
}
