package activator

import (
	"context"
	"errors"
	"testing"

	"persona/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(author, content string) domain.InboundEvent {
	return domain.InboundEvent{ID: "1", AuthorID: "u-" + author, AuthorName: author, Content: content, ContextKind: domain.ContextText}
}

func always(name string, mandatory bool, result bool) Check {
	return Check{Name: name, Mandatory: mandatory, Predicate: func(domain.InboundEvent) bool { return result }}
}

func TestAccepts_EmptyRejects(t *testing.T) {
	a := New(Config{})
	assert.False(t, a.Accepts(context.Background(), event("bob", "hi")))
}

func TestAccepts_AlwaysConditionOptsIn(t *testing.T) {
	a := New(Config{})
	require.NoError(t, a.Add(Check{Name: "all", Condition: CondAlways}))
	assert.True(t, a.Accepts(context.Background(), event("bob", "hi")))
}

func TestAccepts_MandatoryFailureRejectsRegardless(t *testing.T) {
	combos := [][]bool{
		{true, true},
		{true, false},
		{false, true},
		{false, false},
	}
	for _, advisory := range combos {
		a := New(Config{})
		require.NoError(t, a.Add(always("ok", true, true)))
		require.NoError(t, a.Add(always("fail", true, false)))
		require.NoError(t, a.Add(always("adv1", false, advisory[0])))
		require.NoError(t, a.Add(always("adv2", false, advisory[1])))
		assert.False(t, a.Accepts(context.Background(), event("bob", "hi")), "advisory=%v", advisory)
	}
}

func TestAccepts_MandatoryShortCircuits(t *testing.T) {
	a := New(Config{})
	var laterRan, advisoryRan bool
	require.NoError(t, a.Add(always("first", true, false)))
	require.NoError(t, a.Add(Check{Name: "second", Mandatory: true, Predicate: func(domain.InboundEvent) bool {
		laterRan = true
		return true
	}}))
	require.NoError(t, a.Add(Check{Name: "adv", Predicate: func(domain.InboundEvent) bool {
		advisoryRan = true
		return true
	}}))

	assert.False(t, a.Accepts(context.Background(), event("bob", "hi")))
	assert.False(t, laterRan)
	assert.False(t, advisoryRan)
}

func TestAccepts_AdvisoryAnyOne(t *testing.T) {
	a := New(Config{})
	require.NoError(t, a.Add(always("m", true, true)))
	require.NoError(t, a.Add(always("no", false, false)))
	require.NoError(t, a.Add(always("yes", false, true)))
	assert.True(t, a.Accepts(context.Background(), event("bob", "hi")))

	b := New(Config{})
	require.NoError(t, b.Add(always("m", true, true)))
	require.NoError(t, b.Add(always("no", false, false)))
	assert.False(t, b.Accepts(context.Background(), event("bob", "hi")))
}

func TestAccepts_MandatoryOnly(t *testing.T) {
	a := New(Config{})
	require.NoError(t, a.Add(always("m", true, true)))
	assert.True(t, a.Accepts(context.Background(), event("bob", "hi")))
}

func TestSelfExclusion(t *testing.T) {
	a := Default(Config{AgentName: "AgentX"}, func() string { return "u-self" })
	require.NoError(t, a.Add(Check{Name: "all", Condition: CondAlways}))
	ctx := context.Background()

	assert.False(t, a.Accepts(ctx, event("AgentX", "hello")), "own name")
	assert.False(t, a.Accepts(ctx, domain.InboundEvent{AuthorID: "u-self", AuthorName: "renamed", Content: "x"}), "own id")
	assert.False(t, a.Accepts(ctx, event("bob", "AgentX!ping")), "invocation prefix")
	assert.True(t, a.Accepts(ctx, event("bob", "hey AgentX!")), "prefix only counts at the start")
	assert.True(t, a.Accepts(ctx, event("bob", "ping")))
}

func TestSelfExclusion_UnknownSelfID(t *testing.T) {
	a := Default(Config{AgentName: "AgentX"}, func() string { return "" })
	require.NoError(t, a.Add(Check{Name: "all", Condition: CondAlways}))
	assert.True(t, a.Accepts(context.Background(), domain.InboundEvent{AuthorID: "", AuthorName: "bob", Content: "x"}))
}

func TestAdd_Malformed(t *testing.T) {
	cases := map[string]Check{
		"no name":         {Condition: CondAlways},
		"empty":           {Name: "e"},
		"both":            {Name: "b", Condition: CondAlways, Predicate: func(domain.InboundEvent) bool { return true }},
		"unknown":         {Name: "u", Condition: "vibes"},
		"topic missing":   {Name: "t", Condition: CondTopic, Topic: " , "},
		"chance no sides": {Name: "c", Condition: CondChance},
		"pair no sides":   {Name: "p", Condition: CondTopicChance, Topic: "go"},
		"mention no name": {Name: "m", Condition: CondMention},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			a := New(Config{})
			err := a.Add(c)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrAdmission))
			var ce *CheckError
			assert.True(t, errors.As(err, &ce))
			assert.Empty(t, a.Checks())
		})
	}
}

func TestAdd_DuplicateName(t *testing.T) {
	a := New(Config{})
	require.NoError(t, a.Add(always("x", false, true)))
	err := a.Add(always("x", true, true))
	assert.ErrorIs(t, err, domain.ErrAdmission)
	assert.Equal(t, []string{"x"}, a.Checks())
}

func TestConditions(t *testing.T) {
	rolls := 0
	a := New(Config{AgentName: "Ada", Roll: func(sides int) int {
		rolls++
		return rolls % sides
	}})
	ev := func(content string) domain.InboundEvent { return event("bob", content) }

	topic, err := compileCondition(Check{Name: "t", Condition: CondTopic, Topic: "golang, Rust"}, "Ada", a.roll)
	require.NoError(t, err)
	assert.True(t, topic.evaluate(ev("I love rust")))
	assert.False(t, topic.evaluate(ev("I love python")))

	mention, err := compileCondition(Check{Name: "m", Condition: CondMention}, "Ada", a.roll)
	require.NoError(t, err)
	assert.True(t, mention.evaluate(ev("hey @ada, what's up")))
	assert.True(t, mention.evaluate(ev("Ada")))
	assert.False(t, mention.evaluate(ev("Adam says hi")))

	question, err := compileCondition(Check{Name: "q", Condition: CondQuestion}, "Ada", a.roll)
	require.NoError(t, err)
	assert.True(t, question.evaluate(ev("ready? ")))
	assert.False(t, question.evaluate(ev("ready.")))

	direct, err := compileCondition(Check{Name: "d", Condition: CondDirect}, "Ada", a.roll)
	require.NoError(t, err)
	dm := ev("hi")
	dm.ContextKind = domain.ContextDirect
	assert.True(t, direct.evaluate(dm))
	assert.False(t, direct.evaluate(ev("hi")))

	certain, err := compileCondition(Check{Name: "c1", Condition: CondChance, Sides: 1}, "Ada", a.roll)
	require.NoError(t, err)
	assert.True(t, certain.evaluate(ev("x")))
	assert.Zero(t, rolls, "one-sided die is never rolled")

	pair, err := compileCondition(Check{Name: "tc", Condition: CondTopicChance, Topic: "go", Sides: 2}, "Ada", a.roll)
	require.NoError(t, err)
	assert.False(t, pair.evaluate(ev("go go")), "roll 1 of 2 loses")
	assert.True(t, pair.evaluate(ev("go go")), "roll 0 of 2 wins")
	assert.False(t, pair.evaluate(ev("python")), "off topic never rolls a win")
}

func TestAccepts_DoesNotMutateEvent(t *testing.T) {
	a := New(Config{})
	require.NoError(t, a.Add(Check{Name: "mut", Predicate: func(ev domain.InboundEvent) bool {
		ev.Content = "changed"
		return true
	}}))
	ev := event("bob", "original")
	a.Accepts(context.Background(), ev)
	assert.Equal(t, "original", ev.Content)
}

func TestStats(t *testing.T) {
	a := New(Config{})
	require.NoError(t, a.Add(Check{Name: "q", Condition: CondQuestion}))
	ctx := context.Background()
	a.Accepts(ctx, event("bob", "why?"))
	a.Accepts(ctx, event("bob", "because"))
	a.Accepts(ctx, event("bob", "really?"))
	assert.Equal(t, Stats{Accepted: 2, Rejected: 1}, a.Stats())
}
