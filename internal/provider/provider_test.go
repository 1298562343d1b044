package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"persona/internal/config"
	"persona/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubGenerator struct {
	name  string
	err   error
	text  string
	calls atomic.Int32
}

func (s *stubGenerator) Name() string { return s.name }

func (s *stubGenerator) Generate(ctx context.Context, gc domain.GenerationContext) (domain.InternalMessage, error) {
	s.calls.Add(1)
	if s.err != nil {
		return domain.InternalMessage{}, s.err
	}
	return reply(gc, s.text), nil
}

type recordingExecutor struct {
	name string
	args map[string]any
}

func (r *recordingExecutor) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	r.name, r.args = name, args
	return "sunny", nil
}

func sampleContext() domain.GenerationContext {
	return domain.GenerationContext{
		AgentName: "Agent",
		Preamble:  "You like weather.",
		Event: domain.InboundEvent{
			ID: "e1", AuthorName: "bob", Content: "how is the weather?", ContextID: "c1",
		},
		History: []domain.InternalMessage{
			{ID: "h1", Author: "alice", Content: "morning"},
			{ID: "e1", Author: "bob", Content: "how is the weather?"},
		},
		Examples:  []string{"bob: hi\nAgent: hello bob"},
		Knowledge: []domain.Snippet{{Source: "wiki", Text: "Rain is common in April."}},
		Abilities: []domain.AbilityDefinition{{
			Name: "weather", Description: "Current weather",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"city": map[string]any{"type": "string"}},
				"required":   []string{"city"},
			},
		}},
	}
}

func TestFrame(t *testing.T) {
	system, user := Frame(sampleContext())

	assert.Contains(t, system, "You are Agent")
	assert.Contains(t, system, "You like weather.")
	assert.Contains(t, system, "Agent: hello bob")
	assert.Contains(t, system, "Rain is common in April.")
	assert.Contains(t, system, "- weather: Current weather")
	assert.Equal(t, "alice: morning\nbob: how is the weather?\nAgent:", user)
}

func TestEcho(t *testing.T) {
	gc := sampleContext()
	msg, err := Echo{}.Generate(context.Background(), gc)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAgent, msg.Role)
	assert.Equal(t, "Agent", msg.Author)
	assert.Equal(t, "e1", msg.ReplyTo)
	assert.Equal(t, "c1", msg.ContextID)
	assert.Contains(t, msg.Content, "Rain is common")

	gc.Knowledge = nil
	msg, err = Echo{}.Generate(context.Background(), gc)
	require.NoError(t, err)
	assert.Equal(t, "bob, you said: how is the weather?", msg.Content)
}

func TestFailoverUsesFirstSuccess(t *testing.T) {
	p1 := &stubGenerator{name: "primary", text: "from-primary"}
	p2 := &stubGenerator{name: "secondary", text: "from-secondary"}

	msg, err := NewFailover([]domain.Generator{p1, p2}, testLogger()).Generate(context.Background(), sampleContext())
	require.NoError(t, err)
	assert.Equal(t, "from-primary", msg.Content)
	assert.Zero(t, p2.calls.Load())
}

func TestFailoverFallsBack(t *testing.T) {
	p1 := &stubGenerator{name: "primary", err: errors.New("api error")}
	p2 := &stubGenerator{name: "secondary", text: "from-secondary"}
	f := NewFailover([]domain.Generator{p1, p2}, testLogger())

	msg, err := f.Generate(context.Background(), sampleContext())
	require.NoError(t, err)
	assert.Equal(t, "from-secondary", msg.Content)
	assert.Equal(t, "failover(primary→secondary)", f.Name())
}

func TestFailoverAllFail(t *testing.T) {
	p1 := &stubGenerator{name: "p1", err: generationError("p1", errors.New("fail 1"))}
	p2 := &stubGenerator{name: "p2", err: generationError("p2", errors.New("fail 2"))}

	_, err := NewFailover([]domain.Generator{p1, p2}, testLogger()).Generate(context.Background(), sampleContext())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGeneration)
	assert.Contains(t, err.Error(), "fail 2")

	_, err = NewFailover(nil, testLogger()).Generate(context.Background(), sampleContext())
	assert.ErrorIs(t, err, domain.ErrGeneration)
}

func TestThrottledWaitsForToken(t *testing.T) {
	inner := &stubGenerator{name: "inner", text: "ok"}
	th := NewThrottled(inner, 60, 1)

	_, err := th.Generate(context.Background(), sampleContext())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = th.Generate(ctx, sampleContext())
	assert.ErrorIs(t, err, domain.ErrGeneration)
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestFactoryBuild(t *testing.T) {
	f := NewFactory(testLogger())
	assert.Equal(t, []string{"anthropic", "echo", "ollama", "openai"}, f.Kinds())

	g, err := f.Build(config.GeneratorConfig{Kind: "echo"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "echo", g.Name())

	g, err = f.Build(config.GeneratorConfig{
		Kind:          "openai",
		RatePerMinute: 30,
		Fallbacks:     []config.GeneratorConfig{{Kind: "echo"}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "failover(openai→echo)", g.Name())

	_, err = f.Build(config.GeneratorConfig{Kind: "nope"}, nil)
	assert.Error(t, err)
	_, err = f.Build(config.GeneratorConfig{Kind: "ollama"}, nil)
	assert.Error(t, err)
}

func TestOpenAIAbilityRound(t *testing.T) {
	var rounds atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")

		if rounds.Add(1) == 1 {
			assert.Len(t, body["tools"], 1)
			io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"m",
				"choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":"",
				"tool_calls":[{"id":"call_1","type":"function","function":{"name":"weather","arguments":"{\"city\":\"Oslo\"}"}}]}}]}`)
			return
		}
		msgs := body["messages"].([]any)
		last := msgs[len(msgs)-1].(map[string]any)
		assert.Equal(t, "tool", last["role"])
		assert.Equal(t, "sunny", last["content"])
		io.WriteString(w, `{"id":"c2","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"It is sunny in Oslo."}}]}`)
	}))
	defer srv.Close()

	exec := &recordingExecutor{}
	g := NewOpenAI(OpenAIConfig{APIKey: "test", APIBase: srv.URL, Model: "m", Executor: exec, Logger: testLogger()})

	msg, err := g.Generate(context.Background(), sampleContext())
	require.NoError(t, err)
	assert.Equal(t, "It is sunny in Oslo.", msg.Content)
	assert.Equal(t, "weather", exec.name)
	assert.Equal(t, map[string]any{"city": "Oslo"}, exec.args)
	assert.Equal(t, int32(2), rounds.Load())
}

func TestOpenAIErrorWrapsGeneration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"message":"bad request","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	g := NewOpenAI(OpenAIConfig{APIKey: "test", APIBase: srv.URL, Logger: testLogger()})
	_, err := g.Generate(context.Background(), sampleContext())
	assert.ErrorIs(t, err, domain.ErrGeneration)
}

func TestAnthropicText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotEmpty(t, body["system"])
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"m",
			"content":[{"type":"text","text":"Hello bob."}],"stop_reason":"end_turn",
			"usage":{"input_tokens":1,"output_tokens":1}}`)
	}))
	defer srv.Close()

	g := NewAnthropic(AnthropicConfig{APIKey: "test", APIBase: srv.URL, Model: "m", Logger: testLogger()})
	msg, err := g.Generate(context.Background(), sampleContext())
	require.NoError(t, err)
	assert.Equal(t, "Hello bob.", msg.Content)
	assert.Equal(t, "e1", msg.ReplyTo)
}
