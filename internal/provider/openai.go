package provider

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"persona/internal/domain"
)

const openaiDefaultModel = openai.ChatModelGPT4oMini

type OpenAIConfig struct {
	APIKey      string
	APIBase     string // OpenAI-compatible endpoints such as Ollama
	Model       string
	Temperature float64
	MaxTokens   int64
	Timeout     time.Duration
	Executor    Executor
	Logger      *slog.Logger
}

// OpenAI generates replies with the Chat Completions API.
type OpenAI struct {
	client openai.Client
	cfg    OpenAIConfig
	logger *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = openaiDefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts := []option.RequestOption{option.WithHTTPClient(SharedHTTPClient(cfg.Timeout))}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.APIBase != "" {
		opts = append(opts, option.WithBaseURL(cfg.APIBase))
	}
	return &OpenAI{client: openai.NewClient(opts...), cfg: cfg, logger: logger}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Generate(ctx context.Context, gc domain.GenerationContext) (domain.InternalMessage, error) {
	system, user := Frame(gc)
	params := openai.ChatCompletionNewParams{
		Model: o.cfg.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature:         openai.Float(o.cfg.Temperature),
		MaxCompletionTokens: openai.Int(o.cfg.MaxTokens),
	}
	if o.cfg.Executor != nil && len(gc.Abilities) > 0 {
		params.Tools = openaiTools(gc.Abilities)
	}

	for round := 0; ; round++ {
		resp, err := o.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return domain.InternalMessage{}, generationError(o.Name(), err)
		}
		if len(resp.Choices) == 0 {
			return domain.InternalMessage{}, generationError(o.Name(), errors.New("no choices returned"))
		}
		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 || round >= maxAbilityRounds {
			if msg.Content == "" {
				return domain.InternalMessage{}, generationError(o.Name(), errors.New("empty reply"))
			}
			return reply(gc, msg.Content), nil
		}

		params.Messages = append(params.Messages, msg.ToParam())
		for _, tc := range msg.ToolCalls {
			out, _ := runAbility(ctx, o.cfg.Executor, o.logger, tc.Function.Name, tc.Function.Arguments)
			params.Messages = append(params.Messages, openai.ToolMessage(out, tc.ID))
		}
	}
}

func openaiTools(defs []domain.AbilityDefinition) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, len(defs))
	for i, d := range defs {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        d.Name,
				Description: openai.String(d.Description),
				Parameters:  openai.FunctionParameters(d.Parameters),
			},
		}
	}
	return tools
}
