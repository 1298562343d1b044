package provider

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"persona/internal/domain"
)

const (
	anthropicDefaultModel = "claude-sonnet-4-5"
	defaultMaxTokens      = 1024
)

type AnthropicConfig struct {
	APIKey      string
	APIBase     string
	Model       string
	Temperature float64
	MaxTokens   int64
	Timeout     time.Duration
	Executor    Executor
	Logger      *slog.Logger
}

// Anthropic generates replies with the Messages API.
type Anthropic struct {
	client anthropic.Client
	cfg    AnthropicConfig
	logger *slog.Logger
}

func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	if cfg.Model == "" {
		cfg.Model = anthropicDefaultModel
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
	return &Anthropic{client: anthropic.NewClient(opts...), cfg: cfg, logger: logger}
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Generate(ctx context.Context, gc domain.GenerationContext) (domain.InternalMessage, error) {
	system, user := Frame(gc)
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.cfg.Model),
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: anthropic.Float(a.cfg.Temperature),
		System:      []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	}
	if a.cfg.Executor != nil && len(gc.Abilities) > 0 {
		params.Tools = anthropicTools(gc.Abilities)
	}

	for round := 0; ; round++ {
		resp, err := a.client.Messages.New(ctx, params)
		if err != nil {
			return domain.InternalMessage{}, generationError(a.Name(), err)
		}

		var text strings.Builder
		var results []anthropic.ContentBlockParamUnion
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				text.WriteString(block.AsText().Text)
			case "tool_use":
				if round >= maxAbilityRounds {
					continue
				}
				tu := block.AsToolUse()
				args, _ := json.Marshal(tu.Input)
				out, ok := runAbility(ctx, a.cfg.Executor, a.logger, tu.Name, string(args))
				results = append(results, anthropic.NewToolResultBlock(tu.ID, out, !ok))
			}
		}

		if len(results) == 0 {
			if text.Len() == 0 {
				return domain.InternalMessage{}, generationError(a.Name(), errors.New("empty reply"))
			}
			return reply(gc, text.String()), nil
		}
		params.Messages = append(params.Messages, resp.ToParam(), anthropic.NewUserMessage(results...))
	}
}

func anthropicTools(defs []domain.AbilityDefinition) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, len(defs))
	for i, d := range defs {
		schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if props, ok := d.Parameters["properties"]; ok {
			schema.Properties = props
		}
		switch req := d.Parameters["required"].(type) {
		case []string:
			schema.Required = req
		case []any:
			for _, r := range req {
				if s, ok := r.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}
		tools[i] = anthropic.ToolUnionParamOfTool(schema, d.Name)
		tools[i].OfTool.Description = anthropic.String(d.Description)
	}
	return tools
}
