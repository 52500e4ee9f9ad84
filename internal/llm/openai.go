package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type openAIGateway struct {
	client openai.Client
	cfg    Config
}

// NewOpenAIGateway creates a Gateway backed by the OpenAI chat completions API.
func NewOpenAIGateway(cfg Config) Gateway {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	return &openAIGateway{
		client: openai.NewClient(opts...),
		cfg:    cfg,
	}
}

func (g *openAIGateway) Generate(ctx context.Context, req Request) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:               g.cfg.Model,
		Messages:            messages,
		MaxCompletionTokens: openai.Int(maxTokens(req, g.cfg)),
		Temperature:         openai.Float(temperature(req, g.cfg)),
	}

	start := time.Now()
	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classifyError(ctx, ProviderOpenAI, req.Phase, err)
	}
	if len(resp.Choices) == 0 {
		return "", classifyError(ctx, ProviderOpenAI, req.Phase, fmt.Errorf("no choices in response"))
	}

	slog.DebugContext(ctx, "generation completed",
		"provider", ProviderOpenAI,
		"phase", req.Phase,
		"model", g.cfg.Model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"finish_reason", resp.Choices[0].FinishReason)

	return resp.Choices[0].Message.Content, nil
}
