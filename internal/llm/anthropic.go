package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicGateway struct {
	client anthropic.Client
	cfg    Config
}

// NewAnthropicGateway creates a Gateway backed by the Anthropic Messages API.
func NewAnthropicGateway(cfg Config) Gateway {
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
		cfg.Model = "claude-sonnet-4-5-20250929"
	}
	return &anthropicGateway{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
	}
}

func (g *anthropicGateway) Generate(ctx context.Context, req Request) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(g.cfg.Model),
		MaxTokens:   maxTokens(req, g.cfg),
		Temperature: anthropic.Float(temperature(req, g.cfg)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	start := time.Now()
	message, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return "", classifyError(ctx, ProviderAnthropic, req.Phase, err)
	}

	slog.DebugContext(ctx, "generation completed",
		"provider", ProviderAnthropic,
		"phase", req.Phase,
		"model", g.cfg.Model,
		"duration_ms", time.Since(start).Milliseconds(),
		"input_tokens", message.Usage.InputTokens,
		"output_tokens", message.Usage.OutputTokens)

	var b strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", classifyError(ctx, ProviderAnthropic, req.Phase, fmt.Errorf("no text content in response"))
	}
	return b.String(), nil
}
