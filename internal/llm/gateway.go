package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/miradorstack/mirador-triage/internal/utils"
)

// Provider constants for text generation provider selection.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

var (
	// ErrTimeout marks a generation call that exceeded its deadline.
	ErrTimeout = errors.New("generation timed out")
	// ErrProvider marks any other failure reported by the provider.
	ErrProvider = errors.New("provider error")
)

// Gateway turns a prompt into free-form text. The deadline is carried by ctx.
type Gateway interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Request is a single text generation call.
type Request struct {
	// Phase labels the call for logs and metrics, e.g. "classify".
	Phase     string
	System    string
	Prompt    string
	MaxTokens int
	// Temperature overrides the configured default when set.
	Temperature *float64
}

// Config holds provider settings.
type Config struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	// MaxRetries is handed to the provider SDK; zero keeps the SDK default.
	MaxRetries int
}

// New selects the provider named by cfg.Provider, defaulting to Anthropic.
func New(cfg Config) (Gateway, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	switch cfg.Provider {
	case "", ProviderAnthropic:
		return NewAnthropicGateway(cfg), nil
	case ProviderOpenAI:
		return NewOpenAIGateway(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

// GatewayFunc adapts a function to the Gateway interface.
type GatewayFunc func(ctx context.Context, req Request) (string, error)

// Generate calls f.
func (f GatewayFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// classifyError wraps a provider failure as ErrTimeout or ErrProvider.
func classifyError(ctx context.Context, provider, phase string, err error) error {
	op := provider + " generate"
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) || utils.KindOf(err) == utils.KindTimeout {
		return utils.NewKindError(utils.KindTimeout, op, phase, fmt.Errorf("%w: %w", ErrTimeout, err))
	}
	return utils.NewKindError(utils.KindProvider, op, phase, fmt.Errorf("%w: %w", ErrProvider, err))
}

func maxTokens(req Request, cfg Config) int64 {
	if req.MaxTokens > 0 {
		return int64(req.MaxTokens)
	}
	if cfg.MaxTokens > 0 {
		return int64(cfg.MaxTokens)
	}
	return 4096
}

func temperature(req Request, cfg Config) float64 {
	if req.Temperature != nil {
		return *req.Temperature
	}
	return cfg.Temperature
}
