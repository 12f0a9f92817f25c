package deepseek

import (
	"context"

	"github.com/BaSui01/socialflow/llm"
	"github.com/BaSui01/socialflow/providers"
	"go.uber.org/zap"
)

// DeepSeekProvider implements the DeepSeek LLM Provider.
// DeepSeek exposes an OpenAI-compatible Chat Completions API.
type DeepSeekProvider struct {
	client *providers.CompatClient
	logger *zap.Logger
}

const (
	defaultBaseURL = "https://api.deepseek.com/v1"
	defaultModel   = "deepseek-chat"
)

// NewDeepSeekProvider creates a new DeepSeek provider instance.
func NewDeepSeekProvider(cfg providers.DeepSeekConfig, logger *zap.Logger) *DeepSeekProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeepSeekProvider{
		client: providers.NewCompatClient("deepseek", cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Timeout),
		logger: logger.With(zap.String("provider", "deepseek")),
	}
}

func (p *DeepSeekProvider) Name() string { return "deepseek" }

func (p *DeepSeekProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return p.client.Completion(ctx, req)
}

func (p *DeepSeekProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	return p.client.Stream(ctx, req)
}

func (p *DeepSeekProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return p.client.HealthCheck(ctx)
}
