package qwen

import (
	"context"

	"github.com/BaSui01/socialflow/llm"
	"github.com/BaSui01/socialflow/providers"
	"go.uber.org/zap"
)

// QwenProvider implements Alibaba Qwen (通义千问) LLM Provider.
// Qwen uses OpenAI-compatible API format via DashScope.
type QwenProvider struct {
	client *providers.CompatClient
	logger *zap.Logger
}

const (
	defaultBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	defaultModel   = "qwen-plus"
)

// NewQwenProvider creates a new Qwen provider instance.
func NewQwenProvider(cfg providers.QwenConfig, logger *zap.Logger) *QwenProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &QwenProvider{
		client: providers.NewCompatClient("qwen", cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Timeout),
		logger: logger.With(zap.String("provider", "qwen")),
	}
}

func (p *QwenProvider) Name() string { return "qwen" }

func (p *QwenProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return p.client.Completion(ctx, req)
}

func (p *QwenProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	return p.client.Stream(ctx, req)
}

func (p *QwenProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return p.client.HealthCheck(ctx)
}
