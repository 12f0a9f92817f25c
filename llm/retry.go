package llm

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RetryConfig 控制可重试错误的退避行为。
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay" json:"max_delay"`
}

// DefaultRetryConfig 返回默认重试配置
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
	}
}

// RetryingProvider 在底层 Provider 之上增加指数退避重试。
// 只重试标记为 Retryable 的错误（限流、上游 5xx、过载）。
type RetryingProvider struct {
	inner  Provider
	cfg    RetryConfig
	logger *zap.Logger
}

// WithRetry 包装一个 Provider，使其具备重试能力。
func WithRetry(inner Provider, cfg RetryConfig, logger *zap.Logger) *RetryingProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingProvider{
		inner:  inner,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "llm_retry"), zap.String("provider", inner.Name())),
	}
}

func (p *RetryingProvider) Name() string { return p.inner.Name() }

func (p *RetryingProvider) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	return p.inner.HealthCheck(ctx)
}

func (p *RetryingProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.backoff(attempt)
			p.logger.Warn("retrying completion",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := p.inner.Completion(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return nil, err
		}
	}

	return nil, lastErr
}

// Stream 不做重试：流已经开始输出后无法安全重放。
func (p *RetryingProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	return p.inner.Stream(ctx, req)
}

// backoff 计算第 attempt 次重试的等待时间（指数退避 + 抖动）。
func (p *RetryingProvider) backoff(attempt int) time.Duration {
	delay := p.cfg.BaseDelay << (attempt - 1)
	if delay > p.cfg.MaxDelay || delay <= 0 {
		delay = p.cfg.MaxDelay
	}
	// 加入 ±25% 抖动，避免同一时刻的重试风暴
	jitter := time.Duration(rand.Int63n(int64(delay)/2+1)) - delay/4
	return delay + jitter
}
