// Package engine implements the AI operations engine: it turns free-form
// operator requests into structured requirements, strategies, task plans,
// content drafts and interaction replies through the unified LLM layer.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/socialflow/internal/metrics"
	"github.com/BaSui01/socialflow/llm"
	"github.com/BaSui01/socialflow/types"
)

// =============================================================================
// 🤖 AI 运营引擎
// =============================================================================

// Engine AI 运营引擎
type Engine struct {
	provider llm.Provider
	counter  *llm.TokenCounter
	metrics  *metrics.Collector
	logger   *zap.Logger

	// 单次请求 Token 预算，0 表示不限制
	tokenBudget int
	temperature float32
}

// Option 引擎可选配置
type Option func(*Engine)

// WithTokenBudget 设置单次请求的 Token 预算。
func WithTokenBudget(budget int) Option {
	return func(e *Engine) { e.tokenBudget = budget }
}

// WithMetrics 挂接指标收集器。
func WithMetrics(collector *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = collector }
}

// WithTemperature 设置生成温度。
func WithTemperature(t float32) Option {
	return func(e *Engine) { e.temperature = t }
}

// New 创建 AI 引擎
func New(provider llm.Provider, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		provider:    provider,
		counter:     llm.NewTokenCounter(),
		logger:      logger.With(zap.String("component", "ai_engine")),
		temperature: 0.7,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// =============================================================================
// 🎯 核心操作
// =============================================================================

// UnderstandRequest 把自由文本的运营诉求解析为结构化需求。
func (e *Engine) UnderstandRequest(ctx context.Context, text string) (*Requirement, error) {
	if strings.TrimSpace(text) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "request text cannot be empty").WithHTTPStatus(400)
	}

	var req Requirement
	if err := e.completeJSON(ctx, understandSystemPrompt, text, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// GenerateStrategy 根据需求生成内容策略。hotTopicsPrompt 为渲染好的热点
// 上下文（见 strategy 包的模板），为空时仅按诉求本身规划。
func (e *Engine) GenerateStrategy(ctx context.Context, req *Requirement, hotTopicsPrompt string) (*Strategy, error) {
	if req == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "requirement cannot be nil").WithHTTPStatus(400)
	}

	reqJSON, _ := json.Marshal(req)
	user := fmt.Sprintf("运营诉求：%s", reqJSON)
	if hotTopicsPrompt != "" {
		user += "\n" + hotTopicsPrompt
	}

	var strategy Strategy
	if err := e.completeJSON(ctx, strategySystemPrompt, user, &strategy); err != nil {
		return nil, err
	}
	return &strategy, nil
}

// planResponse PlanTasks 的解析目标
type planResponse struct {
	Tasks []TaskSpec `json:"tasks"`
}

// PlanTasks 把策略拆解为可调度任务列表。
func (e *Engine) PlanTasks(ctx context.Context, strategy *Strategy) ([]TaskSpec, error) {
	if strategy == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "strategy cannot be nil").WithHTTPStatus(400)
	}

	strategyJSON, _ := json.Marshal(strategy)

	var plan planResponse
	if err := e.completeJSON(ctx, planSystemPrompt, string(strategyJSON), &plan); err != nil {
		return nil, err
	}

	// priority 越界值收敛到 1-9
	for i := range plan.Tasks {
		if plan.Tasks[i].Priority < 1 {
			plan.Tasks[i].Priority = 1
		}
		if plan.Tasks[i].Priority > 9 {
			plan.Tasks[i].Priority = 9
		}
	}
	return plan.Tasks, nil
}

// GenerateContent 根据创作指引生成内容草稿。
func (e *Engine) GenerateContent(ctx context.Context, brief *Brief) (*Draft, error) {
	if brief == nil || strings.TrimSpace(brief.Topic) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "brief topic cannot be empty").WithHTTPStatus(400)
	}

	briefJSON, _ := json.Marshal(brief)

	var draft Draft
	if err := e.completeJSON(ctx, contentSystemPrompt, string(briefJSON), &draft); err != nil {
		return nil, err
	}
	if draft.Title == "" || draft.Body == "" {
		return nil, types.NewError(types.ErrStructuredOutput, "model returned empty draft").WithHTTPStatus(502).WithRetryable(true)
	}
	return &draft, nil
}

// GenerateReply 为一条互动生成回复文本。
func (e *Engine) GenerateReply(ctx context.Context, interaction *types.Interaction, content *types.Content) (string, error) {
	if interaction == nil {
		return "", types.NewError(types.ErrInvalidRequest, "interaction cannot be nil").WithHTTPStatus(400)
	}

	var noteContext string
	if content != nil {
		noteContext = fmt.Sprintf("笔记标题：%s\n笔记正文节选：%s\n", content.Title, truncate(content.Body, 200))
	}
	user := fmt.Sprintf("%s评论者：%s\n评论内容：%s", noteContext, interaction.Author, interaction.Message)

	resp, err := e.complete(ctx, replySystemPrompt, user, false)
	if err != nil {
		return "", err
	}

	reply := strings.TrimSpace(resp.Text())
	if reply == "" {
		return "", types.NewError(types.ErrStructuredOutput, "model returned empty reply").WithHTTPStatus(502).WithRetryable(true)
	}
	return reply, nil
}

// AnalyzeSentiment 分析文本情感倾向。
func (e *Engine) AnalyzeSentiment(ctx context.Context, text string) (*SentimentResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "text cannot be empty").WithHTTPStatus(400)
	}

	var result SentimentResult
	if err := e.completeJSON(ctx, sentimentSystemPrompt, text, &result); err != nil {
		return nil, err
	}

	switch result.Sentiment {
	case "positive", "neutral", "negative":
	default:
		result.Sentiment = "neutral"
	}
	return &result, nil
}

// =============================================================================
// 🔧 内部方法
// =============================================================================

// complete 发起一次 Completion 调用并记录指标。
func (e *Engine) complete(ctx context.Context, system, user string, jsonOutput bool) (*llm.ChatResponse, error) {
	req := &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: user},
		},
		Temperature: e.temperature,
		JSONOutput:  jsonOutput,
	}

	if err := e.counter.CheckBudget(req, e.tokenBudget); err != nil {
		return nil, translateLLMError(err)
	}

	start := time.Now()
	resp, err := e.provider.Completion(ctx, req)
	duration := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
	}
	if e.metrics != nil {
		model := ""
		promptTokens, completionTokens := 0, 0
		if resp != nil {
			model = resp.Model
			promptTokens = resp.Usage.PromptTokens
			completionTokens = resp.Usage.CompletionTokens
		}
		e.metrics.RecordLLMRequest(e.provider.Name(), model, status, duration, promptTokens, completionTokens)
	}

	if err != nil {
		e.logger.Warn("llm completion failed",
			zap.String("provider", e.provider.Name()),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, translateLLMError(err)
	}
	return resp, nil
}

// llmErrorCodes LLM 适配层错误码到统一错误码的映射
var llmErrorCodes = map[llm.ErrorCode]types.ErrorCode{
	llm.ErrInvalidRequest:      types.ErrInvalidRequest,
	llm.ErrUnauthorized:        types.ErrUnauthorized,
	llm.ErrForbidden:           types.ErrForbidden,
	llm.ErrRateLimited:         types.ErrRateLimited,
	llm.ErrQuotaExceeded:       types.ErrQuotaExceeded,
	llm.ErrContentFiltered:     types.ErrContentFiltered,
	llm.ErrModelOverloaded:     types.ErrProviderUnavailable,
	llm.ErrUpstreamTimeout:     types.ErrUpstreamTimeout,
	llm.ErrUpstreamError:       types.ErrUpstreamError,
	llm.ErrTokenBudget:         types.ErrInvalidRequest,
	llm.ErrProviderUnavailable: types.ErrProviderUnavailable,
}

// translateLLMError 把 *llm.Error 翻译为 *types.Error，保留状态码、
// 可重试性与 Provider 信息。其它错误原样返回。
func translateLLMError(err error) error {
	var llmErr *llm.Error
	if !errors.As(err, &llmErr) {
		return err
	}

	code, ok := llmErrorCodes[llmErr.Code]
	if !ok {
		code = types.ErrUpstreamError
	}
	return types.NewError(code, llmErr.Message).
		WithHTTPStatus(llmErr.HTTPStatus).
		WithRetryable(llmErr.Retryable).
		WithProvider(llmErr.Provider).
		WithCause(llmErr)
}

// completeJSON 发起 JSON 输出请求并解析到 out。
func (e *Engine) completeJSON(ctx context.Context, system, user string, out any) error {
	resp, err := e.complete(ctx, system, user, true)
	if err != nil {
		return err
	}

	raw := extractJSON(resp.Text())
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		e.logger.Warn("failed to parse model output",
			zap.String("output", truncate(resp.Text(), 500)),
			zap.Error(err),
		)
		return types.NewError(types.ErrStructuredOutput, "model output is not valid JSON").
			WithHTTPStatus(502).WithRetryable(true).WithCause(err)
	}
	return nil
}

// extractJSON 去掉模型偶尔附带的 Markdown 代码围栏，保留 JSON 本体。
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
