package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/socialflow/llm"
	"github.com/BaSui01/socialflow/types"
)

// scriptedProvider 依次返回预置文本
type scriptedProvider struct {
	outputs []string
	calls   int
	lastReq *llm.ChatRequest
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	p.lastReq = req
	out := ""
	if p.calls < len(p.outputs) {
		out = p.outputs[p.calls]
	}
	p.calls++
	return &llm.ChatResponse{
		Model: "scripted-model",
		Choices: []llm.ChatChoice{
			{Message: llm.Message{Role: llm.RoleAssistant, Content: out}},
		},
		Usage: llm.ChatUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk)
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}

func TestEngine_UnderstandRequest(t *testing.T) {
	p := &scriptedProvider{outputs: []string{
		`{"intent":"提升笔记曝光","audience":"20-30岁女性","platform":"xiaohongshu","topics":["秋冬穿搭"],"tone":"亲切"}`,
	}}
	e := New(p, zap.NewNop())

	req, err := e.UnderstandRequest(context.Background(), "帮我把穿搭账号做起来")
	require.NoError(t, err)
	assert.Equal(t, "提升笔记曝光", req.Intent)
	assert.Equal(t, []string{"秋冬穿搭"}, req.Topics)
	assert.True(t, p.lastReq.JSONOutput)
}

func TestEngine_UnderstandRequest_Empty(t *testing.T) {
	e := New(&scriptedProvider{}, zap.NewNop())

	_, err := e.UnderstandRequest(context.Background(), "   ")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestEngine_CompleteJSON_StripsCodeFence(t *testing.T) {
	p := &scriptedProvider{outputs: []string{
		"```json\n{\"intent\":\"涨粉\",\"audience\":\"学生\",\"platform\":\"xiaohongshu\",\"topics\":[],\"tone\":\"活泼\"}\n```",
	}}
	e := New(p, zap.NewNop())

	req, err := e.UnderstandRequest(context.Background(), "涨粉")
	require.NoError(t, err)
	assert.Equal(t, "涨粉", req.Intent)
}

func TestEngine_CompleteJSON_InvalidOutput(t *testing.T) {
	p := &scriptedProvider{outputs: []string{"抱歉，我无法完成这个任务。"}}
	e := New(p, zap.NewNop())

	_, err := e.UnderstandRequest(context.Background(), "做内容")
	require.Error(t, err)
	assert.Equal(t, types.ErrStructuredOutput, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestEngine_PlanTasks_ClampsPriority(t *testing.T) {
	p := &scriptedProvider{outputs: []string{
		`{"tasks":[
			{"kind":"generate_content","title":"写一篇穿搭笔记","priority":99,"schedule_hint":"next_window"},
			{"kind":"collect_metrics","title":"采集昨日数据","priority":0,"schedule_hint":"daily"}
		]}`,
	}}
	e := New(p, zap.NewNop())

	tasks, err := e.PlanTasks(context.Background(), &Strategy{Positioning: "穿搭博主"})
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, 9, tasks[0].Priority)
	assert.Equal(t, 1, tasks[1].Priority)
	assert.Equal(t, "generate_content", tasks[0].Kind)
}

func TestEngine_GenerateContent(t *testing.T) {
	p := &scriptedProvider{outputs: []string{
		`{"title":"🍂秋冬穿搭公式","body":"姐妹们，今天分享三套通勤穿搭…","tags":["秋冬穿搭","通勤"]}`,
	}}
	e := New(p, zap.NewNop())

	draft, err := e.GenerateContent(context.Background(), &Brief{Topic: "秋冬穿搭", Audience: "上班族"})
	require.NoError(t, err)
	assert.Equal(t, "🍂秋冬穿搭公式", draft.Title)
	assert.Len(t, draft.Tags, 2)
}

func TestEngine_GenerateContent_EmptyDraft(t *testing.T) {
	p := &scriptedProvider{outputs: []string{`{"title":"","body":"","tags":[]}`}}
	e := New(p, zap.NewNop())

	_, err := e.GenerateContent(context.Background(), &Brief{Topic: "美食"})
	require.Error(t, err)
	assert.Equal(t, types.ErrStructuredOutput, types.GetErrorCode(err))
}

func TestEngine_GenerateReply(t *testing.T) {
	p := &scriptedProvider{outputs: []string{"谢谢支持！外套链接已经放在评论区啦～"}}
	e := New(p, zap.NewNop())

	reply, err := e.GenerateReply(context.Background(),
		&types.Interaction{Author: "小红", Message: "求外套链接！"},
		&types.Content{Title: "🍂秋冬穿搭公式", Body: "……"},
	)
	require.NoError(t, err)
	assert.Contains(t, reply, "链接")
	// 回复是自由文本，不要求 JSON 输出
	assert.False(t, p.lastReq.JSONOutput)
}

func TestEngine_AnalyzeSentiment(t *testing.T) {
	p := &scriptedProvider{outputs: []string{
		`{"sentiment":"positive","score":0.9,"reason":"用户表达喜爱"}`,
	}}
	e := New(p, zap.NewNop())

	result, err := e.AnalyzeSentiment(context.Background(), "太好看了，已下单！")
	require.NoError(t, err)
	assert.Equal(t, "positive", result.Sentiment)
	assert.InDelta(t, 0.9, result.Score, 0.001)
}

func TestEngine_AnalyzeSentiment_UnknownLabel(t *testing.T) {
	p := &scriptedProvider{outputs: []string{`{"sentiment":"mixed","score":0.1}`}}
	e := New(p, zap.NewNop())

	result, err := e.AnalyzeSentiment(context.Background(), "还行吧")
	require.NoError(t, err)
	assert.Equal(t, "neutral", result.Sentiment)
}

func TestEngine_TokenBudget(t *testing.T) {
	p := &scriptedProvider{outputs: []string{`{}`}}
	e := New(p, zap.NewNop(), WithTokenBudget(1))

	_, err := e.UnderstandRequest(context.Background(), "这是一段远超一个 Token 预算的运营诉求描述")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
	assert.Equal(t, 0, p.calls)

	// 底层的预算错误仍可通过错误链取到
	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llm.ErrTokenBudget, llmErr.Code)
}

// failingProvider 恒定返回同一个错误
type failingProvider struct {
	err error
}

func (p *failingProvider) Name() string { return "failing" }

func (p *failingProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, p.err
}

func (p *failingProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	return nil, p.err
}

func (p *failingProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: false}, nil
}

func TestEngine_TranslatesProviderError(t *testing.T) {
	e := New(&failingProvider{err: &llm.Error{
		Code:       llm.ErrRateLimited,
		Message:    "qwen rate limit exceeded",
		HTTPStatus: 429,
		Retryable:  true,
		Provider:   "qwen",
	}}, zap.NewNop())

	_, err := e.GenerateReply(context.Background(),
		&types.Interaction{Author: "小红", Message: "求链接"}, nil)
	require.Error(t, err)

	var apiErr *types.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, types.ErrRateLimited, apiErr.Code)
	assert.Equal(t, 429, apiErr.HTTPStatus)
	assert.True(t, apiErr.Retryable)
	assert.Equal(t, "qwen", apiErr.Provider)
}

func TestEngine_TranslatesUnknownLLMCode(t *testing.T) {
	e := New(&failingProvider{err: &llm.Error{Code: "LLM_SOMETHING_NEW", Message: "?"}}, zap.NewNop())

	_, err := e.AnalyzeSentiment(context.Background(), "还行")
	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamError, types.GetErrorCode(err))
}

func TestEngine_GenerateStrategy_HotTopicPrompt(t *testing.T) {
	p := &scriptedProvider{outputs: []string{
		`{"positioning":"通勤穿搭博主","content_pillars":["穿搭公式"],"posting_frequency":"每周三篇","target_topics":["秋冬穿搭"]}`,
	}}
	e := New(p, zap.NewNop())

	_, err := e.GenerateStrategy(context.Background(),
		&Requirement{Intent: "涨粉", Platform: "xiaohongshu"},
		"当前平台热点话题：秋冬穿搭、通勤包。请优先结合以上热点规划选题。")
	require.NoError(t, err)
	assert.Contains(t, p.lastReq.Messages[1].Content, "秋冬穿搭、通勤包")
}
