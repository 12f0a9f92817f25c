package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/socialflow/llm"
)

// CompatClient 是 OpenAI 兼容 Chat Completions API 的共享客户端实现。
// Qwen(DashScope 兼容模式) 与 DeepSeek 均使用该协议，仅 BaseURL 与默认模型不同。
type CompatClient struct {
	Provider     string
	APIKey       string
	BaseURL      string
	DefaultModel string
	HTTPClient   *http.Client
}

// NewCompatClient 创建共享客户端。
func NewCompatClient(provider, apiKey, baseURL, defaultModel string, timeout time.Duration) *CompatClient {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &CompatClient{
		Provider:     provider,
		APIKey:       apiKey,
		BaseURL:      strings.TrimRight(baseURL, "/"),
		DefaultModel: defaultModel,
		HTTPClient:   &http.Client{Timeout: timeout},
	}
}

// OpenAI 兼容的线上类型
type compatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
	Name    string `json:"name,omitempty"`
}

type compatResponseFormat struct {
	Type string `json:"type"`
}

type compatRequest struct {
	Model          string                `json:"model"`
	Messages       []compatMessage       `json:"messages"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	Temperature    float32               `json:"temperature,omitempty"`
	TopP           float32               `json:"top_p,omitempty"`
	Stop           []string              `json:"stop,omitempty"`
	Stream         bool                  `json:"stream,omitempty"`
	ResponseFormat *compatResponseFormat `json:"response_format,omitempty"`
}

type compatChoice struct {
	Index        int            `json:"index"`
	FinishReason string         `json:"finish_reason"`
	Message      compatMessage  `json:"message"`
	Delta        *compatMessage `json:"delta,omitempty"`
}

type compatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type compatResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []compatChoice `json:"choices"`
	Usage   *compatUsage   `json:"usage,omitempty"`
	Created int64          `json:"created,omitempty"`
}

type compatErrorResp struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func (c *CompatClient) buildHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")
}

func (c *CompatClient) buildBody(req *llm.ChatRequest, stream bool) compatRequest {
	model := req.Model
	if model == "" {
		model = c.DefaultModel
	}

	messages := make([]compatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, compatMessage{
			Role:    string(m.Role),
			Content: m.Content,
			Name:    m.Name,
		})
	}

	body := compatRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Stream:      stream,
	}
	if req.JSONOutput {
		body.ResponseFormat = &compatResponseFormat{Type: "json_object"}
	}
	return body
}

// Completion 发起同步请求。
func (c *CompatClient) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	payload, _ := json.Marshal(c.buildBody(req, false))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: err.Error(), HTTPStatus: http.StatusBadRequest, Provider: c.Provider}
	}
	c.buildHeaders(httpReq)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: c.Provider}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, MapError(resp.StatusCode, readErrMsg(resp.Body), c.Provider)
	}

	var out compatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: c.Provider}
	}

	return c.toChatResponse(out), nil
}

// Stream 发起流式请求（SSE）。
func (c *CompatClient) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	payload, _ := json.Marshal(c.buildBody(req, true))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: err.Error(), HTTPStatus: http.StatusBadRequest, Provider: c.Provider}
	}
	c.buildHeaders(httpReq)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: c.Provider}
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, MapError(resp.StatusCode, readErrMsg(resp.Body), c.Provider)
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer resp.Body.Close()
		defer close(ch)

		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					ch <- llm.StreamChunk{Err: &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: c.Provider}}
				}
				return
			}
			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}

			var out compatResponse
			if err := json.Unmarshal([]byte(data), &out); err != nil {
				ch <- llm.StreamChunk{Err: &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: c.Provider}}
				return
			}

			for _, choice := range out.Choices {
				chunk := llm.StreamChunk{
					ID:           out.ID,
					Provider:     c.Provider,
					Model:        out.Model,
					Index:        choice.Index,
					Delta:        llm.Message{Role: llm.RoleAssistant},
					FinishReason: choice.FinishReason,
				}
				if choice.Delta != nil {
					chunk.Delta.Content = choice.Delta.Content
				}
				if out.Usage != nil {
					chunk.Usage = &llm.ChatUsage{
						PromptTokens:     out.Usage.PromptTokens,
						CompletionTokens: out.Usage.CompletionTokens,
						TotalTokens:      out.Usage.TotalTokens,
					}
				}
				select {
				case ch <- chunk:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, nil
}

// HealthCheck 请求模型列表接口进行探活。
func (c *CompatClient) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()

	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/models", nil)
	c.buildHeaders(httpReq)

	resp, err := c.HTTPClient.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := readErrMsg(resp.Body)
		return &llm.HealthStatus{Healthy: false, Latency: latency},
			fmt.Errorf("%s health check failed: status=%d msg=%s", c.Provider, resp.StatusCode, msg)
	}

	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

func (c *CompatClient) toChatResponse(out compatResponse) *llm.ChatResponse {
	choices := make([]llm.ChatChoice, 0, len(out.Choices))
	for _, ch := range out.Choices {
		choices = append(choices, llm.ChatChoice{
			Index:        ch.Index,
			FinishReason: ch.FinishReason,
			Message: llm.Message{
				Role:    llm.RoleAssistant,
				Content: ch.Message.Content,
				Name:    ch.Message.Name,
			},
		})
	}

	resp := &llm.ChatResponse{
		ID:       out.ID,
		Provider: c.Provider,
		Model:    out.Model,
		Choices:  choices,
	}
	if out.Usage != nil {
		resp.Usage = llm.ChatUsage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		}
	}
	if out.Created != 0 {
		resp.CreatedAt = time.Unix(out.Created, 0)
	}
	return resp
}

// readErrMsg 从错误响应体中提取人类可读的错误消息。
func readErrMsg(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return "unreadable error body"
	}
	var parsed compatErrorResp
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return strings.TrimSpace(string(raw))
}

// MapError 将上游 HTTP 状态映射为统一的 llm.Error。
func MapError(status int, msg string, provider string) *llm.Error {
	switch status {
	case http.StatusUnauthorized:
		return &llm.Error{Code: llm.ErrUnauthorized, Message: msg, HTTPStatus: status, Provider: provider}
	case http.StatusForbidden:
		return &llm.Error{Code: llm.ErrForbidden, Message: msg, HTTPStatus: status, Provider: provider}
	case http.StatusTooManyRequests:
		return &llm.Error{Code: llm.ErrRateLimited, Message: msg, HTTPStatus: status, Retryable: true, Provider: provider}
	case http.StatusBadRequest:
		if strings.Contains(strings.ToLower(msg), "quota") ||
			strings.Contains(strings.ToLower(msg), "credit") {
			return &llm.Error{Code: llm.ErrQuotaExceeded, Message: msg, HTTPStatus: status, Provider: provider}
		}
		return &llm.Error{Code: llm.ErrInvalidRequest, Message: msg, HTTPStatus: status, Provider: provider}
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return &llm.Error{Code: llm.ErrUpstreamError, Message: msg, HTTPStatus: status, Retryable: true, Provider: provider}
	case 529: // 模型过载
		return &llm.Error{Code: llm.ErrModelOverloaded, Message: msg, HTTPStatus: status, Retryable: true, Provider: provider}
	default:
		return &llm.Error{Code: llm.ErrUpstreamError, Message: msg, HTTPStatus: status, Retryable: status >= 500, Provider: provider}
	}
}
