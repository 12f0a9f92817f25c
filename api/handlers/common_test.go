package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/socialflow/internal/store"
	"github.com/BaSui01/socialflow/llm"
	"github.com/BaSui01/socialflow/types"
)

func newTestStores(t *testing.T) *store.Stores {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	stores, err := store.NewStores(db)
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close() })
	return stores
}

// scriptedProvider 依次返回预置文本
type scriptedProvider struct {
	outputs []string
	calls   int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
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

// doJSON 发起 JSON 请求并解析统一响应信封
func doJSON(t *testing.T, handler http.HandlerFunc, method, target string, body any) (*httptest.ResponseRecorder, *Response) {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = &bytes.Buffer{}
	}

	req := httptest.NewRequest(method, target, reqBody)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, &resp
}

// decodeData 把信封里的 data 解析为目标类型
func decodeData(t *testing.T, resp *Response, out any) {
	t.Helper()
	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, out))
}

func TestWriteError_MapsCodes(t *testing.T) {
	tests := []struct {
		name   string
		err    *types.Error
		status int
	}{
		{"not found", types.NewError(types.ErrContentNotFound, "missing"), http.StatusNotFound},
		{"invalid transition", types.NewError(types.ErrInvalidTransition, "bad move"), http.StatusConflict},
		{"rate limited", types.NewError(types.ErrRateLimited, "slow down"), http.StatusTooManyRequests},
		{"scheduler closed", types.NewError(types.ErrSchedulerClosed, "stopped"), http.StatusServiceUnavailable},
		{"structured output", types.NewError(types.ErrStructuredOutput, "bad json"), http.StatusBadGateway},
		{"explicit status wins", types.NewError(types.ErrInternalError, "x").WithHTTPStatus(418), 418},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tt.err, zap.NewNop())

			assert.Equal(t, tt.status, rec.Code)

			var resp Response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.Equal(t, string(tt.err.Code), resp.Error.Code)
		})
	}
}

func TestWriteError_WrapsPlainError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, assert.AnError, zap.NewNop())

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(types.ErrInternalError), resp.Error.Code)
}

func TestDecodeJSONBody_RejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"bogus":1}`))
	rec := httptest.NewRecorder()

	var dst struct {
		Known string `json:"known"`
	}
	err := DecodeJSONBody(rec, req, &dst, zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
