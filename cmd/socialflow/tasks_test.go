package main

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/socialflow/config"
	"github.com/BaSui01/socialflow/engine"
	"github.com/BaSui01/socialflow/internal/store"
	"github.com/BaSui01/socialflow/llm"
	"github.com/BaSui01/socialflow/strategy"
	"github.com/BaSui01/socialflow/types"
)

func newTaskTestStores(t *testing.T) *store.Stores {
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

// captureSubmitter 只记录提交的任务，不真正执行
type captureSubmitter struct {
	mu    sync.Mutex
	tasks []*types.Task
}

func (c *captureSubmitter) Submit(ctx context.Context, task *types.Task) error {
	c.mu.Lock()
	c.tasks = append(c.tasks, task)
	c.mu.Unlock()
	return nil
}

// brokenProvider 恒定返回同一个错误
type brokenProvider struct {
	err error
}

func (p *brokenProvider) Name() string { return "broken" }

func (p *brokenProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, p.err
}

func (p *brokenProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	return nil, p.err
}

func (p *brokenProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: false}, nil
}

func TestSweepOverdueScheduled(t *testing.T) {
	stores := newTaskTestStores(t)
	ctx := context.Background()

	overdue := time.Now().Add(-30 * time.Minute)
	recent := time.Now().Add(-time.Minute)
	require.NoError(t, stores.Contents.Create(ctx, &types.Content{
		ID: "c-stuck", Title: "滞留的排期", Status: types.ContentScheduled, ScheduleAt: &overdue,
	}))
	// 还在宽限期内，留给正常路径的发布任务
	require.NoError(t, stores.Contents.Create(ctx, &types.Content{
		ID: "c-fresh", Title: "刚过期的排期", Status: types.ContentScheduled, ScheduleAt: &recent,
	}))

	sub := &captureSubmitter{}
	n := sweepOverdueScheduled(ctx, stores.Contents, sub, 10*time.Minute, zap.NewNop())

	assert.Equal(t, 1, n)
	require.Len(t, sub.tasks, 1)
	assert.Equal(t, TaskPublishContent, sub.tasks[0].Kind)
	assert.Equal(t, 8, sub.tasks[0].Priority)

	var payload contentPayload
	require.NoError(t, json.Unmarshal(sub.tasks[0].Payload, &payload))
	assert.Equal(t, "c-stuck", payload.ContentID)
}

func TestReplyInteractions_TemplateFallback(t *testing.T) {
	stores := newTaskTestStores(t)
	ctx := context.Background()

	require.NoError(t, stores.Contents.Create(ctx, &types.Content{
		ID: "c1", Title: "秋冬穿搭合集", Status: types.ContentPublished,
	}))
	require.NoError(t, stores.Interactions.Create(ctx, &types.Interaction{
		ID: "i1", ContentID: "c1", Kind: types.InteractionComment,
		Author: "小红", Message: "求链接！",
	}))

	s := &Server{
		logger: zap.NewNop(),
		stores: stores,
		engine: engine.New(&brokenProvider{err: &llm.Error{
			Code: llm.ErrProviderUnavailable, Message: "connect refused", HTTPStatus: 503,
		}}, zap.NewNop()),
		strategy: strategy.NewManager(nil, nil, config.StrategyConfig{}, zap.NewNop()),
	}

	payload, err := json.Marshal(contentPayload{ContentID: "c1"})
	require.NoError(t, err)
	require.NoError(t, s.handleReplyInteractions(ctx, &types.Task{
		ID: "t1", Kind: TaskReplyInteractions, Payload: payload,
	}))

	saved, err := stores.Interactions.Get(ctx, "i1")
	require.NoError(t, err)
	assert.Contains(t, saved.Reply, "谢谢小红")
}
