package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/socialflow/config"
	"github.com/BaSui01/socialflow/internal/cache"
)

func newTestManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cacheMgr := cache.NewManagerWithClient(client, cache.DefaultConfig(), zap.NewNop())
	t.Cleanup(func() { cacheMgr.Close() })

	cfg := config.StrategyConfig{HotTopicTTL: 30 * time.Minute}
	return NewManager(cacheMgr, nil, cfg, zap.NewNop()), mr
}

func TestManager_HotTopics(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.RecordTopicSignal(ctx, "秋冬穿搭", 5))
	require.NoError(t, m.RecordTopicSignal(ctx, "平价护肤", 3))
	require.NoError(t, m.RecordTopicSignal(ctx, "秋冬穿搭", 4))

	topics, err := m.HotTopics(ctx, 10)
	require.NoError(t, err)
	require.Len(t, topics, 2)
	assert.Equal(t, "秋冬穿搭", topics[0].Name)
	assert.Equal(t, float64(9), topics[0].Score)
}

func TestManager_HotTopicsTTL(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.RecordTopicSignal(ctx, "探店", 1))

	// 过 TTL 后榜单过期
	mr.FastForward(31 * time.Minute)

	topics, err := m.HotTopics(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, topics)
}

func TestManager_RecordTopicSignal_Validation(t *testing.T) {
	m, _ := newTestManager(t)

	assert.Error(t, m.RecordTopicSignal(context.Background(), "", 1))
}

func TestManager_PostingWindows(t *testing.T) {
	m, _ := newTestManager(t)

	loc := time.UTC
	inWindow := time.Date(2026, 8, 23, 20, 0, 0, 0, loc)
	assert.True(t, m.InWindow(inWindow))
	assert.Equal(t, inWindow, m.NextWindow(inWindow))

	beforeMorning := time.Date(2026, 8, 23, 5, 30, 0, 0, loc)
	assert.False(t, m.InWindow(beforeMorning))
	assert.Equal(t, time.Date(2026, 8, 23, 7, 0, 0, 0, loc), m.NextWindow(beforeMorning))

	midAfternoon := time.Date(2026, 8, 23, 15, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 8, 23, 19, 0, 0, 0, loc), m.NextWindow(midAfternoon))

	lateNight := time.Date(2026, 8, 23, 23, 30, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 8, 24, 7, 0, 0, 0, loc), m.NextWindow(lateNight))
}

func TestManager_RenderTemplate(t *testing.T) {
	m, _ := newTestManager(t)

	out, err := m.RenderTemplate("reply_thanks", map[string]any{
		"Author": "小红", "Extra": "新品链接已置顶～",
	})
	require.NoError(t, err)
	assert.Equal(t, "谢谢小红的支持！新品链接已置顶～", out)

	out, err = m.RenderTemplate("hot_topic_prompt", map[string]any{
		"Topics": []string{"穿搭", "护肤"},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "穿搭、护肤")
	assert.Contains(t, out, "热点")

	_, err = m.RenderTemplate("nope", nil)
	assert.Error(t, err)
}

func TestManager_MemoryFallback(t *testing.T) {
	cfg := config.StrategyConfig{HotTopicTTL: 30 * time.Minute}
	m := NewManager(nil, nil, cfg, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, m.RecordTopicSignal(ctx, "秋冬穿搭", 5))
	require.NoError(t, m.RecordTopicSignal(ctx, "平价护肤", 3))
	require.NoError(t, m.RecordTopicSignal(ctx, "秋冬穿搭", 4))

	topics, err := m.HotTopics(ctx, 10)
	require.NoError(t, err)
	require.Len(t, topics, 2)
	assert.Equal(t, "秋冬穿搭", topics[0].Name)
	assert.Equal(t, float64(9), topics[0].Score)

	topics, err = m.HotTopics(ctx, 1)
	require.NoError(t, err)
	require.Len(t, topics, 1)
	assert.Equal(t, "秋冬穿搭", topics[0].Name)
}

func TestManager_MemoryFallbackTTL(t *testing.T) {
	cfg := config.StrategyConfig{HotTopicTTL: 10 * time.Millisecond}
	m := NewManager(nil, nil, cfg, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, m.RecordTopicSignal(ctx, "探店", 1))
	time.Sleep(25 * time.Millisecond)

	topics, err := m.HotTopics(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, topics)
}
