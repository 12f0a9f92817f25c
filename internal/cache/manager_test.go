package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	m := NewManagerWithClient(client, DefaultConfig(), zap.NewNop())
	t.Cleanup(func() { m.Close() })
	return m
}

func TestManager_SetGet(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k1", "v1", time.Minute))

	val, err := m.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "v1", val)
}

func TestManager_GetMiss(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Get(context.Background(), "missing")
	assert.True(t, IsCacheMiss(err))
}

func TestManager_JSON(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	require.NoError(t, m.SetJSON(ctx, "j1", payload{Name: "秋冬穿搭", Count: 3}, 0))

	var got payload
	require.NoError(t, m.GetJSON(ctx, "j1", &got))
	assert.Equal(t, "秋冬穿搭", got.Name)
	assert.Equal(t, 3, got.Count)
}

func TestManager_DeleteExists(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k1", "v1", 0))
	require.NoError(t, m.Set(ctx, "k2", "v2", 0))

	count, err := m.Exists(ctx, "k1", "k2", "k3")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	require.NoError(t, m.Delete(ctx, "k1", "k2"))

	count, err = m.Exists(ctx, "k1", "k2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestManager_Rank(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.RankIncr(ctx, "hot", "护肤", 3))
	require.NoError(t, m.RankIncr(ctx, "hot", "穿搭", 10))
	require.NoError(t, m.RankIncr(ctx, "hot", "美食", 7))
	require.NoError(t, m.RankIncr(ctx, "hot", "穿搭", 5))

	top, err := m.RankTopN(ctx, "hot", 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "穿搭", top[0].Member)
	assert.Equal(t, float64(15), top[0].Score)
	assert.Equal(t, "美食", top[1].Member)
}

func TestManager_ClosedRejectsOps(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Close())

	_, err := m.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.Error(t, m.Set(context.Background(), "k", "v", 0))
}
