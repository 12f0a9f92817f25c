package state

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/socialflow/types"
)

// 两个实现共用一套行为测试
func stores(t *testing.T) map[string]Store {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(client, "test:state"),
	}
}

func TestManager_PutMergesValues(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			m := NewManager(store, zap.NewNop())
			ctx := context.Background()

			s1, err := m.Put(ctx, "thread-1", map[string]any{"topic": "护肤", "stage": "draft"})
			require.NoError(t, err)
			assert.Equal(t, 1, s1.Version)

			s2, err := m.Put(ctx, "thread-1", map[string]any{"stage": "review"})
			require.NoError(t, err)
			assert.Equal(t, 2, s2.Version)
			assert.Equal(t, 1, s2.ParentVersion)

			// 未更新的键保留
			assert.Equal(t, "护肤", s2.Values["topic"])
			assert.Equal(t, "review", s2.Values["stage"])
		})
	}
}

func TestManager_HistoryIsAppendOnly(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			m := NewManager(store, zap.NewNop())
			ctx := context.Background()

			_, err := m.Put(ctx, "thread-1", map[string]any{"stage": "draft"})
			require.NoError(t, err)
			_, err = m.Put(ctx, "thread-1", map[string]any{"stage": "review"})
			require.NoError(t, err)

			history, err := m.History(ctx, "thread-1")
			require.NoError(t, err)
			require.Len(t, history, 2)

			// 老版本不被新写入修改
			assert.Equal(t, "draft", history[0].Values["stage"])
			assert.Equal(t, "review", history[1].Values["stage"])
		})
	}
}

func TestManager_Rewind(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			m := NewManager(store, zap.NewNop())
			ctx := context.Background()

			_, err := m.Put(ctx, "thread-1", map[string]any{"stage": "draft", "title": "v1 标题"})
			require.NoError(t, err)
			_, err = m.Put(ctx, "thread-1", map[string]any{"stage": "review", "title": "v2 标题"})
			require.NoError(t, err)

			rewound, err := m.Rewind(ctx, "thread-1", 1)
			require.NoError(t, err)

			// 回退生成新版本而不是截断历史
			assert.Equal(t, 3, rewound.Version)
			assert.Equal(t, "draft", rewound.Values["stage"])
			assert.Equal(t, "v1 标题", rewound.Values["title"])

			history, err := m.History(ctx, "thread-1")
			require.NoError(t, err)
			assert.Len(t, history, 3)

			latest, err := m.Get(ctx, "thread-1")
			require.NoError(t, err)
			assert.Equal(t, 3, latest.Version)
		})
	}
}

func TestManager_GetMissingThread(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			m := NewManager(store, zap.NewNop())

			_, err := m.Get(context.Background(), "nope")
			require.Error(t, err)
			assert.Equal(t, types.ErrCheckpointNotFound, types.GetErrorCode(err))
		})
	}
}

func TestManager_Reset(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			m := NewManager(store, zap.NewNop())
			ctx := context.Background()

			_, err := m.Put(ctx, "thread-1", map[string]any{"stage": "draft"})
			require.NoError(t, err)

			require.NoError(t, m.Reset(ctx, "thread-1"))

			_, err = m.Get(ctx, "thread-1")
			assert.Error(t, err)

			history, err := m.History(ctx, "thread-1")
			require.NoError(t, err)
			assert.Empty(t, history)
		})
	}
}
