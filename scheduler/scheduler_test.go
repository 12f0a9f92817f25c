package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/socialflow/config"
	"github.com/BaSui01/socialflow/events"
	"github.com/BaSui01/socialflow/internal/store"
	"github.com/BaSui01/socialflow/types"
)

func testConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		Workers:      2,
		QueueSize:    16,
		MaxRetries:   2,
		RetryBackoff: 10 * time.Millisecond,
		MaxBackoff:   50 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
	}
}

func newTestScheduler(t *testing.T, cfg config.SchedulerConfig, bus events.EventBus) (*Scheduler, *store.Stores) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	stores, err := store.NewStores(db)
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close() })

	s := New(cfg, stores.Tasks, bus, nil, zap.NewNop())
	return s, stores
}

func waitForStatus(t *testing.T, stores *store.Stores, taskID string, want types.TaskStatus) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		task, err := stores.Tasks.Get(context.Background(), taskID)
		require.NoError(t, err)
		if task.Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	task, _ := stores.Tasks.Get(context.Background(), taskID)
	t.Fatalf("task %s never reached %s, last status: %s", taskID, want, task.Status)
}

func TestScheduler_BackoffTinyConfig(t *testing.T) {
	cfg := testConfig()
	cfg.RetryBackoff = time.Nanosecond
	cfg.MaxBackoff = time.Nanosecond
	s, _ := newTestScheduler(t, cfg, nil)

	// 病态的小退避配置也不能 panic
	for attempt := 1; attempt <= 5; attempt++ {
		d := s.backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}
}

func TestScheduler_ExecutesTask(t *testing.T) {
	s, stores := newTestScheduler(t, testConfig(), nil)

	var executed atomic.Int32
	s.RegisterHandler("publish_content", func(ctx context.Context, task *types.Task) error {
		executed.Add(1)
		return nil
	})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	require.NoError(t, s.Submit(context.Background(), &types.Task{
		ID: "t1", Kind: "publish_content", Priority: 5,
	}))

	waitForStatus(t, stores, "t1", types.TaskSucceeded)
	assert.Equal(t, int32(1), executed.Load())
}

func TestScheduler_RetriesThenDeadLetters(t *testing.T) {
	s, stores := newTestScheduler(t, testConfig(), nil)

	var attempts atomic.Int32
	s.RegisterHandler("flaky", func(ctx context.Context, task *types.Task) error {
		attempts.Add(1)
		return errors.New("upstream unavailable")
	})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	require.NoError(t, s.Submit(context.Background(), &types.Task{
		ID: "t1", Kind: "flaky", Priority: 5,
	}))

	waitForStatus(t, stores, "t1", types.TaskDead)

	// 1 次初始执行 + 2 次重试
	assert.Equal(t, int32(3), attempts.Load())

	task, err := stores.Tasks.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "upstream unavailable", task.LastError)
}

func TestScheduler_RecoversAfterFailure(t *testing.T) {
	s, stores := newTestScheduler(t, testConfig(), nil)

	var attempts atomic.Int32
	s.RegisterHandler("eventually_ok", func(ctx context.Context, task *types.Task) error {
		if attempts.Add(1) < 2 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	require.NoError(t, s.Submit(context.Background(), &types.Task{
		ID: "t1", Kind: "eventually_ok", Priority: 5,
	}))

	waitForStatus(t, stores, "t1", types.TaskSucceeded)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestScheduler_PanicIsolated(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 0
	s, stores := newTestScheduler(t, cfg, nil)

	s.RegisterHandler("explodes", func(ctx context.Context, task *types.Task) error {
		panic("boom")
	})
	s.RegisterHandler("healthy", func(ctx context.Context, task *types.Task) error {
		return nil
	})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	require.NoError(t, s.Submit(context.Background(), &types.Task{ID: "bad", Kind: "explodes"}))
	require.NoError(t, s.Submit(context.Background(), &types.Task{ID: "good", Kind: "healthy"}))

	// panic 的任务进入死信，不影响其他任务
	waitForStatus(t, stores, "bad", types.TaskDead)
	waitForStatus(t, stores, "good", types.TaskSucceeded)
}

func TestScheduler_FutureTaskPickedUpByPoll(t *testing.T) {
	s, stores := newTestScheduler(t, testConfig(), nil)

	s.RegisterHandler("delayed", func(ctx context.Context, task *types.Task) error {
		return nil
	})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	require.NoError(t, s.Submit(context.Background(), &types.Task{
		ID: "t1", Kind: "delayed", NextRunAt: time.Now().Add(50 * time.Millisecond),
	}))

	// 未到期时不执行
	task, err := stores.Tasks.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskPending, task.Status)

	waitForStatus(t, stores, "t1", types.TaskSucceeded)
}

func TestScheduler_CrashRecoveryOnStart(t *testing.T) {
	s, stores := newTestScheduler(t, testConfig(), nil)

	// 模拟上次进程崩溃时残留的 running 任务
	require.NoError(t, stores.Tasks.Create(context.Background(), &types.Task{
		ID: "stale", Kind: "publish_content", Status: types.TaskRunning,
	}))

	s.RegisterHandler("publish_content", func(ctx context.Context, task *types.Task) error {
		return nil
	})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	waitForStatus(t, stores, "stale", types.TaskSucceeded)
}

func TestScheduler_PublishesStateChangeEvents(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()

	var mu sync.Mutex
	var transitions []types.TaskStatus
	bus.Subscribe(events.EventTaskStateChanged, func(e events.Event) {
		evt := e.(*events.TaskStateChangedEvent)
		mu.Lock()
		transitions = append(transitions, evt.ToStatus)
		mu.Unlock()
	})

	s, stores := newTestScheduler(t, testConfig(), bus)
	s.RegisterHandler("publish_content", func(ctx context.Context, task *types.Task) error {
		return nil
	})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	require.NoError(t, s.Submit(context.Background(), &types.Task{ID: "t1", Kind: "publish_content"}))
	waitForStatus(t, stores, "t1", types.TaskSucceeded)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(transitions)
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, transitions, types.TaskRunning)
	assert.Contains(t, transitions, types.TaskSucceeded)
}

func TestScheduler_Cancel(t *testing.T) {
	s, stores := newTestScheduler(t, testConfig(), nil)

	// 未启动调度器，任务保持 pending
	require.NoError(t, stores.Tasks.Create(context.Background(), &types.Task{
		ID: "t1", Kind: "publish_content", NextRunAt: time.Now().Add(time.Hour),
	}))

	require.NoError(t, s.Cancel(context.Background(), "t1"))

	task, err := stores.Tasks.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskCanceled, task.Status)

	// 终态任务不可再取消
	err = s.Cancel(context.Background(), "t1")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidTransition, types.GetErrorCode(err))
}

func TestScheduler_SubmitAfterStop(t *testing.T) {
	s, _ := newTestScheduler(t, testConfig(), nil)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))

	err := s.Submit(context.Background(), &types.Task{ID: "t1", Kind: "x"})
	require.Error(t, err)
	assert.Equal(t, types.ErrSchedulerClosed, types.GetErrorCode(err))
}
