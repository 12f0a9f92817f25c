package workflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/socialflow/events"
	"github.com/BaSui01/socialflow/types"
)

func newTestRunner(t *testing.T, bus events.EventBus) (*Runner, *InMemoryCheckpointStore) {
	t.Helper()
	store := NewInMemoryCheckpointStore()
	return NewRunner(store, bus, nil, zap.NewNop()), store
}

func appendStep(name, value string) Step {
	return NewStep(name, func(ctx context.Context, state State) (State, error) {
		next := state.Clone()
		trail, _ := next["trail"].([]string)
		next["trail"] = append(trail, value)
		return next, nil
	})
}

func TestRunner_RunCompletes(t *testing.T) {
	r, store := newTestRunner(t, nil)
	r.Register(NewWorkflow("greet", "测试链", appendStep("a", "早"), appendStep("b", "安")))

	result, err := r.Run(context.Background(), "greet", State{"trail": []string{}})
	require.NoError(t, err)

	assert.Equal(t, RunCompleted, result.Status)
	assert.Equal(t, []string{"早", "安"}, result.State["trail"])
	assert.NotEmpty(t, result.RunID)

	// 每个节点完成后各有一个检查点
	history, err := store.ListByRun(context.Background(), result.RunID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, RunRunning, history[0].Status)
	assert.Equal(t, "a", history[0].StepName)
	assert.Equal(t, RunCompleted, history[1].Status)
	assert.Equal(t, 2, history[1].StepIndex)
}

func TestRunner_PublishesNodeEvents(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()

	var mu sync.Mutex
	var nodes []string
	bus.Subscribe(events.EventWorkflowNodeFinished, func(e events.Event) {
		evt := e.(*events.WorkflowNodeFinishedEvent)
		mu.Lock()
		nodes = append(nodes, evt.Node)
		mu.Unlock()
	})

	r, _ := newTestRunner(t, bus)
	r.Register(NewWorkflow("greet", "", appendStep("a", "早"), appendStep("b", "安")))

	_, err := r.Run(context.Background(), "greet", nil)
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(nodes)
		mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b"}, nodes)
}

func TestRunner_ResumeFromFailure(t *testing.T) {
	r, _ := newTestRunner(t, nil)

	var firstRuns atomic.Int32
	var failSecond atomic.Bool
	failSecond.Store(true)

	r.Register(NewWorkflow("flaky", "",
		NewStep("first", func(ctx context.Context, state State) (State, error) {
			firstRuns.Add(1)
			next := state.Clone()
			next["first_done"] = true
			return next, nil
		}),
		NewStep("second", func(ctx context.Context, state State) (State, error) {
			if failSecond.Load() {
				return nil, errors.New("transient")
			}
			return state, nil
		}),
	))

	result, err := r.Run(context.Background(), "flaky", nil)
	require.Error(t, err)
	assert.Equal(t, RunFailed, result.Status)
	require.NotEmpty(t, result.CheckpointID)

	// 恢复后从失败节点重新执行，first 不再重复
	failSecond.Store(false)
	resumed, err := r.Resume(context.Background(), result.CheckpointID)
	require.NoError(t, err)

	assert.Equal(t, RunCompleted, resumed.Status)
	assert.Equal(t, result.RunID, resumed.RunID)
	assert.Equal(t, true, resumed.State["first_done"])
	assert.Equal(t, int32(1), firstRuns.Load())
}

func TestRunner_WorkflowNotFound(t *testing.T) {
	r, _ := newTestRunner(t, nil)

	_, err := r.Run(context.Background(), "ghost", nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrWorkflowNotFound, types.GetErrorCode(err))
}

func TestRunner_ResumeMissingCheckpoint(t *testing.T) {
	r, _ := newTestRunner(t, nil)

	_, err := r.Resume(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, types.ErrCheckpointNotFound, types.GetErrorCode(err))
}

func TestRunner_List(t *testing.T) {
	r, _ := newTestRunner(t, nil)
	r.Register(NewWorkflow("b", ""))
	r.Register(NewWorkflow("a", ""))

	assert.Equal(t, []string{"a", "b"}, r.List())
}

func TestConditionStep_Branches(t *testing.T) {
	step := NewConditionStep("gate",
		func(state State) bool { v, _ := state["go"].(bool); return v },
		appendStep("yes", "taken"),
		nil)

	out, err := step.Execute(context.Background(), State{"go": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"taken"}, out["trail"])

	// 谓词不成立且无 else 支路时状态透传
	out, err = step.Execute(context.Background(), State{"go": false})
	require.NoError(t, err)
	assert.Nil(t, out["trail"])
}

func TestRedisCheckpointStore_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := NewRedisCheckpointStore(client, "")
	ctx := context.Background()

	cp1 := &Checkpoint{
		ID: "c1", RunID: "run1", Workflow: "greet",
		StepIndex: 1, StepName: "a",
		State:     State{"k": "v"},
		Status:    RunRunning,
		CreatedAt: time.Now(),
	}
	cp2 := &Checkpoint{
		ID: "c2", RunID: "run1", Workflow: "greet",
		StepIndex: 2, StepName: "b",
		State:     State{"k": "v2"},
		Status:    RunCompleted,
		CreatedAt: time.Now().Add(time.Millisecond),
	}
	require.NoError(t, store.Save(ctx, cp1))
	require.NoError(t, store.Save(ctx, cp2))

	loaded, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "v", loaded.State["k"])
	assert.Equal(t, RunRunning, loaded.Status)

	history, err := store.ListByRun(ctx, "run1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "c1", history[0].ID)
	assert.Equal(t, "c2", history[1].ID)

	require.NoError(t, store.DeleteRun(ctx, "run1"))
	_, err = store.Load(ctx, "c1")
	require.Error(t, err)
	assert.Equal(t, types.ErrCheckpointNotFound, types.GetErrorCode(err))
}

func TestReviewManager_ApproveAndReject(t *testing.T) {
	m := NewReviewManager(2*time.Second, nil, nil, zap.NewNop())

	type outcome struct {
		decision *Decision
		err      error
	}
	done := make(chan outcome, 1)
	go func() {
		d, err := m.Request(context.Background(), &Review{
			RunID: "run1", Workflow: "greet", Node: "review", Summary: "审核草稿",
		})
		done <- outcome{d, err}
	}()

	var pending []*Review
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		pending = m.Pending()
		if len(pending) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Len(t, pending, 1)
	assert.Equal(t, ReviewPending, pending[0].Status)

	require.NoError(t, m.Resolve(pending[0].ID, &Decision{Approved: true, Reviewer: "ops"}))

	out := <-done
	require.NoError(t, out.err)
	assert.True(t, out.decision.Approved)

	// 裁决后不再挂起
	assert.Empty(t, m.Pending())

	// 重复裁决同一审核
	err := m.Resolve(pending[0].ID, &Decision{Approved: false})
	require.Error(t, err)
	assert.Equal(t, types.ErrInterruptNotFound, types.GetErrorCode(err))
}

func TestReviewManager_Timeout(t *testing.T) {
	m := NewReviewManager(20*time.Millisecond, nil, nil, zap.NewNop())

	decision, err := m.Request(context.Background(), &Review{RunID: "run1", Node: "review"})
	require.NoError(t, err)
	assert.False(t, decision.Approved)
	assert.Equal(t, "review timed out", decision.Reason)
	assert.Empty(t, m.Pending())
}

func TestReviewManager_ContextCanceled(t *testing.T) {
	m := NewReviewManager(time.Minute, nil, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Request(ctx, &Review{RunID: "run1", Node: "review"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, m.Pending())
}
