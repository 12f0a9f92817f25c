package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/socialflow/events"
	"github.com/BaSui01/socialflow/internal/metrics"
	"github.com/BaSui01/socialflow/types"
)

// RunResult 一次工作流运行的结果
type RunResult struct {
	RunID        string    `json:"run_id"`
	Workflow     string    `json:"workflow"`
	Status       RunStatus `json:"status"`
	State        State     `json:"state"`
	CheckpointID string    `json:"checkpoint_id,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// =============================================================================
// 🏃 工作流运行器
// =============================================================================

// Runner 持有命名工作流注册表，按节点推进执行并在每个节点后落检查点。
// 失败或被拒的运行可从检查点恢复，从记录的节点重新执行。
type Runner struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow

	checkpoints CheckpointStore
	bus         events.EventBus
	metrics     *metrics.Collector
	logger      *zap.Logger
	storeName   string
}

// NewRunner 创建工作流运行器
func NewRunner(checkpoints CheckpointStore, bus events.EventBus, collector *metrics.Collector, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := "memory"
	if _, ok := checkpoints.(*RedisCheckpointStore); ok {
		name = "redis"
	}
	return &Runner{
		workflows:   make(map[string]*Workflow),
		checkpoints: checkpoints,
		bus:         bus,
		metrics:     collector,
		logger:      logger.With(zap.String("component", "workflow_runner")),
		storeName:   name,
	}
}

// Register 注册命名工作流，同名覆盖。
func (r *Runner) Register(w *Workflow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows[w.Name()] = w
}

// Get 按名称查找工作流
func (r *Runner) Get(name string) (*Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workflows[name]
	if !ok {
		return nil, types.NewError(types.ErrWorkflowNotFound,
			fmt.Sprintf("workflow not found: %s", name)).WithHTTPStatus(404)
	}
	return w, nil
}

// List 返回已注册的工作流名称
func (r *Runner) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.workflows))
	for name := range r.workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run 启动一次新的工作流运行
func (r *Runner) Run(ctx context.Context, name string, initial State) (*RunResult, error) {
	w, err := r.Get(name)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	state := initial.Clone()
	if state == nil {
		state = State{}
	}
	state[StateKeyRunID] = runID
	state[StateKeyWorkflow] = name

	r.logger.Info("workflow run started",
		zap.String("run_id", runID),
		zap.String("workflow", name))

	return r.runSteps(ctx, w, runID, 0, state)
}

// StartRun 异步启动一次运行并立即返回 runID。运行进度通过事件总线
// 和检查点历史观察。派生 context 与请求生命周期解耦。
func (r *Runner) StartRun(ctx context.Context, name string, initial State) (string, error) {
	w, err := r.Get(name)
	if err != nil {
		return "", err
	}

	runID := uuid.NewString()
	state := initial.Clone()
	if state == nil {
		state = State{}
	}
	state[StateKeyRunID] = runID
	state[StateKeyWorkflow] = name

	go func() {
		if _, err := r.runSteps(context.WithoutCancel(ctx), w, runID, 0, state); err != nil {
			r.logger.Warn("async workflow run ended with error",
				zap.String("run_id", runID), zap.Error(err))
		}
	}()
	return runID, nil
}

// Checkpoint 按 ID 加载检查点
func (r *Runner) Checkpoint(ctx context.Context, id string) (*Checkpoint, error) {
	return r.checkpoints.Load(ctx, id)
}

// Resume 从检查点恢复运行：以记录的状态从记录的节点重新执行。
func (r *Runner) Resume(ctx context.Context, checkpointID string) (*RunResult, error) {
	cp, err := r.checkpoints.Load(ctx, checkpointID)
	if err != nil {
		return nil, err
	}

	w, err := r.Get(cp.Workflow)
	if err != nil {
		return nil, err
	}
	if cp.StepIndex >= len(w.Steps()) {
		return &RunResult{
			RunID:        cp.RunID,
			Workflow:     cp.Workflow,
			Status:       RunCompleted,
			State:        cp.State,
			CheckpointID: cp.ID,
		}, nil
	}

	r.logger.Info("workflow run resumed",
		zap.String("run_id", cp.RunID),
		zap.String("workflow", cp.Workflow),
		zap.Int("step_index", cp.StepIndex))

	return r.runSteps(ctx, w, cp.RunID, cp.StepIndex, cp.State)
}

// History 返回一次运行的全部检查点，按时间顺序。
func (r *Runner) History(ctx context.Context, runID string) ([]*Checkpoint, error) {
	return r.checkpoints.ListByRun(ctx, runID)
}

// runSteps 从 from 节点开始顺序执行，每个节点完成后落检查点。
func (r *Runner) runSteps(ctx context.Context, w *Workflow, runID string, from int, state State) (*RunResult, error) {
	start := time.Now()
	steps := w.Steps()

	result := &RunResult{RunID: runID, Workflow: w.Name(), State: state}

	for i := from; i < len(steps); i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		step := steps[i]
		next, err := step.Execute(ctx, state)

		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		}
		r.publish(&events.WorkflowNodeFinishedEvent{
			RunID:      runID,
			Workflow:   w.Name(),
			Node:       step.Name(),
			Error:      errMsg,
			Timestamp_: time.Now(),
		})

		if err != nil {
			status := RunFailed
			if types.GetErrorCode(err) == types.ErrReviewRejected {
				status = RunRejected
			}
			// 保存节点执行前的状态，恢复时重新执行该节点
			cp := r.saveCheckpoint(ctx, runID, w.Name(), i, step.Name(), state, status)

			r.logger.Warn("workflow step failed",
				zap.String("run_id", runID),
				zap.String("node", step.Name()),
				zap.Error(err))
			r.recordRun(w.Name(), status, start)

			result.Status = status
			result.Error = errMsg
			if cp != nil {
				result.CheckpointID = cp.ID
			}
			return result, err
		}

		state = next
		status := RunRunning
		if i == len(steps)-1 {
			status = RunCompleted
		}
		if cp := r.saveCheckpoint(ctx, runID, w.Name(), i+1, step.Name(), state, status); cp != nil {
			result.CheckpointID = cp.ID
		}
	}

	r.logger.Info("workflow run completed",
		zap.String("run_id", runID),
		zap.String("workflow", w.Name()),
		zap.Duration("elapsed", time.Since(start)))
	r.recordRun(w.Name(), RunCompleted, start)

	result.Status = RunCompleted
	result.State = state
	return result, nil
}

// saveCheckpoint 落检查点，失败只记日志不中断运行。
func (r *Runner) saveCheckpoint(ctx context.Context, runID, workflow string, stepIndex int, stepName string, state State, status RunStatus) *Checkpoint {
	cp := &Checkpoint{
		ID:        uuid.NewString(),
		RunID:     runID,
		Workflow:  workflow,
		StepIndex: stepIndex,
		StepName:  stepName,
		State:     state.Clone(),
		Status:    status,
		CreatedAt: time.Now(),
	}

	if err := r.checkpoints.Save(ctx, cp); err != nil {
		r.logger.Error("failed to save checkpoint",
			zap.String("run_id", runID),
			zap.String("node", stepName),
			zap.Error(err))
		return nil
	}

	if r.metrics != nil {
		r.metrics.RecordCheckpointSaved(r.storeName)
	}
	return cp
}

func (r *Runner) recordRun(workflow string, status RunStatus, start time.Time) {
	if r.metrics != nil {
		r.metrics.RecordWorkflowRun(workflow, string(status), time.Since(start))
	}
}

func (r *Runner) publish(event events.Event) {
	if r.bus != nil {
		r.bus.Publish(event)
	}
}
