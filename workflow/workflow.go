// =============================================================================
// 🔗 SocialFlow 内容生产工作流
// =============================================================================
// 工作流是预定义的步骤序列：每个步骤读写共享 State，前一步的产出是
// 后一步的输入。支持节点级检查点与人工审核中断。
// =============================================================================
package workflow

import "context"

// State 工作流运行中的共享状态。
type State map[string]any

// 运行器注入的保留键。
const (
	StateKeyRunID    = "run_id"
	StateKeyWorkflow = "workflow"
)

// Clone 返回状态的浅拷贝，步骤修改拷贝不影响已保存的检查点。
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// GetString 读取字符串值，键不存在或类型不符时返回空串。
func (s State) GetString(key string) string {
	v, _ := s[key].(string)
	return v
}

// Step 工作流步骤接口
type Step interface {
	// Name 返回步骤名称
	Name() string
	// Execute 执行步骤，返回更新后的状态
	Execute(ctx context.Context, state State) (State, error)
}

// StepFunc 步骤函数类型
type StepFunc func(ctx context.Context, state State) (State, error)

// FuncStep 函数步骤实现
type FuncStep struct {
	name string
	fn   StepFunc
}

// NewStep 创建函数步骤
func NewStep(name string, fn StepFunc) *FuncStep {
	return &FuncStep{name: name, fn: fn}
}

func (s *FuncStep) Name() string { return s.name }

func (s *FuncStep) Execute(ctx context.Context, state State) (State, error) {
	return s.fn(ctx, state)
}

// ConditionStep 条件分支步骤：按谓词在两条支路中二选一执行。
// ifFalse 为 nil 时谓词不成立则直接透传状态。
type ConditionStep struct {
	name      string
	predicate func(State) bool
	ifTrue    Step
	ifFalse   Step
}

// NewConditionStep 创建条件分支步骤
func NewConditionStep(name string, predicate func(State) bool, ifTrue, ifFalse Step) *ConditionStep {
	return &ConditionStep{name: name, predicate: predicate, ifTrue: ifTrue, ifFalse: ifFalse}
}

func (s *ConditionStep) Name() string { return s.name }

func (s *ConditionStep) Execute(ctx context.Context, state State) (State, error) {
	if s.predicate(state) {
		return s.ifTrue.Execute(ctx, state)
	}
	if s.ifFalse == nil {
		return state, nil
	}
	return s.ifFalse.Execute(ctx, state)
}

// Workflow 预定义的步骤序列
type Workflow struct {
	name        string
	description string
	steps       []Step
}

// NewWorkflow 创建工作流
func NewWorkflow(name, description string, steps ...Step) *Workflow {
	return &Workflow{name: name, description: description, steps: steps}
}

// Name 返回工作流名称
func (w *Workflow) Name() string { return w.name }

// Description 返回工作流描述
func (w *Workflow) Description() string { return w.description }

// AddStep 添加步骤
func (w *Workflow) AddStep(step Step) {
	w.steps = append(w.steps, step)
}

// Steps 返回所有步骤
func (w *Workflow) Steps() []Step { return w.steps }
