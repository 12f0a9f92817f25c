package events

import (
	"time"

	"github.com/BaSui01/socialflow/types"
)

// TaskStateChangedEvent 任务状态变更事件
type TaskStateChangedEvent struct {
	TaskID     string           `json:"task_id"`
	Kind       string           `json:"kind"`
	FromStatus types.TaskStatus `json:"from_status"`
	ToStatus   types.TaskStatus `json:"to_status"`
	Attempts   int              `json:"attempts"`
	Error      string           `json:"error,omitempty"`
	Timestamp_ time.Time        `json:"timestamp"`
}

func (e *TaskStateChangedEvent) Timestamp() time.Time { return e.Timestamp_ }
func (e *TaskStateChangedEvent) Type() EventType      { return EventTaskStateChanged }

// ContentPublishedEvent 内容发布事件
type ContentPublishedEvent struct {
	ContentID  string    `json:"content_id"`
	Title      string    `json:"title"`
	Platform   string    `json:"platform"`
	Timestamp_ time.Time `json:"timestamp"`
}

func (e *ContentPublishedEvent) Timestamp() time.Time { return e.Timestamp_ }
func (e *ContentPublishedEvent) Type() EventType      { return EventContentPublished }

// InteractionReceivedEvent 收到新互动事件
type InteractionReceivedEvent struct {
	InteractionID string                `json:"interaction_id"`
	ContentID     string                `json:"content_id"`
	Kind          types.InteractionKind `json:"kind"`
	Author        string                `json:"author,omitempty"`
	Timestamp_    time.Time             `json:"timestamp"`
}

func (e *InteractionReceivedEvent) Timestamp() time.Time { return e.Timestamp_ }
func (e *InteractionReceivedEvent) Type() EventType      { return EventInteractionReceived }

// HotTopicsUpdatedEvent 热点榜单刷新事件
type HotTopicsUpdatedEvent struct {
	Topics     []string  `json:"topics"`
	Timestamp_ time.Time `json:"timestamp"`
}

func (e *HotTopicsUpdatedEvent) Timestamp() time.Time { return e.Timestamp_ }
func (e *HotTopicsUpdatedEvent) Type() EventType      { return EventHotTopicsUpdated }

// WorkflowNodeFinishedEvent 工作流节点完成事件
type WorkflowNodeFinishedEvent struct {
	RunID      string    `json:"run_id"`
	Workflow   string    `json:"workflow"`
	Node       string    `json:"node"`
	Error      string    `json:"error,omitempty"`
	Timestamp_ time.Time `json:"timestamp"`
}

func (e *WorkflowNodeFinishedEvent) Timestamp() time.Time { return e.Timestamp_ }
func (e *WorkflowNodeFinishedEvent) Type() EventType      { return EventWorkflowNodeFinished }

// ReviewRequestedEvent 人工审核请求事件
type ReviewRequestedEvent struct {
	InterruptID string    `json:"interrupt_id"`
	RunID       string    `json:"run_id"`
	Workflow    string    `json:"workflow"`
	Summary     string    `json:"summary,omitempty"`
	Timestamp_  time.Time `json:"timestamp"`
}

func (e *ReviewRequestedEvent) Timestamp() time.Time { return e.Timestamp_ }
func (e *ReviewRequestedEvent) Type() EventType      { return EventReviewRequested }

// ReviewRespondedEvent 人工审核响应事件
type ReviewRespondedEvent struct {
	InterruptID string    `json:"interrupt_id"`
	RunID       string    `json:"run_id"`
	Approved    bool      `json:"approved"`
	Reason      string    `json:"reason,omitempty"`
	Timestamp_  time.Time `json:"timestamp"`
}

func (e *ReviewRespondedEvent) Timestamp() time.Time { return e.Timestamp_ }
func (e *ReviewRespondedEvent) Type() EventType      { return EventReviewResponded }
