package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/socialflow/internal/store"
	"github.com/BaSui01/socialflow/state"
	"github.com/BaSui01/socialflow/types"
)

// =============================================================================
// ⏰ 任务调度 Handler
// =============================================================================

// TaskScheduler 任务提交与取消接口
type TaskScheduler interface {
	Submit(ctx context.Context, task *types.Task) error
	Cancel(ctx context.Context, taskID string) error
}

// TaskHandler 任务管理处理器
type TaskHandler struct {
	scheduler TaskScheduler
	tasks     *store.TaskStore
	states    *state.Manager
	logger    *zap.Logger
}

// NewTaskHandler 创建任务处理器
func NewTaskHandler(scheduler TaskScheduler, tasks *store.TaskStore, states *state.Manager, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		scheduler: scheduler,
		tasks:     tasks,
		states:    states,
		logger:    logger.With(zap.String("handler", "task")),
	}
}

// TaskCreateRequest 提交任务请求
type TaskCreateRequest struct {
	Kind       string          `json:"kind"`
	Priority   int             `json:"priority,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	RunAt      *time.Time      `json:"run_at,omitempty"`
	MaxRetries *int            `json:"max_retries,omitempty"`
}

// TaskListResponse 任务列表响应
type TaskListResponse struct {
	Items []types.Task `json:"items"`
	Total int64        `json:"total"`
}

// HandleTasks 处理 /api/v1/tasks：POST 提交，GET 列表
func (h *TaskHandler) HandleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodGet:
		h.list(w, r)
	default:
		MethodNotAllowed(w, h.logger)
	}
}

// HandleTaskByID 处理 /api/v1/tasks/{id}、/{id}/cancel 与 /{id}/state
func (h *TaskHandler) HandleTaskByID(w http.ResponseWriter, r *http.Request) {
	id, action := splitPath(r.URL.Path, "/api/v1/tasks/")
	if id == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "task ID is required", h.logger)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		h.get(w, r, id)
	case action == "cancel" && r.Method == http.MethodPost:
		h.cancel(w, r, id)
	case action == "state" && r.Method == http.MethodGet:
		h.state(w, r, id)
	default:
		MethodNotAllowed(w, h.logger)
	}
}

func (h *TaskHandler) create(w http.ResponseWriter, r *http.Request) {
	var req TaskCreateRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Kind == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "kind is required", h.logger)
		return
	}

	task := &types.Task{
		ID:       uuid.NewString(),
		Kind:     req.Kind,
		Priority: req.Priority,
		Payload:  req.Payload,
	}
	if req.RunAt != nil {
		task.NextRunAt = *req.RunAt
	}
	if req.MaxRetries != nil {
		task.MaxRetries = *req.MaxRetries
	}

	if err := h.scheduler.Submit(r.Context(), task); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	h.logger.Info("task submitted",
		zap.String("task_id", task.ID),
		zap.String("kind", task.Kind))
	WriteCreated(w, task)
}

func (h *TaskHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	task, err := h.tasks.Get(r.Context(), id)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, task)
}

func (h *TaskHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, total, err := h.tasks.ListByStatus(r.Context(), types.TaskStatus(q.Get("status")), limit, offset)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, TaskListResponse{Items: items, Total: total})
}

// TaskStateResponse 任务状态快照响应
type TaskStateResponse struct {
	TaskID    string            `json:"task_id"`
	Snapshots []*state.Snapshot `json:"snapshots"`
}

// state 返回任务的状态快照历史；带 version 参数时返回单个历史版本。
func (h *TaskHandler) state(w http.ResponseWriter, r *http.Request, id string) {
	if h.states == nil {
		WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrServiceUnavailable, "state tracking is not enabled", h.logger)
		return
	}

	threadID := "task:" + id
	if raw := r.URL.Query().Get("version"); raw != "" {
		version, err := strconv.Atoi(raw)
		if err != nil || version < 1 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "version must be a positive integer", h.logger)
			return
		}
		snapshot, err := h.states.GetVersion(r.Context(), threadID, version)
		if err != nil {
			WriteError(w, err, h.logger)
			return
		}
		WriteSuccess(w, TaskStateResponse{TaskID: id, Snapshots: []*state.Snapshot{snapshot}})
		return
	}

	snapshots, err := h.states.History(r.Context(), threadID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, TaskStateResponse{TaskID: id, Snapshots: snapshots})
}

func (h *TaskHandler) cancel(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.scheduler.Cancel(r.Context(), id); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	task, err := h.tasks.Get(r.Context(), id)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, task)
}
