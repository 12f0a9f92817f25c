package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/socialflow/types"
	"github.com/BaSui01/socialflow/workflow"
)

// =============================================================================
// 🔗 工作流 Handler
// =============================================================================

// WorkflowHandler 工作流处理器
type WorkflowHandler struct {
	runner  *workflow.Runner
	reviews *workflow.ReviewManager
	logger  *zap.Logger
}

// NewWorkflowHandler 创建工作流处理器
func NewWorkflowHandler(runner *workflow.Runner, reviews *workflow.ReviewManager, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{
		runner:  runner,
		reviews: reviews,
		logger:  logger.With(zap.String("handler", "workflow")),
	}
}

// WorkflowRunRequest 启动工作流请求
type WorkflowRunRequest struct {
	WorkflowID   string         `json:"workflow_id"`
	InitialState map[string]any `json:"initial_state,omitempty"`
}

// WorkflowRunResponse 启动工作流响应
type WorkflowRunResponse struct {
	RunID    string `json:"run_id"`
	Workflow string `json:"workflow"`
	Status   string `json:"status"`
}

// WorkflowResumeRequest 恢复运行或裁决审核的请求。
// 给 checkpoint_id 时从检查点恢复；给 interrupt_id 时裁决挂起的审核。
type WorkflowResumeRequest struct {
	CheckpointID string `json:"checkpoint_id,omitempty"`
	InterruptID  string `json:"interrupt_id,omitempty"`
	Approved     bool   `json:"approved,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Reviewer     string `json:"reviewer,omitempty"`
}

// HandleRun 处理 POST /api/v1/workflow/run：异步启动，立即返回 run_id。
func (h *WorkflowHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, h.logger)
		return
	}

	var req WorkflowRunRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.WorkflowID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "workflow_id is required", h.logger)
		return
	}

	runID, err := h.runner.StartRun(r.Context(), req.WorkflowID, workflow.State(req.InitialState))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	h.logger.Info("workflow run accepted",
		zap.String("run_id", runID),
		zap.String("workflow", req.WorkflowID))

	WriteJSON(w, http.StatusAccepted, Response{
		Success: true,
		Data: WorkflowRunResponse{
			RunID:    runID,
			Workflow: req.WorkflowID,
			Status:   string(workflow.RunRunning),
		},
		Timestamp: time.Now(),
	})
}

// HandleResume 处理 POST /api/v1/workflow/resume
func (h *WorkflowHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, h.logger)
		return
	}

	var req WorkflowResumeRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	switch {
	case req.InterruptID != "":
		h.resolveInterrupt(w, &req)
	case req.CheckpointID != "":
		h.resumeCheckpoint(w, r, &req)
	default:
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"checkpoint_id or interrupt_id is required", h.logger)
	}
}

// HandleInterrupts 处理 GET /api/v1/workflow/interrupts
func (h *WorkflowHandler) HandleInterrupts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, h.logger)
		return
	}
	WriteSuccess(w, h.reviews.Pending())
}

// HandleCheckpoints 处理 GET /api/v1/workflow/checkpoints?run_id=
func (h *WorkflowHandler) HandleCheckpoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, h.logger)
		return
	}

	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "run_id is required", h.logger)
		return
	}

	history, err := h.runner.History(r.Context(), runID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, history)
}

// HandleList 处理 GET /api/v1/workflow：已注册的工作流名称
func (h *WorkflowHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, h.logger)
		return
	}
	WriteSuccess(w, h.runner.List())
}

func (h *WorkflowHandler) resolveInterrupt(w http.ResponseWriter, req *WorkflowResumeRequest) {
	err := h.reviews.Resolve(req.InterruptID, &workflow.Decision{
		Approved: req.Approved,
		Reason:   req.Reason,
		Reviewer: req.Reviewer,
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	WriteSuccess(w, map[string]any{
		"interrupt_id": req.InterruptID,
		"approved":     req.Approved,
	})
}

func (h *WorkflowHandler) resumeCheckpoint(w http.ResponseWriter, r *http.Request, req *WorkflowResumeRequest) {
	cp, err := h.runner.Checkpoint(r.Context(), req.CheckpointID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	// 恢复可能再次阻塞在审核节点上，异步执行
	go func() {
		if _, err := h.runner.Resume(context.WithoutCancel(r.Context()), req.CheckpointID); err != nil {
			h.logger.Warn("resumed run ended with error",
				zap.String("run_id", cp.RunID), zap.Error(err))
		}
	}()

	WriteJSON(w, http.StatusAccepted, Response{
		Success: true,
		Data: WorkflowRunResponse{
			RunID:    cp.RunID,
			Workflow: cp.Workflow,
			Status:   string(workflow.RunRunning),
		},
		Timestamp: time.Now(),
	})
}
