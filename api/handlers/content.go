package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/socialflow/events"
	"github.com/BaSui01/socialflow/internal/store"
	"github.com/BaSui01/socialflow/types"
)

// =============================================================================
// 📝 内容管理 Handler
// =============================================================================

// ContentHandler 内容管理处理器
type ContentHandler struct {
	contents *store.ContentStore
	bus      events.EventBus
	logger   *zap.Logger
}

// NewContentHandler 创建内容处理器
func NewContentHandler(contents *store.ContentStore, bus events.EventBus, logger *zap.Logger) *ContentHandler {
	return &ContentHandler{
		contents: contents,
		bus:      bus,
		logger:   logger.With(zap.String("handler", "content")),
	}
}

// ContentCreateRequest 创建内容请求
type ContentCreateRequest struct {
	Title      string     `json:"title"`
	Body       string     `json:"body"`
	Tags       []string   `json:"tags,omitempty"`
	Platform   string     `json:"platform,omitempty"`
	ScheduleAt *time.Time `json:"schedule_at,omitempty"`
}

// ContentSearchRequest 内容搜索请求
type ContentSearchRequest struct {
	Query    string `json:"query,omitempty"`
	Status   string `json:"status,omitempty"`
	Platform string `json:"platform,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// ContentListResponse 内容列表响应
type ContentListResponse struct {
	Items []types.Content `json:"items"`
	Total int64           `json:"total"`
}

// ContentStatusRequest 状态流转请求
type ContentStatusRequest struct {
	Status types.ContentStatus `json:"status"`
}

// HandleContent 处理 /api/v1/content：POST 创建，GET 列表
func (h *ContentHandler) HandleContent(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodGet:
		h.list(w, r)
	default:
		MethodNotAllowed(w, h.logger)
	}
}

// HandleContentByID 处理 /api/v1/content/{id} 与 /api/v1/content/{id}/status
func (h *ContentHandler) HandleContentByID(w http.ResponseWriter, r *http.Request) {
	id, action := splitPath(r.URL.Path, "/api/v1/content/")
	if id == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "content ID is required", h.logger)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		h.get(w, r, id)
	case action == "" && r.Method == http.MethodDelete:
		h.delete(w, r, id)
	case action == "status" && r.Method == http.MethodPost:
		h.updateStatus(w, r, id)
	default:
		MethodNotAllowed(w, h.logger)
	}
}

// HandleSearch 处理 POST /api/v1/content/search
func (h *ContentHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, h.logger)
		return
	}

	var req ContentSearchRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	items, total, err := h.contents.List(r.Context(), store.ContentFilter{
		Status:   types.ContentStatus(req.Status),
		Platform: req.Platform,
		Keyword:  req.Query,
		Limit:    req.Limit,
		Offset:   req.Offset,
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	WriteSuccess(w, ContentListResponse{Items: items, Total: total})
}

func (h *ContentHandler) create(w http.ResponseWriter, r *http.Request) {
	var req ContentCreateRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Body) == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "title and body are required", h.logger)
		return
	}

	platform := req.Platform
	if platform == "" {
		platform = "xiaohongshu"
	}

	content := &types.Content{
		ID:         uuid.NewString(),
		Title:      req.Title,
		Body:       req.Body,
		Tags:       strings.Join(req.Tags, ","),
		Platform:   platform,
		Status:     types.ContentDraft,
		ScheduleAt: req.ScheduleAt,
	}
	if err := h.contents.Create(r.Context(), content); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	h.logger.Info("content created", zap.String("content_id", content.ID))
	WriteCreated(w, content)
}

func (h *ContentHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	content, err := h.contents.Get(r.Context(), id)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, content)
}

func (h *ContentHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, total, err := h.contents.List(r.Context(), store.ContentFilter{
		Status:   types.ContentStatus(q.Get("status")),
		Platform: q.Get("platform"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	WriteSuccess(w, ContentListResponse{Items: items, Total: total})
}

func (h *ContentHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.contents.Delete(r.Context(), id); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"id": id, "deleted": "true"})
}

func (h *ContentHandler) updateStatus(w http.ResponseWriter, r *http.Request, id string) {
	var req ContentStatusRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if err := h.contents.UpdateStatus(r.Context(), id, req.Status); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	content, err := h.contents.Get(r.Context(), id)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	if req.Status == types.ContentPublished && h.bus != nil {
		h.bus.Publish(&events.ContentPublishedEvent{
			ContentID:  content.ID,
			Title:      content.Title,
			Platform:   content.Platform,
			Timestamp_: time.Now(),
		})
	}

	WriteSuccess(w, content)
}

// splitPath 从路径中提取资源 ID 和尾随动作
func splitPath(path, prefix string) (id, action string) {
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.SplitN(rest, "/", 2)
	id = parts[0]
	if len(parts) == 2 {
		action = parts[1]
	}
	return id, action
}
