package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/socialflow/engine"
	"github.com/BaSui01/socialflow/events"
	"github.com/BaSui01/socialflow/internal/store"
	"github.com/BaSui01/socialflow/strategy"
	"github.com/BaSui01/socialflow/types"
)

// =============================================================================
// 💬 互动管理 Handler
// =============================================================================

// InteractionHandler 互动管理处理器
type InteractionHandler struct {
	interactions *store.InteractionStore
	contents     *store.ContentStore
	engine       *engine.Engine
	strategy     *strategy.Manager
	bus          events.EventBus
	logger       *zap.Logger
}

// NewInteractionHandler 创建互动处理器。strat 可为 nil，此时不喂热点信号。
func NewInteractionHandler(interactions *store.InteractionStore, contents *store.ContentStore, eng *engine.Engine, strat *strategy.Manager, bus events.EventBus, logger *zap.Logger) *InteractionHandler {
	return &InteractionHandler{
		interactions: interactions,
		contents:     contents,
		engine:       eng,
		strategy:     strat,
		bus:          bus,
		logger:       logger.With(zap.String("handler", "interaction")),
	}
}

// InteractionCreateRequest 录入互动请求
type InteractionCreateRequest struct {
	ContentID string                `json:"content_id"`
	Kind      types.InteractionKind `json:"kind"`
	Author    string                `json:"author,omitempty"`
	Message   string                `json:"message,omitempty"`
}

// InteractionListResponse 互动列表响应
type InteractionListResponse struct {
	Items []types.Interaction `json:"items"`
	Total int64               `json:"total"`
}

// ReplyResponse AI 回复响应
type ReplyResponse struct {
	InteractionID string `json:"interaction_id"`
	Reply         string `json:"reply"`
}

// HandleInteractions 处理 /api/v1/interaction：POST 录入，GET 列表
func (h *InteractionHandler) HandleInteractions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodGet:
		h.list(w, r)
	default:
		MethodNotAllowed(w, h.logger)
	}
}

// HandleInteractionByID 处理 /api/v1/interaction/{id} 与 /api/v1/interaction/{id}/reply
func (h *InteractionHandler) HandleInteractionByID(w http.ResponseWriter, r *http.Request) {
	id, action := splitPath(r.URL.Path, "/api/v1/interaction/")
	if id == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "interaction ID is required", h.logger)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		h.get(w, r, id)
	case action == "reply" && r.Method == http.MethodPost:
		h.reply(w, r, id)
	default:
		MethodNotAllowed(w, h.logger)
	}
}

func (h *InteractionHandler) create(w http.ResponseWriter, r *http.Request) {
	var req InteractionCreateRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.ContentID == "" || req.Kind == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "content_id and kind are required", h.logger)
		return
	}

	// 关联内容必须存在
	content, err := h.contents.Get(r.Context(), req.ContentID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	interaction := &types.Interaction{
		ID:        uuid.NewString(),
		ContentID: req.ContentID,
		Kind:      req.Kind,
		Author:    req.Author,
		Message:   req.Message,
	}

	// 带文字的互动顺手做一次情感标注，失败不阻塞录入
	if strings.TrimSpace(req.Message) != "" && h.engine != nil {
		if result, err := h.engine.AnalyzeSentiment(r.Context(), req.Message); err == nil {
			interaction.Sentiment = result.Sentiment
		} else {
			h.logger.Warn("sentiment analysis failed", zap.Error(err))
		}
	}

	if err := h.interactions.Create(r.Context(), interaction); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	// 互动即热度：按内容标签喂热点信号，失败只记日志
	if h.strategy != nil {
		weight := topicSignalWeight(interaction.Kind)
		for _, tag := range strings.Split(content.Tags, ",") {
			tag = strings.TrimSpace(tag)
			if tag == "" {
				continue
			}
			if err := h.strategy.RecordTopicSignal(r.Context(), tag, weight); err != nil {
				h.logger.Warn("topic signal failed", zap.String("topic", tag), zap.Error(err))
			}
		}
	}

	if h.bus != nil {
		h.bus.Publish(&events.InteractionReceivedEvent{
			InteractionID: interaction.ID,
			ContentID:     interaction.ContentID,
			Kind:          interaction.Kind,
			Author:        interaction.Author,
			Timestamp_:    time.Now(),
		})
	}

	WriteCreated(w, interaction)
}

// topicSignalWeight 互动类型到热度权重：评论 > 收藏 > 点赞
func topicSignalWeight(kind types.InteractionKind) float64 {
	switch kind {
	case types.InteractionComment:
		return 3
	case types.InteractionFavorite:
		return 2
	default:
		return 1
	}
}

func (h *InteractionHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	interaction, err := h.interactions.Get(r.Context(), id)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, interaction)
}

func (h *InteractionHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, total, err := h.interactions.List(r.Context(), store.InteractionFilter{
		ContentID: q.Get("content_id"),
		Kind:      types.InteractionKind(q.Get("kind")),
		Unreplied: q.Get("unreplied") == "true",
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	WriteSuccess(w, InteractionListResponse{Items: items, Total: total})
}

// reply 用 AI 起草回复并落库
func (h *InteractionHandler) reply(w http.ResponseWriter, r *http.Request, id string) {
	interaction, err := h.interactions.Get(r.Context(), id)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	content, err := h.contents.Get(r.Context(), interaction.ContentID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	reply, err := h.engine.GenerateReply(r.Context(), interaction, content)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	if err := h.interactions.SaveReply(r.Context(), id, reply); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	h.logger.Info("reply drafted", zap.String("interaction_id", id))
	WriteSuccess(w, ReplyResponse{InteractionID: id, Reply: reply})
}
