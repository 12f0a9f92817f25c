package handlers

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/socialflow/internal/cache"
	"github.com/BaSui01/socialflow/internal/store"
	"github.com/BaSui01/socialflow/types"
)

// 报表缓存 TTL
const reportCacheTTL = 5 * time.Minute

// =============================================================================
// 📈 数据分析 Handler
// =============================================================================

// AnalyticsHandler 数据分析处理器
type AnalyticsHandler struct {
	analytics *store.AnalyticsStore
	cache     *cache.Manager // 可为 nil，报表缓存降级为直查
	logger    *zap.Logger
}

// NewAnalyticsHandler 创建分析处理器
func NewAnalyticsHandler(analytics *store.AnalyticsStore, cacheMgr *cache.Manager, logger *zap.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		analytics: analytics,
		cache:     cacheMgr,
		logger:    logger.With(zap.String("handler", "analytics")),
	}
}

// MetricSnapshotRequest 指标快照上报请求
type MetricSnapshotRequest struct {
	ContentID string `json:"content_id"`
	Views     int64  `json:"views"`
	Likes     int64  `json:"likes"`
	Comments  int64  `json:"comments"`
	Favorites int64  `json:"favorites"`
	Shares    int64  `json:"shares"`
}

// HandleMetrics 处理 /api/v1/analytics/metrics：
// POST 上报快照，GET ?content_id= 查询最近快照。
func (h *AnalyticsHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.record(w, r)
	case http.MethodGet:
		h.latest(w, r)
	default:
		MethodNotAllowed(w, h.logger)
	}
}

// HandleReport 处理 GET /api/v1/analytics/report?start=&end=
func (h *AnalyticsHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, h.logger)
		return
	}

	start, end, err := parseRange(r)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	cacheKey := fmt.Sprintf("socialflow:report:%d:%d", start.Unix(), end.Unix())
	if h.cache != nil {
		var cached types.AnalyticsReport
		if err := h.cache.GetJSON(r.Context(), cacheKey, &cached); err == nil {
			WriteSuccess(w, &cached)
			return
		}
	}

	report, err := h.analytics.Report(r.Context(), start, end)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	if h.cache != nil {
		if err := h.cache.SetJSON(r.Context(), cacheKey, report, reportCacheTTL); err != nil {
			h.logger.Warn("failed to cache report", zap.Error(err))
		}
	}

	WriteSuccess(w, report)
}

func (h *AnalyticsHandler) record(w http.ResponseWriter, r *http.Request) {
	var req MetricSnapshotRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.ContentID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "content_id is required", h.logger)
		return
	}

	snapshot := &types.MetricSnapshot{
		ContentID: req.ContentID,
		Views:     req.Views,
		Likes:     req.Likes,
		Comments:  req.Comments,
		Favorites: req.Favorites,
		Shares:    req.Shares,
	}
	if err := h.analytics.RecordSnapshot(r.Context(), snapshot); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	WriteCreated(w, snapshot)
}

func (h *AnalyticsHandler) latest(w http.ResponseWriter, r *http.Request) {
	contentID := r.URL.Query().Get("content_id")
	if contentID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "content_id is required", h.logger)
		return
	}

	snapshot, err := h.analytics.LatestSnapshot(r.Context(), contentID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, snapshot)
}

// parseRange 解析报表时间范围，缺省为最近 7 天。
func parseRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	end := time.Now()
	start := end.AddDate(0, 0, -7)

	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, types.NewError(types.ErrInvalidRequest,
				"start must be RFC3339").WithCause(err).WithHTTPStatus(http.StatusBadRequest)
		}
		start = t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, types.NewError(types.ErrInvalidRequest,
				"end must be RFC3339").WithCause(err).WithHTTPStatus(http.StatusBadRequest)
		}
		end = t
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, types.NewError(types.ErrInvalidRequest,
			"end must be after start").WithHTTPStatus(http.StatusBadRequest)
	}
	return start, end, nil
}
