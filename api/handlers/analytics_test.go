package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/socialflow/internal/cache"
	"github.com/BaSui01/socialflow/types"
)

func TestAnalyticsHandler_RecordAndLatest(t *testing.T) {
	stores := newTestStores(t)
	h := NewAnalyticsHandler(stores.Analytics, nil, zap.NewNop())

	rec, _ := doJSON(t, h.HandleMetrics, http.MethodPost, "/api/v1/analytics/metrics", MetricSnapshotRequest{
		ContentID: "c1", Views: 100, Likes: 10,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, resp := doJSON(t, h.HandleMetrics, http.MethodGet, "/api/v1/analytics/metrics?content_id=c1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot types.MetricSnapshot
	decodeData(t, resp, &snapshot)
	assert.Equal(t, int64(100), snapshot.Views)
}

func TestAnalyticsHandler_RecordValidation(t *testing.T) {
	stores := newTestStores(t)
	h := NewAnalyticsHandler(stores.Analytics, nil, zap.NewNop())

	rec, resp := doJSON(t, h.HandleMetrics, http.MethodPost, "/api/v1/analytics/metrics", MetricSnapshotRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(types.ErrInvalidRequest), resp.Error.Code)
}

func TestAnalyticsHandler_Report(t *testing.T) {
	stores := newTestStores(t)
	h := NewAnalyticsHandler(stores.Analytics, nil, zap.NewNop())

	for _, req := range []MetricSnapshotRequest{
		{ContentID: "c1", Views: 300, Likes: 30},
		{ContentID: "c2", Views: 200, Likes: 20, Comments: 10},
	} {
		rec, _ := doJSON(t, h.HandleMetrics, http.MethodPost, "/api/v1/analytics/metrics", req)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec, resp := doJSON(t, h.HandleReport, http.MethodGet, "/api/v1/analytics/report", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report types.AnalyticsReport
	decodeData(t, resp, &report)
	assert.Equal(t, int64(500), report.TotalViews)
	assert.Equal(t, int64(50), report.TotalLikes)
	assert.Equal(t, int64(2), report.ContentCount)
}

func TestAnalyticsHandler_ReportCached(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cacheMgr := cache.NewManagerWithClient(client, cache.Config{DefaultTTL: time.Minute}, zap.NewNop())
	t.Cleanup(func() { cacheMgr.Close() })

	stores := newTestStores(t)
	h := NewAnalyticsHandler(stores.Analytics, cacheMgr, zap.NewNop())

	rec, _ := doJSON(t, h.HandleMetrics, http.MethodPost, "/api/v1/analytics/metrics", MetricSnapshotRequest{
		ContentID: "c1", Views: 100,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	start := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	end := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	target := "/api/v1/analytics/report?start=" + start + "&end=" + end

	rec, resp := doJSON(t, h.HandleReport, http.MethodGet, target, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report types.AnalyticsReport
	decodeData(t, resp, &report)
	require.Equal(t, int64(100), report.TotalViews)

	// 第二次命中缓存，落库的新快照不影响结果
	rec2, _ := doJSON(t, h.HandleMetrics, http.MethodPost, "/api/v1/analytics/metrics", MetricSnapshotRequest{
		ContentID: "c2", Views: 999,
	})
	require.Equal(t, http.StatusCreated, rec2.Code)

	rec, resp = doJSON(t, h.HandleReport, http.MethodGet, target, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, resp, &report)
	assert.Equal(t, int64(100), report.TotalViews)
}

func TestAnalyticsHandler_ReportBadRange(t *testing.T) {
	stores := newTestStores(t)
	h := NewAnalyticsHandler(stores.Analytics, nil, zap.NewNop())

	rec, resp := doJSON(t, h.HandleReport, http.MethodGet, "/api/v1/analytics/report?start=notatime", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(types.ErrInvalidRequest), resp.Error.Code)
}
