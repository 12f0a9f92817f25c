package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/BaSui01/socialflow/types"
)

// =============================================================================
// 📊 数据分析仓储
// =============================================================================

// AnalyticsStore 指标快照仓储
type AnalyticsStore struct {
	db *gorm.DB
}

// RecordSnapshot 记录一次指标采集。
func (s *AnalyticsStore) RecordSnapshot(ctx context.Context, snapshot *types.MetricSnapshot) error {
	if snapshot.CollectedAt.IsZero() {
		snapshot.CollectedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(snapshot).Error
}

// LatestSnapshot 返回内容最近一次的指标快照。
func (s *AnalyticsStore) LatestSnapshot(ctx context.Context, contentID string) (*types.MetricSnapshot, error) {
	var snapshot types.MetricSnapshot
	err := s.db.WithContext(ctx).
		Where("content_id = ?", contentID).
		Order("collected_at DESC").
		First(&snapshot).Error
	if err != nil {
		return nil, notFound(err, types.ErrContentNotFound, contentID)
	}
	return &snapshot, nil
}

// Snapshots 返回内容在时间范围内的全部快照，按时间升序。
func (s *AnalyticsStore) Snapshots(ctx context.Context, contentID string, start, end time.Time) ([]types.MetricSnapshot, error) {
	var snapshots []types.MetricSnapshot
	err := s.db.WithContext(ctx).
		Where("content_id = ? AND collected_at BETWEEN ? AND ?", contentID, start, end).
		Order("collected_at ASC").
		Find(&snapshots).Error
	return snapshots, err
}

// reportRow 聚合查询的扫描目标
type reportRow struct {
	TotalViews     int64
	TotalLikes     int64
	TotalComments  int64
	TotalFavorites int64
	TotalShares    int64
	ContentCount   int64
}

// Report 聚合时间范围内每个内容的最新快照，生成运营报告。
// 互动率 = (赞+评+藏+转) / 浏览量。
func (s *AnalyticsStore) Report(ctx context.Context, start, end time.Time) (*types.AnalyticsReport, error) {
	// 每个内容取时间范围内最后一次快照，避免重复累计
	sub := s.db.WithContext(ctx).Model(&types.MetricSnapshot{}).
		Select("content_id, MAX(collected_at) AS collected_at").
		Where("collected_at BETWEEN ? AND ?", start, end).
		Group("content_id")

	var row reportRow
	err := s.db.WithContext(ctx).Model(&types.MetricSnapshot{}).
		Select(`COALESCE(SUM(metric_snapshots.views), 0) AS total_views,
			COALESCE(SUM(metric_snapshots.likes), 0) AS total_likes,
			COALESCE(SUM(metric_snapshots.comments), 0) AS total_comments,
			COALESCE(SUM(metric_snapshots.favorites), 0) AS total_favorites,
			COALESCE(SUM(metric_snapshots.shares), 0) AS total_shares,
			COUNT(*) AS content_count`).
		Joins("JOIN (?) latest ON latest.content_id = metric_snapshots.content_id AND latest.collected_at = metric_snapshots.collected_at", sub).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}

	report := &types.AnalyticsReport{
		StartDate:      start,
		EndDate:        end,
		TotalViews:     row.TotalViews,
		TotalLikes:     row.TotalLikes,
		TotalComments:  row.TotalComments,
		TotalFavorites: row.TotalFavorites,
		TotalShares:    row.TotalShares,
		ContentCount:   row.ContentCount,
	}
	if report.TotalViews > 0 {
		engagements := report.TotalLikes + report.TotalComments + report.TotalFavorites + report.TotalShares
		report.EngagementRate = float64(engagements) / float64(report.TotalViews)
	}
	return report, nil
}
