package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/BaSui01/socialflow/types"
)

// =============================================================================
// 📝 内容仓储
// =============================================================================

// ContentStore 内容仓储
type ContentStore struct {
	db *gorm.DB
}

// ContentFilter 列表查询过滤条件
type ContentFilter struct {
	Status   types.ContentStatus
	Platform string
	Keyword  string
	Limit    int
	Offset   int
}

// Create 创建内容
func (s *ContentStore) Create(ctx context.Context, content *types.Content) error {
	if content.Status == "" {
		content.Status = types.ContentDraft
	}
	return s.db.WithContext(ctx).Create(content).Error
}

// Get 按 ID 获取内容
func (s *ContentStore) Get(ctx context.Context, id string) (*types.Content, error) {
	var content types.Content
	err := s.db.WithContext(ctx).First(&content, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, types.ErrContentNotFound, id)
	}
	return &content, nil
}

// List 按条件列出内容，按创建时间倒序
func (s *ContentStore) List(ctx context.Context, filter ContentFilter) ([]types.Content, int64, error) {
	q := s.db.WithContext(ctx).Model(&types.Content{})

	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Platform != "" {
		q = q.Where("platform = ?", filter.Platform)
	}
	if filter.Keyword != "" {
		pattern := "%" + filter.Keyword + "%"
		q = q.Where("title LIKE ? OR body LIKE ? OR tags LIKE ?", pattern, pattern, pattern)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	var contents []types.Content
	err := q.Order("created_at DESC").Limit(filter.Limit).Offset(filter.Offset).Find(&contents).Error
	if err != nil {
		return nil, 0, err
	}
	return contents, total, nil
}

// Update 更新内容字段
func (s *ContentStore) Update(ctx context.Context, content *types.Content) error {
	return s.db.WithContext(ctx).Save(content).Error
}

// UpdateStatus 更新内容状态，仅允许合法的状态迁移。
func (s *ContentStore) UpdateStatus(ctx context.Context, id string, to types.ContentStatus) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var content types.Content
		if err := tx.First(&content, "id = ?", id).Error; err != nil {
			return notFound(err, types.ErrContentNotFound, id)
		}

		if !content.Status.CanTransition(to) {
			return &types.Error{
				Code:       types.ErrInvalidTransition,
				Message:    fmt.Sprintf("cannot transition content %s from %s to %s", id, content.Status, to),
				HTTPStatus: 409,
			}
		}

		updates := map[string]interface{}{"status": to}
		if to == types.ContentPublished {
			now := time.Now()
			updates["published_at"] = &now
		}
		return tx.Model(&content).Updates(updates).Error
	})
}

// Delete 删除内容
func (s *ContentStore) Delete(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&types.Content{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return notFound(gorm.ErrRecordNotFound, types.ErrContentNotFound, id)
	}
	return nil
}

// DueScheduled 返回计划发布时间已到且状态为 scheduled 的内容。
func (s *ContentStore) DueScheduled(ctx context.Context, now time.Time, limit int) ([]types.Content, error) {
	if limit <= 0 {
		limit = 50
	}
	var contents []types.Content
	err := s.db.WithContext(ctx).
		Where("status = ? AND schedule_at IS NOT NULL AND schedule_at <= ?", types.ContentScheduled, now).
		Order("schedule_at ASC").
		Limit(limit).
		Find(&contents).Error
	return contents, err
}
