package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/BaSui01/socialflow/types"
)

// =============================================================================
// 💬 互动仓储
// =============================================================================

// InteractionStore 互动仓储
type InteractionStore struct {
	db *gorm.DB
}

// InteractionFilter 列表查询过滤条件
type InteractionFilter struct {
	ContentID string
	Kind      types.InteractionKind
	Unreplied bool
	Limit     int
	Offset    int
}

// Create 记录一条互动
func (s *InteractionStore) Create(ctx context.Context, interaction *types.Interaction) error {
	return s.db.WithContext(ctx).Create(interaction).Error
}

// Get 按 ID 获取互动
func (s *InteractionStore) Get(ctx context.Context, id string) (*types.Interaction, error) {
	var interaction types.Interaction
	err := s.db.WithContext(ctx).First(&interaction, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, types.ErrInteractionNotFound, id)
	}
	return &interaction, nil
}

// List 按条件列出互动，按时间倒序
func (s *InteractionStore) List(ctx context.Context, filter InteractionFilter) ([]types.Interaction, int64, error) {
	q := s.db.WithContext(ctx).Model(&types.Interaction{})

	if filter.ContentID != "" {
		q = q.Where("content_id = ?", filter.ContentID)
	}
	if filter.Kind != "" {
		q = q.Where("kind = ?", filter.Kind)
	}
	if filter.Unreplied {
		q = q.Where("reply = '' OR reply IS NULL")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	var interactions []types.Interaction
	err := q.Order("created_at DESC").Limit(filter.Limit).Offset(filter.Offset).Find(&interactions).Error
	if err != nil {
		return nil, 0, err
	}
	return interactions, total, nil
}

// SaveReply 保存回复内容与回复时间。
func (s *InteractionStore) SaveReply(ctx context.Context, id, reply string) error {
	now := time.Now()
	result := s.db.WithContext(ctx).Model(&types.Interaction{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"reply": reply, "replied_at": &now})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return notFound(gorm.ErrRecordNotFound, types.ErrInteractionNotFound, id)
	}
	return nil
}

// SetSentiment 保存情感分析结果。
func (s *InteractionStore) SetSentiment(ctx context.Context, id, sentiment string) error {
	result := s.db.WithContext(ctx).Model(&types.Interaction{}).
		Where("id = ?", id).
		Update("sentiment", sentiment)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return notFound(gorm.ErrRecordNotFound, types.ErrInteractionNotFound, id)
	}
	return nil
}
