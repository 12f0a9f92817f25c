package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/BaSui01/socialflow/types"
)

// =============================================================================
// ⏰ 任务仓储
// =============================================================================

// TaskStore 任务仓储，调度器崩溃后依赖它恢复未完成任务。
type TaskStore struct {
	db *gorm.DB
}

// Create 持久化新任务
func (s *TaskStore) Create(ctx context.Context, task *types.Task) error {
	if task.Status == "" {
		task.Status = types.TaskPending
	}
	if task.NextRunAt.IsZero() {
		task.NextRunAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(task).Error
}

// Get 按 ID 获取任务
func (s *TaskStore) Get(ctx context.Context, id string) (*types.Task, error) {
	var task types.Task
	err := s.db.WithContext(ctx).First(&task, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, types.ErrTaskNotFound, id)
	}
	return &task, nil
}

// Update 保存任务全部字段
func (s *TaskStore) Update(ctx context.Context, task *types.Task) error {
	return s.db.WithContext(ctx).Save(task).Error
}

// MarkStatus 更新任务状态与最近错误。
func (s *TaskStore) MarkStatus(ctx context.Context, id string, status types.TaskStatus, lastError string) error {
	result := s.db.WithContext(ctx).Model(&types.Task{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "last_error": lastError})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return notFound(gorm.ErrRecordNotFound, types.ErrTaskNotFound, id)
	}
	return nil
}

// Reschedule 将任务置为重试状态并设定下次执行时间。
func (s *TaskStore) Reschedule(ctx context.Context, id string, attempts int, nextRunAt time.Time, lastError string) error {
	result := s.db.WithContext(ctx).Model(&types.Task{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      types.TaskRetrying,
			"attempts":    attempts,
			"next_run_at": nextRunAt,
			"last_error":  lastError,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return notFound(gorm.ErrRecordNotFound, types.ErrTaskNotFound, id)
	}
	return nil
}

// Due 返回到期且未终结的任务，按优先级降序、到期时间升序。
func (s *TaskStore) Due(ctx context.Context, now time.Time, limit int) ([]types.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	var tasks []types.Task
	err := s.db.WithContext(ctx).
		Where("status IN ? AND next_run_at <= ?", []types.TaskStatus{types.TaskPending, types.TaskRetrying}, now).
		Order("priority DESC, next_run_at ASC").
		Limit(limit).
		Find(&tasks).Error
	return tasks, err
}

// ListByStatus 按状态列出任务。
func (s *TaskStore) ListByStatus(ctx context.Context, status types.TaskStatus, limit, offset int) ([]types.Task, int64, error) {
	q := s.db.WithContext(ctx).Model(&types.Task{})
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 20
	}

	var tasks []types.Task
	err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&tasks).Error
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

// RecoverRunning 将崩溃时残留的 running 任务重置为 pending，启动时调用。
func (s *TaskStore) RecoverRunning(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Model(&types.Task{}).
		Where("status = ?", types.TaskRunning).
		Updates(map[string]interface{}{"status": types.TaskPending})
	return result.RowsAffected, result.Error
}
