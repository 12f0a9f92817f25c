package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/socialflow/engine"
	"github.com/BaSui01/socialflow/events"
	"github.com/BaSui01/socialflow/internal/store"
	"github.com/BaSui01/socialflow/types"
	"github.com/BaSui01/socialflow/workflow"
)

// =============================================================================
// ⚙️ 调度器任务处理器
// =============================================================================

// 任务类型常量，与 API / 工作流提交的 kind 对应
const (
	TaskPublishContent    = "publish_content"
	TaskGenerateContent   = "generate_content"
	TaskReplyInteractions = "reply_interactions"
	TaskCollectMetrics    = "collect_metrics"
)

// contentPayload 引用单篇内容的任务载荷
type contentPayload struct {
	ContentID string `json:"content_id"`
}

// registerTaskHandlers 把所有任务类型挂到调度器上
func (s *Server) registerTaskHandlers() {
	s.scheduler.RegisterHandler(TaskPublishContent, s.handlePublishContent)
	s.scheduler.RegisterHandler(TaskGenerateContent, s.handleGenerateContent)
	s.scheduler.RegisterHandler(TaskReplyInteractions, s.handleReplyInteractions)
	s.scheduler.RegisterHandler(TaskCollectMetrics, s.handleCollectMetrics)
}

// handlePublishContent 把已排期的内容置为已发布并广播事件。
// 平台侧的实际发布不在本服务范围内，这里记录发布动作本身。
func (s *Server) handlePublishContent(ctx context.Context, task *types.Task) error {
	var payload contentPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("invalid publish payload: %w", err)
	}
	if payload.ContentID == "" {
		return fmt.Errorf("publish payload missing content_id")
	}

	content, err := s.stores.Contents.Get(ctx, payload.ContentID)
	if err != nil {
		return err
	}
	if content.Status == types.ContentPublished {
		return nil // 重复投递
	}

	if err := s.stores.Contents.UpdateStatus(ctx, content.ID, types.ContentPublished); err != nil {
		return err
	}

	s.bus.Publish(&events.ContentPublishedEvent{
		ContentID:  content.ID,
		Title:      content.Title,
		Platform:   content.Platform,
		Timestamp_: time.Now(),
	})

	s.logger.Info("content published",
		zap.String("content_id", content.ID),
		zap.String("title", content.Title))
	return nil
}

// generatePayload 内容生成任务的创作指引
type generatePayload struct {
	Topic    string   `json:"topic"`
	Audience string   `json:"audience,omitempty"`
	Tone     string   `json:"tone,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
	Platform string   `json:"platform,omitempty"`
}

// handleGenerateContent 按指引生成一篇草稿并入库
func (s *Server) handleGenerateContent(ctx context.Context, task *types.Task) error {
	var payload generatePayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("invalid generate payload: %w", err)
	}
	if payload.Topic == "" {
		return fmt.Errorf("generate payload missing topic")
	}
	if payload.Platform == "" {
		payload.Platform = "xiaohongshu"
	}

	draft, err := s.engine.GenerateContent(ctx, &engine.Brief{
		Topic:    payload.Topic,
		Audience: payload.Audience,
		Tone:     payload.Tone,
		Keywords: payload.Keywords,
		Platform: payload.Platform,
	})
	if err != nil {
		return err
	}

	content := &types.Content{
		ID:       uuid.NewString(),
		Title:    draft.Title,
		Body:     draft.Body,
		Tags:     strings.Join(draft.Tags, ","),
		Platform: payload.Platform,
		Status:   types.ContentDraft,
	}
	if err := s.stores.Contents.Create(ctx, content); err != nil {
		return err
	}

	s.logger.Info("draft generated",
		zap.String("content_id", content.ID),
		zap.String("topic", payload.Topic))
	return nil
}

// handleReplyInteractions 为一篇内容下的未回复互动批量生成回复
func (s *Server) handleReplyInteractions(ctx context.Context, task *types.Task) error {
	var payload contentPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("invalid reply payload: %w", err)
	}

	content, err := s.stores.Contents.Get(ctx, payload.ContentID)
	if err != nil {
		return err
	}

	pending, _, err := s.stores.Interactions.List(ctx, store.InteractionFilter{
		ContentID: payload.ContentID,
		Unreplied: true,
		Limit:     20,
	})
	if err != nil {
		return err
	}

	replied := 0
	for i := range pending {
		interaction := &pending[i]
		if interaction.Message == "" {
			continue // 点赞收藏类没有可回复的文本
		}

		reply, err := s.engine.GenerateReply(ctx, interaction, content)
		if err != nil {
			s.logger.Warn("reply generation failed",
				zap.String("interaction_id", interaction.ID), zap.Error(err))
			// AI 不可用时退回模板话术，别让互动一直挂着没回
			if s.strategy == nil {
				continue
			}
			fallback, rerr := s.strategy.RenderTemplate("reply_thanks", map[string]any{"Author": interaction.Author})
			if rerr != nil {
				continue
			}
			reply = fallback
		}
		if err := s.stores.Interactions.SaveReply(ctx, interaction.ID, reply); err != nil {
			return err
		}
		replied++
	}

	s.logger.Info("interactions replied",
		zap.String("content_id", payload.ContentID),
		zap.Int("replied", replied),
		zap.Int("pending", len(pending)))
	return nil
}

// handleCollectMetrics 从互动记录汇总一份指标快照。
// 浏览量需要平台数据源，这里只统计服务内可见的互动。
func (s *Server) handleCollectMetrics(ctx context.Context, task *types.Task) error {
	var payload contentPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("invalid metrics payload: %w", err)
	}
	if _, err := s.stores.Contents.Get(ctx, payload.ContentID); err != nil {
		return err
	}

	snapshot := &types.MetricSnapshot{
		ContentID:   payload.ContentID,
		CollectedAt: time.Now(),
	}
	for kind, target := range map[types.InteractionKind]*int64{
		types.InteractionLike:     &snapshot.Likes,
		types.InteractionComment:  &snapshot.Comments,
		types.InteractionFavorite: &snapshot.Favorites,
	} {
		_, total, err := s.stores.Interactions.List(ctx, store.InteractionFilter{
			ContentID: payload.ContentID,
			Kind:      kind,
			Limit:     1,
		})
		if err != nil {
			return err
		}
		*target = total
	}

	return s.stores.Analytics.RecordSnapshot(ctx, snapshot)
}

// sweepOverdueScheduled 兜底扫描：排期时间已过 grace 仍停留在 scheduled
// 的内容，重新提交发布任务。正常路径由流水线排的任务按时发布，这里只
// 接住任务丢失的情况；发布处理器对已发布内容幂等。
func sweepOverdueScheduled(ctx context.Context, contents *store.ContentStore, submitter workflow.TaskSubmitter, grace time.Duration, logger *zap.Logger) int {
	due, err := contents.DueScheduled(ctx, time.Now().Add(-grace), 50)
	if err != nil {
		logger.Warn("overdue content sweep failed", zap.Error(err))
		return 0
	}

	submitted := 0
	for i := range due {
		payload, _ := json.Marshal(contentPayload{ContentID: due[i].ID})
		task := &types.Task{
			ID:        uuid.NewString(),
			Kind:      TaskPublishContent,
			Priority:  8,
			Payload:   payload,
			NextRunAt: time.Now(),
		}
		if err := submitter.Submit(ctx, task); err != nil {
			logger.Warn("overdue publish resubmit failed",
				zap.String("content_id", due[i].ID), zap.Error(err))
			continue
		}
		submitted++
		logger.Info("overdue content requeued for publish",
			zap.String("content_id", due[i].ID),
			zap.Time("schedule_at", *due[i].ScheduleAt))
	}
	return submitted
}
