package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/socialflow/engine"
	"github.com/BaSui01/socialflow/internal/store"
	"github.com/BaSui01/socialflow/strategy"
	"github.com/BaSui01/socialflow/types"
)

// ContentPipeline 工作流名称
const ContentPipeline = "content_pipeline"

// TaskSubmitter 提交发布任务的调度器接口
type TaskSubmitter interface {
	Submit(ctx context.Context, task *types.Task) error
}

// PipelineDeps 内容生产流水线的依赖
type PipelineDeps struct {
	Engine    *engine.Engine
	Strategy  *strategy.Manager // 可为 nil，热点与发布窗口降级为默认行为
	Contents  *store.ContentStore
	Scheduler TaskSubmitter
	Reviews   *ReviewManager
	Logger    *zap.Logger
}

// NewContentPipeline 构建内容生产流水线:
//
//	understand → strategize → draft → review → schedule → plan
//
// review 节点阻塞等待人工裁决；初始状态带 auto_approve=true 时跳过。
// 拒绝（含超时）终止运行，内容退回草稿，可从检查点恢复重审。
func NewContentPipeline(deps PipelineDeps) *Workflow {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "content_pipeline"))

	understand := NewStep("understand", func(ctx context.Context, state State) (State, error) {
		text := state.GetString("request")
		req, err := deps.Engine.UnderstandRequest(ctx, text)
		if err != nil {
			return nil, err
		}

		next := state.Clone()
		next["requirement"] = req
		return next, nil
	})

	strategize := NewStep("strategize", func(ctx context.Context, state State) (State, error) {
		var req engine.Requirement
		if err := stateDecode(state, "requirement", &req); err != nil {
			return nil, types.NewError(types.ErrInternalError,
				"pipeline state missing requirement").WithCause(err).WithHTTPStatus(500)
		}

		var hotPrompt string
		if deps.Strategy != nil {
			hot, err := deps.Strategy.HotTopics(ctx, 10)
			if err != nil {
				// 热点不可用不阻塞流水线
				logger.Warn("hot topics unavailable", zap.Error(err))
			}
			if len(hot) > 0 {
				names := make([]string, 0, len(hot))
				for _, t := range hot {
					names = append(names, t.Name)
				}
				line, rerr := deps.Strategy.RenderTemplate("hot_topic_prompt", map[string]any{"Topics": names})
				if rerr != nil {
					logger.Warn("hot topic prompt render failed", zap.Error(rerr))
				} else {
					hotPrompt = line
				}
			}
		}

		strat, err := deps.Engine.GenerateStrategy(ctx, &req, hotPrompt)
		if err != nil {
			return nil, err
		}

		next := state.Clone()
		next["strategy"] = strat
		return next, nil
	})

	draft := NewStep("draft", func(ctx context.Context, state State) (State, error) {
		var req engine.Requirement
		var strat engine.Strategy
		if err := stateDecode(state, "requirement", &req); err != nil {
			return nil, types.NewError(types.ErrInternalError,
				"pipeline state missing requirement").WithCause(err).WithHTTPStatus(500)
		}
		if err := stateDecode(state, "strategy", &strat); err != nil {
			return nil, types.NewError(types.ErrInternalError,
				"pipeline state missing strategy").WithCause(err).WithHTTPStatus(500)
		}

		brief := &engine.Brief{
			Topic:    pickTopic(&req, &strat),
			Audience: req.Audience,
			Tone:     req.Tone,
			Keywords: strat.TargetTopics,
			Platform: req.Platform,
		}

		d, err := deps.Engine.GenerateContent(ctx, brief)
		if err != nil {
			return nil, err
		}

		content := &types.Content{
			ID:       uuid.NewString(),
			Title:    d.Title,
			Body:     d.Body,
			Tags:     strings.Join(d.Tags, ","),
			Platform: req.Platform,
			Status:   types.ContentDraft,
		}
		if err := deps.Contents.Create(ctx, content); err != nil {
			return nil, err
		}

		logger.Info("draft created",
			zap.String("content_id", content.ID),
			zap.String("title", content.Title))

		next := state.Clone()
		next["draft"] = d
		next["content_id"] = content.ID
		next["title"] = content.Title
		return next, nil
	})

	review := NewStep("review", func(ctx context.Context, state State) (State, error) {
		contentID := state.GetString("content_id")
		if err := deps.Contents.UpdateStatus(ctx, contentID, types.ContentReviewing); err != nil {
			return nil, err
		}

		decision, err := deps.Reviews.Request(ctx, &Review{
			RunID:    state.GetString(StateKeyRunID),
			Workflow: state.GetString(StateKeyWorkflow),
			Node:     "review",
			Summary:  fmt.Sprintf("审核笔记《%s》", state.GetString("title")),
			Payload:  map[string]any{"content_id": contentID},
		})
		if err != nil {
			return nil, err
		}

		if !decision.Approved {
			// 退回草稿，允许修改后从检查点恢复重审
			if err := deps.Contents.UpdateStatus(ctx, contentID, types.ContentDraft); err != nil {
				logger.Error("failed to revert content to draft",
					zap.String("content_id", contentID), zap.Error(err))
			}
			return nil, types.NewError(types.ErrReviewRejected,
				fmt.Sprintf("review rejected: %s", decision.Reason)).WithHTTPStatus(409)
		}

		next := state.Clone()
		next["review"] = map[string]any{
			"approved": true,
			"reviewer": decision.Reviewer,
			"reason":   decision.Reason,
		}
		return next, nil
	})

	// auto_approve=true 时跳过人工审核
	reviewGate := NewConditionStep("review",
		func(state State) bool {
			auto, _ := state["auto_approve"].(bool)
			return !auto
		},
		review, nil)

	schedule := NewStep("schedule", func(ctx context.Context, state State) (State, error) {
		contentID := state.GetString("content_id")
		content, err := deps.Contents.Get(ctx, contentID)
		if err != nil {
			return nil, err
		}

		now := time.Now()
		publishAt := now
		if deps.Strategy != nil && !deps.Strategy.InWindow(now) {
			publishAt = deps.Strategy.NextWindow(now)
		}

		content.ScheduleAt = &publishAt
		if err := deps.Contents.Update(ctx, content); err != nil {
			return nil, err
		}
		if err := deps.Contents.UpdateStatus(ctx, contentID, types.ContentScheduled); err != nil {
			return nil, err
		}

		payload, _ := json.Marshal(map[string]string{"content_id": contentID})
		task := &types.Task{
			ID:        uuid.NewString(),
			Kind:      "publish_content",
			Priority:  5,
			Payload:   payload,
			NextRunAt: publishAt,
		}
		if err := deps.Scheduler.Submit(ctx, task); err != nil {
			return nil, err
		}

		logger.Info("content scheduled",
			zap.String("content_id", contentID),
			zap.String("task_id", task.ID),
			zap.Time("publish_at", publishAt))

		next := state.Clone()
		next["task_id"] = task.ID
		next["schedule_at"] = publishAt
		return next, nil
	})

	plan := NewStep("plan", func(ctx context.Context, state State) (State, error) {
		var strat engine.Strategy
		if err := stateDecode(state, "strategy", &strat); err != nil {
			return nil, types.NewError(types.ErrInternalError,
				"pipeline state missing strategy").WithCause(err).WithHTTPStatus(500)
		}
		contentID := state.GetString("content_id")

		// 后续运营任务是锦上添花，规划失败不回滚已排期的内容
		specs, err := deps.Engine.PlanTasks(ctx, &strat)
		if err != nil {
			logger.Warn("follow-up planning failed", zap.Error(err))
			return state.Clone(), nil
		}

		var submitted []string
		for _, spec := range specs {
			if spec.Kind == "publish_content" {
				continue // schedule 节点已经排了发布任务
			}

			var payload []byte
			switch spec.Kind {
			case "generate_content":
				var req engine.Requirement
				if err := stateDecode(state, "requirement", &req); err != nil {
					continue
				}
				payload, _ = json.Marshal(map[string]any{
					"topic":    pickTopic(&req, &strat),
					"audience": req.Audience,
					"tone":     req.Tone,
					"keywords": strat.TargetTopics,
					"platform": req.Platform,
				})
			case "reply_interactions", "collect_metrics":
				payload, _ = json.Marshal(map[string]string{"content_id": contentID})
			default:
				logger.Warn("planner produced unknown task kind", zap.String("kind", spec.Kind))
				continue
			}

			task := &types.Task{
				ID:        uuid.NewString(),
				Kind:      spec.Kind,
				Priority:  spec.Priority,
				Payload:   payload,
				NextRunAt: scheduleHintTime(deps.Strategy, spec.ScheduleHint),
			}
			if err := deps.Scheduler.Submit(ctx, task); err != nil {
				logger.Warn("follow-up task submit failed",
					zap.String("kind", spec.Kind), zap.Error(err))
				continue
			}
			submitted = append(submitted, task.ID)
		}

		logger.Info("follow-up tasks planned",
			zap.String("content_id", contentID),
			zap.Int("planned", len(specs)),
			zap.Int("submitted", len(submitted)))

		next := state.Clone()
		next["followup_task_ids"] = submitted
		return next, nil
	})

	return NewWorkflow(ContentPipeline,
		"从运营诉求到排期发布的内容生产流水线",
		understand, strategize, draft, reviewGate, schedule, plan)
}

// scheduleHintTime 把规划器的调度提示换算成执行时间
func scheduleHintTime(strat *strategy.Manager, hint string) time.Time {
	now := time.Now()
	switch hint {
	case "next_window":
		if strat != nil && !strat.InWindow(now) {
			return strat.NextWindow(now)
		}
		return now
	case "daily":
		return now.Add(24 * time.Hour)
	default: // asap
		return now
	}
}

// stateDecode 从状态中取值并解码为目标类型。检查点经 JSON 往返后
// 结构体会退化为 map，统一走一次 JSON 编解码抹平差异。
func stateDecode(state State, key string, out any) error {
	v, ok := state[key]
	if !ok {
		return fmt.Errorf("state missing %q", key)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// pickTopic 选题优先级：诉求话题 → 策略目标话题 → 诉求意图
func pickTopic(req *engine.Requirement, strat *engine.Strategy) string {
	if len(req.Topics) > 0 {
		return req.Topics[0]
	}
	if len(strat.TargetTopics) > 0 {
		return strat.TargetTopics[0]
	}
	return req.Intent
}
