package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/socialflow/events"
	"github.com/BaSui01/socialflow/internal/metrics"
	"github.com/BaSui01/socialflow/types"
)

// ReviewStatus 审核状态
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
	ReviewTimedOut ReviewStatus = "timeout"
)

// Review 一次待人工裁决的审核请求
type Review struct {
	ID         string         `json:"id"`
	RunID      string         `json:"run_id"`
	Workflow   string         `json:"workflow"`
	Node       string         `json:"node"`
	Summary    string         `json:"summary"`
	Payload    map[string]any `json:"payload,omitempty"`
	Status     ReviewStatus   `json:"status"`
	Reason     string         `json:"reason,omitempty"`
	Reviewer   string         `json:"reviewer,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
}

// Decision 审核裁决
type Decision struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
	Reviewer string `json:"reviewer,omitempty"`
}

// pendingReview 等待裁决的审核及其响应通道
type pendingReview struct {
	review *Review
	ch     chan *Decision
}

// =============================================================================
// ✋ 人工审核管理器
// =============================================================================

// ReviewManager 管理工作流的人工审核中断。
// Request 阻塞等待裁决，Resolve 由 API 侧调用送达裁决；
// 超时视为拒绝。
type ReviewManager struct {
	mu      sync.Mutex
	pending map[string]*pendingReview

	timeout time.Duration
	bus     events.EventBus
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewReviewManager 创建审核管理器
func NewReviewManager(timeout time.Duration, bus events.EventBus, collector *metrics.Collector, logger *zap.Logger) *ReviewManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReviewManager{
		pending: make(map[string]*pendingReview),
		timeout: timeout,
		bus:     bus,
		metrics: collector,
		logger:  logger.With(zap.String("component", "review_manager")),
	}
}

// Request 发起审核并阻塞直到裁决、超时或 ctx 取消。
// 超时返回拒绝裁决，不返回错误；ctx 取消返回 ctx 的错误。
func (m *ReviewManager) Request(ctx context.Context, review *Review) (*Decision, error) {
	if review.ID == "" {
		review.ID = uuid.NewString()
	}
	review.Status = ReviewPending
	review.CreatedAt = time.Now()

	p := &pendingReview{review: review, ch: make(chan *Decision, 1)}

	m.mu.Lock()
	m.pending[review.ID] = p
	m.mu.Unlock()

	m.logger.Info("review requested",
		zap.String("review_id", review.ID),
		zap.String("run_id", review.RunID),
		zap.String("node", review.Node))

	m.publish(&events.ReviewRequestedEvent{
		InterruptID: review.ID,
		RunID:       review.RunID,
		Workflow:    review.Workflow,
		Summary:     review.Summary,
		Timestamp_:  time.Now(),
	})

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case decision := <-p.ch:
		m.finish(review, decision)
		return decision, nil

	case <-timer.C:
		decision := &Decision{Approved: false, Reason: "review timed out"}
		m.mu.Lock()
		delete(m.pending, review.ID)
		m.mu.Unlock()

		now := time.Now()
		review.Status = ReviewTimedOut
		review.Reason = decision.Reason
		review.ResolvedAt = &now

		m.logger.Warn("review timed out", zap.String("review_id", review.ID))
		if m.metrics != nil {
			m.metrics.RecordWorkflowInterrupt(review.Workflow, "timeout")
		}
		m.publish(&events.ReviewRespondedEvent{
			InterruptID: review.ID,
			RunID:       review.RunID,
			Approved:    false,
			Reason:      decision.Reason,
			Timestamp_:  now,
		})
		return decision, nil

	case <-ctx.Done():
		m.mu.Lock()
		delete(m.pending, review.ID)
		m.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Resolve 送达裁决，唤醒阻塞中的工作流。
func (m *ReviewManager) Resolve(id string, decision *Decision) error {
	m.mu.Lock()
	p, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.mu.Unlock()

	if !ok {
		return types.NewError(types.ErrInterruptNotFound,
			fmt.Sprintf("no pending review: %s", id)).WithHTTPStatus(404)
	}

	p.ch <- decision
	return nil
}

// Pending 返回当前等待裁决的审核，按发起时间排序。
func (m *ReviewManager) Pending() []*Review {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Review, 0, len(m.pending))
	for _, p := range m.pending {
		clone := *p.review
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// finish 记录裁决结果
func (m *ReviewManager) finish(review *Review, decision *Decision) {
	now := time.Now()
	review.Reason = decision.Reason
	review.Reviewer = decision.Reviewer
	review.ResolvedAt = &now

	resolution := "rejected"
	review.Status = ReviewRejected
	if decision.Approved {
		resolution = "approved"
		review.Status = ReviewApproved
	}

	m.logger.Info("review resolved",
		zap.String("review_id", review.ID),
		zap.Bool("approved", decision.Approved))
	if m.metrics != nil {
		m.metrics.RecordWorkflowInterrupt(review.Workflow, resolution)
	}
	m.publish(&events.ReviewRespondedEvent{
		InterruptID: review.ID,
		RunID:       review.RunID,
		Approved:    decision.Approved,
		Reason:      decision.Reason,
		Timestamp_:  now,
	})
}

func (m *ReviewManager) publish(event events.Event) {
	if m.bus != nil {
		m.bus.Publish(event)
	}
}
