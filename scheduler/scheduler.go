// Package scheduler runs persisted operation tasks on a bounded worker pool
// with priority ordering, rate limiting and retry with dead-lettering.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BaSui01/socialflow/config"
	"github.com/BaSui01/socialflow/events"
	"github.com/BaSui01/socialflow/internal/metrics"
	"github.com/BaSui01/socialflow/internal/store"
	"github.com/BaSui01/socialflow/types"
)

// HandlerFunc 执行一种任务。返回错误触发重试，panic 被隔离并按失败处理。
type HandlerFunc func(ctx context.Context, task *types.Task) error

// =============================================================================
// ⏰ 任务调度器
// =============================================================================

// Scheduler 任务调度器
type Scheduler struct {
	config  config.SchedulerConfig
	store   *store.TaskStore
	bus     events.EventBus
	metrics *metrics.Collector
	logger  *zap.Logger

	queue    *priorityQueue
	limiter  *rate.Limiter
	handlers map[string]HandlerFunc

	// inflight 跟踪已入队或执行中的任务 ID，避免轮询重复入队
	inflight sync.Map
	busy     int64

	group      *errgroup.Group
	cancel     context.CancelFunc
	pollCancel context.CancelFunc

	mu      sync.RWMutex
	started bool
	closed  bool
}

// New 创建调度器
func New(cfg config.SchedulerConfig, taskStore *store.TaskStore, bus events.EventBus, collector *metrics.Collector, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Workers
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Scheduler{
		config:   cfg,
		store:    taskStore,
		bus:      bus,
		metrics:  collector,
		logger:   logger.With(zap.String("component", "scheduler")),
		queue:    newPriorityQueue(cfg.QueueSize),
		limiter:  limiter,
		handlers: make(map[string]HandlerFunc),
	}
}

// RegisterHandler 注册任务类型处理器，须在 Start 之前调用。
func (s *Scheduler) RegisterHandler(kind string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = handler
}

// Start 恢复崩溃残留任务并启动工作协程与轮询循环。
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	if s.closed {
		return types.NewError(types.ErrSchedulerClosed, "scheduler is closed")
	}
	s.started = true

	// 崩溃恢复：残留的 running 任务重置为 pending，由轮询重新捞起
	recovered, err := s.store.RecoverRunning(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover running tasks: %w", err)
	}
	if recovered > 0 {
		s.logger.Info("recovered interrupted tasks", zap.Int64("count", recovered))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	pollCtx, pollCancel := context.WithCancel(runCtx)
	s.pollCancel = pollCancel
	s.group, _ = errgroup.WithContext(runCtx)

	for i := 0; i < s.config.Workers; i++ {
		s.group.Go(func() error {
			s.workerLoop(runCtx)
			return nil
		})
	}

	s.group.Go(func() error {
		s.pollLoop(pollCtx)
		return nil
	})

	s.logger.Info("scheduler started",
		zap.Int("workers", s.config.Workers),
		zap.Int("queue_size", s.config.QueueSize),
		zap.Float64("rate_limit", s.config.RateLimit),
	)
	return nil
}

// Submit 持久化任务并尝试立即入队（到期任务）。
func (s *Scheduler) Submit(ctx context.Context, task *types.Task) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return types.NewError(types.ErrSchedulerClosed, "scheduler is closed").WithHTTPStatus(503)
	}
	s.mu.RUnlock()

	if task.Kind == "" {
		return types.NewError(types.ErrInvalidRequest, "task kind cannot be empty").WithHTTPStatus(400)
	}
	if task.MaxRetries == 0 {
		task.MaxRetries = s.config.MaxRetries
	}

	if err := s.store.Create(ctx, task); err != nil {
		return fmt.Errorf("failed to persist task: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordTaskEnqueued(task.Kind)
	}

	// 未到期任务留给轮询循环
	if task.NextRunAt.After(time.Now()) {
		return nil
	}

	s.enqueue(task)
	return nil
}

// enqueue 尝试把任务放入内存队列。队列饱和不算失败，轮询稍后重试。
func (s *Scheduler) enqueue(task *types.Task) {
	if _, loaded := s.inflight.LoadOrStore(task.ID, struct{}{}); loaded {
		return
	}

	if !s.queue.TryPush(task) {
		s.inflight.Delete(task.ID)
		s.logger.Warn("queue saturated, task deferred",
			zap.String("task_id", task.ID),
			zap.String("kind", task.Kind),
		)
		return
	}

	if s.metrics != nil {
		s.metrics.SetQueueDepth(s.queue.Len())
	}
}

// pollLoop 周期性从数据库捞取到期任务入队。
func (s *Scheduler) pollLoop(ctx context.Context) {
	interval := s.config.PollInterval
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			tasks, err := s.store.Due(ctx, time.Now(), s.config.QueueSize)
			if err != nil {
				s.logger.Error("failed to poll due tasks", zap.Error(err))
				continue
			}
			for i := range tasks {
				s.enqueue(&tasks[i])
			}
		case <-ctx.Done():
			return
		}
	}
}

// workerLoop 工作协程主循环。
func (s *Scheduler) workerLoop(ctx context.Context) {
	for {
		task := s.queue.Pop()
		if task == nil {
			// 队列已关闭
			return
		}

		if s.metrics != nil {
			s.metrics.SetQueueDepth(s.queue.Len())
		}

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				s.inflight.Delete(task.ID)
				return
			}
		}

		select {
		case <-ctx.Done():
			s.inflight.Delete(task.ID)
			return
		default:
		}

		s.execute(ctx, task)
	}
}

// execute 执行单个任务，处理重试与死信。
func (s *Scheduler) execute(ctx context.Context, task *types.Task) {
	defer s.inflight.Delete(task.ID)

	s.mu.RLock()
	handler, ok := s.handlers[task.Kind]
	s.mu.RUnlock()

	if !ok {
		s.logger.Error("no handler for task kind", zap.String("kind", task.Kind), zap.String("task_id", task.ID))
		s.moveToDead(ctx, task, fmt.Sprintf("no handler registered for kind %q", task.Kind))
		return
	}

	if err := s.store.MarkStatus(ctx, task.ID, types.TaskRunning, ""); err != nil {
		s.logger.Error("failed to mark task running", zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	s.publishStateChange(task, task.Status, types.TaskRunning, "")

	atomic.AddInt64(&s.busy, 1)
	if s.metrics != nil {
		s.metrics.SetWorkersBusy(int(atomic.LoadInt64(&s.busy)))
	}

	start := time.Now()
	err := s.runHandler(ctx, handler, task)
	duration := time.Since(start)

	atomic.AddInt64(&s.busy, -1)
	if s.metrics != nil {
		s.metrics.SetWorkersBusy(int(atomic.LoadInt64(&s.busy)))
	}

	if err == nil {
		if err := s.store.MarkStatus(ctx, task.ID, types.TaskSucceeded, ""); err != nil {
			s.logger.Error("failed to mark task succeeded", zap.String("task_id", task.ID), zap.Error(err))
		}
		if s.metrics != nil {
			s.metrics.RecordTaskCompleted(task.Kind, string(types.TaskSucceeded), duration)
		}
		s.publishStateChange(task, types.TaskRunning, types.TaskSucceeded, "")
		s.logger.Debug("task succeeded",
			zap.String("task_id", task.ID),
			zap.String("kind", task.Kind),
			zap.Duration("duration", duration),
		)
		return
	}

	task.Attempts++
	if task.Attempts > task.MaxRetries {
		s.moveToDead(ctx, task, err.Error())
		if s.metrics != nil {
			s.metrics.RecordTaskCompleted(task.Kind, string(types.TaskDead), duration)
		}
		return
	}

	next := time.Now().Add(s.backoff(task.Attempts))
	if rerr := s.store.Reschedule(ctx, task.ID, task.Attempts, next, err.Error()); rerr != nil {
		s.logger.Error("failed to reschedule task", zap.String("task_id", task.ID), zap.Error(rerr))
		return
	}

	if s.metrics != nil {
		s.metrics.RecordTaskRetry(task.Kind)
	}
	s.publishStateChange(task, types.TaskRunning, types.TaskRetrying, err.Error())
	s.logger.Warn("task failed, will retry",
		zap.String("task_id", task.ID),
		zap.String("kind", task.Kind),
		zap.Int("attempt", task.Attempts),
		zap.Int("max_retries", task.MaxRetries),
		zap.Time("next_run_at", next),
		zap.Error(err),
	)
}

// runHandler 执行处理器并隔离 panic。
func (s *Scheduler) runHandler(ctx context.Context, handler HandlerFunc, task *types.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task handler panicked: %v", r)
			s.logger.Error("task handler panicked",
				zap.String("task_id", task.ID),
				zap.String("kind", task.Kind),
				zap.Any("recover", r),
			)
		}
	}()
	return handler(ctx, task)
}

// moveToDead 把任务移入死信状态。
func (s *Scheduler) moveToDead(ctx context.Context, task *types.Task, reason string) {
	if err := s.store.MarkStatus(ctx, task.ID, types.TaskDead, reason); err != nil {
		s.logger.Error("failed to mark task dead", zap.String("task_id", task.ID), zap.Error(err))
	}
	if s.metrics != nil {
		s.metrics.RecordDeadLetter(task.Kind)
	}
	s.publishStateChange(task, types.TaskRunning, types.TaskDead, reason)
	s.logger.Error("task moved to dead letter",
		zap.String("task_id", task.ID),
		zap.String("kind", task.Kind),
		zap.Int("attempts", task.Attempts),
		zap.String("reason", reason),
	)
}

// backoff 指数退避加 ±25% 抖动。
func (s *Scheduler) backoff(attempt int) time.Duration {
	base := s.config.RetryBackoff
	if base <= 0 {
		base = 2 * time.Second
	}
	maxBackoff := s.config.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 2 * time.Minute
	}

	d := base << uint(attempt-1)
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}

	// +1 保证 Int63n 的参数恒为正，极小的退避配置下也不会 panic
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	return d - d/4 + jitter
}

func (s *Scheduler) publishStateChange(task *types.Task, from, to types.TaskStatus, errMsg string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(&events.TaskStateChangedEvent{
		TaskID:     task.ID,
		Kind:       task.Kind,
		FromStatus: from,
		ToStatus:   to,
		Attempts:   task.Attempts,
		Error:      errMsg,
		Timestamp_: time.Now(),
	})
}

// Cancel 取消尚未执行的任务。
func (s *Scheduler) Cancel(ctx context.Context, taskID string) error {
	task, err := s.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status.Terminal() || task.Status == types.TaskRunning {
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("cannot cancel task in status %s", task.Status)).WithHTTPStatus(409)
	}

	if err := s.store.MarkStatus(ctx, taskID, types.TaskCanceled, ""); err != nil {
		return err
	}
	s.publishStateChange(task, task.Status, types.TaskCanceled, "")
	return nil
}

// Stop 关闭队列并等待所有工作协程退出。
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()

	s.logger.Info("stopping scheduler")
	s.queue.Close()

	if !started {
		return nil
	}

	// 先停轮询，正在执行的任务继续跑完
	s.pollCancel()

	done := make(chan error, 1)
	go func() { done <- s.group.Wait() }()

	select {
	case err := <-done:
		s.cancel()
		return err
	case <-ctx.Done():
		// 超时后强制取消仍在执行的任务
		s.cancel()
		return ctx.Err()
	}
}

// QueueDepth 返回当前内存队列深度。
func (s *Scheduler) QueueDepth() int {
	return s.queue.Len()
}
