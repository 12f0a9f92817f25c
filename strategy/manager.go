// Package strategy maintains the operational playbook: trending topic
// tracking, posting time windows and reusable content templates.
package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/socialflow/config"
	"github.com/BaSui01/socialflow/events"
	"github.com/BaSui01/socialflow/internal/cache"
)

// hotTopicsKey Redis 热点榜单键
const hotTopicsKey = "socialflow:hot_topics"

// Topic 热点话题
type Topic struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// =============================================================================
// 🎯 策略管理器
// =============================================================================

// Manager 策略管理器
type Manager struct {
	cache  *cache.Manager
	bus    events.EventBus
	config config.StrategyConfig
	logger *zap.Logger

	// Redis 不可用时的进程内榜单，语义与 Redis 版一致：
	// 距最后一次信号超过 HotTopicTTL 后整体过期。
	memMu      sync.Mutex
	memRank    map[string]float64
	lastSignal time.Time

	cancel context.CancelFunc
}

// NewManager 创建策略管理器。cacheMgr 为 nil 时热点榜单退化为进程内实现。
func NewManager(cacheMgr *cache.Manager, bus events.EventBus, cfg config.StrategyConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cache:  cacheMgr,
		bus:    bus,
		config: cfg,
		logger: logger.With(zap.String("component", "strategy")),
	}
}

// =============================================================================
// 🔥 热点话题
// =============================================================================

// RecordTopicSignal 累加话题热度信号，来源于互动关键词或外部采集。
func (m *Manager) RecordTopicSignal(ctx context.Context, topic string, weight float64) error {
	if topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}
	if weight <= 0 {
		weight = 1
	}

	if m.cache == nil {
		m.memMu.Lock()
		defer m.memMu.Unlock()
		if m.memRank == nil || m.memExpired() {
			m.memRank = make(map[string]float64)
		}
		m.memRank[topic] += weight
		m.lastSignal = time.Now()
		return nil
	}

	if err := m.cache.RankIncr(ctx, hotTopicsKey, topic, weight); err != nil {
		return err
	}

	// 榜单整体带 TTL，停止喂入信号后自动过期
	if m.config.HotTopicTTL > 0 {
		if err := m.cache.Expire(ctx, hotTopicsKey, m.config.HotTopicTTL); err != nil {
			m.logger.Warn("failed to refresh hot topics ttl", zap.Error(err))
		}
	}
	return nil
}

// HotTopics 返回当前热度最高的 n 个话题。
func (m *Manager) HotTopics(ctx context.Context, n int) ([]Topic, error) {
	if n <= 0 {
		n = 10
	}

	if m.cache == nil {
		return m.memTopN(n), nil
	}

	entries, err := m.cache.RankTopN(ctx, hotTopicsKey, int64(n))
	if err != nil {
		return nil, err
	}

	topics := make([]Topic, 0, len(entries))
	for _, e := range entries {
		topics = append(topics, Topic{Name: e.Member, Score: e.Score})
	}
	return topics, nil
}

// memExpired 判断进程内榜单是否已过期，调用方持有 memMu。
func (m *Manager) memExpired() bool {
	return m.config.HotTopicTTL > 0 && !m.lastSignal.IsZero() &&
		time.Since(m.lastSignal) > m.config.HotTopicTTL
}

// memTopN 返回进程内榜单的前 n 名（降序）。
func (m *Manager) memTopN(n int) []Topic {
	m.memMu.Lock()
	defer m.memMu.Unlock()

	if m.memRank == nil || m.memExpired() {
		return nil
	}

	topics := make([]Topic, 0, len(m.memRank))
	for name, score := range m.memRank {
		topics = append(topics, Topic{Name: name, Score: score})
	}
	sort.Slice(topics, func(i, j int) bool {
		if topics[i].Score != topics[j].Score {
			return topics[i].Score > topics[j].Score
		}
		return topics[i].Name < topics[j].Name
	})
	if len(topics) > n {
		topics = topics[:n]
	}
	return topics
}

// StartRefreshLoop 周期性广播热点榜单，供事件流订阅方感知变化。
func (m *Manager) StartRefreshLoop(ctx context.Context) {
	if m.config.RefreshInterval <= 0 || m.bus == nil {
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(m.config.RefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				topics, err := m.HotTopics(ctx, 10)
				if err != nil {
					m.logger.Warn("hot topics refresh failed", zap.Error(err))
					continue
				}
				names := make([]string, 0, len(topics))
				for _, t := range topics {
					names = append(names, t.Name)
				}
				m.bus.Publish(&events.HotTopicsUpdatedEvent{
					Topics:     names,
					Timestamp_: time.Now(),
				})
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop 停止刷新循环。
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}
