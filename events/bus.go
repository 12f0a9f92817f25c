// Package events provides the asynchronous in-process event bus that connects
// the scheduler, the workflow engine and the API event stream.
package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/socialflow/internal/metrics"
)

// EventType 事件类型
type EventType string

const (
	EventTaskStateChanged     EventType = "task_state_changed"
	EventContentPublished     EventType = "content_published"
	EventInteractionReceived  EventType = "interaction_received"
	EventHotTopicsUpdated     EventType = "hot_topics_updated"
	EventWorkflowNodeFinished EventType = "workflow_node_finished"
	EventReviewRequested      EventType = "review_requested"
	EventReviewResponded      EventType = "review_responded"
)

// EventAll 订阅所有类型的事件，事件流接口使用。
const EventAll EventType = "*"

// subscriptionCounter 用于生成唯一订阅 ID，替代 time.Now().UnixNano() 避免并发碰撞
var subscriptionCounter int64

// Event 事件接口
type Event interface {
	Timestamp() time.Time
	Type() EventType
}

// EventHandler 事件处理器
type EventHandler func(Event)

// EventBus 定义事件总线接口
type EventBus interface {
	Publish(event Event)
	Subscribe(eventType EventType, handler EventHandler) string
	Unsubscribe(subscriptionID string)
	SubscriberCount(eventType EventType) int
	Stop()
}

// SimpleEventBus 简单的事件总线实现
type SimpleEventBus struct {
	mu           sync.RWMutex
	handlers     map[EventType]map[string]EventHandler
	eventChannel chan Event
	done         chan struct{}
	stopOnce     sync.Once
	logger       *zap.Logger
	metrics      *metrics.Collector
}

// NewEventBus 创建新的事件总线
func NewEventBus(logger ...*zap.Logger) EventBus {
	var l *zap.Logger
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	} else {
		l = zap.NewNop()
	}
	bus := &SimpleEventBus{
		handlers:     make(map[EventType]map[string]EventHandler),
		eventChannel: make(chan Event, 100),
		done:         make(chan struct{}),
		logger:       l,
	}
	go bus.processEvents()
	return bus
}

// NewEventBusWithMetrics 创建带指标记录的事件总线
func NewEventBusWithMetrics(collector *metrics.Collector, logger *zap.Logger) EventBus {
	bus := NewEventBus(logger).(*SimpleEventBus)
	bus.metrics = collector
	return bus
}

// Publish 发布事件
func (b *SimpleEventBus) Publish(event Event) {
	select {
	case b.eventChannel <- event:
		if b.metrics != nil {
			b.metrics.RecordEventPublished(string(event.Type()))
		}
	case <-b.done:
	default:
		// 如果通道满了，丢弃事件
		if b.metrics != nil {
			b.metrics.RecordEventDropped(string(event.Type()))
		}
	}
}

// Subscribe 订阅事件，EventAll 表示订阅全部类型
func (b *SimpleEventBus) Subscribe(eventType EventType, handler EventHandler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[string]EventHandler)
	}

	id := fmt.Sprintf("%s-%d", eventType, atomic.AddInt64(&subscriptionCounter, 1))
	b.handlers[eventType][id] = handler
	return id
}

// Unsubscribe 取消订阅
func (b *SimpleEventBus) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, handlers := range b.handlers {
		if _, ok := handlers[subscriptionID]; ok {
			delete(handlers, subscriptionID)
			if len(handlers) == 0 {
				delete(b.handlers, eventType)
			}
			return
		}
	}
}

// SubscriberCount 返回某类型的订阅者数量
func (b *SimpleEventBus) SubscriberCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

// processEvents 处理事件
func (b *SimpleEventBus) processEvents() {
	for {
		select {
		case event := <-b.eventChannel:
			b.mu.RLock()
			src := b.handlers[event.Type()]
			all := b.handlers[EventAll]
			handlers := make([]EventHandler, 0, len(src)+len(all))
			for _, h := range src {
				handlers = append(handlers, h)
			}
			for _, h := range all {
				handlers = append(handlers, h)
			}
			b.mu.RUnlock()

			for _, handler := range handlers {
				h := handler // capture loop variable
				go func() {
					defer func() {
						if r := recover(); r != nil {
							b.logger.Error("event handler panicked", zap.Any("recover", r))
						}
					}()
					h(event)
				}()
			}
		case <-b.done:
			return
		}
	}
}

// Stop 停止事件总线
func (b *SimpleEventBus) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
	})
}
