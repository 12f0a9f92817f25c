package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/socialflow/events"
)

// 每个连接的事件缓冲，写不过来时丢弃
const streamBufferSize = 64

// =============================================================================
// 📡 事件流 Handler
// =============================================================================

// StreamHandler 把事件总线桥接到 WebSocket 连接
type StreamHandler struct {
	bus    events.EventBus
	logger *zap.Logger
}

// NewStreamHandler 创建事件流处理器
func NewStreamHandler(bus events.EventBus, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		bus:    bus,
		logger: logger.With(zap.String("handler", "stream")),
	}
}

// EventMessage 推送给客户端的事件信封
type EventMessage struct {
	Type      events.EventType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Data      events.Event     `json:"data"`
}

// HandleEvents 处理 GET /ws/events：订阅全部事件并推送到连接。
func (h *StreamHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // 跨域由 CORS 中间件统一把关
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	ch := make(chan events.Event, streamBufferSize)

	subID := h.bus.Subscribe(events.EventAll, func(e events.Event) {
		select {
		case ch <- e:
		default:
			// 消费不过来就丢，不阻塞总线
		}
	})
	defer h.bus.Unsubscribe(subID)

	h.logger.Info("event stream opened", zap.String("remote", r.RemoteAddr))

	// 读泵只用于感知客户端断开
	readCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(readCtx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-readCtx.Done():
			h.logger.Info("event stream closed", zap.String("remote", r.RemoteAddr))
			conn.Close(websocket.StatusNormalClosure, "")
			return

		case event := <-ch:
			writeCtx, writeCancel := context.WithTimeout(readCtx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, EventMessage{
				Type:      event.Type(),
				Timestamp: event.Timestamp(),
				Data:      event,
			})
			writeCancel()
			if err != nil {
				h.logger.Warn("event stream write failed", zap.Error(err))
				return
			}
		}
	}
}
