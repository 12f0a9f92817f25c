package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/socialflow/api/handlers"
	"github.com/BaSui01/socialflow/config"
	"github.com/BaSui01/socialflow/engine"
	"github.com/BaSui01/socialflow/events"
	"github.com/BaSui01/socialflow/internal/cache"
	"github.com/BaSui01/socialflow/internal/metrics"
	"github.com/BaSui01/socialflow/internal/server"
	"github.com/BaSui01/socialflow/internal/store"
	"github.com/BaSui01/socialflow/internal/telemetry"
	"github.com/BaSui01/socialflow/llm"
	"github.com/BaSui01/socialflow/providers"
	"github.com/BaSui01/socialflow/providers/deepseek"
	"github.com/BaSui01/socialflow/providers/qwen"
	"github.com/BaSui01/socialflow/scheduler"
	"github.com/BaSui01/socialflow/state"
	"github.com/BaSui01/socialflow/strategy"
	"github.com/BaSui01/socialflow/workflow"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 SocialFlow 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 核心组件
	collector *metrics.Collector
	otel      *telemetry.Providers
	stores    *store.Stores
	cache     *cache.Manager
	bus       events.EventBus
	states    *state.Manager
	engine    *engine.Engine
	strategy  *strategy.Manager
	scheduler *scheduler.Scheduler
	runner    *workflow.Runner
	reviews   *workflow.ReviewManager

	// Handlers
	healthHandler      *handlers.HealthHandler
	contentHandler     *handlers.ContentHandler
	interactionHandler *handlers.InteractionHandler
	analyticsHandler   *handlers.AnalyticsHandler
	workflowHandler    *handlers.WorkflowHandler
	taskHandler        *handlers.TaskHandler
	streamHandler      *handlers.StreamHandler

	// 后台生命周期
	cancelBackground context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有组件和服务器
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelBackground = cancel

	// 1. 指标收集器与遥测
	s.collector = metrics.NewCollector("socialflow", s.logger)

	otelProviders, err := telemetry.Init(s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	} else {
		s.otel = otelProviders
	}

	// 2. 存储层
	if err := s.initStorage(); err != nil {
		return fmt.Errorf("failed to init storage: %w", err)
	}

	// 3. 事件总线与状态管理
	s.bus = events.NewEventBusWithMetrics(s.collector, s.logger)
	s.initStateManager()
	go s.dbStatsLoop(ctx)

	// 4. LLM 引擎与策略
	if err := s.initEngine(); err != nil {
		return fmt.Errorf("failed to init llm engine: %w", err)
	}
	s.initStrategy(ctx)

	// 5. 任务调度器
	if err := s.initScheduler(ctx); err != nil {
		return fmt.Errorf("failed to init scheduler: %w", err)
	}
	go s.contentSweepLoop(ctx)

	// 6. 内容工作流
	s.initWorkflow()

	// 7. HTTP Handlers 与服务器
	s.initHandlers()

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initStorage 打开数据库与 Redis。数据库是硬依赖；Redis 不可用时降级为
// 内存实现（热点榜单与报表缓存不可用）。
func (s *Server) initStorage() error {
	stores, err := store.Open(s.cfg.Database, s.logger)
	if err != nil {
		return err
	}
	s.stores = stores

	cacheMgr, err := cache.NewManager(cache.Config{
		Addr:         s.cfg.Redis.Addr,
		Password:     s.cfg.Redis.Password,
		DB:           s.cfg.Redis.DB,
		PoolSize:     s.cfg.Redis.PoolSize,
		MinIdleConns: s.cfg.Redis.MinIdleConns,
	}, s.logger)
	if err != nil {
		s.logger.Warn("Redis not available, running with in-memory fallbacks", zap.Error(err))
	} else {
		s.cache = cacheMgr.WithMetrics(s.collector)
	}
	return nil
}

// dbStatsLoop 周期性采样连接池状态
func (s *Server) dbStatsLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sqlDB, err := s.stores.DB().DB()
			if err != nil {
				continue
			}
			stats := sqlDB.Stats()
			s.collector.RecordDBConnections(s.cfg.Database.Driver, stats.OpenConnections, stats.Idle)
		case <-ctx.Done():
			return
		}
	}
}

// contentSweepLoop 周期性重新投递排期已过却仍未发布的内容
func (s *Server) contentSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sweepOverdueScheduled(ctx, s.stores.Contents, s.scheduler, 10*time.Minute, s.logger)
		case <-ctx.Done():
			return
		}
	}
}

// initStateManager 构建状态管理器并订阅任务状态变更，
// 每次变更都会追加一个可回溯的快照。
func (s *Server) initStateManager() {
	var backing state.Store
	if s.cache != nil {
		backing = state.NewRedisStore(s.cache.Client(), "socialflow:state")
	} else {
		backing = state.NewMemoryStore()
	}
	s.states = state.NewManager(backing, s.logger)

	s.bus.Subscribe(events.EventTaskStateChanged, func(e events.Event) {
		evt, ok := e.(*events.TaskStateChangedEvent)
		if !ok {
			return
		}
		updates := map[string]any{
			"kind":     evt.Kind,
			"status":   string(evt.ToStatus),
			"attempts": evt.Attempts,
		}
		if evt.Error != "" {
			updates["last_error"] = evt.Error
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := s.states.Put(ctx, "task:"+evt.TaskID, updates); err != nil {
			s.logger.Warn("failed to record task state snapshot",
				zap.String("task_id", evt.TaskID), zap.Error(err))
		}
	})
}

// initEngine 按配置选择 Provider 并包上重试层
func (s *Server) initEngine() error {
	var provider llm.Provider
	switch s.cfg.LLM.DefaultProvider {
	case "qwen":
		provider = qwen.NewQwenProvider(providers.QwenConfig{
			APIKey:  s.cfg.LLM.APIKey,
			BaseURL: s.cfg.LLM.BaseURL,
			Model:   s.cfg.LLM.Model,
			Timeout: s.cfg.LLM.Timeout,
		}, s.logger)
	case "deepseek":
		provider = deepseek.NewDeepSeekProvider(providers.DeepSeekConfig{
			APIKey:  s.cfg.LLM.APIKey,
			BaseURL: s.cfg.LLM.BaseURL,
			Model:   s.cfg.LLM.Model,
			Timeout: s.cfg.LLM.Timeout,
		}, s.logger)
	default:
		return fmt.Errorf("unsupported llm provider: %s", s.cfg.LLM.DefaultProvider)
	}

	retryCfg := llm.DefaultRetryConfig()
	if s.cfg.LLM.MaxRetries > 0 {
		retryCfg.MaxRetries = s.cfg.LLM.MaxRetries
	}
	wrapped := llm.WithRetry(provider, retryCfg, s.logger)

	s.engine = engine.New(wrapped, s.logger,
		engine.WithTokenBudget(s.cfg.LLM.TokenBudget),
		engine.WithMetrics(s.collector),
	)

	s.logger.Info("LLM engine initialized",
		zap.String("provider", s.cfg.LLM.DefaultProvider),
		zap.String("model", s.cfg.LLM.Model))
	return nil
}

// initStrategy 热点话题与发布窗口。Redis 不可用时榜单退化为进程内实现。
func (s *Server) initStrategy(ctx context.Context) {
	if s.cache == nil {
		s.logger.Warn("hot topics running in-memory: no Redis connection")
	}
	s.strategy = strategy.NewManager(s.cache, s.bus, s.cfg.Strategy, s.logger)
	s.strategy.StartRefreshLoop(ctx)
}

// initScheduler 创建调度器并注册任务处理器
func (s *Server) initScheduler(ctx context.Context) error {
	s.scheduler = scheduler.New(s.cfg.Scheduler, s.stores.Tasks, s.bus, s.collector, s.logger)
	s.registerTaskHandlers()
	return s.scheduler.Start(ctx)
}

// initWorkflow 构建检查点存储、审核管理器与内容生产流水线
func (s *Server) initWorkflow() {
	var checkpoints workflow.CheckpointStore
	if s.cfg.Workflow.CheckpointStore == "redis" && s.cache != nil {
		checkpoints = workflow.NewRedisCheckpointStore(s.cache.Client(), "socialflow:ckpt")
	} else {
		checkpoints = workflow.NewInMemoryCheckpointStore()
	}

	s.reviews = workflow.NewReviewManager(s.cfg.Workflow.ReviewTimeout, s.bus, s.collector, s.logger)
	s.runner = workflow.NewRunner(checkpoints, s.bus, s.collector, s.logger)

	s.runner.Register(workflow.NewContentPipeline(workflow.PipelineDeps{
		Engine:    s.engine,
		Strategy:  s.strategy,
		Contents:  s.stores.Contents,
		Scheduler: s.scheduler,
		Reviews:   s.reviews,
		Logger:    s.logger,
	}))
}

// initHandlers 初始化所有 HTTP handlers
func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewPingCheck("database", s.stores.Ping))
	if s.cache != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("redis", s.cache.Ping))
	}

	s.contentHandler = handlers.NewContentHandler(s.stores.Contents, s.bus, s.logger)
	s.interactionHandler = handlers.NewInteractionHandler(s.stores.Interactions, s.stores.Contents, s.engine, s.strategy, s.bus, s.logger)
	s.analyticsHandler = handlers.NewAnalyticsHandler(s.stores.Analytics, s.cache, s.logger)
	s.workflowHandler = handlers.NewWorkflowHandler(s.runner, s.reviews, s.logger)
	s.taskHandler = handlers.NewTaskHandler(s.scheduler, s.stores.Tasks, s.states, s.logger)
	s.streamHandler = handlers.NewStreamHandler(s.bus, s.logger)
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 注册路由并启动 API 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// ========================================
	// 健康检查端点
	// ========================================
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// ========================================
	// API 路由
	// ========================================
	mux.HandleFunc("/api/v1/content", s.contentHandler.HandleContent)
	mux.HandleFunc("/api/v1/content/search", s.contentHandler.HandleSearch)
	mux.HandleFunc("/api/v1/content/", s.contentHandler.HandleContentByID)

	mux.HandleFunc("/api/v1/interaction", s.interactionHandler.HandleInteractions)
	mux.HandleFunc("/api/v1/interaction/", s.interactionHandler.HandleInteractionByID)

	mux.HandleFunc("/api/v1/analytics/metrics", s.analyticsHandler.HandleMetrics)
	mux.HandleFunc("/api/v1/analytics/report", s.analyticsHandler.HandleReport)

	mux.HandleFunc("/api/v1/workflow", s.workflowHandler.HandleList)
	mux.HandleFunc("/api/v1/workflow/run", s.workflowHandler.HandleRun)
	mux.HandleFunc("/api/v1/workflow/resume", s.workflowHandler.HandleResume)
	mux.HandleFunc("/api/v1/workflow/interrupts", s.workflowHandler.HandleInterrupts)
	mux.HandleFunc("/api/v1/workflow/checkpoints", s.workflowHandler.HandleCheckpoints)

	mux.HandleFunc("/api/v1/tasks", s.taskHandler.HandleTasks)
	mux.HandleFunc("/api/v1/tasks/", s.taskHandler.HandleTaskByID)

	// 事件流（websocket 自己管理连接生命周期，不走限流）
	mux.HandleFunc("/ws/events", s.streamHandler.HandleEvents)

	// ========================================
	// 中间件链
	// ========================================
	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/ws/events"}
	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		RequestLogger(s.logger),
		CORS(nil),
		MetricsMiddleware(s.collector),
		RateLimiter(float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst),
	}
	if s.cfg.Auth.Enabled {
		middlewares = append(middlewares, JWTAuth(s.cfg.Auth, skipAuthPaths, s.logger))
	}
	handler := Chain(mux, middlewares...)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// startMetricsServer 启动 Prometheus 指标服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有组件，先停入口再停后台
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	if s.scheduler != nil {
		if err := s.scheduler.Stop(ctx); err != nil {
			s.logger.Error("Scheduler shutdown error", zap.Error(err))
		}
	}
	if s.strategy != nil {
		s.strategy.Stop()
	}
	if s.cancelBackground != nil {
		s.cancelBackground()
	}
	if s.bus != nil {
		s.bus.Stop()
	}

	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Error("Cache shutdown error", zap.Error(err))
		}
	}
	if s.stores != nil {
		if err := s.stores.Close(); err != nil {
			s.logger.Error("Database shutdown error", zap.Error(err))
		}
	}
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
