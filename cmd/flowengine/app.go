package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/flowengine/config"
	"github.com/BaSui01/flowengine/internal/cache"
	"github.com/BaSui01/flowengine/internal/database"
	"github.com/BaSui01/flowengine/internal/metrics"
	"github.com/BaSui01/flowengine/internal/server"
	"github.com/BaSui01/flowengine/internal/telemetry"
	"github.com/BaSui01/flowengine/knowledge"
	"github.com/BaSui01/flowengine/llm"
	"github.com/BaSui01/flowengine/llm/providers/openai"
	"github.com/BaSui01/flowengine/sandbox"
	"github.com/BaSui01/flowengine/store"
	"github.com/BaSui01/flowengine/workflow"
	"github.com/BaSui01/flowengine/workflow/hitl"
)

// =============================================================================
// 🧩 依赖装配
// =============================================================================

// app 持有一次命令执行所需的全部协作者
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	db        *database.PoolManager
	redis     *cache.Manager
	flows     *store.FlowRepository
	flowCache *store.CachedFlowLoader
	events    hitl.Registry
	collector *metrics.Collector
	otel      *telemetry.Providers
	obs       *server.Manager

	deps workflow.Dependencies
}

type appOptions struct {
	// 需要 Redis（事件注册表后端为 redis 时总是需要）
	needRedis bool
	// 观测端点监听地址，空表示不启动
	metricsAddr string
}

func newApp(cfg *config.Config, logger *zap.Logger, opts appOptions) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.db, err = database.Open(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.Database.Driver == "sqlite" {
		if err = store.AutoMigrate(a.db.DB()); err != nil {
			return nil, fmt.Errorf("auto-migrate sqlite: %w", err)
		}
	}
	a.flows = store.NewFlowRepository(a.db, logger)

	if cfg.Metrics.Enabled {
		a.collector = metrics.NewCollector(cfg.Metrics.Namespace, nil, logger)
	}

	if opts.needRedis || cfg.EventRegistry.Backend == "redis" {
		a.redis, err = cache.NewManager(cache.ConfigFrom(cfg.Redis), logger)
		if err != nil {
			return nil, err
		}
	}

	var flowLoader workflow.FlowLoader = a.flows
	if a.redis != nil && cfg.Redis.FlowCacheTTL > 0 {
		var recorder store.CacheRecorder
		if a.collector != nil {
			recorder = a.collector
		}
		a.flowCache = store.NewCachedFlowLoader(a.flows, a.redis, cfg.Redis.FlowCacheTTL, recorder, logger)
		flowLoader = a.flowCache
	}

	switch cfg.EventRegistry.Backend {
	case "redis":
		a.events = hitl.NewRedisRegistry(a.redis, cfg.EventRegistry.KeyPrefix, cfg.EventRegistry.ResumeExpire, logger)
	default:
		a.events = hitl.NewMemoryRegistry(cfg.EventRegistry.ResumeExpire, logger)
	}

	a.otel, err = telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry, tracing disabled", zap.Error(err))
		a.otel, err = nil, nil
	}

	a.deps = workflow.Dependencies{
		Provider:     newProvider(cfg.LLM, logger),
		Retriever:    knowledge.NewClient(knowledge.ConfigFrom(cfg.Knowledge), logger),
		CodeExecutor: newCodeExecutor(cfg.Sandbox, logger),
		Events:       a.events,
		Flows:        flowLoader,
		History:      store.NewHistoryStore(a.db, logger),
		Tracer:       a.otel.Tracer(),
		Logger:       logger,
		Config:       cfg,
	}
	if a.collector != nil {
		a.deps.Metrics = a.collector
	}

	if opts.metricsAddr != "" {
		if err = a.startObservability(opts.metricsAddr); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func newProvider(cfg config.LLMConfig, logger *zap.Logger) llm.Provider {
	p := openai.New(openai.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
	}, logger)
	return llm.NewRateLimitedProvider(p, cfg.RateLimitRPS, cfg.RateLimitBurst, logger)
}

func newCodeExecutor(cfg config.SandboxConfig, logger *zap.Logger) sandbox.CodeExecutor {
	backends := map[sandbox.Mode]sandbox.Backend{
		sandbox.ModeLocal: sandbox.NewLocalBackend(cfg.PythonPath, cfg.DeniedImports, cfg.MaxOutputBytes, logger),
	}
	if cfg.RemoteURL != "" {
		breaker := sandbox.NewBreaker("sandbox-remote", sandbox.BreakerConfig{
			FailureThreshold:  cfg.BreakerThreshold,
			RecoveryTimeout:   cfg.BreakerTimeout,
			HalfOpenMaxProbes: 1,
			SuccessThreshold:  1,
		}, logger)
		client := &http.Client{Timeout: cfg.Timeout}
		backends[sandbox.ModeRemote] = sandbox.NewRemoteBackend(cfg.RemoteURL, client, breaker, logger)
	}
	return sandbox.NewExecutor(sandbox.ConfigFrom(cfg), backends, logger)
}

func (a *app) startObservability(addr string) error {
	var metricsHandler http.Handler
	if a.collector != nil {
		metricsHandler = a.collector.Handler()
	}
	checks := map[string]server.HealthCheck{"database": a.db.Ping}
	if a.redis != nil {
		checks["redis"] = a.redis.Ping
	}

	cfg := server.DefaultConfig()
	cfg.Addr = addr
	a.obs = server.NewManager(server.NewObservabilityHandler(metricsHandler, checks), cfg, a.logger)
	return a.obs.Start()
}

// recordPoolStats 将连接池状态写入指标
func (a *app) recordPoolStats() {
	if a.collector == nil || a.db == nil {
		return
	}
	s := a.db.Stats()
	a.collector.RecordDBConnections(s.OpenConnections, s.InUse, s.Idle)
}

// Close 按依赖逆序释放资源
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.obs != nil {
		errs = append(errs, a.obs.Shutdown(ctx))
	}
	if a.otel != nil {
		errs = append(errs, a.otel.Shutdown(ctx))
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
