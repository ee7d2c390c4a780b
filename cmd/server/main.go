package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"aigateway/api"
	"aigateway/internal/ai"
	"aigateway/internal/billing"
	"aigateway/internal/config"
	"aigateway/internal/health"
	"aigateway/internal/infra"
	"aigateway/internal/infra/queue"
	"aigateway/internal/logger"
	"aigateway/internal/metrics"
	"aigateway/internal/middleware"
	"aigateway/internal/resilience"
	"aigateway/internal/secret"
	"aigateway/internal/usage"
	"aigateway/internal/worker"
	"aigateway/pkg/aiinterface"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// runtime 运行期需要在关闭时释放的组件
type runtime struct {
	server      *http.Server
	tracker     *usage.Tracker
	worker      *worker.Server
	queueClient *queue.Client
	inspector   *queue.Inspector
	redis       redis.UniversalClient
	db          *gorm.DB
	cancel      context.CancelFunc
}

func main() {
	// 0. 统一加载 .env，便于集中管理 APP_* 环境变量
	loadEnvFile()

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	// 1. 加载配置
	cfg, err := config.Load(env, os.Getenv("APP_CONFIG_PATH"))
	if err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("AI 网关启动中...",
		zap.String("env", env),
		zap.String("mode", cfg.Server.Mode),
		zap.String("usage_sink", cfg.Gateway.Usage.Sink),
	)

	rt, err := bootstrap(cfg)
	if err != nil {
		logger.Fatal("初始化失败", zap.Error(err))
	}

	go func() {
		logger.Info("HTTP 服务器启动", zap.Int("port", cfg.Server.Port))
		if err := rt.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP 服务器启动失败", zap.Error(err))
		}
	}()

	gracefulShutdown(rt)
}

// bootstrap 按依赖顺序构建所有组件
func bootstrap(cfg *config.Config) (*runtime, error) {
	log := logger.Get()
	ctx, cancel := context.WithCancel(context.Background())
	rt := &runtime{cancel: cancel}

	// 数据库
	db, err := infra.InitDatabase(&cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}
	rt.db = db

	usageStore := usage.NewGormSink(db)
	migrators := []infra.Migrator{usageStore}

	var credStore *secret.GormStore
	if seed := cfg.Gateway.Secrets.EncryptionSeed; seed != "" {
		cipher, err := secret.NewCipher(seed)
		if err != nil {
			return nil, err
		}
		credStore = secret.NewGormStore(db, cipher)
		migrators = append(migrators, credStore)
	} else {
		log.Warn("未配置凭证加密种子，数据库凭证存储已禁用")
	}

	if cfg.Database.AutoMigrate {
		if err := infra.AutoMigrate(log, migrators...); err != nil {
			return nil, fmt.Errorf("数据库迁移失败: %w", err)
		}
	} else {
		log.Info("跳过自动迁移（配置已禁用）")
	}

	// Redis
	if cfg.Redis.Enabled {
		rdb, err := infra.InitRedis(ctx, &cfg.Redis, log)
		if err != nil {
			return nil, fmt.Errorf("初始化 Redis 失败: %w", err)
		}
		rt.redis = rdb
	}

	gwMetrics := metrics.NewGateway(prometheus.DefaultRegisterer)

	// 计费
	catalog := billing.DefaultCatalog(
		billing.WithCatalogLogger(log.Named("billing")),
		billing.WithFallbackCounter(gwMetrics.PricingFallback),
	)
	if path := cfg.Gateway.Billing.CatalogPath; path != "" {
		if err := catalog.LoadCatalogFile(path); err != nil {
			return nil, fmt.Errorf("加载价格目录失败: %w", err)
		}
		log.Info("已加载价格覆盖文件", zap.String("path", path))
	}
	policy, err := billing.NewPolicy(cfg.Gateway.Billing.Markup, cfg.Gateway.Billing.Increment)
	if err != nil {
		return nil, err
	}
	var counter billing.TokenCounter
	if cfg.Gateway.Billing.Tiktoken {
		counter = billing.NewTiktokenCounter()
	}
	engine := billing.NewEngine(catalog, policy, counter)

	// 凭证
	var sources []secret.Source
	if credStore != nil {
		sources = append(sources, credStore)
	}
	if project := cfg.Gateway.Secrets.GCPProject; project != "" {
		sm, err := secret.NewDefaultGCPSecretManager(ctx, project)
		if err != nil {
			return nil, fmt.Errorf("初始化 Secret Manager 失败: %w", err)
		}
		sources = append(sources, sm)
	}
	resolver := secret.NewResolver(sources,
		secret.WithTTL(cfg.Gateway.Secrets.CacheTTL),
		secret.WithLogger(log.Named("secret")),
	)

	registry, err := ai.BuildRegistry(ai.FactoryOptions{
		Keys:      resolver,
		Catalog:   catalog,
		Providers: providerSettings(cfg.Gateway.Providers, log),
		Logger:    log.Named("adapter"),
	})
	if err != nil {
		return nil, fmt.Errorf("构建提供商注册表失败: %w", err)
	}

	healthTracker := health.NewTracker(
		health.Policy{
			FailureThreshold: cfg.Gateway.Health.FailureThreshold,
			Cooldown:         cfg.Gateway.Health.Cooldown,
		},
		health.WithLogger(log.Named("health")),
		health.WithGauge(gwMetrics.ProviderHealthy),
	)

	// 用量
	var sink usage.Sink = usageStore
	if cfg.Gateway.Usage.Sink == "queue" {
		redisOpt := infra.AsynqRedisOpt(&cfg.Redis)
		rt.queueClient = queue.NewClient(redisOpt, queue.Options{
			Queue:    cfg.Queue.Queue,
			MaxRetry: cfg.Queue.MaxRetry,
		}, log.Named("queue"))
		sink = rt.queueClient.Sink()

		rt.worker = worker.NewServer(redisOpt, cfg.Queue, usageStore, log.Named("worker"))
		if err := rt.worker.Start(); err != nil {
			return nil, fmt.Errorf("启动用量 Worker 失败: %w", err)
		}
		rt.inspector = queue.NewInspector(redisOpt, cfg.Queue.Queue)
	}
	rt.tracker = usage.NewTracker(sink, usage.Options{
		BatchSize:     cfg.Gateway.Usage.BatchSize,
		FlushInterval: cfg.Gateway.Usage.FlushInterval,
		Logger:        log.Named("usage"),
		BufferGauge:   gwMetrics.UsageBuffer,
		FlushCounter:  gwMetrics.UsageFlushes,
	})
	rt.tracker.Start()

	var jobs ai.VideoJobStore
	if cfg.Gateway.VideoJobs.Store == "redis" {
		jobs = ai.NewRedisVideoJobStore(rt.redis, cfg.Gateway.VideoJobs.TTL)
	} else {
		jobs = ai.NewMemoryVideoJobStore()
	}

	monitor := ai.NewPerformanceMonitor(0, prometheus.DefaultRegisterer)
	go monitor.Run(ctx, time.Minute)

	gateway, err := ai.NewGateway(ai.Options{
		Registry: registry,
		Billing:  engine,
		Health:   healthTracker,
		Usage:    rt.tracker,
		Jobs:     jobs,
		Retry: resilience.RetryPolicy{
			MaxRetries: cfg.Gateway.Resilience.MaxRetries,
			BaseDelay:  cfg.Gateway.Resilience.BaseDelay,
			MaxDelay:   cfg.Gateway.Resilience.MaxDelay,
		},
		Timeout: cfg.Gateway.Resilience.Timeout,
		Metrics: gwMetrics,
		Monitor: monitor,
		Logger:  log.Named("gateway"),
		Tracer:  otel.Tracer("aigateway/gateway"),
	})
	if err != nil {
		return nil, fmt.Errorf("创建网关失败: %w", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		go metrics.NewSystemCollector(sqlDB, 15*time.Second).Run(ctx)
	}

	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RequestsPerMinute: cfg.Server.RateLimit,
	})
	if limiter != nil {
		go limiter.Run(ctx)
	}

	gin.SetMode(cfg.Server.Mode)
	router := api.NewRouter(api.Deps{
		Gateway:      gateway,
		DB:           db,
		UsageStore:   usageStore,
		Redis:        rt.redis,
		Queue:        rt.inspector,
		RateLimiter:  limiter,
		PingInterval: cfg.Gateway.Stream.PingInterval,
		Logger:       log,
	})

	rt.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     router,
		ReadTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		// 流式接口的写超时由网关单独控制，这里只兜底
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	log.Info("网关组件就绪",
		zap.Int("modalities", len(gateway.AvailableProviders())),
		zap.String("video_jobs", cfg.Gateway.VideoJobs.Store),
	)
	return rt, nil
}

// providerSettings 将配置中的提供商名称解析为枚举，未知名称记录告警后忽略
func providerSettings(in map[string]config.ProviderConfig, log *zap.Logger) map[aiinterface.Provider]ai.ProviderSettings {
	out := make(map[aiinterface.Provider]ai.ProviderSettings, len(in))
	for name, pc := range in {
		p, err := aiinterface.ParseProvider(name)
		if err != nil {
			log.Warn("忽略未知提供商配置", zap.String("provider", name))
			continue
		}
		out[p] = ai.ProviderSettings{
			BaseURL: pc.BaseURL,
			Enabled: pc.Enabled,
			Timeout: pc.Timeout,
		}
	}
	return out
}

// loadEnvFile 依次尝试加载当前目录及上级目录的 .env 文件
func loadEnvFile() {
	if path := resolveEnvPath(); path != "" {
		if err := godotenv.Load(path); err != nil {
			fmt.Printf("加载环境变量文件 %s 失败: %v\n", path, err)
		} else {
			fmt.Printf("已加载环境变量文件: %s\n", path)
		}
	} else {
		fmt.Println("未找到 .env 文件，将仅使用系统环境变量和 config/* 配置")
	}
}

// resolveEnvPath 从当前工作目录、可执行文件目录向上查找 .env
func resolveEnvPath() string {
	for _, path := range collectEnvCandidates() {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func collectEnvCandidates() []string {
	seen := make(map[string]struct{})
	var candidates []string
	traverse := func(start string) {
		dir := filepath.Clean(start)
		for i := 0; i < 8; i++ {
			if dir == "" || dir == string(filepath.Separator) || dir == "." {
				break
			}
			path := filepath.Join(dir, ".env")
			if _, ok := seen[path]; !ok {
				seen[path] = struct{}{}
				candidates = append(candidates, path)
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	if wd, err := os.Getwd(); err == nil {
		traverse(wd)
	}
	if exe, err := os.Executable(); err == nil {
		traverse(filepath.Dir(exe))
	}
	return candidates
}

// gracefulShutdown 优雅关闭：先停止接收请求，再刷写用量，最后释放连接
func gracefulShutdown(rt *runtime) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := rt.server.Shutdown(ctx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}

	// 缓冲区中的用量必须在 Worker 与连接关闭前落库或入队
	if err := rt.tracker.Stop(ctx); err != nil {
		logger.Error("用量刷写失败", zap.Error(err), zap.Int("pending", rt.tracker.Len()))
	}
	rt.cancel()

	if rt.worker != nil {
		rt.worker.Shutdown()
	}
	if rt.queueClient != nil {
		if err := rt.queueClient.Close(); err != nil {
			logger.Error("队列客户端关闭异常", zap.Error(err))
		}
	}
	if rt.inspector != nil {
		_ = rt.inspector.Close()
	}
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			logger.Error("Redis 关闭异常", zap.Error(err))
		}
	}
	if err := infra.CloseDatabase(rt.db); err != nil {
		logger.Error("数据库关闭异常", zap.Error(err))
	}

	logger.Info("服务器已安全关闭")
}
