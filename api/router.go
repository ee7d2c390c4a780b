package api

import (
	"time"

	"aigateway/api/handlers/costs"
	"aigateway/api/handlers/generation"
	"aigateway/api/handlers/providers"
	usageHandlers "aigateway/api/handlers/usage"
	"aigateway/internal/ai"
	"aigateway/internal/infra/queue"
	"aigateway/internal/metrics"
	middlewarepkg "aigateway/internal/middleware"
	"aigateway/internal/usage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps 路由依赖
type Deps struct {
	Gateway      *ai.Gateway
	DB           *gorm.DB
	UsageStore   *usage.GormSink
	Redis        redis.UniversalClient // 可选
	Queue        *queue.Inspector      // 可选，用量走队列时提供
	RateLimiter  *middlewarepkg.RateLimiter
	Gatherer     prometheus.Gatherer // 为空时使用默认注册表
	PingInterval time.Duration
	Logger       *zap.Logger
}

// Handlers 所有 HTTP 处理器
type Handlers struct {
	Generation *generation.Handler
	Providers  *providers.Handler
	Costs      *costs.Handler
	Usage      *usageHandlers.Handler
}

// NewHandlers 按依赖构建处理器
func NewHandlers(d Deps) *Handlers {
	h := &Handlers{
		Generation: generation.NewHandler(d.Gateway, d.PingInterval, d.Logger),
		Providers:  providers.NewHandler(d.Gateway),
		Costs:      costs.NewHandler(d.Gateway.Billing()),
	}
	if d.UsageStore != nil {
		h.Usage = usageHandlers.NewHandler(d.UsageStore)
	}
	return h
}

// NewRouter 创建 Gin 路由
func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		middlewarepkg.RequestIDMiddleware(),
		RequestLogger(d.Logger),
		metrics.PrometheusMiddleware(),
		CORS(),
	)

	router.GET("/health", HealthCheck())
	router.GET("/ready", ReadinessCheck(d.DB, d.Redis, d.Queue))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))

	RegisterRoutes(router, d, NewHandlers(d))
	return router
}

// RegisterRoutes 注册 /api/v1 路由
func RegisterRoutes(router *gin.Engine, d Deps, h *Handlers) {
	apiV1 := router.Group("/api/v1")
	apiV1.Use(middlewarepkg.TenantContextMiddleware(), middlewarepkg.RateLimitByWorkspace(d.RateLimiter))

	// 计费接口必须带工作区
	billable := apiV1.Group("")
	billable.Use(middlewarepkg.RequireWorkspace(d.Logger))
	registerGenerationRoutes(billable, h)

	registerProviderRoutes(apiV1, h)
	registerCostRoutes(apiV1, h)

	if h.Usage != nil {
		billable.GET("/usage", h.Usage.List)
	}
}

func registerGenerationRoutes(g *gin.RouterGroup, h *Handlers) {
	g.POST("/chat", h.Generation.Chat)
	g.POST("/chat/stream", h.Generation.StreamChat)

	images := g.Group("/images")
	{
		images.POST("", h.Generation.GenerateImage)
		images.POST("/edit", h.Generation.ImageToImage)
		images.POST("/upscale", h.Generation.Upscale)
	}

	videos := g.Group("/videos")
	{
		videos.POST("", h.Generation.GenerateVideo)
		videos.POST("/from-image", h.Generation.ImageToVideo)
		videos.GET("/:provider/:jobId", h.Generation.GetVideoStatus)
	}

	g.POST("/voice", h.Generation.TextToSpeech)
}

func registerProviderRoutes(g *gin.RouterGroup, h *Handlers) {
	p := g.Group("/providers")
	{
		p.GET("", h.Providers.List)
		p.GET("/health", h.Providers.Health)
		p.GET("/stats", h.Providers.Stats)
		p.POST("/:provider/reset", h.Providers.ResetHealth)
	}
}

func registerCostRoutes(g *gin.RouterGroup, h *Handlers) {
	c := g.Group("/costs")
	{
		c.POST("/calculate", h.Costs.Calculate)
		c.POST("/estimate", h.Costs.Estimate)
		c.POST("/compare", h.Costs.Compare)
	}
}
