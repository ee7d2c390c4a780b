package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"aigateway/api/handlers/common"

	"github.com/gin-gonic/gin"
)

// RateLimiterConfig 限流配置
type RateLimiterConfig struct {
	RequestsPerMinute int           // 每分钟补充的令牌数
	BurstSize         int           // 桶容量，默认等于 RequestsPerMinute
	IdleTTL           time.Duration // 空闲多久后回收状态
}

// clientState 单个工作区的令牌桶
type clientState struct {
	tokens     float64
	lastUpdate time.Time
}

// RateLimiter 按键限流（令牌桶）
type RateLimiter struct {
	config  RateLimiterConfig
	clients map[string]*clientState
	mu      sync.Mutex
	now     func() time.Time
}

// NewRateLimiter 创建限流器，RequestsPerMinute <= 0 时返回 nil（不限流）
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.RequestsPerMinute <= 0 {
		return nil
	}
	if config.BurstSize <= 0 {
		config.BurstSize = config.RequestsPerMinute
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = 10 * time.Minute
	}
	return &RateLimiter{
		config:  config,
		clients: make(map[string]*clientState),
		now:     time.Now,
	}
}

// Allow 检查是否允许请求
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	state, exists := rl.clients[key]
	if !exists {
		rl.clients[key] = &clientState{
			tokens:     float64(rl.config.BurstSize - 1),
			lastUpdate: now,
		}
		return true
	}

	elapsed := now.Sub(state.lastUpdate).Minutes()
	state.tokens += elapsed * float64(rl.config.RequestsPerMinute)
	if state.tokens > float64(rl.config.BurstSize) {
		state.tokens = float64(rl.config.BurstSize)
	}
	state.lastUpdate = now

	if state.tokens < 1 {
		return false
	}
	state.tokens--
	return true
}

// Sweep 回收空闲状态，返回剩余条目数
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for key, state := range rl.clients {
		if now.Sub(state.lastUpdate) > rl.config.IdleTTL {
			delete(rl.clients, key)
		}
	}
	return len(rl.clients)
}

// Run 定期回收，ctx 取消后返回
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(rl.config.IdleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Sweep()
		}
	}
}

// RateLimitByWorkspace 按工作区限流，没有工作区时按客户端 IP
func RateLimitByWorkspace(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		key := c.GetString("workspace_id")
		if key == "" {
			key = "ip:" + c.ClientIP()
		}

		if !limiter.Allow(key) {
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(limiter.config.RequestsPerMinute)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, common.ErrorResponse{
				Success: false,
				Code:    "rate_limited",
				Message: "请求过于频繁，请稍后重试",
			})
			return
		}
		c.Next()
	}
}

func retryAfterSeconds(perMinute int) int {
	s := 60 / perMinute
	if s < 1 {
		return 1
	}
	return s
}
