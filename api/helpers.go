package api

import (
	"context"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"aigateway/internal/infra"
	"aigateway/internal/infra/queue"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// ReadinessResponse 就绪检查响应
type ReadinessResponse struct {
	Status   string         `json:"status"`
	Reason   string         `json:"reason,omitempty"`
	Database string         `json:"database,omitempty"`
	Redis    string         `json:"redis,omitempty"`
	Queue    *queue.Backlog `json:"queue,omitempty"`
}

// HealthCheck 存活检查
// @Summary 服务健康检查
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func HealthCheck() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Service: "aigateway"})
	}
}

// ReadinessCheck 就绪检查：数据库必查，Redis 与用量队列按配置检查
// @Summary 服务就绪检查
// @Tags System
// @Produce json
// @Success 200 {object} ReadinessResponse
// @Failure 503 {object} ReadinessResponse
// @Router /ready [get]
func ReadinessCheck(db *gorm.DB, rdb redis.UniversalClient, inspector *queue.Inspector) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		resp := ReadinessResponse{Status: "ready"}
		if err := infra.HealthCheck(ctx, db); err != nil {
			c.JSON(http.StatusServiceUnavailable, ReadinessResponse{Status: "not_ready", Reason: "database ping failed"})
			return
		}
		resp.Database = "connected"

		if rdb != nil {
			if err := infra.HealthCheckRedis(ctx, rdb); err != nil {
				c.JSON(http.StatusServiceUnavailable, ReadinessResponse{
					Status: "not_ready", Reason: "redis ping failed", Database: resp.Database,
				})
				return
			}
			resp.Redis = "connected"
		}

		if inspector != nil {
			// 积压只做展示，不影响就绪
			if backlog, err := inspector.Backlog(); err == nil {
				resp.Queue = &backlog
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}

// --- 环境变量辅助函数 ---

// getEnvList 读取逗号分隔的环境变量列表
func getEnvList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var res []string
	for _, p := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(p); v != "" {
			res = append(res, v)
		}
	}
	return res
}

// stringInSlice 判断字符串是否存在于切片中
func stringInSlice(target string, list []string) bool {
	return slices.Contains(list, target)
}

// defaultIfEmpty 返回非空列表或默认值
func defaultIfEmpty(list []string, def []string) []string {
	if len(list) == 0 {
		return def
	}
	return list
}
