package middleware

import (
	"net/http"
	"strings"

	"aigateway/api/handlers/common"
	"aigateway/internal/tenant"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 计费归属请求头
const (
	HeaderWorkspaceID = "X-Workspace-ID"
	HeaderProjectID   = "X-Project-ID"
	HeaderAgentID     = "X-Agent-ID"
)

// TenantContextMiddleware 从请求头读取工作区、项目、Agent 并注入 context
// 缺少工作区时不拦截，计费接口另行用 RequireWorkspace 校验
func TenantContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tc := tenant.TenantContext{
			WorkspaceID: strings.TrimSpace(c.GetHeader(HeaderWorkspaceID)),
			ProjectID:   strings.TrimSpace(c.GetHeader(HeaderProjectID)),
			AgentID:     strings.TrimSpace(c.GetHeader(HeaderAgentID)),
		}
		if tc.WorkspaceID != "" {
			c.Set("workspace_id", tc.WorkspaceID)
			c.Request = c.Request.WithContext(tenant.WithTenantContext(c.Request.Context(), tc))
		}
		c.Next()
	}
}

// RequireWorkspace 计费接口必须带工作区
func RequireWorkspace(log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		if tc, ok := tenant.FromContext(c.Request.Context()); ok && tc.WorkspaceID != "" {
			c.Next()
			return
		}
		log.Warn("missing workspace id on billable route", zap.String("path", c.FullPath()))
		c.AbortWithStatusJSON(http.StatusBadRequest, common.ErrorResponse{
			Success: false,
			Code:    "validation_error",
			Message: "缺少 " + HeaderWorkspaceID + " 请求头",
		})
	}
}
