package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"aigateway/internal/logger"
	"aigateway/internal/tenant"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequestIDMiddleware_PropagatesUpstreamIDs(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	var seenTrace, seenRequest string
	r.GET("/x", func(c *gin.Context) {
		seenTrace = logger.GetTraceID(c.Request.Context())
		seenRequest = GetRequestID(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	req.Header.Set(HeaderTraceID, "trace-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-1", seenRequest)
	assert.Equal(t, "trace-1", seenTrace)
	assert.Equal(t, "req-1", w.Header().Get(HeaderRequestID))
	assert.Equal(t, "trace-1", w.Header().Get(HeaderTraceID))
	assert.Len(t, w.Header().Get(HeaderSpanID), 8)
}

func TestRequestIDMiddleware_GeneratesIDs(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	id := w.Header().Get(HeaderRequestID)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, w.Header().Get(HeaderTraceID))
}

func tenantRouter(t *testing.T) (*gin.Engine, *tenant.TenantContext) {
	var seen tenant.TenantContext
	r := gin.New()
	r.Use(TenantContextMiddleware())
	r.POST("/billable", RequireWorkspace(zaptest.NewLogger(t)), func(c *gin.Context) {
		seen, _ = tenant.FromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})
	return r, &seen
}

func TestTenantContext_HeadersInjected(t *testing.T) {
	r, seen := tenantRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/billable", nil)
	req.Header.Set(HeaderWorkspaceID, " ws-1 ")
	req.Header.Set(HeaderProjectID, "proj-1")
	req.Header.Set(HeaderAgentID, "agent-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, tenant.TenantContext{WorkspaceID: "ws-1", ProjectID: "proj-1", AgentID: "agent-1"}, *seen)
}

func TestRequireWorkspace_Missing(t *testing.T) {
	r, _ := tenantRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/billable", nil))

	require.Equal(t, http.StatusBadRequest, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "validation_error", body["code"])
}

func TestRateLimiter_TokenBucket(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerMinute: 60, BurstSize: 2})
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("ws-1"))
	assert.True(t, rl.Allow("ws-1"))
	assert.False(t, rl.Allow("ws-1"))
	assert.True(t, rl.Allow("ws-2"), "buckets are per key")

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("ws-1"))
	assert.False(t, rl.Allow("ws-1"))
}

func TestRateLimiter_Sweep(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerMinute: 10, IdleTTL: time.Minute})
	rl.now = func() time.Time { return now }

	rl.Allow("a")
	now = now.Add(30 * time.Second)
	rl.Allow("b")
	now = now.Add(45 * time.Second)

	assert.Equal(t, 1, rl.Sweep())
}

func TestRateLimiter_DisabledWhenZero(t *testing.T) {
	assert.Nil(t, NewRateLimiter(RateLimiterConfig{}))
}

func TestRateLimitByWorkspace(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerMinute: 1})
	r := gin.New()
	r.Use(TenantContextMiddleware(), RateLimitByWorkspace(rl))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(ws string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set(HeaderWorkspaceID, ws)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, do("ws-1").Code)
	limited := do("ws-1")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "60", limited.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, do("ws-2").Code)
}

func TestRateLimitByWorkspace_NilLimiter(t *testing.T) {
	r := gin.New()
	r.Use(RateLimitByWorkspace(nil))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
