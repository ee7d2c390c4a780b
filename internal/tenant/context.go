// Package tenant 请求归属（工作区、项目、Agent）在 context 中的传递
package tenant

import "context"

// TenantContext 一次调用的计费归属
type TenantContext struct {
	WorkspaceID string
	ProjectID   string
	AgentID     string
}

type tenantContextKey struct{}

// WithTenantContext 将归属信息附加到 context
func WithTenantContext(ctx context.Context, tc TenantContext) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tc)
}

// FromContext 读取归属信息，第二个返回值表示是否存在
func FromContext(ctx context.Context) (TenantContext, bool) {
	tc, ok := ctx.Value(tenantContextKey{}).(TenantContext)
	return tc, ok
}
