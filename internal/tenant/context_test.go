package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTenantContextRoundTrip(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithTenantContext(context.Background(), TenantContext{WorkspaceID: "ws-1", AgentID: "agent-7"})
	tc, ok := FromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "ws-1", tc.WorkspaceID)
	assert.Equal(t, "agent-7", tc.AgentID)
	assert.Empty(t, tc.ProjectID)
}
