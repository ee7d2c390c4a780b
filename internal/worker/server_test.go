package worker

import (
	"context"
	"encoding/json"
	"testing"

	"aigateway/internal/usage"
	"aigateway/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewMux_RoutesUsageTask(t *testing.T) {
	var got []usage.Record
	sink := usage.SinkFunc(func(_ context.Context, records []usage.Record) error {
		got = append(got, records...)
		return nil
	})
	mux := NewMux(sink, zaptest.NewLogger(t))

	payload, err := json.Marshal(tasks.PersistUsagePayload{
		BatchID: "b1",
		Records: []usage.Record{{ID: "r1", Provider: "openai", WorkspaceID: "ws"}},
	})
	require.NoError(t, err)

	require.NoError(t, mux.ProcessTask(context.Background(), asynq.NewTask(tasks.TypePersistUsage, payload)))
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].ID)
}

func TestNewMux_UnknownTaskType(t *testing.T) {
	mux := NewMux(usage.SinkFunc(func(context.Context, []usage.Record) error { return nil }), nil)
	assert.Error(t, mux.ProcessTask(context.Background(), asynq.NewTask("billing:unknown", nil)))
}
