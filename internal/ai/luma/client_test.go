package luma

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"aigateway/internal/ai/adapter"
	"aigateway/internal/billing"
	"aigateway/pkg/aiinterface"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer luma-key-123456", r.Header.Get("Authorization"))
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewClient(adapter.Config{
		BaseURL: srv.URL,
		Keys:    adapter.StaticKeys{aiinterface.ProviderLuma: "luma-key-123456"},
	})
}

func TestImageToVideo(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/dream-machine/v1/generations", r.URL.Path)
		var body createRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ray-flash-2", body.Model)
		assert.Equal(t, "9s", body.Duration)
		assert.Equal(t, keyframe{Type: "image", URL: "https://img.example/a.png"}, body.Keyframes["frame0"])
		_, _ = w.Write([]byte(`{"id":"gen-1","state":"queued"}`))
	})

	job, err := c.ImageToVideo(context.Background(), &aiinterface.VideoRequest{
		Model:           "ray-flash-2",
		Prompt:          "镜头推进",
		ImageURL:        "https://img.example/a.png",
		DurationSeconds: 9,
	})
	require.NoError(t, err)
	assert.Equal(t, "gen-1", job.JobID)
	assert.Equal(t, 9, job.DurationSeconds)
	assert.True(t, decimal.RequireFromString("0.243").Equal(job.EstimatedCost), job.EstimatedCost.String())
}

func TestGetVideoStatusCompleted(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/dream-machine/v1/generations/gen-1", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"gen-1","state":"completed","assets":{"video":"https://cdn.example/v.mp4"},"request":{"duration":"5s"}}`))
	})

	st, err := c.GetVideoStatus(context.Background(), "gen-1", "ray-2")
	require.NoError(t, err)
	assert.Equal(t, aiinterface.VideoStatusCompleted, st.Status)
	require.NotNil(t, st.Result)
	assert.Equal(t, "https://cdn.example/v.mp4", st.Result.URL)
	assert.Equal(t, 5.0, st.Result.DurationSeconds)
	assert.True(t, decimal.RequireFromString("0.4").Equal(st.Result.Cost), st.Result.Cost.String())
}

func TestGetVideoStatusStates(t *testing.T) {
	assert.Equal(t, aiinterface.VideoStatusQueued, mapState("queued"))
	assert.Equal(t, aiinterface.VideoStatusProcessing, mapState("dreaming"))
	assert.Equal(t, aiinterface.VideoStatusFailed, mapState("failed"))

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"Generation not found"}`))
	})
	_, err := c.GetVideoStatus(context.Background(), "missing", "ray-2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Generation not found")
	assert.False(t, aiinterface.IsRetryable(err))
}

func TestGetVideoStatusPricingError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"gen-1","state":"completed","assets":{"video":"https://cdn.example/v.mp4"},"request":{"duration":"5s"}}`))
	}))
	t.Cleanup(srv.Close)
	c := NewClient(adapter.Config{
		BaseURL: srv.URL,
		Keys:    adapter.StaticKeys{aiinterface.ProviderLuma: "luma-key-123456"},
		Catalog: billing.NewCatalog(),
	})

	_, err := c.GetVideoStatus(context.Background(), "gen-1", "ray-2")
	require.Error(t, err)
	assert.Equal(t, aiinterface.CodeModelCostsUnavailable, aiinterface.ErrorCode(err))
}
