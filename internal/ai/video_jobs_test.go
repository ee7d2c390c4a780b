package ai

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"aigateway/pkg/aiinterface"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func videoStores(t *testing.T) map[string]VideoJobStore {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]VideoJobStore{
		"memory": NewMemoryVideoJobStore(),
		"redis":  NewRedisVideoJobStore(client, time.Hour),
	}
}

func TestVideoJobStore_SaveGet(t *testing.T) {
	for name, store := range videoStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := store.Get(ctx, aiinterface.ProviderLuma, "missing")
			require.ErrorIs(t, err, ErrVideoJobNotFound)

			job := VideoJobRecord{
				JobID:           "gen-1",
				Provider:        aiinterface.ProviderLuma,
				Model:           "ray-2",
				DurationSeconds: 5,
				ImageToVideo:    true,
				WorkspaceID:     "ws-1",
				CreatedAt:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			}
			require.NoError(t, store.Save(ctx, job))

			got, err := store.Get(ctx, aiinterface.ProviderLuma, "gen-1")
			require.NoError(t, err)
			assert.Equal(t, job, *got)

			// 同一任务 ID 在不同提供商下互不影响
			_, err = store.Get(ctx, aiinterface.ProviderRunway, "gen-1")
			require.ErrorIs(t, err, ErrVideoJobNotFound)
		})
	}
}

func TestVideoJobStore_MarkBilledOnce(t *testing.T) {
	for name, store := range videoStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := store.MarkBilled(ctx, aiinterface.ProviderRunway, "task-1")
					assert.NoError(t, err)
					if ok {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), wins.Load())

			ok, err := store.MarkBilled(ctx, aiinterface.ProviderLuma, "task-1")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestRedisVideoJobStore_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisVideoJobStore(client, time.Minute)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, VideoJobRecord{JobID: "t", Provider: aiinterface.ProviderRunway}))
	assert.Equal(t, time.Minute, mr.TTL("aigateway:video:job:runway:t"))

	mr.FastForward(2 * time.Minute)
	_, err := store.Get(ctx, aiinterface.ProviderRunway, "t")
	require.ErrorIs(t, err, ErrVideoJobNotFound)
}
