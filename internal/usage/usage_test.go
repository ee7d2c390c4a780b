package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type recordingSink struct {
	mu      sync.Mutex
	calls   [][]Record
	failN   int
	blockCh chan struct{}
}

func (s *recordingSink) Persist(ctx context.Context, records []Record) error {
	if s.blockCh != nil {
		<-s.blockCh
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failN > 0 {
		s.failN--
		return errors.New("sink down")
	}
	s.calls = append(s.calls, append([]Record(nil), records...))
	return nil
}

func (s *recordingSink) persistedIDs() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[string]int)
	for _, call := range s.calls {
		for _, r := range call {
			ids[r.ID]++
		}
	}
	return ids
}

func newRecord(provider string, op Operation, cost, billed string) Record {
	in, out := Tokens(10, 20)
	return Record{
		Provider:     provider,
		Model:        "m",
		Operation:    op,
		InputTokens:  in,
		OutputTokens: out,
		ProviderCost: decimal.RequireFromString(cost),
		BilledAmount: decimal.RequireFromString(billed),
		WorkspaceID:  "ws-1",
	}
}

func TestTracker_FlushFailurePrependsBatch(t *testing.T) {
	sink := &recordingSink{failN: 1}
	tr := NewTracker(sink, Options{BatchSize: 100, Logger: zaptest.NewLogger(t)})

	tr.Record(newRecord("openai", OpChat, "0.01", "0.25"))
	tr.Record(newRecord("openai", OpChat, "0.02", "0.25"))

	err := tr.Flush(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, tr.Len())

	tr.Record(newRecord("anthropic", OpChat, "0.03", "0.25"))
	require.NoError(t, tr.Flush(context.Background()))
	assert.Equal(t, 0, tr.Len())

	require.Len(t, sink.calls, 1)
	batch := sink.calls[0]
	require.Len(t, batch, 3)
	// 失败批次在前
	assert.Equal(t, "openai", batch[0].Provider)
	assert.Equal(t, "openai", batch[1].Provider)
	assert.Equal(t, "anthropic", batch[2].Provider)

	for id, n := range sink.persistedIDs() {
		assert.NotEmpty(t, id)
		assert.Equal(t, 1, n)
	}
}

func TestTracker_ConcurrentFlushSuppressed(t *testing.T) {
	sink := &recordingSink{blockCh: make(chan struct{})}
	tr := NewTracker(sink, Options{})
	tr.Record(newRecord("openai", OpChat, "0.01", "0.25"))

	done := make(chan error, 1)
	go func() { done <- tr.Flush(context.Background()) }()

	require.Eventually(t, func() bool { return tr.flushing.Load() }, time.Second, time.Millisecond)

	// 刷写进行中追加的记录不属于当前批次
	tr.Record(newRecord("openai", OpChat, "0.02", "0.25"))
	require.NoError(t, tr.Flush(context.Background()))
	assert.Equal(t, 1, tr.Len())

	close(sink.blockCh)
	require.NoError(t, <-done)
	require.Len(t, sink.calls, 1)
	assert.Len(t, sink.calls[0], 1)
	assert.Equal(t, 1, tr.Len())
}

func TestTracker_SizeTriggeredFlush(t *testing.T) {
	sink := &recordingSink{}
	tr := NewTracker(sink, Options{BatchSize: 3, FlushInterval: time.Hour})
	tr.Start()
	defer tr.Stop(context.Background())

	for i := 0; i < 3; i++ {
		tr.Record(newRecord("openai", OpChat, "0.01", "0.25"))
	}

	assert.Eventually(t, func() bool { return len(sink.persistedIDs()) == 3 }, time.Second, 5*time.Millisecond)
}

func TestTracker_IntervalFlushAndStop(t *testing.T) {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_usage_buffer_size"})
	flushes := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_usage_flush_total"}, []string{"result"})
	sink := &recordingSink{}
	tr := NewTracker(sink, Options{
		BatchSize:     100,
		FlushInterval: 10 * time.Millisecond,
		BufferGauge:   gauge,
		FlushCounter:  flushes,
	})
	tr.Start()

	tr.Record(newRecord("luma", OpVideo, "0.4", "2"))
	assert.Eventually(t, func() bool { return len(sink.persistedIDs()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, tr.Stop(context.Background()))
	tr.Record(newRecord("luma", OpVideo, "0.4", "2"))
	assert.Equal(t, 1.0, testutil.ToFloat64(gauge))
	assert.GreaterOrEqual(t, testutil.ToFloat64(flushes.WithLabelValues("success")), 1.0)
}

func TestTracker_StopWithoutStartFlushes(t *testing.T) {
	sink := &recordingSink{}
	tr := NewTracker(sink, Options{})
	tr.Record(newRecord("openai", OpVoice, "0.001", "0.25"))

	require.NoError(t, tr.Stop(context.Background()))
	assert.Len(t, sink.persistedIDs(), 1)
}

func TestSummarize(t *testing.T) {
	records := []Record{
		newRecord("openai", OpChat, "0.01", "0.25"),
		newRecord("openai", OpImage, "0.04", "0.25"),
		newRecord("runway", OpVideo, "0.50", "2.50"),
	}
	records[1].InputTokens, records[1].OutputTokens = nil, nil
	before := append([]Record(nil), records...)

	first := Summarize(records)
	second := Summarize(records)
	assert.Equal(t, first, second)
	assert.Equal(t, before, records)

	assert.Equal(t, 3, first.Count)
	assert.Equal(t, int64(20), first.InputTokens)
	assert.True(t, decimal.RequireFromString("0.55").Equal(first.ProviderCost))
	assert.True(t, decimal.RequireFromString("3").Equal(first.BilledAmount))
	assert.Equal(t, 2, first.ByProvider["openai"].Count)
	assert.True(t, decimal.RequireFromString("0.50").Equal(first.ByProvider["openai"].BilledAmount))
	assert.Equal(t, 1, first.ByOperation[OpVideo].Count)
}

func TestTrackerSummary_DoesNotDrainBuffer(t *testing.T) {
	tr := NewTracker(&recordingSink{}, Options{})
	tr.Record(newRecord("openai", OpChat, "0.01", "0.25"))
	s := tr.Summary()
	assert.Equal(t, 1, s.Count)
	assert.Equal(t, 1, tr.Len())
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestGormSink_IdempotentRedelivery(t *testing.T) {
	db := newTestDB(t)
	sink := NewGormSink(db)
	require.NoError(t, sink.AutoMigrate())

	records := []Record{
		newRecord("openai", OpChat, "0.0075", "0.25"),
		newRecord("stability", OpImage, "0.03", "0.25"),
	}
	records[0].Metadata = map[string]any{"partial": true}
	for i := range records {
		records[i].ensureIdentity()
	}

	ctx := context.Background()
	require.NoError(t, sink.Persist(ctx, records))
	// 重复投递同一批次
	require.NoError(t, sink.Persist(ctx, records))

	var count int64
	require.NoError(t, db.Model(&Record{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	got, err := sink.List(ctx, Query{WorkspaceID: "ws-1", Provider: "openai"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, records[0].ID, got[0].ID)
	assert.True(t, decimal.RequireFromString("0.0075").Equal(got[0].ProviderCost))
	assert.Equal(t, true, got[0].Metadata["partial"])
	require.NotNil(t, got[0].InputTokens)
	assert.Equal(t, 10, *got[0].InputTokens)
}
