package usage

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	DefaultBatchSize     = 100
	DefaultFlushInterval = 5 * time.Second
)

// Sink 用量记录的持久化目标
//
// 刷写失败的批次会被重新投递，实现必须按记录 ID 去重。
type Sink interface {
	Persist(ctx context.Context, records []Record) error
}

// SinkFunc 函数适配 Sink
type SinkFunc func(ctx context.Context, records []Record) error

func (f SinkFunc) Persist(ctx context.Context, records []Record) error { return f(ctx, records) }

// Options 追踪器配置
type Options struct {
	BatchSize     int
	FlushInterval time.Duration
	Logger        *zap.Logger
	BufferGauge   prometheus.Gauge
	FlushCounter  *prometheus.CounterVec // 标签 result
}

// Tracker 缓冲用量记录并批量刷写
type Tracker struct {
	sink      Sink
	batchSize int
	interval  time.Duration
	logger    *zap.Logger
	gauge     prometheus.Gauge
	flushes   *prometheus.CounterVec

	mu       sync.Mutex
	buffer   []Record
	flushing atomic.Bool

	kick      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewTracker 创建追踪器
func NewTracker(sink Sink, opts Options) *Tracker {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Tracker{
		sink:      sink,
		batchSize: opts.BatchSize,
		interval:  opts.FlushInterval,
		logger:    opts.Logger,
		gauge:     opts.BufferGauge,
		flushes:   opts.FlushCounter,
		kick:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Record 追加一条记录，缓冲区达到批量大小时唤醒刷写
func (t *Tracker) Record(rec Record) {
	rec.ensureIdentity()

	t.mu.Lock()
	t.buffer = append(t.buffer, rec)
	n := len(t.buffer)
	t.mu.Unlock()

	t.setGauge(n)
	if n >= t.batchSize {
		select {
		case t.kick <- struct{}{}:
		default:
		}
	}
}

// Len 当前缓冲的记录数
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buffer)
}

// Flush 将当前缓冲区交给 Sink
//
// 已有刷写在进行时直接返回，不会并发调用 Sink。
// 失败的批次放回缓冲区头部，等待下一次刷写。
func (t *Tracker) Flush(ctx context.Context) error {
	if !t.flushing.CompareAndSwap(false, true) {
		t.logger.Debug("已有刷写进行中，跳过")
		return nil
	}
	defer t.flushing.Store(false)

	t.mu.Lock()
	batch := t.buffer
	t.buffer = nil
	t.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := t.sink.Persist(ctx, batch); err != nil {
		t.mu.Lock()
		t.buffer = slices.Concat(batch, t.buffer)
		n := len(t.buffer)
		t.mu.Unlock()

		t.setGauge(n)
		t.countFlush("error")
		t.logger.Error("用量记录刷写失败，已放回缓冲区",
			zap.Int("records", len(batch)),
			zap.Int("buffered", n),
			zap.Error(err),
		)
		return err
	}

	t.setGauge(t.Len())
	t.countFlush("success")
	t.logger.Debug("用量记录刷写完成", zap.Int("records", len(batch)))
	return nil
}

// Start 启动后台刷写协程
func (t *Tracker) Start() {
	t.startOnce.Do(func() {
		go t.loop()
	})
}

func (t *Tracker) loop() {
	defer close(t.done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
		case <-t.kick:
		}
		_ = t.Flush(context.Background())
	}
}

// Stop 停止后台协程并做最后一次刷写
func (t *Tracker) Stop(ctx context.Context) error {
	t.stopOnce.Do(func() {
		close(t.stop)
	})
	// 未启动过时直接关闭 done，之后 Start 不再生效
	t.startOnce.Do(func() { close(t.done) })
	select {
	case <-t.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return t.Flush(ctx)
}

// Summary 汇总当前缓冲区
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	snapshot := slices.Clone(t.buffer)
	t.mu.Unlock()
	return Summarize(snapshot)
}

func (t *Tracker) setGauge(n int) {
	if t.gauge != nil {
		t.gauge.Set(float64(n))
	}
}

func (t *Tracker) countFlush(result string) {
	if t.flushes != nil {
		t.flushes.WithLabelValues(result).Inc()
	}
}
