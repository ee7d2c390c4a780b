package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"aigateway/internal/usage"
	"aigateway/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Options 入队参数
type Options struct {
	Queue     string        // 默认 usage
	MaxRetry  int           // 默认 10
	Timeout   time.Duration // 单次处理时限，默认 1 分钟
	Retention time.Duration // 完成后保留时间，保留期内相同批次不会重复入队，默认 24 小时
}

func (o Options) withDefaults() Options {
	if o.Queue == "" {
		o.Queue = "usage"
	}
	if o.MaxRetry <= 0 {
		o.MaxRetry = 10
	}
	if o.Timeout <= 0 {
		o.Timeout = time.Minute
	}
	if o.Retention <= 0 {
		o.Retention = 24 * time.Hour
	}
	return o
}

// Client 用量任务队列客户端
type Client struct {
	client *asynq.Client
	opts   Options
	logger *zap.Logger
}

// NewClient 创建任务队列客户端
func NewClient(redisOpt asynq.RedisConnOpt, opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		client: asynq.NewClient(redisOpt),
		opts:   opts.withDefaults(),
		logger: logger,
	}
}

// BatchID 由记录 id 派生的批次标识，同一批记录得到同一个 id
func BatchID(records []usage.Record) string {
	h := sha256.New()
	for i := range records {
		h.Write([]byte(records[i].ID))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// EnqueueUsageBatch 将一批用量记录交给 worker 落库
// 同一批次重复入队视为成功
func (c *Client) EnqueueUsageBatch(ctx context.Context, records []usage.Record) error {
	if len(records) == 0 {
		return nil
	}
	batchID := BatchID(records)
	payload, err := json.Marshal(tasks.PersistUsagePayload{BatchID: batchID, Records: records})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(tasks.TypePersistUsage, payload)
	info, err := c.client.EnqueueContext(ctx, task,
		asynq.TaskID(batchID),
		asynq.Queue(c.opts.Queue),
		asynq.MaxRetry(c.opts.MaxRetry),
		asynq.Timeout(c.opts.Timeout),
		asynq.Retention(c.opts.Retention),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		c.logger.Debug("用量批次已在队列中", zap.String("batch_id", batchID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue task failed: %w", err)
	}

	c.logger.Debug("用量批次已入队",
		zap.String("batch_id", batchID),
		zap.String("queue", info.Queue),
		zap.Int("records", len(records)),
	)
	return nil
}

// Sink 以 usage.Sink 形式暴露，供 Tracker 直接使用
func (c *Client) Sink() usage.Sink {
	return usage.SinkFunc(c.EnqueueUsageBatch)
}

// Close 关闭客户端
func (c *Client) Close() error {
	return c.client.Close()
}
