package queue

import (
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
)

// Backlog 队列积压情况
type Backlog struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

// Inspector 读取用量队列状态，用于就绪检查
type Inspector struct {
	inspector *asynq.Inspector
	queue     string
}

// NewInspector 创建队列检查器
func NewInspector(redisOpt asynq.RedisConnOpt, queue string) *Inspector {
	if queue == "" {
		queue = "usage"
	}
	return &Inspector{inspector: asynq.NewInspector(redisOpt), queue: queue}
}

// Backlog 当前积压，队列尚未创建时返回空积压
func (i *Inspector) Backlog() (Backlog, error) {
	info, err := i.inspector.GetQueueInfo(i.queue)
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return Backlog{Queue: i.queue}, nil
	}
	if err != nil {
		return Backlog{}, fmt.Errorf("读取队列状态失败: %w", err)
	}
	return Backlog{
		Queue:     info.Queue,
		Pending:   info.Pending,
		Active:    info.Active,
		Scheduled: info.Scheduled,
		Retry:     info.Retry,
		Archived:  info.Archived,
	}, nil
}

// Close 关闭检查器
func (i *Inspector) Close() error {
	return i.inspector.Close()
}
