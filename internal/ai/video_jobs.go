package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"aigateway/pkg/aiinterface"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// DefaultVideoJobTTL 视频任务记录保留时长
const DefaultVideoJobTTL = 7 * 24 * time.Hour

// ErrVideoJobNotFound 任务不存在或已过期
var ErrVideoJobNotFound = errors.New("视频任务不存在")

// VideoJobRecord 提交时记录的任务信息，完成时据此计费
type VideoJobRecord struct {
	JobID           string               `json:"jobId"`
	Provider        aiinterface.Provider `json:"provider"`
	Model           string               `json:"model"`
	DurationSeconds int                  `json:"durationSeconds"`
	EstimatedCost   decimal.Decimal      `json:"estimatedCost"`
	ImageToVideo    bool                 `json:"imageToVideo"`
	WorkspaceID     string               `json:"workspaceId"`
	ProjectID       string               `json:"projectId,omitempty"`
	AgentID         string               `json:"agentId,omitempty"`
	CreatedAt       time.Time            `json:"createdAt"`
}

// VideoJobStore 视频任务存储
//
// MarkBilled 对同一任务只会返回一次 true，保证完成状态被多次查询时只计费一次。
type VideoJobStore interface {
	Save(ctx context.Context, job VideoJobRecord) error
	Get(ctx context.Context, provider aiinterface.Provider, jobID string) (*VideoJobRecord, error)
	MarkBilled(ctx context.Context, provider aiinterface.Provider, jobID string) (bool, error)
}

func videoJobKey(provider aiinterface.Provider, jobID string) string {
	return string(provider) + ":" + jobID
}

// MemoryVideoJobStore 进程内存储，单实例部署与测试使用
type MemoryVideoJobStore struct {
	mu     sync.Mutex
	jobs   map[string]VideoJobRecord
	billed map[string]bool
}

// NewMemoryVideoJobStore 创建内存存储
func NewMemoryVideoJobStore() *MemoryVideoJobStore {
	return &MemoryVideoJobStore{
		jobs:   make(map[string]VideoJobRecord),
		billed: make(map[string]bool),
	}
}

func (s *MemoryVideoJobStore) Save(_ context.Context, job VideoJobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[videoJobKey(job.Provider, job.JobID)] = job
	return nil
}

func (s *MemoryVideoJobStore) Get(_ context.Context, provider aiinterface.Provider, jobID string) (*VideoJobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[videoJobKey(provider, jobID)]
	if !ok {
		return nil, ErrVideoJobNotFound
	}
	return &job, nil
}

func (s *MemoryVideoJobStore) MarkBilled(_ context.Context, provider aiinterface.Provider, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := videoJobKey(provider, jobID)
	if s.billed[key] {
		return false, nil
	}
	s.billed[key] = true
	return true, nil
}

// RedisVideoJobStore Redis 存储，多实例共享；计费标记使用 SETNX
type RedisVideoJobStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisVideoJobStore 创建 Redis 存储
func NewRedisVideoJobStore(client redis.UniversalClient, ttl time.Duration) *RedisVideoJobStore {
	if ttl <= 0 {
		ttl = DefaultVideoJobTTL
	}
	return &RedisVideoJobStore{client: client, prefix: "aigateway:video:", ttl: ttl}
}

func (s *RedisVideoJobStore) Save(ctx context.Context, job VideoJobRecord) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("序列化视频任务失败: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+"job:"+videoJobKey(job.Provider, job.JobID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("保存视频任务失败: %w", err)
	}
	return nil
}

func (s *RedisVideoJobStore) Get(ctx context.Context, provider aiinterface.Provider, jobID string) (*VideoJobRecord, error) {
	data, err := s.client.Get(ctx, s.prefix+"job:"+videoJobKey(provider, jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrVideoJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取视频任务失败: %w", err)
	}
	var job VideoJobRecord
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("解析视频任务失败: %w", err)
	}
	return &job, nil
}

func (s *RedisVideoJobStore) MarkBilled(ctx context.Context, provider aiinterface.Provider, jobID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+"billed:"+videoJobKey(provider, jobID), time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("标记视频计费失败: %w", err)
	}
	return ok, nil
}
