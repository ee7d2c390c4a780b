package worker

import (
	"context"

	"aigateway/internal/config"
	"aigateway/internal/usage"
	"aigateway/internal/worker/handlers"
	"aigateway/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

// NewServer 创建用量落库 worker
func NewServer(redisOpt asynq.RedisConnOpt, cfg config.QueueConfig, sink usage.Sink, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "usage"
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: concurrency,
			Queues:      map[string]int{queue: 1},
			Logger:      logger.Named("asynq").Sugar(),
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("任务执行失败",
					zap.String("type", task.Type()),
					zap.Error(err),
				)
			}),
		},
	)

	mux := NewMux(sink, logger)

	return &Server{
		server: srv,
		mux:    mux,
		logger: logger,
	}
}

// NewMux 注册全部任务处理器
func NewMux(sink usage.Sink, logger *zap.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	usageHandler := handlers.NewUsageHandler(sink, logger)
	mux.HandleFunc(tasks.TypePersistUsage, usageHandler.HandlePersistUsage)
	return mux
}

// Run 启动 Worker 服务器
func (s *Server) Run() error {
	s.logger.Info("Worker 服务器启动中...")
	return s.server.Run(s.mux)
}

// Start 非阻塞启动
func (s *Server) Start() error {
	s.logger.Info("Worker 服务器启动中 (后台)...")
	return s.server.Start(s.mux)
}

// Shutdown 停止 Worker 服务器
func (s *Server) Shutdown() {
	s.logger.Info("Worker 服务器停止中...")
	s.server.Shutdown()
}
