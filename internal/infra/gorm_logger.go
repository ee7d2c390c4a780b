package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aigateway/internal/logger"

	"go.uber.org/zap"
	gormLogger "gorm.io/gorm/logger"
)

// GormZapLogger 将 GORM 日志写入 zap，SQL 日志附带请求的 trace_id 与工作区
type GormZapLogger struct {
	ZapLogger                 *zap.Logger
	LogLevel                  gormLogger.LogLevel
	SlowThreshold             time.Duration
	IgnoreRecordNotFoundError bool
}

// NewGormZapLogger 默认只输出告警、错误与慢查询
func NewGormZapLogger(log *zap.Logger, slow time.Duration) *GormZapLogger {
	if log == nil {
		log = zap.NewNop()
	}
	return &GormZapLogger{
		ZapLogger:                 log,
		LogLevel:                  gormLogger.Warn,
		SlowThreshold:             slow,
		IgnoreRecordNotFoundError: true,
	}
}

func (l *GormZapLogger) LogMode(level gormLogger.LogLevel) gormLogger.Interface {
	clone := *l
	clone.LogLevel = level
	return &clone
}

func (l *GormZapLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormLogger.Info {
		logger.FromContext(ctx, l.ZapLogger).Info(fmt.Sprintf(msg, data...))
	}
}

func (l *GormZapLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormLogger.Warn {
		logger.FromContext(ctx, l.ZapLogger).Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *GormZapLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormLogger.Error {
		logger.FromContext(ctx, l.ZapLogger).Error(fmt.Sprintf(msg, data...))
	}
}

// Trace 每条 SQL 执行后回调；用量批量写入失败时由这里留下 SQL 现场
func (l *GormZapLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= gormLogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	notFound := errors.Is(err, gormLogger.ErrRecordNotFound)
	slow := l.SlowThreshold > 0 && elapsed > l.SlowThreshold
	failed := err != nil && !(notFound && l.IgnoreRecordNotFoundError)

	if !failed && !slow && l.LogLevel < gormLogger.Info {
		return
	}

	sql, rows := fc()
	log := logger.FromContext(ctx, l.ZapLogger).With(
		zap.Duration("elapsed", elapsed),
		zap.Int64("rows", rows),
		zap.String("sql", sql),
	)
	switch {
	case failed && l.LogLevel >= gormLogger.Error:
		log.Error("SQL 执行错误", zap.Error(err))
	case slow && l.LogLevel >= gormLogger.Warn:
		log.Warn("SQL 慢查询", zap.Duration("threshold", l.SlowThreshold))
	case l.LogLevel >= gormLogger.Info:
		log.Debug("SQL 执行")
	}
}
