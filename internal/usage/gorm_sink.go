package usage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormSink 直接写入数据库，按 ID 冲突忽略，重复投递幂等
type GormSink struct {
	db *gorm.DB
}

// NewGormSink 创建数据库 Sink
func NewGormSink(db *gorm.DB) *GormSink {
	return &GormSink{db: db}
}

// AutoMigrate 建表
func (s *GormSink) AutoMigrate() error {
	return s.db.AutoMigrate(&Record{})
}

// Persist 实现 Sink
func (s *GormSink) Persist(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		CreateInBatches(records, 100).Error
	if err != nil {
		return fmt.Errorf("写入用量记录失败: %w", err)
	}
	return nil
}

// Query 用量查询条件
type Query struct {
	WorkspaceID string
	Provider    string
	Since       time.Time
	Until       time.Time
	Limit       int
}

// List 按条件查询已持久化的记录
func (s *GormSink) List(ctx context.Context, q Query) ([]Record, error) {
	tx := s.db.WithContext(ctx).Model(&Record{})
	if q.WorkspaceID != "" {
		tx = tx.Where("workspace_id = ?", q.WorkspaceID)
	}
	if q.Provider != "" {
		tx = tx.Where("provider = ?", q.Provider)
	}
	if !q.Since.IsZero() {
		tx = tx.Where("created_at >= ?", q.Since)
	}
	if !q.Until.IsZero() {
		tx = tx.Where("created_at < ?", q.Until)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var records []Record
	if err := tx.Order("created_at DESC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("查询用量记录失败: %w", err)
	}
	return records, nil
}
