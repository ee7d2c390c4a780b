package secret

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aigateway/pkg/aiinterface"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Credential 运营方配置的提供商凭证，密钥以密文存储
type Credential struct {
	ID         string    `gorm:"type:uuid;primaryKey" json:"id"`
	Provider   string    `gorm:"type:varchar(32);not null;uniqueIndex:idx_credential_provider" json:"provider"`
	Ciphertext []byte    `gorm:"not null" json:"-"`
	Status     string    `gorm:"type:varchar(16);not null;default:'active'" json:"status"` // active, disabled
	CreatedAt  time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"not null" json:"updatedAt"`
}

// TableName 指定表名
func (Credential) TableName() string {
	return "provider_credentials"
}

// GormStore 数据库凭证存储
type GormStore struct {
	db     *gorm.DB
	cipher *Cipher
}

// NewGormStore 创建凭证存储
func NewGormStore(db *gorm.DB, cipher *Cipher) *GormStore {
	return &GormStore{db: db, cipher: cipher}
}

// AutoMigrate 建表
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(&Credential{})
}

// Name 实现 Source
func (s *GormStore) Name() string { return "credential_store" }

// Put 写入或替换凭证
func (s *GormStore) Put(ctx context.Context, provider aiinterface.Provider, apiKey string) error {
	ciphertext, err := s.cipher.Encrypt(apiKey)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	cred := &Credential{
		ID:         uuid.New().String(),
		Provider:   string(provider),
		Ciphertext: ciphertext,
		Status:     "active",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{"ciphertext", "status", "updated_at"}),
	}).Create(cred).Error
	if err != nil {
		return fmt.Errorf("保存凭证失败: %w", err)
	}
	return nil
}

// Disable 停用凭证
func (s *GormStore) Disable(ctx context.Context, provider aiinterface.Provider) error {
	return s.db.WithContext(ctx).
		Model(&Credential{}).
		Where("provider = ?", string(provider)).
		Updates(map[string]any{"status": "disabled", "updated_at": time.Now().UTC()}).Error
}

// Lookup 实现 Source
func (s *GormStore) Lookup(ctx context.Context, provider aiinterface.Provider) (string, error) {
	var cred Credential
	err := s.db.WithContext(ctx).
		Where("provider = ? AND status = ?", string(provider), "active").
		First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("查询凭证失败: %w", err)
	}
	return s.cipher.Decrypt(cred.Ciphertext)
}
