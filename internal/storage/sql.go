package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type sqlEntry struct {
	Key       string `gorm:"primaryKey;size:191"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (sqlEntry) TableName() string {
	return "collection_entries"
}

type SQLStorage struct {
	db *gorm.DB
}

// NewSQLStorage migrates the entries table and returns a storage over it.
func NewSQLStorage(ctx context.Context, db *gorm.DB) (*SQLStorage, error) {
	if err := db.WithContext(ctx).AutoMigrate(&sqlEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate entries table: %w", err)
	}
	return &SQLStorage{db: db}, nil
}

func (s *SQLStorage) Get(ctx context.Context, key string) ([]byte, error) {
	var entry sqlEntry
	err := s.db.WithContext(ctx).Where("key = ?", key).Take(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	return []byte(entry.Value), nil
}

func (s *SQLStorage) Set(ctx context.Context, key string, value []byte) error {
	entry := sqlEntry{Key: key, Value: string(value), UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("failed to upsert entry: %w", err)
	}
	return nil
}

func (s *SQLStorage) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("key = ?", key).Delete(&sqlEntry{}).Error; err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	return nil
}
