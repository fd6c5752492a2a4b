package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type GormRecorder struct {
	db *gorm.DB
}

func NewGormRecorder(dialector gorm.Dialector) (*GormRecorder, error) {
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := db.AutoMigrate(&PredictionRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate predictions: %w", err)
	}
	return &GormRecorder{db: db}, nil
}

func (r *GormRecorder) Save(ctx context.Context, rec PredictionRecord) error {
	return r.db.WithContext(ctx).Create(&rec).Error
}

func (r *GormRecorder) Recent(ctx context.Context, model string, limit int) ([]PredictionRecord, error) {
	var records []PredictionRecord
	err := r.db.WithContext(ctx).
		Where("model = ?", model).
		Order("created_at desc").
		Limit(ClampLimit(limit)).
		Find(&records).Error
	return records, err
}

func (r *GormRecorder) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
