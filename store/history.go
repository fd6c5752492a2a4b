package store

import (
	"context"
	"fmt"
	"time"

	"formpredict/config"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 200
)

// PredictionRecord is one served prediction. Features holds the record as a
// JSON object.
type PredictionRecord struct {
	ID              string    `json:"id" db:"id" gorm:"primaryKey;size:36" bson:"_id"`
	Model           string    `json:"model" db:"model" gorm:"index;size:64" bson:"model"`
	ArtifactVersion string    `json:"artifact_version" db:"artifact_version" gorm:"size:64" bson:"artifact_version"`
	Features        string    `json:"features" db:"features" gorm:"type:text" bson:"features"`
	Prediction      float64   `json:"prediction" db:"prediction" bson:"prediction"`
	ResultText      string    `json:"result_text" db:"result_text" gorm:"type:text" bson:"result_text"`
	Cached          bool      `json:"cached" db:"cached" bson:"cached"`
	CreatedAt       time.Time `json:"created_at" db:"created_at" gorm:"index" bson:"created_at"`
}

func (PredictionRecord) TableName() string {
	return "predictions"
}

// Recorder persists prediction history. Implementations are safe for
// concurrent use.
type Recorder interface {
	Save(ctx context.Context, rec PredictionRecord) error
	// Recent returns up to limit records of model, newest first.
	Recent(ctx context.Context, model string, limit int) ([]PredictionRecord, error)
	Close() error
}

// ClampLimit maps a requested history size into [1, MaxHistoryLimit], with
// zero or negative meaning the default.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

// OpenRecorder connects the history backend selected by cfg.HistoryBackend.
func OpenRecorder(ctx context.Context, cfg config.Config) (Recorder, error) {
	switch cfg.HistoryBackend {
	case "", "memory":
		return NewMemoryRecorder(DefaultMemoryCapacity), nil
	case "none":
		return NopRecorder{}, nil
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("history backend postgres requires DATABASE_URL")
		}
		return NewSQLRecorder(ctx, "postgres", cfg.DatabaseURL)
	case "snowflake":
		dsn, err := SnowflakeDSN(cfg.Snowflake)
		if err != nil {
			return nil, err
		}
		return NewSQLRecorder(ctx, "snowflake", dsn)
	case "gorm-postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("history backend gorm-postgres requires DATABASE_URL")
		}
		return NewGormRecorder(postgres.Open(cfg.DatabaseURL))
	case "gorm-mysql":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("history backend gorm-mysql requires DATABASE_URL")
		}
		return NewGormRecorder(mysql.Open(cfg.DatabaseURL))
	case "mongo":
		return NewMongoRecorder(ctx, cfg.MongoURI, cfg.MongoDatabase)
	}
	return nil, fmt.Errorf("unknown history backend %q", cfg.HistoryBackend)
}

// NopRecorder discards history.
type NopRecorder struct{}

func (NopRecorder) Save(ctx context.Context, rec PredictionRecord) error { return nil }

func (NopRecorder) Recent(ctx context.Context, model string, limit int) ([]PredictionRecord, error) {
	return nil, nil
}

func (NopRecorder) Close() error { return nil }
