package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/scan-classifier/internal/retry"
)

// PredictionLog represents a persisted prediction request.
type PredictionLog struct {
	ID         uint      `gorm:"primaryKey"`
	RequestID  string    `gorm:"column:request_id;uniqueIndex;size:64"`
	Organ      string    `gorm:"column:organ;size:16;index"`
	Label      string    `gorm:"column:label;size:64"`
	Confidence float64   `gorm:"column:confidence"`
	Filename   string    `gorm:"column:filename;size:255"`
	Mode       string    `gorm:"column:mode;size:16"`
	Subject    string    `gorm:"column:subject;size:64"`
	SHA1Hash   string    `gorm:"column:sha1_hash;size:40;index"`
	Cached     bool      `gorm:"column:cached"`
	LatencyMs  float64   `gorm:"column:latency_ms"`
	CreatedAt  time.Time `gorm:"column:created_at;index"`
}

// TableName overrides the default table name.
func (PredictionLog) TableName() string {
	return "prediction_logs"
}

// PostgresRepository provides persistence APIs for prediction logs.
type PostgresRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	retry  retry.Policy
}

// NewPostgresRepository creates a new repository instance.
func NewPostgresRepository(db *gorm.DB, logger *zap.Logger) *PostgresRepository {
	return &PostgresRepository{
		db:     db,
		logger: logger.Named("prediction_repository"),
		retry:  retry.DefaultPolicy(),
	}
}

// AutoMigrate ensures the schema is available.
func (r *PostgresRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&PredictionLog{})
	})
}

// SaveLog persists a prediction log entry.
func (r *PostgresRepository) SaveLog(ctx context.Context, log *PredictionLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// Recent returns up to limit entries, most recent first.
func (r *PostgresRepository) Recent(ctx context.Context, limit int) ([]*PredictionLog, error) {
	var logs []*PredictionLog
	err := r.executeWithRetry(ctx, "repository.recent", "", func() error {
		logs = nil
		return r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Limit(limit).Find(&logs).Error
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *PostgresRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	return retry.Do(ctx, r.retry, r.logger, "database", operation, requestID, fn)
}
