package repositories

import (
	"context"

	"github.com/jsndz/signalpush/pkg/models"
	"gorm.io/gorm"
)

const logInsertBatchSize = 500

type NotificationLogRepository struct {
	db *gorm.DB
}

func NewNotificationLogRepository(db *gorm.DB) *NotificationLogRepository {
	return &NotificationLogRepository{db: db}
}

// InsertBatch persists every record of a drained buffer together with its
// commit marker. Either all rows land or none do.
func (r *NotificationLogRepository) InsertBatch(ctx context.Context, batchKey, projectID string, logs []models.NotificationLog) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := claimBatch(tx, batchKey, models.FlushKindBuffer, projectID, int64(len(logs))); err != nil {
			return err
		}
		if len(logs) == 0 {
			return nil
		}
		return tx.CreateInBatches(&logs, logInsertBatchSize).Error
	})
}

func (r *NotificationLogRepository) ListByNotification(ctx context.Context, notificationID string) ([]models.NotificationLog, error) {
	var logs []models.NotificationLog
	if err := r.db.WithContext(ctx).
		Where("notification_id = ?", notificationID).
		Order("triggered_at").
		Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *NotificationLogRepository) ListByProject(ctx context.Context, projectID string, limit int) ([]models.NotificationLog, error) {
	var logs []models.NotificationLog
	if err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("triggered_at DESC").
		Limit(limit).
		Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *NotificationLogRepository) CountByProject(ctx context.Context, projectID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.NotificationLog{}).Where("project_id = ?", projectID).Count(&n).Error
	return n, err
}
