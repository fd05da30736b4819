package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/jsndz/signalpush/pkg/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrAlreadyCommitted is returned when a rotated key has been committed before.
var ErrAlreadyCommitted = errors.New("flush batch already committed")

type FlushBatchRepository struct {
	db *gorm.DB
}

func NewFlushBatchRepository(db *gorm.DB) *FlushBatchRepository {
	return &FlushBatchRepository{db: db}
}

// claimBatch inserts the commit marker for key inside tx.
func claimBatch(tx *gorm.DB, key, kind, projectID string, events int64) error {
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.FlushBatch{
		BatchKey:  key,
		Kind:      kind,
		ProjectID: projectID,
		Events:    events,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyCommitted
	}
	return nil
}

func (r *FlushBatchRepository) Exists(ctx context.Context, key string) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.FlushBatch{}).Where("batch_key = ?", key).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// Prune removes markers created before cutoff. A marker only matters while its
// rotated key can still exist, so anything older than the key TTL is dead weight.
func (r *FlushBatchRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.FlushBatch{})
	return res.RowsAffected, res.Error
}
