package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jsndz/signalpush/pkg/models"
	"github.com/jsndz/signalpush/pkg/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AggregateRepository struct {
	db *gorm.DB
}

func NewAggregateRepository(db *gorm.DB) *AggregateRepository {
	return &AggregateRepository{db: db}
}

// ApplyDelta merges delta into the project's running totals and records
// batchKey as committed, in one transaction. The merge is
// total_x = total_x + delta_x, never a replace.
func (r *AggregateRepository) ApplyDelta(ctx context.Context, batchKey string, delta models.NotificationAggregate) error {
	var events int64
	for _, k := range types.EventKinds {
		events += delta.Total(k)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := claimBatch(tx, batchKey, models.FlushKindDelta, delta.ProjectID, events); err != nil {
			return err
		}
		return upsertAdditive(tx, delta)
	})
}

func upsertAdditive(tx *gorm.DB, delta models.NotificationAggregate) error {
	table := tx.NamingStrategy.TableName("NotificationAggregate")
	set := make(map[string]interface{}, len(types.EventKinds)+1)
	for _, k := range types.EventKinds {
		col := models.AggregateColumn(k)
		set[col] = gorm.Expr(fmt.Sprintf("%s.%s + excluded.%s", table, col, col))
	}
	set["updated_at"] = gorm.Expr("excluded.updated_at")

	now := time.Now().UTC()
	delta.CreatedAt = now
	delta.UpdatedAt = now
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}},
		DoUpdates: clause.Assignments(set),
	}).Create(&delta).Error
}

func (r *AggregateRepository) GetByProject(ctx context.Context, projectID string) (*models.NotificationAggregate, error) {
	var agg models.NotificationAggregate
	if err := r.db.WithContext(ctx).First(&agg, "project_id = ?", projectID).Error; err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *AggregateRepository) List(ctx context.Context) ([]models.NotificationAggregate, error) {
	var aggs []models.NotificationAggregate
	if err := r.db.WithContext(ctx).Order("project_id").Find(&aggs).Error; err != nil {
		return nil, err
	}
	return aggs, nil
}
