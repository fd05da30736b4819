package repositories

import (
	"context"

	"github.com/jsndz/signalpush/pkg/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// Save stores sub, refreshing the keys when the endpoint is already known.
func (r *SubscriptionRepository) Save(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}, {Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
	}).Create(sub).Error
}

func (r *SubscriptionRepository) ListByProject(ctx context.Context, projectID string) ([]models.Subscription, error) {
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *SubscriptionRepository) DeleteByEndpoint(ctx context.Context, projectID, endpoint string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("project_id = ? AND endpoint = ?", projectID, endpoint).
		Delete(&models.Subscription{})
	return res.RowsAffected, res.Error
}
