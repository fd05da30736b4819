package services

import (
	"context"
	"errors"

	"github.com/jsndz/signalpush/pkg/models"
	"github.com/jsndz/signalpush/pkg/repositories"
	"gorm.io/gorm"
)

type AnalyticsService struct {
	aggregates *repositories.AggregateRepository
	logs       *repositories.NotificationLogRepository
}

func NewAnalyticsService(db *gorm.DB) *AnalyticsService {
	return &AnalyticsService{
		aggregates: repositories.NewAggregateRepository(db),
		logs:       repositories.NewNotificationLogRepository(db),
	}
}

// Aggregate returns the project's totals. A project that never had traffic
// has no row and reports zeros.
func (s *AnalyticsService) Aggregate(ctx context.Context, projectID string) (*models.NotificationAggregate, error) {
	agg, err := s.aggregates.GetByProject(ctx, projectID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.NotificationAggregate{ProjectID: projectID}, nil
	}
	return agg, err
}

func (s *AnalyticsService) RecentLogs(ctx context.Context, projectID string, limit int) ([]models.NotificationLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.logs.ListByProject(ctx, projectID, limit)
}

func (s *AnalyticsService) History(ctx context.Context, notificationID string) ([]models.NotificationLog, error) {
	return s.logs.ListByNotification(ctx, notificationID)
}
