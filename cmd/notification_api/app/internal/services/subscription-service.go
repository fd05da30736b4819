package services

import (
	"context"
	"errors"

	"github.com/jsndz/signalpush/pkg/models"
	"github.com/jsndz/signalpush/pkg/repositories"
	"gorm.io/gorm"
)

var (
	ErrProjectNotFound     = errors.New("project not found")
	ErrIncompleteSubscribe = errors.New("endpoint, keys.p256dh and keys.auth are required")
)

// CacheInvalidator drops a project's cached push target.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, projectID string) error
}

type SubscriptionService struct {
	projects *repositories.ProjectRepository
	subs     *repositories.SubscriptionRepository
	cache    CacheInvalidator
}

func NewSubscriptionService(db *gorm.DB, cache CacheInvalidator) *SubscriptionService {
	return &SubscriptionService{
		projects: repositories.NewProjectRepository(db),
		subs:     repositories.NewSubscriptionRepository(db),
		cache:    cache,
	}
}

func (s *SubscriptionService) Subscribe(ctx context.Context, sub *models.Subscription) error {
	if sub.Endpoint == "" || sub.P256dh == "" || sub.Auth == "" {
		return ErrIncompleteSubscribe
	}
	if _, err := s.projects.GetByID(ctx, sub.ProjectID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrProjectNotFound
		}
		return err
	}
	if err := s.subs.Save(ctx, sub); err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, sub.ProjectID)
}

// Unsubscribe reports whether a subscription was removed.
func (s *SubscriptionService) Unsubscribe(ctx context.Context, projectID, endpoint string) (bool, error) {
	n, err := s.subs.DeleteByEndpoint(ctx, projectID, endpoint)
	if err != nil || n == 0 {
		return false, err
	}
	return true, s.cache.Invalidate(ctx, projectID)
}
