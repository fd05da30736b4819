package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jsndz/signalpush/metrics"
	"github.com/jsndz/signalpush/pkg/repositories"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrUnknownProject is returned when a job names a project that does not exist.
var ErrUnknownProject = errors.New("unknown project")

const cacheKeyPrefix = "push:project:"

func cacheKey(projectID string) string {
	return cacheKeyPrefix + projectID
}

// Endpoint is one browser push subscription.
type Endpoint struct {
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

// Target is everything needed to push to a project's subscribers.
type Target struct {
	ProjectID       string     `json:"projectId"`
	VAPIDPublicKey  string     `json:"vapidPublicKey"`
	VAPIDPrivateKey string     `json:"vapidPrivateKey"`
	VAPIDSubject    string     `json:"vapidSubject,omitempty"`
	Subscriptions   []Endpoint `json:"subscriptions"`
}

type TargetLoader interface {
	LoadTarget(ctx context.Context, projectID string) (*Target, error)
}

// DBLoader reads targets from Postgres.
type DBLoader struct {
	Projects      *repositories.ProjectRepository
	Subscriptions *repositories.SubscriptionRepository
}

func (l DBLoader) LoadTarget(ctx context.Context, projectID string) (*Target, error) {
	project, err := l.Projects.GetByID(ctx, projectID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProject, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", projectID, err)
	}
	subs, err := l.Subscriptions.ListByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load subscriptions for %s: %w", projectID, err)
	}
	t := &Target{
		ProjectID:       project.ID,
		VAPIDPublicKey:  project.VAPIDPublicKey,
		VAPIDPrivateKey: project.VAPIDPrivateKey,
		VAPIDSubject:    project.VAPIDSubject,
		Subscriptions:   make([]Endpoint, 0, len(subs)),
	}
	for _, s := range subs {
		t.Subscriptions = append(t.Subscriptions, Endpoint{Endpoint: s.Endpoint, P256dh: s.P256dh, Auth: s.Auth})
	}
	return t, nil
}

// TargetCache keeps targets in Redis under push:project:<id>. Cache failures
// degrade to a direct load.
type TargetCache struct {
	rdb    redis.UniversalClient
	loader TargetLoader
	ttl    time.Duration
	log    *zap.Logger
}

func NewTargetCache(rdb redis.UniversalClient, loader TargetLoader, ttl time.Duration, log *zap.Logger) *TargetCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &TargetCache{rdb: rdb, loader: loader, ttl: ttl, log: log}
}

func (c *TargetCache) Get(ctx context.Context, projectID string) (*Target, error) {
	key := cacheKey(projectID)
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var t Target
		if jerr := json.Unmarshal(raw, &t); jerr == nil {
			metrics.SubscriptionCacheTotal.WithLabelValues("hit").Inc()
			return &t, nil
		}
		c.log.Warn("discarding corrupt cache entry", zap.String("key", key))
	case errors.Is(err, redis.Nil):
	default:
		metrics.SubscriptionCacheTotal.WithLabelValues("error").Inc()
		c.log.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}
	metrics.SubscriptionCacheTotal.WithLabelValues("miss").Inc()

	t, err := c.loader.LoadTarget(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(t); err == nil {
		if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return t, nil
}

func (c *TargetCache) Invalidate(ctx context.Context, projectID string) error {
	return c.rdb.Del(ctx, cacheKey(projectID)).Err()
}
