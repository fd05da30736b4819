package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jsndz/signalpush/pkg/database/sqlitetest"
	"github.com/jsndz/signalpush/pkg/models"
	"github.com/jsndz/signalpush/pkg/repositories"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newTargetCache(t *testing.T) (*TargetCache, *miniredis.Miniredis, *repositories.SubscriptionRepository) {
	t.Helper()
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })

	db := sqlitetest.Open(t)
	projects := repositories.NewProjectRepository(db)
	subs := repositories.NewSubscriptionRepository(db)
	if err := projects.Create(ctx, &models.Project{
		ID:              "P1",
		Name:            "shop",
		VAPIDPublicKey:  "pub",
		VAPIDPrivateKey: "priv",
		VAPIDSubject:    "mailto:ops@shop.example",
	}); err != nil {
		t.Fatalf("create project: %v", err)
	}
	for _, ep := range []string{"https://push.example/a", "https://push.example/b"} {
		if err := subs.Save(ctx, &models.Subscription{ProjectID: "P1", Endpoint: ep, P256dh: "k", Auth: "a"}); err != nil {
			t.Fatalf("save subscription: %v", err)
		}
	}
	cache := NewTargetCache(rdb, DBLoader{Projects: projects, Subscriptions: subs}, 24*time.Hour, zap.NewNop())
	return cache, mr, subs
}

func TestTargetCacheMissThenHit(t *testing.T) {
	ctx := context.Background()
	cache, mr, subs := newTargetCache(t)

	got, err := cache.Get(ctx, "P1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Subscriptions) != 2 || got.VAPIDPrivateKey != "priv" {
		t.Fatalf("unexpected target %+v", got)
	}
	if ttl := mr.TTL("push:project:P1"); ttl != 24*time.Hour {
		t.Errorf("expected 24h cache TTL, got %s", ttl)
	}

	// The cached copy is served until it is invalidated.
	if _, err := subs.DeleteByEndpoint(ctx, "P1", "https://push.example/a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ = cache.Get(ctx, "P1")
	if len(got.Subscriptions) != 2 {
		t.Errorf("expected cached target, got %d subscriptions", len(got.Subscriptions))
	}
	if err := cache.Invalidate(ctx, "P1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	got, _ = cache.Get(ctx, "P1")
	if len(got.Subscriptions) != 1 {
		t.Errorf("expected reload after invalidate, got %d subscriptions", len(got.Subscriptions))
	}
}

func TestTargetCacheExpires(t *testing.T) {
	ctx := context.Background()
	cache, mr, _ := newTargetCache(t)
	if _, err := cache.Get(ctx, "P1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	mr.FastForward(25 * time.Hour)
	if mr.Exists("push:project:P1") {
		t.Error("cache entry should expire after 24h")
	}
}

func TestTargetCacheUnknownProject(t *testing.T) {
	cache, _, _ := newTargetCache(t)
	_, err := cache.Get(context.Background(), "missing")
	if !errors.Is(err, ErrUnknownProject) {
		t.Fatalf("expected ErrUnknownProject, got %v", err)
	}
}

func TestTargetCacheFallsBackWhenRedisFails(t *testing.T) {
	cache, mr, _ := newTargetCache(t)
	mr.SetError("ERR cache down")
	got, err := cache.Get(context.Background(), "P1")
	if err != nil {
		t.Fatalf("expected direct load, got %v", err)
	}
	if len(got.Subscriptions) != 2 {
		t.Errorf("unexpected target %+v", got)
	}
}
