package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jsndz/signalpush/cmd/notification_api/app/internal/handler"
	"github.com/jsndz/signalpush/cmd/notification_api/app/internal/services"
	"github.com/jsndz/signalpush/middlewares"
	"github.com/jsndz/signalpush/pkg/kafka"
	"github.com/jsndz/signalpush/pkg/webhook"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const idempotencyTTL = 24 * time.Hour

type Topics struct {
	Jobs   string
	Events string
}

func Notifications(router *gin.RouterGroup, p kafka.Publisher, topics Topics, rdb redis.UniversalClient, log *zap.Logger) {
	h := handler.NewNotificationHandler(services.NewNotificationService(p, topics.Jobs, topics.Events, log), log)
	router.POST("", middlewares.Idempotency(rdb, idempotencyTTL, log), h.Notify)
}

func Events(router *gin.RouterGroup, p kafka.Publisher, topics Topics, limiter *middlewares.RateLimiter, bus *webhook.Bus, log *zap.Logger) {
	svc := services.NewNotificationService(p, topics.Jobs, topics.Events, log).WithWebhooks(bus)
	h := handler.NewNotificationHandler(svc, log)
	router.POST("", limiter.Middleware(), h.Beacon)
}

func Projects(router *gin.RouterGroup, db *gorm.DB, cache services.CacheInvalidator, log *zap.Logger) {
	h := handler.NewProjectHandler(services.NewAnalyticsService(db), services.NewSubscriptionService(db, cache), log)
	router.GET("/:id/aggregate", h.GetAggregate)
	router.GET("/:id/logs", h.ListLogs)
	router.POST("/:id/subscriptions", h.Subscribe)
	router.DELETE("/:id/subscriptions", h.Unsubscribe)
}

func Notification(router *gin.RouterGroup, db *gorm.DB, log *zap.Logger) {
	h := handler.NewProjectHandler(services.NewAnalyticsService(db), nil, log)
	router.GET("/:id/logs", h.NotificationHistory)
}
