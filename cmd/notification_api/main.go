package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jsndz/signalpush/cmd/notification_api/app/routes"
	"github.com/jsndz/signalpush/logger"
	"github.com/jsndz/signalpush/metrics"
	"github.com/jsndz/signalpush/middlewares"
	"github.com/jsndz/signalpush/pkg/config"
	"github.com/jsndz/signalpush/pkg/database"
	"github.com/jsndz/signalpush/pkg/dispatch"
	"github.com/jsndz/signalpush/pkg/kafka"
	"github.com/jsndz/signalpush/pkg/models"
	"github.com/jsndz/signalpush/pkg/repositories"
	"github.com/jsndz/signalpush/pkg/utils"
	"github.com/jsndz/signalpush/pkg/webhook"
	"github.com/jsndz/signalpush/tracing"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system env")
	}
	logr, err := logger.InitLogger()
	if err != nil {
		panic("Failed to initialize zap logger: " + err.Error())
	}
	defer logr.Sync()

	cfg, err := config.LoadConfig(utils.GetEnvOr("CONFIG_PATH", "./config.yaml"))
	if err != nil {
		logr.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracing.InitTracer(ctx, "notification-api", logr)
	if err != nil {
		logr.Warn("tracing disabled", zap.Error(err))
	} else {
		defer shutdownTracer()
	}

	db, err := database.InitDB(cfg.Database.DSN)
	if err != nil {
		logr.Fatal("DB not init", zap.Error(err))
	}
	if err := database.MigrateDB(db, models.All()...); err != nil {
		logr.Fatal("migrate", zap.Error(err))
	}
	rdb, err := database.InitRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logr.Fatal("redis not init", zap.Error(err))
	}
	defer rdb.Close()

	metrics.InitAPIMetrics()
	metrics.InitKafkaMetrics()
	producer, err := kafka.NewProducerFromEnv(cfg.Kafka.Brokers)
	if err != nil {
		logr.Fatal("kafka producer", zap.Error(err))
	}
	logr.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))

	targets := dispatch.NewTargetCache(rdb, dispatch.DBLoader{
		Projects:      repositories.NewProjectRepository(db),
		Subscriptions: repositories.NewSubscriptionRepository(db),
	}, cfg.Dispatch.CacheTTL, logr)
	limiter := middlewares.NewRateLimiter(rate.Limit(cfg.HTTP.BeaconRate), cfg.HTTP.BeaconBurst, middlewares.ProjectKey)
	go sweepLimiter(ctx, limiter)

	router := gin.New()
	router.Use(gin.Recovery(), middlewares.GinMetricsMiddleware())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	bus := webhook.NewBus(cfg.Webhook.BufferSize, logr)
	// Stopped only after the HTTP server has drained.
	relayCtx, stopRelay := context.WithCancel(context.Background())
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		bus.Relay(relayCtx, producer, cfg.Kafka.WebhookTopic, 5*time.Second)
	}()

	topics := routes.Topics{Jobs: cfg.Kafka.JobsTopic, Events: cfg.Kafka.EventsTopic}
	api := router.Group("/api")
	routes.Notifications(api.Group("/notify"), producer, topics, rdb, logr)
	routes.Events(api.Group("/events"), producer, topics, limiter, bus, logr)
	routes.Projects(api.Group("/projects"), db, targets, logr)
	routes.Notification(api.Group("/notifications"), db, logr)

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logr.Info("notification api listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("Shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("http shutdown", zap.Error(err))
	}
	stopRelay()
	<-relayDone
	if err := producer.Close(); err != nil {
		logr.Error("Error closing Kafka producer", zap.Error(err))
	} else {
		logr.Info("Kafka producer closed cleanly")
	}
}

func sweepLimiter(ctx context.Context, limiter *middlewares.RateLimiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Sweep(10 * time.Minute)
		}
	}
}
