package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jsndz/signalpush/cmd/analytics_worker/admin"
	"github.com/jsndz/signalpush/logger"
	"github.com/jsndz/signalpush/metrics"
	"github.com/jsndz/signalpush/middlewares"
	"github.com/jsndz/signalpush/pkg/analytics"
	"github.com/jsndz/signalpush/pkg/config"
	"github.com/jsndz/signalpush/pkg/database"
	"github.com/jsndz/signalpush/pkg/kafka"
	"github.com/jsndz/signalpush/pkg/models"
	"github.com/jsndz/signalpush/pkg/repositories"
	"github.com/jsndz/signalpush/pkg/utils"
)

func main() {
	_ = godotenv.Load()

	logr, err := logger.InitLogger()
	if err != nil {
		panic("failed to initialize zap logger: " + err.Error())
	}
	defer logr.Sync()

	cfg, err := config.LoadConfig(utils.GetEnvOr("CONFIG_PATH", "./config.yaml"))
	if err != nil {
		logr.Fatal("load config", zap.Error(err))
	}
	logr.Info("Starting analytics worker", zap.Duration("flushInterval", cfg.Analytics.FlushInterval))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.InitDB(cfg.Database.DSN)
	if err != nil {
		logr.Fatal("failed to initialize Database", zap.Error(err))
	}
	if err := database.MigrateDB(db, models.All()...); err != nil {
		logr.Fatal("migrate", zap.Error(err))
	}
	rdb, err := database.InitRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logr.Fatal("failed to initialize Redis", zap.Error(err))
	}
	defer rdb.Close()

	metrics.InitAnalyticsMetrics()
	metrics.InitKafkaMetrics()
	metrics.InitAPIMetrics()

	store := analytics.NewStore(rdb, cfg.Analytics.TempKeyTTL, cfg.Analytics.RetryTTL)
	flusher := analytics.NewFlusher(analytics.FlusherDeps{
		Store:      store,
		Aggregates: repositories.NewAggregateRepository(db),
		Logs:       repositories.NewNotificationLogRepository(db),
		Batches:    repositories.NewFlushBatchRepository(db),
		Logger:     logr,
	}, analytics.FlusherConfig{
		Interval:     cfg.Analytics.FlushInterval,
		StoreTimeout: cfg.Analytics.StoreTimeout,
		LockTTL:      cfg.Analytics.LockTTL,
		TempKeyTTL:   cfg.Analytics.TempKeyTTL,
		ScanCount:    cfg.Analytics.ScanCount,
	})

	deltaReader, err := kafka.NewConsumerFromEnv(cfg.Kafka.EventsTopic, cfg.Kafka.DeltaGroup, cfg.Kafka.Brokers)
	if err != nil {
		logr.Fatal("kafka consumer", zap.String("group", cfg.Kafka.DeltaGroup), zap.Error(err))
	}
	bufferReader, err := kafka.NewConsumerFromEnv(cfg.Kafka.EventsTopic, cfg.Kafka.BufferGroup, cfg.Kafka.Brokers)
	if err != nil {
		logr.Fatal("kafka consumer", zap.String("group", cfg.Kafka.BufferGroup), zap.Error(err))
	}
	consumers := []*analytics.Consumer{
		analytics.NewConsumer(cfg.Kafka.DeltaGroup, deltaReader, analytics.DeltaSink{Store: store}, logr),
		analytics.NewConsumer(cfg.Kafka.BufferGroup, bufferReader, analytics.BufferSink{Store: store}, logr),
	}

	var wg sync.WaitGroup
	for _, c := range consumers {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Run(ctx)
		}()
	}
	for _, r := range []*kafka.Consumer{deltaReader, bufferReader} {
		go r.WatchLag(ctx, 15*time.Second)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		flusher.Run(ctx)
	}()

	router := gin.New()
	router.Use(gin.Recovery(), middlewares.GinMetricsMiddleware())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	admin.Routes(router.Group("/api/admin"), admin.NewHandler(flusher, logr))

	srv := &http.Server{Addr: cfg.Analytics.AdminAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("admin server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("Shutdown signal received")
	wg.Wait()

	// One last cycle so a clean shutdown leaves nothing in the live keys.
	finalCtx, cancel := context.WithTimeout(context.Background(), cfg.Analytics.StoreTimeout*2)
	defer cancel()
	if _, err := flusher.Flush(finalCtx); err != nil {
		logr.Warn("final flush", zap.Error(err))
	}
	srv.Shutdown(finalCtx)
	deltaReader.Close()
	bufferReader.Close()
	logr.Info("analytics worker shut down")
}
