package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jsndz/signalpush/logger"
	"github.com/jsndz/signalpush/metrics"
	"github.com/jsndz/signalpush/middlewares"
	"github.com/jsndz/signalpush/pkg/config"
	"github.com/jsndz/signalpush/pkg/database"
	"github.com/jsndz/signalpush/pkg/dispatch"
	"github.com/jsndz/signalpush/pkg/kafka"
	"github.com/jsndz/signalpush/pkg/repositories"
	"github.com/jsndz/signalpush/pkg/utils"
	"github.com/jsndz/signalpush/pkg/webhook"
	"github.com/jsndz/signalpush/tracing"
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
	logr.Info("Starting push worker service", zap.Int("concurrency", cfg.Dispatch.Concurrency))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracing.InitTracer(ctx, "push-worker", logr)
	if err != nil {
		logr.Warn("tracing disabled", zap.Error(err))
	} else {
		defer shutdownTracer()
	}

	db, err := database.InitDB(cfg.Database.DSN)
	if err != nil {
		logr.Fatal("failed to initialize Database", zap.Error(err))
	}
	rdb, err := database.InitRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logr.Fatal("failed to initialize Redis", zap.Error(err))
	}
	defer rdb.Close()

	metrics.InitWorkerMetrics()
	metrics.InitKafkaMetrics()
	metrics.InitAPIMetrics()

	producer, err := kafka.NewProducerFromEnv(cfg.Kafka.Brokers)
	if err != nil {
		logr.Fatal("kafka producer", zap.Error(err))
	}
	defer producer.Close()

	subs := repositories.NewSubscriptionRepository(db)
	targets := dispatch.NewTargetCache(rdb, dispatch.DBLoader{
		Projects:      repositories.NewProjectRepository(db),
		Subscriptions: subs,
	}, cfg.Dispatch.CacheTTL, logr)
	bus := webhook.NewBus(cfg.Webhook.BufferSize, logr)
	sender := dispatch.NewWebPushSender(&http.Client{Timeout: cfg.Dispatch.SendTimeout}, cfg.Dispatch.PushTTL, cfg.Dispatch.VAPIDSubject)

	worker := dispatch.NewWorker(dispatch.WorkerDeps{
		Targets:       targets,
		Subscriptions: subs,
		Pusher:        sender,
		Events:        producer,
		Webhooks:      bus,
		Logger:        logr,
	}, dispatch.WorkerConfig{
		EventsTopic: cfg.Kafka.EventsTopic,
		DLQTopic:    cfg.Kafka.DLQTopic,
		FanoutLimit: cfg.Dispatch.FanoutLimit,
		MaxAttempts: cfg.Dispatch.MaxAttempts,
		BaseBackoff: cfg.Dispatch.BaseBackoff,
		MaxBackoff:  cfg.Dispatch.MaxBackoff,
		SendTimeout: cfg.Dispatch.SendTimeout,
	})

	readers := make([]kafka.MessageReader, 0, cfg.Dispatch.Concurrency)
	for i := 0; i < cfg.Dispatch.Concurrency; i++ {
		c, err := kafka.NewConsumerFromEnv(cfg.Kafka.JobsTopic, cfg.Kafka.PushGroup, cfg.Kafka.Brokers)
		if err != nil {
			logr.Fatal("kafka consumer", zap.Error(err))
		}
		if i == 0 {
			go c.WatchLag(ctx, 15*time.Second)
		}
		readers = append(readers, c)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		bus.Relay(ctx, producer, cfg.Kafka.WebhookTopic, 5*time.Second)
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	srv := &http.Server{Addr: cfg.Dispatch.MetricsAddr, Handler: middlewares.MetricsMiddleware(mux), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("metrics server failed", zap.Error(err))
		}
	}()

	if err := worker.Run(ctx, readers...); err != nil {
		logr.Error("push worker stopped with error", zap.Error(err))
	}
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	for _, r := range readers {
		if err := r.Close(); err != nil {
			logr.Warn("close consumer", zap.Error(err))
		}
	}
	logr.Info("push worker shut down")
}
