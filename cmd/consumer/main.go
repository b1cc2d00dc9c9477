package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shardie-github/castor-sub009/internal/config"
	"github.com/shardie-github/castor-sub009/internal/consumer"
	"github.com/shardie-github/castor-sub009/internal/identity"
	"github.com/shardie-github/castor-sub009/internal/logger"
	"github.com/shardie-github/castor-sub009/internal/normalizer"
	"github.com/shardie-github/castor-sub009/internal/queue/sqs"
	"github.com/shardie-github/castor-sub009/internal/repository/clickhouse"
	"github.com/shardie-github/castor-sub009/internal/repository/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.New(cfg.Service.Environment, "consumer")
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer func(log *zap.Logger) {
		if err := log.Sync(); err != nil {
			log.Error("Failed to sync logger", zap.Error(err))
		}
	}(log)

	log.Info("Starting consumer service",
		zap.String("environment", cfg.Service.Environment))

	ctx := context.Background()

	chClient, err := clickhouse.NewClient(ctx, cfg.ClickHouse, log)
	if err != nil {
		log.Fatal("Failed to create ClickHouse client", zap.Error(err))
	}
	defer func() {
		if err := chClient.Close(); err != nil {
			log.Error("Failed to close ClickHouse client", zap.Error(err))
		}
	}()

	eventLog := clickhouse.NewRepository(chClient, log)
	if err := eventLog.InitSchema(ctx); err != nil {
		log.Fatal("Failed to initialize schema", zap.Error(err))
	}
	log.Info("Event log schema initialized")

	db, err := postgres.Open(cfg.Postgres.DSN, log)
	if err != nil {
		log.Fatal("Failed to open Postgres", zap.Error(err))
	}
	identityStore := postgres.NewIdentityStore(db, log)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	deduper := normalizer.NewRedisDeduper(redisClient, cfg.Redis.DedupTTL())
	norm := normalizer.New(deduper, log)

	weights := identity.DefaultWeights()
	if cfg.Attribution.ScoreThreshold > 0 {
		weights.Threshold = cfg.Attribution.ScoreThreshold
	}
	locker := identity.NewRedisLocker(redisClient, cfg.Redis.LockTTL())
	resolver := identity.NewResolver(identityStore, locker, weights, log)

	sqsClient, err := sqs.NewClient(ctx, cfg.SQS, log)
	if err != nil {
		log.Fatal("Failed to create SQS client", zap.Error(err))
	}

	c := consumer.NewConsumer(cfg, sqsClient, norm, deduper, eventLog, resolver, log)

	go func() {
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			if err := eventLog.Ping(r.Context()); err != nil {
				log.Warn("Health check failed", zap.Error(err))
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		})

		addr := ":" + cfg.Consumer.HealthCheckPort
		log.Info("Health check server starting", zap.String("address", addr))
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.Error("Health check server error", zap.Error(err))
		}
	}()

	consumerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Info("Consumer starting")

	go func() {
		if err := c.Start(consumerCtx); err != nil {
			log.Fatal("Consumer error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down consumer gracefully")
	cancel()
}
