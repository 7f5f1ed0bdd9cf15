package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coffeeshop/internal/cache"
	"coffeeshop/internal/config"
	"coffeeshop/internal/delivery"
	"coffeeshop/internal/handlers"
	"coffeeshop/internal/kafka"
	"coffeeshop/internal/logging"
	"coffeeshop/internal/metrics"
	"coffeeshop/internal/queue"
	"coffeeshop/internal/repository"
	"coffeeshop/internal/service"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// выставляется при сборке: -ldflags "-X main.version=..."
var version = "dev"

func main() {
	os.Exit(start())
}

// start возвращает код выхода; отложенный Sync успевает до os.Exit.
func start() int {
	// ---------- config ----------
	cfg := config.Load()

	logger, err := logging.New("coffeeshop", cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return 1
	}
	return 0
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register()

	// ---------- store ----------
	var store repository.Store
	switch cfg.StoreDriver {
	case "memory":
		store = repository.NewMemoryStore()
	default:
		pool, err := repository.NewPool(ctx, cfg.DBDSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := repository.Migrate(ctx, pool); err != nil {
			return err
		}
		store = repository.NewPostgresStore(pool)
	}
	logger.Info("store ready", zap.String("driver", cfg.StoreDriver))

	// ---------- cache ----------
	var c cache.Cache
	if cfg.CacheEnabled {
		rc := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer rc.Close()
		cache.StartRedisSizeCollector(ctx, rc.RawClient(), cfg.MetricsInterval, logger)
		c = rc
	}

	// ---------- queue ----------
	q, err := newQueue(cfg, logger)
	if err != nil {
		return err
	}
	defer q.Close()
	logger.Info("queue ready", zap.String("driver", cfg.QueueDriver))

	// ---------- delivery ----------
	policy := delivery.RetryPolicy{
		MaxAttempts: cfg.Delivery.MaxAttempts,
		BackoffBase: cfg.Delivery.BackoffBase,
		BackoffMax:  cfg.Delivery.BackoffMax,
	}
	pusher := delivery.NewHTTPPusher(cfg.Delivery.Timeout, version)
	worker := delivery.NewWorker(store, pusher, q, policy, c, logger.Named("worker"))

	queueDone := make(chan struct{})
	go func() {
		defer close(queueDone)
		if err := q.Start(ctx, worker.Process); err != nil {
			logger.Error("delivery queue stopped", zap.Error(err))
			stop()
		}
	}()

	sweeper := delivery.NewSweeper(store, q, cfg.SweepInterval, cfg.SweepGrace, cfg.SweepBatch, logger.Named("sweeper"))
	sweeper.Start(ctx)

	metrics.StartStoreCollector(ctx, store, cfg.MetricsInterval, logger)

	// ---------- http ----------
	dispatcher := service.NewDispatcher(store, q, logger.Named("dispatcher"))
	hub := service.NewHubService(store, dispatcher, logger)
	h := handlers.NewHubHandler(hub, c, cfg.CacheTTL, logger)

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: handlers.NewRouter(h, handlers.RouterOptions{
			CORSOrigins: cfg.CORSOrigins,
			Version:     version,
			Logger:      logger.Named("http"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-srvErr:
		if err != nil {
			return err
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	stop()
	select {
	case <-queueDone:
	case <-shutdownCtx.Done():
		logger.Warn("delivery queue did not stop in time")
	}
	return nil
}

func newQueue(cfg *config.Config, logger *zap.Logger) (queue.Queue, error) {
	switch cfg.QueueDriver {
	case queue.DriverRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return queue.NewRedisQueue(rdb, queue.RedisQueueOptions{
			Key:          cfg.RedisQueueKey,
			PollInterval: cfg.RedisPollInterval,
			Workers:      cfg.QueueWorkers,
		}, logger.Named("queue")), nil
	case queue.DriverKafka:
		producer, err := kafka.NewSyncProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, err
		}
		return queue.NewKafkaQueue(producer, queue.KafkaQueueOptions{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroupID,
		}, logger.Named("queue")), nil
	default:
		return queue.NewMemoryQueue(cfg.QueueWorkers, cfg.QueueBuffer, logger.Named("queue")), nil
	}
}
