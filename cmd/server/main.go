package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stall-service/config"
	"stall-service/internal/api"
	"stall-service/internal/broker"
	"stall-service/internal/models"
	"stall-service/internal/redisclient"
	"stall-service/internal/service"
	"stall-service/internal/store"
	"stall-service/internal/syncer"
	"stall-service/internal/util"
	"stall-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// remoteStore is what main needs from either store backend
type remoteStore interface {
	syncer.RemoteStore
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

func openStore(ctx context.Context, cfg config.StoreConfig) (remoteStore, error) {
	switch cfg.Backend {
	case config.BackendDynamoDB:
		client, err := store.NewDynamoDBClient(ctx, cfg.AWSRegion, cfg.DynamoDBEndpoint)
		if err != nil {
			return nil, err
		}
		return store.NewDynamoStore(client, cfg.ProductsTable, cfg.SalesTable), nil
	default:
		return store.NewStore(cfg.DatabaseURL)
	}
}

func main() {

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.TerminalID); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting stall service",
		zap.String("policy", cfg.Business.OversellPolicy),
		zap.Bool("sync", cfg.Sync.Enabled))

	if cfg.Observ.TracingEnabled {
		tp, err := util.InitTracer("stall-service", cfg.Server.TerminalID, cfg.Observ.JaegerEndpoint)
		if err != nil {
			logger.Fatal("Failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Warn("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	ctx := context.Background()

	var (
		remote         remoteStore
		redisClient    *redisclient.Client
		producer       *broker.Producer
		synchronizer   *syncer.Synchronizer
		writeWorker    *worker.WriteWorker
		snapshotWorker *worker.SnapshotWorker
	)

	// with sync on, products and sales come from the first snapshot
	catalog := models.DefaultCatalog()
	if cfg.Sync.Enabled {
		catalog = nil
	}

	ledger := service.NewLedger(cfg.Business.OversellPolicy, catalog)
	journal := service.NewJournal(ledger)

	var replicator service.Replicator = service.NopReplicator{}

	if cfg.Sync.Enabled {
		var err error
		remote, err = openStore(ctx, cfg.Store)
		if err != nil {
			logger.Fatal("Failed to open remote store", zap.String("backend", cfg.Store.Backend), zap.Error(err))
		}
		defer remote.Close()

		if err := remote.Migrate(ctx); err != nil {
			logger.Fatal("Failed to migrate remote store", zap.Error(err))
		}
		logger.Info("Remote store ready", zap.String("backend", cfg.Store.Backend))

		redisClient, err = redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		logger.Info("Redis connected")

		producer = broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
		defer producer.Close()
		publisher := broker.NewEventPublisher(producer, cfg.Server.TerminalID)

		if _, err := syncer.SeedCatalog(ctx, remote, redisClient, models.DefaultCatalog()); err != nil {
			logger.Error("Failed to seed catalog", zap.Error(err))
		}

		synchronizer = syncer.NewSynchronizer(remote, publisher, cfg.Business.OversellPolicy, cfg.Sync.QueueSize)
		replicator = synchronizer
	}

	stall := service.NewStallService(ledger, journal, replicator)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	if cfg.Sync.Enabled {
		subscription := syncer.Subscribe(remote, stall)
		if err := subscription.Reload(ctx, syncer.TriggerInitial); err != nil {
			logger.Error("Initial snapshot failed, starting empty until the next poll", zap.Error(err))
		}

		writeWorker = worker.NewWriteWorker(synchronizer, cfg.Sync.WriteTimeout)
		go writeWorker.Start()

		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Kafka.ConsumerGroup)
		snapshotWorker = worker.NewSnapshotWorker(subscription, consumer, cfg.Sync.PollInterval)
		go func() {
			if err := snapshotWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Snapshot worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(stall)
	if cfg.Sync.Enabled {
		handler.
			WithIdempotency(redisClient, cfg.Business.IdempotencyTTL).
			WithSyncFailures(synchronizer).
			WithReadinessCheck("store", remote).
			WithReadinessCheck("redis", redisClient)
	}
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if snapshotWorker != nil {
		if err := snapshotWorker.Stop(); err != nil {
			logger.Warn("Snapshot worker stop error", zap.Error(err))
		}
	}
	if writeWorker != nil {
		if err := writeWorker.Stop(shutdownCtx); err != nil {
			logger.Warn("Pending remote writes dropped", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}
