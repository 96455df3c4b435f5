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

	"marketplace-service/config"
	"marketplace-service/internal/api"
	"marketplace-service/internal/broker"
	"marketplace-service/internal/clock"
	"marketplace-service/internal/models"
	"marketplace-service/internal/redisclient"
	"marketplace-service/internal/service"
	"marketplace-service/internal/store"
	"marketplace-service/internal/store/memory"
	"marketplace-service/internal/util"
	"marketplace-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, util.ServiceName); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting marketplace service")

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	ctx := context.Background()
	clk := clock.NewSystem()
	checks := map[string]api.ReadinessCheck{}

	var repo service.Repository
	switch cfg.Database.Driver {
	case config.DriverMemory:
		repo = memory.New(memory.WithClock(clk))
		logger.Warn("Using in-memory store; state is lost on restart")
	case config.DriverPostgres:
		db, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			logger.Fatal("Failed to apply schema", zap.Error(err))
		}
		checks["database"] = db.GetDB().PingContext
		repo = db
		logger.Info("Database connected")
	default:
		logger.Fatal("Unknown store driver", zap.String("driver", cfg.Database.Driver))
	}

	var cache *redisclient.Client
	if cfg.Redis.Enabled {
		cache, err = redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer cache.Close()
		checks["redis"] = func(ctx context.Context) error {
			return cache.GetClient().Ping(ctx).Err()
		}
		logger.Info("Redis connected")
	}

	var notifier service.Notifier = service.NewLogNotifier(logger)
	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications)
		defer producer.Close()
		notifier = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicNotifications))
	}

	biz := cfg.Business

	products := service.NewProductAvailability(repo, cache)
	orderService := service.NewOrderService(repo, products, notifier, clk,
		service.WithOrderTTL(biz.OrderTTL))
	offerService := service.NewOfferService(repo, products, orderService, notifier, clk,
		service.WithOfferTTL(biz.OfferTTL))
	paymentService := service.NewPaymentService(repo, orderService, notifier, clk,
		models.PaymentTarget{
			BankName:      cfg.Bank.Name,
			AccountNumber: cfg.Bank.AccountNumber,
			AccountHolder: cfg.Bank.AccountHolder,
		},
		service.WithPaymentTTL(biz.PaymentTTL),
		service.WithCodeGenerator(service.NewCodeGenerator(biz.TxCodeLength)),
		service.WithCodeMaxAttempts(biz.TxCodeMaxAttempts),
		service.WithProofReviewer(biz.ProofReviewerID),
	)

	if err := products.SyncToCache(ctx); err != nil {
		logger.Error("Failed to sync availability to Redis", zap.Error(err))
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	sweeper := service.NewSweeper(repo, offerService, orderService, paymentService, clk, biz.SweepBatchSize)
	checker := service.NewConsistencyChecker(repo, offerService, products, clk, biz.ConsistencyGrace, biz.SweepBatchSize)
	sweepWorker := worker.NewSweepWorker(sweeper, checker, biz.SweepInterval)
	go func() {
		if err := sweepWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Sweep worker error", zap.Error(err))
		}
	}()

	var deliveryWorker *worker.DeliveryWorker
	if cfg.Kafka.Enabled {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicDelivery, cfg.Kafka.ConsumerGroup)
		deliveryWorker = worker.NewDeliveryWorker(consumer, orderService)
		go func() {
			if err := deliveryWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Delivery worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(offerService, orderService, paymentService, checks)
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
	if deliveryWorker != nil {
		if err := deliveryWorker.Stop(); err != nil {
			logger.Error("Failed to stop delivery worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}
