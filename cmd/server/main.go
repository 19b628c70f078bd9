package main

import (
	"context"
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
	"marketplace-service/internal/redisclient"
	"marketplace-service/internal/service"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"
	"marketplace-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting marketplace service")

	tp, err := util.InitTracer("marketplace-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	publisher := broker.NewNotificationPublisher(producer)

	stateMachine := service.NewStateMachine(
		cfg.Business.CommissionRate,
		time.Duration(cfg.Business.DropoffDeadlineHours)*time.Hour,
		time.Duration(cfg.Business.PickupDeadlineHours)*time.Hour,
	)
	orderService := service.NewOrderService(db, stateMachine, publisher, cfg.Business.Currency)
	reconciler := service.NewPaymentReconciler(db, orderService)
	withdrawalService := service.NewWithdrawalService(db, publisher)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	scheduler := worker.NewDeadlineScheduler(db, orderService,
		time.Duration(cfg.Business.SchedulerIntervalSeconds)*time.Second)
	scheduler.Start(workerCtx)

	notificationConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(notificationConsumer, worker.NewLogNotifier())
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil {
			log.Printf("Notification worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	gate := api.NewSecurityGate(
		cfg.Webhook.AllowedIPs,
		time.Duration(cfg.Webhook.MaxAgeSeconds)*time.Second,
		cfg.Server.Env == "production",
		redisClient,
		cfg.Webhook.RateLimitPerMinute,
	)

	router := gin.Default()
	handler := api.NewHandler(orderService, reconciler, withdrawalService, gate,
		time.Duration(cfg.Webhook.TimeoutSeconds)*time.Second)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	scheduler.Stop()
	notificationWorker.Stop()

	log.Println("Server exited")
}
