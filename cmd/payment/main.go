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

	"github.com/gin-gonic/gin"

	"github.com/RobertoN0/dds25--team4/internal/payment"
	"github.com/RobertoN0/dds25--team4/pkg/bus"
	"github.com/RobertoN0/dds25--team4/pkg/config"
	"github.com/RobertoN0/dds25--team4/pkg/event"
	"github.com/RobertoN0/dds25--team4/pkg/kv"
	"github.com/RobertoN0/dds25--team4/pkg/logger"
	"github.com/RobertoN0/dds25--team4/pkg/retry"
	"github.com/RobertoN0/dds25--team4/pkg/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logCfg := &logger.Config{
		Level:       cfg.App.LogLevel,
		ServiceName: "payment-service",
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Payment Service...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:       cfg.OTel.Enabled,
		ServiceName:   "payment-service",
		Environment:   cfg.App.Environment,
		CollectorAddr: cfg.OTel.CollectorAddr,
		SampleRatio:   cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to initialize tracing: %v", err))
	}
	defer telemetry.Shutdown(context.Background())

	store, err := kv.NewRedisStore(ctx, &kv.Config{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Redis connection failed: %v", err))
	}
	defer store.Close()
	appLog.Info("Redis connected")

	publisher, err := bus.NewKafkaPublisher(ctx, &bus.KafkaConfig{
		Brokers:  cfg.Kafka.Brokers,
		ClientID: "payment-service",
	})
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Kafka connection failed: %v", err))
	}
	defer publisher.Close()
	appLog.Info("Kafka publisher connected")

	retryCfg := &retry.Config{
		MaxAttempts: cfg.Saga.StoreRetryAttempts,
		Interval:    cfg.Saga.StoreRetryInterval,
	}

	worker := payment.NewWorker(&payment.WorkerConfig{
		Store:          store,
		Publisher:      publisher,
		Retry:          retryCfg,
		IdempotencyTTL: cfg.Saga.IdempotencyTTL,
	})

	consumer, err := bus.NewKafkaConsumer(ctx, &bus.KafkaConfig{
		Brokers:  cfg.Kafka.Brokers,
		GroupID:  "payment-service",
		ClientID: "payment-service",
		Topics:   []string{event.TopicPaymentOperations},
	}, worker.Handle)
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to create Kafka consumer: %v", err))
	}

	go func() {
		if err := consumer.Run(ctx); err != nil && err != context.Canceled {
			appLog.Error(fmt.Sprintf("Consumer stopped: %v", err))
		}
	}()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(telemetry.TracingMiddleware("payment-service"))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handler := payment.NewHandler(worker.Repository(), retryCfg)
	handler.RegisterRoutes(router)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		appLog.Info(fmt.Sprintf("Payment Service listening on %s", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatal(fmt.Sprintf("Failed to start server: %v", err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error(fmt.Sprintf("Server forced to shutdown: %v", err))
	}

	consumer.Stop()
	cancel()
	appLog.Info("Payment Service exited gracefully")
}
