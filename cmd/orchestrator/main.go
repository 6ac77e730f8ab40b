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

	"github.com/RobertoN0/dds25--team4/internal/orchestrator"
	"github.com/RobertoN0/dds25--team4/pkg/bus"
	"github.com/RobertoN0/dds25--team4/pkg/config"
	"github.com/RobertoN0/dds25--team4/pkg/event"
	"github.com/RobertoN0/dds25--team4/pkg/logger"
	"github.com/RobertoN0/dds25--team4/pkg/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logCfg := &logger.Config{
		Level:       cfg.App.LogLevel,
		ServiceName: "orchestrator",
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Checkout Orchestrator...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:       cfg.OTel.Enabled,
		ServiceName:   "orchestrator",
		Environment:   cfg.App.Environment,
		CollectorAddr: cfg.OTel.CollectorAddr,
		SampleRatio:   cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to initialize tracing: %v", err))
	}
	defer telemetry.Shutdown(context.Background())

	publisher, err := bus.NewKafkaPublisher(ctx, &bus.KafkaConfig{
		Brokers:  cfg.Kafka.Brokers,
		ClientID: "orchestrator",
	})
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Kafka connection failed: %v", err))
	}
	defer publisher.Close()
	appLog.Info("Kafka publisher connected")

	svc := orchestrator.New(publisher)

	consumer, err := bus.NewKafkaConsumer(ctx, &bus.KafkaConfig{
		Brokers:  cfg.Kafka.Brokers,
		GroupID:  "orchestrator",
		ClientID: "orchestrator",
		Topics: []string{
			event.TopicOrderOperations,
			event.TopicStockResponses,
			event.TopicPaymentResponses,
		},
	}, svc.Handle)
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
	router.Use(telemetry.TracingMiddleware("orchestrator"))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "running_sagas": svc.Running()})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		appLog.Info(fmt.Sprintf("Orchestrator listening on %s", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatal(fmt.Sprintf("Failed to start server: %v", err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down...")

	// Sagas live only in memory; in-flight checkouts are lost on
	// shutdown and their callers time out.
	if n := svc.Running(); n > 0 {
		appLog.Warn(fmt.Sprintf("Abandoning %d in-flight sagas", n))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error(fmt.Sprintf("Server forced to shutdown: %v", err))
	}

	consumer.Stop()
	cancel()
	appLog.Info("Orchestrator exited gracefully")
}
