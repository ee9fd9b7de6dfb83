package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amr-shafiq/live-stock-market/cmd/producer/internal/fetcher"
	"github.com/amr-shafiq/live-stock-market/cmd/producer/internal/publisher"
	"github.com/amr-shafiq/live-stock-market/pkg/config"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	// 2. Initialize Zap Logger
	logger, err := config.NewLogger(cfg.App, cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if cfg.Fetcher.APIKey == "" {
		logger.Warn("No API key configured, upstream quote requests will be rejected")
	}

	// 3. Create Topic (Ensure it exists)
	dialer := &publisher.RealKafkaDialer{Dialer: &kafka.Dialer{Timeout: 10 * time.Second}}
	topics := publisher.NewTopicCreator(logger, dialer, publisher.RealClock{})
	topics.Create(cfg.Kafka.Brokers, cfg.Kafka.Topic)

	// 4. Setup Kafka Writer (Production Tuning)
	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
		// Optimization: Send batches to reduce network IO
		BatchSize:    100,                   // Send after 100 messages
		BatchTimeout: 10 * time.Millisecond, // OR send after 10ms
		Async:        true,                  // Write non-blocking (fire and forget handled by buffer)
	}

	// 5. Setup Shutdown Hook
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// 6. Main Publish Loop
	client := fetcher.NewClient(cfg.Fetcher)
	pub := publisher.New(logger, writer, client, publisher.RealClock{}, cfg.Fetcher.Symbols, cfg.Fetcher.Interval)

	done := make(chan struct{})
	go func() {
		defer close(done)
		pub.Run(ctx)
	}()

	// 7. Wait for Shutdown Signal
	<-sigChan
	logger.Info("Shutdown signal received")
	cancel()
	<-done

	// 8. Flush Kafka Buffer (CRITICAL)
	if err := writer.Close(); err != nil {
		logger.Error("Error closing Kafka writer", zap.Error(err))
	} else {
		logger.Info("Kafka writer closed cleanly")
	}
}
