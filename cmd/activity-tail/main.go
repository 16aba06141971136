// Command activity-tail читает топик фактов ledger и печатает их в лог.
// Брокеры, топик и consumer group задаются через KAFKA_BROKERS, ACTIVITY_TOPIC, KAFKA_GROUP_ID.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	eventkafka "github.com/shestoi/backoffice/internal/event/kafka"
	"github.com/shestoi/backoffice/internal/service"
	platformkafka "github.com/shestoi/backoffice/platform/kafka"
	platformlogging "github.com/shestoi/backoffice/platform/logging"
)

func main() {
	logger, err := platformlogging.New(platformlogging.Config{
		ServiceName: "activity-tail",
		Env:         "local",
		Level:       os.Getenv("LOG_LEVEL"),
	})
	if err != nil {
		os.Stderr.WriteString("Failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer platformlogging.Sync(logger)

	cfg := platformkafka.DefaultConfig()
	if err := platformkafka.LoadEnv(&cfg); err != nil {
		logger.Error("failed to load kafka config", zap.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	consumer := eventkafka.NewActivityConsumer(logger, cfg.Brokers, cfg.GroupID, cfg.Topic,
		func(ctx context.Context, a service.Activity) error {
			logger.Info("activity",
				zap.String("event_id", a.EventID),
				zap.String("event_type", a.Type),
				zap.Time("occurred_at", a.OccurredAt),
				zap.String("actor_id", a.ActorID),
				zap.String("quote_id", a.QuoteID),
				zap.String("stock_item_id", a.StockItemID),
				zap.Any("attributes", a.Attributes),
			)
			return nil
		})
	defer func() {
		if err := consumer.Close(); err != nil {
			logger.Error("failed to close kafka consumer", zap.Error(err))
		}
	}()

	logger.Info("tailing activity topic",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
		zap.String("group_id", cfg.GroupID),
	)
	if err := consumer.Start(ctx); err != nil {
		logger.Error("consumer stopped with error", zap.Error(err))
		os.Exit(1)
	}
}
