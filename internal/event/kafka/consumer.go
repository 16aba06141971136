package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shestoi/backoffice/internal/service"
)

// messageReader часть kafka.Reader, нужная consumer'у
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ActivityHandler обрабатывает один декодированный факт
type ActivityHandler func(ctx context.Context, activity service.Activity) error

// ActivityConsumer читает топик фактов ядра (at-least-once: commit после обработки)
type ActivityConsumer struct {
	logger  *zap.Logger
	reader  messageReader
	topic   string
	handler ActivityHandler
}

// NewActivityConsumer создаёт consumer группы groupID для топика topic
func NewActivityConsumer(logger *zap.Logger, brokers []string, groupID, topic string, handler ActivityHandler) *ActivityConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return newConsumer(logger, reader, topic, handler)
}

func newConsumer(logger *zap.Logger, reader messageReader, topic string, handler ActivityHandler) *ActivityConsumer {
	return &ActivityConsumer{
		logger:  logger,
		reader:  reader,
		topic:   topic,
		handler: handler,
	}
}

// Start читает сообщения до отмены ctx.
// Битые сообщения логируются и коммитятся, чтобы не блокировать партицию.
// Ошибка handler'а оставляет offset незакоммиченным: сообщение придёт снова после ребаланса.
func (c *ActivityConsumer) Start(ctx context.Context) error {
	c.logger.Info("starting activity consumer", zap.String("topic", c.topic))

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer context cancelled, stopping")
				return nil
			}
			c.logger.Error("failed to fetch message from kafka", zap.Error(err))
			continue
		}

		if !c.process(ctx, m) {
			continue
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			c.logger.Error("failed to commit message offset",
				zap.Error(err),
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
			)
		}
	}
}

// process возвращает true, если offset нужно закоммитить
func (c *ActivityConsumer) process(ctx context.Context, m kafka.Message) bool {
	activity, err := decode(m)
	if err != nil {
		c.logger.Error("skipping malformed activity message",
			zap.Error(err),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
		)
		return true
	}

	if err := c.handler(ctx, activity); err != nil {
		c.logger.Warn("failed to handle activity",
			zap.Error(err),
			zap.String("event_id", activity.EventID),
			zap.String("event_type", activity.Type),
		)
		return false
	}
	return true
}

// Close закрывает Kafka reader
func (c *ActivityConsumer) Close() error {
	return c.reader.Close()
}

func decode(m kafka.Message) (service.Activity, error) {
	var msg activityMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		return service.Activity{}, fmt.Errorf("failed to unmarshal activity: %w", err)
	}
	if msg.EventID == "" || msg.EventType == "" {
		return service.Activity{}, fmt.Errorf("activity without event_id or event_type")
	}
	if msg.EventVersion != eventVersion {
		return service.Activity{}, fmt.Errorf("unsupported event_version %d", msg.EventVersion)
	}

	occurredAt, err := time.Parse(time.RFC3339Nano, msg.OccurredAt)
	if err != nil {
		return service.Activity{}, fmt.Errorf("invalid occurred_at: %w", err)
	}

	return service.Activity{
		EventID:     msg.EventID,
		Type:        msg.EventType,
		OccurredAt:  occurredAt,
		ActorID:     msg.ActorID,
		QuoteID:     msg.QuoteID,
		StockItemID: msg.StockItemID,
		ClientID:    msg.ClientID,
		Attributes:  msg.Attributes,
	}, nil
}
