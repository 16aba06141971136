package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shestoi/backoffice/internal/service"
)

// eventVersion версия формата сообщения activity
const eventVersion = 1

// publishTimeout ограничивает ожидание брокера: публикация идёт после commit на пути запроса
const publishTimeout = 3 * time.Second

// messageWriter часть kafka.Writer, нужная publisher'у
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaActivityPublisher реализует service.ActivityPublisher используя Kafka
type KafkaActivityPublisher struct {
	logger *zap.Logger
	writer messageWriter
	topic  string
}

// NewKafkaActivityPublisher создаёт новый Kafka publisher для фактов ядра
func NewKafkaActivityPublisher(logger *zap.Logger, brokers []string, topic string) *KafkaActivityPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // факты одного предложения попадают в одну партицию
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}

	return newPublisher(logger, writer, topic)
}

func newPublisher(logger *zap.Logger, writer messageWriter, topic string) *KafkaActivityPublisher {
	return &KafkaActivityPublisher{
		logger: logger,
		writer: writer,
		topic:  topic,
	}
}

// Close закрывает Kafka writer
func (p *KafkaActivityPublisher) Close() error {
	return p.writer.Close()
}

// activityMessage JSON payload сообщения
type activityMessage struct {
	EventID      string            `json:"event_id"`
	EventType    string            `json:"event_type"`
	EventVersion int               `json:"event_version"`
	OccurredAt   string            `json:"occurred_at"`
	ActorID      string            `json:"actor_id"`
	QuoteID      string            `json:"quote_id,omitempty"`
	StockItemID  string            `json:"stock_item_id,omitempty"`
	ClientID     string            `json:"client_id,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// messageKey ключ партиционирования: предложение, иначе складская позиция
func messageKey(a service.Activity) string {
	if a.QuoteID != "" {
		return a.QuoteID
	}
	if a.StockItemID != "" {
		return a.StockItemID
	}
	return a.EventID
}

func encode(a service.Activity) (kafka.Message, error) {
	if a.EventID == "" {
		a.EventID = uuid.NewString()
	}
	if a.OccurredAt.IsZero() {
		a.OccurredAt = time.Now().UTC()
	}

	value, err := json.Marshal(activityMessage{
		EventID:      a.EventID,
		EventType:    a.Type,
		EventVersion: eventVersion,
		OccurredAt:   a.OccurredAt.UTC().Format(time.RFC3339Nano),
		ActorID:      a.ActorID,
		QuoteID:      a.QuoteID,
		StockItemID:  a.StockItemID,
		ClientID:     a.ClientID,
		Attributes:   a.Attributes,
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal activity: %w", err)
	}

	return kafka.Message{
		Key:   []byte(messageKey(a)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(a.Type)},
		},
	}, nil
}

// Publish публикует факт в Kafka
func (p *KafkaActivityPublisher) Publish(ctx context.Context, activity service.Activity) error {
	message, err := encode(activity)
	if err != nil {
		p.logger.Error("failed to encode activity",
			zap.Error(err),
			zap.String("event_type", activity.Type),
		)
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		p.logger.Error("failed to publish activity",
			zap.Error(err),
			zap.String("topic", p.topic),
			zap.String("event_type", activity.Type),
			zap.String("key", string(message.Key)),
		)
		return err
	}

	p.logger.Debug("activity published",
		zap.String("topic", p.topic),
		zap.String("event_type", activity.Type),
		zap.String("key", string(message.Key)),
	)
	return nil
}
