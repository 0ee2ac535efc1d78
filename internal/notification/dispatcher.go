package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Leganyst/consultation-slots/internal/config"
	"github.com/Leganyst/consultation-slots/internal/model"
)

// Message: одно уведомление для внешнего сервиса рассылки.
type Message struct {
	ID        uuid.UUID                 `json:"id"`
	BookingID uuid.UUID                 `json:"booking_id"`
	Channel   model.Channel             `json:"channel"`
	Recipient string                    `json:"recipient"`
	Payload   model.NotificationPayload `json:"payload"`
}

// Dispatcher передаёт уведомление сервису рассылки. Подтверждение доставки не ожидается.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

// DispatchError: неудачная передача уведомления. Не откатывает переход статуса.
type DispatchError struct {
	MessageID uuid.UUID
	Channel   model.Channel
	Attempt   int
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s notification %s (attempt %d): %v", e.Channel, e.MessageID, e.Attempt, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// KafkaDispatcher публикует уведомления в топики по каналу (sms / email).
type KafkaDispatcher struct {
	writer *kafka.Writer
	topics map[model.Channel]string
}

func NewKafkaDispatcher(cfg config.KafkaConfig) (*KafkaDispatcher, error) {
	brokers := cfg.BrokerList()
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}

	// Проверка подключения
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Kafka: %w", err)
	}
	_ = conn.Close()

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}

	return &KafkaDispatcher{
		writer: writer,
		topics: map[model.Channel]string{
			model.ChannelSMS:   cfg.SMSTopic,
			model.ChannelEmail: cfg.EmailTopic,
		},
	}, nil
}

func (d *KafkaDispatcher) Dispatch(ctx context.Context, msg Message) error {
	kmsg, err := d.encode(msg)
	if err != nil {
		return err
	}
	return d.writer.WriteMessages(ctx, kmsg)
}

func (d *KafkaDispatcher) encode(msg Message) (kafka.Message, error) {
	topic, ok := d.topics[msg.Channel]
	if !ok || topic == "" {
		return kafka.Message{}, fmt.Errorf("no topic for channel %q", msg.Channel)
	}

	value, err := json.Marshal(msg)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode notification: %w", err)
	}

	return kafka.Message{
		Topic: topic,
		// один ключ на запись — уведомления по ней попадают в одну партицию по порядку
		Key:   []byte(msg.BookingID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "message_id", Value: []byte(msg.ID.String())},
			{Key: "kind", Value: []byte(msg.Payload.Kind)},
		},
	}, nil
}

func (d *KafkaDispatcher) Close() error {
	return d.writer.Close()
}

// LogDispatcher только пишет уведомление в лог. Используется, когда Kafka не настроена.
type LogDispatcher struct {
	log *zap.Logger
}

func NewLogDispatcher(log *zap.Logger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Dispatch(_ context.Context, msg Message) error {
	d.log.Info("notification",
		zap.String("message_id", msg.ID.String()),
		zap.String("booking_id", msg.BookingID.String()),
		zap.String("channel", string(msg.Channel)),
		zap.String("recipient", msg.Recipient),
		zap.String("kind", string(msg.Payload.Kind)),
	)
	return nil
}
