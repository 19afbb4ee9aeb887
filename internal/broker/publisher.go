// Package broker publishes committed chat events to Kafka for downstream
// consumers such as push notification workers.
package broker

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"messenger/internal/config"
	"messenger/internal/domain"
	"messenger/pkg/logger"
)

// Publisher announces messages after they are durably stored. Delivery is
// best effort; the store stays the source of truth.
type Publisher interface {
	PublishMessageCreated(ctx context.Context, message *domain.Message) error
	Close() error
}

// MessageCreatedEvent is the value written to the messages topic.
type MessageCreatedEvent struct {
	MessageID   int64     `json:"message_id"`
	RoomID      int64     `json:"room_id"`
	SenderID    int64     `json:"sender_id"`
	MessageType string    `json:"message_type"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaPublisher struct {
	w   messageWriter
	log logger.Logger
}

// NewPublisher returns a Kafka publisher, or a no-op one when no brokers are
// configured.
func NewPublisher(cfg config.KafkaConfig, log logger.Logger) Publisher {
	if !cfg.Enabled() {
		log.Info("Kafka brokers not configured, message events disabled")
		return nopPublisher{}
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Error("Failed to deliver message events", "count", len(messages), "error", err)
			}
		},
	}
	log.Info("Kafka publisher initialized", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return &kafkaPublisher{w: w, log: log}
}

func (p *kafkaPublisher) PublishMessageCreated(ctx context.Context, message *domain.Message) error {
	value, err := json.Marshal(MessageCreatedEvent{
		MessageID:   message.ID,
		RoomID:      message.RoomID,
		SenderID:    message.SenderID,
		MessageType: string(message.MessageType),
		Content:     message.Content,
		CreatedAt:   message.CreatedAt,
	})
	if err != nil {
		return err
	}

	// keyed by room so one partition keeps a room's order
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(message.RoomID, 10)),
		Value: value,
		Time:  message.CreatedAt,
	})
}

func (p *kafkaPublisher) Close() error {
	return p.w.Close()
}

type nopPublisher struct{}

func (nopPublisher) PublishMessageCreated(context.Context, *domain.Message) error { return nil }
func (nopPublisher) Close() error                                               { return nil }
