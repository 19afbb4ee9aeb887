package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"messenger/internal/config"
	"messenger/internal/domain"
	"messenger/pkg/logger"
)

type recordingWriter struct {
	messages []kafka.Message
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestNewPublisher_DisabledWithoutBrokers(t *testing.T) {
	p := NewPublisher(config.KafkaConfig{Topic: "messages.created"}, logger.Nop())
	require.IsType(t, nopPublisher{}, p)
	require.NoError(t, p.PublishMessageCreated(context.Background(), &domain.Message{ID: 1}))
	require.NoError(t, p.Close())
}

func TestKafkaPublisher_KeysByRoom(t *testing.T) {
	w := &recordingWriter{}
	p := &kafkaPublisher{w: w, log: logger.Nop()}
	createdAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	err := p.PublishMessageCreated(context.Background(), &domain.Message{
		ID: 7, RoomID: 3, SenderID: 10, MessageType: domain.MessageTypeText, Content: "hi", CreatedAt: createdAt,
	})
	require.NoError(t, err)
	require.Len(t, w.messages, 1)
	require.Equal(t, "3", string(w.messages[0].Key))

	var event MessageCreatedEvent
	require.NoError(t, json.Unmarshal(w.messages[0].Value, &event))
	require.Equal(t, int64(7), event.MessageID)
	require.Equal(t, "text", event.MessageType)
	require.True(t, createdAt.Equal(event.CreatedAt))

	require.NoError(t, p.Close())
	require.True(t, w.closed)
}
