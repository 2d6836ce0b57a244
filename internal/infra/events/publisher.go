// Package events publishes attempt lifecycle events through watermill.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"assessment-attempt-service/internal/domain"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"
)

// DefaultTopic carries every attempt event; the event name is in metadata.
const DefaultTopic = "assessment.attempts"

// Publisher implements app.EventPublisher on a watermill publisher.
type Publisher struct {
	pub   message.Publisher
	topic string
}

func NewPublisher(pub message.Publisher, topic string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{pub: pub, topic: topic}
}

// NewGoChannel returns an in-process pub/sub for single-instance setups.
func NewGoChannel(logger *zap.Logger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, NewLogger(logger))
}

// NewKafkaPublisher publishes to the given brokers.
func NewKafkaPublisher(brokers []string, logger *zap.Logger) (message.Publisher, error) {
	pub, err := kafka.NewPublisher(kafka.PublisherConfig{
		Brokers:   brokers,
		Marshaler: kafka.DefaultMarshaler{},
	}, NewLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("kafka publisher: %w", err)
	}
	return pub, nil
}

func (p *Publisher) Publish(ctx context.Context, event domain.AttemptEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("event", event.Name)
	msg.Metadata.Set("attempt_id", event.AttemptID)
	msg.SetContext(ctx)
	return p.pub.Publish(p.topic, msg)
}

func (p *Publisher) Close() error {
	return p.pub.Close()
}

// Decode reads an AttemptEvent back from a message.
func Decode(msg *message.Message) (domain.AttemptEvent, error) {
	var event domain.AttemptEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return domain.AttemptEvent{}, fmt.Errorf("decode event: %w", err)
	}
	return event, nil
}

// SubscribeAuditLog subscribes to topic right away and returns a loop that
// logs every event until ctx is done. Events published after this returns
// are never missed by the loop.
func SubscribeAuditLog(ctx context.Context, sub message.Subscriber, topic string, logger *zap.Logger) (func() error, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	messages, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	return func() error {
		auditLog(messages, logger)
		return nil
	}, nil
}

func auditLog(messages <-chan *message.Message, logger *zap.Logger) {
	for msg := range messages {
		event, err := Decode(msg)
		if err != nil {
			logger.Warn("drop malformed attempt event", zap.String("message_id", msg.UUID), zap.Error(err))
			msg.Ack()
			continue
		}
		fields := []zap.Field{
			zap.String("event", event.Name),
			zap.String("attempt_id", event.AttemptID),
			zap.String("candidate_id", event.CandidateID),
			zap.String("status", string(event.Status)),
		}
		if event.Reason != "" {
			fields = append(fields, zap.String("reason", string(event.Reason)))
		}
		logger.Info("attempt event", fields...)
		msg.Ack()
	}
}
