package kafka

import (
	"context"
	"encoding/json"
	"time"

	"match-service/internal/domain"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const TopicMatchEvents = "match.events.lifecycle"

// MatchEventMessage is the analytics feed record for one lifecycle step.
type MatchEventMessage struct {
	EventType string             `json:"event_type"` // created|accepted|completed|rejected|expired
	MatchID   string             `json:"match_id"`
	User1ID   string             `json:"user1_id"`
	User2ID   string             `json:"user2_id"`
	Status    domain.MatchStatus `json:"status"`
	ActorID   *string            `json:"actor_id,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// Producer publishes match lifecycle events. Fire and forget: a broker
// outage is logged and counted, never surfaced to the request.
type Producer struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewProducer(brokers []string, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        TopicMatchEvents,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
			// Async writes report delivery outcomes here, not through
			// the WriteMessages return value.
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					logger.Warn("match event publish failed",
						zap.Int("messages", len(messages)),
						zap.Error(err))
				}
			},
		},
		logger: logger,
	}
}

func (p *Producer) Publish(ctx context.Context, msg MatchEventMessage) {
	if p == nil || p.writer == nil {
		return
	}
	msg.Timestamp = time.Now().UTC()

	value, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("match event marshal failed", zap.Error(err))
		return
	}

	// With Async set this only fails on enqueue problems (closed writer,
	// oversized message); broker errors arrive via Completion.
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.MatchID),
		Value: value,
	})
	if err != nil {
		p.logger.Warn("match event enqueue failed",
			zap.String("match_id", msg.MatchID),
			zap.String("event_type", msg.EventType),
			zap.Error(err))
	}
}

func (p *Producer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
