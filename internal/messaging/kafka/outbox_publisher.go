package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в заданный Kafka topic.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Topic возвращает topic назначения.
func (p *OutboxTopicPublisher) Topic() string { return p.topic }

// Publish отправляет событие в конверте Envelope с ключом по агрегату.
func (p *OutboxTopicPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	env := NewEnvelope(event, p.now())
	return p.producer.PublishEvent(ctx, p.topic, env.Key(), env, map[string]string{
		HeaderEventType: event.EventType,
	})
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
