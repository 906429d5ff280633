package kafka

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/ordering"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "storefront.order.events"
	TopicDeadLetterQueue = "storefront.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers
const (
	HeaderEventType     = "x-event-type"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// Envelope: формат сообщения, которое outbox публикует в Kafka.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope упаковывает outbox-сообщение.
func NewEnvelope(msg domain.OutboxMessage, publishedAt time.Time) Envelope {
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishedAt:   publishedAt,
	}
}

// Key: ключ партиционирования: все события одного заказа попадают в одну партицию.
func (e Envelope) Key() string {
	if e.AggregateID != "" {
		return e.AggregateID
	}
	return e.ID
}

// ParseEnvelope разбирает сообщение из topic событий заказов.
func ParseEnvelope(message *sarama.ConsumerMessage) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(message.Value, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if env.EventType == "" {
		return Envelope{}, fmt.Errorf("envelope has no event_type")
	}
	return env, nil
}

// DecodeOrderCreated извлекает payload события order.created.
func DecodeOrderCreated(env Envelope) (ordering.OrderCreatedPayload, error) {
	if env.EventType != domain.EventTypeOrderCreated {
		return ordering.OrderCreatedPayload{}, fmt.Errorf("unexpected event type %q", env.EventType)
	}
	var payload ordering.OrderCreatedPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return ordering.OrderCreatedPayload{}, fmt.Errorf("failed to unmarshal order.created payload: %w", err)
	}
	return payload, nil
}

// ConsumerDLQMessage пишет consumer, исчерпавший попытки обработки.
type ConsumerDLQMessage struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	ErrorMessage      string `json:"error_message"`
	FailedAt          string `json:"failed_at"`
	RetryCount        int    `json:"retry_count"`
}

// OutboxDLQPayload кладёт outbox worker в payload конверта, если публикация не удалась.
type OutboxDLQPayload struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error,omitempty"`
	DLQPublishedAt string          `json:"dlq_published_at,omitempty"`
}

// ReplayMessage: сообщение, восстановленное из DLQ для повторной публикации.
type ReplayMessage struct {
	Topic string
	Key   string
	Value []byte
}

// ExtractReplay восстанавливает исходное сообщение из записи DLQ.
// ok=false означает, что запись не относится ни к одному из известных форматов.
func ExtractReplay(value []byte, defaultTopic string, now time.Time) (ReplayMessage, bool, error) {
	var consumerPayload ConsumerDLQMessage
	if err := json.Unmarshal(value, &consumerPayload); err == nil && consumerPayload.OriginalValue != "" {
		topic := strings.TrimSpace(consumerPayload.OriginalTopic)
		if topic == "" {
			topic = defaultTopic
		}
		return ReplayMessage{
			Topic: topic,
			Key:   consumerPayload.OriginalKey,
			Value: []byte(consumerPayload.OriginalValue),
		}, true, nil
	}

	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil || len(env.Payload) == 0 {
		return ReplayMessage{}, false, nil
	}

	var dlq OutboxDLQPayload
	if err := json.Unmarshal(env.Payload, &dlq); err != nil {
		return ReplayMessage{}, false, fmt.Errorf("decode outbox dlq payload: %w", err)
	}
	if len(dlq.Payload) == 0 {
		return ReplayMessage{}, false, fmt.Errorf("outbox dlq payload does not contain original event payload")
	}

	replay := Envelope{
		ID:            firstNonEmpty(dlq.OutboxID, env.ID),
		AggregateType: firstNonEmpty(dlq.AggregateType, env.AggregateType),
		AggregateID:   firstNonEmpty(dlq.AggregateID, env.AggregateID),
		EventType:     firstNonEmpty(dlq.EventType, env.EventType),
		Payload:       dlq.Payload,
		PublishedAt:   now,
	}
	encoded, err := json.Marshal(replay)
	if err != nil {
		return ReplayMessage{}, false, fmt.Errorf("encode replay envelope: %w", err)
	}

	return ReplayMessage{Topic: defaultTopic, Key: replay.Key(), Value: encoded}, true, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
