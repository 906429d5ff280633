package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
)

func TestProducer_PublishEvent(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicOrderEvents {
			return errors.New("unexpected topic")
		}
		key, _ := msg.Key.Encode()
		if string(key) != "order-123" {
			return errors.New("unexpected key")
		}
		if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != HeaderEventType {
			return errors.New("event type header is missing")
		}
		return nil
	})

	err := producer.PublishEvent(context.Background(), TopicOrderEvents, "order-123", map[string]any{"order_id": "order-123"}, map[string]string{
		HeaderEventType: "order.created",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := producer.PublishEvent(context.Background(), TopicOrderEvents, "order-123", map[string]any{}, nil)
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("expected ErrOutOfBrokers, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_SendCanceledContext(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := &Producer{producer: mockProducer, logger: log.WithField("component", "kafka-producer-test")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := producer.Send(ctx, TopicOrderEvents, "k", []byte("v"), nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_MarshalError(t *testing.T) {
	producer := &Producer{producer: mocks.NewSyncProducer(t, nil), logger: log.WithField("component", "kafka-producer-test")}
	if err := producer.PublishEvent(context.Background(), TopicOrderEvents, "k", make(chan int), nil); err == nil {
		t.Fatal("expected marshal error")
	}
}

func TestProducer_NilSafety(t *testing.T) {
	var producer *Producer
	if err := producer.Send(context.Background(), "t", "k", nil, nil); !errors.Is(err, errProducerClosed) {
		t.Fatalf("expected errProducerClosed, got %v", err)
	}
	if err := producer.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error for nil producer")
	}
	if err := producer.Close(); err != nil {
		t.Fatalf("closing nil producer must be a no-op: %v", err)
	}
}

func TestNewProducer_InvalidBroker(t *testing.T) {
	if _, err := NewProducer([]string{"invalid-broker:9092"}); err == nil {
		t.Fatal("expected error for unreachable broker")
	}
}

func TestNewProducerConfig(t *testing.T) {
	cfg := NewProducerConfig()
	if !cfg.Producer.Idempotent || cfg.Net.MaxOpenRequests != 1 {
		t.Fatal("producer must be idempotent with a single in-flight request")
	}
	if cfg.Producer.Compression != sarama.CompressionSnappy {
		t.Fatalf("unexpected compression %v", cfg.Producer.Compression)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config must be valid: %v", err)
	}
}
