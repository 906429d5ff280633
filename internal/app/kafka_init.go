package app

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/ordering"
)

// initKafkaProducer инициализирует Kafka producer, если brokers не пустой.
// Возвращает nil, nil для пустого списка брокеров.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	brokerList := splitList(brokers)
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokerList)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

// closeKafkaProducer закрывает Kafka producer, если он не nil.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// startOrderEventsConsumer подписывается на события заказов, если задана consumer group.
// Обработчик ведёт метрики оформленных заказов; сбойные сообщения уходят в DLQ через dlq.
func startOrderEventsConsumer(ctx context.Context, cfg Config, dlq *kafka.Producer, eventMetrics *metrics.OrderEventMetrics, logger *log.Entry) (*kafka.Consumer, error) {
	group := strings.TrimSpace(cfg.KafkaConsumerGroup)
	brokers := cfg.KafkaBrokerList()
	if group == "" || len(brokers) == 0 {
		return nil, nil
	}

	consumerLogger := logger.WithField("layer", "order-events")
	handler := kafka.NewOrderCreatedHandler(consumerLogger, recordOrderEvent(eventMetrics, consumerLogger, time.Now))

	consumer, err := kafka.NewConsumer(brokers, group, []string{cfg.KafkaTopic}, handler, kafka.ConsumerOptions{
		DLQ:      dlq,
		DLQTopic: cfg.KafkaDLQTopic,
		Logger:   consumerLogger,
	})
	if err != nil {
		return nil, err
	}
	if err := consumer.Start(ctx); err != nil {
		_ = consumer.Stop()
		return nil, err
	}
	return consumer, nil
}

// stopConsumer останавливает consumer, если он запущен.
func stopConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop kafka consumer")
	}
}

// recordOrderEvent учитывает событие order.created в метриках consumer.
func recordOrderEvent(eventMetrics *metrics.OrderEventMetrics, logger *log.Entry, now func() time.Time) func(context.Context, ordering.OrderCreatedPayload) error {
	return func(_ context.Context, event ordering.OrderCreatedPayload) error {
		eventMetrics.RecordConsumed(event.AmountMinor, len(event.Items), event.OccurredAt, now())
		logger.WithFields(log.Fields{
			"order_id":     event.OrderID,
			"amount_minor": event.AmountMinor,
			"items":        len(event.Items),
		}).Debug("order event consumed")
		return nil
	}
}
