package kafka

import (
	"context"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/ordering"
)

// NewOrderCreatedHandler возвращает MessageHandler для topic событий заказов:
// order.created передаётся в fn, прочие типы событий пропускаются.
// Нечитаемое сообщение повторно обрабатывать бессмысленно, поэтому оно логируется и подтверждается.
func NewOrderCreatedHandler(logger *log.Entry, fn func(ctx context.Context, event ordering.OrderCreatedPayload) error) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "order-events")
	}
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		env, err := ParseEnvelope(message)
		if err != nil {
			logger.WithError(err).WithField("offset", message.Offset).Warn("skip malformed order event")
			return nil
		}
		if env.EventType != domain.EventTypeOrderCreated {
			return nil
		}

		event, err := DecodeOrderCreated(env)
		if err != nil {
			logger.WithError(err).WithField("outbox_id", env.ID).Warn("skip malformed order.created payload")
			return nil
		}
		return fn(ctx, event)
	}
}
