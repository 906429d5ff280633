package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// logPublisher разбирает outbox в лог, когда Kafka не настроена.
type logPublisher struct {
	logger *log.Entry
}

func newLogPublisher(logger *log.Entry) *logPublisher {
	return &logPublisher{logger: logger}
}

func (p *logPublisher) Publish(_ context.Context, event domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"outbox_id":    event.ID,
		"aggregate_id": event.AggregateID,
		"event_type":   event.EventType,
	}).Info("outbox event published to log")
	return nil
}

var _ domain.OutboxPublisher = (*logPublisher)(nil)
