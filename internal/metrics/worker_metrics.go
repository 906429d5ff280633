package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты попытки публикации outbox (значения label result).
const (
	OutboxResultSent       = "sent"
	OutboxResultRetryError = "retry_error"
	OutboxResultFailed     = "failed"
	OutboxResultDLQFailed  = "dlq_failed"
)

// OutboxMetrics описывает backlog и публикации transactional outbox.
type OutboxMetrics struct {
	publishAttempts  *prometheus.CounterVec
	pendingRecords   prometheus.Gauge
	oldestPendingAge prometheus.Gauge
}

// NewOutboxMetrics создаёт метрики outbox в указанном registerer.
func NewOutboxMetrics(registerer prometheus.Registerer) *OutboxMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &OutboxMetrics{
		publishAttempts: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result.",
		}, []string{"result"})),
		pendingRecords: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storefront_outbox_pending_records",
			Help: "Current number of pending records in transactional outbox.",
		})),
		oldestPendingAge: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storefront_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record.",
		})),
	}
}

// RecordAttempt учитывает попытку публикации с результатом result.
func (m *OutboxMetrics) RecordAttempt(result string) {
	m.publishAttempts.WithLabelValues(result).Inc()
}

// SetBacklog обновляет размер backlog и возраст самой старой записи.
func (m *OutboxMetrics) SetBacklog(pending int, oldest time.Time, now time.Time) {
	m.pendingRecords.Set(float64(pending))
	if pending == 0 || oldest.IsZero() {
		m.oldestPendingAge.Set(0)
		return
	}
	age := now.Sub(oldest).Seconds()
	if age < 0 {
		age = 0
	}
	m.oldestPendingAge.Set(age)
}

// CleanupMetrics описывает работу очистки просроченных idempotency-ключей.
type CleanupMetrics struct {
	runs        *prometheus.CounterVec
	deleted     prometheus.Counter
	lastDeleted prometheus.Gauge
}

// NewCleanupMetrics создаёт метрики очистки в указанном registerer.
func NewCleanupMetrics(registerer prometheus.Registerer) *CleanupMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &CleanupMetrics{
		runs: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_idempotency_cleanup_runs_total",
			Help: "Total number of idempotency cleanup runs grouped by result.",
		}, []string{"result"})),
		deleted: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_idempotency_cleanup_deleted_total",
			Help: "Total number of deleted expired idempotency records.",
		})),
		lastDeleted: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storefront_idempotency_cleanup_last_deleted",
			Help: "Number of deleted records during the last cleanup run.",
		})),
	}
}

// RecordRun учитывает завершённый цикл очистки.
func (m *CleanupMetrics) RecordRun(err error, deleted int) {
	if err != nil {
		m.runs.WithLabelValues("error").Inc()
		return
	}
	m.runs.WithLabelValues("ok").Inc()
	m.lastDeleted.Set(float64(deleted))
}

// AddDeleted увеличивает счётчик удалённых записей.
func (m *CleanupMetrics) AddDeleted(n int) {
	if n > 0 {
		m.deleted.Add(float64(n))
	}
}

// OrderEventMetrics описывает события order.created, прочитанные из Kafka.
type OrderEventMetrics struct {
	consumed    prometheus.Counter
	amountMinor prometheus.Counter
	lineItems   prometheus.Counter
	lag         prometheus.Histogram
}

// NewOrderEventMetrics создаёт метрики consumer событий заказов в указанном registerer.
func NewOrderEventMetrics(registerer prometheus.Registerer) *OrderEventMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &OrderEventMetrics{
		consumed: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_order_events_consumed_total",
			Help: "Total number of order.created events consumed from Kafka.",
		})),
		amountMinor: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_order_events_amount_minor_total",
			Help: "Sum of order amounts in minor units across consumed order.created events.",
		})),
		lineItems: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_order_events_line_items_total",
			Help: "Total number of line items across consumed order.created events.",
		})),
		lag: register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "storefront_order_events_lag_seconds",
			Help:    "Delay between order event creation and its consumption in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		})),
	}
}

// RecordConsumed учитывает прочитанное событие; lag считается от occurredAt до now.
func (m *OrderEventMetrics) RecordConsumed(amountMinor int64, lineItems int, occurredAt, now time.Time) {
	m.consumed.Inc()
	if amountMinor > 0 {
		m.amountMinor.Add(float64(amountMinor))
	}
	m.lineItems.Add(float64(lineItems))
	if occurredAt.IsZero() {
		return
	}
	lag := now.Sub(occurredAt).Seconds()
	if lag < 0 {
		lag = 0
	}
	m.lag.Observe(lag)
}
