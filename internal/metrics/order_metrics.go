package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Причины отказа в оформлении заказа (значения label reason).
const (
	RejectReasonCustomerNotFound  = "customer_not_found"
	RejectReasonEmptyProductSet   = "empty_product_set"
	RejectReasonUnknownProducts   = "unknown_products"
	RejectReasonInsufficientStock = "insufficient_stock"
	RejectReasonInvalidRequest    = "invalid_request"
	RejectReasonInternal          = "internal"
)

// OrderMetrics содержит метрики сценария оформления заказа.
type OrderMetrics struct {
	ordersCreated    prometheus.Counter
	ordersRejected   *prometheus.CounterVec
	lineItems        prometheus.Counter
	unitsDecremented prometheus.Counter
	createDuration   prometheus.Histogram
	inFlight         prometheus.Gauge
}

// NewOrderMetrics создаёт метрики в DefaultRegisterer.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer создаёт метрики в указанном registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		ordersCreated: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_orders_created_total",
			Help: "Total number of orders created",
		})),
		ordersRejected: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_orders_rejected_total",
			Help: "Total number of rejected order requests grouped by reason",
		}, []string{"reason"})),
		lineItems: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_order_line_items_total",
			Help: "Total number of line items in created orders",
		})),
		unitsDecremented: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_stock_units_decremented_total",
			Help: "Total number of stock units decremented by placed orders",
		})),
		createDuration: register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "storefront_order_create_duration_seconds",
			Help:    "Duration of the order creation workflow in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		})),
		inFlight: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storefront_orders_in_flight",
			Help: "Number of order creation requests currently being processed",
		})),
	}
}

// register регистрирует коллектор или возвращает ранее зарегистрированный того же типа.
func register[C prometheus.Collector](registerer prometheus.Registerer, collector C) C {
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(C)
			if !ok {
				panic(fmt.Sprintf("collector already registered with unexpected type %T", alreadyRegistered.ExistingCollector))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector: %v", err))
	}
	return collector
}

// RecordStarted отмечает начало обработки запроса.
func (m *OrderMetrics) RecordStarted() {
	m.inFlight.Inc()
}

// RecordFinished фиксирует длительность и уменьшает число запросов в работе.
func (m *OrderMetrics) RecordFinished(duration time.Duration) {
	m.inFlight.Dec()
	m.createDuration.Observe(duration.Seconds())
}

// RecordCreated учитывает оформленный заказ.
func (m *OrderMetrics) RecordCreated(lineItems int, units int64) {
	m.ordersCreated.Inc()
	m.lineItems.Add(float64(lineItems))
	m.unitsDecremented.Add(float64(units))
}

// RecordRejected учитывает отказ с указанной причиной.
func (m *OrderMetrics) RecordRejected(reason string) {
	m.ordersRejected.WithLabelValues(reason).Inc()
}
