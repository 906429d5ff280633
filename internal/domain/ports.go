package domain

import (
	"context"
	"time"
)

// CustomerRepository: хранилище клиентов.
type CustomerRepository interface {
	// FindByID возвращает клиента или ErrCustomerNotFound.
	FindByID(ctx context.Context, id string) (Customer, error)
	// Create заводит клиента (используется для сидирования и админки).
	Create(ctx context.Context, customer Customer) error
}

// ProductRepository: каталог товаров с остатками.
type ProductRepository interface {
	// FindAllByID возвращает только существующие товары в порядке запроса.
	FindAllByID(ctx context.Context, items []ProductQuantity) ([]Product, error)
	// UpdateQuantity уменьшает остаток каждого товара на указанное количество.
	// Списание условное: если остатка не хватает, возвращается *InsufficientStockError,
	// для неизвестного товара — ErrProductNotFound.
	UpdateQuantity(ctx context.Context, items []ProductQuantity) error
	// Get возвращает товар по идентификатору или ErrProductNotFound.
	Get(ctx context.Context, id string) (Product, error)
	// Create заводит товар в каталоге.
	Create(ctx context.Context, product Product) error
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет заказ с позициями и возвращает его с присвоенным идентификатором.
	Create(ctx context.Context, customer Customer, items []OrderItem) (Order, error)
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// ListByCustomer возвращает заказы клиента (новые первыми) с опциональным limit.
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]Order, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, statusCode int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, statusCode int) error
	// Release удаляет ключ в статусе processing, чтобы повтор запроса выполнился заново.
	Release(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// Repositories: набор репозиториев, привязанных к одной транзакции.
type Repositories struct {
	Customers CustomerRepository
	Products  ProductRepository
	Orders    OrderRepository
	Outbox    OutboxRepository
}

// UnitOfWork выполняет fn атомарно: либо применяются все изменения, либо ни одного.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

const (
	// AggregateTypeOrder: тип агрегата для событий заказа в outbox.
	AggregateTypeOrder = "order"
	// EventTypeOrderCreated: событие оформления заказа.
	EventTypeOrderCreated = "order.created"
)
