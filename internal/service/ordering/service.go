package ordering

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// CreateOrderRequest: запрос на оформление заказа.
type CreateOrderRequest struct {
	CustomerID string
	Products   []domain.ProductQuantity
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics задаёт метрики сервиса.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithPartialOrders разрешает оформлять заказ, если часть товаров не найдена:
// неизвестные позиции молча отбрасываются и не участвуют в списании остатков.
func WithPartialOrders() Option {
	return func(s *Service) {
		s.allowPartial = true
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service оформляет заказы: проверяет клиента, наличие товаров и остатки,
// затем в одной транзакции создаёт заказ, списывает остатки и пишет событие в outbox.
type Service struct {
	customers domain.CustomerRepository
	products  domain.ProductRepository
	uow       domain.UnitOfWork

	logger       *log.Entry
	metrics      *metrics.OrderMetrics
	allowPartial bool
	now          func() time.Time
}

// NewService конструирует сервис оформления заказов.
func NewService(
	customers domain.CustomerRepository,
	products domain.ProductRepository,
	uow domain.UnitOfWork,
	options ...Option,
) *Service {
	s := &Service{
		customers: customers,
		products:  products,
		uow:       uow,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "ordering")
	}
	return s
}

// CreateOrder выполняет сценарий оформления заказа целиком.
// Любая ошибка валидации возвращается до каких-либо изменений в хранилище.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (domain.Order, error) {
	started := s.now()
	if s.metrics != nil {
		s.metrics.RecordStarted()
		defer func() { s.metrics.RecordFinished(s.now().Sub(started)) }()
	}

	order, err := s.createOrder(ctx, req)
	if err != nil {
		s.reject(req, err)
		return domain.Order{}, err
	}

	if s.metrics != nil {
		var units int64
		for _, item := range order.Items {
			units += item.Qty
		}
		s.metrics.RecordCreated(len(order.Items), units)
	}
	s.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"customer_id":  order.CustomerID,
		"items":        len(order.Items),
		"amount_minor": order.AmountMinor,
	}).Info("order created")

	return order, nil
}

func (s *Service) createOrder(ctx context.Context, req CreateOrderRequest) (domain.Order, error) {
	if req.CustomerID == "" {
		return domain.Order{}, domain.ErrCustomerRequired
	}

	// Несуществующий клиент отклоняется раньше ошибок состава заказа.
	requested, err := normalize(req.Products)
	if err != nil {
		if _, customerErr := s.findCustomer(ctx, req.CustomerID); customerErr != nil {
			return domain.Order{}, customerErr
		}
		return domain.Order{}, err
	}

	customer, products, err := s.resolve(ctx, req.CustomerID, requested)
	if err != nil {
		return domain.Order{}, err
	}
	if len(products) == 0 {
		return domain.Order{}, domain.ErrEmptyProductSet
	}

	quantities := make(map[string]int64, len(requested))
	for _, item := range requested {
		quantities[item.ID] = item.Quantity
	}

	if !s.allowPartial {
		if unknown := unresolvedIDs(requested, products); len(unknown) > 0 {
			return domain.Order{}, &domain.UnknownProductsError{IDs: unknown}
		}
	}

	// Проверяем остатки всех найденных товаров до любых изменений.
	for _, product := range products {
		qty := quantities[product.ID]
		if !product.HasStock(qty) {
			return domain.Order{}, &domain.InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Available:   product.Quantity,
				Requested:   qty,
			}
		}
	}

	items := make([]domain.OrderItem, 0, len(products))
	decrements := make([]domain.ProductQuantity, 0, len(products))
	for _, product := range products {
		qty := quantities[product.ID]
		items = append(items, domain.OrderItem{
			ProductID:  product.ID,
			PriceMinor: product.PriceMinor,
			Qty:        qty,
		})
		decrements = append(decrements, domain.ProductQuantity{ID: product.ID, Quantity: qty})
	}

	var created domain.Order
	err = s.uow.Do(ctx, func(ctx context.Context, repos domain.Repositories) error {
		order, err := repos.Orders.Create(ctx, customer, items)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		if err := repos.Products.UpdateQuantity(ctx, decrements); err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}

		msg, err := newOrderCreatedMessage(order, s.now())
		if err != nil {
			return err
		}
		if _, err := repos.Outbox.Enqueue(ctx, msg); err != nil {
			return fmt.Errorf("enqueue order event: %w", err)
		}

		created = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	return created, nil
}

// resolve параллельно загружает клиента и товары. Ошибка клиента имеет приоритет,
// чтобы результат не зависел от того, какой запрос завершился первым.
func (s *Service) resolve(ctx context.Context, customerID string, requested []domain.ProductQuantity) (domain.Customer, []domain.Product, error) {
	var (
		g           errgroup.Group
		customer    domain.Customer
		products    []domain.Product
		customerErr error
		productsErr error
	)

	g.Go(func() error {
		customer, customerErr = s.findCustomer(ctx, customerID)
		return nil
	})
	g.Go(func() error {
		products, productsErr = s.products.FindAllByID(ctx, requested)
		return nil
	})
	_ = g.Wait()

	if customerErr != nil {
		return domain.Customer{}, nil, customerErr
	}
	if productsErr != nil {
		return domain.Customer{}, nil, fmt.Errorf("find products: %w", productsErr)
	}

	return customer, products, nil
}

func (s *Service) findCustomer(ctx context.Context, id string) (domain.Customer, error) {
	customer, err := s.customers.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrCustomerNotFound) {
			return domain.Customer{}, domain.ErrCustomerNotFound
		}
		return domain.Customer{}, fmt.Errorf("find customer: %w", err)
	}
	return customer, nil
}

func (s *Service) reject(req CreateOrderRequest, err error) {
	reason := rejectReason(err)
	if s.metrics != nil {
		s.metrics.RecordRejected(reason)
	}

	entry := s.logger.WithError(err).WithFields(log.Fields{
		"customer_id": req.CustomerID,
		"reason":      reason,
	})
	if domain.IsValidationError(err) {
		entry.Info("order rejected")
		return
	}
	entry.Error("order creation failed")
}

// normalize проверяет позиции и схлопывает повторяющиеся товары, суммируя количество.
// Порядок первого вхождения сохраняется.
func normalize(products []domain.ProductQuantity) ([]domain.ProductQuantity, error) {
	if len(products) == 0 {
		return nil, domain.ErrEmptyProductSet
	}

	index := make(map[string]int, len(products))
	result := make([]domain.ProductQuantity, 0, len(products))
	for _, item := range products {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("product %q: %w", item.ID, domain.ErrInvalidQuantity)
		}
		if pos, ok := index[item.ID]; ok {
			result[pos].Quantity += item.Quantity
			continue
		}
		index[item.ID] = len(result)
		result = append(result, item)
	}

	return result, nil
}

func unresolvedIDs(requested []domain.ProductQuantity, products []domain.Product) []string {
	found := make(map[string]struct{}, len(products))
	for _, product := range products {
		found[product.ID] = struct{}{}
	}

	var unknown []string
	for _, item := range requested {
		if _, ok := found[item.ID]; !ok {
			unknown = append(unknown, item.ID)
		}
	}
	return unknown
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrCustomerNotFound):
		return metrics.RejectReasonCustomerNotFound
	case errors.Is(err, domain.ErrEmptyProductSet):
		return metrics.RejectReasonEmptyProductSet
	case errors.Is(err, domain.ErrProductNotFound):
		return metrics.RejectReasonUnknownProducts
	case errors.Is(err, domain.ErrInsufficientStock):
		return metrics.RejectReasonInsufficientStock
	case errors.Is(err, domain.ErrCustomerRequired), errors.Is(err, domain.ErrInvalidQuantity):
		return metrics.RejectReasonInvalidRequest
	default:
		return metrics.RejectReasonInternal
	}
}

// OrderCreatedPayload: тело события order.created.
type OrderCreatedPayload struct {
	OrderID     string             `json:"order_id"`
	CustomerID  string             `json:"customer_id"`
	AmountMinor int64              `json:"amount_minor"`
	Items       []OrderItemPayload `json:"items"`
	CreatedAt   time.Time          `json:"created_at"`
	OccurredAt  time.Time          `json:"occurred_at"`
}

// OrderItemPayload: позиция заказа в событии.
type OrderItemPayload struct {
	ProductID  string `json:"product_id"`
	PriceMinor int64  `json:"price_minor"`
	Qty        int64  `json:"qty"`
}

func newOrderCreatedMessage(order domain.Order, occurred time.Time) (domain.OutboxMessage, error) {
	payload := OrderCreatedPayload{
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		AmountMinor: order.AmountMinor,
		Items:       make([]OrderItemPayload, 0, len(order.Items)),
		CreatedAt:   order.CreatedAt,
		OccurredAt:  occurred,
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, OrderItemPayload{
			ProductID:  item.ProductID,
			PriceMinor: item.PriceMinor,
			Qty:        item.Qty,
		})
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal order event: %w", err)
	}

	return domain.OutboxMessage{
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   order.ID,
		EventType:     domain.EventTypeOrderCreated,
		Payload:       data,
	}, nil
}
