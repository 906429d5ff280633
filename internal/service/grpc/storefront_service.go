package grpcsvc

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	storefrontv1 "github.com/vladislavdragonenkov/storefront/api/storefront/v1"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/ordering"
)

// OrderCreator оформляет заказ (реализуется ordering.Service).
type OrderCreator interface {
	CreateOrder(ctx context.Context, req ordering.CreateOrderRequest) (domain.Order, error)
}

// StorefrontService реализует gRPC API оформления и чтения заказов.
type StorefrontService struct {
	storefrontv1.UnimplementedStorefrontServiceServer

	creator  OrderCreator
	orders   domain.OrderRepository
	idemRepo domain.IdempotencyRepository
	logger   *log.Entry
}

const defaultListOrdersLimit = 100

// NewStorefrontService конструирует сервис с зависимостями.
// idemRepo может быть nil: тогда CreateOrder работает без idempotency-key.
func NewStorefrontService(
	creator OrderCreator,
	orders domain.OrderRepository,
	idemRepo domain.IdempotencyRepository,
	logger *log.Entry,
) *StorefrontService {
	if logger == nil {
		logger = log.New().WithField("component", "storefront-grpc")
	}
	return &StorefrontService{
		creator:  creator,
		orders:   orders,
		idemRepo: idemRepo,
		logger:   logger,
	}
}

// CreateOrder оформляет заказ. Повтор с тем же idempotency-key возвращает сохранённый результат.
func (s *StorefrontService) CreateOrder(ctx context.Context, req *storefrontv1.CreateOrderRequest) (*storefrontv1.CreateOrderResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	return withIdempotency(
		s,
		ctx,
		storefrontv1.StorefrontService_CreateOrder_FullMethodName,
		req,
		func() *storefrontv1.CreateOrderResponse { return &storefrontv1.CreateOrderResponse{} },
		func(ctx context.Context) (*storefrontv1.CreateOrderResponse, error) {
			return s.createOrderInternal(ctx, req)
		},
	)
}

func (s *StorefrontService) createOrderInternal(ctx context.Context, req *storefrontv1.CreateOrderRequest) (*storefrontv1.CreateOrderResponse, error) {
	products := make([]domain.ProductQuantity, 0, len(req.GetProducts()))
	for idx, p := range req.GetProducts() {
		if p == nil {
			return nil, status.Errorf(codes.InvalidArgument, "products[%d] is nil", idx)
		}
		products = append(products, domain.ProductQuantity{ID: p.ProductId, Quantity: p.Quantity})
	}

	order, err := s.creator.CreateOrder(ctx, ordering.CreateOrderRequest{
		CustomerID: req.GetCustomerId(),
		Products:   products,
	})
	if err != nil {
		return nil, s.toStatus(err, "CreateOrder", "failed to create order")
	}

	return &storefrontv1.CreateOrderResponse{Order: toAPIOrder(order)}, nil
}

// GetOrder возвращает заказ по идентификатору.
func (s *StorefrontService) GetOrder(ctx context.Context, req *storefrontv1.GetOrderRequest) (*storefrontv1.GetOrderResponse, error) {
	if req.GetOrderId() == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}

	order, err := s.orders.Get(ctx, req.GetOrderId())
	if err != nil {
		return nil, s.toStatus(err, "GetOrder", "failed to load order")
	}

	return &storefrontv1.GetOrderResponse{Order: toAPIOrder(order)}, nil
}

// ListOrders возвращает заказы клиента, новые первыми.
func (s *StorefrontService) ListOrders(ctx context.Context, req *storefrontv1.ListOrdersRequest) (*storefrontv1.ListOrdersResponse, error) {
	if req.GetCustomerId() == "" {
		return nil, status.Error(codes.InvalidArgument, "customer_id is required")
	}

	limit := int(req.GetPageSize())
	if limit <= 0 {
		limit = defaultListOrdersLimit
	}

	orders, err := s.orders.ListByCustomer(ctx, req.GetCustomerId(), limit)
	if err != nil {
		return nil, s.toStatus(err, "ListOrders", "failed to list orders")
	}

	result := make([]*storefrontv1.Order, 0, len(orders))
	for _, order := range orders {
		result = append(result, toAPIOrder(order))
	}
	return &storefrontv1.ListOrdersResponse{Orders: result}, nil
}

// toStatus переводит доменную ошибку в gRPC-статус.
// Инфраструктурные ошибки наружу не раскрываются.
func (s *StorefrontService) toStatus(err error, operation, internalMsg string) error {
	code := StatusCode(err)
	entry := s.logger.WithError(err).WithField("operation", operation)
	if code == codes.Internal {
		entry.Error(internalMsg)
		return status.Error(codes.Internal, internalMsg)
	}
	entry.WithField("code", code.String()).Info("request rejected")
	return status.Error(code, err.Error())
}

// StatusCode возвращает код gRPC для доменной ошибки.
func StatusCode(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, domain.ErrCustomerNotFound),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrOrderNotFound):
		return codes.NotFound
	case errors.Is(err, domain.ErrInsufficientStock):
		return codes.FailedPrecondition
	case errors.Is(err, domain.ErrEmptyProductSet),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrCustomerRequired):
		return codes.InvalidArgument
	default:
		return codes.Internal
	}
}

func toAPIOrder(order domain.Order) *storefrontv1.Order {
	items := make([]*storefrontv1.OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, &storefrontv1.OrderItem{
			Id:         item.ID,
			ProductId:  item.ProductID,
			PriceMinor: item.PriceMinor,
			Qty:        item.Qty,
		})
	}

	return &storefrontv1.Order{
		Id:          order.ID,
		CustomerId:  order.CustomerID,
		AmountMinor: order.AmountMinor,
		Items:       items,
		CreatedAt:   order.CreatedAt,
	}
}

var _ storefrontv1.StorefrontServiceServer = (*StorefrontService)(nil)
