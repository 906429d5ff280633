package ordering_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/ordering"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

// spyUnitOfWork считает обращения к изменяющим методам хранилища.
type spyUnitOfWork struct {
	inner          domain.UnitOfWork
	orderCreates   atomic.Int32
	stockUpdates   atomic.Int32
	lastDecrements []domain.ProductQuantity
	mu             sync.Mutex
	failUpdate     error
}

func (s *spyUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, repos domain.Repositories) error) error {
	return s.inner.Do(ctx, func(ctx context.Context, repos domain.Repositories) error {
		repos.Orders = &spyOrders{OrderRepository: repos.Orders, spy: s}
		repos.Products = &spyProducts{ProductRepository: repos.Products, spy: s}
		return fn(ctx, repos)
	})
}

func (s *spyUnitOfWork) mutations() int32 {
	return s.orderCreates.Load() + s.stockUpdates.Load()
}

type spyOrders struct {
	domain.OrderRepository
	spy *spyUnitOfWork
}

func (r *spyOrders) Create(ctx context.Context, customer domain.Customer, items []domain.OrderItem) (domain.Order, error) {
	r.spy.orderCreates.Add(1)
	return r.OrderRepository.Create(ctx, customer, items)
}

type spyProducts struct {
	domain.ProductRepository
	spy *spyUnitOfWork
}

func (r *spyProducts) UpdateQuantity(ctx context.Context, items []domain.ProductQuantity) error {
	r.spy.stockUpdates.Add(1)
	r.spy.mu.Lock()
	r.spy.lastDecrements = append([]domain.ProductQuantity(nil), items...)
	r.spy.mu.Unlock()
	if r.spy.failUpdate != nil {
		return r.spy.failUpdate
	}
	return r.ProductRepository.UpdateQuantity(ctx, items)
}

type fixture struct {
	store    *memory.Store
	spy      *spyUnitOfWork
	registry *prometheus.Registry
	svc      *ordering.Service
}

func newFixture(t *testing.T, opts ...ordering.Option) *fixture {
	t.Helper()
	ctx := context.Background()

	store := memory.NewStore()
	require.NoError(t, store.Customers().Create(ctx, domain.Customer{ID: "C1", Name: "Ada"}))
	require.NoError(t, store.Products().Create(ctx, domain.Product{ID: "P1", Name: "Notebook", PriceMinor: 1000, Quantity: 5}))
	require.NoError(t, store.Products().Create(ctx, domain.Product{ID: "P2", Name: "Pencil", PriceMinor: 150, Quantity: 10}))
	require.NoError(t, store.Products().Create(ctx, domain.Product{ID: "P3", Name: "Eraser", PriceMinor: 75, Quantity: 1}))

	logger := log.New()
	logger.SetLevel(log.PanicLevel)

	registry := prometheus.NewRegistry()
	spy := &spyUnitOfWork{inner: store}
	options := append([]ordering.Option{
		ordering.WithLogger(log.NewEntry(logger)),
		ordering.WithMetrics(metrics.NewOrderMetricsWithRegisterer(registry)),
	}, opts...)

	return &fixture{
		store:    store,
		spy:      spy,
		registry: registry,
		svc:      ordering.NewService(store.Customers(), store.Products(), spy, options...),
	}
}

func (f *fixture) stock(t *testing.T, id string) int64 {
	t.Helper()
	product, err := f.store.Products().Get(context.Background(), id)
	require.NoError(t, err)
	return product.Quantity
}

func (f *fixture) metricValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := f.registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metricLoop:
		for _, m := range family.GetMetric() {
			for _, pair := range m.GetLabel() {
				if labels[pair.GetName()] != pair.GetValue() {
					continue metricLoop
				}
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	return 0
}

func request(customerID string, items ...domain.ProductQuantity) ordering.CreateOrderRequest {
	return ordering.CreateOrderRequest{CustomerID: customerID, Products: items}
}

func TestCreateOrder_Success(t *testing.T) {
	f := newFixture(t)

	order, err := f.svc.CreateOrder(context.Background(), request("C1", domain.ProductQuantity{ID: "P1", Quantity: 2}))
	require.NoError(t, err)

	require.NotEmpty(t, order.ID)
	assert.Equal(t, "C1", order.CustomerID)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "P1", order.Items[0].ProductID)
	assert.Equal(t, int64(1000), order.Items[0].PriceMinor)
	assert.Equal(t, int64(2), order.Items[0].Qty)
	assert.Equal(t, int64(2000), order.AmountMinor)

	assert.Equal(t, []domain.ProductQuantity{{ID: "P1", Quantity: 2}}, f.spy.lastDecrements)
	assert.Equal(t, int64(3), f.stock(t, "P1"))

	stored, err := f.store.Orders().Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.Items, stored.Items)

	assert.Equal(t, float64(1), f.metricValue(t, "storefront_orders_created_total", nil))
	assert.Equal(t, float64(2), f.metricValue(t, "storefront_stock_units_decremented_total", nil))
}

func TestCreateOrder_CustomerNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateOrder(context.Background(), request("C404", domain.ProductQuantity{ID: "P1", Quantity: 1}))
	require.ErrorIs(t, err, domain.ErrCustomerNotFound)

	assert.Zero(t, f.spy.mutations())
	assert.Equal(t, int64(5), f.stock(t, "P1"))
	assert.Equal(t, float64(1), f.metricValue(t, "storefront_orders_rejected_total", map[string]string{"reason": metrics.RejectReasonCustomerNotFound}))
}

func TestCreateOrder_CustomerErrorTakesPrecedence(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateOrder(context.Background(), request("C404", domain.ProductQuantity{ID: "UNKNOWN", Quantity: 1}))
	require.ErrorIs(t, err, domain.ErrCustomerNotFound)
	assert.Zero(t, f.spy.mutations())
}

func TestCreateOrder_UnknownCustomerReportedBeforeRequestErrors(t *testing.T) {
	tests := []struct {
		name string
		req  ordering.CreateOrderRequest
	}{
		{name: "no products", req: request("C404")},
		{name: "zero quantity", req: request("C404", domain.ProductQuantity{ID: "P1", Quantity: 0})},
		{name: "negative quantity", req: request("C404", domain.ProductQuantity{ID: "P1", Quantity: -1})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.CreateOrder(context.Background(), tt.req)
			require.ErrorIs(t, err, domain.ErrCustomerNotFound)
			assert.Zero(t, f.spy.mutations())
		})
	}
}

func TestCreateOrder_FirstShortProductInRequestOrderIsReported(t *testing.T) {
	tests := []struct {
		name  string
		items []domain.ProductQuantity
		want  string
	}{
		{
			name:  "notebook first",
			items: []domain.ProductQuantity{{ID: "P1", Quantity: 6}, {ID: "P3", Quantity: 2}},
			want:  "P1",
		},
		{
			name:  "eraser first",
			items: []domain.ProductQuantity{{ID: "P3", Quantity: 2}, {ID: "P1", Quantity: 6}},
			want:  "P3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.CreateOrder(context.Background(), request("C1", tt.items...))

			var stockErr *domain.InsufficientStockError
			require.ErrorAs(t, err, &stockErr)
			assert.Equal(t, tt.want, stockErr.ProductID)
			assert.Zero(t, f.spy.mutations())
		})
	}
}

func TestCreateOrder_InsufficientStock(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateOrder(context.Background(), request("C1",
		domain.ProductQuantity{ID: "P2", Quantity: 1},
		domain.ProductQuantity{ID: "P3", Quantity: 3},
	))
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "P3", stockErr.ProductID)
	assert.Equal(t, int64(1), stockErr.Available)
	assert.Equal(t, int64(3), stockErr.Requested)
	assert.Contains(t, err.Error(), "Eraser")

	assert.Zero(t, f.spy.mutations())
	assert.Equal(t, int64(10), f.stock(t, "P2"))
	assert.Equal(t, int64(1), f.stock(t, "P3"))
}

func TestCreateOrder_OnlyUnknownProducts(t *testing.T) {
	for _, partial := range []bool{false, true} {
		var opts []ordering.Option
		if partial {
			opts = append(opts, ordering.WithPartialOrders())
		}
		f := newFixture(t, opts...)

		_, err := f.svc.CreateOrder(context.Background(), request("C1", domain.ProductQuantity{ID: "UNKNOWN", Quantity: 1}))
		require.ErrorIs(t, err, domain.ErrEmptyProductSet, "partial=%v", partial)
		assert.Zero(t, f.spy.mutations())
	}
}

func TestCreateOrder_SomeUnknownProductsRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateOrder(context.Background(), request("C1",
		domain.ProductQuantity{ID: "P1", Quantity: 1},
		domain.ProductQuantity{ID: "X1", Quantity: 1},
		domain.ProductQuantity{ID: "X2", Quantity: 1},
	))
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	var unknownErr *domain.UnknownProductsError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, []string{"X1", "X2"}, unknownErr.IDs)
	assert.Zero(t, f.spy.mutations())
	assert.Equal(t, int64(5), f.stock(t, "P1"))
}

func TestCreateOrder_PartialOrdersDropUnknown(t *testing.T) {
	f := newFixture(t, ordering.WithPartialOrders())

	order, err := f.svc.CreateOrder(context.Background(), request("C1",
		domain.ProductQuantity{ID: "X1", Quantity: 7},
		domain.ProductQuantity{ID: "P2", Quantity: 4},
		domain.ProductQuantity{ID: "P1", Quantity: 1},
	))
	require.NoError(t, err)

	require.Len(t, order.Items, 2)
	assert.Equal(t, "P2", order.Items[0].ProductID)
	assert.Equal(t, "P1", order.Items[1].ProductID)
	assert.Equal(t, []domain.ProductQuantity{{ID: "P2", Quantity: 4}, {ID: "P1", Quantity: 1}}, f.spy.lastDecrements)
	assert.Equal(t, int64(4*150+1000), order.AmountMinor)
}

func TestCreateOrder_DuplicateProductsAreMerged(t *testing.T) {
	f := newFixture(t)

	order, err := f.svc.CreateOrder(context.Background(), request("C1",
		domain.ProductQuantity{ID: "P2", Quantity: 3},
		domain.ProductQuantity{ID: "P1", Quantity: 1},
		domain.ProductQuantity{ID: "P2", Quantity: 2},
	))
	require.NoError(t, err)

	require.Len(t, order.Items, 2)
	assert.Equal(t, "P2", order.Items[0].ProductID)
	assert.Equal(t, int64(5), order.Items[0].Qty)
	assert.Equal(t, int64(5), f.stock(t, "P2"))
}

func TestCreateOrder_DuplicatesCountedAgainstStock(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateOrder(context.Background(), request("C1",
		domain.ProductQuantity{ID: "P3", Quantity: 1},
		domain.ProductQuantity{ID: "P3", Quantity: 1},
	))
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, int64(1), f.stock(t, "P3"))
}

func TestCreateOrder_InvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		req  ordering.CreateOrderRequest
		want error
	}{
		{name: "empty customer", req: request("", domain.ProductQuantity{ID: "P1", Quantity: 1}), want: domain.ErrCustomerRequired},
		{name: "no products", req: request("C1"), want: domain.ErrEmptyProductSet},
		{name: "zero quantity", req: request("C1", domain.ProductQuantity{ID: "P1", Quantity: 0}), want: domain.ErrInvalidQuantity},
		{name: "negative quantity", req: request("C1", domain.ProductQuantity{ID: "P1", Quantity: -2}), want: domain.ErrInvalidQuantity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.CreateOrder(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.want)
			assert.True(t, domain.IsValidationError(err))
			assert.Zero(t, f.spy.mutations())
		})
	}
}

func TestCreateOrder_ValidationIsRepeatable(t *testing.T) {
	f := newFixture(t)
	req := request("C1", domain.ProductQuantity{ID: "P3", Quantity: 2})

	for i := 0; i < 3; i++ {
		_, err := f.svc.CreateOrder(context.Background(), req)
		require.ErrorIs(t, err, domain.ErrInsufficientStock)
	}
	assert.Zero(t, f.spy.mutations())
}

func TestCreateOrder_StockUpdateFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.spy.failUpdate = errors.New("disk full")

	_, err := f.svc.CreateOrder(context.Background(), request("C1", domain.ProductQuantity{ID: "P1", Quantity: 1}))
	require.Error(t, err)
	assert.False(t, domain.IsValidationError(err))

	orders, listErr := f.store.Orders().ListByCustomer(context.Background(), "C1", 0)
	require.NoError(t, listErr)
	assert.Empty(t, orders)
	assert.Empty(t, f.store.Outbox().AllPending())
	assert.Equal(t, float64(1), f.metricValue(t, "storefront_orders_rejected_total", map[string]string{"reason": metrics.RejectReasonInternal}))
}

func TestCreateOrder_EnqueuesOrderCreatedEvent(t *testing.T) {
	f := newFixture(t)

	order, err := f.svc.CreateOrder(context.Background(), request("C1", domain.ProductQuantity{ID: "P2", Quantity: 2}))
	require.NoError(t, err)

	pending := f.store.Outbox().AllPending()
	require.Len(t, pending, 1)
	assert.Equal(t, domain.AggregateTypeOrder, pending[0].AggregateType)
	assert.Equal(t, domain.EventTypeOrderCreated, pending[0].EventType)
	assert.Equal(t, order.ID, pending[0].AggregateID)

	var payload ordering.OrderCreatedPayload
	require.NoError(t, json.Unmarshal(pending[0].Payload, &payload))
	assert.Equal(t, order.ID, payload.OrderID)
	assert.Equal(t, int64(300), payload.AmountMinor)
	require.Len(t, payload.Items, 1)
	assert.Equal(t, ordering.OrderItemPayload{ProductID: "P2", PriceMinor: 150, Qty: 2}, payload.Items[0])
}

func TestCreateOrder_EventUsesServiceClock(t *testing.T) {
	occurred := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	f := newFixture(t, ordering.WithClock(func() time.Time { return occurred }))

	_, err := f.svc.CreateOrder(context.Background(), request("C1", domain.ProductQuantity{ID: "P1", Quantity: 1}))
	require.NoError(t, err)

	pending := f.store.Outbox().AllPending()
	require.Len(t, pending, 1)
	var payload ordering.OrderCreatedPayload
	require.NoError(t, json.Unmarshal(pending[0].Payload, &payload))
	assert.True(t, occurred.Equal(payload.OccurredAt), "occurred_at=%s", payload.OccurredAt)
}

func TestCreateOrder_ConcurrentOrdersNeverOversell(t *testing.T) {
	f := newFixture(t)

	const workers = 12
	var (
		wg       sync.WaitGroup
		created  atomic.Int32
		rejected atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateOrder(context.Background(), request("C1", domain.ProductQuantity{ID: "P1", Quantity: 1}))
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), created.Load())
	assert.Equal(t, int32(workers-5), rejected.Load())
	assert.Equal(t, int64(0), f.stock(t, "P1"))

	orders, err := f.store.Orders().ListByCustomer(context.Background(), "C1", 0)
	require.NoError(t, err)
	assert.Len(t, orders, 5)
}
