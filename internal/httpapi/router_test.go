package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storefrontv1 "github.com/vladislavdragonenkov/storefront/api/storefront/v1"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/httpapi"
	"github.com/vladislavdragonenkov/storefront/internal/service/ordering"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type failingCreator struct{ err error }

func (f failingCreator) CreateOrder(context.Context, ordering.CreateOrderRequest) (domain.Order, error) {
	return domain.Order{}, f.err
}

func testLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "test")
}

func newTestRouter(t *testing.T) (http.Handler, *memory.Store) {
	t.Helper()
	ctx := context.Background()

	store := memory.NewStore()
	require.NoError(t, store.Customers().Create(ctx, domain.Customer{ID: "C1", Name: "Alice"}))
	require.NoError(t, store.Products().Create(ctx, domain.Product{ID: "P1", Name: "Notebook", PriceMinor: 1000, Quantity: 5}))
	require.NoError(t, store.Products().Create(ctx, domain.Product{ID: "P2", Name: "Pencil", PriceMinor: 150, Quantity: 10}))

	healthHandler := health.NewHandler("test")
	healthHandler.RegisterChecker("storage", health.NewSimpleChecker("storage", func(context.Context) error { return nil }))

	router := httpapi.NewRouter(httpapi.Config{
		Creator:        ordering.NewService(store.Customers(), store.Products(), store, ordering.WithLogger(testLogger())),
		Orders:         store.Orders(),
		Health:         healthHandler,
		AllowedOrigins: []string{"https://shop.example"},
		Logger:         testLogger(),
	})
	return router, store
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestCreateOrder_Created(t *testing.T) {
	router, store := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/v1/orders",
		`{"customer_id":"C1","products":[{"product_id":"P1","quantity":2},{"product_id":"P2","quantity":1}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp storefrontv1.CreateOrderResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Order)
	assert.Equal(t, int64(2150), resp.Order.AmountMinor)
	require.Len(t, resp.Order.Items, 2)
	assert.Equal(t, "P1", resp.Order.Items[0].ProductId)

	p1, err := store.Products().Get(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), p1.Quantity)
}

func TestCreateOrder_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"malformed json", `{"customer_id":`, http.StatusBadRequest, "bad_request"},
		{"unknown field", `{"customer":"C1"}`, http.StatusBadRequest, "bad_request"},
		{"null product", `{"customer_id":"C1","products":[null]}`, http.StatusBadRequest, "bad_request"},
		{"unknown customer", `{"customer_id":"C9","products":[{"product_id":"P1","quantity":1}]}`, http.StatusNotFound, "customer_not_found"},
		{"unknown product", `{"customer_id":"C1","products":[{"product_id":"P1","quantity":1},{"product_id":"X","quantity":1}]}`, http.StatusNotFound, "product_not_found"},
		{"insufficient stock", `{"customer_id":"C1","products":[{"product_id":"P1","quantity":6}]}`, http.StatusConflict, "insufficient_stock"},
		{"only unknown products", `{"customer_id":"C1","products":[{"product_id":"X","quantity":1}]}`, http.StatusUnprocessableEntity, "empty_product_set"},
		{"empty products", `{"customer_id":"C1","products":[]}`, http.StatusUnprocessableEntity, "empty_product_set"},
		{"zero quantity", `{"customer_id":"C1","products":[{"product_id":"P1","quantity":0}]}`, http.StatusUnprocessableEntity, "invalid_quantity"},
		{"missing customer", `{"products":[{"product_id":"P1","quantity":1}]}`, http.StatusUnprocessableEntity, "customer_required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newTestRouter(t)
			rec := do(t, router, http.MethodPost, "/v1/orders", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			body := decodeError(t, rec)
			assert.Equal(t, tt.code, body.Code)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestCreateOrder_InsufficientStockMessage(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/v1/orders", `{"customer_id":"C1","products":[{"product_id":"P1","quantity":6}]}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decodeError(t, rec).Error, "insufficient quantity in product 'Notebook'")
}

func TestCreateOrder_InternalErrorHidesDetails(t *testing.T) {
	router := httpapi.NewRouter(httpapi.Config{
		Creator: failingCreator{err: errors.New("dial tcp 10.0.0.7:5432: refused")},
		Orders:  memory.NewOrderRepository(),
		Logger:  testLogger(),
	})

	rec := do(t, router, http.MethodPost, "/v1/orders", `{"customer_id":"C1","products":[{"product_id":"P1","quantity":1}]}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "internal", body.Code)
	assert.NotContains(t, body.Error, "10.0.0.7")
}

func TestGetAndListOrders(t *testing.T) {
	router, _ := newTestRouter(t)

	created := do(t, router, http.MethodPost, "/v1/orders", `{"customer_id":"C1","products":[{"product_id":"P2","quantity":2}]}`)
	require.Equal(t, http.StatusCreated, created.Code)
	var createResp storefrontv1.CreateOrderResponse
	require.NoError(t, json.NewDecoder(created.Body).Decode(&createResp))
	orderID := createResp.Order.Id

	second := do(t, router, http.MethodPost, "/v1/orders", `{"customer_id":"C1","products":[{"product_id":"P1","quantity":1}]}`)
	require.Equal(t, http.StatusCreated, second.Code)

	rec := do(t, router, http.MethodGet, "/v1/orders/"+orderID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var getResp storefrontv1.GetOrderResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&getResp))
	assert.Equal(t, orderID, getResp.Order.Id)
	assert.Equal(t, int64(300), getResp.Order.AmountMinor)

	rec = do(t, router, http.MethodGet, "/v1/customers/C1/orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listResp storefrontv1.ListOrdersResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listResp))
	assert.Len(t, listResp.Orders, 2)

	rec = do(t, router, http.MethodGet, "/v1/customers/C1/orders?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	listResp = storefrontv1.ListOrdersResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listResp))
	assert.Len(t, listResp.Orders, 1)
}

func TestGetOrder_NotFoundAndBadLimit(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, http.MethodGet, "/v1/orders/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "order_not_found", decodeError(t, rec).Code)

	rec = do(t, router, http.MethodGet, "/v1/customers/C1/orders?limit=-3", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOpsRoutes(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, path := range []string{"/livez", "/readyz", "/healthz", "/metrics"} {
		rec := do(t, router, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestCORSPreflight(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/v1/orders", bytes.NewReader(nil))
	req.Header.Set("Origin", "https://shop.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "https://shop.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
