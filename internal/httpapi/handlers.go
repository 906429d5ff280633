package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	storefrontv1 "github.com/vladislavdragonenkov/storefront/api/storefront/v1"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/ordering"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	maxBodyBytes     = 1 << 20
)

type handlers struct {
	creator OrderCreator
	orders  domain.OrderRepository
	logger  *log.Entry
}

// errorBody: тело ответа с ошибкой.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// POST /v1/orders
func (h *handlers) createOrder(w http.ResponseWriter, r *http.Request) {
	var req storefrontv1.CreateOrderRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	products := make([]domain.ProductQuantity, 0, len(req.Products))
	for _, p := range req.Products {
		if p == nil {
			h.writeError(w, http.StatusBadRequest, "bad_request", "products must not contain null")
			return
		}
		products = append(products, domain.ProductQuantity{ID: p.ProductId, Quantity: p.Quantity})
	}

	order, err := h.creator.CreateOrder(r.Context(), ordering.CreateOrderRequest{
		CustomerID: req.CustomerId,
		Products:   products,
	})
	if err != nil {
		h.writeDomainError(w, err, "failed to create order")
		return
	}

	h.writeJSON(w, http.StatusCreated, &storefrontv1.CreateOrderResponse{Order: toAPIOrder(order)})
}

// GET /v1/orders/{orderID}
func (h *handlers) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.Get(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeDomainError(w, err, "failed to load order")
		return
	}
	h.writeJSON(w, http.StatusOK, &storefrontv1.GetOrderResponse{Order: toAPIOrder(order)})
}

// GET /v1/customers/{customerID}/orders?limit=N
func (h *handlers) listOrders(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeError(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxListLimit)
	}

	orders, err := h.orders.ListByCustomer(r.Context(), chi.URLParam(r, "customerID"), limit)
	if err != nil {
		h.writeDomainError(w, err, "failed to list orders")
		return
	}

	resp := &storefrontv1.ListOrdersResponse{Orders: make([]*storefrontv1.Order, 0, len(orders))}
	for _, order := range orders {
		resp.Orders = append(resp.Orders, toAPIOrder(order))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) writeDomainError(w http.ResponseWriter, err error, internalMsg string) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).Error(internalMsg)
		h.writeError(w, status, code, internalMsg)
		return
	}
	h.writeError(w, status, code, err.Error())
}

// classify возвращает HTTP-статус и машинный код для ошибки.
func classify(err error) (int, string) {
	var stockErr *domain.InsufficientStockError
	switch {
	case errors.Is(err, domain.ErrCustomerNotFound):
		return http.StatusNotFound, "customer_not_found"
	case errors.Is(err, domain.ErrProductNotFound):
		return http.StatusNotFound, "product_not_found"
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, "order_not_found"
	case errors.As(err, &stockErr):
		return http.StatusConflict, "insufficient_stock"
	case errors.Is(err, domain.ErrEmptyProductSet):
		return http.StatusUnprocessableEntity, "empty_product_set"
	case errors.Is(err, domain.ErrInvalidQuantity):
		return http.StatusUnprocessableEntity, "invalid_quantity"
	case errors.Is(err, domain.ErrCustomerRequired):
		return http.StatusUnprocessableEntity, "customer_required"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Warn("failed to encode JSON response")
	}
}

func (h *handlers) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, errorBody{Error: message, Code: code})
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
