// Package storefrontv1 описывает gRPC API оформления заказов.
// Сообщения передаются в JSON (см. codec.go), поэтому описаны обычными Go-структурами.
package storefrontv1

import "time"

// ProductQuantity: строка запроса: товар и количество.
type ProductQuantity struct {
	ProductId string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

// OrderItem: позиция заказа с ценой на момент оформления.
type OrderItem struct {
	Id         string `json:"id"`
	ProductId  string `json:"product_id"`
	PriceMinor int64  `json:"price_minor"`
	Qty        int64  `json:"qty"`
}

// Order: оформленный заказ.
type Order struct {
	Id          string       `json:"id"`
	CustomerId  string       `json:"customer_id"`
	AmountMinor int64        `json:"amount_minor"`
	Items       []*OrderItem `json:"items"`
	CreatedAt   time.Time    `json:"created_at"`
}

type CreateOrderRequest struct {
	CustomerId string             `json:"customer_id"`
	Products   []*ProductQuantity `json:"products"`
}

type CreateOrderResponse struct {
	Order *Order `json:"order"`
}

type GetOrderRequest struct {
	OrderId string `json:"order_id"`
}

type GetOrderResponse struct {
	Order *Order `json:"order"`
}

type ListOrdersRequest struct {
	CustomerId string `json:"customer_id"`
	PageSize   int32  `json:"page_size"`
}

type ListOrdersResponse struct {
	Orders []*Order `json:"orders"`
}

func (x *CreateOrderRequest) GetCustomerId() string {
	if x != nil {
		return x.CustomerId
	}
	return ""
}

func (x *CreateOrderRequest) GetProducts() []*ProductQuantity {
	if x != nil {
		return x.Products
	}
	return nil
}

func (x *GetOrderRequest) GetOrderId() string {
	if x != nil {
		return x.OrderId
	}
	return ""
}

func (x *ListOrdersRequest) GetCustomerId() string {
	if x != nil {
		return x.CustomerId
	}
	return ""
}

func (x *ListOrdersRequest) GetPageSize() int32 {
	if x != nil {
		return x.PageSize
	}
	return 0
}

func (x *CreateOrderResponse) GetOrder() *Order {
	if x != nil {
		return x.Order
	}
	return nil
}

func (x *GetOrderResponse) GetOrder() *Order {
	if x != nil {
		return x.Order
	}
	return nil
}

func (x *ListOrdersResponse) GetOrders() []*Order {
	if x != nil {
		return x.Orders
	}
	return nil
}
