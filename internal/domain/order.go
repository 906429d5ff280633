package domain

import "time"

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	// ID позиции нужен для однозначной идентификации и аудита.
	ID      string
	OrderID string
	// ProductID: ссылка на товар каталога (товар заказу не принадлежит).
	ProductID string
	// PriceMinor: цена за единицу на момент оформления, в минимальных денежных единицах.
	// После создания заказа не меняется, даже если цена товара в каталоге изменилась.
	PriceMinor int64
	// Qty: количество единиц товара.
	Qty       int64
	CreatedAt time.Time
}

// Order агрегирует заказ клиента и его позиции.
type Order struct {
	ID          string
	CustomerID  string
	AmountMinor int64
	Items       []OrderItem
	CreatedAt   time.Time
}

// NewOrder собирает агрегат заказа: проставляет идентификаторы позиций,
// считает итоговую сумму и проверяет инварианты.
func NewOrder(id, customerID string, items []OrderItem, now time.Time, newID func() string) (Order, []error) {
	order := Order{
		ID:         id,
		CustomerID: customerID,
		Items:      make([]OrderItem, 0, len(items)),
		CreatedAt:  now,
	}

	for _, item := range items {
		if item.ID == "" {
			item.ID = newID()
		}
		item.OrderID = id
		item.CreatedAt = now
		order.AmountMinor += item.Qty * item.PriceMinor
		order.Items = append(order.Items, item)
	}

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return Order{}, errs
	}
	return order, nil
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем сумму заказа с суммой позиций: qty * price.
	var calc int64
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc += item.Qty * item.PriceMinor
	}
	if calc != o.AmountMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}
