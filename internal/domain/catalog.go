package domain

import "time"

// Customer: клиент магазина. Для оформления заказа важен только факт существования.
type Customer struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
}

// Product: товар каталога с текущей ценой и остатком.
type Product struct {
	ID   string
	Name string
	// PriceMinor: текущая цена за единицу в минимальных денежных единицах.
	PriceMinor int64
	// Quantity: доступный остаток, не может быть отрицательным.
	Quantity  int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasStock проверяет, хватает ли остатка на qty единиц.
func (p Product) HasStock(qty int64) bool {
	return p.Quantity >= qty
}

// ProductQuantity: пара (товар, количество): строка запроса и команда списания остатка.
type ProductQuantity struct {
	ID       string
	Quantity int64
}

// ProductIDs возвращает идентификаторы в исходном порядке.
func ProductIDs(items []ProductQuantity) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}
