package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// ErrCustomerNotFound возвращается, если клиент не найден в хранилище.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrEmptyProductSet: ни один из запрошенных товаров не найден (или список пуст).
	ErrEmptyProductSet = errors.New("products can not be empty")
	// ErrProductNotFound: часть запрошенных товаров не существует.
	ErrProductNotFound = errors.New("product not found")
	// ErrInsufficientStock: остатка товара не хватает для заказа.
	ErrInsufficientStock = errors.New("insufficient stock")
	// Ошибка при некорректном количестве товара в запросе (<= 0).
	ErrInvalidQuantity = errors.New("product quantity must be greater than zero")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("amount_minor must be non-negative")
	// Ошибка при некорректном количестве в позиции заказа.
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order amount does not match items sum")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists сигнализирует о повторной вставке заказа с тем же ID.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrProductAlreadyExists и ErrCustomerAlreadyExists используются при заведении справочников.
	ErrProductAlreadyExists  = errors.New("product already exists")
	ErrCustomerAlreadyExists = errors.New("customer already exists")
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
)

// InsufficientStockError описывает товар, остатка которого не хватило.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Available   int64
	Requested   int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient quantity in product '%s'", e.ProductName)
}

// Unwrap позволяет матчить ошибку через errors.Is(err, ErrInsufficientStock).
func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// UnknownProductsError перечисляет идентификаторы, которых нет в каталоге.
type UnknownProductsError struct {
	IDs []string
}

func (e *UnknownProductsError) Error() string {
	return fmt.Sprintf("%s: %s", ErrProductNotFound.Error(), strings.Join(e.IDs, ", "))
}

func (e *UnknownProductsError) Unwrap() error {
	return ErrProductNotFound
}

// IsValidationError сообщает, является ли ошибка пользовательской (не инфраструктурной).
// Такие ошибки не имеет смысла повторять.
func IsValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrCustomerRequired),
		errors.Is(err, ErrCustomerNotFound),
		errors.Is(err, ErrEmptyProductSet),
		errors.Is(err, ErrProductNotFound),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrInvalidQuantity):
		return true
	default:
		return false
	}
}

// IsIdempotencyConflict проверяет, что ошибка связана с повторным использованием ключа.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
