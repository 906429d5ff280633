package domain

import "time"

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing: запрос принят и ещё обрабатывается.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone: заказ оформлен, ответ сохранён для повторов.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed: обработка завершилась ошибкой, ошибка сохранена для повторов.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// IdempotencyRecord хранит результат обработки запроса с idempotency-key.
type IdempotencyRecord struct {
	Key         string
	RequestHash string
	// ResponseBody: JSON ответа (или payload ошибки для failed).
	ResponseBody []byte
	// StatusCode: код gRPC-статуса, с которым завершился запрос.
	StatusCode int
	Status     IdempotencyStatus
	TTLAt      time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// Expired сообщает, истёк ли срок хранения записи к моменту now.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.After(now)
}
