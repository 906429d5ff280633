package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type customerRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Customer
}

// NewCustomerRepository возвращает in-memory справочник клиентов.
func NewCustomerRepository() domain.CustomerRepository {
	return newCustomerRepository()
}

func newCustomerRepository() *customerRepositoryInMemory {
	return &customerRepositoryInMemory{items: make(map[string]domain.Customer)}
}

func (r *customerRepositoryInMemory) FindByID(_ context.Context, id string) (domain.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	customer, ok := r.items[id]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return customer, nil
}

func (r *customerRepositoryInMemory) Create(_ context.Context, customer domain.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[customer.ID]; exists {
		return domain.ErrCustomerAlreadyExists
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	r.items[customer.ID] = customer
	return nil
}

var _ domain.CustomerRepository = (*customerRepositoryInMemory)(nil)
