package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// productRepositoryInMemory хранит каталог в памяти. Проверка и списание
// остатков выполняются под одной блокировкой.
type productRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Product
}

// NewProductRepository возвращает in-memory каталог товаров.
func NewProductRepository() domain.ProductRepository {
	return newProductRepository()
}

func newProductRepository() *productRepositoryInMemory {
	return &productRepositoryInMemory{items: make(map[string]domain.Product)}
}

// FindAllByID возвращает найденные товары в порядке запроса; повторы не дублируются.
func (r *productRepositoryInMemory) FindAllByID(_ context.Context, items []domain.ProductQuantity) ([]domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(items))
	result := make([]domain.Product, 0, len(items))
	for _, item := range items {
		if _, dup := seen[item.ID]; dup {
			continue
		}
		seen[item.ID] = struct{}{}

		if product, ok := r.items[item.ID]; ok {
			result = append(result, product)
		}
	}
	return result, nil
}

// UpdateQuantity списывает остатки атомарно: либо все позиции, либо ни одной.
func (r *productRepositoryInMemory) UpdateQuantity(_ context.Context, items []domain.ProductQuantity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Сначала проверяем всё с учётом повторов, затем применяем.
	need := make(map[string]int64, len(items))
	for _, item := range items {
		need[item.ID] += item.Quantity
	}
	for _, item := range items {
		product, ok := r.items[item.ID]
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrProductNotFound, item.ID)
		}
		if !product.HasStock(need[item.ID]) {
			return &domain.InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Available:   product.Quantity,
				Requested:   need[item.ID],
			}
		}
	}

	now := time.Now().UTC()
	for _, item := range items {
		product := r.items[item.ID]
		product.Quantity -= item.Quantity
		product.UpdatedAt = now
		r.items[item.ID] = product
	}
	return nil
}

// restore возвращает остатки обратно (откат единицы работы).
func (r *productRepositoryInMemory) restore(items []domain.ProductQuantity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, item := range items {
		product, ok := r.items[item.ID]
		if !ok {
			continue
		}
		product.Quantity += item.Quantity
		r.items[item.ID] = product
	}
}

func (r *productRepositoryInMemory) Get(_ context.Context, id string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.items[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

func (r *productRepositoryInMemory) Create(_ context.Context, product domain.Product) error {
	if product.Quantity < 0 {
		return fmt.Errorf("product %s: quantity must be non-negative", product.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[product.ID]; exists {
		return domain.ErrProductAlreadyExists
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now
	r.items[product.ID] = product
	return nil
}

var _ domain.ProductRepository = (*productRepositoryInMemory)(nil)
