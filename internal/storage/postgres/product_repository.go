package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type productRepository struct {
	db *sqlx.DB
	q  sqlx.ExtContext
}

type productRow struct {
	ID         string    `db:"id"`
	Name       string    `db:"name"`
	PriceMinor int64     `db:"price_minor"`
	Quantity   int64     `db:"quantity"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (row productRow) toDomain() domain.Product {
	return domain.Product{
		ID:         row.ID,
		Name:       row.Name,
		PriceMinor: row.PriceMinor,
		Quantity:   row.Quantity,
		CreatedAt:  row.CreatedAt.UTC(),
		UpdatedAt:  row.UpdatedAt.UTC(),
	}
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return store.Products()
}

// FindAllByID загружает товары одним запросом и возвращает их в порядке запроса.
func (r *productRepository) FindAllByID(ctx context.Context, items []domain.ProductQuantity) ([]domain.Product, error) {
	if len(items) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query, args, err := sqlx.In(`
		SELECT id, name, price_minor, quantity, created_at, updated_at
		FROM products
		WHERE id IN (?)
	`, domain.ProductIDs(items))
	if err != nil {
		return nil, fmt.Errorf("build products query: %w", err)
	}

	var rows []productRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, r.q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}

	byID := make(map[string]productRow, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}

	result := make([]domain.Product, 0, len(rows))
	for _, item := range items {
		row, ok := byID[item.ID]
		if !ok {
			continue
		}
		result = append(result, row.toDomain())
		delete(byID, item.ID)
	}
	return result, nil
}

// UpdateQuantity списывает остатки условным UPDATE: строка меняется, только если
// остатка хватает. Вне единицы работы списание выполняется в собственной транзакции.
func (r *productRepository) UpdateQuantity(ctx context.Context, items []domain.ProductQuantity) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	decrements := mergeDecrements(items)
	now := time.Now().UTC()

	return withTx(ctx, r.db, r.q, func(q sqlx.ExtContext) error {
		for _, item := range decrements {
			res, err := q.ExecContext(ctx, `
				UPDATE products
				SET quantity = quantity - $2,
				    updated_at = $3
				WHERE id = $1
				  AND quantity >= $2
			`, item.ID, item.Quantity, now)
			if err != nil {
				return fmt.Errorf("decrement product %s: %w", item.ID, err)
			}

			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			if affected == 0 {
				return stockFailure(ctx, q, item)
			}
		}
		return nil
	})
}

// stockFailure уточняет причину неудачного списания.
func stockFailure(ctx context.Context, q sqlx.QueryerContext, item domain.ProductQuantity) error {
	var row productRow
	err := sqlx.GetContext(ctx, q, &row, `
		SELECT id, name, price_minor, quantity, created_at, updated_at
		FROM products
		WHERE id = $1
	`, item.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", domain.ErrProductNotFound, item.ID)
		}
		return fmt.Errorf("select product %s: %w", item.ID, err)
	}

	return &domain.InsufficientStockError{
		ProductID:   row.ID,
		ProductName: row.Name,
		Available:   row.Quantity,
		Requested:   item.Quantity,
	}
}

// mergeDecrements суммирует повторы и сортирует по id: строки блокируются
// в одном порядке во всех транзакциях.
func mergeDecrements(items []domain.ProductQuantity) []domain.ProductQuantity {
	totals := make(map[string]int64, len(items))
	for _, item := range items {
		totals[item.ID] += item.Quantity
	}

	result := make([]domain.ProductQuantity, 0, len(totals))
	for id, qty := range totals {
		result = append(result, domain.ProductQuantity{ID: id, Quantity: qty})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (r *productRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var row productRow
	err := sqlx.GetContext(ctx, r.q, &row, `
		SELECT id, name, price_minor, quantity, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return row.toDomain(), nil
}

func (r *productRepository) Create(ctx context.Context, product domain.Product) error {
	if product.Quantity < 0 {
		return fmt.Errorf("product %s: quantity must be non-negative", product.ID)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}

	_, err := sqlx.NamedExecContext(ctx, r.q, `
		INSERT INTO products (id, name, price_minor, quantity, created_at, updated_at)
		VALUES (:id, :name, :price_minor, :quantity, :created_at, :updated_at)
	`, productRow{
		ID:         product.ID,
		Name:       product.Name,
		PriceMinor: product.PriceMinor,
		Quantity:   product.Quantity,
		CreatedAt:  product.CreatedAt,
		UpdatedAt:  now,
	})
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrProductAlreadyExists
		}
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

var _ domain.ProductRepository = (*productRepository)(nil)
