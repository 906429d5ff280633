package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type orderRepository struct {
	db  *sqlx.DB
	q   sqlx.ExtContext
	now func() time.Time
}

type orderRow struct {
	ID          string    `db:"id"`
	CustomerID  string    `db:"customer_id"`
	AmountMinor int64     `db:"amount_minor"`
	CreatedAt   time.Time `db:"created_at"`
}

type orderItemRow struct {
	ID         string    `db:"id"`
	OrderID    string    `db:"order_id"`
	ProductID  string    `db:"product_id"`
	Position   int       `db:"position"`
	PriceMinor int64     `db:"price_minor"`
	Qty        int64     `db:"qty"`
	CreatedAt  time.Time `db:"created_at"`
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return store.Orders()
}

// Create сохраняет заказ и его позиции; вне единицы работы использует собственную транзакцию.
func (r *orderRepository) Create(ctx context.Context, customer domain.Customer, items []domain.OrderItem) (domain.Order, error) {
	order, errs := domain.NewOrder(uuid.NewString(), customer.ID, items, r.clock().Truncate(time.Microsecond), uuid.NewString)
	if len(errs) > 0 {
		return domain.Order{}, errors.Join(errs...)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows := make([]orderItemRow, 0, len(order.Items))
	for i, item := range order.Items {
		rows = append(rows, orderItemRow{
			ID:         item.ID,
			OrderID:    order.ID,
			ProductID:  item.ProductID,
			Position:   i,
			PriceMinor: item.PriceMinor,
			Qty:        item.Qty,
			CreatedAt:  item.CreatedAt,
		})
	}

	err := withTx(ctx, r.db, r.q, func(q sqlx.ExtContext) error {
		_, err := sqlx.NamedExecContext(ctx, q, `
			INSERT INTO orders (id, customer_id, amount_minor, created_at)
			VALUES (:id, :customer_id, :amount_minor, :created_at)
		`, orderRow{
			ID:          order.ID,
			CustomerID:  order.CustomerID,
			AmountMinor: order.AmountMinor,
			CreatedAt:   order.CreatedAt,
		})
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrOrderAlreadyExists
			}
			return fmt.Errorf("insert order: %w", err)
		}

		// Позиции вставляются одним batch-запросом.
		if _, err := sqlx.NamedExecContext(ctx, q, `
			INSERT INTO order_items (id, order_id, product_id, position, price_minor, qty, created_at)
			VALUES (:id, :order_id, :product_id, :position, :price_minor, :qty, :created_at)
		`, rows); err != nil {
			return fmt.Errorf("insert order items: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	return order, nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var row orderRow
	err := sqlx.GetContext(ctx, r.q, &row, `
		SELECT id, customer_id, amount_minor, created_at
		FROM orders
		WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	orders, err := r.attachItems(ctx, []orderRow{row})
	if err != nil {
		return domain.Order{}, err
	}
	return orders[0], nil
}

func (r *orderRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
		SELECT id, customer_id, amount_minor, created_at
		FROM orders
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC
	`
	args := []any{customerID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	var rows []orderRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	if len(rows) == 0 {
		return []domain.Order{}, nil
	}

	return r.attachItems(ctx, rows)
}

// attachItems загружает позиции всех заказов одним запросом.
func (r *orderRepository) attachItems(ctx context.Context, rows []orderRow) ([]domain.Order, error) {
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}

	query, args, err := sqlx.In(`
		SELECT id, order_id, product_id, position, price_minor, qty, created_at
		FROM order_items
		WHERE order_id IN (?)
		ORDER BY order_id, position
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("build order items query: %w", err)
	}

	var items []orderItemRow
	if err := sqlx.SelectContext(ctx, r.q, &items, r.q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}

	byOrder := make(map[string][]domain.OrderItem, len(rows))
	for _, item := range items {
		byOrder[item.OrderID] = append(byOrder[item.OrderID], domain.OrderItem{
			ID:         item.ID,
			OrderID:    item.OrderID,
			ProductID:  item.ProductID,
			PriceMinor: item.PriceMinor,
			Qty:        item.Qty,
			CreatedAt:  item.CreatedAt.UTC(),
		})
	}

	orders := make([]domain.Order, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, domain.Order{
			ID:          row.ID,
			CustomerID:  row.CustomerID,
			AmountMinor: row.AmountMinor,
			Items:       byOrder[row.ID],
			CreatedAt:   row.CreatedAt.UTC(),
		})
	}
	return orders, nil
}

func (r *orderRepository) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now().UTC()
}

var _ domain.OrderRepository = (*orderRepository)(nil)
